package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
app:
  data_dir: "./data"
  shutdown_timeout: 5s

logging:
  level: "debug"
  format: "console"

feed:
  url: "https://example.test/graphql"
  api_key_env: "SM_API_KEY"
  page_size: 40
  timeout: 15s

window:
  anchor: "2025-02-10T13:00:00Z"
  length: 168h

ingest:
  poll_interval: 30s

categories:
  - name: "packs"
    token_address: "0xpacks"
    with_quantity: true
  - name: "skins"
    token_address: "0xskins"

tokens:
  - address: "0xWETH"
    symbol: "WETH"
    decimals: 18
`

// --- tests ---

func TestLoad_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.App.DataDir)
	assert.Equal(t, 5*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, "https://example.test/graphql", cfg.Feed.URL)
	assert.Equal(t, 40, cfg.Feed.PageSize)
	assert.Equal(t, "2025-02-10T13:00:00Z", cfg.Window.Anchor)
	assert.Equal(t, 168*time.Hour, cfg.Window.Length)
	assert.Equal(t, 30*time.Second, cfg.Ingest.PollInterval)

	require.Len(t, cfg.Categories, 2)
	assert.True(t, cfg.Categories[0].WithQuantity)
	assert.False(t, cfg.Categories[1].WithQuantity)

	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, int32(18), cfg.Tokens[0].Decimals)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoad_MissingFeedURL(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
categories:
  - name: "packs"
    token_address: "0xpacks"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed.url")
}

func TestLoad_NoCategories(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
feed:
  url: "https://example.test/graphql"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "category")
}

func TestLoad_DuplicateCategory(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
feed:
  url: "https://example.test/graphql"
categories:
  - name: "packs"
    token_address: "0xa"
  - name: "packs"
    token_address: "0xb"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate category")
}

func TestLoad_CategoryWithoutAddress(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
feed:
  url: "https://example.test/graphql"
categories:
  - name: "packs"
`))
	assert.Error(t, err)
}
