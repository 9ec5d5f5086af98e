package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketsales/internal/config"
	"marketsales/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
)

const DefaultPageSize = 40

// Query over the marketplace gateway. The feed returns pages ordered
// newest-first; callers (backfill early exit, poll reversal) depend on
// that ordering as a contract.
const soldAssetsQuery = `query SoldAssets($tokenAddress: String!, $size: Int!, $from: Int!) {
  recentlySolds(size: $size, tokenAddress: $tokenAddress, from: $from) {
    results {
      maker
      matcher
      paymentToken
      realPrice
      timestamp
      txHash
      orderId
      orderKind
      quantity
      assets {
        id
      }
    }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		RecentlySolds struct {
			Results []domain.RawSaleEvent `json:"results"`
		} `json:"recentlySolds"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Client posts the paginated sold-assets query to the marketplace gateway.
type Client struct {
	log logger.Logger

	httpc        *http.Client
	url          string
	apiKey       string
	pageSize     int
	maxRetries   int
	retryBackoff time.Duration
}

func NewClient(log logger.Logger, cfg *config.FeedConfig, apiKey string) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("feed config is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed url is required")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &Client{
		log:          log,
		httpc:        &http.Client{Timeout: timeout},
		url:          cfg.URL,
		apiKey:       apiKey,
		pageSize:     pageSize,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: backoff,
	}, nil
}

func (c *Client) PageSize() int {
	return c.pageSize
}

// FetchPage returns one page of sale events for the collection at the
// given offset, newest first. Each attempt that fails with a transport
// error or non-2xx status is retried up to max_retries times.
func (c *Client) FetchPage(ctx context.Context, tokenAddress string, offset int) ([]domain.RawSaleEvent, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryBackoff):
			}
		}

		events, err := c.fetchOnce(ctx, tokenAddress, offset)
		if err == nil {
			return events, nil
		}
		lastErr = err
		c.log.Warnf("Feed fetch failed (offset=%d, attempt=%d): %v", offset, attempt+1, err)
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, tokenAddress string, offset int) ([]domain.RawSaleEvent, error) {
	body, err := json.Marshal(graphqlRequest{
		Query: soldAssetsQuery,
		Variables: map[string]any{
			"tokenAddress": tokenAddress,
			"size":         c.pageSize,
			"from":         offset,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned status %d: %s", resp.StatusCode, snippet)
	}

	var out graphqlResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("feed query error: %s", out.Errors[0].Message)
	}

	return out.Data.RecentlySolds.Results, nil
}

// CategoryFeed binds a client to one collection so pipelines only deal
// with offsets.
type CategoryFeed struct {
	client       *Client
	tokenAddress string
}

func ForCategory(client *Client, tokenAddress string) *CategoryFeed {
	return &CategoryFeed{client: client, tokenAddress: tokenAddress}
}

func (f *CategoryFeed) FetchPage(ctx context.Context, offset int) ([]domain.RawSaleEvent, error) {
	return f.client.FetchPage(ctx, f.tokenAddress, offset)
}

func (f *CategoryFeed) PageSize() int {
	return f.client.PageSize()
}
