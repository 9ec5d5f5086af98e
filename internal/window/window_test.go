package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrent_AnchorPlusTenDays(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2025, 2, 10, 13, 0, 0, 0, time.UTC)
	c := NewCalculator(anchor, 7*24*time.Hour)

	now := anchor.Add(10 * 24 * time.Hour)
	w := c.Current(now)

	assert.Equal(t, anchor.Add(7*24*time.Hour).Unix(), w.Start)
	assert.Equal(t, anchor.Add(14*24*time.Hour).Unix(), w.End)
}

func TestCurrent_BeforeAnchor(t *testing.T) {
	t.Parallel()

	c := NewCalculator(DefaultAnchor, DefaultLength)

	w := c.Current(DefaultAnchor.Add(-48 * time.Hour))

	assert.Equal(t, DefaultAnchor.Unix(), w.Start)
	assert.Equal(t, DefaultAnchor.Unix()+7*24*3600, w.End)
}

func TestCurrent_ExactlyOneWindowContainsNow(t *testing.T) {
	t.Parallel()

	c := NewCalculator(DefaultAnchor, DefaultLength)

	// probe across several window boundaries
	for d := 0; d < 30; d++ {
		now := DefaultAnchor.Add(time.Duration(d) * 24 * time.Hour).Add(time.Second)
		w := c.Current(now)
		require.True(t, w.Contains(now.Unix()), "day %d: window %+v must contain now", d, w)
		require.Equal(t, w.Start+7*24*3600, w.End)
		require.Zero(t, (w.Start-DefaultAnchor.Unix())%(7*24*3600))
	}
}

func TestCurrent_StartIsMonotonic(t *testing.T) {
	t.Parallel()

	c := NewCalculator(DefaultAnchor, DefaultLength)

	var prev int64
	for h := 0; h < 24*21; h++ {
		w := c.Current(DefaultAnchor.Add(time.Duration(h) * time.Hour))
		require.GreaterOrEqual(t, w.Start, prev)
		prev = w.Start
	}
}

func TestCurrent_BoundaryInstantBelongsToNewWindow(t *testing.T) {
	t.Parallel()

	c := NewCalculator(DefaultAnchor, DefaultLength)

	boundary := DefaultAnchor.Add(7 * 24 * time.Hour)
	w := c.Current(boundary)

	assert.Equal(t, boundary.Unix(), w.Start)

	prev := c.Current(boundary.Add(-time.Second))
	assert.Equal(t, prev.End, w.Start)
	assert.False(t, prev.Contains(boundary.Unix()))
}
