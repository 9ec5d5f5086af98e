package window

import "time"

// DefaultAnchor is the first accounting window's start instant.
var DefaultAnchor = time.Date(2025, 2, 10, 13, 0, 0, 0, time.UTC)

const DefaultLength = 7 * 24 * time.Hour

// Window is one fixed-length accounting period, [Start, End) in unix
// seconds. Windows are contiguous and non-overlapping.
type Window struct {
	Start int64
	End   int64
}

func (w Window) Contains(ts int64) bool {
	return ts >= w.Start && ts < w.End
}

// Calculator derives the current window from wall-clock time and the fixed
// anchor. Pure arithmetic, no state.
type Calculator struct {
	anchor int64
	length int64
}

func NewCalculator(anchor time.Time, length time.Duration) Calculator {
	if anchor.IsZero() {
		anchor = DefaultAnchor
	}
	if length <= 0 {
		length = DefaultLength
	}
	return Calculator{
		anchor: anchor.Unix(),
		length: int64(length / time.Second),
	}
}

// Length of one window.
func (c Calculator) Length() time.Duration {
	return time.Duration(c.length) * time.Second
}

// Current returns the unique window containing now, or the anchor window
// if now precedes the anchor.
func (c Calculator) Current(now time.Time) Window {
	n := now.Unix()
	start := c.anchor
	if n >= c.anchor {
		k := (n - c.anchor) / c.length
		start = c.anchor + k*c.length
	}
	return Window{Start: start, End: start + c.length}
}
