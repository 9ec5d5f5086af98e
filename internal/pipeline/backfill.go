package pipeline

import (
	"context"

	"marketsales/internal/ledger"
	"marketsales/internal/window"
)

// backfill walks feed pages from offset 0 until it meets an event older
// than the window start. Pages arrive newest-first, so everything past
// that point is provably outside the window and the walk stops mid-page.
//
// Re-running backfill against a populated ledger appends nothing: every
// candidate is checked against the dedup set first.
func (p *Pipeline) backfill(ctx context.Context, win window.Window, led *ledger.Ledger) {
	offset := 0

	for ctx.Err() == nil {
		events, err := p.feed.FetchPage(ctx, offset)
		p.met.PagesFetched.WithLabelValues(p.cat.Name).Inc()
		if err != nil {
			// a failed page reads as exhaustion; catch-up resumes on the
			// next poll cycle via the dedup set
			p.met.FetchErrors.WithLabelValues(p.cat.Name).Inc()
			p.log.Errorf("Backfill fetch failed for %s at offset %d: %v", p.cat.Name, offset, err)
			return
		}
		if len(events) == 0 {
			p.log.Infof("Backfill exhausted the feed for %s at offset %d", p.cat.Name, offset)
			return
		}

		for i := range events {
			ev := &events[i]
			if ev.TxHash == "" {
				continue
			}
			if ev.Timestamp < win.Start {
				p.log.Infof("Backfill for %s reached events older than window start", p.cat.Name)
				return
			}
			if ev.Timestamp > win.End {
				continue
			}

			if fresh := p.ingestEvent(ev, led); len(fresh) > 0 {
				p.dispatch(ctx, fresh)
			}
		}

		offset += p.feed.PageSize()

		if p.backfillPageDelay > 0 && !p.sleep(ctx, p.backfillPageDelay) {
			return
		}
	}
}
