package pipeline

import (
	"context"

	"marketsales/internal/ledger"
	"marketsales/internal/window"
)

// poll re-walks feed pages looking for events newer than the low-water
// mark. Each page is processed oldest-first (reverse of fetch order) so
// the mark advances in timestamp order. A short page means the feed is
// exhausted. The ledger is flushed only when something new was found.
//
// Returns the new low-water mark, which never regresses. A flush failure
// is returned after the mark is advanced: the in-memory ledger stays
// authoritative until the next successful flush.
func (p *Pipeline) poll(ctx context.Context, win window.Window, led *ledger.Ledger, lowWater int64) (int64, error) {
	offset := 0
	newMark := lowWater
	found := 0

	for ctx.Err() == nil {
		events, err := p.feed.FetchPage(ctx, offset)
		p.met.PagesFetched.WithLabelValues(p.cat.Name).Inc()
		if err != nil {
			p.met.FetchErrors.WithLabelValues(p.cat.Name).Inc()
			p.log.Errorf("Poll fetch failed for %s at offset %d: %v", p.cat.Name, offset, err)
			break // treated as exhaustion
		}
		if len(events) == 0 {
			break
		}

		for i := len(events) - 1; i >= 0; i-- {
			ev := &events[i]
			if ev.Timestamp <= lowWater {
				continue
			}
			if ev.TxHash == "" {
				continue
			}
			if ev.Timestamp < win.Start || ev.Timestamp > win.End {
				continue
			}

			fresh := p.ingestEvent(ev, led)
			if len(fresh) == 0 {
				continue
			}
			found += len(fresh)
			if ev.Timestamp > newMark {
				newMark = ev.Timestamp
			}
			p.dispatch(ctx, fresh)
		}

		if len(events) < p.feed.PageSize() {
			break
		}
		offset += p.feed.PageSize()
	}

	if found == 0 {
		p.log.Debugf("No new %s sales found", p.cat.Name)
		return newMark, nil
	}

	if err := led.Flush(); err != nil {
		return newMark, err
	}
	p.met.Flushes.WithLabelValues(p.cat.Name).Inc()
	p.log.Infof("Recorded %d new %s sales, low-water mark now %d", found, p.cat.Name, newMark)

	return newMark, nil
}
