package pipeline

import (
	"context"
	"time"

	"marketsales/internal/config"
	"marketsales/internal/domain"
	"marketsales/internal/ledger"
	"marketsales/internal/metrics"
	"marketsales/internal/window"

	"gitlab.com/nevasik7/alerting/logger"
)

// Feed is the paginated sale-event source. Pages are ordered newest-first;
// backfill's early exit and poll's page reversal are only correct while
// the collaborator upholds that ordering.
type Feed interface {
	FetchPage(ctx context.Context, offset int) ([]domain.RawSaleEvent, error)
	PageSize() int
}

// RecordSink receives every freshly ingested record (NATS broadcast,
// ClickHouse archive). Sink failures are logged and never abort ingestion.
type RecordSink interface {
	Ingest(ctx context.Context, category string, rec *domain.SaleRecord) error
}

// Pipeline is one category's ingestion state machine:
// INIT -> BACKFILLING -> POLLING -> ROTATING -> INIT, forever.
type Pipeline struct {
	log logger.Logger
	met *metrics.Set

	cat    domain.Category
	feed   Feed
	tokens domain.TokenTable
	calc   window.Calculator

	dataDir           string
	pollInterval      time.Duration
	backfillPageDelay time.Duration
	sinks             []RecordSink

	now func() time.Time
}

func New(
	log logger.Logger,
	met *metrics.Set,
	cat domain.Category,
	f Feed,
	tokens domain.TokenTable,
	calc window.Calculator,
	dataDir string,
	ing config.IngestConfig,
	sinks ...RecordSink,
) *Pipeline {
	pollInterval := ing.PollInterval
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}

	return &Pipeline{
		log:               log,
		met:               met,
		cat:               cat,
		feed:              f,
		tokens:            tokens,
		calc:              calc,
		dataDir:           dataDir,
		pollInterval:      pollInterval,
		backfillPageDelay: ing.BackfillPageDelay,
		sinks:             sinks,
		now:               time.Now,
	}
}

// Run cycles windows until the context is cancelled. Errors inside a cycle
// are logged and the loop continues; ingestion is never fatal.
func (p *Pipeline) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := p.runWindow(ctx); err != nil {
			p.log.Errorf("Window cycle failed for %s: %v", p.cat.Name, err)
			if !p.sleep(ctx, p.pollInterval) {
				return
			}
		}
	}
}

func (p *Pipeline) runWindow(ctx context.Context) error {
	win := p.calc.Current(p.now())

	led, err := ledger.Open(p.log, p.dataDir, p.cat, win)
	if err != nil {
		return err
	}

	p.log.Infof("Backfilling %s for window [%d, %d)", p.cat.Name, win.Start, win.End)
	p.backfill(ctx, win, led)
	if err = led.Flush(); err != nil {
		p.log.Errorf("Failed to flush %s ledger after backfill: %v", p.cat.Name, err)
	} else {
		p.met.Flushes.WithLabelValues(p.cat.Name).Inc()
	}

	mark := led.MaxTimestamp()
	p.log.Infof("Polling %s from low-water mark %d", p.cat.Name, mark)

	for ctx.Err() == nil {
		if p.now().Unix() > win.End {
			break
		}

		newMark, err := p.poll(ctx, win, led, mark)
		if err != nil {
			p.met.PollErrors.WithLabelValues(p.cat.Name).Inc()
			p.log.Errorf("Poll failed for %s: %v", p.cat.Name, err)
		}
		mark = newMark

		if !p.sleep(ctx, p.pollInterval) {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	// window boundary passed: drop in-memory state, wait out one interval
	// so a poll never straddles the rollover, then start the next cycle
	p.met.Rotations.WithLabelValues(p.cat.Name).Inc()
	p.log.Infof("Window [%d, %d) ended for %s, rotating", win.Start, win.End, p.cat.Name)
	p.sleep(ctx, p.pollInterval)

	return nil
}

// ingestEvent normalizes one feed event into per-asset records, skipping
// anything already keyed in the ledger. Returns the freshly appended
// records.
func (p *Pipeline) ingestEvent(ev *domain.RawSaleEvent, led *ledger.Ledger) []domain.SaleRecord {
	tok, err := p.tokens.Resolve(ev.PaymentToken)
	if err != nil {
		p.met.UnmappedTokens.WithLabelValues(p.cat.Name).Inc()
		p.log.Warnf("Skipping %s sale %s: unmapped payment token %s", p.cat.Name, ev.TxHash, ev.PaymentToken)
		return nil
	}

	price, err := domain.FormatAmount(ev.RealPrice.String(), tok)
	if err != nil {
		p.log.Warnf("Skipping %s sale %s: bad price %q: %v", p.cat.Name, ev.TxHash, ev.RealPrice, err)
		return nil
	}

	buyer := ev.Buyer()
	qty := ev.UnitQuantity()

	var fresh []domain.SaleRecord
	for _, asset := range ev.Assets {
		if asset.ID == "" {
			continue
		}

		key := p.cat.RecordKey(ev.TxHash, asset.ID, qty)
		if led.Contains(key) {
			p.met.DuplicateSkips.WithLabelValues(p.cat.Name).Inc()
			continue
		}

		rec := domain.SaleRecord{
			Buyer:     buyer,
			AssetID:   asset.ID,
			Quantity:  qty,
			Price:     price,
			TxHash:    ev.TxHash,
			Timestamp: ev.Timestamp,
		}
		led.Append(rec)
		p.met.RecordsNew.WithLabelValues(p.cat.Name).Inc()
		fresh = append(fresh, rec)
	}

	return fresh
}

func (p *Pipeline) dispatch(ctx context.Context, recs []domain.SaleRecord) {
	for _, sink := range p.sinks {
		for i := range recs {
			if err := sink.Ingest(ctx, p.cat.Name, &recs[i]); err != nil {
				p.log.Errorf("Sink delivery failed for %s: %v", p.cat.Name, err)
			}
		}
	}
}

// sleep waits d or until cancellation; false means the context ended.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
