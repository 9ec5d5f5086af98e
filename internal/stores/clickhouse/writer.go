package clickhouse

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketsales/internal/config"
	"marketsales/internal/domain"
	"marketsales/internal/window"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"
)

// SaleRow is the archive shape of one ledger record, one row per asset
// unit sold.
type SaleRow struct {
	EventTime   time.Time
	Category    string
	Buyer       string
	AssetID     string
	Quantity    uint32
	Price       string // formatted "<amount> <symbol>"
	TxHash      string
	WindowStart int64
}

// Writer batches sale rows into ClickHouse. Inserts are retried with
// exponential backoff; a batch that still fails is dropped after logging,
// the CSV ledger remains the system of record.
type Writer struct {
	log  logger.Logger
	conn ch.Conn
	calc window.Calculator
	cfg  config.ClickHouseWriterConfig

	inCh      chan SaleRow
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(log logger.Logger, conn ch.Conn, calc window.Calculator, cfg config.ClickHouseWriterConfig) *Writer {
	if cfg.BatchMaxRows <= 0 {
		cfg.BatchMaxRows = 1000
	}
	if cfg.BatchMaxInterval <= 0 {
		cfg.BatchMaxInterval = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:      log,
		conn:     conn,
		calc:     calc,
		cfg:      cfg,
		inCh:     make(chan SaleRow, 4096),
		closedCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

func (w *Writer) Enqueue(row SaleRow) error {
	select {
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	default:
	}

	select {
	case w.inCh <- row:
		return nil
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	}
}

// Ingest adapts the writer to the pipeline sink contract.
func (w *Writer) Ingest(_ context.Context, category string, rec *domain.SaleRecord) error {
	at := time.Unix(rec.Timestamp, 0).UTC()
	return w.Enqueue(SaleRow{
		EventTime:   at,
		Category:    category,
		Buyer:       rec.Buyer,
		AssetID:     rec.AssetID,
		Quantity:    uint32(rec.Quantity),
		Price:       rec.Price,
		TxHash:      rec.TxHash,
		WindowStart: w.calc.Current(at).Start,
	})
}

func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
		close(w.inCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]SaleRow, 0, w.cfg.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.Errorf("Failed to insert %d sale rows into clickhouse: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, rows []SaleRow) error {
	backoff := w.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		batch, err := w.conn.PrepareBatch(ctx, `
			INSERT INTO marketplace_sales (
				event_time,
				category,
				buyer,
				asset_id,
				quantity,
				price,
				tx_hash,
				window_start
			)
		`)
		if err != nil {
			lastErr = err
			continue
		}

		appendErr := false
		for i := range rows {
			r := &rows[i]
			if err = batch.Append(
				r.EventTime,
				r.Category,
				r.Buyer,
				r.AssetID,
				r.Quantity,
				r.Price,
				r.TxHash,
				r.WindowStart,
			); err != nil {
				lastErr = err
				_ = batch.Abort()
				appendErr = true
				break
			}
		}
		if appendErr {
			continue
		}

		if err = batch.Send(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return lastErr
}
