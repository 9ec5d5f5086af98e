package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"marketsales/internal/domain"
	"marketsales/internal/window"

	"gitlab.com/nevasik7/alerting/logger"
)

// Ledger owns the sale records of exactly one (category, window) pair and
// their CSV backing store. All mutation is single-goroutine by design: one
// pipeline per category, strictly sequential.
type Ledger struct {
	log logger.Logger

	cat  domain.Category
	win  window.Window
	path string

	records []domain.SaleRecord
	seen    map[string]struct{}
}

// Open ensures the backing store for the window exists (creating an empty
// file with header if absent), loads the persisted records and rebuilds the
// dedup set. A malformed file is quarantined and treated as empty; only
// filesystem-level failures are returned as errors.
func Open(log logger.Logger, root string, cat domain.Category, win window.Window) (*Ledger, error) {
	path := cat.BuyersFile(root, win.Start)

	l := &Ledger{
		log:  log,
		cat:  cat,
		win:  win,
		path: path,
		seen: make(map[string]struct{}, 256),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err = l.writeFile(nil); err != nil {
			return nil, fmt.Errorf("failed to create ledger file: %w", err)
		}
		log.Infof("Created new weekly ledger %s", path)
		return l, nil
	} else if err != nil {
		return nil, err
	}

	l.load()
	return l, nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Window() window.Window {
	return l.win
}

func (l *Ledger) Len() int {
	return len(l.records)
}

// Records returns a copy of the in-memory sequence.
func (l *Ledger) Records() []domain.SaleRecord {
	out := make([]domain.SaleRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Contains reports whether a record with the given dedup key was already
// appended or loaded.
func (l *Ledger) Contains(key string) bool {
	_, ok := l.seen[key]
	return ok
}

// Append adds the record to the in-memory sequence and the dedup set. It
// does not persist; call Flush after a mutation batch.
func (l *Ledger) Append(rec domain.SaleRecord) {
	l.records = append(l.records, rec)
	l.seen[l.cat.RecordKey(rec.TxHash, rec.AssetID, rec.Quantity)] = struct{}{}
}

// MaxTimestamp is the polling low-water mark: the highest persisted
// timestamp, or the window start when the ledger is empty.
func (l *Ledger) MaxTimestamp() int64 {
	maxTS := l.win.Start
	for i := range l.records {
		if l.records[i].Timestamp > maxTS {
			maxTS = l.records[i].Timestamp
		}
	}
	return maxTS
}

// Flush sorts records by timestamp descending and atomically rewrites the
// backing store (temp file + rename), so a concurrent reader never sees a
// torn file.
func (l *Ledger) Flush() error {
	sort.SliceStable(l.records, func(i, j int) bool {
		return l.records[i].Timestamp > l.records[j].Timestamp
	})
	return l.writeFile(l.records)
}

func (l *Ledger) writeFile(records []domain.SaleRecord) error {
	tmp := l.path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}

	w := csv.NewWriter(f)
	header := []string{"buyer", l.cat.IDColumn(), "price", "txHash", "timestamp"}
	writeErr := w.Write(header)
	for i := range records {
		if writeErr != nil {
			break
		}
		r := &records[i]
		writeErr = w.Write([]string{
			r.Buyer,
			l.cat.FormatID(r.AssetID, r.Quantity),
			r.Price,
			r.TxHash,
			strconv.FormatInt(r.Timestamp, 10),
		})
	}
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	if err = f.Close(); writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write ledger: %w", writeErr)
	}

	if err = os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// load reads the persisted form. Any malformed content quarantines the
// file and leaves the ledger empty; ingestion must never crash over a bad
// file.
func (l *Ledger) load() {
	f, err := os.Open(l.path)
	if err != nil {
		l.log.Errorf("Failed to open ledger %s: %v", l.path, err)
		return
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		l.log.Errorf("Failed to read ledger %s: %v", l.path, err)
		l.quarantine()
		return
	}
	if len(rows) == 0 {
		return
	}

	idx := columnIndex(rows[0])
	if idx.buyer < 0 || idx.id < 0 || idx.price < 0 || idx.txHash < 0 || idx.timestamp < 0 {
		l.log.Errorf("Ledger %s has unexpected header %v", l.path, rows[0])
		l.quarantine()
		return
	}

	for _, row := range rows[1:] {
		ts, err := strconv.ParseInt(row[idx.timestamp], 10, 64)
		if err != nil {
			l.log.Errorf("Ledger %s has malformed row %v: %v", l.path, row, err)
			l.quarantine()
			l.records = nil
			l.seen = make(map[string]struct{}, 256)
			return
		}

		assetID, qty := l.cat.ParseID(row[idx.id])
		l.Append(domain.SaleRecord{
			Buyer:     row[idx.buyer],
			AssetID:   assetID,
			Quantity:  qty,
			Price:     row[idx.price],
			TxHash:    row[idx.txHash],
			Timestamp: ts,
		})
	}

	l.log.Infof("Loaded %d records from %s", len(l.records), l.path)
}

// quarantine moves a broken file aside instead of silently overwriting it.
func (l *Ledger) quarantine() {
	bad := l.path + ".corrupt"
	if err := os.Rename(l.path, bad); err != nil {
		l.log.Errorf("Failed to quarantine ledger %s: %v", l.path, err)
		return
	}
	if err := l.writeFile(nil); err != nil {
		l.log.Errorf("Failed to recreate ledger after quarantine: %v", err)
	}
	l.log.Warnf("Quarantined corrupt ledger to %s", bad)
}

type colIdx struct {
	buyer, id, price, txHash, timestamp int
}

func columnIndex(header []string) colIdx {
	idx := colIdx{buyer: -1, id: -1, price: -1, txHash: -1, timestamp: -1}
	for i, name := range header {
		switch name {
		case "buyer":
			idx.buyer = i
		case "price":
			idx.price = i
		case "txHash":
			idx.txHash = i
		case "timestamp":
			idx.timestamp = i
		default:
			// the category id column carries a dynamic name
			if idx.id < 0 {
				idx.id = i
			}
		}
	}
	return idx
}
