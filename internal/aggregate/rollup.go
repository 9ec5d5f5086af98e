package aggregate

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"marketsales/internal/domain"
	"marketsales/internal/window"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
)

// Rollup periodically reduces a category's current ledger into one row
// per buyer with a column per token symbol. It only ever reads the
// persisted CSV; the ingestion pipeline owns the ledger.
type Rollup struct {
	log logger.Logger

	cat      domain.Category
	dataDir  string
	calc     window.Calculator
	interval time.Duration

	now func() time.Time
}

func New(log logger.Logger, cat domain.Category, dataDir string, calc window.Calculator, interval time.Duration) *Rollup {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Rollup{
		log:      log,
		cat:      cat,
		dataDir:  dataDir,
		calc:     calc,
		interval: interval,
		now:      time.Now,
	}
}

func (r *Rollup) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Build(); err != nil {
			r.log.Errorf("Rollup failed for %s: %v", r.cat.Name, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Build rewrites the unique-buyers file for the current window from the
// ledger CSV. Missing or empty ledgers are not an error; the file simply
// is not produced yet.
func (r *Rollup) Build() error {
	win := r.calc.Current(r.now())

	src := r.cat.BuyersFile(r.dataDir, win.Start)
	f, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(rows) < 2 {
		return nil
	}

	buyerCol, priceCol := -1, -1
	for i, name := range rows[0] {
		switch name {
		case "buyer":
			buyerCol = i
		case "price":
			priceCol = i
		}
	}
	if buyerCol < 0 || priceCol < 0 {
		return fmt.Errorf("ledger %s has unexpected header %v", src, rows[0])
	}

	// buyer -> token symbol -> summed amount
	totals := make(map[string]map[string]decimal.Decimal)
	symbols := make(map[string]struct{})

	for _, row := range rows[1:] {
		amountStr, symbol, ok := strings.Cut(row[priceCol], " ")
		if !ok {
			r.log.Warnf("Rollup skipping malformed price %q in %s", row[priceCol], src)
			continue
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			r.log.Warnf("Rollup skipping unparsable amount %q in %s", amountStr, src)
			continue
		}

		buyer := row[buyerCol]
		if totals[buyer] == nil {
			totals[buyer] = make(map[string]decimal.Decimal)
		}
		totals[buyer][symbol] = totals[buyer][symbol].Add(amount)
		symbols[symbol] = struct{}{}
	}
	if len(totals) == 0 {
		return nil
	}

	columns := make([]string, 0, len(symbols))
	for s := range symbols {
		columns = append(columns, s)
	}
	sort.Strings(columns)

	buyers := make([]string, 0, len(totals))
	for b := range totals {
		buyers = append(buyers, b)
	}
	sort.Slice(buyers, func(i, j int) bool {
		return strings.ToLower(buyers[i]) < strings.ToLower(buyers[j])
	})

	out := r.cat.UniqueFile(r.dataDir, win.Start)
	if err = os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("failed to create rollup dir: %w", err)
	}

	return writeAtomic(out, func(w *csv.Writer) error {
		if err := w.Write(append([]string{"Address"}, columns...)); err != nil {
			return err
		}
		for _, buyer := range buyers {
			row := make([]string, 0, len(columns)+1)
			row = append(row, buyer)
			for _, sym := range columns {
				if amount, ok := totals[buyer][sym]; ok {
					row = append(row, formatTotal(amount))
				} else {
					row = append(row, "")
				}
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// formatTotal matches price formatting: exact integers bare, otherwise two
// decimal places with trailing zeros stripped.
func formatTotal(d decimal.Decimal) string {
	if d.IsInteger() {
		return d.Truncate(0).String()
	}
	return strings.TrimRight(strings.TrimRight(d.StringFixed(2), "0"), ".")
}

func writeAtomic(path string, fill func(w *csv.Writer) error) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp rollup: %w", err)
	}

	w := csv.NewWriter(f)
	writeErr := fill(w)
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	if err = f.Close(); writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write rollup: %w", writeErr)
	}

	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace rollup: %w", err)
	}
	return nil
}
