package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"marketsales/internal/domain"
	"marketsales/internal/window"
	"marketsales/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"gitlab.com/nevasik7/alerting/logger"
)

// Files serves the persisted ledger and rollup CSVs as downloadable
// attachments. It only ever reads; the pipelines own the files.
type Files struct {
	log  logger.Logger
	root string
	cats []domain.Category
	calc window.Calculator

	now func() time.Time
}

func NewFiles(log logger.Logger, root string, cats []domain.Category, calc window.Calculator) *Files {
	return &Files{
		log:  log,
		root: root,
		cats: cats,
		calc: calc,
		now:  time.Now,
	}
}

// CurrentBuyers serves the current window's ledger, falling back to the
// most recent window that has a file when the current one does not yet.
func (h *Files) CurrentBuyers(cat domain.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		win := h.calc.Current(h.now())
		path := cat.BuyersFile(h.root, win.Start)
		if _, err := os.Stat(path); err != nil {
			path = findLatestCSV(cat.BuyersDir(h.root), cat.Name+"_buyers_")
		}
		h.serveCSV(w, r, path)
	}
}

func (h *Files) BuyersAt(cat domain.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := strconv.ParseInt(chi.URLParam(r, "timestamp"), 10, 64)
		if err != nil {
			_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "timestamp must be an integer")
			return
		}
		h.serveCSV(w, r, cat.BuyersFile(h.root, ts))
	}
}

func (h *Files) CurrentUnique(cat domain.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		win := h.calc.Current(h.now())
		path := cat.UniqueFile(h.root, win.Start)
		if _, err := os.Stat(path); err != nil {
			path = findLatestCSV(cat.UniqueDir(h.root), cat.Name+"_unique_")
		}
		h.serveCSV(w, r, path)
	}
}

func (h *Files) UniqueAt(cat domain.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := strconv.ParseInt(chi.URLParam(r, "timestamp"), 10, 64)
		if err != nil {
			_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "timestamp must be an integer")
			return
		}
		h.serveCSV(w, r, cat.UniqueFile(h.root, ts))
	}
}

type windowListing struct {
	Timestamp int64  `json:"timestamp"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Timestamps enumerates the window start timestamps that have ledger
// files, across all categories, newest first.
func (h *Files) Timestamps(w http.ResponseWriter, r *http.Request) {
	length := int64(h.calc.Length() / time.Second)
	starts := make(map[int64]struct{})

	for _, cat := range h.cats {
		pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(cat.Name) + `_buyers_(\d+)\.csv$`)
		entries, err := os.ReadDir(cat.BuyersDir(h.root))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if m := pattern.FindStringSubmatch(e.Name()); m != nil {
				if ts, err := strconv.ParseInt(m[1], 10, 64); err == nil {
					starts[ts] = struct{}{}
				}
			}
		}
	}

	listings := make([]windowListing, 0, len(starts))
	for ts := range starts {
		listings = append(listings, windowListing{
			Timestamp: ts,
			StartTime: time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05 UTC"),
			EndTime:   time.Unix(ts+length, 0).UTC().Format("2006-01-02 15:04:05 UTC"),
		})
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].Timestamp > listings[j].Timestamp })

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"timestamps": listings}); err != nil {
		h.log.Errorf("Timestamps handler error: %v", err)
	}
}

func (h *Files) serveCSV(w http.ResponseWriter, r *http.Request, path string) {
	if path == "" {
		_ = httputil.Error(w, r, http.StatusNotFound, "not_found", "no data for this window yet")
		return
	}
	if _, err := os.Stat(path); err != nil {
		_ = httputil.Error(w, r, http.StatusNotFound, "not_found", "no data for this window yet")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(path))
	http.ServeFile(w, r, path)
}

// findLatestCSV picks the file with the highest window-start suffix, or ""
// when the directory has none.
func findLatestCSV(dir, prefix string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `(\d+)\.csv$`)

	var best string
	var bestTS int64 = -1
	for _, e := range entries {
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		ts, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if ts > bestTS {
			bestTS = ts
			best = filepath.Join(dir, e.Name())
		}
	}
	return best
}
