package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds the ingestion counters, labeled by asset category.
type Set struct {
	PagesFetched   *prometheus.CounterVec
	FetchErrors    *prometheus.CounterVec
	RecordsNew     *prometheus.CounterVec
	DuplicateSkips *prometheus.CounterVec
	UnmappedTokens *prometheus.CounterVec
	Flushes        *prometheus.CounterVec
	PollErrors     *prometheus.CounterVec
	Rotations      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)

	return &Set{
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsales_feed_pages_fetched_total",
			Help: "Feed pages fetched, including empty ones.",
		}, []string{"category"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsales_feed_fetch_errors_total",
			Help: "Feed page fetches that failed after retries.",
		}, []string{"category"}),
		RecordsNew: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsales_records_ingested_total",
			Help: "Sale records appended to a ledger.",
		}, []string{"category"}),
		DuplicateSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsales_records_duplicate_total",
			Help: "Events skipped because their dedup key was already recorded.",
		}, []string{"category"}),
		UnmappedTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsales_unmapped_tokens_total",
			Help: "Events skipped because the payment token is not in the mapping.",
		}, []string{"category"}),
		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsales_ledger_flushes_total",
			Help: "Ledger rewrites.",
		}, []string{"category"}),
		PollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsales_poll_errors_total",
			Help: "Poll iterations that ended with an error.",
		}, []string{"category"}),
		Rotations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsales_window_rotations_total",
			Help: "Window rollovers per category.",
		}, []string{"category"}),
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
