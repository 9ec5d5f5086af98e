package http

import (
	"marketsales/internal/api/http/handlers"
	"marketsales/internal/api/http/mw"
	"marketsales/internal/domain"
	"marketsales/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func BuildRouter(
	files *handlers.Files,
	health *handlers.Health,
	cats []domain.Category,
	logMW *mw.LoggingMiddleware,
	gzipMW *mw.GzipMiddleware,
	corsMW *mw.CORSMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	jwtMW *mw.JWTMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}
	if gzipMW != nil {
		r.Use(gzipMW.Handler)
	}
	if corsMW != nil {
		r.Use(corsMW.Handler())
	}

	// tech endpoints, no auth
	r.Get("/healthz", health.Healthz)
	r.Get("/readiness", health.Readiness)
	r.Mount("/metrics", metrics.Handler())

	// downloads, optionally rate limited and behind JWT
	protected := chi.NewRouter()
	if rateLimitMW != nil {
		protected.Use(rateLimitMW.Handler)
	}
	if jwtMW != nil {
		protected.Use(jwtMW.Handler)
	}

	protected.Get("/timestamps", files.Timestamps)
	for _, cat := range cats {
		protected.Get("/"+cat.Name+"_buyers/", files.CurrentBuyers(cat))
		protected.Get("/"+cat.Name+"_buyers/{timestamp}", files.BuyersAt(cat))
		protected.Get("/"+cat.Name+"_unique/", files.CurrentUnique(cat))
		protected.Get("/"+cat.Name+"_unique/{timestamp}", files.UniqueAt(cat))
	}

	r.Mount("/", protected)
	return r
}
