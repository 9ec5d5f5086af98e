package mw

import (
	"net/http"

	"marketsales/internal/config"
)

type CORSMiddleware struct {
	origins []string
	methods []string
	headers []string
}

func NewCORS(cfg *config.CORSConfig) *CORSMiddleware {
	return &CORSMiddleware{
		origins: cfg.Origins,
		methods: cfg.Methods,
		headers: cfg.Headers,
	}
}

func (c *CORSMiddleware) Handler() func(http.Handler) http.Handler {
	origins := joinOrDefault(c.origins, "*")
	methods := joinOrDefault(c.methods, "GET, OPTIONS")
	headers := joinOrDefault(c.headers, "Authorization, Content-Type")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origins)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func joinOrDefault(v []string, def string) string {
	if len(v) == 0 {
		return def
	}

	s := v[0]
	for i := 1; i < len(v); i++ {
		if v[i] != "" {
			s += "," + v[i]
		}
	}
	return s
}
