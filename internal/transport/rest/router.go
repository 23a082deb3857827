package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/metrics"
)

type RouterDeps struct {
	Admin      *Handler
	Health     *HealthHandler
	RateLimit  int
	RateWindow time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Admin == nil {
		panic("rest.NewRouter: nil admin handler")
	}
	if d.Health == nil {
		panic("rest.NewRouter: nil health handler")
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(HTTPLogger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	if d.RateLimit > 0 && d.RateWindow > 0 {
		r.Use(httprate.LimitByIP(d.RateLimit, d.RateWindow))
	}

	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/admin/v1", func(r chi.Router) {
		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", d.Admin.ListDLQ)
			r.Get("/stats", d.Admin.DLQStats)
			r.Post("/resolve", d.Admin.BulkResolve)
			r.Get("/{id}", d.Admin.GetDLQEntry)
			r.Post("/{id}/resolve", d.Admin.ResolveEntry)
			r.Post("/{id}/retry", d.Admin.RetryEntry)
		})
		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", d.Admin.Submit)
			r.Get("/{id}", d.Admin.GetSubmission)
		})
	})

	return r
}
