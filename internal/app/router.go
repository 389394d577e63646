package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dattas/internal/names/handler"
	"dattas/internal/platform/metrics"
	"dattas/internal/platform/middleware"
	"dattas/pkg/platform/httputil"
	"dattas/pkg/platform/middleware/request"
	"dattas/pkg/platform/middleware/requesttime"
)

// NewRouter exposes the names API together with /healthz and /metrics.
func (a *App) NewRouter(reg prometheus.Registerer, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(metrics.New(reg).Instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Health(r.Context()); err != nil {
			a.Logger.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	var tokens middleware.TokenValidator
	if a.Tokens != nil {
		tokens = a.Tokens
	}
	handler.New(a.Service, a.Logger, tokens, a.Config.Auth.AdminToken).Register(r)
	return r
}
