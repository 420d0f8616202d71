package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/arvalox/arvalox/internal/aging"
	"github.com/arvalox/arvalox/internal/ar"
	"github.com/arvalox/arvalox/internal/observability"
	"github.com/arvalox/arvalox/internal/usage"
	"github.com/arvalox/arvalox/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	ARHandler    *ar.Handler
	AgingHandler *aging.Handler
	UsageHandler *usage.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
	// Usage meters api_call for tenant requests; nil disables metering.
	Usage UsageRecorder
}

// NewRouter constructs the chi.Router with Arvalox defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Tenant, MeterAPICalls(params.Usage, params.Logger))
		if params.ARHandler != nil {
			r.Route("/ar", params.ARHandler.MountRoutes)
		}
		if params.AgingHandler != nil {
			r.Route("/aging", params.AgingHandler.MountRoutes)
		}
		if params.UsageHandler != nil {
			r.Route("/usage", params.UsageHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
