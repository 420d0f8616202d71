package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/arvalox/arvalox/internal/observability"
	"github.com/arvalox/arvalox/internal/platform/httpx"
	"github.com/arvalox/arvalox/internal/shared"
	"github.com/arvalox/arvalox/internal/usage"
)

const (
	headerOrganization = "X-Organization-ID"
	headerActor        = "X-Actor-ID"
)

// UsageRecorder counts metered actions for an organization.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, orgID uuid.UUID, action usage.Action) error
}

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the Arvalox middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	rate := 600
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		rate = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rate, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// Tenant resolves the organization and actor headers into the request context.
// Requests without an organization pass through; handlers reject them.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := strings.TrimSpace(r.Header.Get(headerOrganization)); raw != "" {
			orgID, err := uuid.Parse(raw)
			if err != nil || orgID == uuid.Nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid Organization", headerOrganization+" must be a UUID")
				return
			}
			ctx = shared.ContextWithOrganization(ctx, orgID)
		}
		if actor := strings.TrimSpace(r.Header.Get(headerActor)); actor != "" {
			ctx = shared.ContextWithActor(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MeterAPICalls counts every successful tenant request as an api_call.
func MeterAPICalls(recorder UsageRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if recorder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			orgID, ok := shared.OrganizationFromContext(r.Context())
			if !ok || ww.Status() >= http.StatusBadRequest {
				return
			}
			ctx := context.WithoutCancel(r.Context())
			if err := recorder.RecordUsage(ctx, orgID, usage.ActionAPICall); err != nil {
				logger.Warn("record api call", slog.String("organization_id", orgID.String()), slog.Any("error", err))
			}
		})
	}
}
