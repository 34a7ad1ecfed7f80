package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokpool/pkg/types"
)

// Service defines the methods required by the HTTP API layer. The surface is
// operational only: encode traffic does not go through HTTP.
type Service interface {
	Status() types.StatusResponse
	CheckHealth(ctx context.Context) error
	ListAdapters() ([]types.Adapter, error)
	Invalidate(adapterID string) bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: orDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Accept", "Content-Type", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, readyTimeout)
		defer cancelTimeout()
		if err := svc.CheckHealth(ctx); err != nil {
			status := statusFor(err)
			readinessFailuresTotal.WithLabelValues(strconv.Itoa(status)).Inc()
			writeJSONError(w, status, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/adapters", func(w http.ResponseWriter, r *http.Request) {
		adapters, err := svc.ListAdapters()
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		if adapters == nil {
			adapters = []types.Adapter{}
		}
		writeJSON(w, map[string]any{"adapters": adapters})
	})

	r.Post("/adapters/{id}/invalidate", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "id"))
		if id == "" {
			writeJSONError(w, http.StatusBadRequest, "adapter id is required")
			return
		}
		if !svc.Invalidate(id) {
			adapterInvalidationsTotal.WithLabelValues("not_cached").Inc()
			writeJSONError(w, http.StatusNotFound, "adapter not cached: "+id)
			return
		}
		adapterInvalidationsTotal.WithLabelValues("invalidated").Inc()
		w.WriteHeader(http.StatusNoContent)
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
