package app

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makehaven/storetab/internal/settlement"
	"github.com/makehaven/storetab/internal/store"
	"github.com/makehaven/storetab/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	StoreHandler   *store.Handler
	WebhookHandler *settlement.WebhookHandler
	JobHandler     *jobs.Handler
	Pool           *pgxpool.Pool
}

// NewRouter constructs the chi.Router with storetab defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("readiness ping", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	if params.StoreHandler != nil {
		r.Route("/api/v1", func(r chi.Router) {
			params.StoreHandler.MountRoutes(r)
		})
	}

	if params.WebhookHandler != nil {
		r.Route("/webhooks", func(r chi.Router) {
			params.WebhookHandler.MountRoutes(r)
		})
	}

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(requireKey(params.Config))
			params.JobHandler.MountRoutes(r)
		})
	}

	return r
}

// requireKey gates operator endpoints behind the shared API key.
func requireKey(cfg *Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if cfg != nil {
				key = cfg.APIKey
			}
			presented := r.Header.Get("X-Store-API-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
