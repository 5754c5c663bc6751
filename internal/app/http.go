package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	authapi "plume/internal/auth/api"
	"plume/internal/metrics"
)

// registerHTTP mounts health endpoints, metrics, and the auth API.
func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, dbPool *pgxpool.Pool, dbEnabled bool, auth *authapi.Handler) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB {
			if !dbEnabled || dbPool == nil {
				http.Error(w, "db required but not configured", http.StatusServiceUnavailable)
				return
			}
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				log.Warn("readyz.db.fail", "err", err)
				http.Error(w, "db not reachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("/metrics", metrics.Handler())

	auth.Register(mux)
}
