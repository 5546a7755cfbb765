package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/blockwearhq/blockwear-backend/api/responses"
	"github.com/blockwearhq/blockwear-backend/pkg/config"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

const readyCheckTimeout = 3 * time.Second

// Pinger is the health check surface every backing store exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Blockwear-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the stores the API cannot serve without. Nil pingers are
// skipped so worker-less deployments reuse the handler.
func HealthReady(cfg *config.Config, logg *logger.Logger, db, redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Blockwear-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		checks := map[string]Pinger{"db": db, "redis": redis}
		for name, pinger := range checks {
			if pinger == nil {
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
