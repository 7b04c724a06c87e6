package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solvereign/backend/internal/solver"
)

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// HandleHealth is the liveness probe.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleReady is the readiness probe: database reachable, solver queue not
// saturated, redis (when configured) answering.
func HandleReady(db *sql.DB, pool *solver.Pool, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]interface{}{}
		healthy := true

		if db != nil {
			ctx, cancel := contextWithTimeout(r, 2*time.Second)
			err := db.PingContext(ctx)
			cancel()
			if err != nil {
				checks["database"] = "unreachable"
				healthy = false
			} else {
				checks["database"] = "ok"
			}
		} else {
			checks["database"] = "memory"
		}

		if pool != nil {
			checks["solver_queue_depth"] = pool.QueueDepth()
		}

		if rdb != nil {
			ctx, cancel := contextWithTimeout(r, 2*time.Second)
			err := rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				checks["redis"] = "unreachable"
				// Redis only backs the kill-switch cache; degraded, not down.
			} else {
				checks["redis"] = "ok"
			}
		}

		status := http.StatusOK
		state := "ready"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		checks["status"] = state
		writeJSON(w, status, checks)
	}
}
