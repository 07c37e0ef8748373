package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// ============================================================
// Operational endpoints
// ============================================================

func healthzHandler(db Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, healthStatus{Status: "healthy"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		start := time.Now()
		if err := db.Ping(ctx); err != nil {
			logger.Warn("database ping failed",
				zap.Duration("latency", time.Since(start)),
				zap.Error(err),
			)
			writeJSON(w, http.StatusServiceUnavailable, healthStatus{Status: "unhealthy", Database: "unreachable"})
			return
		}

		writeJSON(w, http.StatusOK, healthStatus{Status: "healthy", Database: "ok"})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthStatus{Status: "ready"})
	}
}
