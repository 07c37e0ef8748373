package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/credits-report-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.DetailResponse{Detail: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var conflict *domain.ErrConflict

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleIngestionError reports every rejected upload as 400, whatever the
// reason, and falls back to handleServiceError for system failures.
func handleIngestionError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if domain.IsClientError(err) {
		logger.Debug("plan upload rejected", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	handleServiceError(w, err, logger)
}
