package handler

import (
	"net/http"
	"strconv"

	"github.com/boddenberg/credits-report-go/internal/domain"
	"github.com/boddenberg/credits-report-go/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// 1. User credit history
// GET /user_credits/{user_id}
// ============================================================

func userCreditsHandler(reports ReportProvider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /user_credits/{user_id}")
		defer span.End()

		userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "user_id must be an integer")
			return
		}
		span.SetAttributes(attribute.Int64("user.id", userID))

		records, err := reports.UserCredits(ctx, userID)
		if err != nil {
			observability.RecordError(span, err)
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, records)
	}
}

// ============================================================
// 2. Plan performance
// GET /plans_performance?date=YYYY-MM-DD
// ============================================================

func plansPerformanceHandler(reports ReportProvider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /plans_performance")
		defer span.End()

		raw := r.URL.Query().Get("date")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "date query parameter is required")
			return
		}
		cutoff, err := domain.ParseDate(raw)
		if err != nil {
			handleServiceError(w, &domain.ErrValidation{Field: "date", Message: "expected format YYYY-MM-DD"}, logger)
			return
		}

		result, err := reports.PlansPerformance(ctx, cutoff)
		if err != nil {
			observability.RecordError(span, err)
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// ============================================================
// 3. Year performance
// GET /year_performance/{year}
// ============================================================

func yearPerformanceHandler(reports ReportProvider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /year_performance/{year}")
		defer span.End()

		year, err := strconv.Atoi(chi.URLParam(r, "year"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "year must be an integer")
			return
		}

		months, err := reports.YearPerformance(ctx, year)
		if err != nil {
			observability.RecordError(span, err)
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, months)
	}
}
