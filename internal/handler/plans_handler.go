package handler

import (
	"errors"
	"net/http"

	"github.com/boddenberg/credits-report-go/internal/domain"
	"github.com/boddenberg/credits-report-go/internal/infra/observability"
	"github.com/boddenberg/credits-report-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// 4. Plan ingestion
// POST /plans_insert (multipart, field "file")
// ============================================================

func plansInsertHandler(plans PlanIngester, maxBytes int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /plans_insert")
		defer span.End()

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "uploaded file is too large")
				return
			}
			writeError(w, http.StatusBadRequest, "expected a multipart/form-data body")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()

		span.SetAttributes(
			attribute.String("upload.filename", header.Filename),
			attribute.Int64("upload.size", header.Size),
		)
		if sub := SubjectFromContext(ctx); sub != "" {
			span.SetAttributes(attribute.String("upload.subject", sub))
		}

		result, err := plans.IngestUpload(ctx, header.Filename, file)
		if err != nil {
			observability.RecordError(span, err)
			handleIngestionError(w, err, logger)
			return
		}

		logger.Info("plan upload accepted",
			zap.String("batch_id", result.BatchID),
			zap.String("filename", header.Filename),
			zap.String("subject", SubjectFromContext(ctx)),
			zap.Int("plans", len(result.Plans)),
		)

		w.Header().Set("X-Batch-ID", result.BatchID)
		writeJSON(w, http.StatusOK, domain.DetailResponse{Detail: service.PlansAddedMessage})
	}
}
