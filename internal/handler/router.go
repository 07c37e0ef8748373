package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/boddenberg/credits-report-go/internal/domain"
	"github.com/boddenberg/credits-report-go/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// ReportProvider serves the read-only reports.
type ReportProvider interface {
	UserCredits(ctx context.Context, userID int64) ([]domain.CreditHistoryRecord, error)
	PlansPerformance(ctx context.Context, cutoff domain.Date) ([]domain.PlanPerformance, error)
	YearPerformance(ctx context.Context, year int) ([]domain.MonthPerformance, error)
}

// PlanIngester stores uploaded plan spreadsheets.
type PlanIngester interface {
	IngestUpload(ctx context.Context, filename string, file io.Reader) (*domain.IngestionResult, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the HTTP surface.
type Options struct {
	// PlansJWTSecret guards POST /plans_insert with HS256 bearer tokens.
	// Empty leaves the route open.
	PlansJWTSecret string
	// UploadMaxBytes caps the multipart body of POST /plans_insert.
	UploadMaxBytes int64
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(reports ReportProvider, plans PlanIngester, db Pinger, metrics *observability.Metrics, logger *zap.Logger, opts Options) http.Handler {
	if opts.UploadMaxBytes <= 0 {
		opts.UploadMaxBytes = 10 << 20
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(db, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- Reports ---
	r.Get("/user_credits/{user_id}", userCreditsHandler(reports, logger))
	r.Get("/plans_performance", plansPerformanceHandler(reports, logger))
	r.Get("/year_performance/{year}", yearPerformanceHandler(reports, logger))

	// --- Plan ingestion ---
	r.Group(func(r chi.Router) {
		if opts.PlansJWTSecret != "" {
			r.Use(JWTAuthMiddleware([]byte(opts.PlansJWTSecret), logger))
		}
		r.Post("/plans_insert", plansInsertHandler(plans, opts.UploadMaxBytes, logger))
	})

	return r
}
