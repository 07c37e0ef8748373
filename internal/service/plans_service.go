package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/boddenberg/credits-report-go/internal/domain"
	"github.com/boddenberg/credits-report-go/internal/infra/observability"
	"github.com/boddenberg/credits-report-go/internal/infra/sheet"
	"github.com/boddenberg/credits-report-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const dictionaryCacheKey = "dictionary"

// PlansAddedMessage is the detail returned after a successful upload.
const PlansAddedMessage = "Plans successfully added"

// PlanService ingests monthly plans. A batch is validated as a whole and
// written in one transaction, so it is either fully stored or not at all.
type PlanService struct {
	store      port.Store
	dictionary port.Cache[[]domain.DictionaryEntry]
	publisher  port.PlanEventPublisher
	categories domain.Categories
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewPlanService creates the plan service with all dependencies injected.
func NewPlanService(
	store port.Store,
	dictionary port.Cache[[]domain.DictionaryEntry],
	publisher port.PlanEventPublisher,
	categories domain.Categories,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *PlanService {
	return &PlanService{
		store:      store,
		dictionary: dictionary,
		publisher:  publisher,
		categories: categories,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// IngestUpload decodes a spreadsheet upload and ingests its rows.
func (s *PlanService) IngestUpload(ctx context.Context, filename string, r io.Reader) (*domain.IngestionResult, error) {
	rows, err := sheet.Decode(filename, r)
	if err != nil {
		s.reject("decode", err, zap.String("filename", filename))
		return nil, err
	}
	return s.Ingest(ctx, rows)
}

// Ingest stores a batch of plan rows. Nothing is written unless every row
// passes: periods on the first of a month, a known plan category and no
// existing plan for the same (period, category).
func (s *PlanService) Ingest(ctx context.Context, rows []domain.PlanRow) (*domain.IngestionResult, error) {
	batchID := uuid.New().String()

	ctx, span := tracer.Start(ctx, "PlanService.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.rows", len(rows)),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("plans_insert", time.Since(start)) }()

	if len(rows) == 0 {
		err := &domain.ErrValidation{Field: "file", Message: "uploaded file has no plan rows"}
		s.reject("validation", err, zap.String("batch_id", batchID))
		return nil, err
	}

	// Whole-batch check before touching the store.
	for _, row := range rows {
		if !row.Period.IsFirstOfMonth() {
			err := &domain.ErrValidation{Message: "Must be first number of month"}
			s.reject("period", err,
				zap.String("batch_id", batchID),
				zap.Int("line", row.Line),
				zap.String("period", row.Period.String()),
			)
			return nil, err
		}
	}

	var stored []domain.Plan
	err := s.store.WriteTx(ctx, func(q port.Queries) error {
		resolve, err := s.categoryResolver(ctx, q)
		if err != nil {
			return err
		}

		type planKey struct {
			period     domain.Date
			categoryID int64
		}
		seen := make(map[planKey]int, len(rows))
		plans := make([]domain.Plan, 0, len(rows))

		for _, row := range rows {
			entry, err := resolve(row.Category)
			if err != nil {
				return err
			}
			if s.categories.Kind(entry.Name) == domain.CategoryUnknown {
				return &domain.ErrValidation{
					Field:   "category",
					Message: fmt.Sprintf("line %d: %q is not a plan category", row.Line, entry.Name),
				}
			}

			key := planKey{period: row.Period, categoryID: entry.ID}
			if _, dup := seen[key]; dup {
				return &domain.ErrConflict{Message: "Plan for this period and category already exists"}
			}
			seen[key] = row.Line

			exists, err := q.PlanExists(ctx, row.Period, entry.ID)
			if err != nil {
				return err
			}
			if exists {
				return &domain.ErrConflict{Message: "Plan for this period and category already exists"}
			}

			plans = append(plans, domain.Plan{
				Period:     row.Period,
				Sum:        row.Sum,
				CategoryID: entry.ID,
				Category:   entry.Name,
			})
		}

		stored, err = q.InsertPlans(ctx, plans)
		return err
	})
	if err != nil {
		if domain.IsClientError(err) {
			s.reject(rejectionReason(err), err, zap.String("batch_id", batchID))
		} else {
			s.metrics.IncrStoreError("plans_insert")
			s.logger.Error("plan ingestion failed", zap.String("batch_id", batchID), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.AddPlansIngested(len(stored))
	s.logger.Info("plans ingested",
		zap.String("batch_id", batchID),
		zap.Int("count", len(stored)),
	)

	s.publish(ctx, batchID, stored)

	return &domain.IngestionResult{BatchID: batchID, Plans: stored}, nil
}

// categoryResolver looks names up in the cached dictionary, reloading it from
// the current transaction once when a name is missing.
func (s *PlanService) categoryResolver(ctx context.Context, q port.Queries) (func(name string) (domain.DictionaryEntry, error), error) {
	entries, cached := s.dictionary.Get(dictionaryCacheKey)
	if cached {
		s.metrics.IncrCacheHit(dictionaryCacheKey)
	} else {
		s.metrics.IncrCacheMiss(dictionaryCacheKey)
		var err error
		if entries, err = s.loadDictionary(ctx, q); err != nil {
			return nil, err
		}
	}

	return func(name string) (domain.DictionaryEntry, error) {
		if e, ok := findEntry(entries, name); ok {
			return e, nil
		}
		if cached {
			fresh, err := s.loadDictionary(ctx, q)
			if err != nil {
				return domain.DictionaryEntry{}, err
			}
			entries, cached = fresh, false
			if e, ok := findEntry(entries, name); ok {
				return e, nil
			}
		}
		return domain.DictionaryEntry{}, &domain.ErrNotFound{Resource: "Category", ID: name}
	}, nil
}

func (s *PlanService) loadDictionary(ctx context.Context, q port.Queries) ([]domain.DictionaryEntry, error) {
	entries, err := q.ListDictionary(ctx)
	if err != nil {
		return nil, err
	}
	s.dictionary.Set(dictionaryCacheKey, entries)
	return entries, nil
}

func findEntry(entries []domain.DictionaryEntry, name string) (domain.DictionaryEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return domain.DictionaryEntry{}, false
}

// publish announces the committed batch. Failures are logged only: the plans
// are already stored.
func (s *PlanService) publish(ctx context.Context, batchID string, plans []domain.Plan) {
	periods := make([]domain.Date, 0, len(plans))
	seen := make(map[domain.Date]bool, len(plans))
	for _, p := range plans {
		if !seen[p.Period] {
			seen[p.Period] = true
			periods = append(periods, p.Period)
		}
	}

	event := domain.PlansIngestedEvent{
		BatchID:    batchID,
		Count:      len(plans),
		Periods:    periods,
		IngestedAt: s.now().UTC(),
	}
	if err := s.publisher.PublishPlansIngested(ctx, event); err != nil {
		s.logger.Warn("failed to publish plans event",
			zap.String("batch_id", batchID),
			zap.Error(err),
		)
	}
}

func (s *PlanService) reject(reason string, err error, fields ...zap.Field) {
	s.metrics.IncrIngestionRejected(reason)
	s.logger.Info("plan upload rejected",
		append(fields, zap.String("reason", reason), zap.String("error", err.Error()))...,
	)
}

func rejectionReason(err error) string {
	var notFound *domain.ErrNotFound
	var conflict *domain.ErrConflict
	switch {
	case errors.As(err, &notFound):
		return "unknown_category"
	case errors.As(err, &conflict):
		return "duplicate"
	default:
		return "validation"
	}
}
