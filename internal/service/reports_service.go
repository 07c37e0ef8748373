package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/credits-report-go/internal/domain"
	"github.com/boddenberg/credits-report-go/internal/infra/observability"
	"github.com/boddenberg/credits-report-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// ReportService computes the read-only loan performance reports. Every report
// runs inside a single read transaction.
type ReportService struct {
	store      port.Store
	categories domain.Categories
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewReportService creates the report service with all dependencies injected.
func NewReportService(store port.Store, categories domain.Categories, metrics *observability.Metrics, logger *zap.Logger) *ReportService {
	return &ReportService{
		store:      store,
		categories: categories,
		metrics:    metrics,
		logger:     logger,
	}
}

// ============================================================
// User credit history
// ============================================================

// UserCredits returns the credit history of a user, one record per credit in
// fetch order. A user without credits gets an empty slice.
func (s *ReportService) UserCredits(ctx context.Context, userID int64) ([]domain.CreditHistoryRecord, error) {
	ctx, span := tracer.Start(ctx, "ReportService.UserCredits")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("user_credits", time.Since(start)) }()

	var credits []domain.Credit
	err := s.store.ReadTx(ctx, func(q port.Queries) error {
		if _, err := q.GetUser(ctx, userID); err != nil {
			return err
		}
		var err error
		credits, err = q.ListUserCredits(ctx, userID)
		return err
	})
	if err != nil {
		s.storeFailed("user_credits", err)
		return nil, err
	}

	records := make([]domain.CreditHistoryRecord, 0, len(credits))
	for _, c := range credits {
		records = append(records, creditHistory(c))
	}
	return records, nil
}

func creditHistory(c domain.Credit) domain.CreditHistoryRecord {
	rec := domain.CreditHistoryRecord{
		IssuanceDate: c.IssuanceDate,
		IsClosed:     c.IsClosed(),
		Body:         c.Body,
		Percent:      c.Percent,
	}

	if c.IsClosed() {
		rec.ReturnDate = *c.ActualReturnDate
		total := c.PaymentsTotal()
		rec.TotalPayments = &total
		return rec
	}

	// Days between issuance and the scheduled return, not days past due.
	overdue := c.ReturnDate.DaysSince(c.IssuanceDate)
	body := c.PaymentsOfType(domain.PaymentTypeBody)
	interest := c.PaymentsOfType(domain.PaymentTypeInterest)

	rec.ReturnDate = c.ReturnDate
	rec.OverdueDays = &overdue
	rec.BodyPayments = &body
	rec.PercentPayments = &interest
	return rec
}

// ============================================================
// Plan performance
// ============================================================

// PlansPerformance compares every plan up to cutoff with what was achieved
// between the plan month and cutoff, both included.
func (s *ReportService) PlansPerformance(ctx context.Context, cutoff domain.Date) ([]domain.PlanPerformance, error) {
	ctx, span := tracer.Start(ctx, "ReportService.PlansPerformance")
	defer span.End()
	span.SetAttributes(attribute.String("report.cutoff", cutoff.String()))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("plans_performance", time.Since(start)) }()

	var result []domain.PlanPerformance
	err := s.store.ReadTx(ctx, func(q port.Queries) error {
		plans, err := q.ListPlansThrough(ctx, cutoff)
		if err != nil {
			return err
		}

		result = make([]domain.PlanPerformance, 0, len(plans))
		for _, plan := range plans {
			var achieved decimal.Decimal

			switch s.categories.Kind(plan.Category) {
			case domain.CategoryIssuance:
				issued, err := q.IssuedCredits(ctx, domain.Through(plan.Period, cutoff))
				if err != nil {
					return err
				}
				achieved = issued.Sum
			case domain.CategoryCollection:
				// Payment dates are only bounded above.
				achieved, err = q.CollectedPayments(ctx, plan.Period, cutoff.AddDays(1))
				if err != nil {
					return err
				}
			default:
				s.logger.Warn("skipping plan with a non-plan category",
					zap.Int64("plan_id", plan.ID),
					zap.String("category", plan.Category),
					zap.String("period", plan.Period.String()),
				)
				continue
			}

			result = append(result, domain.PlanPerformance{
				PlanMonth:          plan.Period,
				Category:           plan.Category,
				PlanSum:            plan.Sum,
				AchievedSum:        achieved,
				PerformancePercent: domain.Percent(achieved, plan.Sum),
			})
		}
		return nil
	})
	if err != nil {
		s.storeFailed("plans_performance", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("report.rows", len(result)))
	return result, nil
}

// ============================================================
// Year performance
// ============================================================

// YearPerformance breaks the year down by month: actual issuance and
// payments against the month's plans and against the year totals.
func (s *ReportService) YearPerformance(ctx context.Context, year int) ([]domain.MonthPerformance, error) {
	if year < 1 || year > 9999 {
		return nil, &domain.ErrValidation{Field: "year", Message: fmt.Sprintf("year %d out of range 1..9999", year)}
	}

	ctx, span := tracer.Start(ctx, "ReportService.YearPerformance")
	defer span.End()
	span.SetAttributes(attribute.Int("report.year", year))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("year_performance", time.Since(start)) }()

	yearPeriod := domain.YearPeriod(year)
	months := make([]domain.MonthPerformance, 0, 12)

	err := s.store.ReadTx(ctx, func(q port.Queries) error {
		yearIssued, err := q.IssuedCredits(ctx, yearPeriod)
		if err != nil {
			return err
		}
		yearPaid, err := q.ReceivedPayments(ctx, yearPeriod)
		if err != nil {
			return err
		}

		plans, err := q.ListPlansIn(ctx, yearPeriod)
		if err != nil {
			return err
		}
		issuancePlans, collectionPlans := s.planSumsByMonth(plans)

		for m := time.January; m <= time.December; m++ {
			monthStart := domain.NewDate(year, m, 1)
			period := domain.MonthPeriod(monthStart)

			issued, err := q.IssuedCredits(ctx, period)
			if err != nil {
				return err
			}
			paid, err := q.ReceivedPayments(ctx, period)
			if err != nil {
				return err
			}

			issuancePlan := sumOrZero(issuancePlans, monthStart)
			collectionPlan := sumOrZero(collectionPlans, monthStart)

			months = append(months, domain.MonthPerformance{
				Month:                        monthLabel(year, m),
				IssuanceCount:                issued.Count,
				IssuancePlanSum:              issuancePlan,
				MonthlyIssuanceSum:           issued.Sum,
				IssuancePerformancePercent:   domain.Percent(issued.Sum, issuancePlan),
				PaymentCount:                 paid.Count,
				CollectionPlanSum:            collectionPlan,
				MonthlyPaymentsSum:           paid.Sum,
				CollectionPerformancePercent: domain.Percent(paid.Sum, collectionPlan),
				IssuancePercentOfYear:        domain.Percent(issued.Sum, yearIssued.Sum),
				PaymentsPercentOfYear:        domain.Percent(paid.Sum, yearPaid.Sum),
			})
		}
		return nil
	})
	if err != nil {
		s.storeFailed("year_performance", err)
		return nil, err
	}
	return months, nil
}

// planSumsByMonth indexes plan sums by month start, one map per plan category.
func (s *ReportService) planSumsByMonth(plans []domain.Plan) (issuance, collection map[domain.Date]decimal.Decimal) {
	issuance = make(map[domain.Date]decimal.Decimal)
	collection = make(map[domain.Date]decimal.Decimal)

	for _, p := range plans {
		key := p.Period.MonthStart()
		switch s.categories.Kind(p.Category) {
		case domain.CategoryIssuance:
			issuance[key] = issuance[key].Add(p.Sum)
		case domain.CategoryCollection:
			collection[key] = collection[key].Add(p.Sum)
		}
	}
	return issuance, collection
}

func sumOrZero(m map[domain.Date]decimal.Decimal, key domain.Date) decimal.Decimal {
	if v, ok := m[key]; ok {
		return v
	}
	return decimal.Zero
}

func monthLabel(year int, m time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(m))
}

// storeFailed counts errors that were not caused by the request.
func (s *ReportService) storeFailed(operation string, err error) {
	if domain.IsClientError(err) {
		return
	}
	s.metrics.IncrStoreError(operation)
	s.logger.Error("report failed",
		zap.String("operation", operation),
		zap.Error(err),
	)
}
