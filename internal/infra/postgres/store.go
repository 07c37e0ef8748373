package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/boddenberg/credits-report-go/internal/domain"
	"github.com/boddenberg/credits-report-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("postgres")

// Store implements port.Store on top of a gorm connection pool.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ReadTx runs fn inside a read-only, repeatable-read transaction so that
// every aggregate of one report sees the same snapshot.
func (s *Store) ReadTx(ctx context.Context, fn func(q port.Queries) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&queries{db: tx})
	}, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
}

// WriteTx runs fn inside a read-write transaction.
func (s *Store) WriteTx(ctx context.Context, fn func(q port.Queries) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&queries{db: tx})
	})
}

// Ping checks that a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// queries is bound to one transaction.
type queries struct {
	db *gorm.DB
}

// ============================================================
// Users & credits
// ============================================================

func (q *queries) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetUser")
	defer span.End()

	var rec UserRecord
	err := q.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.ErrNotFound{Resource: "user", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	u := rec.toDomain()
	return &u, nil
}

func (q *queries) ListUserCredits(ctx context.Context, userID int64) ([]domain.Credit, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListUserCredits")
	defer span.End()

	var recs []CreditRecord
	err := q.db.WithContext(ctx).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("user_id = ?", userID).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list credits of user %d: %w", userID, err)
	}

	credits := make([]domain.Credit, 0, len(recs))
	for _, r := range recs {
		credits = append(credits, r.toDomain())
	}
	span.SetAttributes(attribute.Int("credits.count", len(credits)))
	return credits, nil
}

// ============================================================
// Dictionary
// ============================================================

func (q *queries) ListDictionary(ctx context.Context) ([]domain.DictionaryEntry, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListDictionary")
	defer span.End()

	var recs []DictionaryRecord
	if err := q.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list dictionary: %w", err)
	}
	entries := make([]domain.DictionaryEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, domain.DictionaryEntry{ID: r.ID, Name: r.Name})
	}
	return entries, nil
}

// ============================================================
// Plans
// ============================================================

func (q *queries) PlanExists(ctx context.Context, period domain.Date, categoryID int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "Postgres.PlanExists")
	defer span.End()

	var n int64
	err := q.db.WithContext(ctx).Model(&PlanRecord{}).
		Where("period = ? AND category_id = ?", period.Time, categoryID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check plan %s/%d: %w", period, categoryID, err)
	}
	return n > 0, nil
}

func (q *queries) InsertPlans(ctx context.Context, plans []domain.Plan) ([]domain.Plan, error) {
	ctx, span := tracer.Start(ctx, "Postgres.InsertPlans")
	defer span.End()
	span.SetAttributes(attribute.Int("plans.count", len(plans)))

	if len(plans) == 0 {
		return nil, nil
	}

	recs := make([]PlanRecord, 0, len(plans))
	for _, p := range plans {
		recs = append(recs, planRecordFrom(p))
	}

	err := q.db.WithContext(ctx).Omit(clause.Associations).Create(&recs).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, &domain.ErrConflict{Message: "Plan for this period and category already exists"}
	}
	if err != nil {
		return nil, fmt.Errorf("insert plans: %w", err)
	}

	out := make([]domain.Plan, len(plans))
	for i, r := range recs {
		out[i] = plans[i]
		out[i].ID = r.ID
	}
	return out, nil
}

func (q *queries) ListPlansThrough(ctx context.Context, cutoff domain.Date) ([]domain.Plan, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListPlansThrough")
	defer span.End()

	return q.listPlans(ctx, q.db.Where("plans.period <= ?", cutoff.Time))
}

func (q *queries) ListPlansIn(ctx context.Context, p domain.Period) ([]domain.Plan, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListPlansIn")
	defer span.End()

	return q.listPlans(ctx, q.db.Where("plans.period >= ? AND plans.period < ?", p.From.Time, p.To.Time))
}

func (q *queries) listPlans(ctx context.Context, scoped *gorm.DB) ([]domain.Plan, error) {
	var recs []PlanRecord
	err := scoped.WithContext(ctx).
		Joins("Category").
		Order("plans.period, plans.category_id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	plans := make([]domain.Plan, 0, len(recs))
	for _, r := range recs {
		plans = append(plans, r.toDomain())
	}
	return plans, nil
}

// ============================================================
// Aggregates
// ============================================================

func (q *queries) IssuedCredits(ctx context.Context, p domain.Period) (domain.Totals, error) {
	ctx, span := tracer.Start(ctx, "Postgres.IssuedCredits")
	defer span.End()

	var t domain.Totals
	err := q.db.WithContext(ctx).Model(&CreditRecord{}).
		Select("COALESCE(SUM(credits.body), 0), COUNT(*)").
		Where("credits.issuance_date >= ? AND credits.issuance_date < ?", p.From.Time, p.To.Time).
		Row().Scan(&t.Sum, &t.Count)
	if err != nil {
		return domain.Totals{}, fmt.Errorf("sum issued credits %s..%s: %w", p.From, p.To, err)
	}
	return t, nil
}

func (q *queries) ReceivedPayments(ctx context.Context, p domain.Period) (domain.Totals, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ReceivedPayments")
	defer span.End()

	var t domain.Totals
	err := q.db.WithContext(ctx).Model(&PaymentRecord{}).
		Select("COALESCE(SUM(payments.sum), 0), COUNT(*)").
		Where("payments.payment_date >= ? AND payments.payment_date < ?", p.From.Time, p.To.Time).
		Row().Scan(&t.Sum, &t.Count)
	if err != nil {
		return domain.Totals{}, fmt.Errorf("sum payments %s..%s: %w", p.From, p.To, err)
	}
	return t, nil
}

func (q *queries) CollectedPayments(ctx context.Context, issuedFrom, paidBefore domain.Date) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CollectedPayments")
	defer span.End()

	var total decimal.Decimal
	err := q.db.WithContext(ctx).Model(&PaymentRecord{}).
		Select("COALESCE(SUM(payments.sum), 0)").
		Joins("JOIN credits ON credits.id = payments.credit_id").
		Where("credits.issuance_date >= ? AND payments.payment_date < ?", issuedFrom.Time, paidBefore.Time).
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum collected payments: %w", err)
	}
	return total, nil
}
