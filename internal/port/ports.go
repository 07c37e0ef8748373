// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the concrete storage, cache and messaging adapters.
package port

import (
	"context"

	"github.com/boddenberg/credits-report-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Queries is the set of reads and writes available inside one transaction.
type Queries interface {
	// Users & credits
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	ListUserCredits(ctx context.Context, userID int64) ([]domain.Credit, error)

	// Dictionary
	ListDictionary(ctx context.Context) ([]domain.DictionaryEntry, error)

	// Plans
	PlanExists(ctx context.Context, period domain.Date, categoryID int64) (bool, error)
	InsertPlans(ctx context.Context, plans []domain.Plan) ([]domain.Plan, error)
	ListPlansThrough(ctx context.Context, cutoff domain.Date) ([]domain.Plan, error)
	ListPlansIn(ctx context.Context, p domain.Period) ([]domain.Plan, error)

	// Aggregates
	IssuedCredits(ctx context.Context, p domain.Period) (domain.Totals, error)
	ReceivedPayments(ctx context.Context, p domain.Period) (domain.Totals, error)
	// CollectedPayments sums payments dated before paidBefore whose credit was
	// issued on or after issuedFrom.
	CollectedPayments(ctx context.Context, issuedFrom, paidBefore domain.Date) (decimal.Decimal, error)
}

// Store hands out transaction-scoped Queries. The transaction is committed
// when fn returns nil and rolled back otherwise; the connection is always
// released before ReadTx/WriteTx return.
type Store interface {
	ReadTx(ctx context.Context, fn func(q Queries) error) error
	WriteTx(ctx context.Context, fn func(q Queries) error) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// PlanEventPublisher announces committed plan batches to other systems.
type PlanEventPublisher interface {
	PublishPlansIngested(ctx context.Context, event domain.PlansIngestedEvent) error
}
