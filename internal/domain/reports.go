package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Percent returns part / whole × 100 rounded to two places, or zero when
// whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(whole).Round(2)
}

// ============================================================
// User credit history
// ============================================================

// CreditHistoryRecord is one credit in a user's history. Closed credits carry
// TotalPayments; open ones carry OverdueDays, BodyPayments and PercentPayments.
type CreditHistoryRecord struct {
	IssuanceDate    Date             `json:"issuance_date"`
	IsClosed        bool             `json:"is_closed"`
	ReturnDate      Date             `json:"return_date"`
	OverdueDays     *int             `json:"overdue_days,omitempty"`
	Body            decimal.Decimal  `json:"body"`
	Percent         decimal.Decimal  `json:"percent"`
	TotalPayments   *decimal.Decimal `json:"total_payments,omitempty"`
	BodyPayments    *decimal.Decimal `json:"body_payments,omitempty"`
	PercentPayments *decimal.Decimal `json:"percent_payments,omitempty"`
}

// ============================================================
// Plan performance
// ============================================================

// PlanPerformance compares one plan against what was achieved up to a cutoff.
type PlanPerformance struct {
	PlanMonth          Date            `json:"plan_month"`
	Category           string          `json:"category"`
	PlanSum            decimal.Decimal `json:"plan_sum"`
	AchievedSum        decimal.Decimal `json:"achieved_sum"`
	PerformancePercent decimal.Decimal `json:"performance_percent"`
}

// ============================================================
// Year performance
// ============================================================

// Totals is a sum with the number of rows it was computed from.
type Totals struct {
	Sum   decimal.Decimal
	Count int64
}

// MonthPerformance is one month of the year performance breakdown.
type MonthPerformance struct {
	Month                        string          `json:"month"`
	IssuanceCount                int64           `json:"issuance_count"`
	IssuancePlanSum              decimal.Decimal `json:"issuance_plan_sum"`
	MonthlyIssuanceSum           decimal.Decimal `json:"monthly_issuance_sum"`
	IssuancePerformancePercent   decimal.Decimal `json:"issuance_performance_percent"`
	PaymentCount                 int64           `json:"payment_count"`
	CollectionPlanSum            decimal.Decimal `json:"collection_plan_sum"`
	MonthlyPaymentsSum           decimal.Decimal `json:"monthly_payments_sum"`
	CollectionPerformancePercent decimal.Decimal `json:"collection_performance_percent"`
	IssuancePercentOfYear        decimal.Decimal `json:"issuance_percent_of_year"`
	PaymentsPercentOfYear        decimal.Decimal `json:"payments_percent_of_year"`
}

// ============================================================
// Plan ingestion
// ============================================================

// IngestionResult summarizes a committed plan upload.
type IngestionResult struct {
	BatchID string `json:"batch_id"`
	Plans   []Plan `json:"plans"`
}

// DetailResponse is the generic {"detail": "..."} body used by the API.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// PlansIngestedEvent is published after a plan batch has been committed.
type PlansIngestedEvent struct {
	BatchID    string    `json:"batch_id"`
	Count      int       `json:"count"`
	Periods    []Date    `json:"periods"`
	IngestedAt time.Time `json:"ingested_at"`
}
