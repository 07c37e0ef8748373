package postgres

import (
	"time"

	"github.com/boddenberg/credits-report-go/internal/domain"

	"github.com/shopspring/decimal"
)

// UserRecord maps the users table.
type UserRecord struct {
	ID               int64          `gorm:"primaryKey"`
	Login            string         `gorm:"size:50;uniqueIndex;not null"`
	RegistrationDate time.Time      `gorm:"type:date"`
	Credits          []CreditRecord `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;"`
}

func (UserRecord) TableName() string { return "users" }

// CreditRecord maps the credits table. ActualReturnDate is NULL while the
// credit is open.
type CreditRecord struct {
	ID               int64           `gorm:"primaryKey"`
	UserID           int64           `gorm:"index;not null"`
	IssuanceDate     time.Time       `gorm:"type:date;index;not null"`
	ReturnDate       time.Time       `gorm:"type:date;not null"`
	ActualReturnDate *time.Time      `gorm:"type:date"`
	Body             decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Percent          decimal.Decimal `gorm:"type:numeric(10,4);not null"`
	Payments         []PaymentRecord `gorm:"foreignKey:CreditID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;"`
}

func (CreditRecord) TableName() string { return "credits" }

// PaymentRecord maps the payments table.
type PaymentRecord struct {
	ID          int64            `gorm:"primaryKey"`
	Sum         decimal.Decimal  `gorm:"type:numeric(14,2);not null"`
	PaymentDate time.Time        `gorm:"type:date;index;not null"`
	CreditID    int64            `gorm:"index;not null"`
	TypeID      int64            `gorm:"index;not null"`
	Type        DictionaryRecord `gorm:"foreignKey:TypeID;references:ID"`
}

func (PaymentRecord) TableName() string { return "payments" }

// PlanRecord maps the plans table. (period, category_id) is unique.
type PlanRecord struct {
	ID         int64            `gorm:"primaryKey"`
	Period     time.Time        `gorm:"type:date;not null;uniqueIndex:idx_plans_period_category"`
	Sum        decimal.Decimal  `gorm:"type:numeric(14,2);not null"`
	CategoryID int64            `gorm:"not null;uniqueIndex:idx_plans_period_category"`
	Category   DictionaryRecord `gorm:"foreignKey:CategoryID;references:ID"`
}

func (PlanRecord) TableName() string { return "plans" }

// DictionaryRecord maps the dictionary lookup table.
type DictionaryRecord struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"size:50;uniqueIndex;not null"`
}

func (DictionaryRecord) TableName() string { return "dictionary" }

// allModels lists the tables in dependency order for AutoMigrate.
func allModels() []any {
	return []any{&DictionaryRecord{}, &UserRecord{}, &CreditRecord{}, &PaymentRecord{}, &PlanRecord{}}
}

func (r UserRecord) toDomain() domain.User {
	return domain.User{ID: r.ID, Login: r.Login, RegistrationDate: domain.DateOf(r.RegistrationDate)}
}

func (r CreditRecord) toDomain() domain.Credit {
	c := domain.Credit{
		ID:           r.ID,
		UserID:       r.UserID,
		IssuanceDate: domain.DateOf(r.IssuanceDate),
		ReturnDate:   domain.DateOf(r.ReturnDate),
		Body:         r.Body,
		Percent:      r.Percent,
		Payments:     make([]domain.Payment, 0, len(r.Payments)),
	}
	if r.ActualReturnDate != nil {
		d := domain.DateOf(*r.ActualReturnDate)
		c.ActualReturnDate = &d
	}
	for _, p := range r.Payments {
		c.Payments = append(c.Payments, p.toDomain())
	}
	return c
}

func (r PaymentRecord) toDomain() domain.Payment {
	return domain.Payment{
		ID:          r.ID,
		Sum:         r.Sum,
		PaymentDate: domain.DateOf(r.PaymentDate),
		CreditID:    r.CreditID,
		TypeID:      r.TypeID,
	}
}

func (r PlanRecord) toDomain() domain.Plan {
	return domain.Plan{
		ID:         r.ID,
		Period:     domain.DateOf(r.Period),
		Sum:        r.Sum,
		CategoryID: r.CategoryID,
		Category:   r.Category.Name,
	}
}

func planRecordFrom(p domain.Plan) PlanRecord {
	return PlanRecord{Period: p.Period.Time, Sum: p.Sum, CategoryID: p.CategoryID}
}
