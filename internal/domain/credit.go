package domain

import "github.com/shopspring/decimal"

// Payment type identifiers, as stored in the dictionary.
const (
	PaymentTypeBody     int64 = 1
	PaymentTypeInterest int64 = 2
)

// User is a borrower.
type User struct {
	ID               int64  `json:"id"`
	Login            string `json:"login"`
	RegistrationDate Date   `json:"registration_date"`
}

// Credit is a loan issued to a user. ActualReturnDate is nil while the credit
// is still open.
type Credit struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	IssuanceDate     Date            `json:"issuance_date"`
	ReturnDate       Date            `json:"return_date"`
	ActualReturnDate *Date           `json:"actual_return_date,omitempty"`
	Body             decimal.Decimal `json:"body"`
	Percent          decimal.Decimal `json:"percent"`
	Payments         []Payment       `json:"payments,omitempty"`
}

// IsClosed reports whether the credit has been repaid.
func (c Credit) IsClosed() bool {
	return c.ActualReturnDate != nil
}

// PaymentsTotal sums every payment on the credit regardless of its type.
func (c Credit) PaymentsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range c.Payments {
		total = total.Add(p.Sum)
	}
	return total
}

// PaymentsOfType sums the payments tagged with typeID.
func (c Credit) PaymentsOfType(typeID int64) decimal.Decimal {
	total := decimal.Zero
	for _, p := range c.Payments {
		if p.TypeID == typeID {
			total = total.Add(p.Sum)
		}
	}
	return total
}

// Payment is a sum applied against a credit.
type Payment struct {
	ID          int64           `json:"id"`
	Sum         decimal.Decimal `json:"sum"`
	PaymentDate Date            `json:"payment_date"`
	CreditID    int64           `json:"credit_id"`
	TypeID      int64           `json:"type_id"`
}

// Plan is the target sum for a category in a given month.
type Plan struct {
	ID         int64           `json:"id"`
	Period     Date            `json:"period"`
	Sum        decimal.Decimal `json:"sum"`
	CategoryID int64           `json:"category_id"`
	Category   string          `json:"category,omitempty"`
}

// DictionaryEntry is a row of the lookup dictionary.
type DictionaryEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PlanRow is one line of an uploaded plan spreadsheet. Line is the 1-based
// line number in the source, header included.
type PlanRow struct {
	Line     int
	Period   Date
	Category string
	Sum      decimal.Decimal
}
