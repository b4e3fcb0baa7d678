package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the calendar-date layout used across the module.
// Transactions carry a date with no time-of-day component.
const DateFormat = "2006-01-02"

// Transaction is one financial transaction as stored in the graph.
//
// Sign convention: a positive Amount is a debit (spending), a negative
// Amount is a credit (income). This matches the upstream banking API and
// is applied uniformly; callers must not flip the sign per data source.
type Transaction struct {
	TransactionID string          // stable across syncs, unique key
	Amount        decimal.Decimal // positive = debit, negative = credit
	Date          time.Time       // calendar date, UTC midnight
	Name          string          // raw description
	Category      string          // empty when the source had none
	Subcategory   string
	MerchantName  string // empty when the source had none
	Location      *Location
	AccountID     string // required, owning account

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location is an optional merchant/transaction location.
type Location struct {
	Address    string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// ParseDate parses a YYYY-MM-DD calendar date into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateFormat, s)
}

// DaysBetween returns the whole number of calendar days from a to b.
// Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// Validate checks the invariants a transaction must satisfy before it can
// be written to the graph store.
func (t *Transaction) Validate() error {
	if t.TransactionID == "" {
		return &MalformedRecordError{Field: "transaction_id", Reason: "must not be empty"}
	}
	if t.AccountID == "" {
		return &MalformedRecordError{RecordID: t.TransactionID, Field: "account_id", Reason: "must not be empty"}
	}
	if t.Date.IsZero() {
		return &MalformedRecordError{RecordID: t.TransactionID, Field: "date", Reason: "must be a valid calendar date"}
	}
	return nil
}
