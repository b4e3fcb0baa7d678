package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// FallbackCategory groups transactions that carry no category.
const FallbackCategory = "Other"

// CategorySpend is one row of a spending-by-category breakdown.
type CategorySpend struct {
	Category string          `json:"category"`
	Count    int             `json:"transaction_count"`
	Total    decimal.Decimal `json:"total_amount"`
	Average  decimal.Decimal `json:"avg_amount"`
}

// MerchantSummary is one row of a top-merchants breakdown.
type MerchantSummary struct {
	Merchant   string          `json:"merchant"`
	Count      int             `json:"transaction_count"`
	Total      decimal.Decimal `json:"total_amount"`
	Average    decimal.Decimal `json:"avg_amount"`
	Categories []string        `json:"categories"`
}

// MonthlyTrend is one calendar-month spending bucket.
type MonthlyTrend struct {
	Month   string          `json:"month"` // YYYY-MM
	Count   int             `json:"transaction_count"`
	Total   decimal.Decimal `json:"total_amount"`
	Average decimal.Decimal `json:"avg_amount"`
}

// Anomaly is a transaction flagged as a statistical outlier within its
// category. Score is the deviation ratio |amount-mean| / stdev.
type Anomaly struct {
	TransactionID string          `json:"transaction_id"`
	Name          string          `json:"name"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	Category      string          `json:"category"`
	CategoryMean  decimal.Decimal `json:"category_mean"`
	Score         float64         `json:"anomaly_score"`
}

// SimilarTransaction is a transaction scored against a target by the
// weighted merchant/category/amount rule.
type SimilarTransaction struct {
	TransactionID string          `json:"transaction_id"`
	Name          string          `json:"name"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	Category      string          `json:"category"`
	Merchant      string          `json:"merchant"`
	Score         float64         `json:"similarity_score"`
}

// CoOccurrence is a pair of merchants visited by the same account within
// the configured day gap. MerchantA sorts before MerchantB.
type CoOccurrence struct {
	MerchantA string `json:"merchant_a"`
	MerchantB string `json:"merchant_b"`
	Count     int    `json:"co_occurrence_count"`
}

// Transition counts how often spending in one category is followed by
// spending in another on the same account.
type Transition struct {
	FromCategory string  `json:"from_category"`
	ToCategory   string  `json:"to_category"`
	Count        int     `json:"transition_count"`
	AvgGapDays   float64 `json:"avg_days_between"`
}

// VelocityReport summarizes weekly spending rhythm for one account.
// Volatility is stdev/mean of weekly amounts; it is zero when the weekly
// mean is zero (degenerate input, skipped rather than divided).
type VelocityReport struct {
	AccountID         string          `json:"account_id"`
	AccountName       string          `json:"account_name"`
	Weeks             int             `json:"weeks_observed"`
	AvgWeeklyCount    float64         `json:"avg_weekly_transactions"`
	AvgWeeklyAmount   decimal.Decimal `json:"avg_weekly_amount"`
	StdevWeeklyAmount float64         `json:"stdev_weekly_amount"`
	Volatility        float64         `json:"volatility"`
}

// AccountSummary aggregates everything the graph knows about one account.
type AccountSummary struct {
	AccountID       string          `json:"account_id"`
	Name            string          `json:"account_name"`
	Type            string          `json:"account_type"`
	InstitutionName string          `json:"institution"`
	Count           int             `json:"transaction_count"`
	Total           decimal.Decimal `json:"total_amount"`
	Average         decimal.Decimal `json:"avg_amount"`
	Earliest        time.Time       `json:"earliest_transaction"`
	Latest          time.Time       `json:"latest_transaction"`
	Categories      []string        `json:"categories"`
}

// RecurringPattern is a merchant with repeated similar-amount visits
// spaced like a recurring charge (weekly to monthly cadence).
type RecurringPattern struct {
	Merchant  string          `json:"merchant"`
	Count     int             `json:"transaction_count"`
	AvgAmount decimal.Decimal `json:"avg_amount"`
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

// DayOfWeekStat is the average spend for one category on one weekday.
type DayOfWeekStat struct {
	Category string          `json:"category"`
	Weekday  string          `json:"day_of_week"`
	Count    int             `json:"transaction_count"`
	Average  decimal.Decimal `json:"avg_amount"`
}
