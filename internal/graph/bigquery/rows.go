package bigquery

import (
	"encoding/json"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/shopspring/decimal"
)

type accountRow struct {
	AccountID       string `bigquery:"account_id"` // REQUIRED
	Name            string `bigquery:"name"`
	Type            string `bigquery:"type"`
	Subtype         string `bigquery:"subtype"`
	InstitutionName string `bigquery:"institution_name"`
	Mask            string `bigquery:"mask"`
}

type merchantRow struct {
	Name         string            `bigquery:"name"` // REQUIRED
	CategoryHint string            `bigquery:"category_hint"`
	Location     bigquery.NullJSON `bigquery:"location"`
}

type categoryRow struct {
	Name           string `bigquery:"name"` // REQUIRED
	ParentCategory string `bigquery:"parent_category"`
}

type transactionRow struct {
	TransactionID string                 `bigquery:"transaction_id"` // REQUIRED
	AccountID     string                 `bigquery:"account_id"`     // REQUIRED
	Amount        *big.Rat               `bigquery:"amount"`         // NUMERIC
	Date          civil.Date             `bigquery:"date"`           // DATE
	Name          string                 `bigquery:"name"`
	Category      string                 `bigquery:"category"`
	Subcategory   string                 `bigquery:"subcategory"`
	MerchantName  string                 `bigquery:"merchant_name"`
	Location      bigquery.NullJSON      `bigquery:"location"`
	CreatedTS     bigquery.NullTimestamp `bigquery:"created_ts"`
	UpdatedTS     bigquery.NullTimestamp `bigquery:"updated_ts"`
}

func (r *transactionRow) toDomain() (*domain.Transaction, error) {
	tx := &domain.Transaction{
		TransactionID: r.TransactionID,
		AccountID:     r.AccountID,
		Name:          r.Name,
		Category:      r.Category,
		Subcategory:   r.Subcategory,
		MerchantName:  r.MerchantName,
	}
	if r.Amount != nil {
		tx.Amount = ratToDecimal(r.Amount)
	}
	tx.Date = r.Date.In(time.UTC)
	if r.CreatedTS.Valid {
		tx.CreatedAt = r.CreatedTS.Timestamp
	}
	if r.UpdatedTS.Valid {
		tx.UpdatedAt = r.UpdatedTS.Timestamp
	}
	loc, err := locationFromJSON(r.Location)
	if err != nil {
		return nil, err
	}
	tx.Location = loc
	return tx, nil
}

func locationToJSON(l *domain.Location) bigquery.NullJSON {
	if l == nil {
		return bigquery.NullJSON{}
	}
	data, err := json.Marshal(map[string]interface{}{
		"address":     l.Address,
		"city":        l.City,
		"region":      l.Region,
		"postal_code": l.PostalCode,
		"country":     l.Country,
	})
	if err != nil {
		return bigquery.NullJSON{}
	}
	return bigquery.NullJSON{
		JSONVal: string(data),
		Valid:   true,
	}
}

func locationFromJSON(v bigquery.NullJSON) (*domain.Location, error) {
	if !v.Valid || v.JSONVal == "" {
		return nil, nil
	}
	data := []byte(v.JSONVal)
	var l struct {
		Address    string `json:"address"`
		City       string `json:"city"`
		Region     string `json:"region"`
		PostalCode string `json:"postal_code"`
		Country    string `json:"country"`
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &domain.Location{
		Address:    l.Address,
		City:       l.City,
		Region:     l.Region,
		PostalCode: l.PostalCode,
		Country:    l.Country,
	}, nil
}

// ratToDecimal converts a BigQuery NUMERIC value to decimal without a
// float round-trip. NUMERIC carries 9 fractional digits.
func ratToDecimal(r *big.Rat) decimal.Decimal {
	num := decimal.NewFromBigInt(r.Num(), 0)
	den := decimal.NewFromBigInt(r.Denom(), 0)
	return num.DivRound(den, 9)
}

// decimalToRat converts a decimal amount to the big.Rat the BigQuery
// client expects for NUMERIC parameters.
func decimalToRat(d decimal.Decimal) *big.Rat {
	r, ok := new(big.Rat).SetString(d.String())
	if !ok {
		return new(big.Rat)
	}
	return r
}
