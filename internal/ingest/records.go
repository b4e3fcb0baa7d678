package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/shopspring/decimal"
)

// AccountRecord is one account as the transaction source reports it.
type AccountRecord struct {
	AccountID       string `json:"account_id"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	Subtype         string `json:"subtype"`
	InstitutionName string `json:"institution_name"`
	Mask            string `json:"mask"`
}

// ToDomain validates and maps an account record onto the entity model.
func (r *AccountRecord) ToDomain() (*domain.Account, error) {
	if r.AccountID == "" {
		return nil, &domain.MalformedRecordError{Field: "account_id", Reason: "must not be empty"}
	}
	return &domain.Account{
		AccountID:       r.AccountID,
		Name:            r.Name,
		Type:            domain.ParseAccountType(r.Type),
		Subtype:         r.Subtype,
		InstitutionName: r.InstitutionName,
		Mask:            r.Mask,
	}, nil
}

// TransactionRecord is one transaction as the source reports it. Amount
// is kept as a JSON number so it reaches decimal arithmetic without a
// float round-trip.
type TransactionRecord struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Amount        json.Number     `json:"amount"`
	Date          string          `json:"date"`
	Name          string          `json:"name"`
	MerchantName  string          `json:"merchant_name"`
	Category      CategoryField   `json:"category"`
	Subcategory   string          `json:"subcategory"`
	Location      *LocationRecord `json:"location"`
}

// LocationRecord is the source's optional location object.
type LocationRecord struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// CategoryField tolerates the source's two category encodings: a plain
// string, or an array whose first element is the primary category and
// whose second (if present) is the subcategory.
type CategoryField struct {
	Primary string
	Sub     string
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CategoryField) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = CategoryField{}
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("category array: %w", err)
		}
		if len(parts) > 0 {
			c.Primary = parts[0]
		}
		if len(parts) > 1 {
			c.Sub = parts[1]
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("category string: %w", err)
	}
	c.Primary = s
	return nil
}

// MarshalJSON implements json.Marshaler, emitting the string form.
func (c CategoryField) MarshalJSON() ([]byte, error) {
	if c.Sub != "" {
		return json.Marshal([]string{c.Primary, c.Sub})
	}
	return json.Marshal(c.Primary)
}

// ToDomain validates and maps a transaction record onto the entity
// model. Required fields: transaction_id, account_id, amount, date.
func (r *TransactionRecord) ToDomain() (*domain.Transaction, error) {
	if r.TransactionID == "" {
		return nil, &domain.MalformedRecordError{Field: "transaction_id", Reason: "must not be empty"}
	}
	if r.AccountID == "" {
		return nil, &domain.MalformedRecordError{RecordID: r.TransactionID, Field: "account_id", Reason: "must not be empty"}
	}
	if r.Amount == "" {
		return nil, &domain.MalformedRecordError{RecordID: r.TransactionID, Field: "amount", Reason: "must not be empty"}
	}
	amount, err := decimal.NewFromString(r.Amount.String())
	if err != nil {
		return nil, &domain.MalformedRecordError{RecordID: r.TransactionID, Field: "amount", Reason: fmt.Sprintf("not a finite number: %v", err)}
	}
	date, err := domain.ParseDate(r.Date)
	if err != nil {
		return nil, &domain.MalformedRecordError{RecordID: r.TransactionID, Field: "date", Reason: fmt.Sprintf("not a calendar date: %v", err)}
	}

	subcategory := r.Subcategory
	if subcategory == "" {
		subcategory = r.Category.Sub
	}

	tx := &domain.Transaction{
		TransactionID: r.TransactionID,
		AccountID:     r.AccountID,
		Amount:        amount,
		Date:          date,
		Name:          r.Name,
		MerchantName:  r.MerchantName,
		Category:      r.Category.Primary,
		Subcategory:   subcategory,
	}
	if r.Location != nil {
		tx.Location = &domain.Location{
			Address:    r.Location.Address,
			City:       r.Location.City,
			Region:     r.Location.Region,
			PostalCode: r.Location.PostalCode,
			Country:    r.Location.Country,
		}
	}
	return tx, nil
}
