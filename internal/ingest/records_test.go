package ingest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dvloznov/spendgraph/internal/domain"
)

func TestCategoryField_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  CategoryField
	}{
		{"plain string", `"Food and Drink"`, CategoryField{Primary: "Food and Drink"}},
		{"array with subcategory", `["Food and Drink", "Coffee"]`, CategoryField{Primary: "Food and Drink", Sub: "Coffee"}},
		{"single-element array", `["Travel"]`, CategoryField{Primary: "Travel"}},
		{"empty array", `[]`, CategoryField{}},
		{"null", `null`, CategoryField{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got CategoryField
			if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
				t.Fatalf("Unmarshal(%s): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	var bad CategoryField
	if err := json.Unmarshal([]byte(`[1, 2]`), &bad); err == nil {
		t.Error("Expected error for non-string array elements")
	}
}

func TestTransactionRecord_ToDomain(t *testing.T) {
	valid := func() TransactionRecord {
		return TransactionRecord{
			TransactionID: "tx-1",
			AccountID:     "acc-1",
			Amount:        json.Number("12.50"),
			Date:          "2024-03-15",
			Name:          "Coffee run",
			MerchantName:  "Starbucks",
			Category:      CategoryField{Primary: "Food and Drink", Sub: "Coffee"},
		}
	}

	t.Run("valid record", func(t *testing.T) {
		r := valid()
		tx, err := r.ToDomain()
		if err != nil {
			t.Fatalf("ToDomain: %v", err)
		}
		if tx.Amount.String() != "12.5" {
			t.Errorf("Amount = %s, want 12.5", tx.Amount)
		}
		if tx.Category != "Food and Drink" {
			t.Errorf("Category = %s", tx.Category)
		}
		// Subcategory falls back to the category array's second element.
		if tx.Subcategory != "Coffee" {
			t.Errorf("Subcategory = %s, want Coffee", tx.Subcategory)
		}
	})

	t.Run("explicit subcategory wins", func(t *testing.T) {
		r := valid()
		r.Subcategory = "Espresso"
		tx, err := r.ToDomain()
		if err != nil {
			t.Fatalf("ToDomain: %v", err)
		}
		if tx.Subcategory != "Espresso" {
			t.Errorf("Subcategory = %s, want Espresso", tx.Subcategory)
		}
	})

	t.Run("location mapped", func(t *testing.T) {
		r := valid()
		r.Location = &LocationRecord{City: "Seattle", Region: "WA", Country: "US"}
		tx, err := r.ToDomain()
		if err != nil {
			t.Fatalf("ToDomain: %v", err)
		}
		if tx.Location == nil || tx.Location.City != "Seattle" {
			t.Errorf("Location = %+v", tx.Location)
		}
	})

	malformed := []struct {
		name      string
		mutate    func(*TransactionRecord)
		wantField string
	}{
		{"missing transaction id", func(r *TransactionRecord) { r.TransactionID = "" }, "transaction_id"},
		{"missing account id", func(r *TransactionRecord) { r.AccountID = "" }, "account_id"},
		{"empty amount", func(r *TransactionRecord) { r.Amount = "" }, "amount"},
		{"non-numeric amount", func(r *TransactionRecord) { r.Amount = json.Number("12.5x") }, "amount"},
		{"bad date", func(r *TransactionRecord) { r.Date = "15/03/2024" }, "date"},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			_, err := r.ToDomain()
			var rec *domain.MalformedRecordError
			if !errors.As(err, &rec) {
				t.Fatalf("error = %v, want *MalformedRecordError", err)
			}
			if rec.Field != tt.wantField {
				t.Errorf("field = %q, want %q", rec.Field, tt.wantField)
			}
		})
	}
}

func TestAccountRecord_ToDomain(t *testing.T) {
	r := AccountRecord{AccountID: "acc-1", Name: "Checking", Type: "DEPOSITORY"}
	account, err := r.ToDomain()
	if err != nil {
		t.Fatalf("ToDomain: %v", err)
	}
	if account.Type != domain.AccountTypeDepository {
		t.Errorf("Type = %s, want depository", account.Type)
	}

	empty := AccountRecord{}
	if _, err := empty.ToDomain(); err == nil {
		t.Error("Expected error for missing account_id")
	}
}
