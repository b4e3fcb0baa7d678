package plaidapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_Transactions(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions" {
			t.Errorf("path = %s, want /transactions", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data": [
				{"transaction_id": "tx-1", "account_id": "acc-1", "amount": 12.50, "date": "2024-03-15", "category": ["Food and Drink", "Coffee"]},
				{"transaction_id": "tx-2", "account_id": "acc-1", "amount": 3, "date": "2024-03-16", "category": "Travel"}
			],
			"total_count": 57
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	records, total, err := client.Transactions(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if total != 57 {
		t.Errorf("total = %d, want 57", total)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if !strings.Contains(gotQuery, "offset=10") || !strings.Contains(gotQuery, "limit=2") {
		t.Errorf("query = %s, want offset=10 and limit=2", gotQuery)
	}

	// Amounts arrive as json.Number, not float64, so "12.50" keeps its
	// exact decimal text.
	if records[0].Amount.String() != "12.50" {
		t.Errorf("amount = %s, want 12.50", records[0].Amount)
	}
	if records[0].Category.Primary != "Food and Drink" || records[0].Category.Sub != "Coffee" {
		t.Errorf("category = %+v", records[0].Category)
	}
	if records[1].Category.Primary != "Travel" {
		t.Errorf("string category = %+v", records[1].Category)
	}
}

func TestClient_Accounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts" {
			t.Errorf("path = %s, want /accounts", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": [{"account_id": "acc-1", "name": "Checking", "type": "depository"}], "total_count": 1}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	records, total, err := client.Accounts(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("got %d records / total %d, want 1 / 1", len(records), total)
	}
	if records[0].AccountID != "acc-1" || records[0].Type != "depository" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestClient_EmptyDataField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_count": 0}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	records, total, err := client.Accounts(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if len(records) != 0 || total != 0 {
		t.Errorf("got %d records / total %d, want empty page", len(records), total)
	}
}

func TestClient_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	if _, _, err := client.Transactions(context.Background(), 0, 10); err == nil {
		t.Fatal("Expected error for non-200 response")
	} else if !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v, want status code in message", err)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL, server.Client())
	if _, _, err := client.Accounts(ctx, 0, 10); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}
