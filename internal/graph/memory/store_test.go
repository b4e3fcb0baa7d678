package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/dvloznov/spendgraph/internal/graph"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%s): %v", s, err)
	}
	return d
}

func newTx(t *testing.T, id, account, date string, amount float64, merchant, category string) *domain.Transaction {
	t.Helper()
	return &domain.Transaction{
		TransactionID: id,
		AccountID:     account,
		Amount:        decimal.NewFromFloat(amount),
		Date:          mustDate(t, date),
		MerchantName:  merchant,
		Category:      category,
	}
}

func drain(t *testing.T, it graph.TransactionIterator) []*domain.Transaction {
	t.Helper()
	var out []*domain.Transaction
	for {
		tx, err := it.Next()
		if err == iterator.Done {
			return out
		}
		if err != nil {
			t.Fatalf("iterator error: %v", err)
		}
		out = append(out, tx)
	}
}

func TestUpsertTransaction_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.UpsertAccount(ctx, &domain.Account{AccountID: "acc-1"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	tx := newTx(t, "tx-1", "acc-1", "2024-03-01", 20, "Starbucks", "Food")
	for i := 0; i < 3; i++ {
		if err := s.UpsertTransaction(ctx, tx); err != nil {
			t.Fatalf("UpsertTransaction #%d: %v", i, err)
		}
	}

	stats, _ := s.Stats(ctx)
	if stats.Transactions != 1 {
		t.Errorf("Transactions = %d, want 1", stats.Transactions)
	}
	if stats.Merchants != 1 {
		t.Errorf("Merchants = %d, want 1", stats.Merchants)
	}
	if stats.Categories != 1 {
		t.Errorf("Categories = %d, want 1", stats.Categories)
	}
	// HAS + AT + IN, each exactly once.
	if stats.Relationships != 3 {
		t.Errorf("Relationships = %d, want 3", stats.Relationships)
	}
}

func TestUpsertTransaction_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	clock := mustDate(t, "2024-01-01")
	s.now = func() time.Time { clock = clock.Add(time.Hour); return clock }

	if err := s.UpsertTransaction(ctx, newTx(t, "tx-1", "acc-1", "2024-03-01", 20, "Starbucks", "Food")); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, _ := s.GetTransaction(ctx, "tx-1")

	if err := s.UpsertTransaction(ctx, newTx(t, "tx-1", "acc-1", "2024-03-02", 25, "Peets", "Coffee")); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Amount = %s, want 25", got.Amount)
	}
	if got.MerchantName != "Peets" {
		t.Errorf("MerchantName = %s, want Peets", got.MerchantName)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on re-upsert: %v -> %v", first.CreatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt not advanced: %v -> %v", first.UpdatedAt, got.UpdatedAt)
	}

	// The old merchant/category edges must be gone; the old nodes stay.
	stats, _ := s.Stats(ctx)
	if stats.Merchants != 2 {
		t.Errorf("Merchants = %d, want 2", stats.Merchants)
	}
	// No account node, so only AT + IN for the current merchant/category.
	if stats.Relationships != 2 {
		t.Errorf("Relationships = %d, want 2", stats.Relationships)
	}
}

func TestUpsertTransaction_AccountEdgeRequiresAccount(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.UpsertTransaction(ctx, newTx(t, "tx-1", "acc-1", "2024-03-01", 20, "", "")); err != nil {
		t.Fatalf("UpsertTransaction: %v", err)
	}
	stats, _ := s.Stats(ctx)
	if stats.Relationships != 0 {
		t.Fatalf("Relationships = %d, want 0 before account exists", stats.Relationships)
	}

	// Once the account lands, the next upsert establishes the edge.
	if err := s.UpsertAccount(ctx, &domain.Account{AccountID: "acc-1"}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	if err := s.UpsertTransaction(ctx, newTx(t, "tx-1", "acc-1", "2024-03-01", 20, "", "")); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	stats, _ = s.Stats(ctx)
	if stats.Relationships != 1 {
		t.Errorf("Relationships = %d, want 1 after account exists", stats.Relationships)
	}
}

func TestTransactions_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	fixtures := []*domain.Transaction{
		newTx(t, "tx-b", "acc-1", "2024-03-02", 10, "Starbucks", "Food"),
		newTx(t, "tx-a", "acc-1", "2024-03-02", 15, "", "Food"),
		newTx(t, "tx-c", "acc-2", "2024-03-01", 20, "Shell", "Transport"),
		newTx(t, "tx-d", "acc-1", "2024-03-10", 30, "Starbucks", "Food"),
	}
	for _, tx := range fixtures {
		if err := s.UpsertTransaction(ctx, tx); err != nil {
			t.Fatalf("UpsertTransaction(%s): %v", tx.TransactionID, err)
		}
	}

	tests := []struct {
		name   string
		filter graph.Filter
		want   []string
	}{
		{"all ordered by date then id", graph.Filter{}, []string{"tx-c", "tx-a", "tx-b", "tx-d"}},
		{"by account", graph.Filter{AccountID: "acc-2"}, []string{"tx-c"}},
		{"by category", graph.Filter{Category: "Food"}, []string{"tx-a", "tx-b", "tx-d"}},
		{"merchant only", graph.Filter{MerchantOnly: true}, []string{"tx-c", "tx-b", "tx-d"}},
		{"by merchant name", graph.Filter{MerchantName: "Starbucks"}, []string{"tx-b", "tx-d"}},
		{"date window inclusive", graph.Filter{Start: mustDate(t, "2024-03-02"), End: mustDate(t, "2024-03-02")}, []string{"tx-a", "tx-b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := s.Transactions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Transactions: %v", err)
			}
			got := drain(t, it)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d rows, want %d", len(got), len(tt.want))
			}
			for i, tx := range got {
				if tx.TransactionID != tt.want[i] {
					t.Errorf("row %d = %s, want %s", i, tx.TransactionID, tt.want[i])
				}
			}
		})
	}
}

func TestTransactions_RestartableRead(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for i, id := range []string{"tx-1", "tx-2", "tx-3"} {
		tx := newTx(t, id, "acc-1", "2024-03-0"+string(rune('1'+i)), 10, "", "")
		if err := s.UpsertTransaction(ctx, tx); err != nil {
			t.Fatalf("UpsertTransaction: %v", err)
		}
	}

	first, _ := s.Transactions(ctx, graph.Filter{})
	second, _ := s.Transactions(ctx, graph.Filter{})
	a, b := drain(t, first), drain(t, second)
	if len(a) != len(b) {
		t.Fatalf("re-run row count mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].TransactionID != b[i].TransactionID {
			t.Errorf("row %d differs between runs: %s vs %s", i, a[i].TransactionID, b[i].TransactionID)
		}
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	s := NewStore()
	_, err := s.GetTransaction(context.Background(), "missing")
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestClear_RequiresToken(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.UpsertTransaction(ctx, newTx(t, "tx-1", "acc-1", "2024-03-01", 20, "Starbucks", "Food")); err != nil {
		t.Fatalf("UpsertTransaction: %v", err)
	}

	if err := s.Clear(ctx, "wipe please"); !errors.Is(err, graph.ErrBadConfirmToken) {
		t.Fatalf("Clear with bad token: error = %v, want ErrBadConfirmToken", err)
	}
	stats, _ := s.Stats(ctx)
	if stats.Transactions != 1 {
		t.Fatalf("bad token must not delete data, Transactions = %d", stats.Transactions)
	}

	if err := s.Clear(ctx, graph.WipeConfirmToken); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	stats, _ = s.Stats(ctx)
	if stats.Transactions != 0 || stats.Relationships != 0 || stats.Merchants != 0 {
		t.Errorf("Clear left data behind: %+v", stats)
	}
}

func TestUpsertTransaction_ImplicitMerchantIsNameOnly(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	tx := newTx(t, "tx-1", "acc-1", "2024-03-01", 20, "Starbucks", "Food")
	tx.Location = &domain.Location{City: "Seattle"}
	if err := s.UpsertTransaction(ctx, tx); err != nil {
		t.Fatalf("UpsertTransaction: %v", err)
	}

	merchants, err := s.ListMerchants(ctx)
	if err != nil {
		t.Fatalf("ListMerchants: %v", err)
	}
	if len(merchants) != 1 {
		t.Fatalf("got %d merchants, want 1", len(merchants))
	}
	// The implicitly created node carries only the name; the transaction's
	// category and location never leak onto the merchant.
	if merchants[0].CategoryHint != "" {
		t.Errorf("CategoryHint = %q, want empty on implicit creation", merchants[0].CategoryHint)
	}
	if merchants[0].Location != nil {
		t.Errorf("Location = %+v, want nil on implicit creation", merchants[0].Location)
	}

	// An explicit upsert still sets the optional fields, and a later
	// transaction does not overwrite them back to empty.
	if err := s.UpsertMerchant(ctx, &domain.Merchant{Name: "Starbucks", CategoryHint: "Coffee"}); err != nil {
		t.Fatalf("UpsertMerchant: %v", err)
	}
	if err := s.UpsertTransaction(ctx, newTx(t, "tx-2", "acc-1", "2024-03-02", 25, "Starbucks", "Food")); err != nil {
		t.Fatalf("second UpsertTransaction: %v", err)
	}
	merchants, _ = s.ListMerchants(ctx)
	if merchants[0].CategoryHint != "Coffee" {
		t.Errorf("CategoryHint = %q, want Coffee preserved", merchants[0].CategoryHint)
	}
}

func TestUpsertMerchantAndCategory(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.UpsertCategory(ctx, &domain.Category{Name: "Coffee", ParentCategory: "Food"}); err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}
	if err := s.UpsertMerchant(ctx, &domain.Merchant{Name: "Starbucks", CategoryHint: "Coffee"}); err != nil {
		t.Fatalf("UpsertMerchant: %v", err)
	}

	categories, _ := s.ListCategories(ctx)
	if len(categories) != 1 || categories[0].ParentCategory != "Food" {
		t.Errorf("ListCategories = %+v, want one Coffee->Food", categories)
	}
	merchants, _ := s.ListMerchants(ctx)
	if len(merchants) != 1 || merchants[0].CategoryHint != "Coffee" {
		t.Errorf("ListMerchants = %+v, want one Starbucks with hint", merchants)
	}

	if err := s.UpsertMerchant(ctx, &domain.Merchant{}); err == nil {
		t.Error("Expected error for empty merchant name")
	}
	if err := s.UpsertCategory(ctx, &domain.Category{}); err == nil {
		t.Error("Expected error for empty category name")
	}
}
