package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/dvloznov/spendgraph/internal/graph"
	"github.com/dvloznov/spendgraph/internal/graph/memory"
)

// fakeSource serves fixed record slices one page at a time and records
// the offsets it was asked for.
type fakeSource struct {
	accounts     []AccountRecord
	transactions []TransactionRecord

	accountOffsets     []int
	transactionOffsets []int

	accountsErr     error
	transactionsErr error
}

func (f *fakeSource) Accounts(ctx context.Context, offset, limit int) ([]AccountRecord, int, error) {
	if f.accountsErr != nil {
		return nil, 0, f.accountsErr
	}
	f.accountOffsets = append(f.accountOffsets, offset)
	return page(f.accounts, offset, limit), len(f.accounts), nil
}

func (f *fakeSource) Transactions(ctx context.Context, offset, limit int) ([]TransactionRecord, int, error) {
	if f.transactionsErr != nil {
		return nil, 0, f.transactionsErr
	}
	f.transactionOffsets = append(f.transactionOffsets, offset)
	return page(f.transactions, offset, limit), len(f.transactions), nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func txRecord(id, account, amount, date string) TransactionRecord {
	return TransactionRecord{
		TransactionID: id,
		AccountID:     account,
		Amount:        json.Number(amount),
		Date:          date,
	}
}

func TestSync_AllRecordsSaved(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		accounts: []AccountRecord{
			{AccountID: "acc-1", Name: "Checking"},
			{AccountID: "acc-2", Name: "Savings"},
		},
		transactions: []TransactionRecord{
			txRecord("tx-1", "acc-1", "10.00", "2024-03-01"),
			txRecord("tx-2", "acc-1", "20.00", "2024-03-02"),
			txRecord("tx-3", "acc-2", "30.00", "2024-03-03"),
		},
	}
	store := memory.NewStore()

	result, err := NewSyncer(source, store, 2).Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Fetched != 5 || result.Saved != 5 || result.Skipped != 0 {
		t.Errorf("result = fetched %d, saved %d, skipped %d; want 5/5/0",
			result.Fetched, result.Saved, result.Skipped)
	}
	if result.SyncID == "" {
		t.Error("SyncID must be set")
	}
	if result.FinishedAt.Before(result.StartedAt) {
		t.Error("FinishedAt before StartedAt")
	}

	// Page size 2 over 3 transactions: offsets 0 then 2.
	if len(source.transactionOffsets) != 2 || source.transactionOffsets[0] != 0 || source.transactionOffsets[1] != 2 {
		t.Errorf("transaction offsets = %v, want [0 2]", source.transactionOffsets)
	}

	stats, _ := store.Stats(ctx)
	if stats.Accounts != 2 || stats.Transactions != 3 {
		t.Errorf("store has %d accounts / %d transactions, want 2 / 3", stats.Accounts, stats.Transactions)
	}
	// Accounts were synced first, so every transaction got its HAS edge.
	if stats.Relationships != 3 {
		t.Errorf("Relationships = %d, want 3 account edges", stats.Relationships)
	}
}

func TestSync_SkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{
		accounts: []AccountRecord{{AccountID: "acc-1"}},
		transactions: []TransactionRecord{
			txRecord("tx-1", "acc-1", "10.00", "2024-03-01"),
			txRecord("tx-bad", "acc-1", "abc", "2024-03-02"),
			txRecord("", "acc-1", "5.00", "2024-03-03"),
			txRecord("tx-2", "acc-1", "20.00", "2024-03-04"),
		},
	}
	store := memory.NewStore()

	result, err := NewSyncer(source, store, 0).Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Fetched != 5 || result.Saved != 3 || result.Skipped != 2 {
		t.Errorf("result = fetched %d, saved %d, skipped %d; want 5/3/2",
			result.Fetched, result.Saved, result.Skipped)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("Errors = %+v, want 2 entries", result.Errors)
	}
	if result.Errors[0].RecordID != "tx-bad" || result.Errors[0].Field != "amount" {
		t.Errorf("first error = %+v, want tx-bad/amount", result.Errors[0])
	}
	if result.Errors[1].Field != "transaction_id" {
		t.Errorf("second error = %+v, want transaction_id", result.Errors[1])
	}

	stats, _ := store.Stats(ctx)
	if stats.Transactions != 2 {
		t.Errorf("store has %d transactions, want the 2 valid ones", stats.Transactions)
	}
}

func TestSync_SourceFailureAborts(t *testing.T) {
	sourceErr := errors.New("upstream down")
	source := &fakeSource{transactionsErr: sourceErr}

	result, err := NewSyncer(source, memory.NewStore(), 10).Sync(context.Background())
	if !errors.Is(err, sourceErr) {
		t.Fatalf("error = %v, want wrapped source error", err)
	}
	if result == nil {
		t.Fatal("partial result must be returned on failure")
	}
	if result.FinishedAt.IsZero() {
		t.Error("FinishedAt must be set on failure")
	}
}

// failingStore rejects every write after a set number of successes.
type failingStore struct {
	graph.Store
	remaining int
	err       error
}

func (f *failingStore) UpsertAccount(ctx context.Context, a *domain.Account) error {
	return f.write()
}

func (f *failingStore) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	return f.write()
}

func (f *failingStore) write() error {
	if f.remaining > 0 {
		f.remaining--
		return nil
	}
	return f.err
}

func TestSync_StoreFailureAbortsWithPartialResult(t *testing.T) {
	storeErr := errors.New("store write failed")
	source := &fakeSource{
		accounts: []AccountRecord{{AccountID: "acc-1"}},
		transactions: []TransactionRecord{
			txRecord("tx-1", "acc-1", "10.00", "2024-03-01"),
			txRecord("tx-2", "acc-1", "20.00", "2024-03-02"),
		},
	}
	store := &failingStore{remaining: 2, err: storeErr}

	result, err := NewSyncer(source, store, 10).Sync(context.Background())
	if !errors.Is(err, storeErr) {
		t.Fatalf("error = %v, want wrapped store error", err)
	}
	// Account and first transaction landed before the failure.
	if result.Saved != 2 {
		t.Errorf("Saved = %d, want 2", result.Saved)
	}
	if result.Fetched != 3 {
		t.Errorf("Fetched = %d, want 3", result.Fetched)
	}
}
