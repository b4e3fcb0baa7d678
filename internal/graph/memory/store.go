// Package memory provides the in-memory graph store backend.
//
// State lives in maps keyed by natural key plus a set of edge tuples.
// It is safe for concurrent use: writes to the same key serialize on a
// single mutex (last-write-wins), and reads snapshot the matching rows
// under a read lock so long scans never observe a half-applied upsert.
// Data is lost on restart - use the sqlite or bigquery backend for
// persistence.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/dvloznov/spendgraph/internal/graph"
	"google.golang.org/api/iterator"
)

type edge struct {
	Kind string
	From string
	To   string
}

// Store is the in-memory graph store.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
	merchants    map[string]domain.Merchant
	categories   map[string]domain.Category
	edges        map[edge]struct{}

	now func() time.Time
}

// NewStore creates an empty in-memory graph store.
func NewStore() *Store {
	s := &Store{now: time.Now}
	s.reset()
	return s
}

// reset reinitializes all state. Caller must hold the write lock (or be
// the constructor).
func (s *Store) reset() {
	s.accounts = make(map[string]domain.Account)
	s.transactions = make(map[string]domain.Transaction)
	s.merchants = make(map[string]domain.Merchant)
	s.categories = make(map[string]domain.Category)
	s.edges = make(map[edge]struct{})
}

// UpsertAccount implements graph.Store.
func (s *Store) UpsertAccount(ctx context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return &graph.StoreError{Op: "upsert account", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.AccountID] = *account
	return nil
}

// UpsertMerchant implements graph.Store.
func (s *Store) UpsertMerchant(ctx context.Context, merchant *domain.Merchant) error {
	if merchant.Name == "" {
		return &graph.StoreError{Op: "upsert merchant", Err: &domain.MalformedRecordError{Field: "name", Reason: "must not be empty"}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.merchants[merchant.Name] = *merchant
	return nil
}

// UpsertCategory implements graph.Store.
func (s *Store) UpsertCategory(ctx context.Context, category *domain.Category) error {
	if category.Name == "" {
		return &graph.StoreError{Op: "upsert category", Err: &domain.MalformedRecordError{Field: "name", Reason: "must not be empty"}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.categories[category.Name] = *category
	return nil
}

// UpsertTransaction implements graph.Store. The transaction node and its
// relationship edges commit inside one critical section; merchant and
// category nodes are created on first reference, and stale edges from a
// previous upsert of the same transaction are refreshed so a transaction
// keeps at most one merchant and one category association.
func (s *Store) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return &graph.StoreError{Op: "upsert transaction", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *tx
	now := s.now()
	if prev, ok := s.transactions[tx.TransactionID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.transactions[tx.TransactionID] = stored

	s.dropTransactionEdges(tx.TransactionID)

	// Account edge: the account node is owned by ingestion and not
	// created implicitly here. The edge appears once the account exists.
	if _, ok := s.accounts[tx.AccountID]; ok {
		s.edges[edge{graph.EdgeHasTransaction, tx.AccountID, tx.TransactionID}] = struct{}{}
	}

	if tx.MerchantName != "" {
		if _, ok := s.merchants[tx.MerchantName]; !ok {
			// Implicit creation makes a bare name-only node; hints and
			// location are set only through UpsertMerchant.
			s.merchants[tx.MerchantName] = domain.Merchant{Name: tx.MerchantName}
		}
		s.edges[edge{graph.EdgeAtMerchant, tx.TransactionID, tx.MerchantName}] = struct{}{}
	}

	if tx.Category != "" {
		if _, ok := s.categories[tx.Category]; !ok {
			s.categories[tx.Category] = domain.Category{Name: tx.Category}
		}
		s.edges[edge{graph.EdgeInCategory, tx.TransactionID, tx.Category}] = struct{}{}
	}

	return nil
}

// dropTransactionEdges removes all edges touching a transaction. Caller
// must hold the write lock.
func (s *Store) dropTransactionEdges(transactionID string) {
	for e := range s.edges {
		switch e.Kind {
		case graph.EdgeHasTransaction:
			if e.To == transactionID {
				delete(s.edges, e)
			}
		case graph.EdgeAtMerchant, graph.EdgeInCategory:
			if e.From == transactionID {
				delete(s.edges, e)
			}
		}
	}
}

// GetTransaction implements graph.Store.
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[transactionID]
	if !ok {
		return nil, &graph.QueryError{Op: "get transaction", Err: graph.ErrNotFound}
	}
	out := tx
	return &out, nil
}

// GetAccount implements graph.Store.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, &graph.QueryError{Op: "get account", Err: graph.ErrNotFound}
	}
	out := a
	return &out, nil
}

// Transactions implements graph.Store. The result is a snapshot taken
// under a read lock, sorted by (date, transaction_id) ascending.
func (s *Store) Transactions(ctx context.Context, filter graph.Filter) (graph.TransactionIterator, error) {
	s.mu.RLock()
	rows := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if filter.Matches(&tx) {
			rows = append(rows, tx)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].TransactionID < rows[j].TransactionID
	})

	return &sliceIterator{rows: rows}, nil
}

// ListAccounts implements graph.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		c := a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// ListMerchants implements graph.Store.
func (s *Store) ListMerchants(ctx context.Context) ([]*domain.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Merchant, 0, len(s.merchants))
	for _, m := range s.merchants {
		c := m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListCategories implements graph.Store.
func (s *Store) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stats implements graph.Store.
func (s *Store) Stats(ctx context.Context) (*graph.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &graph.Stats{
		Transactions:  len(s.transactions),
		Accounts:      len(s.accounts),
		Merchants:     len(s.merchants),
		Categories:    len(s.categories),
		Relationships: len(s.edges),
	}, nil
}

// Clear implements graph.Store.
func (s *Store) Clear(ctx context.Context, confirm string) error {
	if confirm != graph.WipeConfirmToken {
		return &graph.StoreError{Op: "clear", Err: graph.ErrBadConfirmToken}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

// Close implements graph.Store. The in-memory store holds no resources.
func (s *Store) Close() error { return nil }

// sliceIterator walks a snapshot of query results.
type sliceIterator struct {
	rows []domain.Transaction
	pos  int
}

func (it *sliceIterator) Next() (*domain.Transaction, error) {
	if it.pos >= len(it.rows) {
		return nil, iterator.Done
	}
	tx := it.rows[it.pos]
	it.pos++
	return &tx, nil
}

var _ graph.Store = (*Store)(nil)
