// Package graph defines the transaction graph store contract.
//
// The store owns all entity and relationship state: accounts, merchants,
// categories, transactions, and the HAS/AT/IN edges between them. Backends
// are pluggable — an in-memory implementation, a SQLite one, and a BigQuery
// one ship with this module — and must behave identically modulo
// persistence so the analytics engine stays backend-agnostic.
package graph

import (
	"context"
	"time"

	"github.com/dvloznov/spendgraph/internal/domain"
)

// WipeConfirmToken must be passed to Store.Clear verbatim. It exists so a
// full wipe cannot happen from a mistyped call site.
const WipeConfirmToken = "WIPE-ALL-GRAPH-DATA"

// Edge kinds stored by the graph.
const (
	EdgeHasTransaction = "HAS_TRANSACTION" // Account -> Transaction
	EdgeAtMerchant     = "AT_MERCHANT"     // Transaction -> Merchant
	EdgeInCategory     = "IN_CATEGORY"     // Transaction -> Category
)

// Filter narrows a transaction query. Zero values mean "no constraint".
type Filter struct {
	AccountID    string
	Category     string
	MerchantName string
	Start        time.Time // inclusive; zero = unbounded
	End          time.Time // inclusive; zero = unbounded
	MerchantOnly bool      // only transactions linked to a merchant
}

// Matches reports whether a transaction satisfies the filter. Backends
// that push filtering into their query language do not need it; the
// in-memory backend and tests share it.
func (f Filter) Matches(t *domain.Transaction) bool {
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.MerchantName != "" && t.MerchantName != f.MerchantName {
		return false
	}
	if f.MerchantOnly && t.MerchantName == "" {
		return false
	}
	if !f.Start.IsZero() && t.Date.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && t.Date.After(f.End) {
		return false
	}
	return true
}

// TransactionIterator is a restartable-read cursor over query results.
// Next returns iterator.Done once the result set is exhausted. Re-running
// the originating query yields the same rows if the store is unchanged.
type TransactionIterator interface {
	Next() (*domain.Transaction, error)
}

// Stats holds node and relationship counts per type.
type Stats struct {
	Transactions  int `json:"transactions"`
	Accounts      int `json:"accounts"`
	Merchants     int `json:"merchants"`
	Categories    int `json:"categories"`
	Relationships int `json:"relationships"`
}

// Store is the persistence and query surface for the transaction graph.
//
// Upserts follow MERGE semantics: look up by natural key, create if
// absent, overwrite scalar fields if present (last-write-wins), and
// ensure relationship edges exist without ever duplicating them. An
// upsert of a transaction commits the node and its edges atomically; no
// reader observes the node without the edges that were part of the same
// call.
type Store interface {
	// UpsertAccount inserts or updates an account by AccountID.
	UpsertAccount(ctx context.Context, account *domain.Account) error

	// UpsertTransaction inserts or updates a transaction by
	// TransactionID and idempotently establishes the account, merchant
	// and category relationships implied by its fields. Merchant and
	// category nodes are created on first reference; the account edge is
	// only created once the account itself exists.
	UpsertTransaction(ctx context.Context, tx *domain.Transaction) error

	// UpsertMerchant inserts or updates a merchant by name. Merchants
	// are also created implicitly by UpsertTransaction; this exists for
	// enrichment (category hint, location).
	UpsertMerchant(ctx context.Context, merchant *domain.Merchant) error

	// UpsertCategory inserts or updates a category by name. This is how
	// a parent pointer gets attached to an implicitly created category.
	UpsertCategory(ctx context.Context, category *domain.Category) error

	// GetTransaction returns a transaction by ID, or ErrNotFound.
	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)

	// GetAccount returns an account by ID, or ErrNotFound.
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)

	// Transactions queries transactions matching the filter, ordered by
	// (date, transaction_id) ascending for determinism.
	Transactions(ctx context.Context, filter Filter) (TransactionIterator, error)

	// ListAccounts returns all accounts ordered by AccountID.
	ListAccounts(ctx context.Context) ([]*domain.Account, error)

	// ListMerchants returns all merchants ordered by name.
	ListMerchants(ctx context.Context) ([]*domain.Merchant, error)

	// ListCategories returns all categories ordered by name.
	ListCategories(ctx context.Context) ([]*domain.Category, error)

	// Stats returns node and relationship counts.
	Stats(ctx context.Context) (*Stats, error)

	// Clear wipes every node and relationship. confirm must equal
	// WipeConfirmToken or the call fails without touching data.
	Clear(ctx context.Context, confirm string) error

	// Close releases backend resources.
	Close() error
}
