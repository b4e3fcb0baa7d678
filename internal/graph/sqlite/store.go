// Package sqlite implements graph.Store on an embedded SQLite database.
// Nodes live in per-type tables and relationships in a single edges
// table, mirroring the graph model closely enough that upsert and query
// semantics match the in-memory backend row for row.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/dvloznov/spendgraph/internal/graph"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id       TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL DEFAULT 'other',
	subtype          TEXT NOT NULL DEFAULT '',
	institution_name TEXT NOT NULL DEFAULT '',
	mask             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS merchants (
	name          TEXT PRIMARY KEY,
	category_hint TEXT NOT NULL DEFAULT '',
	location      TEXT
);

CREATE TABLE IF NOT EXISTS categories (
	name            TEXT PRIMARY KEY,
	parent_category TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transactions (
	transaction_id TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	amount         TEXT NOT NULL,
	date           TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	subcategory    TEXT NOT NULL DEFAULT '',
	merchant_name  TEXT NOT NULL DEFAULT '',
	location       TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	kind      TEXT NOT NULL,
	from_id   TEXT NOT NULL,
	to_id     TEXT NOT NULL,
	PRIMARY KEY (kind, from_id, to_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);
CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id);
`

// Store is a SQLite-backed graph store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (creating if needed) the database at path and applies
// the schema. WAL mode keeps readers unblocked during upserts.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &graph.StoreError{Op: "open database", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &graph.StoreError{Op: "apply schema", Err: err}
	}
	return &Store{db: db, now: time.Now}, nil
}

// UpsertAccount implements graph.Store.
func (s *Store) UpsertAccount(ctx context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, name, type, subtype, institution_name, mask)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			subtype = excluded.subtype,
			institution_name = excluded.institution_name,
			mask = excluded.mask`,
		account.AccountID, account.Name, string(account.Type), account.Subtype,
		account.InstitutionName, account.Mask)
	if err != nil {
		return &graph.StoreError{Op: "upsert account", Err: err}
	}
	return nil
}

// UpsertMerchant implements graph.Store.
func (s *Store) UpsertMerchant(ctx context.Context, merchant *domain.Merchant) error {
	if merchant.Name == "" {
		return &domain.MalformedRecordError{Field: "merchant_name", Reason: "must not be empty"}
	}
	loc, err := encodeLocation(merchant.Location)
	if err != nil {
		return &graph.StoreError{Op: "upsert merchant", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO merchants (name, category_hint, location)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			category_hint = excluded.category_hint,
			location = excluded.location`,
		merchant.Name, merchant.CategoryHint, loc)
	if err != nil {
		return &graph.StoreError{Op: "upsert merchant", Err: err}
	}
	return nil
}

// UpsertCategory implements graph.Store.
func (s *Store) UpsertCategory(ctx context.Context, category *domain.Category) error {
	if category.Name == "" {
		return &domain.MalformedRecordError{Field: "category_name", Reason: "must not be empty"}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (name, parent_category)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			parent_category = excluded.parent_category`,
		category.Name, category.ParentCategory)
	if err != nil {
		return &graph.StoreError{Op: "upsert category", Err: err}
	}
	return nil
}

// UpsertTransaction implements graph.Store. The node write, stale edge
// removal and fresh edge writes happen in one database transaction so
// readers never see the node with a partial edge set.
func (s *Store) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	loc, err := encodeLocation(tx.Location)
	if err != nil {
		return &graph.StoreError{Op: "upsert transaction", Err: err}
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &graph.StoreError{Op: "upsert transaction", Err: err}
	}
	defer dbtx.Rollback()

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO transactions
			(transaction_id, account_id, amount, date, name, category, subcategory,
			 merchant_name, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			account_id = excluded.account_id,
			amount = excluded.amount,
			date = excluded.date,
			name = excluded.name,
			category = excluded.category,
			subcategory = excluded.subcategory,
			merchant_name = excluded.merchant_name,
			location = excluded.location,
			updated_at = excluded.updated_at`,
		tx.TransactionID, tx.AccountID, tx.Amount.String(),
		tx.Date.Format(domain.DateFormat), tx.Name, tx.Category, tx.Subcategory,
		tx.MerchantName, loc, now, now)
	if err != nil {
		return &graph.StoreError{Op: "upsert transaction", Err: err}
	}

	// Refresh the edge set: a re-upsert with a different merchant or
	// category must not leave the old edge behind.
	if _, err := dbtx.ExecContext(ctx,
		`DELETE FROM edges WHERE (kind IN (?, ?) AND from_id = ?) OR (kind = ? AND to_id = ?)`,
		graph.EdgeAtMerchant, graph.EdgeInCategory, tx.TransactionID,
		graph.EdgeHasTransaction, tx.TransactionID); err != nil {
		return &graph.StoreError{Op: "refresh transaction edges", Err: err}
	}

	if err := s.writeEdges(ctx, dbtx, tx); err != nil {
		return err
	}

	if err := dbtx.Commit(); err != nil {
		return &graph.StoreError{Op: "upsert transaction", Err: err}
	}
	return nil
}

func (s *Store) writeEdges(ctx context.Context, dbtx *sql.Tx, tx *domain.Transaction) error {
	// Account edge only when the account node exists, matching graph
	// MATCH semantics: the edge appears on the next upsert after the
	// account lands.
	var one int
	err := dbtx.QueryRowContext(ctx,
		`SELECT 1 FROM accounts WHERE account_id = ?`, tx.AccountID).Scan(&one)
	switch {
	case err == nil:
		if _, err := dbtx.ExecContext(ctx,
			`INSERT OR IGNORE INTO edges (kind, from_id, to_id) VALUES (?, ?, ?)`,
			graph.EdgeHasTransaction, tx.AccountID, tx.TransactionID); err != nil {
			return &graph.StoreError{Op: "write account edge", Err: err}
		}
	case err != sql.ErrNoRows:
		return &graph.StoreError{Op: "write account edge", Err: err}
	}

	if tx.MerchantName != "" {
		if _, err := dbtx.ExecContext(ctx,
			`INSERT OR IGNORE INTO merchants (name) VALUES (?)`, tx.MerchantName); err != nil {
			return &graph.StoreError{Op: "write merchant node", Err: err}
		}
		if _, err := dbtx.ExecContext(ctx,
			`INSERT OR IGNORE INTO edges (kind, from_id, to_id) VALUES (?, ?, ?)`,
			graph.EdgeAtMerchant, tx.TransactionID, tx.MerchantName); err != nil {
			return &graph.StoreError{Op: "write merchant edge", Err: err}
		}
	}

	if tx.Category != "" {
		if _, err := dbtx.ExecContext(ctx,
			`INSERT OR IGNORE INTO categories (name) VALUES (?)`, tx.Category); err != nil {
			return &graph.StoreError{Op: "write category node", Err: err}
		}
		if _, err := dbtx.ExecContext(ctx,
			`INSERT OR IGNORE INTO edges (kind, from_id, to_id) VALUES (?, ?, ?)`,
			graph.EdgeInCategory, tx.TransactionID, tx.Category); err != nil {
			return &graph.StoreError{Op: "write category edge", Err: err}
		}
	}
	return nil
}

// GetTransaction implements graph.Store.
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, account_id, amount, date, name, category,
		       subcategory, merchant_name, location, created_at, updated_at
		FROM transactions WHERE transaction_id = ?`, transactionID)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, &graph.QueryError{Op: "get transaction", Err: graph.ErrNotFound}
	}
	if err != nil {
		return nil, &graph.QueryError{Op: "get transaction", Err: err}
	}
	return tx, nil
}

// GetAccount implements graph.Store.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var a domain.Account
	var accountType string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, name, type, subtype, institution_name, mask
		FROM accounts WHERE account_id = ?`, accountID).
		Scan(&a.AccountID, &a.Name, &accountType, &a.Subtype, &a.InstitutionName, &a.Mask)
	if err == sql.ErrNoRows {
		return nil, &graph.QueryError{Op: "get account", Err: graph.ErrNotFound}
	}
	if err != nil {
		return nil, &graph.QueryError{Op: "get account", Err: err}
	}
	a.Type = domain.AccountType(accountType)
	return &a, nil
}

// Transactions implements graph.Store. Filtering is pushed into SQL;
// results come back ordered by (date, transaction_id).
func (s *Store) Transactions(ctx context.Context, filter graph.Filter) (graph.TransactionIterator, error) {
	query := `
		SELECT transaction_id, account_id, amount, date, name, category,
		       subcategory, merchant_name, location, created_at, updated_at
		FROM transactions`
	var conds []string
	var args []interface{}
	if filter.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.MerchantName != "" {
		conds = append(conds, "merchant_name = ?")
		args = append(args, filter.MerchantName)
	}
	if filter.MerchantOnly {
		conds = append(conds, "merchant_name != ''")
	}
	if !filter.Start.IsZero() {
		conds = append(conds, "date >= ?")
		args = append(args, filter.Start.Format(domain.DateFormat))
	}
	if !filter.End.IsZero() {
		conds = append(conds, "date <= ?")
		args = append(args, filter.End.Format(domain.DateFormat))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date, transaction_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &graph.QueryError{Op: "query transactions", Err: err}
	}
	return &rowIterator{rows: rows}, nil
}

// ListAccounts implements graph.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, name, type, subtype, institution_name, mask
		FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, &graph.QueryError{Op: "list accounts", Err: err}
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		var a domain.Account
		var accountType string
		if err := rows.Scan(&a.AccountID, &a.Name, &accountType, &a.Subtype,
			&a.InstitutionName, &a.Mask); err != nil {
			return nil, &graph.QueryError{Op: "list accounts", Err: err}
		}
		a.Type = domain.AccountType(accountType)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, &graph.QueryError{Op: "list accounts", Err: err}
	}
	return out, nil
}

// ListMerchants implements graph.Store.
func (s *Store) ListMerchants(ctx context.Context) ([]*domain.Merchant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, category_hint, location FROM merchants ORDER BY name`)
	if err != nil {
		return nil, &graph.QueryError{Op: "list merchants", Err: err}
	}
	defer rows.Close()

	var out []*domain.Merchant
	for rows.Next() {
		var m domain.Merchant
		var loc sql.NullString
		if err := rows.Scan(&m.Name, &m.CategoryHint, &loc); err != nil {
			return nil, &graph.QueryError{Op: "list merchants", Err: err}
		}
		if loc.Valid && loc.String != "" {
			var l domain.Location
			if err := json.Unmarshal([]byte(loc.String), &l); err != nil {
				return nil, &graph.QueryError{Op: "list merchants", Err: err}
			}
			m.Location = &l
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, &graph.QueryError{Op: "list merchants", Err: err}
	}
	return out, nil
}

// ListCategories implements graph.Store.
func (s *Store) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, parent_category FROM categories ORDER BY name`)
	if err != nil {
		return nil, &graph.QueryError{Op: "list categories", Err: err}
	}
	defer rows.Close()

	var out []*domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.Name, &c.ParentCategory); err != nil {
			return nil, &graph.QueryError{Op: "list categories", Err: err}
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, &graph.QueryError{Op: "list categories", Err: err}
	}
	return out, nil
}

// Stats implements graph.Store.
func (s *Store) Stats(ctx context.Context) (*graph.Stats, error) {
	stats := &graph.Stats{}
	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM transactions", &stats.Transactions},
		{"SELECT COUNT(*) FROM accounts", &stats.Accounts},
		{"SELECT COUNT(*) FROM merchants", &stats.Merchants},
		{"SELECT COUNT(*) FROM categories", &stats.Categories},
		{"SELECT COUNT(*) FROM edges", &stats.Relationships},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, &graph.QueryError{Op: "stats", Err: err}
		}
	}
	return stats, nil
}

// Clear implements graph.Store.
func (s *Store) Clear(ctx context.Context, confirm string) error {
	if confirm != graph.WipeConfirmToken {
		return graph.ErrBadConfirmToken
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &graph.StoreError{Op: "clear", Err: err}
	}
	defer dbtx.Rollback()

	for _, table := range []string{"edges", "transactions", "merchants", "categories", "accounts"} {
		if _, err := dbtx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &graph.StoreError{Op: "clear " + table, Err: err}
		}
	}
	if err := dbtx.Commit(); err != nil {
		return &graph.StoreError{Op: "clear", Err: err}
	}
	return nil
}

// Close implements graph.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// rowIterator adapts sql.Rows to graph.TransactionIterator. The rows are
// closed when iteration completes or fails.
type rowIterator struct {
	rows *sql.Rows
	done bool
}

func (it *rowIterator) Next() (*domain.Transaction, error) {
	if it.done {
		return nil, iterator.Done
	}
	if !it.rows.Next() {
		it.done = true
		if err := it.rows.Err(); err != nil {
			it.rows.Close()
			return nil, &graph.QueryError{Op: "iterate transactions", Err: err}
		}
		it.rows.Close()
		return nil, iterator.Done
	}
	tx, err := scanTransaction(it.rows)
	if err != nil {
		it.done = true
		it.rows.Close()
		return nil, &graph.QueryError{Op: "iterate transactions", Err: err}
	}
	return tx, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount, date, createdAt, updatedAt string
	var loc sql.NullString
	if err := row.Scan(&tx.TransactionID, &tx.AccountID, &amount, &date, &tx.Name,
		&tx.Category, &tx.Subcategory, &tx.MerchantName, &loc, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if tx.Date, err = domain.ParseDate(date); err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if tx.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	if loc.Valid && loc.String != "" {
		var l domain.Location
		if err := json.Unmarshal([]byte(loc.String), &l); err != nil {
			return nil, fmt.Errorf("parse location: %w", err)
		}
		tx.Location = &l
	}
	return &tx, nil
}

func encodeLocation(l *domain.Location) (sql.NullString, error) {
	if l == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

var _ graph.Store = (*Store)(nil)
