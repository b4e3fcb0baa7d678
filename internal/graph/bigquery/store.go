// Package bigquery implements graph.Store on BigQuery tables. Upserts
// use MERGE DML so the semantics match the other backends; the dataset
// must already contain the accounts, merchants, categories, transactions
// and edges tables.
package bigquery

import (
	"context"
	"fmt"

	bq "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/dvloznov/spendgraph/internal/graph"
	"google.golang.org/api/iterator"
)

// Store is a BigQuery-backed graph store.
type Store struct {
	client    *bq.Client
	projectID string
	datasetID string
}

// NewStore creates a Store with its own client.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bq.NewClient(ctx, projectID)
	if err != nil {
		return nil, &graph.StoreError{Op: "create client", Err: err}
	}
	return NewStoreWithClient(client, projectID, datasetID), nil
}

// NewStoreWithClient creates a Store on an existing client. The caller
// keeps ownership of the client's lifecycle only if it also skips Close.
func NewStoreWithClient(client *bq.Client, projectID, datasetID string) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID}
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

func (s *Store) run(ctx context.Context, op, query string, params []bq.QueryParameter) error {
	q := s.client.Query(query)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return &graph.StoreError{Op: op, Err: err}
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return &graph.StoreError{Op: op, Err: err}
	}
	if err := status.Err(); err != nil {
		return &graph.StoreError{Op: op, Err: err}
	}
	return nil
}

// UpsertAccount implements graph.Store.
func (s *Store) UpsertAccount(ctx context.Context, account *domain.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @account_id AS account_id) S
		ON T.account_id = S.account_id
		WHEN MATCHED THEN UPDATE SET
			name = @name, type = @type, subtype = @subtype,
			institution_name = @institution_name, mask = @mask
		WHEN NOT MATCHED THEN INSERT
			(account_id, name, type, subtype, institution_name, mask)
			VALUES (@account_id, @name, @type, @subtype, @institution_name, @mask)`,
		s.table("accounts"))
	return s.run(ctx, "upsert account", query, []bq.QueryParameter{
		{Name: "account_id", Value: account.AccountID},
		{Name: "name", Value: account.Name},
		{Name: "type", Value: string(account.Type)},
		{Name: "subtype", Value: account.Subtype},
		{Name: "institution_name", Value: account.InstitutionName},
		{Name: "mask", Value: account.Mask},
	})
}

// UpsertMerchant implements graph.Store.
func (s *Store) UpsertMerchant(ctx context.Context, merchant *domain.Merchant) error {
	if merchant.Name == "" {
		return &domain.MalformedRecordError{Field: "merchant_name", Reason: "must not be empty"}
	}
	query := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @name AS name) S
		ON T.name = S.name
		WHEN MATCHED THEN UPDATE SET
			category_hint = @category_hint, location = @location
		WHEN NOT MATCHED THEN INSERT (name, category_hint, location)
			VALUES (@name, @category_hint, @location)`,
		s.table("merchants"))
	return s.run(ctx, "upsert merchant", query, []bq.QueryParameter{
		{Name: "name", Value: merchant.Name},
		{Name: "category_hint", Value: merchant.CategoryHint},
		{Name: "location", Value: locationToJSON(merchant.Location)},
	})
}

// UpsertCategory implements graph.Store.
func (s *Store) UpsertCategory(ctx context.Context, category *domain.Category) error {
	if category.Name == "" {
		return &domain.MalformedRecordError{Field: "category_name", Reason: "must not be empty"}
	}
	query := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @name AS name) S
		ON T.name = S.name
		WHEN MATCHED THEN UPDATE SET parent_category = @parent_category
		WHEN NOT MATCHED THEN INSERT (name, parent_category)
			VALUES (@name, @parent_category)`,
		s.table("categories"))
	return s.run(ctx, "upsert category", query, []bq.QueryParameter{
		{Name: "name", Value: category.Name},
		{Name: "parent_category", Value: category.ParentCategory},
	})
}

// UpsertTransaction implements graph.Store. BigQuery lacks multi-table
// transactions, so the node lands before the edges; the edge writes are
// idempotent MERGEs, and a retried upsert converges to the same state.
func (s *Store) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @transaction_id AS transaction_id) S
		ON T.transaction_id = S.transaction_id
		WHEN MATCHED THEN UPDATE SET
			account_id = @account_id, amount = @amount, date = @date,
			name = @name, category = @category, subcategory = @subcategory,
			merchant_name = @merchant_name, location = @location,
			updated_ts = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN INSERT
			(transaction_id, account_id, amount, date, name, category,
			 subcategory, merchant_name, location, created_ts, updated_ts)
			VALUES (@transaction_id, @account_id, @amount, @date, @name,
			 @category, @subcategory, @merchant_name, @location,
			 CURRENT_TIMESTAMP(), CURRENT_TIMESTAMP())`,
		s.table("transactions"))
	err := s.run(ctx, "upsert transaction", query, []bq.QueryParameter{
		{Name: "transaction_id", Value: tx.TransactionID},
		{Name: "account_id", Value: tx.AccountID},
		{Name: "amount", Value: decimalToRat(tx.Amount)},
		{Name: "date", Value: civil.DateOf(tx.Date)},
		{Name: "name", Value: tx.Name},
		{Name: "category", Value: tx.Category},
		{Name: "subcategory", Value: tx.Subcategory},
		{Name: "merchant_name", Value: tx.MerchantName},
		{Name: "location", Value: locationToJSON(tx.Location)},
	})
	if err != nil {
		return err
	}

	// Drop stale outgoing/incoming edges, then re-establish the current
	// ones. Matches the edge-refresh behavior of the other backends.
	dropQuery := fmt.Sprintf(`
		DELETE FROM %s
		WHERE (kind IN ('%s', '%s') AND from_id = @transaction_id)
		   OR (kind = '%s' AND to_id = @transaction_id)`,
		s.table("edges"), graph.EdgeAtMerchant, graph.EdgeInCategory, graph.EdgeHasTransaction)
	if err := s.run(ctx, "refresh transaction edges", dropQuery, []bq.QueryParameter{
		{Name: "transaction_id", Value: tx.TransactionID},
	}); err != nil {
		return err
	}

	hasEdgeQuery := fmt.Sprintf(`
		MERGE %s T
		USING (
			SELECT '%s' AS kind, account_id AS from_id, @transaction_id AS to_id
			FROM %s WHERE account_id = @account_id
		) S
		ON T.kind = S.kind AND T.from_id = S.from_id AND T.to_id = S.to_id
		WHEN NOT MATCHED THEN INSERT (kind, from_id, to_id)
			VALUES (S.kind, S.from_id, S.to_id)`,
		s.table("edges"), graph.EdgeHasTransaction, s.table("accounts"))
	if err := s.run(ctx, "write account edge", hasEdgeQuery, []bq.QueryParameter{
		{Name: "transaction_id", Value: tx.TransactionID},
		{Name: "account_id", Value: tx.AccountID},
	}); err != nil {
		return err
	}

	if tx.MerchantName != "" {
		if err := s.ensureNodeAndEdge(ctx, "merchants", "name", tx.MerchantName,
			graph.EdgeAtMerchant, tx.TransactionID, tx.MerchantName); err != nil {
			return err
		}
	}
	if tx.Category != "" {
		if err := s.ensureNodeAndEdge(ctx, "categories", "name", tx.Category,
			graph.EdgeInCategory, tx.TransactionID, tx.Category); err != nil {
			return err
		}
	}
	return nil
}

// ensureNodeAndEdge creates the named node if absent and the edge to it.
func (s *Store) ensureNodeAndEdge(ctx context.Context, table, keyCol, keyVal, kind, fromID, toID string) error {
	nodeQuery := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @key AS %s) S
		ON T.%s = S.%s
		WHEN NOT MATCHED THEN INSERT (%s) VALUES (@key)`,
		s.table(table), keyCol, keyCol, keyCol, keyCol)
	if err := s.run(ctx, "write "+table+" node", nodeQuery, []bq.QueryParameter{
		{Name: "key", Value: keyVal},
	}); err != nil {
		return err
	}

	edgeQuery := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @kind AS kind, @from_id AS from_id, @to_id AS to_id) S
		ON T.kind = S.kind AND T.from_id = S.from_id AND T.to_id = S.to_id
		WHEN NOT MATCHED THEN INSERT (kind, from_id, to_id)
			VALUES (S.kind, S.from_id, S.to_id)`,
		s.table("edges"))
	return s.run(ctx, "write "+table+" edge", edgeQuery, []bq.QueryParameter{
		{Name: "kind", Value: kind},
		{Name: "from_id", Value: fromID},
		{Name: "to_id", Value: toID},
	})
}

// GetTransaction implements graph.Store.
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT transaction_id, account_id, amount, date, name, category,
		       subcategory, merchant_name, location, created_ts, updated_ts
		FROM %s WHERE transaction_id = @transaction_id`, s.table("transactions"))
	q := s.client.Query(query)
	q.Parameters = []bq.QueryParameter{{Name: "transaction_id", Value: transactionID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, &graph.QueryError{Op: "get transaction", Err: err}
	}
	var row transactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, &graph.QueryError{Op: "get transaction", Err: graph.ErrNotFound}
	}
	if err != nil {
		return nil, &graph.QueryError{Op: "get transaction", Err: err}
	}
	tx, err := row.toDomain()
	if err != nil {
		return nil, &graph.QueryError{Op: "get transaction", Err: err}
	}
	return tx, nil
}

// GetAccount implements graph.Store.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := fmt.Sprintf(`
		SELECT account_id, name, type, subtype, institution_name, mask
		FROM %s WHERE account_id = @account_id`, s.table("accounts"))
	q := s.client.Query(query)
	q.Parameters = []bq.QueryParameter{{Name: "account_id", Value: accountID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, &graph.QueryError{Op: "get account", Err: err}
	}
	var row accountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, &graph.QueryError{Op: "get account", Err: graph.ErrNotFound}
	}
	if err != nil {
		return nil, &graph.QueryError{Op: "get account", Err: err}
	}
	return &domain.Account{
		AccountID:       row.AccountID,
		Name:            row.Name,
		Type:            domain.AccountType(row.Type),
		Subtype:         row.Subtype,
		InstitutionName: row.InstitutionName,
		Mask:            row.Mask,
	}, nil
}

// Transactions implements graph.Store.
func (s *Store) Transactions(ctx context.Context, filter graph.Filter) (graph.TransactionIterator, error) {
	query := fmt.Sprintf(`
		SELECT transaction_id, account_id, amount, date, name, category,
		       subcategory, merchant_name, location, created_ts, updated_ts
		FROM %s WHERE TRUE`, s.table("transactions"))
	var params []bq.QueryParameter
	if filter.AccountID != "" {
		query += " AND account_id = @account_id"
		params = append(params, bq.QueryParameter{Name: "account_id", Value: filter.AccountID})
	}
	if filter.Category != "" {
		query += " AND category = @category"
		params = append(params, bq.QueryParameter{Name: "category", Value: filter.Category})
	}
	if filter.MerchantName != "" {
		query += " AND merchant_name = @merchant_name"
		params = append(params, bq.QueryParameter{Name: "merchant_name", Value: filter.MerchantName})
	}
	if filter.MerchantOnly {
		query += " AND merchant_name != ''"
	}
	if !filter.Start.IsZero() {
		query += " AND date >= @start_date"
		params = append(params, bq.QueryParameter{Name: "start_date", Value: civil.DateOf(filter.Start)})
	}
	if !filter.End.IsZero() {
		query += " AND date <= @end_date"
		params = append(params, bq.QueryParameter{Name: "end_date", Value: civil.DateOf(filter.End)})
	}
	query += " ORDER BY date, transaction_id"

	q := s.client.Query(query)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, &graph.QueryError{Op: "query transactions", Err: err}
	}
	return &bqIterator{it: it}, nil
}

// ListAccounts implements graph.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	query := fmt.Sprintf(`
		SELECT account_id, name, type, subtype, institution_name, mask
		FROM %s ORDER BY account_id`, s.table("accounts"))
	it, err := s.client.Query(query).Read(ctx)
	if err != nil {
		return nil, &graph.QueryError{Op: "list accounts", Err: err}
	}

	var out []*domain.Account
	for {
		var row accountRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &graph.QueryError{Op: "list accounts", Err: err}
		}
		out = append(out, &domain.Account{
			AccountID:       row.AccountID,
			Name:            row.Name,
			Type:            domain.AccountType(row.Type),
			Subtype:         row.Subtype,
			InstitutionName: row.InstitutionName,
			Mask:            row.Mask,
		})
	}
	return out, nil
}

// ListMerchants implements graph.Store.
func (s *Store) ListMerchants(ctx context.Context) ([]*domain.Merchant, error) {
	query := fmt.Sprintf(`
		SELECT name, category_hint, location FROM %s ORDER BY name`, s.table("merchants"))
	it, err := s.client.Query(query).Read(ctx)
	if err != nil {
		return nil, &graph.QueryError{Op: "list merchants", Err: err}
	}

	var out []*domain.Merchant
	for {
		var row merchantRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &graph.QueryError{Op: "list merchants", Err: err}
		}
		loc, err := locationFromJSON(row.Location)
		if err != nil {
			return nil, &graph.QueryError{Op: "list merchants", Err: err}
		}
		out = append(out, &domain.Merchant{
			Name:         row.Name,
			CategoryHint: row.CategoryHint,
			Location:     loc,
		})
	}
	return out, nil
}

// ListCategories implements graph.Store.
func (s *Store) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	query := fmt.Sprintf(`
		SELECT name, parent_category FROM %s ORDER BY name`, s.table("categories"))
	it, err := s.client.Query(query).Read(ctx)
	if err != nil {
		return nil, &graph.QueryError{Op: "list categories", Err: err}
	}

	var out []*domain.Category
	for {
		var row categoryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &graph.QueryError{Op: "list categories", Err: err}
		}
		out = append(out, &domain.Category{
			Name:           row.Name,
			ParentCategory: row.ParentCategory,
		})
	}
	return out, nil
}

// Stats implements graph.Store.
func (s *Store) Stats(ctx context.Context) (*graph.Stats, error) {
	query := fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM %s) AS transactions,
			(SELECT COUNT(*) FROM %s) AS accounts,
			(SELECT COUNT(*) FROM %s) AS merchants,
			(SELECT COUNT(*) FROM %s) AS categories,
			(SELECT COUNT(*) FROM %s) AS relationships`,
		s.table("transactions"), s.table("accounts"), s.table("merchants"),
		s.table("categories"), s.table("edges"))
	it, err := s.client.Query(query).Read(ctx)
	if err != nil {
		return nil, &graph.QueryError{Op: "stats", Err: err}
	}

	var row struct {
		Transactions  int64 `bigquery:"transactions"`
		Accounts      int64 `bigquery:"accounts"`
		Merchants     int64 `bigquery:"merchants"`
		Categories    int64 `bigquery:"categories"`
		Relationships int64 `bigquery:"relationships"`
	}
	if err := it.Next(&row); err != nil {
		return nil, &graph.QueryError{Op: "stats", Err: err}
	}
	return &graph.Stats{
		Transactions:  int(row.Transactions),
		Accounts:      int(row.Accounts),
		Merchants:     int(row.Merchants),
		Categories:    int(row.Categories),
		Relationships: int(row.Relationships),
	}, nil
}

// Clear implements graph.Store.
func (s *Store) Clear(ctx context.Context, confirm string) error {
	if confirm != graph.WipeConfirmToken {
		return graph.ErrBadConfirmToken
	}
	for _, table := range []string{"edges", "transactions", "merchants", "categories", "accounts"} {
		query := fmt.Sprintf("TRUNCATE TABLE %s", s.table(table))
		if err := s.run(ctx, "clear "+table, query, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close implements graph.Store.
func (s *Store) Close() error {
	return s.client.Close()
}

// bqIterator adapts the BigQuery row iterator to the store contract.
type bqIterator struct {
	it *bq.RowIterator
}

func (b *bqIterator) Next() (*domain.Transaction, error) {
	var row transactionRow
	err := b.it.Next(&row)
	if err == iterator.Done {
		return nil, iterator.Done
	}
	if err != nil {
		return nil, &graph.QueryError{Op: "iterate transactions", Err: err}
	}
	tx, err := row.toDomain()
	if err != nil {
		return nil, &graph.QueryError{Op: "iterate transactions", Err: err}
	}
	return tx, nil
}

var _ graph.Store = (*Store)(nil)
