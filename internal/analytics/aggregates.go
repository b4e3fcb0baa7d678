package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/dvloznov/spendgraph/internal/graph"
	"github.com/shopspring/decimal"
)

// SpendingByCategory groups transactions dated within the last `days`
// calendar days (inclusive of today) by category name. Transactions
// without a category land in FallbackCategory. Rows are ordered by total
// descending, ties broken by category name ascending.
func (e *Engine) SpendingByCategory(ctx context.Context, days int) ([]CategorySpend, error) {
	end := e.today()
	start := end.AddDate(0, 0, -days)

	txs, err := e.collect(ctx, graph.Filter{Start: start, End: end})
	if err != nil {
		return nil, err
	}

	type agg struct {
		count int
		total decimal.Decimal
	}
	groups := make(map[string]*agg)
	for _, tx := range txs {
		name := tx.Category
		if name == "" {
			name = FallbackCategory
		}
		g, ok := groups[name]
		if !ok {
			g = &agg{}
			groups[name] = g
		}
		g.count++
		g.total = g.total.Add(tx.Amount)
	}

	out := make([]CategorySpend, 0, len(groups))
	for name, g := range groups {
		out = append(out, CategorySpend{
			Category: name,
			Count:    g.count,
			Total:    g.total,
			Average:  g.total.Div(decimal.NewFromInt(int64(g.count))),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// MerchantAnalysis ranks merchants by total transaction amount,
// descending, truncated to limit. Transactions without a merchant are
// excluded. Each row carries the distinct categories seen at that
// merchant, sorted by name.
func (e *Engine) MerchantAnalysis(ctx context.Context, limit int) ([]MerchantSummary, error) {
	txs, err := e.collect(ctx, graph.Filter{MerchantOnly: true})
	if err != nil {
		return nil, err
	}

	type agg struct {
		count      int
		total      decimal.Decimal
		categories map[string]struct{}
	}
	groups := make(map[string]*agg)
	for _, tx := range txs {
		g, ok := groups[tx.MerchantName]
		if !ok {
			g = &agg{categories: make(map[string]struct{})}
			groups[tx.MerchantName] = g
		}
		g.count++
		g.total = g.total.Add(tx.Amount)
		if tx.Category != "" {
			g.categories[tx.Category] = struct{}{}
		}
	}

	out := make([]MerchantSummary, 0, len(groups))
	for name, g := range groups {
		cats := make([]string, 0, len(g.categories))
		for c := range g.categories {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		out = append(out, MerchantSummary{
			Merchant:   name,
			Count:      g.count,
			Total:      g.total,
			Average:    g.total.Div(decimal.NewFromInt(int64(g.count))),
			Categories: cats,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].Merchant < out[j].Merchant
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SpendingTrends buckets transactions by calendar month, most recent
// month first. With a non-empty accountID only that account's
// transactions are considered.
func (e *Engine) SpendingTrends(ctx context.Context, accountID string) ([]MonthlyTrend, error) {
	txs, err := e.collect(ctx, graph.Filter{AccountID: accountID})
	if err != nil {
		return nil, err
	}

	type agg struct {
		count int
		total decimal.Decimal
	}
	groups := make(map[string]*agg)
	for _, tx := range txs {
		month := tx.Date.Format("2006-01")
		g, ok := groups[month]
		if !ok {
			g = &agg{}
			groups[month] = g
		}
		g.count++
		g.total = g.total.Add(tx.Amount)
	}

	out := make([]MonthlyTrend, 0, len(groups))
	for month, g := range groups {
		out = append(out, MonthlyTrend{
			Month:   month,
			Count:   g.count,
			Total:   g.total,
			Average: g.total.Div(decimal.NewFromInt(int64(g.count))),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month > out[j].Month })
	return out, nil
}

// AccountSummary aggregates transaction totals, the date range covered,
// and the distinct categories for one account. Returns ErrNotFound
// (wrapped in a QueryError) for an unknown account.
func (e *Engine) AccountSummary(ctx context.Context, accountID string) (*AccountSummary, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	txs, err := e.collect(ctx, graph.Filter{AccountID: accountID})
	if err != nil {
		return nil, err
	}

	summary := &AccountSummary{
		AccountID:       account.AccountID,
		Name:            account.Name,
		Type:            string(account.Type),
		InstitutionName: account.InstitutionName,
		Count:           len(txs),
		Categories:      []string{},
	}
	if len(txs) == 0 {
		return summary, nil
	}

	cats := make(map[string]struct{})
	var earliest, latest time.Time
	for i, tx := range txs {
		summary.Total = summary.Total.Add(tx.Amount)
		if tx.Category != "" {
			cats[tx.Category] = struct{}{}
		}
		if i == 0 || tx.Date.Before(earliest) {
			earliest = tx.Date
		}
		if i == 0 || tx.Date.After(latest) {
			latest = tx.Date
		}
	}
	summary.Average = summary.Total.Div(decimal.NewFromInt(int64(len(txs))))
	summary.Earliest = earliest
	summary.Latest = latest
	for c := range cats {
		summary.Categories = append(summary.Categories, c)
	}
	sort.Strings(summary.Categories)
	return summary, nil
}
