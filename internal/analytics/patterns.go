package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/dvloznov/spendgraph/internal/graph"
	"github.com/shopspring/decimal"
)

// recurringAmountWindow bounds the absolute amount difference between
// two visits for them to count as the same recurring charge.
var recurringAmountWindow = decimal.NewFromInt(5)

// Recurring cadence bounds in days: strictly more than a week apart,
// strictly less than ~a month.
const (
	recurringMinGapDays = 7
	recurringMaxGapDays = 35
)

// minRecurringVisits is how many qualifying visits a merchant needs to
// be reported as a recurring pattern.
const minRecurringVisits = 3

// MerchantCoOccurrence counts, per pair of distinct merchants, how often
// the same account transacted at both within maxGapDays calendar days.
// Each transaction pair is counted once with the merchant names in
// lexicographic order. Pairs seen fewer than minCoOccurrenceCount times
// are dropped. Ordered by count descending, then merchant names.
func (e *Engine) MerchantCoOccurrence(ctx context.Context, maxGapDays int) ([]CoOccurrence, error) {
	txs, err := e.collect(ctx, graph.Filter{MerchantOnly: true})
	if err != nil {
		return nil, err
	}

	byAccount := make(map[string][]*domain.Transaction)
	for _, tx := range txs {
		byAccount[tx.AccountID] = append(byAccount[tx.AccountID], tx)
	}

	type pair struct{ a, b string }
	counts := make(map[pair]int)
	for _, group := range byAccount {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				t1, t2 := group[i], group[j]
				if t1.MerchantName == t2.MerchantName {
					continue
				}
				gap := domain.DaysBetween(t1.Date, t2.Date)
				if gap < 0 {
					gap = -gap
				}
				if gap > maxGapDays {
					continue
				}
				p := pair{t1.MerchantName, t2.MerchantName}
				if p.b < p.a {
					p.a, p.b = p.b, p.a
				}
				counts[p]++
			}
		}
	}

	var out []CoOccurrence
	for p, n := range counts {
		if n < minCoOccurrenceCount {
			continue
		}
		out = append(out, CoOccurrence{MerchantA: p.a, MerchantB: p.b, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].MerchantA != out[j].MerchantA {
			return out[i].MerchantA < out[j].MerchantA
		}
		return out[i].MerchantB < out[j].MerchantB
	})
	return out, nil
}

// CategoryTransitions finds, for one account, ordered pairs of
// transactions (t1 strictly before t2, gap at most maxGapDays, different
// non-empty categories) and counts how often category A is followed by
// category B, with the average gap in days. Transitions observed fewer
// than minTransitionCount times are dropped. Ordered by count
// descending, then category names.
func (e *Engine) CategoryTransitions(ctx context.Context, accountID string, maxGapDays int) ([]Transition, error) {
	txs, err := e.collect(ctx, graph.Filter{AccountID: accountID})
	if err != nil {
		return nil, err
	}

	type key struct{ from, to string }
	type agg struct {
		count   int
		gapDays int
	}
	groups := make(map[key]*agg)
	for i := 0; i < len(txs); i++ {
		for j := 0; j < len(txs); j++ {
			t1, t2 := txs[i], txs[j]
			if t1.Category == "" || t2.Category == "" || t1.Category == t2.Category {
				continue
			}
			if !t1.Date.Before(t2.Date) {
				continue
			}
			gap := domain.DaysBetween(t1.Date, t2.Date)
			if gap > maxGapDays {
				continue
			}
			k := key{t1.Category, t2.Category}
			g, ok := groups[k]
			if !ok {
				g = &agg{}
				groups[k] = g
			}
			g.count++
			g.gapDays += gap
		}
	}

	var out []Transition
	for k, g := range groups {
		if g.count < minTransitionCount {
			continue
		}
		out = append(out, Transition{
			FromCategory: k.from,
			ToCategory:   k.to,
			Count:        g.count,
			AvgGapDays:   float64(g.gapDays) / float64(g.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].FromCategory != out[j].FromCategory {
			return out[i].FromCategory < out[j].FromCategory
		}
		return out[i].ToCategory < out[j].ToCategory
	})
	return out, nil
}

// SpendingVelocity buckets each account's transactions into calendar
// weeks and reports the average weekly transaction count and amount, the
// population standard deviation of weekly amounts, and volatility
// (stdev/mean, zero when the mean is zero). A non-empty accountID
// restricts the report to that account. Accounts without transactions
// are omitted. Ordered by average weekly amount descending.
func (e *Engine) SpendingVelocity(ctx context.Context, accountID string) ([]VelocityReport, error) {
	var accounts []*domain.Account
	if accountID != "" {
		a, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		accounts = []*domain.Account{a}
	} else {
		var err error
		accounts, err = e.store.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
	}

	var out []VelocityReport
	for _, account := range accounts {
		txs, err := e.collect(ctx, graph.Filter{AccountID: account.AccountID})
		if err != nil {
			return nil, err
		}
		if len(txs) == 0 {
			continue
		}

		type week struct {
			count  int
			amount decimal.Decimal
		}
		weeks := make(map[time.Time]*week)
		for _, tx := range txs {
			ws := weekStart(tx.Date)
			w, ok := weeks[ws]
			if !ok {
				w = &week{}
				weeks[ws] = w
			}
			w.count++
			w.amount = w.amount.Add(tx.Amount)
		}

		total := decimal.Zero
		amounts := make([]float64, 0, len(weeks))
		for _, w := range weeks {
			total = total.Add(w.amount)
			amounts = append(amounts, w.amount.InexactFloat64())
		}
		mean, stdev := meanStdev(amounts)

		report := VelocityReport{
			AccountID:         account.AccountID,
			AccountName:       account.Name,
			Weeks:             len(weeks),
			AvgWeeklyCount:    float64(len(txs)) / float64(len(weeks)),
			AvgWeeklyAmount:   total.Div(decimal.NewFromInt(int64(len(weeks)))),
			StdevWeeklyAmount: stdev,
		}
		if mean != 0 {
			report.Volatility = stdev / mean
		}
		out = append(out, report)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].AvgWeeklyAmount.Equal(out[j].AvgWeeklyAmount) {
			return out[i].AvgWeeklyAmount.GreaterThan(out[j].AvgWeeklyAmount)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

// RecurringMerchants reports merchants that look like recurring charges:
// at least minRecurringVisits transactions participating in pairs with
// near-identical amounts (within recurringAmountWindow) spaced between
// recurringMinGapDays and recurringMaxGapDays apart. Ordered by
// participating transaction count descending, then merchant name.
func (e *Engine) RecurringMerchants(ctx context.Context) ([]RecurringPattern, error) {
	txs, err := e.collect(ctx, graph.Filter{MerchantOnly: true})
	if err != nil {
		return nil, err
	}

	byMerchant := make(map[string][]*domain.Transaction)
	for _, tx := range txs {
		byMerchant[tx.MerchantName] = append(byMerchant[tx.MerchantName], tx)
	}

	var out []RecurringPattern
	for merchant, group := range byMerchant {
		participants := make(map[int]struct{})
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				diff := group[i].Amount.Sub(group[j].Amount).Abs()
				if !diff.LessThan(recurringAmountWindow) {
					continue
				}
				gap := domain.DaysBetween(group[i].Date, group[j].Date)
				if gap < 0 {
					gap = -gap
				}
				if gap <= recurringMinGapDays || gap >= recurringMaxGapDays {
					continue
				}
				participants[i] = struct{}{}
				participants[j] = struct{}{}
			}
		}
		if len(participants) < minRecurringVisits {
			continue
		}

		pattern := RecurringPattern{Merchant: merchant, Count: len(participants)}
		first := true
		total := decimal.Zero
		for i := range participants {
			amt := group[i].Amount
			total = total.Add(amt)
			if first || amt.LessThan(pattern.MinAmount) {
				pattern.MinAmount = amt
			}
			if first || amt.GreaterThan(pattern.MaxAmount) {
				pattern.MaxAmount = amt
			}
			first = false
		}
		pattern.AvgAmount = total.Div(decimal.NewFromInt(int64(len(participants))))
		out = append(out, pattern)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Merchant < out[j].Merchant
	})
	return out, nil
}

// DayOfWeekProfile reports the average transaction amount per category
// and weekday, for cells with at least two transactions. Ordered by
// category ascending, then Monday through Sunday.
func (e *Engine) DayOfWeekProfile(ctx context.Context) ([]DayOfWeekStat, error) {
	txs, err := e.collect(ctx, graph.Filter{})
	if err != nil {
		return nil, err
	}

	type key struct {
		category string
		weekday  time.Weekday
	}
	type agg struct {
		count int
		total decimal.Decimal
	}
	groups := make(map[key]*agg)
	for _, tx := range txs {
		if tx.Category == "" {
			continue
		}
		k := key{tx.Category, tx.Date.Weekday()}
		g, ok := groups[k]
		if !ok {
			g = &agg{}
			groups[k] = g
		}
		g.count++
		g.total = g.total.Add(tx.Amount)
	}

	var out []DayOfWeekStat
	for k, g := range groups {
		if g.count < 2 {
			continue
		}
		out = append(out, DayOfWeekStat{
			Category: k.category,
			Weekday:  k.weekday.String(),
			Count:    g.count,
			Average:  g.total.Div(decimal.NewFromInt(int64(g.count))),
		})
	}

	mondayFirst := func(name string) int {
		order := map[string]int{
			"Monday": 0, "Tuesday": 1, "Wednesday": 2, "Thursday": 3,
			"Friday": 4, "Saturday": 5, "Sunday": 6,
		}
		return order[name]
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return mondayFirst(out[i].Weekday) < mondayFirst(out[j].Weekday)
	})
	return out, nil
}
