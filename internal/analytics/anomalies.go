package analytics

import (
	"context"
	"math"
	"sort"

	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/dvloznov/spendgraph/internal/graph"
	"github.com/shopspring/decimal"
)

// relativeAmountWindow is the similarity rule's amount tolerance: the
// amount term contributes when |a-b| / |target| is below this fraction.
var relativeAmountWindow = decimal.NewFromFloat(0.2)

// DetectAnomalies flags transactions whose amount deviates from their
// category mean by more than thresholdMultiplier population standard
// deviations. Uncategorized transactions are ignored. A category with
// fewer than two transactions or zero variance contributes no anomalies;
// that guard is what keeps the score division well-defined. Results are
// ordered by score descending (ties by transaction ID ascending) and
// capped at maxAnomalyResults.
func (e *Engine) DetectAnomalies(ctx context.Context, thresholdMultiplier float64) ([]Anomaly, error) {
	txs, err := e.collect(ctx, graph.Filter{})
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string][]*domain.Transaction)
	for _, tx := range txs {
		if tx.Category == "" {
			continue
		}
		byCategory[tx.Category] = append(byCategory[tx.Category], tx)
	}

	var out []Anomaly
	for category, group := range byCategory {
		if len(group) < 2 {
			continue
		}

		total := decimal.Zero
		amounts := make([]float64, len(group))
		for i, tx := range group {
			total = total.Add(tx.Amount)
			amounts[i] = tx.Amount.InexactFloat64()
		}
		mean := total.Div(decimal.NewFromInt(int64(len(group))))
		meanF := mean.InexactFloat64()

		var sq float64
		for _, a := range amounts {
			d := a - meanF
			sq += d * d
		}
		stdev := math.Sqrt(sq / float64(len(amounts)))
		if stdev == 0 {
			// Zero variance: every amount equals the mean, nothing can
			// be an outlier and the score would divide by zero.
			continue
		}

		for _, tx := range group {
			score := math.Abs(tx.Amount.InexactFloat64()-meanF) / stdev
			if score > thresholdMultiplier {
				out = append(out, Anomaly{
					TransactionID: tx.TransactionID,
					Name:          tx.Name,
					Amount:        tx.Amount,
					Date:          tx.Date,
					Category:      category,
					CategoryMean:  mean,
					Score:         score,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	if len(out) > maxAnomalyResults {
		out = out[:maxAnomalyResults]
	}
	return out, nil
}

// SimilarTransactions scores every other transaction against the target
// by a weighted rule: +1.0 for the same merchant, +0.5 for the same
// category, +0.3 when the relative amount difference is inside
// relativeAmountWindow. A zero target amount skips the amount term
// rather than dividing by it. Only scores strictly above threshold are
// returned, ordered by score descending with ties broken by transaction
// ID ascending.
//
// The rule is a deliberately simple heuristic, not a learned similarity
// model; it exists so "show me transactions like this one" is explainable.
func (e *Engine) SimilarTransactions(ctx context.Context, transactionID string, threshold float64) ([]SimilarTransaction, error) {
	target, err := e.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	txs, err := e.collect(ctx, graph.Filter{})
	if err != nil {
		return nil, err
	}

	var out []SimilarTransaction
	for _, tx := range txs {
		if tx.TransactionID == target.TransactionID {
			continue
		}

		score := 0.0
		if target.MerchantName != "" && tx.MerchantName == target.MerchantName {
			score += 1.0
		}
		if target.Category != "" && tx.Category == target.Category {
			score += 0.5
		}
		if !target.Amount.IsZero() {
			rel := tx.Amount.Sub(target.Amount).Abs().Div(target.Amount.Abs())
			if rel.LessThan(relativeAmountWindow) {
				score += 0.3
			}
		}

		if score > threshold {
			out = append(out, SimilarTransaction{
				TransactionID: tx.TransactionID,
				Name:          tx.Name,
				Amount:        tx.Amount,
				Date:          tx.Date,
				Category:      tx.Category,
				Merchant:      tx.MerchantName,
				Score:         score,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out, nil
}
