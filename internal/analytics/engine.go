// Package analytics implements the read-only analytics engine over the
// transaction graph store.
//
// Every operation is a pure read: it queries the store, aggregates in
// memory in a single pass, and returns an ordered result. Monetary sums
// and averages use decimal arithmetic end to end; only dimensionless
// scores (z-scores, volatility) use binary floating point. A store read
// failure surfaces as a *graph.QueryError - no operation converts a
// failed read into an empty result.
package analytics

import (
	"context"
	"math"
	"time"

	"github.com/dvloznov/spendgraph/internal/domain"
	"github.com/dvloznov/spendgraph/internal/graph"
	"google.golang.org/api/iterator"
)

const (
	// maxAnomalyResults caps DetectAnomalies output.
	maxAnomalyResults = 20

	// minCoOccurrenceCount filters merchant pairs seen together fewer
	// than this many times.
	minCoOccurrenceCount = 2

	// minTransitionCount filters category transitions observed fewer
	// than this many times.
	minTransitionCount = 2
)

// Engine computes analytical views over a graph store. It never mutates
// store state and holds no state of its own between calls, so any number
// of operations may run concurrently.
type Engine struct {
	store graph.Store
	now   func() time.Time
}

// NewEngine creates an analytics engine reading from the given store.
func NewEngine(store graph.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// today returns the current calendar date at UTC midnight.
func (e *Engine) today() time.Time {
	t := e.now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// collect drains a store query into a slice. Row order is the store's
// deterministic (date, transaction_id) ordering.
func (e *Engine) collect(ctx context.Context, filter graph.Filter) ([]*domain.Transaction, error) {
	it, err := e.store.Transactions(ctx, filter)
	if err != nil {
		return nil, err
	}

	var out []*domain.Transaction
	for {
		tx, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// meanStdev returns the mean and population standard deviation of xs.
func meanStdev(xs []float64) (mean, stdev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// weekStart truncates a date to the Monday of its calendar week.
func weekStart(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
