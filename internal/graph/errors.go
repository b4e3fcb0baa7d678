package graph

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by point lookups for missing entities.
var ErrNotFound = errors.New("graph: not found")

// ErrBadConfirmToken is returned by Clear when the confirmation token
// does not match WipeConfirmToken.
var ErrBadConfirmToken = errors.New("graph: clear requires the wipe confirmation token")

// StoreError wraps a backend failure during a write. Callers may retry
// the whole operation; upserts are idempotent.
type StoreError struct {
	Op  string // e.g. "upsert transaction"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("graph store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// QueryError wraps a backend failure during a read. It is surfaced
// directly by the analytics operation that triggered it and is never
// converted to an empty result, so callers can tell "no data" from
// "query failed".
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("graph query: %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
