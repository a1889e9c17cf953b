package storage

import (
	"context"

	"github.com/helicone/requestquery/internal/query"
)

// Selection is one compiled read. Predicate and OrderBy come from the query
// package; Params line up with the predicate's placeholders.
type Selection struct {
	Predicate string
	Params    []any
	OrderBy   string
	Joins     query.Joins
	Limit     int
	Offset    int
}

// Store is a read-only request store for one dialect.
type Store interface {
	SelectRequests(ctx context.Context, sel Selection) ([]*RequestRecord, error)
	// CountRequests ignores OrderBy, Limit and Offset.
	CountRequests(ctx context.Context, sel Selection) (int64, error)

	Close() error
}
