package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/helicone/requestquery/internal/logger"
	"github.com/helicone/requestquery/internal/metrics"
	"github.com/helicone/requestquery/internal/query"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/pkg/types"
)

// Pagination bounds, inclusive.
const (
	MaxOffset = 10_000
	MaxLimit  = 1_000
)

// Statement is a compiled, sorted and paginated read for one dialect.
type Statement struct {
	Dialect   types.Dialect
	Predicate string
	Params    []any
	OrderBy   string
	Joins     query.Joins
	Limit     int
	Offset    int
}

type CountStatement struct {
	Dialect   types.Dialect
	Predicate string
	Params    []any
	Joins     query.Joins
}

// Executor routes statements to the store configured for their dialect.
type Executor struct {
	stores map[types.Dialect]storage.Store
	log    *slog.Logger
}

func NewExecutor(stores map[types.Dialect]storage.Store, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{stores: stores, log: log}
}

// Dialects lists the dialects with a configured store.
func (e *Executor) Dialects() []types.Dialect {
	out := make([]types.Dialect, 0, len(e.stores))
	for _, d := range []types.Dialect{types.DialectRowStore, types.DialectAnalytical, types.DialectEmbedded} {
		if _, ok := e.stores[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (e *Executor) store(d types.Dialect) (storage.Store, error) {
	s, ok := e.stores[d]
	if !ok || s == nil {
		return nil, &query.ValidationError{Field: "dialect", Reason: "no store configured for " + string(d)}
	}
	return s, nil
}

func validatePage(limit, offset int) error {
	if offset < 0 || offset > MaxOffset {
		return &query.ValidationError{Field: "offset", Reason: "must be between 0 and 10000"}
	}
	if limit < 0 || limit > MaxLimit {
		return &query.ValidationError{Field: "limit", Reason: "must be between 0 and 1000"}
	}
	return nil
}

// Execute returns the full page or an error, never a partial page.
func (e *Executor) Execute(ctx context.Context, st Statement) ([]*storage.RequestRecord, error) {
	if err := validatePage(st.Limit, st.Offset); err != nil {
		observe(st.Dialect, "query", err)
		return nil, err
	}
	s, err := e.store(st.Dialect)
	if err != nil {
		observe(st.Dialect, "query", err)
		return nil, err
	}

	start := time.Now()
	records, err := s.SelectRequests(ctx, storage.Selection{
		Predicate: st.Predicate,
		Params:    st.Params,
		OrderBy:   st.OrderBy,
		Joins:     st.Joins,
		Limit:     st.Limit,
		Offset:    st.Offset,
	})
	metrics.QueryDuration.WithLabelValues(string(st.Dialect), "query").Observe(time.Since(start).Seconds())
	if err != nil {
		err = asStoreError(st.Dialect, "select requests", err)
		observe(st.Dialect, "query", err)
		logger.FromContext(ctx, e.log).Error("query failed", "dialect", st.Dialect, "error", err)
		return nil, err
	}

	observe(st.Dialect, "query", nil)
	metrics.RowsReturned.WithLabelValues(string(st.Dialect)).Observe(float64(len(records)))
	logger.FromContext(ctx, e.log).Debug("query executed",
		"dialect", st.Dialect,
		"rows", len(records),
		"duration", time.Since(start),
	)
	return records, nil
}

func (e *Executor) Count(ctx context.Context, st CountStatement) (int64, error) {
	s, err := e.store(st.Dialect)
	if err != nil {
		observe(st.Dialect, "count", err)
		return 0, err
	}

	start := time.Now()
	n, err := s.CountRequests(ctx, storage.Selection{
		Predicate: st.Predicate,
		Params:    st.Params,
		Joins:     st.Joins,
	})
	metrics.QueryDuration.WithLabelValues(string(st.Dialect), "count").Observe(time.Since(start).Seconds())
	if err != nil {
		err = asStoreError(st.Dialect, "count requests", err)
		observe(st.Dialect, "count", err)
		logger.FromContext(ctx, e.log).Error("count failed", "dialect", st.Dialect, "error", err)
		return 0, err
	}

	observe(st.Dialect, "count", nil)
	return n, nil
}

func asStoreError(d types.Dialect, op string, err error) error {
	var se *storage.StoreError
	if errors.As(err, &se) {
		return err
	}
	return storage.NewStoreError(d, op, err)
}

func observe(d types.Dialect, op string, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case query.IsValidation(err):
		outcome = metrics.OutcomeValidation
	default:
		outcome = metrics.OutcomeStore
	}
	metrics.QueriesTotal.WithLabelValues(string(d), op, outcome).Inc()
}
