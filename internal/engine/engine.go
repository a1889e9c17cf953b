package engine

import (
	"context"

	"github.com/helicone/requestquery/internal/query"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/pkg/types"
)

// Hydrator enriches a page with signed body and asset URLs.
type Hydrator interface {
	Hydrate(ctx context.Context, records []*storage.RequestRecord, tenantID string) ([]*storage.RequestRecord, error)
}

type QueryParams struct {
	Filter         types.Filter
	Offset         int
	Limit          int
	Sort           types.SortSpec
	Dialect        types.Dialect
	GovernanceOnly bool
}

type CountParams struct {
	Filter         types.Filter
	Dialect        types.Dialect
	GovernanceOnly bool
}

type Config struct {
	// DefaultDialect serves calls that name no dialect.
	DefaultDialect types.Dialect `yaml:"default_dialect"`
}

// Engine runs guard, compile, sort, execute and hydrate for one call.
type Engine struct {
	executor *Executor
	hydrator Hydrator
	config   Config
}

func New(executor *Executor, hydrator Hydrator, config Config) *Engine {
	if config.DefaultDialect == "" {
		config.DefaultDialect = types.DialectRowStore
	}
	return &Engine{executor: executor, hydrator: hydrator, config: config}
}

func (e *Engine) dialect(d types.Dialect) types.Dialect {
	if d == "" {
		return e.config.DefaultDialect
	}
	return d
}

// Plan builds the statement Query would run, without touching a store.
func (e *Engine) Plan(tenantID string, p QueryParams) (Statement, error) {
	d := e.dialect(p.Dialect)

	scoped, err := query.Guard(p.Filter, tenantID, query.WithGovernanceOnly(p.GovernanceOnly))
	if err != nil {
		return Statement{}, err
	}
	compiled, err := query.Compile(scoped, d)
	if err != nil {
		return Statement{}, err
	}
	orderBy, err := query.ResolveSort(p.Sort, d)
	if err != nil {
		return Statement{}, err
	}

	return Statement{
		Dialect:   d,
		Predicate: compiled.Predicate,
		Params:    compiled.Params,
		OrderBy:   orderBy.Fragment,
		Joins:     compiled.Joins | orderBy.Joins,
		Limit:     p.Limit,
		Offset:    p.Offset,
	}, nil
}

// Query returns one hydrated page of tenantID's requests.
func (e *Engine) Query(ctx context.Context, tenantID string, p QueryParams) ([]*storage.RequestRecord, error) {
	st, err := e.Plan(tenantID, p)
	if err != nil {
		return nil, err
	}
	records, err := e.executor.Execute(ctx, st)
	if err != nil {
		return nil, err
	}
	if e.hydrator == nil {
		return records, nil
	}
	return e.hydrator.Hydrate(ctx, records, tenantID)
}

// Count returns how many of tenantID's requests match the filter.
func (e *Engine) Count(ctx context.Context, tenantID string, p CountParams) (int64, error) {
	d := e.dialect(p.Dialect)

	scoped, err := query.Guard(p.Filter, tenantID, query.WithGovernanceOnly(p.GovernanceOnly))
	if err != nil {
		return 0, err
	}
	compiled, err := query.Compile(scoped, d)
	if err != nil {
		return 0, err
	}
	return e.executor.Count(ctx, CountStatement{
		Dialect:   d,
		Predicate: compiled.Predicate,
		Params:    compiled.Params,
		Joins:     compiled.Joins,
	})
}
