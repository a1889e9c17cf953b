package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helicone/requestquery/internal/query"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/pkg/types"
)

// Querier is the subset of *pgxpool.Pool the store reads through.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type PostgresStore struct {
	q     Querier
	close func()
}

// New opens a pool whose sessions default to read-only transactions.
func New(ctx context.Context, cfg Config) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{q: pool, close: pool.Close}, nil
}

// NewWithQuerier wraps an existing pool or test double.
func NewWithQuerier(q Querier) *PostgresStore {
	return &PostgresStore{q: q, close: func() {}}
}

func (s *PostgresStore) Close() error {
	s.close()
	return nil
}

const selectColumns = `request.id::text,
	request.created_at,
	response.id::text,
	response.created_at,
	request.helicone_org_id::text,
	coalesce(request.user_id, ''),
	coalesce(request.provider, ''),
	coalesce(response.model, request.model, ''),
	coalesce(request.target_url, ''),
	coalesce(request.country_code, ''),
	coalesce(request.prompt_id, ''),
	coalesce(response.status, 0),
	response.delay_ms,
	response.time_to_first_token,
	response.prompt_tokens,
	response.completion_tokens,
	response.reasoning_tokens,
	coalesce(response.prompt_tokens, 0) + coalesce(response.completion_tokens, 0) + coalesce(response.reasoning_tokens, 0),
	response.cost,
	coalesce(request.cache_enabled, false),
	coalesce(request.cache_reference_id::text, ''),
	request.storage_location,
	coalesce(request.properties, '{}'::jsonb),
	coalesce(request_scores.scores, '{}'::jsonb),
	coalesce((SELECT ARRAY_AGG(asset.id::text) FROM asset WHERE asset.request_id = request.id), '{}')`

const scoresLateral = `LEFT JOIN LATERAL (
	SELECT jsonb_object_agg(sa.score_key, sv.int_value) AS scores
	FROM score_value sv
	JOIN score_attribute sa ON sv.score_attribute = sa.id
	WHERE sv.request_id = request.id
) request_scores ON true`

func fromClause(joins query.Joins) string {
	var b strings.Builder
	b.WriteString("FROM request\nLEFT JOIN response ON response.request = request.id\n")
	b.WriteString(scoresLateral)
	if joins.Has(query.JoinSearch) {
		b.WriteString("\nLEFT JOIN request_response_search ON request_response_search.request_id = request.id")
	}
	return b.String()
}

// selectSQL appends LIMIT and OFFSET as the next two positional parameters.
func selectSQL(sel storage.Selection) (string, []any) {
	n := len(sel.Params)
	sql := fmt.Sprintf("SELECT %s\n%s\nWHERE (%s)\nORDER BY %s\nLIMIT $%d OFFSET $%d",
		selectColumns, fromClause(sel.Joins), sel.Predicate, sel.OrderBy, n+1, n+2)

	args := make([]any, 0, n+2)
	args = append(args, sel.Params...)
	args = append(args, sel.Limit, sel.Offset)
	return sql, args
}

func countSQL(sel storage.Selection) string {
	return fmt.Sprintf("SELECT count(*)\n%s\nWHERE (%s)", fromClause(sel.Joins), sel.Predicate)
}

func (s *PostgresStore) SelectRequests(ctx context.Context, sel storage.Selection) ([]*storage.RequestRecord, error) {
	sql, args := selectSQL(sel)
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, storage.NewStoreError(types.DialectRowStore, "select requests", err)
	}
	defer rows.Close()

	var records []*storage.RequestRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.NewStoreError(types.DialectRowStore, "select requests", err)
	}
	return records, nil
}

func (s *PostgresStore) CountRequests(ctx context.Context, sel storage.Selection) (int64, error) {
	var count int64
	if err := s.q.QueryRow(ctx, countSQL(sel), sel.Params...).Scan(&count); err != nil {
		return 0, storage.NewStoreError(types.DialectRowStore, "count requests", err)
	}
	return count, nil
}

func scanRecord(row pgx.Row) (*storage.RequestRecord, error) {
	var (
		r        storage.RequestRecord
		location string
	)
	err := row.Scan(
		&r.RequestID,
		&r.RequestCreatedAt,
		&r.ResponseID,
		&r.ResponseCreatedAt,
		&r.OrganizationID,
		&r.UserID,
		&r.Provider,
		&r.Model,
		&r.TargetURL,
		&r.CountryCode,
		&r.PromptID,
		&r.Status,
		&r.LatencyMs,
		&r.TimeToFirstToken,
		&r.PromptTokens,
		&r.CompletionTokens,
		&r.ReasoningTokens,
		&r.TotalTokens,
		&r.CostUSD,
		&r.CacheEnabled,
		&r.CacheReferenceID,
		&location,
		&r.Properties,
		&r.Scores,
		&r.AssetIDs,
	)
	if err != nil {
		return nil, storage.NewStoreError(types.DialectRowStore, "scan request", err)
	}
	return finishRecord(&r, location)
}

// finishRecord parses the storage location and fills the body placeholders.
func finishRecord(r *storage.RequestRecord, location string) (*storage.RequestRecord, error) {
	loc, err := storage.ParseLocation(types.DialectRowStore, location)
	if err != nil {
		return nil, err
	}
	r.StorageLocation = loc
	r.RequestBody = storage.PlaceholderBody(loc)
	r.ResponseBody = storage.PlaceholderBody(loc)
	return r, nil
}
