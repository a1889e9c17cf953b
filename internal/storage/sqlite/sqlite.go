package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/helicone/requestquery/internal/query"
	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/pkg/types"
)

// Schema creates the tables the embedded store reads. The store itself never
// applies it; fixtures and local tooling do.
//
//go:embed schema.sql
var Schema string

type SQLiteStore struct {
	db *sql.DB
}

// New opens an existing database read-only.
func New(dbPath string) (*SQLiteStore, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `request.id,
	request.created_at,
	response.id,
	response.created_at,
	request.helicone_org_id,
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
	request.cache_enabled,
	coalesce(request.cache_reference_id, ''),
	request.storage_location,
	request.properties,
	(SELECT json_group_object(sa.score_key, sv.int_value) FROM score_value sv JOIN score_attribute sa ON sv.score_attribute = sa.id WHERE sv.request_id = request.id),
	(SELECT json_group_array(asset.id) FROM asset WHERE asset.request_id = request.id)`

func fromClause(joins query.Joins) string {
	from := "FROM request\nLEFT JOIN response ON response.request = request.id"
	if joins.Has(query.JoinSearch) {
		from += "\nLEFT JOIN request_response_search ON request_response_search.request_id = request.id"
	}
	return from
}

func (s *SQLiteStore) SelectRequests(ctx context.Context, sel storage.Selection) ([]*storage.RequestRecord, error) {
	q := fmt.Sprintf("SELECT %s\n%s\nWHERE (%s)\nORDER BY %s\nLIMIT ? OFFSET ?",
		selectColumns, fromClause(sel.Joins), sel.Predicate, sel.OrderBy)
	args := append(append(make([]any, 0, len(sel.Params)+2), sel.Params...), sel.Limit, sel.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storage.NewStoreError(types.DialectEmbedded, "select requests", err)
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
		return nil, storage.NewStoreError(types.DialectEmbedded, "select requests", err)
	}

	return records, nil
}

func (s *SQLiteStore) CountRequests(ctx context.Context, sel storage.Selection) (int64, error) {
	q := fmt.Sprintf("SELECT count(*)\n%s\nWHERE (%s)", fromClause(sel.Joins), sel.Predicate)

	var count int64
	if err := s.db.QueryRowContext(ctx, q, sel.Params...).Scan(&count); err != nil {
		return 0, storage.NewStoreError(types.DialectEmbedded, "count requests", err)
	}
	return count, nil
}

func scanRecord(rows *sql.Rows) (*storage.RequestRecord, error) {
	var (
		r                         storage.RequestRecord
		createdAt                 int64
		responseID                sql.NullString
		responseCreatedAt         sql.NullInt64
		latency, ttft             sql.NullInt64
		prompt, completion, rt    sql.NullInt64
		cost                      sql.NullFloat64
		location                  string
		properties, scores, asset string
	)
	err := rows.Scan(
		&r.RequestID,
		&createdAt,
		&responseID,
		&responseCreatedAt,
		&r.OrganizationID,
		&r.UserID,
		&r.Provider,
		&r.Model,
		&r.TargetURL,
		&r.CountryCode,
		&r.PromptID,
		&r.Status,
		&latency,
		&ttft,
		&prompt,
		&completion,
		&rt,
		&r.TotalTokens,
		&cost,
		&r.CacheEnabled,
		&r.CacheReferenceID,
		&location,
		&properties,
		&scores,
		&asset,
	)
	if err != nil {
		return nil, storage.NewStoreError(types.DialectEmbedded, "scan request", err)
	}

	r.RequestCreatedAt = time.UnixMilli(createdAt).UTC()
	r.ResponseID = fromNullString(responseID)
	if responseCreatedAt.Valid {
		t := time.UnixMilli(responseCreatedAt.Int64).UTC()
		r.ResponseCreatedAt = &t
	}
	r.LatencyMs = fromNullInt64(latency)
	r.TimeToFirstToken = fromNullInt64(ttft)
	r.PromptTokens = fromNullInt64(prompt)
	r.CompletionTokens = fromNullInt64(completion)
	r.ReasoningTokens = fromNullInt64(rt)
	if cost.Valid {
		r.CostUSD = &cost.Float64
	}

	if err := unmarshalColumn(properties, &r.Properties); err != nil {
		return nil, storage.NewStoreError(types.DialectEmbedded, "decode properties", err)
	}
	if err := unmarshalColumn(scores, &r.Scores); err != nil {
		return nil, storage.NewStoreError(types.DialectEmbedded, "decode scores", err)
	}
	if err := unmarshalColumn(asset, &r.AssetIDs); err != nil {
		return nil, storage.NewStoreError(types.DialectEmbedded, "decode asset ids", err)
	}

	loc, err := storage.ParseLocation(types.DialectEmbedded, location)
	if err != nil {
		return nil, err
	}
	r.StorageLocation = loc
	r.RequestBody = storage.PlaceholderBody(loc)
	r.ResponseBody = storage.PlaceholderBody(loc)

	return &r, nil
}

func unmarshalColumn(raw string, dst any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func fromNullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}
