package clickhouse

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/helicone/requestquery/internal/storage"
	"github.com/helicone/requestquery/pkg/types"
)

const table = "request_response_rmt"

type Config struct {
	Addr     []string      `yaml:"addr"`
	Database string        `yaml:"database"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	MaxConns int           `yaml:"max_conns"`
	Timeout  time.Duration `yaml:"timeout"`

	// Skew admits rows stamped slightly in the future by clock drift.
	Skew time.Duration `yaml:"skew"`
	// BracketPad widens the phase two time bracket around the page.
	BracketPad time.Duration `yaml:"bracket_pad"`
}

func DefaultConfig() Config {
	return Config{
		Addr:       []string{"localhost:9000"},
		Database:   "default",
		Username:   "default",
		MaxConns:   10,
		Timeout:    30 * time.Second,
		Skew:       5 * time.Minute,
		BracketPad: time.Minute,
	}
}

// Rows is the part of driver.Rows the store reads.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Conn is the part of driver.Conn the store reads through. Server-side
// parameters travel on ctx.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Close() error
}

type driverConn struct {
	conn driver.Conn
}

func (c driverConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

func (c driverConn) Close() error { return c.conn.Close() }

type ClickHouseStore struct {
	conn Conn
	cfg  Config
}

func New(ctx context.Context, cfg Config) (*ClickHouseStore, error) {
	conn, err := ch.Open(&ch.Options{
		Addr: cfg.Addr,
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		MaxOpenConns: cfg.MaxConns,
		Settings: ch.Settings{
			"readonly": 2,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return NewWithConn(driverConn{conn: conn}, cfg), nil
}

// NewWithConn wraps an open connection or test double.
func NewWithConn(conn Conn, cfg Config) *ClickHouseStore {
	defaults := DefaultConfig()
	if cfg.Skew <= 0 {
		cfg.Skew = defaults.Skew
	}
	if cfg.BracketPad <= 0 {
		cfg.BracketPad = defaults.BracketPad
	}
	return &ClickHouseStore{conn: conn, cfg: cfg}
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// where bounds the compiled predicate by the skew window.
func (s *ClickHouseStore) where(predicate string) string {
	return fmt.Sprintf("(%s) AND request_created_at <= now64(3) + INTERVAL %d SECOND",
		predicate, int64(s.cfg.Skew/time.Second))
}

func (s *ClickHouseStore) pageSQL(sel storage.Selection) string {
	return fmt.Sprintf("SELECT toString(request_id), request_created_at\nFROM %s FINAL\nWHERE %s\nORDER BY %s\nLIMIT %d OFFSET %d",
		table, s.where(sel.Predicate), sel.OrderBy, sel.Limit, sel.Offset)
}

const rowColumns = `toString(request_id),
	request_created_at,
	toString(response_id),
	response_created_at,
	toString(organization_id),
	user_id,
	provider,
	model,
	target_url,
	country_code,
	prompt_id,
	toInt64(status),
	toInt64(latency),
	toInt64(time_to_first_token),
	toInt64(prompt_tokens),
	toInt64(completion_tokens),
	toInt64(reasoning_tokens),
	toInt64(prompt_tokens + completion_tokens + reasoning_tokens),
	toFloat64(cost),
	cache_enabled,
	toString(cache_reference_id),
	storage_location,
	request_body,
	response_body,
	assets,
	scores,
	properties`

// Parameter names for phase two, outside the val_n namespace the compiler uses.
const (
	paramRowIDs = "page_ids"
	paramMinTS  = "page_min_ts"
	paramMaxTS  = "page_max_ts"
)

func (s *ClickHouseStore) rowsSQL(sel storage.Selection) string {
	return fmt.Sprintf("SELECT %s\nFROM %s FINAL\nWHERE %s\n  AND request_id IN {%s:Array(UUID)}\n  AND request_created_at >= {%s:DateTime64(3, 'UTC')}\n  AND request_created_at <= {%s:DateTime64(3, 'UTC')}",
		rowColumns, table, s.where(sel.Predicate), paramRowIDs, paramMinTS, paramMaxTS)
}

type pageKey struct {
	id        string
	createdAt time.Time
}

// SelectRequests reads a narrow page of ids first so the wide body columns
// are only touched for rows on the page.
func (s *ClickHouseStore) SelectRequests(ctx context.Context, sel storage.Selection) ([]*storage.RequestRecord, error) {
	params, err := parameters(sel.Params)
	if err != nil {
		return nil, storage.NewStoreError(types.DialectAnalytical, "bind parameters", err)
	}

	page, err := s.readPage(ctx, params, sel)
	if err != nil {
		return nil, storage.NewStoreError(types.DialectAnalytical, "select page", err)
	}
	if len(page) == 0 {
		return nil, nil
	}

	minTS, maxTS := page[0].createdAt, page[0].createdAt
	ids := make([]string, len(page))
	order := make(map[string]int, len(page))
	for i, k := range page {
		ids[i] = k.id
		order[k.id] = i
		if k.createdAt.Before(minTS) {
			minTS = k.createdAt
		}
		if k.createdAt.After(maxTS) {
			maxTS = k.createdAt
		}
	}

	phase2 := make(ch.Parameters, len(params)+3)
	for k, v := range params {
		phase2[k] = v
	}
	phase2[paramRowIDs] = arrayLiteral(ids)
	phase2[paramMinTS] = formatTime(minTS.Add(-s.cfg.BracketPad))
	phase2[paramMaxTS] = formatTime(maxTS.Add(s.cfg.BracketPad))

	rows, err := s.conn.Query(ch.Context(ctx, ch.WithParameters(phase2)), s.rowsSQL(sel))
	if err != nil {
		return nil, storage.NewStoreError(types.DialectAnalytical, "select rows", err)
	}
	defer rows.Close()

	slots := make([]*storage.RequestRecord, len(page))
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if i, ok := order[record.RequestID]; ok {
			slots[i] = record
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storage.NewStoreError(types.DialectAnalytical, "select rows", err)
	}

	missing := 0
	for _, r := range slots {
		if r == nil {
			missing++
		}
	}
	if missing > 0 {
		return nil, storage.NewStoreError(types.DialectAnalytical, "select rows",
			fmt.Errorf("%d of %d page rows missing", missing, len(slots)))
	}
	return slots, nil
}

func (s *ClickHouseStore) readPage(ctx context.Context, params ch.Parameters, sel storage.Selection) ([]pageKey, error) {
	rows, err := s.conn.Query(ch.Context(ctx, ch.WithParameters(params)), s.pageSQL(sel))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []pageKey
	for rows.Next() {
		var k pageKey
		if err := rows.Scan(&k.id, &k.createdAt); err != nil {
			return nil, err
		}
		page = append(page, k)
	}
	return page, rows.Err()
}

func (s *ClickHouseStore) CountRequests(ctx context.Context, sel storage.Selection) (int64, error) {
	params, err := parameters(sel.Params)
	if err != nil {
		return 0, storage.NewStoreError(types.DialectAnalytical, "bind parameters", err)
	}

	sql := fmt.Sprintf("SELECT count()\nFROM %s FINAL\nWHERE %s", table, s.where(sel.Predicate))
	rows, err := s.conn.Query(ch.Context(ctx, ch.WithParameters(params)), sql)
	if err != nil {
		return 0, storage.NewStoreError(types.DialectAnalytical, "count requests", err)
	}
	defer rows.Close()

	var count uint64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, storage.NewStoreError(types.DialectAnalytical, "count requests", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, storage.NewStoreError(types.DialectAnalytical, "count requests", err)
	}
	return int64(count), nil
}

func scanRecord(rows Rows) (*storage.RequestRecord, error) {
	var (
		r                         storage.RequestRecord
		responseID, location      string
		responseCreatedAt         time.Time
		status, latency, ttft     int64
		prompt, completion, rt    int64
		cost                      float64
		requestBody, responseBody string
	)
	err := rows.Scan(
		&r.RequestID,
		&r.RequestCreatedAt,
		&responseID,
		&responseCreatedAt,
		&r.OrganizationID,
		&r.UserID,
		&r.Provider,
		&r.Model,
		&r.TargetURL,
		&r.CountryCode,
		&r.PromptID,
		&status,
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
		&requestBody,
		&responseBody,
		&r.AssetIDs,
		&r.Scores,
		&r.Properties,
	)
	if err != nil {
		return nil, storage.NewStoreError(types.DialectAnalytical, "scan request", err)
	}

	loc, err := storage.ParseLocation(types.DialectAnalytical, location)
	if err != nil {
		return nil, err
	}
	r.StorageLocation = loc
	r.Status = int(status)
	r.RequestBody = requestBody
	r.ResponseBody = responseBody

	if responseID != "" && responseID != zeroUUID {
		r.ResponseID = &responseID
		r.ResponseCreatedAt = &responseCreatedAt
	}
	r.LatencyMs = &latency
	r.TimeToFirstToken = &ttft
	r.PromptTokens = &prompt
	r.CompletionTokens = &completion
	r.ReasoningTokens = &rt
	r.CostUSD = &cost
	return &r, nil
}

const zeroUUID = "00000000-0000-0000-0000-000000000000"

// parameters formats compiled params for the {val_n:Type} placeholders.
func parameters(params []any) (ch.Parameters, error) {
	out := make(ch.Parameters, len(params))
	for i, p := range params {
		v, err := formatParam(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		out[fmt.Sprintf("val_%d", i)] = v
	}
	return out, nil
}

func formatParam(p any) (string, error) {
	switch v := p.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return formatTime(v), nil
	}
	return "", fmt.Errorf("unsupported parameter type %T", p)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000")
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func arrayLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + literalEscaper.Replace(v) + "'"
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
