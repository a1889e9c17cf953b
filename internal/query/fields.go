package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/helicone/requestquery/pkg/types"
)

type valueKind int

const (
	kindText valueKind = iota
	kindInt
	kindFloat
	kindTime
	kindBool
)

// Joins lists optional row-store joins a fragment depends on.
type Joins uint8

const (
	JoinSearch Joins = 1 << iota
)

func (j Joins) Has(other Joins) bool { return j&other != 0 }

const (
	fieldOrganizationID = "organization_id"
	fieldGovernance     = "governance"
)

// column is one abstract field spelled for each dialect.
type column struct {
	kind       valueKind
	rowStore   string
	analytical string
	embedded   string
	joins      Joins
}

func (c column) expr(d types.Dialect) string {
	switch d {
	case types.DialectAnalytical:
		return c.analytical
	case types.DialectEmbedded:
		return c.embedded
	}
	return c.rowStore
}

var (
	totalTokensColumn = column{
		kind:       kindInt,
		rowStore:   "(coalesce(response.prompt_tokens, 0) + coalesce(response.completion_tokens, 0) + coalesce(response.reasoning_tokens, 0))",
		analytical: "(prompt_tokens + completion_tokens + reasoning_tokens)",
		embedded:   "(coalesce(response.prompt_tokens, 0) + coalesce(response.completion_tokens, 0) + coalesce(response.reasoning_tokens, 0))",
	}
	createdAtColumn = column{kind: kindTime, rowStore: "request.created_at", analytical: "request_created_at", embedded: "request.created_at"}
	requestIDColumn = column{kind: kindText, rowStore: "request.id", analytical: "request_id", embedded: "request.id"}
)

var catalog = map[types.Subject]map[string]column{
	types.SubjectRequest: {
		"id":                 requestIDColumn,
		"created_at":         createdAtColumn,
		fieldOrganizationID:  {kind: kindText, rowStore: "request.helicone_org_id", analytical: "organization_id", embedded: "request.helicone_org_id"},
		"user_id":            {kind: kindText, rowStore: "request.user_id", analytical: "user_id", embedded: "request.user_id"},
		"model":              {kind: kindText, rowStore: "request.model", analytical: "model", embedded: "request.model"},
		"provider":           {kind: kindText, rowStore: "request.provider", analytical: "provider", embedded: "request.provider"},
		"target_url":         {kind: kindText, rowStore: "request.target_url", analytical: "target_url", embedded: "request.target_url"},
		"country_code":       {kind: kindText, rowStore: "request.country_code", analytical: "country_code", embedded: "request.country_code"},
		"prompt_id":          {kind: kindText, rowStore: "request.prompt_id", analytical: "prompt_id", embedded: "request.prompt_id"},
		"cache_reference_id": {kind: kindText, rowStore: "request.cache_reference_id", analytical: "cache_reference_id", embedded: "request.cache_reference_id"},
		"cache_enabled":      {kind: kindBool, rowStore: "request.cache_enabled", analytical: "cache_enabled", embedded: "request.cache_enabled"},
		fieldGovernance:      {kind: kindBool, rowStore: "request.governance", analytical: "governance", embedded: "request.governance"},
	},
	types.SubjectResponse: {
		"id":                  {kind: kindText, rowStore: "response.id", analytical: "response_id", embedded: "response.id"},
		"created_at":          {kind: kindTime, rowStore: "response.created_at", analytical: "response_created_at", embedded: "response.created_at"},
		"status":              {kind: kindInt, rowStore: "response.status", analytical: "status", embedded: "response.status"},
		"model":               {kind: kindText, rowStore: "response.model", analytical: "model", embedded: "response.model"},
		"latency":             {kind: kindInt, rowStore: "response.delay_ms", analytical: "latency", embedded: "response.delay_ms"},
		"time_to_first_token": {kind: kindInt, rowStore: "response.time_to_first_token", analytical: "time_to_first_token", embedded: "response.time_to_first_token"},
		"prompt_tokens":       {kind: kindInt, rowStore: "response.prompt_tokens", analytical: "prompt_tokens", embedded: "response.prompt_tokens"},
		"completion_tokens":   {kind: kindInt, rowStore: "response.completion_tokens", analytical: "completion_tokens", embedded: "response.completion_tokens"},
		"reasoning_tokens":    {kind: kindInt, rowStore: "response.reasoning_tokens", analytical: "reasoning_tokens", embedded: "response.reasoning_tokens"},
		"total_tokens":        totalTokensColumn,
		"cost":                {kind: kindFloat, rowStore: "response.cost", analytical: "cost", embedded: "response.cost"},
	},
	types.SubjectSearch: {
		"request_body":  {kind: kindText, rowStore: "request_response_search.request_body_text", analytical: "request_body", embedded: "request_response_search.request_body_text", joins: JoinSearch},
		"response_body": {kind: kindText, rowStore: "request_response_search.response_body_text", analytical: "response_body", embedded: "request_response_search.response_body_text", joins: JoinSearch},
	},
}

func lookupColumn(subject types.Subject, field string) (column, bool) {
	fields, ok := catalog[subject]
	if !ok {
		return column{}, false
	}
	c, ok := fields[field]
	return c, ok
}

func operatorAllowed(kind valueKind, op types.Operator) bool {
	switch kind {
	case kindText:
		switch op {
		case types.OpEquals, types.OpNotEquals, types.OpLike, types.OpILike, types.OpContains, types.OpNotContains:
			return true
		}
	case kindInt, kindFloat, kindTime:
		switch op {
		case types.OpEquals, types.OpNotEquals, types.OpGt, types.OpGte, types.OpLt, types.OpLte:
			return true
		}
	case kindBool:
		return op == types.OpEquals || op == types.OpNotEquals
	}
	return false
}

// coerce converts a decoded operand to the Go type bound for kind.
func coerce(kind valueKind, v any) (any, error) {
	switch kind {
	case kindText:
		return coerceText(v)
	case kindInt:
		return coerceInt(v)
	case kindFloat:
		return coerceFloat(v)
	case kindTime:
		return coerceTime(v)
	case kindBool:
		return coerceBool(v)
	}
	return nil, fmt.Errorf("unsupported value kind %d", kind)
}

func coerceText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	return nil, fmt.Errorf("expected text, got %T", v)
}

func coerceInt(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("expected integer, got %v", x)
		}
		return int64(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return nil, fmt.Errorf("expected integer, got %s", x.String())
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer text")
		}
		return n, nil
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func coerceFloat(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected number, got %s", x.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("expected numeric text")
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected number, got %T", v)
}

func coerceTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("expected RFC 3339 timestamp")
		}
		return t.UTC(), nil
	}
	return nil, fmt.Errorf("expected timestamp, got %T", v)
}

func coerceBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("expected boolean text")
		}
		return b, nil
	}
	return nil, fmt.Errorf("expected boolean, got %T", v)
}
