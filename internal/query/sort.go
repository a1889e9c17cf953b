package query

import (
	"fmt"
	"sort"

	"github.com/helicone/requestquery/pkg/types"
)

// OrderBy is an ORDER BY body without the keyword. It carries no parameters.
type OrderBy struct {
	Fragment string
	Joins    Joins
}

// sortKey is one sortable expression spelled per dialect.
type sortKey struct {
	rowStore   string
	analytical string
	embedded   string
	joins      Joins
}

func (k sortKey) expr(d types.Dialect) string {
	return column{rowStore: k.rowStore, analytical: k.analytical, embedded: k.embedded}.expr(d)
}

func keyOf(c column) sortKey {
	return sortKey{rowStore: c.rowStore, analytical: c.analytical, embedded: c.embedded, joins: c.joins}
}

var (
	createdAtKey = keyOf(createdAtColumn)
	requestIDKey = keyOf(requestIDColumn)

	bodyModelKey = sortKey{
		rowStore:   "coalesce(response.model, request.model)",
		analytical: "model",
		embedded:   "coalesce(response.model, request.model)",
	}
	requestPromptKey = sortKey{
		rowStore:   "left(request_response_search.request_body_text, 100)",
		analytical: "substring(request_body, 1, 100)",
		embedded:   "substr(request_response_search.request_body_text, 1, 100)",
		joins:      JoinSearch,
	}
	responseTextKey = sortKey{
		rowStore:   "left(request_response_search.response_body_text, 100)",
		analytical: "substring(response_body, 1, 100)",
		embedded:   "substr(request_response_search.response_body_text, 1, 100)",
		joins:      JoinSearch,
	}
)

type sortCandidate struct {
	dir types.SortDirection
	key sortKey
}

func fixedColumn(dir types.SortDirection, subject types.Subject, field string) sortCandidate {
	c, _ := lookupColumn(subject, field)
	return sortCandidate{dir, keyOf(c)}
}

// ResolveSort turns spec into an ORDER BY fragment for d. At most one key is
// honored; every fragment ends with the created_at, id tie-break so pages
// partition the result set.
func ResolveSort(spec types.SortSpec, d types.Dialect) (OrderBy, error) {
	switch d {
	case types.DialectRowStore, types.DialectAnalytical, types.DialectEmbedded:
	default:
		return OrderBy{}, invalid("dialect", "unsupported dialect %q", d)
	}

	candidates := []sortCandidate{
		{spec.CreatedAt, createdAtKey},
		fixedColumn(spec.Latency, types.SubjectResponse, "latency"),
		{spec.TotalTokens, keyOf(totalTokensColumn)},
		fixedColumn(spec.PromptTokens, types.SubjectResponse, "prompt_tokens"),
		fixedColumn(spec.CompletionTokens, types.SubjectResponse, "completion_tokens"),
		fixedColumn(spec.Cost, types.SubjectResponse, "cost"),
		fixedColumn(spec.TimeToFirstToken, types.SubjectResponse, "time_to_first_token"),
		fixedColumn(spec.UserID, types.SubjectRequest, "user_id"),
		{spec.BodyModel, bodyModelKey},
		fixedColumn(spec.IsCached, types.SubjectRequest, "cache_enabled"),
		{spec.RequestPrompt, requestPromptKey},
		{spec.ResponseText, responseTextKey},
	}
	for _, m := range []struct {
		field string
		dirs  map[string]types.SortDirection
		build func(types.Dialect, string) string
	}{
		{"sort.properties", spec.Properties, propertySortKey},
		{"sort.values", spec.Values, scoreSortKey},
	} {
		more, err := mapCandidates(d, m.field, m.dirs, m.build)
		if err != nil {
			return OrderBy{}, err
		}
		candidates = append(candidates, more...)
	}

	for i, cand := range candidates {
		dir := cand.dir.Normalize()
		if dir == "" {
			continue
		}
		k := cand.key
		if i == 0 {
			return OrderBy{Fragment: primaryCreatedAt(d, dir)}, nil
		}
		return OrderBy{
			Fragment: fmt.Sprintf("%s %s NULLS LAST, %s", k.expr(d), sqlDirection(dir), defaultFragment(d)),
			Joins:    k.joins,
		}, nil
	}
	return OrderBy{Fragment: defaultFragment(d)}, nil
}

// mapCandidates validates every key, then orders entries by key so
// resolution is deterministic.
func mapCandidates(d types.Dialect, field string, dirs map[string]types.SortDirection, build func(types.Dialect, string) string) ([]sortCandidate, error) {
	keys := make([]string, 0, len(dirs))
	for k := range dirs {
		if err := ValidateKey(field, k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]sortCandidate, 0, len(keys))
	for _, k := range keys {
		expr := build(d, k)
		out = append(out, sortCandidate{dirs[k], sortKey{rowStore: expr, analytical: expr, embedded: expr}})
	}
	return out, nil
}

// Keys reaching these builders already match the allow-list, so quoting them
// as literals is safe.

func propertySortKey(d types.Dialect, key string) string {
	switch d {
	case types.DialectAnalytical:
		return fmt.Sprintf("if(mapContains(properties, '%s'), properties['%s'], NULL)", key, key)
	case types.DialectEmbedded:
		return fmt.Sprintf("json_extract(request.properties, '$.%s')", key)
	}
	return fmt.Sprintf("request.properties ->> '%s'", key)
}

func scoreSortKey(d types.Dialect, key string) string {
	switch d {
	case types.DialectAnalytical:
		return fmt.Sprintf("if(has(scores, '%s'), scores['%s'], NULL)", key, key)
	case types.DialectEmbedded:
		return embeddedScoreLookup("'" + key + "'")
	}
	return fmt.Sprintf("(request_scores.scores ->> '%s')::bigint", key)
}

func primaryCreatedAt(d types.Dialect, dir types.SortDirection) string {
	return fmt.Sprintf("%s %s, %s %s", createdAtKey.expr(d), sqlDirection(dir), requestIDKey.expr(d), sqlDirection(dir))
}

func defaultFragment(d types.Dialect) string {
	return primaryCreatedAt(d, types.SortDesc)
}

func sqlDirection(dir types.SortDirection) string {
	if dir == types.SortAsc {
		return "ASC"
	}
	return "DESC"
}
