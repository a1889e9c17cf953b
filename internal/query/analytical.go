package query

import (
	"fmt"
	"time"

	"github.com/helicone/requestquery/pkg/types"
)

// analyticalVisitor lowers leaves against the wide ClickHouse relation
// request_response_rmt, where properties is Map(String, String) and scores
// is Map(String, Int64).
type analyticalVisitor struct {
	*compilation
}

func (v analyticalVisitor) VisitLeaf(l types.Leaf) (string, error) {
	p, err := v.prepare(l)
	if err != nil {
		return "", err
	}

	switch l.Subject {
	case types.SubjectProperties:
		key := v.place(p.key)
		contains := "mapContains(properties, " + key + ")"
		if p.value == nil {
			return mapPresence(contains, p.op), nil
		}
		// absent keys never match, as with the row stores' NULL lookups
		return fmt.Sprintf("(%s AND %s)", contains, v.compare("properties["+key+"]", p)), nil
	case types.SubjectScores:
		key := v.place(p.key)
		has := "has(scores, " + key + ")"
		if p.value == nil {
			return mapPresence(has, p.op), nil
		}
		return fmt.Sprintf("(%s AND %s)", has, v.compare("scores["+key+"]", p)), nil
	}

	v.joins |= p.column.joins
	return v.compare(p.column.analytical, p), nil
}

// mapPresence lowers a null comparison on a map entry. ClickHouse maps
// return the default value for absent keys, so null means absent.
func mapPresence(contains string, op types.Operator) string {
	if op == types.OpNotEquals {
		return contains
	}
	return "NOT " + contains
}

// analyticalPlaceholder names the n-th parameter with its ClickHouse type.
func analyticalPlaceholder(n int, v any) string {
	return fmt.Sprintf("{val_%d:%s}", n, AnalyticalType(v))
}

// AnalyticalType is the ClickHouse parameter type a bound Go value is sent as.
func AnalyticalType(v any) string {
	switch v.(type) {
	case int64, int:
		return "Int64"
	case float64:
		return "Float64"
	case bool:
		return "Bool"
	case time.Time:
		return "DateTime64(3, 'UTC')"
	}
	return "String"
}
