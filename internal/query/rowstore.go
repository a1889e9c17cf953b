package query

import (
	"fmt"

	"github.com/helicone/requestquery/pkg/types"
)

// rowStoreVisitor lowers leaves against the normalized Postgres schema:
// request LEFT JOIN response, properties as jsonb, scores aggregated by a
// lateral join into request_scores.scores.
type rowStoreVisitor struct {
	*compilation
}

func (v rowStoreVisitor) VisitLeaf(l types.Leaf) (string, error) {
	p, err := v.prepare(l)
	if err != nil {
		return "", err
	}

	var target string
	switch l.Subject {
	case types.SubjectProperties:
		key := v.place(p.key)
		if p.op == types.OpEquals && p.value != nil {
			// containment hits the gin index on request.properties
			return fmt.Sprintf("request.properties @> jsonb_build_object(%s::text, %s::text)", key, v.place(p.value)), nil
		}
		target = fmt.Sprintf("(request.properties ->> %s::text)", key)
	case types.SubjectScores:
		target = fmt.Sprintf("(request_scores.scores ->> %s::text)::bigint", v.place(p.key))
	default:
		target = p.column.rowStore
		v.joins |= p.column.joins
	}
	return v.compare(target, p), nil
}
