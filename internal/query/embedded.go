package query

import (
	"fmt"
	"time"

	"github.com/helicone/requestquery/pkg/types"
)

// embeddedVisitor lowers leaves against the SQLite mirror of the row store.
// properties is JSON text and scores live in score_value rows.
type embeddedVisitor struct {
	*compilation
}

func (v embeddedVisitor) VisitLeaf(l types.Leaf) (string, error) {
	p, err := v.prepare(l)
	if err != nil {
		return "", err
	}

	var target string
	switch l.Subject {
	case types.SubjectProperties:
		target = fmt.Sprintf("json_extract(request.properties, '$.' || %s)", v.place(p.key))
	case types.SubjectScores:
		target = embeddedScoreLookup(v.place(p.key))
	default:
		target = p.column.embedded
		v.joins |= p.column.joins
	}
	return v.compare(target, p), nil
}

func embeddedScoreLookup(key string) string {
	return "(SELECT sv.int_value FROM score_value sv JOIN score_attribute sa ON sv.score_attribute = sa.id " +
		"WHERE sv.request_id = request.id AND sa.score_key = " + key + ")"
}

// embeddedBind converts values to what the sqlite schema stores.
// Timestamps are unix milliseconds.
func embeddedBind(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UnixMilli()
	}
	return v
}
