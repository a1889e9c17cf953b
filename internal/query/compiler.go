package query

import (
	"fmt"

	"github.com/helicone/requestquery/pkg/types"
)

// Compiled is a parameterized predicate ready for one store.
type Compiled struct {
	Predicate string
	Params    []any
	Joins     Joins
}

// Compile lowers a tenant-scoped filter for dialect d. Operands, including
// dynamic map keys, are always bound parameters.
func Compile(s Scoped, d types.Dialect) (Compiled, error) {
	if s.root == nil || s.tenantID == "" {
		return Compiled{}, invalid("filter", "not scoped to a tenant")
	}

	c := &compilation{dialect: d}
	var v types.FilterVisitor
	switch d {
	case types.DialectRowStore:
		v = rowStoreVisitor{c}
	case types.DialectAnalytical:
		v = analyticalVisitor{c}
	case types.DialectEmbedded:
		v = embeddedVisitor{c}
	default:
		return Compiled{}, invalid("dialect", "unsupported dialect %q", d)
	}
	c.self = v

	predicate, err := s.root.Accept(v)
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{Predicate: predicate, Params: c.params, Joins: c.joins}, nil
}

// compilation holds the accumulator shared by every dialect visitor and
// implements the dialect-independent branch nodes.
type compilation struct {
	dialect types.Dialect
	self    types.FilterVisitor
	params  []any
	joins   Joins
}

func (c *compilation) VisitAnd(n types.And) (string, error) {
	return c.branch(n.Left, n.Right, "AND")
}

func (c *compilation) VisitOr(n types.Or) (string, error) {
	return c.branch(n.Left, n.Right, "OR")
}

func (c *compilation) VisitAll(types.All) (string, error) {
	return "TRUE", nil
}

func (c *compilation) branch(left, right types.Filter, op string) (string, error) {
	if left == nil || right == nil {
		return "", invalid("filter", "%s branch is missing a side", op)
	}
	l, err := left.Accept(c.self)
	if err != nil {
		return "", err
	}
	r, err := right.Accept(c.self)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s) %s (%s)", l, op, r), nil
}

// place appends v to the parameter list and returns its placeholder.
func (c *compilation) place(v any) string {
	switch c.dialect {
	case types.DialectAnalytical:
		c.params = append(c.params, v)
		return analyticalPlaceholder(len(c.params)-1, v)
	case types.DialectEmbedded:
		c.params = append(c.params, embeddedBind(v))
		return "?"
	}
	c.params = append(c.params, v)
	return fmt.Sprintf("$%d", len(c.params))
}

// leafPlan is a validated leaf with its operand coerced.
type leafPlan struct {
	key    string
	column column
	op     types.Operator
	value  any
}

func (c *compilation) prepare(l types.Leaf) (leafPlan, error) {
	field := "filter." + string(l.Subject)
	plan := leafPlan{op: l.Operator}

	var kind valueKind
	switch l.Subject {
	case types.SubjectProperties:
		if err := ValidateKey(field, l.Field); err != nil {
			return leafPlan{}, err
		}
		plan.key, kind = l.Field, kindText
	case types.SubjectScores:
		if err := ValidateKey(field, l.Field); err != nil {
			return leafPlan{}, err
		}
		plan.key, kind = l.Field, kindInt
	default:
		col, ok := lookupColumn(l.Subject, l.Field)
		if !ok {
			return leafPlan{}, invalid(field, "unknown field %q", l.Field)
		}
		plan.column, kind = col, col.kind
		field += "." + l.Field
	}

	if !operatorAllowed(kind, l.Operator) {
		return leafPlan{}, invalid(field, "operator %q not supported", l.Operator)
	}

	if l.Operand == nil {
		if l.Operator != types.OpEquals && l.Operator != types.OpNotEquals {
			return leafPlan{}, invalid(field, "null operand needs equals or not-equals")
		}
		return plan, nil
	}

	value, err := coerce(kind, l.Operand)
	if err != nil {
		return leafPlan{}, invalid(field, "%v", err)
	}
	plan.value = value
	return plan, nil
}

// compare renders "<target> <op> <placeholder>" and binds the operand.
func (c *compilation) compare(target string, p leafPlan) string {
	if p.value == nil {
		return nullCheck(target, p.op)
	}
	switch p.op {
	case types.OpContains:
		return fmt.Sprintf("%s %s %s", target, c.likeOperator(types.OpILike), c.pattern(p.value))
	case types.OpNotContains:
		return fmt.Sprintf("NOT (%s %s %s)", target, c.likeOperator(types.OpILike), c.pattern(p.value))
	case types.OpLike, types.OpILike:
		return fmt.Sprintf("%s %s %s", target, c.likeOperator(p.op), c.place(p.value))
	}
	return fmt.Sprintf("%s %s %s", target, sqlOperator(p.op), c.place(p.value))
}

// likeOperator maps ILIKE to LIKE for sqlite, whose LIKE already folds ASCII case.
func (c *compilation) likeOperator(op types.Operator) string {
	if op == types.OpILike && c.dialect == types.DialectEmbedded {
		return "LIKE"
	}
	return sqlOperator(op)
}

// pattern binds v and wraps its placeholder in substring wildcards.
func (c *compilation) pattern(v any) string {
	ph := c.place(v)
	switch c.dialect {
	case types.DialectAnalytical:
		return "concat('%', " + ph + ", '%')"
	case types.DialectRowStore:
		ph += "::text"
	}
	return "'%' || " + ph + " || '%'"
}

// nullCheck lowers equality against a nil operand.
func nullCheck(target string, op types.Operator) string {
	if op == types.OpNotEquals {
		return target + " IS NOT NULL"
	}
	return target + " IS NULL"
}

func sqlOperator(op types.Operator) string {
	switch op {
	case types.OpEquals:
		return "="
	case types.OpNotEquals:
		return "!="
	case types.OpLike:
		return "LIKE"
	case types.OpILike:
		return "ILIKE"
	case types.OpGt:
		return ">"
	case types.OpGte:
		return ">="
	case types.OpLt:
		return "<"
	case types.OpLte:
		return "<="
	}
	return ""
}
