package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Subject string

const (
	SubjectRequest    Subject = "request"
	SubjectResponse   Subject = "response"
	SubjectProperties Subject = "properties"
	SubjectScores     Subject = "scores"
	SubjectSearch     Subject = "search"
)

// IsMapSubject reports whether the leaf field is a dynamic key into a map column.
func (s Subject) IsMapSubject() bool {
	return s == SubjectProperties || s == SubjectScores
}

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not-equals"
	OpLike        Operator = "like"
	OpILike       Operator = "ilike"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not-contains"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
)

func (o Operator) valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpLike, OpILike, OpContains, OpNotContains, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Filter is a closed sum type: Leaf, And, Or and All are its only members.
type Filter interface {
	Accept(v FilterVisitor) (string, error)
	filterNode()
}

type FilterVisitor interface {
	VisitLeaf(Leaf) (string, error)
	VisitAnd(And) (string, error)
	VisitOr(Or) (string, error)
	VisitAll(All) (string, error)
}

type Leaf struct {
	Subject  Subject
	Field    string
	Operator Operator
	Operand  any
}

type And struct {
	Left  Filter
	Right Filter
}

type Or struct {
	Left  Filter
	Right Filter
}

type All struct{}

func (l Leaf) Accept(v FilterVisitor) (string, error) { return v.VisitLeaf(l) }
func (a And) Accept(v FilterVisitor) (string, error)  { return v.VisitAnd(a) }
func (o Or) Accept(v FilterVisitor) (string, error)   { return v.VisitOr(o) }
func (a All) Accept(v FilterVisitor) (string, error)  { return v.VisitAll(a) }

func (Leaf) filterNode() {}
func (And) filterNode()  {}
func (Or) filterNode()   {}
func (All) filterNode()  {}

func Match(subject Subject, field string, op Operator, operand any) Leaf {
	return Leaf{Subject: subject, Field: field, Operator: op, Operand: operand}
}

func AndOf(left, right Filter) And { return And{Left: left, Right: right} }

func OrOf(left, right Filter) Or { return Or{Left: left, Right: right} }

// FilterListToTree folds filters into a right-nested tree joined by op ("and" or "or").
func FilterListToTree(filters []Filter, op string) Filter {
	if len(filters) == 0 {
		return All{}
	}
	if len(filters) == 1 {
		return filters[0]
	}
	rest := FilterListToTree(filters[1:], op)
	if strings.EqualFold(op, "or") {
		return OrOf(filters[0], rest)
	}
	return AndOf(filters[0], rest)
}

const maxFilterDepth = 64

// FilterJSON carries a Filter through encoding/json using the dashboard's tree format:
//
//	"all"
//	{"left": F, "operator": "and" | "or", "right": F}
//	{"<subject>": {"<field>": {"<operator>": operand}}}
type FilterJSON struct {
	Filter Filter
}

// Node returns the wrapped filter, treating an absent filter as match-all.
func (f FilterJSON) Node() Filter {
	if f.Filter == nil {
		return All{}
	}
	return f.Filter
}

func (f *FilterJSON) UnmarshalJSON(data []byte) error {
	node, err := ParseFilter(data)
	if err != nil {
		return err
	}
	f.Filter = node
	return nil
}

func (f FilterJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(encodeFilter(f.Node()))
}

func ParseFilter(data []byte) (Filter, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return decodeFilter(raw, 0)
}

func decodeFilter(raw any, depth int) (Filter, error) {
	if depth > maxFilterDepth {
		return nil, fmt.Errorf("invalid filter: nested deeper than %d", maxFilterDepth)
	}

	switch v := raw.(type) {
	case nil:
		return All{}, nil
	case string:
		if v == "all" {
			return All{}, nil
		}
		return nil, fmt.Errorf("invalid filter: unexpected string %q", v)
	case map[string]any:
		if _, ok := v["left"]; ok {
			return decodeBranch(v, depth)
		}
		return decodeLeaf(v)
	}
	return nil, fmt.Errorf("invalid filter: unexpected %T", raw)
}

func decodeBranch(v map[string]any, depth int) (Filter, error) {
	if len(v) != 3 {
		return nil, fmt.Errorf("invalid filter: branch needs exactly left, operator and right")
	}
	left, err := decodeFilter(v["left"], depth+1)
	if err != nil {
		return nil, err
	}
	right, err := decodeFilter(v["right"], depth+1)
	if err != nil {
		return nil, err
	}
	op, _ := v["operator"].(string)
	switch strings.ToLower(op) {
	case "and":
		return AndOf(left, right), nil
	case "or":
		return OrOf(left, right), nil
	}
	return nil, fmt.Errorf("invalid filter: unsupported branch operator %q", op)
}

func decodeLeaf(v map[string]any) (Filter, error) {
	subject, inner, err := singleEntry(v, "subject")
	if err != nil {
		return nil, err
	}
	fields, ok := inner.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid filter: subject %q must map a field", subject)
	}
	field, opRaw, err := singleEntry(fields, "field")
	if err != nil {
		return nil, err
	}
	ops, ok := opRaw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid filter: field %q must map an operator", field)
	}
	op, operand, err := singleEntry(ops, "operator")
	if err != nil {
		return nil, err
	}
	if !Operator(op).valid() {
		return nil, fmt.Errorf("invalid filter: unknown operator %q", op)
	}
	return Match(Subject(subject), field, Operator(op), operand), nil
}

func singleEntry(m map[string]any, what string) (string, any, error) {
	if len(m) != 1 {
		return "", nil, fmt.Errorf("invalid filter: expected exactly one %s, got %d", what, len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", nil, nil
}

func encodeFilter(f Filter) any {
	switch n := f.(type) {
	case Leaf:
		return map[string]any{
			string(n.Subject): map[string]any{
				n.Field: map[string]any{string(n.Operator): n.Operand},
			},
		}
	case And:
		return map[string]any{"left": encodeFilter(n.Left), "operator": "and", "right": encodeFilter(n.Right)}
	case Or:
		return map[string]any{"left": encodeFilter(n.Left), "operator": "or", "right": encodeFilter(n.Right)}
	}
	return "all"
}
