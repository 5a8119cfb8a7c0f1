// Package expr builds filter predicates that the orm query builder renders
// into WHERE clauses.
//
// A predicate is either a comparison between a field reference and a value,
// a boolean combination of predicates, or a raw SQL fragment:
//
//	expr.Eq("name", "Mary")
//	expr.Or(expr.Ge("age", 30), expr.Eq("name", "Jonny Jane"))
//	expr.Not(expr.Eq("name", "Jonny Jane"))
//
// Field references are resolved by the caller at render time, so the same
// predicate can be used against differently aliased tables.
package expr

import (
	"errors"
	"fmt"
	"strings"
)

// Op is a comparison operator.
type Op string

const (
	OpEq      Op = "="
	OpNe      Op = "<>"
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
	OpLike    Op = "LIKE"
	OpIn      Op = "IN"
	OpNotIn   Op = "NOT IN"
	OpIsNull  Op = "IS NULL"
	OpNotNull Op = "IS NOT NULL"
)

// Predicate is a node of a filter expression tree.
type Predicate interface {
	render(r *renderer) error
}

// ColumnFunc resolves a field reference ("name", "address.city") to the
// quoted, qualified column text used in SQL.
type ColumnFunc func(field string) (string, error)

// Render renders p with ? placeholders. Field references are resolved with col.
func Render(p Predicate, col ColumnFunc) (string, []any, error) {
	if p == nil {
		return "", nil, errors.New("expr: nil predicate")
	}
	r := &renderer{col: col}
	if err := p.render(r); err != nil {
		return "", nil, err
	}
	return r.b.String(), r.args, nil
}

// Fields returns every field reference in p, in rendering order.
func Fields(p Predicate) []string {
	var out []string
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch v := p.(type) {
		case Comparison:
			out = append(out, v.Field)
		case and:
			for _, c := range v {
				walk(c)
			}
		case or:
			for _, c := range v {
				walk(c)
			}
		case not:
			walk(v.p)
		}
	}
	walk(p)
	return out
}

type renderer struct {
	b    strings.Builder
	args []any
	col  ColumnFunc
}

// Comparison is a field/operator/value triple.
type Comparison struct {
	Field string
	Op    Op
	Value any
}

func (c Comparison) render(r *renderer) error {
	column, err := r.col(c.Field)
	if err != nil {
		return err
	}
	switch c.Op {
	case OpIsNull, OpNotNull:
		r.b.WriteString(column + " " + string(c.Op))
		return nil
	case OpIn, OpNotIn:
		values, ok := c.Value.([]any)
		if !ok {
			return fmt.Errorf("expr: %s on %q needs a value list", c.Op, c.Field)
		}
		if len(values) == 0 {
			if c.Op == OpIn {
				r.b.WriteString("1 = 0")
			} else {
				r.b.WriteString("1 = 1")
			}
			return nil
		}
		r.b.WriteString(column + " " + string(c.Op) + " (" + placeholders(len(values)) + ")")
		r.args = append(r.args, values...)
		return nil
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpLike:
		if c.Value == nil && (c.Op == OpEq || c.Op == OpNe) {
			if c.Op == OpEq {
				r.b.WriteString(column + " IS NULL")
			} else {
				r.b.WriteString(column + " IS NOT NULL")
			}
			return nil
		}
		r.b.WriteString(column + " " + string(c.Op) + " ?")
		r.args = append(r.args, c.Value)
		return nil
	default:
		return fmt.Errorf("expr: unknown operator %q", c.Op)
	}
}

type and []Predicate

func (a and) render(r *renderer) error { return renderGroup(r, []Predicate(a), " AND ", "1 = 1") }

type or []Predicate

func (o or) render(r *renderer) error { return renderGroup(r, []Predicate(o), " OR ", "1 = 0") }

func renderGroup(r *renderer, ps []Predicate, sep, empty string) error {
	switch len(ps) {
	case 0:
		r.b.WriteString(empty)
		return nil
	case 1:
		return renderOperand(r, ps[0])
	}
	r.b.WriteByte('(')
	for i, p := range ps {
		if i > 0 {
			r.b.WriteString(sep)
		}
		if err := renderOperand(r, p); err != nil {
			return err
		}
	}
	r.b.WriteByte(')')
	return nil
}

// renderOperand parenthesises raw fragments, whose own precedence is unknown.
func renderOperand(r *renderer, p Predicate) error {
	if _, ok := p.(raw); !ok {
		return p.render(r)
	}
	r.b.WriteByte('(')
	if err := p.render(r); err != nil {
		return err
	}
	r.b.WriteByte(')')
	return nil
}

type not struct{ p Predicate }

func (n not) render(r *renderer) error {
	r.b.WriteString("NOT (")
	if err := n.p.render(r); err != nil {
		return err
	}
	r.b.WriteByte(')')
	return nil
}

type raw struct {
	clause string
	args   []any
}

func (w raw) render(r *renderer) error {
	r.b.WriteString(w.clause)
	r.args = append(r.args, w.args...)
	return nil
}

// Eq matches rows where field equals v. A nil v renders IS NULL.
func Eq(field string, v any) Predicate { return Comparison{field, OpEq, v} }

// Ne matches rows where field differs from v. A nil v renders IS NOT NULL.
func Ne(field string, v any) Predicate { return Comparison{field, OpNe, v} }

func Lt(field string, v any) Predicate     { return Comparison{field, OpLt, v} }
func Le(field string, v any) Predicate     { return Comparison{field, OpLe, v} }
func Gt(field string, v any) Predicate     { return Comparison{field, OpGt, v} }
func Ge(field string, v any) Predicate     { return Comparison{field, OpGe, v} }
func Like(field, pattern string) Predicate { return Comparison{field, OpLike, pattern} }

// IsNull matches rows where field is NULL.
func IsNull(field string) Predicate { return Comparison{Field: field, Op: OpIsNull} }

// NotNull matches rows where field is not NULL.
func NotNull(field string) Predicate { return Comparison{Field: field, Op: OpNotNull} }

// In expands values into individual placeholders. An empty slice matches
// nothing.
//
//	expr.In("id", []int{1, 2, 3}) // → id IN (?, ?, ?)
func In[T any](field string, values []T) Predicate {
	return Comparison{field, OpIn, toAny(values)}
}

// NotIn is the negation of In. An empty slice matches everything.
func NotIn[T any](field string, values []T) Predicate {
	return Comparison{field, OpNotIn, toAny(values)}
}

// And combines predicates conjunctively.
func And(ps ...Predicate) Predicate { return and(ps) }

// Or combines predicates disjunctively.
func Or(ps ...Predicate) Predicate { return or(ps) }

// Not negates p.
func Not(p Predicate) Predicate { return not{p} }

// Raw inserts a SQL fragment verbatim. Use ? for bind parameters.
func Raw(clause string, args ...any) Predicate { return raw{clause, args} }

func toAny[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}
