package scope

import "github.com/mickamy/relmap/expr"

// Applier is implemented by query builders to receive scope fragments.
// This interface lives in the scope package so that orm can import scope
// without creating circular dependencies.
type Applier interface {
	ApplyWhere(p expr.Predicate)
	ApplyOrderBy(field string, desc bool)
	ApplyGroupBy(fields ...string)
	ApplyLimit(n int)
	ApplyOffset(n int)
	ApplyUndefer(fields ...string)
}

type scopeKind int

const (
	kindWhere scopeKind = iota
	kindOrderBy
	kindGroupBy
	kindLimit
	kindOffset
	kindUndefer
)

// Scope represents a single query condition fragment.
// Scopes are immutable and safe to reuse across queries.
type Scope struct {
	kind   scopeKind
	pred   expr.Predicate
	fields []string
	desc   bool
	n      int
}

// Apply dispatches this Scope to the given Applier.
func (s Scope) Apply(a Applier) {
	switch s.kind {
	case kindWhere:
		a.ApplyWhere(s.pred)
	case kindOrderBy:
		a.ApplyOrderBy(s.fields[0], s.desc)
	case kindGroupBy:
		a.ApplyGroupBy(s.fields...)
	case kindLimit:
		a.ApplyLimit(s.n)
	case kindOffset:
		a.ApplyOffset(s.n)
	case kindUndefer:
		a.ApplyUndefer(s.fields...)
	}
}

// Where returns a Scope that adds a filter predicate. Multiple Where scopes
// are combined with AND.
//
//	scope.Where(expr.Gt("age", 18))
func Where(p expr.Predicate) Scope {
	return Scope{kind: kindWhere, pred: p}
}

// Raw returns a Where scope holding a raw SQL fragment.
//
//	scope.Raw("name = ? AND role = ?", "alice", "admin")
func Raw(clause string, args ...any) Scope {
	return Where(expr.Raw(clause, args...))
}

// OrderBy returns a Scope that orders by field, ascending.
//
//	scope.OrderBy("age")
func OrderBy(field string) Scope {
	return Scope{kind: kindOrderBy, fields: []string{field}}
}

// OrderByDesc returns a Scope that orders by field, descending.
func OrderByDesc(field string) Scope {
	return Scope{kind: kindOrderBy, fields: []string{field}, desc: true}
}

// GroupBy returns a Scope that adds GROUP BY fields.
func GroupBy(fields ...string) Scope {
	return Scope{kind: kindGroupBy, fields: append([]string(nil), fields...)}
}

// Limit returns a Scope that sets the LIMIT.
func Limit(n int) Scope {
	return Scope{kind: kindLimit, n: n}
}

// Offset returns a Scope that sets the OFFSET.
func Offset(n int) Scope {
	return Scope{kind: kindOffset, n: n}
}

// Undefer returns a Scope that loads the given deferred fields with the
// main statement.
//
//	scope.Undefer("nickname", "last_name")
func Undefer(fields ...string) Scope {
	return Scope{kind: kindUndefer, fields: append([]string(nil), fields...)}
}

// In returns a Where scope with an IN predicate.
//
//	scope.In("id", []int{1, 2, 3})  // → WHERE id IN (?, ?, ?)
func In[T any](field string, values []T) Scope {
	return Where(expr.In(field, values))
}

// Paginate returns LIMIT/OFFSET scopes for a 1-based page number.
func Paginate(page, perPage int) Scopes {
	if page < 1 {
		page = 1
	}
	return Combine(Limit(perPage), Offset((page-1)*perPage))
}

// Scopes is a named slice of Scope, useful for conditionally building
// up a set of scopes.
//
//	var s scope.Scopes
//	if onlyAdults {
//	    s = s.Append(scope.Where(expr.Ge("age", 18)))
//	}
//	s = s.Append(scope.Paginate(page, perPage)...)
//	sess.Query("User").Scopes(s...).All(ctx)
type Scopes []Scope

// Append adds scopes and returns a new Scopes. The receiver is not modified.
func (ss Scopes) Append(scopes ...Scope) Scopes {
	return append(append(Scopes(nil), ss...), scopes...)
}

// Merge concatenates two Scopes and returns a new Scopes.
// Neither receiver nor argument is modified.
func (ss Scopes) Merge(other Scopes) Scopes {
	return append(append(Scopes(nil), ss...), other...)
}

// Combine creates a Scopes from the given scopes.
//
//	scope.Combine(scope.Limit(10), scope.Offset(20))
func Combine(scopes ...Scope) Scopes {
	return Scopes(scopes)
}
