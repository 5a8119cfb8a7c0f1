package orm

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mickamy/relmap/expr"
	"github.com/mickamy/relmap/scope"
)

// JoinKind selects how a relationship is joined.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	FullJoin
	// AntiJoin keeps the rows of a full outer join that have no partner on
	// one side: records of either type that are not linked to any record
	// of the other.
	AntiJoin
)

func (k JoinKind) String() string {
	switch k {
	case InnerJoin:
		return "inner"
	case LeftJoin:
		return "left-outer"
	case FullJoin:
		return "full-outer"
	case AntiJoin:
		return "anti"
	}
	return "JoinKind(" + strconv.Itoa(int(k)) + ")"
}

type order struct {
	field string
	desc  bool
}

type joinClause struct {
	rel  *Relationship
	spec *JoinSpec
	kind JoinKind
}

// Query represents a pending query against a single record type.
// All builder methods return a new Query; the receiver is never modified.
//
// Field references are a field name of the root type ("name") or a
// relation name and a field of its target ("books.title"); the relation
// must be joined.
type Query struct {
	sess *Session
	rt   *RecordType

	wheres     []expr.Predicate
	orders     []order
	groups     []string
	limit      *int
	offset     *int
	joins      []joinClause
	eager      []string
	undefer    []string
	undeferAll bool

	err error
}

// clone returns a shallow copy with slices copied to avoid aliasing.
func (q *Query) clone() *Query {
	q2 := *q
	q2.wheres = append([]expr.Predicate(nil), q.wheres...)
	q2.orders = append([]order(nil), q.orders...)
	q2.groups = append([]string(nil), q.groups...)
	q2.joins = append([]joinClause(nil), q.joins...)
	q2.eager = append([]string(nil), q.eager...)
	q2.undefer = append([]string(nil), q.undefer...)
	return &q2
}

// Type returns the root record type.
func (q *Query) Type() *RecordType { return q.rt }

// --- Builder methods ---

// Where adds filter predicates. Predicates of repeated calls are combined
// with AND; use expr.Or and expr.Not for other combinations.
func (q *Query) Where(preds ...expr.Predicate) *Query {
	q2 := q.clone()
	q2.wheres = append(q2.wheres, preds...)
	return q2
}

// OrderBy orders by field, ascending.
func (q *Query) OrderBy(field string) *Query {
	q2 := q.clone()
	q2.orders = append(q2.orders, order{field: field})
	return q2
}

// OrderByDesc orders by field, descending.
func (q *Query) OrderByDesc(field string) *Query {
	q2 := q.clone()
	q2.orders = append(q2.orders, order{field: field, desc: true})
	return q2
}

// GroupBy sets the grouping fields used by Groups.
func (q *Query) GroupBy(fields ...string) *Query {
	q2 := q.clone()
	q2.groups = append(q2.groups, fields...)
	return q2
}

func (q *Query) Limit(n int) *Query {
	q2 := q.clone()
	q2.limit = &n
	return q2
}

func (q *Query) Offset(n int) *Query {
	q2 := q.clone()
	q2.offset = &n
	return q2
}

// Join adds an INNER JOIN along the named relationship.
func (q *Query) Join(relation string) *Query { return q.JoinWith(relation, InnerJoin) }

// LeftJoin adds a LEFT OUTER JOIN along the named relationship.
func (q *Query) LeftJoin(relation string) *Query { return q.JoinWith(relation, LeftJoin) }

// FullJoin adds a FULL OUTER JOIN along the named relationship. Engines
// without FULL OUTER JOIN get the union of a left and a right outer join.
func (q *Query) FullJoin(relation string) *Query { return q.JoinWith(relation, FullJoin) }

// AntiJoin adds an anti join along the named relationship.
func (q *Query) AntiJoin(relation string) *Query { return q.JoinWith(relation, AntiJoin) }

// JoinWith joins the named relationship with the given kind.
func (q *Query) JoinWith(relation string, kind JoinKind) *Query {
	q2 := q.clone()
	if q2.err != nil {
		return q2
	}
	rel, ok := q.rt.Relation(relation)
	if !ok {
		q2.err = configErrorf(q.rt.name, relation, "unknown relationship")
		return q2
	}
	for _, j := range q.joins {
		if j.rel == rel {
			q2.err = fmt.Errorf("orm: relation %q joined twice", relation)
			return q2
		}
	}
	spec, err := q.sess.reg.join(q.rt, rel)
	if err != nil {
		q2.err = err
		return q2
	}
	q2.joins = append(q2.joins, joinClause{rel: rel, spec: spec, kind: kind})
	return q2
}

// Eager loads the named relationships in the same statement as the root
// records, whatever their load policy. It is the directive required by
// explicit-only relationships.
func (q *Query) Eager(relations ...string) *Query {
	q2 := q.clone()
	q2.eager = append(q2.eager, relations...)
	return q2
}

// Undefer loads the given deferred fields with the main statement.
func (q *Query) Undefer(fields ...string) *Query {
	q2 := q.clone()
	q2.undefer = append(q2.undefer, fields...)
	return q2
}

// UndeferAll loads every deferred field with the main statement.
func (q *Query) UndeferAll() *Query {
	q2 := q.clone()
	q2.undeferAll = true
	return q2
}

// Scopes applies the given scope.Scope values to the query.
func (q *Query) Scopes(scopes ...scope.Scope) *Query {
	q2 := q.clone()
	for _, s := range scopes {
		s.Apply(q2)
	}
	return q2
}

// --- scope.Applier implementation ---

func (q *Query) ApplyWhere(p expr.Predicate) { q.wheres = append(q.wheres, p) }

func (q *Query) ApplyOrderBy(field string, desc bool) {
	q.orders = append(q.orders, order{field: field, desc: desc})
}

func (q *Query) ApplyGroupBy(fields ...string) { q.groups = append(q.groups, fields...) }
func (q *Query) ApplyLimit(n int)              { q.limit = &n }
func (q *Query) ApplyOffset(n int)             { q.offset = &n }
func (q *Query) ApplyUndefer(fields ...string) { q.undefer = append(q.undefer, fields...) }

var _ scope.Applier = (*Query)(nil)

// --- Terminal methods ---

// Statement renders the SELECT statement All would execute.
func (q *Query) Statement() (string, []any, error) {
	p, err := q.build(modeRecords, nil)
	if err != nil {
		return "", nil, err
	}
	return p.sql, p.args, nil
}

// All executes the query and returns the distinct root records in row
// order.
func (q *Query) All(ctx context.Context) ([]*Record, error) {
	if err := q.sess.check(); err != nil {
		return nil, err
	}
	p, err := q.build(modeRecords, nil)
	if err != nil {
		return nil, err
	}
	rows, err := q.sess.fetch(ctx, p.sql, p.args)
	if err != nil {
		return nil, classify("select", q.rt.table, err)
	}
	return q.sess.mapRecords(p, rows)
}

// First returns the first matching record, or ErrNotFound.
func (q *Query) First(ctx context.Context) (*Record, error) {
	items, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// Get returns the record with primary key pk, or ErrNotFound.
func (q *Query) Get(ctx context.Context, pk any) (*Record, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.Where(expr.Eq(q.rt.pk.name, pk)).First(ctx)
}

// Pair is one row of a joined query. Either side is nil when an outer
// join found no partner.
type Pair struct {
	Left  *Record
	Right *Record
}

// Pairs executes a query with exactly one join and returns the joined
// records row by row.
func (q *Query) Pairs(ctx context.Context) ([]Pair, error) {
	if err := q.sess.check(); err != nil {
		return nil, err
	}
	if q.err == nil && len(q.joins) != 1 {
		return nil, errors.New("orm: Pairs needs exactly one join")
	}
	p, err := q.build(modePairs, nil)
	if err != nil {
		return nil, err
	}
	rows, err := q.sess.fetch(ctx, p.sql, p.args)
	if err != nil {
		return nil, classify("select", q.rt.table, err)
	}
	return q.sess.mapPairs(p, rows)
}

// Count returns the number of rows the query produces.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if err := q.sess.check(); err != nil {
		return 0, err
	}
	p, err := q.build(modeCount, nil)
	if err != nil {
		return 0, err
	}
	rows, err := q.sess.fetch(ctx, p.sql, p.args)
	if err != nil {
		return 0, classify("count", q.rt.table, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, errors.New("orm: COUNT returned no rows")
	}
	n, err := Int.normalize(rows[0][0])
	if err != nil {
		return 0, fmt.Errorf("orm: COUNT: %w", err)
	}
	return n.(int64), nil
}

// Exists returns true if at least one row matches.
func (q *Query) Exists(ctx context.Context) (bool, error) {
	count, err := q.Limit(1).Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Aggregate is an aggregate column of a grouped query.
type Aggregate struct {
	fn    string
	field string
	as    string
}

// CountAll counts the rows of each group as as.
func CountAll(as string) Aggregate { return Aggregate{fn: "COUNT", as: as} }

func Sum(field, as string) Aggregate { return Aggregate{fn: "SUM", field: field, as: as} }
func Avg(field, as string) Aggregate { return Aggregate{fn: "AVG", field: field, as: as} }
func Min(field, as string) Aggregate { return Aggregate{fn: "MIN", field: field, as: as} }
func Max(field, as string) Aggregate { return Aggregate{fn: "MAX", field: field, as: as} }

// Row is one result row of Groups, keyed by group field reference and
// aggregate name.
type Row map[string]any

// Groups executes a grouped query. Each Row holds the GroupBy fields and
// the aggregates. Aggregate names may be used with OrderBy.
//
//	sess.Query("User").GroupBy("sex").OrderByDesc("n").Groups(ctx, orm.CountAll("n"))
func (q *Query) Groups(ctx context.Context, aggs ...Aggregate) ([]Row, error) {
	if err := q.sess.check(); err != nil {
		return nil, err
	}
	p, err := q.build(modeGroups, aggs)
	if err != nil {
		return nil, err
	}
	rows, err := q.sess.fetch(ctx, p.sql, p.args)
	if err != nil {
		return nil, classify("select", q.rt.table, err)
	}
	out := make([]Row, 0, len(rows))
	for _, raw := range rows {
		row := make(Row, len(p.groupKeys)+len(aggs))
		for i, key := range p.groupKeys {
			v, err := p.groupTypes[i].normalize(raw[i])
			if err != nil {
				return nil, fmt.Errorf("orm: group %s: %w", key, err)
			}
			row[key] = v
		}
		for i, a := range aggs {
			v := raw[len(p.groupKeys)+i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[a.as] = v
		}
		out = append(out, row)
	}
	return out, nil
}

// Delete deletes the rows matching the WHERE clauses immediately, without
// going through the unit of work, and returns the number of rows deleted.
// Records of the session are not updated. It refuses to run without a
// WHERE clause.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if err := q.sess.check(); err != nil {
		return 0, err
	}
	if len(q.wheres) == 0 {
		return 0, errors.New("orm: Delete without WHERE clause is not allowed")
	}
	p, err := q.build(modeDelete, nil)
	if err != nil {
		return 0, err
	}
	res, err := q.sess.exec(ctx, p.sql, p.args)
	if err != nil {
		return 0, classify("delete", q.rt.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("delete", q.rt.table, err)
	}
	return n, nil
}
