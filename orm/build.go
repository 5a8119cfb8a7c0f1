package orm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mickamy/relmap/expr"
)

type buildMode int

const (
	modeRecords buildMode = iota
	modePairs
	modeCount
	modeGroups
	modeDelete
)

const rootAlias = "t0"

// outCol is one column of a rendered SELECT, named alias__field.
type outCol struct {
	alias string
	field *Field
}

type eagerJoin struct {
	rel          *Relationship
	spec         *JoinSpec
	alias        string
	throughAlias string
}

// plan is a rendered statement plus what the mapper needs to read it.
type plan struct {
	sql  string
	args []any

	cols   []outCol
	root   *RecordType
	target *RecordType
	eager  []eagerJoin

	groupKeys  []string
	groupTypes []FieldType
}

type builder struct {
	q       *Query
	d       Dialect
	mode    buildMode
	undefer map[string]bool
	aliases map[string]string
	targets map[string]*RecordType
}

func (q *Query) build(mode buildMode, aggs []Aggregate) (*plan, error) {
	if q.err != nil {
		return nil, q.err
	}
	b := &builder{
		q:       q,
		d:       q.sess.dialect(),
		mode:    mode,
		undefer: make(map[string]bool, len(q.undefer)),
		aliases: make(map[string]string, len(q.joins)),
		targets: make(map[string]*RecordType, len(q.joins)),
	}
	for _, name := range q.undefer {
		if _, err := q.rt.field(name); err != nil {
			return nil, err
		}
		b.undefer[name] = true
	}
	for i, j := range q.joins {
		b.aliases[j.rel.name] = joinAlias(i)
		b.targets[j.rel.name] = j.spec.Target
	}

	var p *plan
	var err error
	switch mode {
	case modeDelete:
		p, err = b.delete()
	case modeGroups:
		p, err = b.groups(aggs)
	case modeCount:
		p, err = b.count()
	default:
		p, err = b.records()
	}
	if err != nil {
		return nil, err
	}
	p.sql = rewritePlaceholders(b.d, p.sql)
	return p, nil
}

func joinAlias(i int) string    { return fmt.Sprintf("t%d", i+1) }
func throughAlias(i int) string { return fmt.Sprintf("j%d", i+1) }

func (b *builder) qi(name string) string { return b.d.QuoteIdent(name) }

func (b *builder) col(alias, name string) string { return b.qi(alias) + "." + b.qi(name) }

func (b *builder) table(rt *RecordType, alias string) string {
	return b.qi(rt.table) + " AS " + b.qi(alias)
}

// fullJoin returns the full or anti join of the query, if any.
func (b *builder) fullJoin() (*joinClause, error) {
	for i := range b.q.joins {
		j := &b.q.joins[i]
		if j.kind != FullJoin && j.kind != AntiJoin {
			continue
		}
		if len(b.q.joins) > 1 {
			return nil, fmt.Errorf("orm: a %s join must be the only join of a query", j.kind)
		}
		if len(b.q.eager) > 0 {
			return nil, fmt.Errorf("orm: Eager cannot be combined with a %s join", j.kind)
		}
		return j, nil
	}
	return nil, nil
}

func (b *builder) emulated(j *joinClause) bool {
	return j.spec.Through != nil || !b.d.SupportsFullOuterJoin()
}

func (b *builder) resolveField(ref string) (string, *Field, error) {
	alias, rt, name := rootAlias, b.q.rt, ref
	if rel, field, ok := strings.Cut(ref, "."); ok {
		a, joined := b.aliases[rel]
		if !joined {
			return "", nil, fmt.Errorf("orm: relation %q is not joined", rel)
		}
		alias, rt, name = a, b.targets[rel], field
	}
	f, err := rt.field(name)
	if err != nil {
		return "", nil, err
	}
	return alias, f, nil
}

func (b *builder) column(ref string) (string, error) {
	alias, f, err := b.resolveField(ref)
	if err != nil {
		return "", err
	}
	return b.col(alias, f.name), nil
}

// where renders the WHERE clause. extra is ANDed as is.
func (b *builder) where(col expr.ColumnFunc, extra string) (string, []any, error) {
	var parts []string
	var args []any
	if n := len(b.q.wheres); n > 0 {
		sql, a, err := expr.Render(expr.And(b.q.wheres...), col)
		if err != nil {
			return "", nil, err
		}
		if n > 1 {
			sql = sql[1 : len(sql)-1]
		}
		parts = append(parts, sql)
		args = a
	}
	if extra != "" {
		if len(parts) > 0 {
			parts[0] = "(" + parts[0] + ")"
			extra = "(" + extra + ")"
		}
		parts = append(parts, extra)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func (b *builder) orderBy(orders []order, resolve func(string) (string, error), tail ...string) (string, error) {
	parts := make([]string, 0, len(orders)+len(tail))
	for _, o := range orders {
		c, err := resolve(o.field)
		if err != nil {
			return "", err
		}
		if o.desc {
			c += " DESC"
		}
		parts = append(parts, c)
	}
	parts = append(parts, tail...)
	if len(parts) == 0 {
		return "", nil
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (b *builder) selectList(p *plan, alias string, fields []*Field) []string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = b.col(alias, f.name) + " AS " + b.qi(alias+"__"+f.name)
		p.cols = append(p.cols, outCol{alias: alias, field: f})
	}
	return parts
}

// hopJoins renders the JOIN clauses walking spec from src to tgt.
func (b *builder) hopJoins(kw string, spec *JoinSpec, src, through, tgt string) string {
	if spec.Through == nil {
		h := spec.Hops[0]
		return fmt.Sprintf(" %s %s ON %s = %s", kw, b.table(spec.Target, tgt),
			b.col(tgt, h.ToColumn), b.col(src, h.FromColumn))
	}
	h0, h1 := spec.Hops[0], spec.Hops[1]
	return fmt.Sprintf(" %s %s ON %s = %s %s %s ON %s = %s",
		kw, b.table(spec.Through, through), b.col(through, h0.ToColumn), b.col(src, h0.FromColumn),
		kw, b.table(spec.Target, tgt), b.col(tgt, h1.ToColumn), b.col(through, h1.FromColumn))
}

// mirroredFrom renders a FROM clause starting at the target of spec and
// left joining back to the root: the right outer join, written as a left
// one.
func (b *builder) mirroredFrom(spec *JoinSpec, through, tgt string) string {
	if spec.Through == nil {
		h := spec.Hops[0]
		return fmt.Sprintf("%s LEFT JOIN %s ON %s = %s", b.table(spec.Target, tgt),
			b.table(spec.Source, rootAlias), b.col(rootAlias, h.FromColumn), b.col(tgt, h.ToColumn))
	}
	h0, h1 := spec.Hops[0], spec.Hops[1]
	return fmt.Sprintf("%s LEFT JOIN %s ON %s = %s LEFT JOIN %s ON %s = %s",
		b.table(spec.Target, tgt),
		b.table(spec.Through, through), b.col(through, h1.FromColumn), b.col(tgt, h1.ToColumn),
		b.table(spec.Source, rootAlias), b.col(rootAlias, h0.FromColumn), b.col(through, h0.ToColumn))
}

func joinKeyword(k JoinKind) string {
	switch k {
	case LeftJoin:
		return "LEFT JOIN"
	case FullJoin, AntiJoin:
		return "FULL OUTER JOIN"
	}
	return "INNER JOIN"
}

func (b *builder) userJoins(src string) string {
	var sb strings.Builder
	for i, j := range b.q.joins {
		sb.WriteString(b.hopJoins(joinKeyword(j.kind), j.spec, src, throughAlias(i), joinAlias(i)))
	}
	return sb.String()
}

// antiFilter keeps rows whose primary key is NULL on one side.
func (b *builder) antiFilter(j *joinClause, rootKey, targetKey string) string {
	if j.kind != AntiJoin {
		return ""
	}
	return rootKey + " IS NULL OR " + targetKey + " IS NULL"
}

func (b *builder) eagerJoins() ([]eagerJoin, error) {
	var names []string
	seen := make(map[string]bool)
	for _, name := range b.q.eager {
		rel, ok := b.q.rt.Relation(name)
		if !ok {
			return nil, configErrorf(b.q.rt.name, name, "unknown relationship")
		}
		if rel.policy == WriteOnly || rel.policy == Dynamic {
			return nil, &AccessError{Type: b.q.rt.name, Relation: name, Policy: rel.policy}
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, rel := range b.q.rt.relations {
		if rel.policy == Eager && !seen[rel.name] {
			seen[rel.name] = true
			names = append(names, rel.name)
		}
	}
	out := make([]eagerJoin, 0, len(names))
	for i, name := range names {
		rel := b.q.rt.relByName[name]
		spec, err := b.q.sess.reg.join(b.q.rt, rel)
		if err != nil {
			return nil, err
		}
		out = append(out, eagerJoin{
			rel:          rel,
			spec:         spec,
			alias:        fmt.Sprintf("e%d", i+1),
			throughAlias: fmt.Sprintf("ej%d", i+1),
		})
	}
	return out, nil
}

// records renders the SELECT for All, Pairs and Count.
func (b *builder) records() (*plan, error) {
	q := b.q
	p := &plan{root: q.rt}
	full, err := b.fullJoin()
	if err != nil {
		return nil, err
	}
	if full != nil && b.emulated(full) {
		return b.union(p, full)
	}

	var eager []eagerJoin
	if b.mode == modeRecords && full == nil {
		if eager, err = b.eagerJoins(); err != nil {
			return nil, err
		}
	}
	p.eager = eager

	sel := b.selectList(p, rootAlias, q.rt.selectFields(b.undefer, q.undeferAll))
	if b.mode != modeRecords && len(q.joins) > 0 {
		p.target = q.joins[0].spec.Target
		sel = append(sel, b.selectList(p, joinAlias(0), p.target.selectFields(nil, false))...)
	}
	for _, e := range eager {
		sel = append(sel, b.selectList(p, e.alias, e.spec.Target.selectFields(nil, false))...)
	}

	extra := ""
	if full != nil {
		extra = b.antiFilter(full, b.col(rootAlias, q.rt.pk.name), b.col(joinAlias(0), full.spec.Target.pk.name))
	}

	wrap := false
	if q.limit != nil || q.offset != nil {
		for _, e := range eager {
			if e.rel.IsCollection() {
				wrap = true
			}
		}
	}

	var sb strings.Builder
	var args []any
	sb.WriteString("SELECT " + strings.Join(sel, ", ") + " FROM ")

	var tail []string
	if len(eager) > 0 {
		tail = append(tail, b.col(rootAlias, q.rt.pk.name))
		for _, e := range eager {
			if e.spec.Through != nil && e.spec.Through.pk != nil {
				tail = append(tail, b.col(e.throughAlias, e.spec.Through.pk.name))
			}
			tail = append(tail, b.col(e.alias, e.spec.Target.pk.name))
		}
	}

	if wrap {
		// Limit the root rows before the eager joins multiply them.
		where, wargs, err := b.where(b.column, extra)
		if err != nil {
			return nil, err
		}
		inner, err := b.orderBy(q.orders, b.column)
		if err != nil {
			return nil, err
		}
		sb.WriteString("(SELECT " + b.qi(rootAlias) + ".* FROM " + b.table(q.rt, rootAlias) +
			b.userJoins(rootAlias) + where + inner + limitClause(b.d, q.limit, q.offset) + ") AS " + b.qi(rootAlias))
		args = wargs
		for _, e := range eager {
			sb.WriteString(b.hopJoins("LEFT JOIN", e.spec, rootAlias, e.throughAlias, e.alias))
		}
		outer, err := b.orderBy(q.orders, func(ref string) (string, error) {
			if strings.Contains(ref, ".") {
				return "", fmt.Errorf("orm: cannot order by joined field %q with Eager and Limit", ref)
			}
			return b.column(ref)
		}, tail...)
		if err != nil {
			return nil, err
		}
		sb.WriteString(outer)
		p.sql, p.args = sb.String(), args
		return p, nil
	}

	sb.WriteString(b.table(q.rt, rootAlias))
	sb.WriteString(b.userJoins(rootAlias))
	for _, e := range eager {
		sb.WriteString(b.hopJoins("LEFT JOIN", e.spec, rootAlias, e.throughAlias, e.alias))
	}
	where, args, err := b.where(b.column, extra)
	if err != nil {
		return nil, err
	}
	sb.WriteString(where)
	if b.mode != modeCount {
		ob, err := b.orderBy(q.orders, b.column, tail...)
		if err != nil {
			return nil, err
		}
		sb.WriteString(ob)
	}
	sb.WriteString(limitClause(b.d, q.limit, q.offset))
	p.sql, p.args = sb.String(), args
	return p, nil
}

// union renders a full or anti join as the UNION of a left outer join and
// its mirror. UNION drops the rows matched by both branches, so each
// (root, target) primary key pair appears once.
func (b *builder) union(p *plan, j *joinClause) (*plan, error) {
	q := b.q
	if len(q.groups) > 0 {
		return nil, errors.New("orm: GroupBy is not supported with an emulated full join")
	}
	tgt, through := joinAlias(0), throughAlias(0)
	p.target = j.spec.Target

	sel := b.selectList(p, rootAlias, q.rt.selectFields(b.undefer, q.undeferAll))
	sel = append(sel, b.selectList(p, tgt, j.spec.Target.selectFields(nil, false))...)
	list := strings.Join(sel, ", ")

	where, wargs, err := b.where(b.column, "")
	if err != nil {
		return nil, err
	}
	left := "SELECT " + list + " FROM " + b.table(q.rt, rootAlias) +
		b.hopJoins("LEFT JOIN", j.spec, rootAlias, through, tgt) + where
	right := "SELECT " + list + " FROM " + b.mirroredFrom(j.spec, through, tgt) + where

	u := b.qi("u")
	var sb strings.Builder
	sb.WriteString("SELECT * FROM (" + left + " UNION " + right + ") AS " + u)
	if anti := b.antiFilter(j, u+"."+b.qi(rootAlias+"__"+q.rt.pk.name), u+"."+b.qi(tgt+"__"+j.spec.Target.pk.name)); anti != "" {
		sb.WriteString(" WHERE " + anti)
	}
	if b.mode != modeCount {
		ob, err := b.orderBy(q.orders, func(ref string) (string, error) {
			alias, f, err := b.resolveField(ref)
			if err != nil {
				return "", err
			}
			for _, c := range p.cols {
				if c.alias == alias && c.field == f {
					return u + "." + b.qi(alias+"__"+f.name), nil
				}
			}
			return "", fmt.Errorf("orm: cannot order a full join by unselected field %q", ref)
		})
		if err != nil {
			return nil, err
		}
		sb.WriteString(ob)
	}
	sb.WriteString(limitClause(b.d, q.limit, q.offset))
	p.sql = sb.String()
	p.args = append(append([]any(nil), wargs...), wargs...)
	return p, nil
}

func (b *builder) count() (*plan, error) {
	q := b.q
	if len(q.joins) == 0 && q.limit == nil && q.offset == nil {
		where, args, err := b.where(b.column, "")
		if err != nil {
			return nil, err
		}
		return &plan{
			root: q.rt,
			sql:  "SELECT COUNT(*) FROM " + b.table(q.rt, rootAlias) + where,
			args: args,
		}, nil
	}
	inner, err := b.records()
	if err != nil {
		return nil, err
	}
	return &plan{
		root: q.rt,
		sql:  "SELECT COUNT(*) FROM (" + inner.sql + ") AS " + b.qi("c"),
		args: inner.args,
	}, nil
}

func (b *builder) groups(aggs []Aggregate) (*plan, error) {
	q := b.q
	if full, err := b.fullJoin(); err != nil {
		return nil, err
	} else if full != nil {
		return nil, fmt.Errorf("orm: GroupBy is not supported with a %s join", full.kind)
	}
	p := &plan{root: q.rt}
	var sel, groupCols []string
	for _, ref := range q.groups {
		_, f, err := b.resolveField(ref)
		if err != nil {
			return nil, err
		}
		c, _ := b.column(ref)
		sel = append(sel, c)
		groupCols = append(groupCols, c)
		p.groupKeys = append(p.groupKeys, ref)
		p.groupTypes = append(p.groupTypes, f.typ)
	}
	aggAlias := make(map[string]string, len(aggs))
	for _, a := range aggs {
		if a.as == "" {
			return nil, errors.New("orm: aggregate without a name")
		}
		arg := "*"
		if a.field != "" {
			c, err := b.column(a.field)
			if err != nil {
				return nil, err
			}
			arg = c
		}
		sel = append(sel, a.fn+"("+arg+") AS "+b.qi(a.as))
		aggAlias[a.as] = b.qi(a.as)
	}
	if len(sel) == 0 {
		return nil, errors.New("orm: Groups needs GroupBy fields or aggregates")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + strings.Join(sel, ", ") + " FROM " + b.table(q.rt, rootAlias) + b.userJoins(rootAlias))
	where, args, err := b.where(b.column, "")
	if err != nil {
		return nil, err
	}
	sb.WriteString(where)
	if len(groupCols) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(groupCols, ", "))
	}
	ob, err := b.orderBy(q.orders, func(ref string) (string, error) {
		if a, ok := aggAlias[ref]; ok {
			return a, nil
		}
		return b.column(ref)
	})
	if err != nil {
		return nil, err
	}
	sb.WriteString(ob)
	sb.WriteString(limitClause(b.d, q.limit, q.offset))
	p.sql, p.args = sb.String(), args
	return p, nil
}

func (b *builder) delete() (*plan, error) {
	q := b.q
	if len(q.joins) > 0 {
		return nil, errors.New("orm: Delete does not support joins")
	}
	where, args, err := b.where(func(ref string) (string, error) {
		if strings.Contains(ref, ".") {
			return "", fmt.Errorf("orm: Delete cannot filter on %q", ref)
		}
		f, err := q.rt.field(ref)
		if err != nil {
			return "", err
		}
		return b.qi(f.name), nil
	}, "")
	if err != nil {
		return nil, err
	}
	return &plan{root: q.rt, sql: "DELETE FROM " + b.qi(q.rt.table) + where, args: args}, nil
}
