package orm

import (
	"context"
	"fmt"
	"strings"

	"github.com/mickamy/relmap/expr"
)

// loadLazy loads rel for r. For lazy-batch relationships every record of
// r's result set that has not loaded rel yet is loaded in the same
// statement.
func (s *Session) loadLazy(ctx context.Context, r *Record, rel *Relationship) error {
	owners := []*Record{r}
	if rel.policy == LazyBatch && r.set != nil {
		owners = owners[:0]
		for _, m := range r.set.members {
			if m.state != statePersistent || m.sess != s {
				continue
			}
			if st := m.rels[rel.name]; st != nil && st.loaded {
				continue
			}
			owners = append(owners, m)
		}
		if len(owners) == 0 {
			owners = append(owners, r)
		}
	}
	return s.loadRelation(ctx, r.rt, rel, owners)
}

// loadRelation fills the rel cache of every owner with one statement.
func (s *Session) loadRelation(ctx context.Context, rt *RecordType, rel *Relationship, owners []*Record) error {
	if err := s.check(); err != nil {
		return err
	}
	spec, err := s.reg.join(rt, rel)
	if err != nil {
		return err
	}
	var keys []any
	seen := make(map[any]bool, len(owners))
	for _, o := range owners {
		k := o.values[spec.SourceColumn]
		if k == nil || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	var pairs []JoinPair[any, *Record]
	if len(keys) > 0 {
		if spec.Through == nil {
			pairs, err = s.queryTargets(ctx, spec, keys)
		} else {
			pairs, err = s.queryJoinTable(ctx, spec, keys)
		}
		if err != nil {
			return err
		}
	}
	groups := GroupBySource(pairs)
	for _, o := range owners {
		items := groups[o.values[spec.SourceColumn]]
		if !rel.IsCollection() && len(items) > 1 {
			items = items[:1]
		}
		o.rels[rel.name] = &relState{loaded: true, items: append([]*Record(nil), items...)}
		if rel.backRef == "" || spec.Through != nil || rel.fkOnOwner() {
			continue
		}
		for _, item := range items {
			if st := item.rels[rel.backRef]; st == nil || !st.loaded {
				item.rels[rel.backRef] = &relState{loaded: true, items: []*Record{o}}
			}
		}
	}
	return nil
}

// queryTargets reads the targets of a direct relationship whose
// TargetColumn holds one of keys.
func (s *Session) queryTargets(ctx context.Context, spec *JoinSpec, keys []any) ([]JoinPair[any, *Record], error) {
	d := s.dialect()
	qi := d.QuoteIdent
	qcol := func(name string) string { return qi(rootAlias) + "." + qi(name) }

	fields := spec.Target.selectFields(nil, false)
	keyField := spec.Target.byName[spec.TargetColumn]
	if keyField.deferred {
		fields = append(fields, keyField)
	}
	cols := make([]outCol, len(fields))
	sel := make([]string, len(fields))
	keyIdx := -1
	for i, f := range fields {
		cols[i] = outCol{alias: rootAlias, field: f}
		sel[i] = qcol(f.name) + " AS " + qi(rootAlias+"__"+f.name)
		if f == keyField {
			keyIdx = i
		}
	}

	in, args, err := expr.Render(expr.In(spec.TargetColumn, keys), func(field string) (string, error) {
		return qcol(field), nil
	})
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s AS %s WHERE %s ORDER BY %s",
		strings.Join(sel, ", "), qi(spec.Target.table), qi(rootAlias), in, qcol(spec.Target.pk.name))

	rows, err := s.fetch(ctx, rewritePlaceholders(d, query), args)
	if err != nil {
		return nil, classify("select", spec.Target.table, err)
	}
	pairs := make([]JoinPair[any, *Record], 0, len(rows))
	for _, row := range rows {
		key, err := keyField.typ.normalize(row[keyIdx])
		if err != nil {
			return nil, fmt.Errorf("orm: scan %s.%s: %w", spec.Target.name, keyField.name, err)
		}
		target, err := s.materialize(spec.Target, rootAlias, cols, row)
		if err != nil {
			return nil, err
		}
		if target != nil {
			pairs = append(pairs, JoinPair[any, *Record]{Source: key, Target: target})
		}
	}
	return pairs, nil
}

// loadDeferred loads every unloaded field of r in one statement.
func (s *Session) loadDeferred(ctx context.Context, r *Record) error {
	if err := s.check(); err != nil {
		return err
	}
	d := s.dialect()
	qi := d.QuoteIdent
	var cols []outCol
	var sel []string
	for _, f := range r.rt.fields {
		if r.loaded[f.name] {
			continue
		}
		cols = append(cols, outCol{alias: rootAlias, field: f})
		sel = append(sel, qi(rootAlias)+"."+qi(f.name))
	}
	if len(cols) == 0 {
		return nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s AS %s WHERE %s.%s = ?",
		strings.Join(sel, ", "), qi(r.rt.table), qi(rootAlias), qi(rootAlias), qi(r.rt.pk.name))
	rows, err := s.fetch(ctx, rewritePlaceholders(d, query), []any{r.PK()})
	if err != nil {
		return classify("select", r.rt.table, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("orm: load deferred fields of %s: %w", r, ErrNotFound)
	}
	for i, c := range cols {
		v, err := c.field.typ.normalize(rows[0][i])
		if err != nil {
			return fmt.Errorf("orm: scan %s.%s: %w", r.rt.name, c.field.name, err)
		}
		r.values[c.field.name] = v
		r.loaded[c.field.name] = true
		r.original[c.field.name] = v
	}
	return nil
}
