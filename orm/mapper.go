package orm

import (
	"fmt"
	"maps"
	"slices"
)

// materialize returns the record of rt whose columns appear under alias in
// row, or nil when the primary key column is NULL. Records already in the
// identity map are reused; only their unloaded fields are filled in, so
// local modifications survive a re-query.
func (s *Session) materialize(rt *RecordType, alias string, cols []outCol, row []any) (*Record, error) {
	values := make(map[string]any, len(rt.fields))
	for i, c := range cols {
		if c.alias != alias {
			continue
		}
		v, err := c.field.typ.normalize(row[i])
		if err != nil {
			return nil, fmt.Errorf("orm: scan %s.%s: %w", rt.name, c.field.name, err)
		}
		values[c.field.name] = v
	}
	pk := values[rt.pk.name]
	if pk == nil {
		return nil, nil
	}
	if r, ok := s.identity[rt][pk]; ok {
		for name, v := range values {
			if !r.loaded[name] {
				r.values[name] = v
				r.loaded[name] = true
				r.original[name] = v
			}
		}
		return r, nil
	}
	r := newRecord(rt)
	r.sess = s
	r.state = statePersistent
	for name, v := range values {
		r.values[name] = v
		r.loaded[name] = true
	}
	r.original = maps.Clone(r.values)
	s.remember(r)
	return r, nil
}

// mapRecords turns the rows of a records plan into distinct root records
// in row order, assembling eagerly joined relations on the way.
func (s *Session) mapRecords(p *plan, rows [][]any) ([]*Record, error) {
	var roots []*Record
	eager := make(map[*Record]map[string]*relState)
	for _, row := range rows {
		root, err := s.materialize(p.root, rootAlias, p.cols, row)
		if err != nil {
			return nil, err
		}
		if root == nil {
			continue
		}
		states, seen := eager[root]
		if !seen {
			roots = append(roots, root)
			states = make(map[string]*relState, len(p.eager))
			for _, e := range p.eager {
				states[e.rel.name] = &relState{loaded: true}
			}
			eager[root] = states
		}
		for _, e := range p.eager {
			item, err := s.materialize(e.spec.Target, e.alias, p.cols, row)
			if err != nil {
				return nil, err
			}
			st := states[e.rel.name]
			if item == nil || slices.Contains(st.items, item) {
				continue
			}
			if !e.rel.IsCollection() && len(st.items) > 0 {
				continue
			}
			st.items = append(st.items, item)
		}
	}
	set := &resultSet{members: roots}
	for _, r := range roots {
		for name, st := range eager[r] {
			r.rels[name] = st
		}
		r.set = set
	}
	return roots, nil
}

// mapPairs turns the rows of a pairs plan into (root, joined) pairs.
func (s *Session) mapPairs(p *plan, rows [][]any) ([]Pair, error) {
	out := make([]Pair, 0, len(rows))
	var lefts []*Record
	for _, row := range rows {
		left, err := s.materialize(p.root, rootAlias, p.cols, row)
		if err != nil {
			return nil, err
		}
		right, err := s.materialize(p.target, joinAlias(0), p.cols, row)
		if err != nil {
			return nil, err
		}
		if left != nil && !slices.Contains(lefts, left) {
			lefts = append(lefts, left)
		}
		out = append(out, Pair{Left: left, Right: right})
	}
	set := &resultSet{members: lefts}
	for _, r := range lefts {
		r.set = set
	}
	return out, nil
}
