package orm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// snapshot is the state of a record before a flush wrote it.
type snapshot struct {
	state    recordState
	values   map[string]any
	original map[string]any
	loaded   map[string]bool
	dirty    map[string]bool
	links    map[string]*Record
	assoc    []assocOp
}

type journalEntry struct {
	rec  *Record
	snap snapshot
}

func (s *Session) record(r *Record) {
	s.journal = append(s.journal, journalEntry{rec: r, snap: snapshot{
		state:    r.state,
		values:   maps.Clone(r.values),
		original: maps.Clone(r.original),
		loaded:   maps.Clone(r.loaded),
		dirty:    maps.Clone(r.dirty),
		links:    maps.Clone(r.links),
		assoc:    slices.Clone(r.assoc),
	}})
}

// restore puts every record written since the transaction began back into
// the state it had before, so that the same changes can be flushed again.
func (s *Session) restore() {
	var order []*Record
	first := make(map[*Record]snapshot, len(s.journal))
	for _, e := range s.journal {
		if _, ok := first[e.rec]; !ok {
			first[e.rec] = e.snap
			order = append(order, e.rec)
		}
	}
	var pending, deleted []*Record
	for _, r := range order {
		s.forget(r)
		snap := first[r]
		r.state = snap.state
		r.values = snap.values
		r.original = snap.original
		r.loaded = snap.loaded
		r.dirty = snap.dirty
		r.links = snap.links
		r.assoc = snap.assoc
		r.sess = s
		switch r.state {
		case statePending:
			pending = append(pending, r)
		case stateDeleted:
			s.remember(r)
			deleted = append(deleted, r)
		default:
			s.remember(r)
		}
	}
	rest := func(list, restored []*Record) []*Record {
		for _, r := range list {
			if _, ok := first[r]; !ok {
				restored = append(restored, r)
			}
		}
		return restored
	}
	s.pending = rest(s.pending, pending)
	s.deleted = rest(s.deleted, deleted)
	s.journal = nil
}

// Flush writes buffered changes inside the session transaction, which is
// opened on the first flush and closed by Commit or Rollback. Inserts run
// parents first, then updates of dirty fields, association rows and
// finally deletes, children first.
//
// When a statement fails the transaction is rolled back and every change
// written since it began is buffered again; the error is returned as an
// IntegrityError or ConnectionError where it can be classified.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if !s.hasChanges() {
		return nil
	}
	if s.tx == nil {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		s.tx = tx
	}
	if err := s.flush(ctx); err != nil {
		s.restore()
		_ = s.tx.Rollback()
		s.tx = nil
		return err
	}
	return nil
}

func (s *Session) hasChanges() bool {
	if len(s.pending) > 0 || len(s.deleted) > 0 {
		return true
	}
	for _, r := range s.tracked {
		if len(r.dirty) > 0 || len(r.assoc) > 0 {
			return true
		}
	}
	return false
}

func (s *Session) flush(ctx context.Context) error {
	stamp := now(ctx)
	inserts, err := s.insertOrder()
	if err != nil {
		return err
	}
	for _, r := range inserts {
		if err := s.insert(ctx, r, stamp); err != nil {
			return err
		}
	}
	for _, r := range slices.Clone(s.tracked) {
		if r.state == statePersistent && len(r.dirty) > 0 {
			if err := s.update(ctx, r, stamp); err != nil {
				return err
			}
		}
	}
	for _, r := range slices.Clone(s.tracked) {
		if r.state == statePersistent && len(r.assoc) > 0 {
			if err := s.writeAssoc(ctx, r, stamp); err != nil {
				return err
			}
		}
	}
	deletes, err := s.deleteOrder()
	if err != nil {
		return err
	}
	for _, r := range deletes {
		if err := s.remove(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// insertOrder sorts the pending records by the registry flush order and,
// within a type, so that records come after the records they link to.
func (s *Session) insertOrder() ([]*Record, error) {
	var out []*Record
	for _, rt := range s.reg.order {
		var batch []*Record
		for _, r := range s.pending {
			if r.rt == rt {
				batch = append(batch, r)
			}
		}
		sorted, err := sortSelfLinks(batch)
		if err != nil {
			return nil, &IntegrityError{Table: rt.table, Op: "insert", Err: err}
		}
		out = append(out, sorted...)
	}
	return out, nil
}

// deleteOrder sorts the deleted records in reverse insert order.
func (s *Session) deleteOrder() ([]*Record, error) {
	var out []*Record
	for _, rt := range slices.Backward(s.reg.order) {
		var batch []*Record
		for _, r := range s.deleted {
			if r.rt == rt {
				batch = append(batch, r)
			}
		}
		sorted, err := sortSelfLinks(batch)
		if err != nil {
			return nil, &IntegrityError{Table: rt.table, Op: "delete", Err: err}
		}
		slices.Reverse(sorted)
		out = append(out, sorted...)
	}
	return out, nil
}

// sortSelfLinks orders records of one type so that every record comes
// after the records of the batch its self foreign keys point at.
func sortSelfLinks(batch []*Record) ([]*Record, error) {
	if len(batch) < 2 && (len(batch) == 0 || !linksTo(batch[0], batch[0])) {
		return batch, nil
	}
	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[*Record]int, len(batch))
	out := make([]*Record, 0, len(batch))
	var visit func(r *Record) error
	visit = func(r *Record) error {
		switch mark[r] {
		case visiting:
			return fmt.Errorf("%w at %s", ErrCyclicReference, r)
		case done:
			return nil
		}
		mark[r] = visiting
		for _, other := range batch {
			if linksTo(r, other) {
				if err := visit(other); err != nil {
					return err
				}
			}
		}
		mark[r] = done
		out = append(out, r)
		return nil
	}
	for _, r := range batch {
		if err := visit(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// linksTo reports whether a self foreign key of r points at other.
func linksTo(r, other *Record) bool {
	for _, f := range r.rt.fields {
		if f.ref == nil || f.ref.Type != r.rt.name {
			continue
		}
		if t, ok := r.links[f.name]; ok {
			if t == other {
				return true
			}
			continue
		}
		if v := r.values[f.name]; v != nil && other.PK() != nil && v == other.PK() {
			return true
		}
	}
	return false
}

// resolveLinks copies the primary keys of linked records into the foreign
// key fields of r.
func resolveLinks(r *Record) error {
	for fk, t := range r.links {
		if t.state == stateDeleted {
			return fmt.Errorf("orm: %s links to deleted record %s", r, t)
		}
		pk := t.PK()
		if pk == nil {
			return fmt.Errorf("orm: %s links to %s, which has no primary key yet", r, t)
		}
		if r.values[fk] != pk {
			r.values[fk] = pk
			r.dirty[fk] = true
		}
		r.loaded[fk] = true
	}
	return nil
}

func (s *Session) insert(ctx context.Context, r *Record, stamp time.Time) error {
	s.record(r)
	rt := r.rt
	if err := resolveLinks(r); err != nil {
		return err
	}
	for _, f := range rt.fields {
		switch {
		case f.stamp == stampCreated && r.values[f.name] == nil,
			f.stamp == stampUpdated:
			r.values[f.name] = stamp
			r.loaded[f.name] = true
		case f.primaryKey && f.typ == String && r.values[f.name] == nil:
			r.values[f.name] = uuid.NewString()
			r.loaded[f.name] = true
		}
	}

	d := s.dialect()
	var cols, marks []string
	var args []any
	for _, f := range rt.fields {
		if f.autoPK() && r.values[f.name] == nil {
			continue
		}
		cols = append(cols, d.QuoteIdent(f.name))
		marks = append(marks, "?")
		args = append(args, r.values[f.name])
	}
	query := "INSERT INTO " + d.QuoteIdent(rt.table)
	if len(cols) == 0 {
		query += " DEFAULT VALUES"
	} else {
		query += " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	}
	query = rewritePlaceholders(d, query)

	generate := rt.pk.autoPK() && r.values[rt.pk.name] == nil
	if generate && d.UseReturning() {
		rows, err := s.fetch(ctx, query+d.ReturningClause(rt.pk.name), args)
		if err != nil {
			return classify("insert", rt.table, err)
		}
		if len(rows) == 0 {
			return errors.New("orm: INSERT RETURNING returned no rows")
		}
		if r.values[rt.pk.name], err = Int.normalize(rows[0][0]); err != nil {
			return fmt.Errorf("orm: %s primary key: %w", rt.name, err)
		}
	} else {
		res, err := s.exec(ctx, query, args)
		if err != nil {
			return classify("insert", rt.table, err)
		}
		if generate {
			id, err := res.LastInsertId()
			if err != nil {
				return classify("insert", rt.table, err)
			}
			r.values[rt.pk.name] = id
		}
	}

	r.state = statePersistent
	r.original = maps.Clone(r.values)
	clear(r.dirty)
	s.pending = slices.DeleteFunc(s.pending, func(x *Record) bool { return x == r })
	s.remember(r)
	return nil
}

func (s *Session) update(ctx context.Context, r *Record, stamp time.Time) error {
	s.record(r)
	if err := resolveLinks(r); err != nil {
		return err
	}
	rt := r.rt
	var changed []*Field
	for _, f := range rt.fields {
		if r.dirty[f.name] && !sameValue(r.values[f.name], r.original[f.name]) {
			changed = append(changed, f)
		}
	}
	if len(changed) == 0 {
		clear(r.dirty)
		return nil
	}
	for _, f := range rt.fields {
		if f.stamp == stampUpdated && !r.dirty[f.name] {
			r.values[f.name] = stamp
			r.loaded[f.name] = true
			changed = append(changed, f)
		}
	}

	d := s.dialect()
	sets := make([]string, len(changed))
	args := make([]any, 0, len(changed)+1)
	for i, f := range changed {
		sets[i] = d.QuoteIdent(f.name) + " = ?"
		args = append(args, r.values[f.name])
	}
	args = append(args, r.PK())
	query := rewritePlaceholders(d, "UPDATE "+d.QuoteIdent(rt.table)+" SET "+strings.Join(sets, ", ")+
		" WHERE "+d.QuoteIdent(rt.pk.name)+" = ?")
	if _, err := s.exec(ctx, query, args); err != nil {
		return classify("update", rt.table, err)
	}
	for _, f := range changed {
		r.original[f.name] = r.values[f.name]
	}
	clear(r.dirty)
	return nil
}

func sameValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// writeAssoc applies the buffered association writes of owner.
func (s *Session) writeAssoc(ctx context.Context, owner *Record, stamp time.Time) error {
	s.record(owner)
	ops := owner.assoc
	owner.assoc = nil
	d := s.dialect()
	qi := d.QuoteIdent
	for _, op := range ops {
		spec, err := s.reg.join(owner.rt, op.rel)
		if err != nil {
			return err
		}
		through := spec.Through
		var query string
		var args []any
		verb := "delete"
		switch op.kind {
		case assocClear:
			query = fmt.Sprintf("DELETE FROM %s WHERE %s = ?", qi(through.table), qi(spec.TargetColumn))
			args = []any{owner.PK()}
		case assocDelete:
			if op.target.PK() == nil {
				continue
			}
			query = fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?",
				qi(through.table), qi(spec.TargetColumn), qi(spec.ThroughTargetColumn))
			args = []any{owner.PK(), op.target.PK()}
		case assocInsert:
			verb = "insert"
			if op.target.state != statePersistent {
				return fmt.Errorf("orm: %s.%s: %s is not persistent", owner.rt.name, op.rel.name, op.target)
			}
			cols := []string{qi(spec.TargetColumn), qi(spec.ThroughTargetColumn)}
			args = []any{owner.PK(), op.target.PK()}
			for _, f := range through.fields {
				switch {
				case f.stamp != stampNone:
					cols = append(cols, qi(f.name))
					args = append(args, stamp)
				case f.primaryKey && f.typ == String:
					cols = append(cols, qi(f.name))
					args = append(args, uuid.NewString())
				}
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qi(through.table), strings.Join(cols, ", "), marks)
		}
		if _, err := s.exec(ctx, rewritePlaceholders(d, query), args); err != nil {
			return classify(verb, through.table, err)
		}
	}
	return nil
}

// remove deletes r and the association rows referencing it. A row that
// no longer exists is not an error.
func (s *Session) remove(ctx context.Context, r *Record) error {
	s.record(r)
	d := s.dialect()
	qi := d.QuoteIdent
	for _, assoc := range s.reg.types {
		if !assoc.association {
			continue
		}
		for _, f := range assoc.fields {
			if f.ref == nil || f.ref.Type != r.rt.name {
				continue
			}
			query := rewritePlaceholders(d, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", qi(assoc.table), qi(f.name)))
			if _, err := s.exec(ctx, query, []any{r.PK()}); err != nil {
				return classify("delete", assoc.table, err)
			}
		}
	}
	query := rewritePlaceholders(d, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", qi(r.rt.table), qi(r.rt.pk.name)))
	if _, err := s.exec(ctx, query, []any{r.PK()}); err != nil {
		return classify("delete", r.rt.table, err)
	}
	s.deleted = slices.DeleteFunc(s.deleted, func(x *Record) bool { return x == r })
	s.forget(r)
	return nil
}
