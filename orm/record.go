package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mickamy/relmap/expr"
)

type recordState int

const (
	stateTransient recordState = iota
	statePending
	statePersistent
	stateDeleted
)

func (s recordState) String() string {
	switch s {
	case stateTransient:
		return "transient"
	case statePending:
		return "pending"
	case statePersistent:
		return "persistent"
	case stateDeleted:
		return "deleted"
	}
	return "unknown"
}

type relState struct {
	loaded bool
	items  []*Record
}

// resultSet groups the records returned by one query so that a lazy-batch
// relation read on one of them loads the relation for all of them.
type resultSet struct {
	members []*Record
}

type assocOpKind int

const (
	assocInsert assocOpKind = iota
	assocDelete
	assocClear
)

// assocOp is a pending write to an association table.
type assocOp struct {
	kind   assocOpKind
	rel    *Relationship
	owner  *Record
	target *Record
}

// Record is one row of a RecordType. Records are created with NewRecord
// or Session.New, or returned by queries; a session keeps one Record per
// primary key.
type Record struct {
	rt    *RecordType
	sess  *Session
	state recordState

	values   map[string]any
	loaded   map[string]bool
	dirty    map[string]bool
	original map[string]any

	rels  map[string]*relState
	links map[string]*Record
	assoc []assocOp
	set   *resultSet
}

// NewRecord creates a transient record of rt. Fields missing from values
// are NULL.
func NewRecord(rt *RecordType, values map[string]any) (*Record, error) {
	r := newRecord(rt)
	for _, f := range rt.fields {
		r.loaded[f.name] = true
		r.values[f.name] = nil
	}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if err := r.Set(name, values[name]); err != nil {
			return nil, err
		}
	}
	for _, rel := range rt.relations {
		if rel.policy != WriteOnly {
			r.rels[rel.name] = &relState{loaded: true}
		}
	}
	return r, nil
}

func newRecord(rt *RecordType) *Record {
	return &Record{
		rt:     rt,
		values: make(map[string]any, len(rt.fields)),
		loaded: make(map[string]bool, len(rt.fields)),
		dirty:  make(map[string]bool),
		rels:   make(map[string]*relState),
		links:  make(map[string]*Record),
	}
}

// Type returns the record's type.
func (r *Record) Type() *RecordType { return r.rt }

// Session returns the session the record is attached to, or nil.
func (r *Record) Session() *Session { return r.sess }

// Persistent reports whether the record has a row in the database as far
// as its session knows.
func (r *Record) Persistent() bool { return r.state == statePersistent }

// PK returns the primary key value, or nil before the first flush.
func (r *Record) PK() any {
	if r.rt.pk == nil {
		return nil
	}
	return r.values[r.rt.pk.name]
}

// Value returns the value of field without loading it. Unloaded deferred
// fields read as nil.
func (r *Record) Value(field string) any { return r.values[field] }

// IsLoaded reports whether field holds a value read from the database or
// set by the application.
func (r *Record) IsLoaded(field string) bool { return r.loaded[field] }

// Values returns a copy of the loaded field values.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		if r.loaded[k] {
			out[k] = v
		}
	}
	return out
}

// Get returns the value of field. The first Get of an unloaded deferred
// field loads all unloaded deferred fields of the record in one statement.
func (r *Record) Get(ctx context.Context, field string) (any, error) {
	if _, err := r.rt.field(field); err != nil {
		return nil, err
	}
	if !r.loaded[field] && r.sess != nil && r.state == statePersistent {
		if err := r.sess.loadDeferred(ctx, r); err != nil {
			return nil, err
		}
	}
	return r.values[field], nil
}

// Set assigns field. The value is converted to the field's canonical Go
// type; changes to persistent records are written by the next flush.
func (r *Record) Set(field string, v any) error {
	f, err := r.rt.field(field)
	if err != nil {
		return err
	}
	nv, err := f.typ.normalize(v)
	if err != nil {
		return fmt.Errorf("orm: %s.%s: %w", r.rt.name, field, err)
	}
	if f.primaryKey && r.state == statePersistent && nv != r.values[field] {
		return fmt.Errorf("orm: %s: cannot change the primary key of a persistent record", r.rt.name)
	}
	r.values[field] = nv
	r.loaded[field] = true
	r.dirty[field] = true
	delete(r.links, field)
	return nil
}

// relation returns the named relationship or an error.
func (r *Record) relation(name string) (*Relationship, error) {
	rel, ok := r.rt.relByName[name]
	if !ok {
		return nil, configErrorf(r.rt.name, name, "unknown relationship")
	}
	return rel, nil
}

// Related returns the records of the named relationship, loading them as
// the relationship's policy prescribes.
func (r *Record) Related(ctx context.Context, name string) ([]*Record, error) {
	rel, err := r.relation(name)
	if err != nil {
		return nil, err
	}
	switch rel.policy {
	case WriteOnly:
		return nil, &AccessError{Type: r.rt.name, Relation: name, Policy: WriteOnly}
	case Dynamic:
		if r.state != statePersistent {
			if st := r.rels[name]; st != nil {
				return slices.Clone(st.items), nil
			}
			return nil, nil
		}
		q, err := r.Dynamic(name)
		if err != nil {
			return nil, err
		}
		return q.All(ctx)
	}
	if st := r.rels[name]; st != nil && st.loaded {
		return slices.Clone(st.items), nil
	}
	if rel.policy == ExplicitOnly {
		return nil, &AccessError{Type: r.rt.name, Relation: name, Policy: ExplicitOnly}
	}
	if r.sess == nil || r.state != statePersistent {
		return nil, nil
	}
	if err := r.sess.loadLazy(ctx, r, rel); err != nil {
		return nil, err
	}
	return slices.Clone(r.rels[name].items), nil
}

// RelatedOne returns the record of a scalar relationship, or nil.
func (r *Record) RelatedOne(ctx context.Context, name string) (*Record, error) {
	items, err := r.Related(ctx, name)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// Append adds targets to a collection relationship. The links are
// written by the next flush; targets not yet in the session are added.
func (r *Record) Append(name string, targets ...*Record) error {
	rel, err := r.relation(name)
	if err != nil {
		return err
	}
	if !rel.IsCollection() {
		return fmt.Errorf("orm: %s.%s is not a collection; use SetRelated", r.rt.name, name)
	}
	for _, t := range targets {
		if err := r.checkTarget(rel, t); err != nil {
			return err
		}
		if rel.through == "" {
			t.link(rel.foreignKey, r)
		} else {
			r.assoc = append(r.assoc, assocOp{kind: assocInsert, rel: rel, owner: r, target: t})
		}
		if st := r.rels[name]; st != nil && st.loaded && !slices.Contains(st.items, t) {
			st.items = append(st.items, t)
		}
		if err := r.cascade(t); err != nil {
			return err
		}
	}
	return nil
}

// Remove unlinks targets from a collection relationship. For direct
// foreign keys the target's key is set to NULL; association rows are
// deleted.
func (r *Record) Remove(name string, targets ...*Record) error {
	rel, err := r.relation(name)
	if err != nil {
		return err
	}
	if !rel.IsCollection() {
		return fmt.Errorf("orm: %s.%s is not a collection; use SetRelated", r.rt.name, name)
	}
	for _, t := range targets {
		if err := r.checkTarget(rel, t); err != nil {
			return err
		}
		if rel.through == "" {
			t.link(rel.foreignKey, nil)
		} else {
			r.assoc = append(r.assoc, assocOp{kind: assocDelete, rel: rel, owner: r, target: t})
		}
		if st := r.rels[name]; st != nil && st.loaded {
			st.items = slices.DeleteFunc(st.items, func(x *Record) bool { return x == t })
		}
	}
	return nil
}

// SetRelated assigns a scalar relationship. A nil target clears it.
func (r *Record) SetRelated(name string, target *Record) error {
	rel, err := r.relation(name)
	if err != nil {
		return err
	}
	if rel.IsCollection() {
		return fmt.Errorf("orm: %s.%s is a collection; use Append", r.rt.name, name)
	}
	if target != nil {
		if err := r.checkTarget(rel, target); err != nil {
			return err
		}
	}
	switch {
	case rel.through != "":
		r.assoc = append(r.assoc, assocOp{kind: assocClear, rel: rel, owner: r})
		if target != nil {
			r.assoc = append(r.assoc, assocOp{kind: assocInsert, rel: rel, owner: r, target: target})
		}
	case rel.fkOnOwner():
		r.link(rel.foreignKey, target)
	default:
		if st := r.rels[name]; st != nil && st.loaded {
			for _, old := range st.items {
				if old != target {
					old.link(rel.foreignKey, nil)
					if err := r.cascade(old); err != nil {
						return err
					}
				}
			}
		}
		if target != nil {
			target.link(rel.foreignKey, r)
		}
	}
	st := &relState{loaded: true}
	if target != nil {
		st.items = []*Record{target}
		if err := r.cascade(target); err != nil {
			return err
		}
	}
	r.rels[name] = st
	return nil
}

// Dynamic returns a Query over the records of a collection relationship,
// which can be filtered, ordered and limited further.
func (r *Record) Dynamic(name string) (*Query, error) {
	rel, err := r.relation(name)
	if err != nil {
		return nil, err
	}
	if !rel.IsCollection() {
		return nil, fmt.Errorf("orm: %s.%s is not a collection", r.rt.name, name)
	}
	if r.sess == nil || r.state != statePersistent {
		return nil, fmt.Errorf("orm: %s is not persistent", r)
	}
	spec, err := r.sess.reg.join(r.rt, rel)
	if err != nil {
		return nil, err
	}
	key := r.values[spec.SourceColumn]
	q := r.sess.Query(rel.target)
	if spec.Through == nil {
		return q.Where(expr.Eq(spec.TargetColumn, key)), nil
	}
	qi := r.sess.dialect().QuoteIdent
	sub := fmt.Sprintf("%s.%s IN (SELECT %s FROM %s WHERE %s = ?)",
		qi(rootAlias), qi(spec.Target.pk.name), qi(spec.ThroughTargetColumn), qi(spec.Through.table), qi(spec.TargetColumn))
	return q.Where(expr.Raw(sub, key)), nil
}

func (r *Record) checkTarget(rel *Relationship, t *Record) error {
	if t == nil {
		return fmt.Errorf("orm: %s.%s: nil record", r.rt.name, rel.name)
	}
	if t.rt.name != rel.target {
		return fmt.Errorf("orm: %s.%s holds %s records, not %s", r.rt.name, rel.name, rel.target, t.rt.name)
	}
	return nil
}

// link points the foreign key fk of r at target. The key value is taken
// from target when the session flushes.
func (r *Record) link(fk string, target *Record) {
	if target == nil {
		delete(r.links, fk)
		r.values[fk] = nil
	} else {
		r.links[fk] = target
		if pk := target.PK(); pk != nil {
			r.values[fk] = pk
		}
	}
	r.loaded[fk] = true
	r.dirty[fk] = true
	for _, rel := range r.rt.relations {
		if rel.through == "" && rel.fkOnOwner() && rel.foreignKey == fk {
			st := &relState{loaded: true}
			if target != nil {
				st.items = []*Record{target}
			}
			r.rels[rel.name] = st
		}
	}
}

// cascade attaches other to the session of r, or r to the session of
// other.
func (r *Record) cascade(other *Record) error {
	switch {
	case r.sess != nil && other.sess == nil:
		return r.sess.Add(other)
	case r.sess == nil && other.sess != nil:
		return other.sess.Add(r)
	case r.sess != nil && other.sess != r.sess:
		return fmt.Errorf("orm: %s and %s belong to different sessions", r, other)
	}
	return nil
}

func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteString("<" + r.rt.name)
	for _, f := range r.rt.fields {
		if !r.loaded[f.name] {
			continue
		}
		fmt.Fprintf(&sb, " %s=%v", f.name, r.values[f.name])
	}
	sb.WriteString(">")
	return sb.String()
}
