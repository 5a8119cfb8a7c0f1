package orm

import (
	"fmt"
	"sync"
)

// Registry holds the record types of one schema. Types are registered at
// start-up and the registry is frozen before the first Session uses it;
// after Freeze the registry is read-only and safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	types  []*RecordType
	byName map[string]*RecordType
	frozen bool

	order []*RecordType
	joins map[*Relationship]*JoinSpec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*RecordType)}
}

// Register adds record types. It fails with a ConfigurationError when the
// registry is frozen, a name is taken, or a type declaration is invalid.
func (r *Registry) Register(types ...*RecordType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return configErrorf("", "", "registry is frozen")
	}
	for _, rt := range types {
		if rt.err != nil {
			return rt.err
		}
		if rt.name == "" {
			return configErrorf("", "", "record type without a name")
		}
		if _, dup := r.byName[rt.name]; dup {
			return configErrorf(rt.name, "", "already registered")
		}
		if rt.pk == nil && !rt.association {
			return configErrorf(rt.name, "", "no primary key")
		}
		for _, other := range r.types {
			if other.table == rt.table {
				return configErrorf(rt.name, "", "table %q already used by %s", rt.table, other.name)
			}
		}
		rt.index = len(r.types)
		r.types = append(r.types, rt)
		r.byName[rt.name] = rt
	}
	return nil
}

// MustRegister is like Register but panics on error. It is meant for
// package-level schema declarations.
func (r *Registry) MustRegister(types ...*RecordType) *Registry {
	if err := r.Register(types...); err != nil {
		panic(err)
	}
	return r
}

// Freeze validates every relationship and foreign key, computes the flush
// order and resolves all join paths. Calling Freeze again is a no-op.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}
	for _, rt := range r.types {
		if err := r.validateFields(rt); err != nil {
			return err
		}
	}
	for _, rt := range r.types {
		for _, rel := range rt.relations {
			if err := r.validateRelation(rt, rel); err != nil {
				return err
			}
		}
	}
	for _, rt := range r.types {
		for _, rel := range rt.relations {
			if err := r.validateBackRef(rt, rel); err != nil {
				return err
			}
		}
	}
	order, err := r.flushOrder()
	if err != nil {
		return err
	}
	joins := make(map[*Relationship]*JoinSpec)
	for _, rt := range r.types {
		for _, rel := range rt.relations {
			spec, err := resolve(r, rt, rel)
			if err != nil {
				return err
			}
			joins[rel] = spec
		}
	}
	r.order = order
	r.joins = joins
	r.frozen = true
	return nil
}

// Frozen reports whether Freeze has succeeded.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Lookup returns the record type named name.
func (r *Registry) Lookup(name string) (*RecordType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.byName[name]
	return rt, ok
}

// Type is like Lookup but returns a ConfigurationError for unknown names.
func (r *Registry) Type(name string) (*RecordType, error) {
	rt, ok := r.Lookup(name)
	if !ok {
		return nil, configErrorf(name, "", "unknown record type")
	}
	return rt, nil
}

// Types returns the registered types in registration order.
func (r *Registry) Types() []*RecordType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RecordType(nil), r.types...)
}

// FlushOrder returns the types ordered so that referenced types come
// before the types holding foreign keys to them. Only valid after Freeze.
func (r *Registry) FlushOrder() []*RecordType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RecordType(nil), r.order...)
}

// Join returns the resolved join path of relation on typeName.
func (r *Registry) Join(typeName, relation string) (*JoinSpec, error) {
	rt, err := r.Type(typeName)
	if err != nil {
		return nil, err
	}
	rel, ok := rt.Relation(relation)
	if !ok {
		return nil, configErrorf(typeName, relation, "unknown relationship")
	}
	return r.join(rt, rel)
}

func (r *Registry) join(rt *RecordType, rel *Relationship) (*JoinSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if spec, ok := r.joins[rel]; ok {
		return spec, nil
	}
	return resolve(r, rt, rel)
}

func (r *Registry) lookup(name string) (*RecordType, bool) {
	rt, ok := r.byName[name]
	return rt, ok
}

func (r *Registry) validateFields(rt *RecordType) error {
	for _, f := range rt.fields {
		if f.ref == nil {
			continue
		}
		target, ok := r.lookup(f.ref.Type)
		if !ok {
			return configErrorf(rt.name, "", "field %s references unknown type %s", f.name, f.ref.Type)
		}
		tf, ok := target.byName[f.ref.Field]
		if !ok {
			return configErrorf(rt.name, "", "field %s references unknown field %s", f.name, f.ref)
		}
		if tf.typ != f.typ {
			return configErrorf(rt.name, "", "field %s is %s but %s is %s", f.name, f.typ, f.ref, tf.typ)
		}
	}
	return nil
}

// linkKey checks that fk on holder can hold the primary key of target and
// records the implied reference.
func linkKey(owner *RecordType, rel *Relationship, holder *RecordType, fk string, target *RecordType) error {
	if fk == "" {
		return configErrorf(owner.name, rel.name, "missing foreign key")
	}
	f, ok := holder.byName[fk]
	if !ok {
		return configErrorf(owner.name, rel.name, "foreign key %s.%s does not exist", holder.name, fk)
	}
	if target.pk == nil {
		return configErrorf(owner.name, rel.name, "%s has no primary key", target.name)
	}
	if f.typ != target.pk.typ {
		return configErrorf(owner.name, rel.name, "foreign key %s.%s is %s but %s.%s is %s",
			holder.name, fk, f.typ, target.name, target.pk.name, target.pk.typ)
	}
	if f.ref == nil {
		f.ref = &FieldRef{Type: target.name, Field: target.pk.name}
	} else if f.ref.Type != target.name || f.ref.Field != target.pk.name {
		return configErrorf(owner.name, rel.name, "foreign key %s.%s references %s, not %s.%s",
			holder.name, fk, f.ref, target.name, target.pk.name)
	}
	return nil
}

func (r *Registry) validateRelation(rt *RecordType, rel *Relationship) error {
	if rt.association {
		return configErrorf(rt.name, rel.name, "association types cannot declare relationships")
	}
	target, ok := r.lookup(rel.target)
	if !ok {
		return configErrorf(rt.name, rel.name, "unknown target type %q", rel.target)
	}
	if target.association {
		return configErrorf(rt.name, rel.name, "target %s is an association type", target.name)
	}
	if (rel.policy == WriteOnly || rel.policy == Dynamic) && !rel.IsCollection() {
		return configErrorf(rt.name, rel.name, "%s needs a collection relationship", rel.policy)
	}
	if rel.single && rel.through == "" {
		return configErrorf(rt.name, rel.name, "Single applies to association relationships only")
	}

	if rel.through == "" {
		switch {
		case rel.kind == ManyToManyKind:
			return configErrorf(rt.name, rel.name, "many-to-many needs an association type")
		case rel.fkOnOwner():
			if err := linkKey(rt, rel, rt, rel.foreignKey, target); err != nil {
				return err
			}
			if rel.kind == SelfReferential && !rt.byName[rel.foreignKey].nullable {
				return configErrorf(rt.name, rel.name, "self foreign key %s must be nullable", rel.foreignKey)
			}
			return nil
		default:
			return linkKey(rt, rel, target, rel.foreignKey, rt)
		}
	}

	through, ok := r.lookup(rel.through)
	if !ok {
		return configErrorf(rt.name, rel.name, "unknown association type %q", rel.through)
	}
	if !through.association {
		return configErrorf(rt.name, rel.name, "%s is not an association type", through.name)
	}
	if rel.sourceKey == rel.targetKey {
		return configErrorf(rt.name, rel.name, "association keys must differ")
	}
	if err := linkKey(rt, rel, through, rel.sourceKey, rt); err != nil {
		return err
	}
	return linkKey(rt, rel, through, rel.targetKey, target)
}

func (r *Registry) validateBackRef(rt *RecordType, rel *Relationship) error {
	if rel.backRef == "" {
		return nil
	}
	target, _ := r.lookup(rel.target)
	back, ok := target.relByName[rel.backRef]
	if !ok {
		return configErrorf(rt.name, rel.name, "back-reference %s.%s does not exist", target.name, rel.backRef)
	}
	if back.target != rt.name {
		return configErrorf(rt.name, rel.name, "back-reference %s.%s targets %s", target.name, back.name, back.target)
	}
	if back.backRef != "" && back.backRef != rel.name {
		return configErrorf(rt.name, rel.name, "back-reference %s.%s points back at %s", target.name, back.name, back.backRef)
	}
	if !complementary(rel, back) {
		return configErrorf(rt.name, rel.name, "back-reference %s.%s (%s) does not mirror %s",
			target.name, back.name, back.kind, rel.kind)
	}
	return nil
}

// complementary reports whether a and b describe the same link seen from
// opposite ends.
func complementary(a, b *Relationship) bool {
	if a.through != "" || b.through != "" {
		return a.through == b.through && a.sourceKey == b.targetKey && a.targetKey == b.sourceKey
	}
	if a.foreignKey != b.foreignKey {
		return false
	}
	return a.fkOnOwner() != b.fkOnOwner()
}

// flushOrder sorts types so that every type comes after the types its
// foreign keys reference. Ties keep registration order.
func (r *Registry) flushOrder() ([]*RecordType, error) {
	deps := make(map[*RecordType]map[*RecordType]bool, len(r.types))
	for _, rt := range r.types {
		deps[rt] = make(map[*RecordType]bool)
		for _, f := range rt.fields {
			if f.ref == nil || f.ref.Type == rt.name {
				continue
			}
			if target, ok := r.lookup(f.ref.Type); ok {
				deps[rt][target] = true
			}
		}
	}
	order := make([]*RecordType, 0, len(r.types))
	done := make(map[*RecordType]bool, len(r.types))
	for len(order) < len(r.types) {
		progressed := false
		for _, rt := range r.types {
			if done[rt] {
				continue
			}
			ready := true
			for dep := range deps[rt] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, rt)
				done[rt] = true
				progressed = true
				break
			}
		}
		if !progressed {
			var stuck []string
			for _, rt := range r.types {
				if !done[rt] {
					stuck = append(stuck, rt.name)
				}
			}
			return nil, configErrorf("", "", "foreign keys form a cycle between %v", stuck)
		}
	}
	return order, nil
}

func (r *Registry) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("Registry(%d types, frozen=%t)", len(r.types), r.frozen)
}
