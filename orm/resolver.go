package orm

// Hop is one equi-join step: From.FromColumn = To.ToColumn.
type Hop struct {
	From       *RecordType
	FromColumn string
	To         *RecordType
	ToColumn   string
}

// JoinSpec is the resolved join path of a Relationship. Direct foreign
// keys resolve to one hop; association relationships resolve to two hops
// (source → association → target) that the query builder treats as one
// logical edge. Source and Target may be the same type; the query builder
// always gives them distinct aliases.
type JoinSpec struct {
	Relation *Relationship
	Source   *RecordType
	Target   *RecordType
	Through  *RecordType
	Hops     []Hop

	// SourceColumn is the owner column whose value keys the relation.
	SourceColumn string
	// TargetColumn is matched against SourceColumn values. It is a column
	// of Target for direct relationships and of Through otherwise.
	TargetColumn string
	// ThroughTargetColumn is the association column referencing Target.
	ThroughTargetColumn string
}

// Resolve computes the join path of relation on typeName. Resolving the
// same relationship twice yields equal specs.
func Resolve(reg *Registry, typeName, relation string) (*JoinSpec, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rt, ok := reg.lookup(typeName)
	if !ok {
		return nil, configErrorf(typeName, "", "unknown record type")
	}
	rel, ok := rt.relByName[relation]
	if !ok {
		return nil, configErrorf(typeName, relation, "unknown relationship")
	}
	return resolve(reg, rt, rel)
}

// resolve expects reg.mu to be held or the registry to be frozen.
func resolve(reg *Registry, rt *RecordType, rel *Relationship) (*JoinSpec, error) {
	target, ok := reg.lookup(rel.target)
	if !ok {
		return nil, configErrorf(rt.name, rel.name, "unknown target type %q", rel.target)
	}
	if rt.pk == nil || target.pk == nil {
		return nil, configErrorf(rt.name, rel.name, "both ends need a primary key")
	}
	spec := &JoinSpec{Relation: rel, Source: rt, Target: target}

	if rel.through == "" {
		holder := target
		if rel.fkOnOwner() {
			holder = rt
		}
		if _, ok := holder.byName[rel.foreignKey]; !ok {
			return nil, configErrorf(rt.name, rel.name, "foreign key %s.%s does not exist", holder.name, rel.foreignKey)
		}
		if rel.fkOnOwner() {
			spec.SourceColumn = rel.foreignKey
			spec.TargetColumn = target.pk.name
		} else {
			spec.SourceColumn = rt.pk.name
			spec.TargetColumn = rel.foreignKey
		}
		spec.Hops = []Hop{{From: rt, FromColumn: spec.SourceColumn, To: target, ToColumn: spec.TargetColumn}}
		return spec, nil
	}

	through, ok := reg.lookup(rel.through)
	if !ok {
		return nil, configErrorf(rt.name, rel.name, "unknown association type %q", rel.through)
	}
	for _, key := range []string{rel.sourceKey, rel.targetKey} {
		if _, ok := through.byName[key]; !ok {
			return nil, configErrorf(rt.name, rel.name, "association key %s.%s does not exist", through.name, key)
		}
	}
	spec.Through = through
	spec.SourceColumn = rt.pk.name
	spec.TargetColumn = rel.sourceKey
	spec.ThroughTargetColumn = rel.targetKey
	spec.Hops = []Hop{
		{From: rt, FromColumn: rt.pk.name, To: through, ToColumn: rel.sourceKey},
		{From: through, FromColumn: rel.targetKey, To: target, ToColumn: target.pk.name},
	}
	return spec, nil
}
