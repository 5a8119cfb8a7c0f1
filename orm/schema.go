package orm

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mickamy/relmap/internal/naming"
)

// FieldType is the semantic type of a field. Values are normalised to one
// Go type per FieldType so that records compare equal after a round trip:
// Int → int64, String and Text → string, Float → float64, Bool → bool,
// Time → time.Time (UTC, microsecond precision).
type FieldType int

const (
	Int FieldType = iota + 1
	String
	Text
	Float
	Bool
	Time
)

func (t FieldType) String() string {
	switch t {
	case Int:
		return "int"
	case String:
		return "string"
	case Text:
		return "text"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Time:
		return "time"
	}
	return "FieldType(" + strconv.Itoa(int(t)) + ")"
}

// ParseFieldType parses the names returned by FieldType.String.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(s) {
	case "int", "integer":
		return Int, nil
	case "string", "varchar":
		return String, nil
	case "text":
		return Text, nil
	case "float", "real", "double":
		return Float, nil
	case "bool", "boolean":
		return Bool, nil
	case "time", "datetime", "timestamp":
		return Time, nil
	}
	return 0, fmt.Errorf("orm: unknown field type %q", s)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// normalize converts v to the canonical Go type of t. nil stays nil.
func (t FieldType) normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch t {
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			return int64(n), nil //nolint:gosec // ids fit in int64
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			return int64(n), nil //nolint:gosec // ids fit in int64
		case float64:
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		case string:
			return strconv.ParseInt(n, 10, 64) //nolint:wrapcheck // reported by caller
		}
	case String, Text:
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		}
	case Float:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(n, 64) //nolint:wrapcheck // reported by caller
		}
	case Bool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case int:
			return b != 0, nil
		case string:
			return strconv.ParseBool(b) //nolint:wrapcheck // reported by caller
		}
	case Time:
		switch tm := v.(type) {
		case time.Time:
			return tm.UTC().Truncate(time.Microsecond), nil
		case string:
			for _, layout := range timeLayouts {
				if parsed, err := time.Parse(layout, tm); err == nil {
					return parsed.UTC().Truncate(time.Microsecond), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
}

type stampRole int

const (
	stampNone stampRole = iota
	stampCreated
	stampUpdated
)

// FieldRef names the field a foreign key points at.
type FieldRef struct {
	Type  string
	Field string
}

func (r FieldRef) String() string { return r.Type + "." + r.Field }

// Field describes one column of a RecordType. Fields are built with the
// typed constructors and configured with chained modifiers:
//
//	orm.IntField("id").PrimaryKey()
//	orm.StringField("nickname").Deferred().Nullable()
//	orm.IntField("author_id").References("Author", "id")
type Field struct {
	name       string
	typ        FieldType
	nullable   bool
	primaryKey bool
	deferred   bool
	unique     bool
	ref        *FieldRef
	stamp      stampRole
}

// NewField returns a field of the given type.
func NewField(name string, typ FieldType) *Field { return &Field{name: name, typ: typ} }

func IntField(name string) *Field    { return NewField(name, Int) }
func StringField(name string) *Field { return NewField(name, String) }
func TextField(name string) *Field   { return NewField(name, Text) }
func FloatField(name string) *Field  { return NewField(name, Float) }
func BoolField(name string) *Field   { return NewField(name, Bool) }
func TimeField(name string) *Field   { return NewField(name, Time) }

// PrimaryKey marks the field as the primary key. Int primary keys are
// generated by the database; String primary keys left empty get a UUID.
func (f *Field) PrimaryKey() *Field { f.primaryKey = true; return f }

// Nullable allows NULL values.
func (f *Field) Nullable() *Field { f.nullable = true; return f }

// Deferred excludes the field from the default select list. It is loaded
// on first access or with an Undefer directive.
func (f *Field) Deferred() *Field { f.deferred = true; return f }

// Unique adds a UNIQUE constraint.
func (f *Field) Unique() *Field { f.unique = true; return f }

// References declares a foreign key to field of typeName.
func (f *Field) References(typeName, field string) *Field {
	f.ref = &FieldRef{Type: typeName, Field: field}
	return f
}

// CreatedAt stamps the field with the current time on insert.
func (f *Field) CreatedAt() *Field { f.stamp = stampCreated; return f }

// UpdatedAt stamps the field with the current time on insert and update.
func (f *Field) UpdatedAt() *Field { f.stamp = stampUpdated; return f }

func (f *Field) Name() string       { return f.name }
func (f *Field) Type() FieldType    { return f.typ }
func (f *Field) IsNullable() bool   { return f.nullable }
func (f *Field) IsPrimaryKey() bool { return f.primaryKey }
func (f *Field) IsDeferred() bool   { return f.deferred }
func (f *Field) IsUnique() bool     { return f.unique }

// Ref returns the foreign key target, if any.
func (f *Field) Ref() (FieldRef, bool) {
	if f.ref == nil {
		return FieldRef{}, false
	}
	return *f.ref, true
}

// autoPK reports whether the database generates the key.
func (f *Field) autoPK() bool { return f.primaryKey && f.typ == Int }

// LoadPolicy selects how a relationship is loaded.
type LoadPolicy int

const (
	// LazyPerAccess loads the relation on first read and caches it on the
	// instance. It is the default.
	LazyPerAccess LoadPolicy = iota
	// Eager loads the relation in the same statement as its owner.
	Eager
	// LazyBatch loads the relation for every record of the owner's result
	// set in one statement on the first read of any of them.
	LazyBatch
	// ExplicitOnly refuses reads unless the query asked for the relation.
	ExplicitOnly
	// WriteOnly allows Append and Remove but never a read.
	WriteOnly
	// Dynamic exposes the relation as a Query (see Record.Dynamic).
	Dynamic
)

func (p LoadPolicy) String() string {
	switch p {
	case LazyPerAccess:
		return "lazy-per-access"
	case Eager:
		return "eager"
	case LazyBatch:
		return "lazy-batch"
	case ExplicitOnly:
		return "explicit-only"
	case WriteOnly:
		return "write-only"
	case Dynamic:
		return "dynamic"
	}
	return "LoadPolicy(" + strconv.Itoa(int(p)) + ")"
}

// ParsePolicy accepts the names returned by LoadPolicy.String as well as
// the conventional loader tags: select, joined, selectin, subquery, raise,
// write_only and dynamic. The empty string is LazyPerAccess. subquery is
// served by the same batched second query as selectin.
func ParsePolicy(s string) (LoadPolicy, error) {
	switch strings.ToLower(s) {
	case "", "lazy-per-access", "lazy", "select":
		return LazyPerAccess, nil
	case "eager", "joined":
		return Eager, nil
	case "lazy-batch", "selectin", "subquery":
		return LazyBatch, nil
	case "explicit-only", "raise":
		return ExplicitOnly, nil
	case "write-only", "write_only":
		return WriteOnly, nil
	case "dynamic":
		return Dynamic, nil
	}
	return 0, fmt.Errorf("orm: unknown load policy %q", s)
}

// RelationKind classifies a Relationship.
type RelationKind int

const (
	OneToOne RelationKind = iota + 1
	OneToMany
	ManyToOne
	ManyToManyKind
	SelfReferential
)

func (k RelationKind) String() string {
	switch k {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToManyKind:
		return "many-to-many"
	case SelfReferential:
		return "self-referential"
	}
	return "RelationKind(" + strconv.Itoa(int(k)) + ")"
}

// Relationship declares a link from the RecordType it is attached to
// (with RecordType.Relate) to a target RecordType.
//
// Direct relationships use one foreign key column. For OneToOne and
// OneToMany the column lives on the target; for ManyToOne and the direct
// SelfReferential form it lives on the owner. ManyToMany and SelfRefThrough
// go through an association RecordType carrying two foreign keys.
type Relationship struct {
	name       string
	kind       RelationKind
	target     string
	foreignKey string
	through    string
	sourceKey  string
	targetKey  string
	policy     LoadPolicy
	backRef    string
	single     bool
	owner      *RecordType
}

// HasOne declares a one-to-one relationship whose foreign key fk lives on
// target.
func HasOne(name, target, fk string) *Relationship {
	return &Relationship{name: name, kind: OneToOne, target: target, foreignKey: fk}
}

// HasMany declares a one-to-many relationship whose foreign key fk lives on
// target.
func HasMany(name, target, fk string) *Relationship {
	return &Relationship{name: name, kind: OneToMany, target: target, foreignKey: fk}
}

// BelongsTo declares the many-to-one side of HasMany or HasOne: fk lives on
// the owner and references target's primary key.
func BelongsTo(name, target, fk string) *Relationship {
	return &Relationship{name: name, kind: ManyToOne, target: target, foreignKey: fk}
}

// ManyToMany declares a relationship through the association type through,
// whose sourceKey references the owner and targetKey references target.
func ManyToMany(name, target, through, sourceKey, targetKey string) *Relationship {
	return &Relationship{
		name: name, kind: ManyToManyKind, target: target,
		through: through, sourceKey: sourceKey, targetKey: targetKey,
	}
}

// SelfRef declares a self-referential link through the owner's own nullable
// foreign key fk. It forms a singly-linked structure; use SelfRefThrough
// for graphs that may contain cycles.
func SelfRef(name, fk string) *Relationship {
	return &Relationship{name: name, kind: SelfReferential, foreignKey: fk}
}

// SelfRefThrough declares a self-referential collection through an
// association type, e.g. a follower graph.
func SelfRefThrough(name, through, sourceKey, targetKey string) *Relationship {
	return &Relationship{
		name: name, kind: SelfReferential,
		through: through, sourceKey: sourceKey, targetKey: targetKey,
	}
}

// Load sets the load policy.
func (r *Relationship) Load(p LoadPolicy) *Relationship { r.policy = p; return r }

// BackRef names the complementary relationship on the target. Both sides
// are checked for consistency when the registry is frozen.
func (r *Relationship) BackRef(name string) *Relationship { r.backRef = name; return r }

// Single makes an association-backed relationship hold at most one record.
func (r *Relationship) Single() *Relationship { r.single = true; return r }

func (r *Relationship) Name() string          { return r.name }
func (r *Relationship) Kind() RelationKind    { return r.kind }
func (r *Relationship) Target() string        { return r.target }
func (r *Relationship) Policy() LoadPolicy    { return r.policy }
func (r *Relationship) Through() string       { return r.through }
func (r *Relationship) ForeignKey() string    { return r.foreignKey }
func (r *Relationship) BackRefName() string   { return r.backRef }
func (r *Relationship) UsesAssociation() bool { return r.through != "" }

// IsCollection reports whether the relationship holds a list of records.
func (r *Relationship) IsCollection() bool {
	switch r.kind {
	case OneToMany, ManyToManyKind:
		return true
	case SelfReferential:
		return r.through != "" && !r.single
	}
	return false
}

// fkOnOwner reports whether the direct foreign key column lives on the
// owner rather than on the target.
func (r *Relationship) fkOnOwner() bool {
	return r.kind == ManyToOne || (r.kind == SelfReferential && r.through == "")
}

// RecordType is the schema of one table.
type RecordType struct {
	name        string
	table       string
	fields      []*Field
	byName      map[string]*Field
	pk          *Field
	relations   []*Relationship
	relByName   map[string]*Relationship
	association bool
	index       int
	err         error
}

// NewRecordType declares a record type. The table name defaults to the
// pluralised snake_case form of name ("StudentCourse" → "student_courses").
func NewRecordType(name string, fields ...*Field) *RecordType {
	rt := &RecordType{
		name:      name,
		table:     naming.TableName(name),
		byName:    make(map[string]*Field, len(fields)),
		relByName: make(map[string]*Relationship),
	}
	for _, f := range fields {
		rt.addField(f)
	}
	return rt
}

func (rt *RecordType) addField(f *Field) {
	if _, dup := rt.byName[f.name]; dup {
		rt.fail(configErrorf(rt.name, "", "duplicate field %q", f.name))
		return
	}
	if f.primaryKey {
		if rt.pk != nil {
			rt.fail(configErrorf(rt.name, "", "multiple primary keys: %s and %s", rt.pk.name, f.name))
			return
		}
		rt.pk = f
	}
	rt.fields = append(rt.fields, f)
	rt.byName[f.name] = f
}

func (rt *RecordType) fail(err error) {
	if rt.err == nil {
		rt.err = err
	}
}

// WithTable overrides the table name.
func (rt *RecordType) WithTable(table string) *RecordType { rt.table = table; return rt }

// Relate attaches relationships to the record type.
func (rt *RecordType) Relate(rels ...*Relationship) *RecordType {
	for _, rel := range rels {
		if _, dup := rt.relByName[rel.name]; dup {
			rt.fail(configErrorf(rt.name, rel.name, "duplicate relationship"))
			continue
		}
		if _, clash := rt.byName[rel.name]; clash {
			rt.fail(configErrorf(rt.name, rel.name, "relationship name clashes with a field"))
			continue
		}
		if rel.kind == SelfReferential {
			rel.target = rt.name
		}
		rel.owner = rt
		rt.relations = append(rt.relations, rel)
		rt.relByName[rel.name] = rel
	}
	return rt
}

// Association marks the type as an association record: it only carries
// foreign keys, is traversed by relationships and never queried directly.
func (rt *RecordType) Association() *RecordType { rt.association = true; return rt }

func (rt *RecordType) Name() string        { return rt.name }
func (rt *RecordType) Table() string       { return rt.table }
func (rt *RecordType) PrimaryKey() *Field  { return rt.pk }
func (rt *RecordType) IsAssociation() bool { return rt.association }
func (rt *RecordType) Fields() []*Field    { return append([]*Field(nil), rt.fields...) }
func (rt *RecordType) Relations() []*Relationship {
	return append([]*Relationship(nil), rt.relations...)
}

// Field returns the field named name.
func (rt *RecordType) Field(name string) (*Field, bool) {
	f, ok := rt.byName[name]
	return f, ok
}

// Relation returns the relationship named name.
func (rt *RecordType) Relation(name string) (*Relationship, bool) {
	r, ok := rt.relByName[name]
	return r, ok
}

// selectFields returns the fields in the default select list plus the
// undeferred ones.
func (rt *RecordType) selectFields(undefer map[string]bool, all bool) []*Field {
	out := make([]*Field, 0, len(rt.fields))
	for _, f := range rt.fields {
		if !f.deferred || all || undefer[f.name] {
			out = append(out, f)
		}
	}
	return out
}

func (rt *RecordType) field(name string) (*Field, error) {
	f, ok := rt.byName[name]
	if !ok {
		return nil, fmt.Errorf("orm: %s has no field %q", rt.name, name)
	}
	return f, nil
}
