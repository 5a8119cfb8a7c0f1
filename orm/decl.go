package orm

import (
	"fmt"
	"strings"
)

// TypeDecl is the declarative form of a RecordType, as read from YAML
// schema documents or Go struct tags.
type TypeDecl struct {
	Name        string         `yaml:"name"`
	Table       string         `yaml:"table,omitempty"`
	Association bool           `yaml:"association,omitempty"`
	Fields      []FieldDecl    `yaml:"fields"`
	Relations   []RelationDecl `yaml:"relations,omitempty"`
}

// FieldDecl is the declarative form of a Field.
type FieldDecl struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	PrimaryKey bool   `yaml:"primary_key,omitempty"`
	Nullable   bool   `yaml:"nullable,omitempty"`
	Deferred   bool   `yaml:"deferred,omitempty"`
	Unique     bool   `yaml:"unique,omitempty"`
	References string `yaml:"references,omitempty"` // "Type.field"
	CreatedAt  bool   `yaml:"created_at,omitempty"`
	UpdatedAt  bool   `yaml:"updated_at,omitempty"`
}

// RelationDecl is the declarative form of a Relationship.
//
// Kind is one of has_one, has_many, belongs_to, many_to_many or self.
// For many_to_many and self with Through set, ForeignKey is the
// association column referencing the owner and References the column
// referencing the target.
type RelationDecl struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Target     string `yaml:"target,omitempty"`
	ForeignKey string `yaml:"foreign_key,omitempty"`
	Through    string `yaml:"through,omitempty"`
	References string `yaml:"references,omitempty"`
	Load       string `yaml:"load,omitempty"`
	BackRef    string `yaml:"back_ref,omitempty"`
	Single     bool   `yaml:"single,omitempty"`
}

// Build converts the declaration into a RecordType.
func (d TypeDecl) Build() (*RecordType, error) {
	if d.Name == "" {
		return nil, configErrorf("", "", "type without a name")
	}
	fields := make([]*Field, 0, len(d.Fields))
	for _, fd := range d.Fields {
		f, err := fd.Build()
		if err != nil {
			return nil, configErrorf(d.Name, "", "%v", err)
		}
		fields = append(fields, f)
	}
	rt := NewRecordType(d.Name, fields...)
	if d.Table != "" {
		rt.WithTable(d.Table)
	}
	if d.Association {
		rt.Association()
	}
	for _, rd := range d.Relations {
		rel, err := rd.Build()
		if err != nil {
			return nil, configErrorf(d.Name, rd.Name, "%v", err)
		}
		rt.Relate(rel)
	}
	return rt, nil
}

// Build converts the declaration into a Field.
func (d FieldDecl) Build() (*Field, error) {
	typ, err := ParseFieldType(d.Type)
	if err != nil {
		return nil, err
	}
	f := NewField(d.Name, typ)
	if d.PrimaryKey {
		f.PrimaryKey()
	}
	if d.Nullable {
		f.Nullable()
	}
	if d.Deferred {
		f.Deferred()
	}
	if d.Unique {
		f.Unique()
	}
	if d.CreatedAt {
		f.CreatedAt()
	}
	if d.UpdatedAt {
		f.UpdatedAt()
	}
	if d.References != "" {
		typeName, field, ok := strings.Cut(d.References, ".")
		if !ok || typeName == "" || field == "" {
			return nil, fmt.Errorf("field %s: references must be Type.field, got %q", d.Name, d.References)
		}
		f.References(typeName, field)
	}
	return f, nil
}

// Build converts the declaration into a Relationship.
func (d RelationDecl) Build() (*Relationship, error) {
	policy, err := ParsePolicy(d.Load)
	if err != nil {
		return nil, err
	}
	var rel *Relationship
	switch d.Kind {
	case "has_one":
		rel = HasOne(d.Name, d.Target, d.ForeignKey)
	case "has_many":
		rel = HasMany(d.Name, d.Target, d.ForeignKey)
	case "belongs_to":
		rel = BelongsTo(d.Name, d.Target, d.ForeignKey)
	case "many_to_many":
		rel = ManyToMany(d.Name, d.Target, d.Through, d.ForeignKey, d.References)
	case "self":
		if d.Through != "" {
			rel = SelfRefThrough(d.Name, d.Through, d.ForeignKey, d.References)
		} else {
			rel = SelfRef(d.Name, d.ForeignKey)
		}
	default:
		return nil, fmt.Errorf("unknown relationship kind %q", d.Kind)
	}
	rel.Load(policy)
	if d.BackRef != "" {
		rel.BackRef(d.BackRef)
	}
	if d.Single {
		rel.Single()
	}
	return rel, nil
}

// ParseFieldTag parses a `db:"column,opt,..."` struct tag. Options are
// primaryKey, nullable, deferred, unique, text, createdAt and updatedAt.
// The second result is false when the tag is "-".
func ParseFieldTag(tag string) (FieldDecl, bool, error) {
	if tag == "-" {
		return FieldDecl{}, false, nil
	}
	parts := strings.Split(tag, ",")
	d := FieldDecl{Name: parts[0]}
	for _, opt := range parts[1:] {
		switch opt {
		case "primaryKey":
			d.PrimaryKey = true
		case "nullable":
			d.Nullable = true
		case "deferred":
			d.Deferred = true
		case "unique":
			d.Unique = true
		case "text":
			d.Type = Text.String()
		case "createdAt":
			d.CreatedAt = true
		case "updatedAt":
			d.UpdatedAt = true
		case "":
		default:
			if ref, ok := strings.CutPrefix(opt, "references:"); ok {
				d.References = ref
				continue
			}
			return FieldDecl{}, false, fmt.Errorf("unknown db tag option %q", opt)
		}
	}
	return d, true, nil
}

// ParseRelationTag parses a `rel:"kind,key:value,..."` struct tag for the
// relationship name pointing at target. Keys are foreign_key, through,
// references, load and back_ref; the bare option single sets Single.
//
//	rel:"has_many,foreign_key:author_id,load:selectin"
//	rel:"self,through:FollowingAssociation,foreign_key:merchant_id,references:following_id"
func ParseRelationTag(name, target, tag string) (RelationDecl, error) {
	parts := strings.Split(tag, ",")
	d := RelationDecl{Name: name, Kind: parts[0], Target: target}
	for _, opt := range parts[1:] {
		if opt == "single" {
			d.Single = true
			continue
		}
		key, value, ok := strings.Cut(opt, ":")
		if !ok {
			return RelationDecl{}, fmt.Errorf("rel tag option %q: want key:value", opt)
		}
		switch key {
		case "foreign_key":
			d.ForeignKey = value
		case "through", "join_table":
			d.Through = value
		case "references":
			d.References = value
		case "load", "lazy":
			d.Load = value
		case "back_ref", "back_populates":
			d.BackRef = value
		default:
			return RelationDecl{}, fmt.Errorf("unknown rel tag option %q", key)
		}
	}
	if d.Kind == "self" {
		d.Target = ""
	}
	return d, nil
}
