package orm

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mickamy/relmap/internal/naming"
)

// TableNamer can be implemented by model structs to override the
// auto-derived table name.
type TableNamer interface {
	TableName() string
}

// ResolveTableName returns the table name for type T.
// If T implements TableNamer (value or pointer receiver), that name is used;
// otherwise fallback is returned.
func ResolveTableName[T any](fallback string) string {
	var zero T
	if tn, ok := any(&zero).(TableNamer); ok {
		return tn.TableName()
	}
	return fallback
}

// Define derives a RecordType from the struct type T.
//
// Exported fields map to columns named by their `db` tag, or by the
// snake_case field name. A field named ID is the primary key unless a tag
// says otherwise; pointer fields are nullable. Fields tagged `rel` declare
// relationships whose target is the struct named by the field's element
// type:
//
//	type Author struct {
//		ID    int
//		Name  string
//		Bio   *string `db:"bio,deferred"`
//		Books []Book  `rel:"has_many,foreign_key:author_id,load:selectin"`
//	}
func Define[T any]() (*RecordType, error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		return nil, configErrorf(typ.String(), "", "Define needs a struct type")
	}
	cols, rels, err := structColumns(typ)
	if err != nil {
		return nil, configErrorf(typ.Name(), "", "%v", err)
	}
	d := TypeDecl{
		Name:      typ.Name(),
		Table:     ResolveTableName[T](naming.TableName(typ.Name())),
		Relations: rels,
	}
	for _, c := range cols {
		d.Fields = append(d.Fields, c.decl)
	}
	return d.Build()
}

// Decode copies the loaded values of r into a new T, matching columns the
// same way Define does. Deferred fields that are not loaded keep their zero
// value.
func Decode[T any](r *Record) (T, error) {
	var out T
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		return out, fmt.Errorf("orm: Decode needs a struct type, got %s", typ)
	}
	cols, _, err := structColumns(typ)
	if err != nil {
		return out, err
	}
	dst := reflect.ValueOf(&out).Elem()
	for _, c := range cols {
		v, ok := r.values[c.decl.Name]
		if !ok || v == nil || !r.loaded[c.decl.Name] {
			continue
		}
		if err := assign(dst.FieldByIndex(c.index), v); err != nil {
			return out, fmt.Errorf("orm: decode %s.%s: %w", typ.Name(), c.decl.Name, err)
		}
	}
	return out, nil
}

// Encode returns the column values of v, ready for NewRecord. Zero-valued
// Int primary keys are omitted so the database can generate them.
func Encode[T any](v T) (map[string]any, error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("orm: Encode needs a struct type, got %s", typ)
	}
	cols, _, err := structColumns(typ)
	if err != nil {
		return nil, err
	}
	src := reflect.ValueOf(v)
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		fv := src.FieldByIndex(c.index)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				out[c.decl.Name] = nil
				continue
			}
			fv = fv.Elem()
		}
		if c.decl.PrimaryKey && fv.IsZero() {
			continue
		}
		out[c.decl.Name] = fv.Interface()
	}
	return out, nil
}

type structColumn struct {
	index []int
	decl  FieldDecl
}

var timeType = reflect.TypeFor[time.Time]()

func structColumns(typ reflect.Type) ([]structColumn, []RelationDecl, error) {
	var (
		cols []structColumn
		rels []RelationDecl
	)
	for i := range typ.NumField() {
		sf := typ.Field(i)
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		if tag, ok := sf.Tag.Lookup("rel"); ok {
			rd, err := ParseRelationTag(naming.CamelToSnake(sf.Name), elemName(sf.Type), tag)
			if err != nil {
				return nil, nil, fmt.Errorf("field %s: %w", sf.Name, err)
			}
			rels = append(rels, rd)
			continue
		}
		tag, tagged := sf.Tag.Lookup("db")
		d := FieldDecl{Name: naming.CamelToSnake(sf.Name)}
		if tagged {
			parsed, keep, err := ParseFieldTag(tag)
			if err != nil {
				return nil, nil, fmt.Errorf("field %s: %w", sf.Name, err)
			}
			if !keep {
				continue
			}
			if parsed.Name == "" {
				parsed.Name = d.Name
			}
			d = parsed
		}
		d.PrimaryKey = d.PrimaryKey || sf.Name == "ID"
		ft, nullable, ok := goFieldType(sf.Type)
		if !ok {
			if tagged {
				return nil, nil, fmt.Errorf("field %s: unsupported type %s", sf.Name, sf.Type)
			}
			continue
		}
		if d.Type == "" {
			d.Type = ft.String()
		}
		d.Nullable = d.Nullable || nullable
		cols = append(cols, structColumn{index: sf.Index, decl: d})
	}
	return cols, rels, nil
}

func goFieldType(t reflect.Type) (FieldType, bool, bool) {
	nullable := false
	if t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}
	if t == timeType {
		return Time, nullable, true
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Int, nullable, true
	case reflect.String:
		return String, nullable, true
	case reflect.Float32, reflect.Float64:
		return Float, nullable, true
	case reflect.Bool:
		return Bool, nullable, true
	default:
		return 0, false, false
	}
}

func elemName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t.Name()
}

func assign(dst reflect.Value, v any) error {
	if dst.Kind() == reflect.Pointer {
		p := reflect.New(dst.Type().Elem())
		if err := assign(p.Elem(), v); err != nil {
			return err
		}
		dst.Set(p)
		return nil
	}
	src := reflect.ValueOf(v)
	if !src.Type().ConvertibleTo(dst.Type()) {
		return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
	}
	dst.Set(src.Convert(dst.Type()))
	return nil
}
