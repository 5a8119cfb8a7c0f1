package modelparse

import (
	"bytes"
	"errors"
	"fmt"
	"go/format"
	"strconv"
	"strings"
	"text/template"

	"github.com/mickamy/relmap/orm"
)

// Render generates a Go source file in package pkg declaring
//
//	func NewRegistry() (*orm.Registry, error)
//
// which registers every type of s. The returned bytes are formatted by
// gofmt.
func Render(s *orm.Schema, pkg string) ([]byte, error) {
	if s == nil || len(s.Types) == 0 {
		return nil, errors.New("no types to render")
	}
	if pkg == "" {
		return nil, errors.New("package name is required")
	}
	for _, d := range s.Types {
		if _, err := d.Build(); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := fileTmpl.Execute(&buf, fileTemplateData{Package: pkg, Types: s.Types}); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("gofmt: %w", err)
	}
	return src, nil
}

type fileTemplateData struct {
	Package string
	Types   []orm.TypeDecl
}

var funcMap = template.FuncMap{
	"quote":    strconv.Quote,
	"field":    fieldExpr,
	"relation": relationExpr,
}

var fileTmpl = template.Must(template.New("registry").Funcs(funcMap).Parse(fileTemplate))

const fileTemplate = `// Code generated by relmap; DO NOT EDIT.
package {{.Package}}

import "github.com/mickamy/relmap/orm"

// NewRegistry returns an unfrozen registry holding every record type of
// the schema.
func NewRegistry() (*orm.Registry, error) {
	reg := orm.NewRegistry()
	err := reg.Register(
	{{- range .Types}}
		orm.NewRecordType({{quote .Name}},
		{{- range .Fields}}
			{{field .}},
		{{- end}}
		){{if .Table}}.WithTable({{quote .Table}}){{end}}{{if .Association}}.Association(){{end}}{{if .Relations}}.Relate(
		{{- range .Relations}}
			{{relation .}},
		{{- end}}
		){{end}},
	{{- end}}
	)
	if err != nil {
		return nil, err
	}
	return reg, nil
}
`

var fieldCtors = map[orm.FieldType]string{
	orm.Int:    "IntField",
	orm.String: "StringField",
	orm.Text:   "TextField",
	orm.Float:  "FloatField",
	orm.Bool:   "BoolField",
	orm.Time:   "TimeField",
}

func fieldExpr(d orm.FieldDecl) (string, error) {
	typ, err := orm.ParseFieldType(d.Type)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "orm.%s(%s)", fieldCtors[typ], strconv.Quote(d.Name))
	for _, m := range []struct {
		on   bool
		call string
	}{
		{d.PrimaryKey, ".PrimaryKey()"},
		{d.Nullable, ".Nullable()"},
		{d.Deferred, ".Deferred()"},
		{d.Unique, ".Unique()"},
		{d.CreatedAt, ".CreatedAt()"},
		{d.UpdatedAt, ".UpdatedAt()"},
	} {
		if m.on {
			b.WriteString(m.call)
		}
	}
	if d.References != "" {
		typeName, field, _ := strings.Cut(d.References, ".")
		fmt.Fprintf(&b, ".References(%s, %s)", strconv.Quote(typeName), strconv.Quote(field))
	}
	return b.String(), nil
}

var policyNames = map[orm.LoadPolicy]string{
	orm.Eager:        "orm.Eager",
	orm.LazyBatch:    "orm.LazyBatch",
	orm.ExplicitOnly: "orm.ExplicitOnly",
	orm.WriteOnly:    "orm.WriteOnly",
	orm.Dynamic:      "orm.Dynamic",
}

func relationExpr(d orm.RelationDecl) (string, error) {
	q := strconv.Quote
	var b strings.Builder
	switch d.Kind {
	case "has_one":
		fmt.Fprintf(&b, "orm.HasOne(%s, %s, %s)", q(d.Name), q(d.Target), q(d.ForeignKey))
	case "has_many":
		fmt.Fprintf(&b, "orm.HasMany(%s, %s, %s)", q(d.Name), q(d.Target), q(d.ForeignKey))
	case "belongs_to":
		fmt.Fprintf(&b, "orm.BelongsTo(%s, %s, %s)", q(d.Name), q(d.Target), q(d.ForeignKey))
	case "many_to_many":
		fmt.Fprintf(&b, "orm.ManyToMany(%s, %s, %s, %s, %s)", q(d.Name), q(d.Target), q(d.Through), q(d.ForeignKey), q(d.References))
	case "self":
		if d.Through != "" {
			fmt.Fprintf(&b, "orm.SelfRefThrough(%s, %s, %s, %s)", q(d.Name), q(d.Through), q(d.ForeignKey), q(d.References))
		} else {
			fmt.Fprintf(&b, "orm.SelfRef(%s, %s)", q(d.Name), q(d.ForeignKey))
		}
	default:
		return "", fmt.Errorf("unknown relationship kind %q", d.Kind)
	}
	policy, err := orm.ParsePolicy(d.Load)
	if err != nil {
		return "", err
	}
	if name, ok := policyNames[policy]; ok {
		fmt.Fprintf(&b, ".Load(%s)", name)
	}
	if d.BackRef != "" {
		fmt.Fprintf(&b, ".BackRef(%s)", q(d.BackRef))
	}
	if d.Single {
		b.WriteString(".Single()")
	}
	return b.String(), nil
}
