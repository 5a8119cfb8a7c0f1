// Package modelparse reads Go source files and derives orm schema
// declarations from the structs they declare, without compiling them.
package modelparse

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strings"

	"github.com/mickamy/relmap/internal/naming"
	"github.com/mickamy/relmap/orm"
)

// Parse reads the Go file at path and returns a schema with one type for
// every struct that has at least one column field.
func Parse(filePath string) (*orm.Schema, error) {
	return ParseSource(filePath, nil)
}

// ParseSource is Parse for in-memory source. src may be a string, []byte
// or io.Reader; when nil the file at filename is read.
func ParseSource(filename string, src any) (*orm.Schema, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}

	tables := tableNames(file)
	s := &orm.Schema{}
	var parseErr error
	ast.Inspect(file, func(n ast.Node) bool {
		if parseErr != nil {
			return false
		}
		ts, ok := n.(*ast.TypeSpec)
		if !ok {
			return true
		}
		st, ok := ts.Type.(*ast.StructType)
		if !ok {
			return true
		}

		d, err := parseStruct(ts.Name.Name, st)
		if err != nil {
			parseErr = fmt.Errorf("%s: %w", fset.Position(ts.Pos()), err)
			return false
		}
		if len(d.Fields) == 0 {
			return true
		}
		d.Table = tables[d.Name]
		s.Types = append(s.Types, d)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return s, nil
}

// tableNames collects the constant results of TableName methods:
//
//	func (User) TableName() string { return "members" }
func tableNames(file *ast.File) map[string]string {
	out := make(map[string]string)
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || fn.Name.Name != "TableName" || fn.Body == nil || len(fn.Body.List) != 1 {
			continue
		}
		ret, ok := fn.Body.List[0].(*ast.ReturnStmt)
		if !ok || len(ret.Results) != 1 {
			continue
		}
		lit, ok := ret.Results[0].(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			continue
		}
		recv := strings.TrimPrefix(typeToString(fn.Recv.List[0].Type), "*")
		out[recv] = strings.Trim(lit.Value, "`\"")
	}
	return out
}

func parseStruct(name string, st *ast.StructType) (orm.TypeDecl, error) {
	d := orm.TypeDecl{Name: name}
	for _, field := range st.Fields.List {
		if len(field.Names) == 0 || !field.Names[0].IsExported() {
			continue // embedded or unexported
		}
		fieldName := field.Names[0].Name
		tag := reflect.StructTag(strings.Trim(tagValue(field), "`"))

		if relTag, ok := tag.Lookup("rel"); ok {
			rd, err := orm.ParseRelationTag(naming.CamelToSnake(fieldName), elemName(field.Type), relTag)
			if err != nil {
				return d, fmt.Errorf("%s.%s: %w", name, fieldName, err)
			}
			d.Relations = append(d.Relations, rd)
			continue
		}

		fd, keep, err := parseField(fieldName, field.Type, tag)
		if err != nil {
			return d, fmt.Errorf("%s.%s: %w", name, fieldName, err)
		}
		if keep {
			d.Fields = append(d.Fields, fd)
		}
	}
	return d, nil
}

func tagValue(field *ast.Field) string {
	if field.Tag == nil {
		return ""
	}
	return field.Tag.Value
}

func parseField(name string, typ ast.Expr, tag reflect.StructTag) (orm.FieldDecl, bool, error) {
	// Defaults: column inferred from field name, ID field is primary key.
	fd := orm.FieldDecl{Name: naming.CamelToSnake(name), PrimaryKey: name == "ID"}
	if dbTag, ok := tag.Lookup("db"); ok {
		parsed, keep, err := orm.ParseFieldTag(dbTag)
		if err != nil || !keep {
			return orm.FieldDecl{}, false, err
		}
		if parsed.Name == "" {
			parsed.Name = fd.Name
		}
		parsed.PrimaryKey = parsed.PrimaryKey || fd.PrimaryKey
		fd = parsed
	}

	goType := typeToString(typ)
	if fd.Type == "" {
		fieldType, nullable, ok := columnType(goType)
		if !ok {
			return orm.FieldDecl{}, false, fmt.Errorf("unsupported Go type %s (tag it db:\"-\" or add the text option)", goType)
		}
		fd.Type = fieldType
		fd.Nullable = fd.Nullable || nullable
	} else if strings.HasPrefix(goType, "*") {
		fd.Nullable = true
	}

	// Timestamp conventions still apply to tagged fields.
	if fd.Type == orm.Time.String() {
		switch name {
		case "CreatedAt":
			fd.CreatedAt = true
		case "UpdatedAt":
			fd.UpdatedAt = true
		}
	}
	return fd, true, nil
}

// columnType maps a Go type spelled in source to a field type name.
func columnType(goType string) (string, bool, bool) {
	nullable := false
	if t, ok := strings.CutPrefix(goType, "*"); ok {
		goType, nullable = t, true
	}
	switch goType {
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64":
		return orm.Int.String(), nullable, true
	case "string":
		return orm.String.String(), nullable, true
	case "float32", "float64":
		return orm.Float.String(), nullable, true
	case "bool":
		return orm.Bool.String(), nullable, true
	case "time.Time":
		return orm.Time.String(), nullable, true
	case "sql.NullInt64", "sql.NullInt32", "sql.NullInt16":
		return orm.Int.String(), true, true
	case "sql.NullString":
		return orm.String.String(), true, true
	case "sql.NullFloat64":
		return orm.Float.String(), true, true
	case "sql.NullBool":
		return orm.Bool.String(), true, true
	case "sql.NullTime":
		return orm.Time.String(), true, true
	}
	return "", false, false
}

// elemName returns the struct name a relationship field points at:
// "[]amodel.OAuthAccount" → "OAuthAccount", "*Author" → "Author".
func elemName(expr ast.Expr) string {
	s := typeToString(expr)
	s = strings.TrimLeft(s, "[]*")
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func typeToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return typeToString(t.X) + "." + t.Sel.Name
	case *ast.StarExpr:
		return "*" + typeToString(t.X)
	case *ast.ArrayType:
		if t.Len == nil {
			return "[]" + typeToString(t.Elt)
		}
		return fmt.Sprintf("[%s]%s", typeToString(t.Len), typeToString(t.Elt))
	default:
		return fmt.Sprintf("%T", expr)
	}
}
