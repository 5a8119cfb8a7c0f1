package orm

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Schema is a YAML schema document:
//
//	types:
//	  - name: Author
//	    fields:
//	      - {name: id, type: int, primary_key: true}
//	      - {name: name, type: string}
//	    relations:
//	      - {name: books, kind: has_many, target: Book, foreign_key: author_id, load: selectin}
type Schema struct {
	Types []TypeDecl `yaml:"types"`
}

// ReadSchema decodes a schema document. Unknown keys are errors.
func ReadSchema(r io.Reader) (*Schema, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Schema
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return &s, nil
		}
		return nil, fmt.Errorf("orm: decode schema: %w", err)
	}
	return &s, nil
}

// WriteSchema encodes s as YAML.
func WriteSchema(w io.Writer, s *Schema) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("orm: encode schema: %w", err)
	}
	return enc.Close() //nolint:wrapcheck // flush only
}

// Registry builds and registers every type of the document. The registry
// is not frozen.
func (s *Schema) Registry() (*Registry, error) {
	reg := NewRegistry()
	for _, d := range s.Types {
		rt, err := d.Build()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(rt); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadSchema reads a schema document and returns its unfrozen registry.
func LoadSchema(r io.Reader) (*Registry, error) {
	s, err := ReadSchema(r)
	if err != nil {
		return nil, err
	}
	return s.Registry()
}
