package etl

import (
	"fmt"
)

// Schema is the static field declaration of one entity type. It is built
// once and shared by every Object of that type; it is never mutated.
type Schema struct {
	name    string
	idField string
	fields  []Field
	index   map[string]int
}

// NewSchema builds a schema named name. idField names the field that holds
// the remote identity; an object whose id field is unset or nil is local-only.
func NewSchema(name, idField string, fields ...Field) (*Schema, error) {
	s := &Schema{
		name:    name,
		idField: idField,
		fields:  make([]Field, 0, len(fields)),
		index:   make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema %s: field name is required", name)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("schema %s: duplicate field %q", name, f.Name)
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	if idField != "" {
		if _, ok := s.index[idField]; !ok {
			return nil, fmt.Errorf("schema %s: id field %q is not declared", name, idField)
		}
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error, for package-level schemas.
func MustSchema(name, idField string, fields ...Field) *Schema {
	s, err := NewSchema(name, idField, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string { return s.name }

func (s *Schema) IDField() string { return s.idField }

// Field returns the declared field called name.
func (s *Schema) Field(name string) (*Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return &s.fields[i], true
}

func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Names returns the declared field names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i := range s.fields {
		names[i] = s.fields[i].Name
	}
	return names
}

func (s *Schema) Len() int { return len(s.fields) }
