package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
)

// Record is one remote payload mapped to column values.
type Record struct {
	Key    any
	Values map[string]any
	Raw    string
}

// EntitySchema builds the etl schema of the resource. Field names are column
// names; remote keys, transforms, types and defaults become extraction and
// cleaning rules. The key column is the remote identity.
func (r *Resource) EntitySchema() (*etl.Schema, error) {
	fields := make([]etl.Field, len(r.Fields))
	for i := range r.Fields {
		f, err := r.Fields[i].etlField()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Name, err)
		}
		fields[i] = f
	}
	return etl.NewSchema(r.Name, r.KeyColumn(), fields...)
}

func (f *Field) etlField() (etl.Field, error) {
	out := etl.Field{
		Name:     f.ColumnName(),
		Key:      f.Remote,
		Required: f.Required,
	}
	if strings.Contains(f.Remote, ".") {
		out.Extract = pathExtractor(strings.Split(f.Remote, "."))
	}

	typ := f.ColumnType()
	if f.Default != nil {
		d, err := typ.Coerce(f.Default)
		if err != nil {
			return etl.Field{}, fmt.Errorf("%s: default: %w", out.Name, err)
		}
		out.Default = etl.Of(d)
	}

	var transform TransformFunc
	if f.Transform != "" {
		fn, ok := lookupTransform(f.Transform)
		if !ok {
			return etl.Field{}, fmt.Errorf("%w: %q", ErrUnknownTransform, f.Transform)
		}
		transform = fn
	}
	out.Clean = func(v any) (any, error) {
		if transform != nil {
			var err error
			if v, err = transform(v); err != nil {
				return nil, err
			}
		}
		return typ.Coerce(v)
	}
	return out, nil
}

func pathExtractor(path []string) etl.ExtractFunc {
	return func(p etl.Payload) (any, error) {
		var cur any = map[string]any(p)
		for _, part := range path {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %q", etl.ErrKeyNotFound, strings.Join(path, "."))
			}
			if cur, ok = m[part]; !ok {
				return nil, fmt.Errorf("%w: %q", etl.ErrKeyNotFound, strings.Join(path, "."))
			}
		}
		return cur, nil
	}
}

// MapRecord maps a remote payload to a row. Remote keys that are not mapped
// are ignored except in Raw. Every mapped column is present in Values;
// absent optional fields are nil. A record without a key value is rejected.
func (r *Resource) MapRecord(p etl.Payload) (*Record, error) {
	entity, err := r.entity()
	if err != nil {
		return nil, err
	}
	obj, err := etl.FromRaw(entity, p)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(r.Fields))
	for _, col := range r.FieldColumns() {
		values[col] = obj.MustGet(col)
	}
	key := values[r.KeyColumn()]
	if key == nil {
		return nil, &etl.MissingRequiredFieldError{Field: r.KeyColumn()}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode raw payload: %w", err)
	}
	return &Record{Key: key, Values: values, Raw: string(raw)}, nil
}

func (r *Resource) entity() (*etl.Schema, error) {
	r.entityOnce.Do(func() {
		r.entitySchema, r.entityErr = r.EntitySchema()
	})
	return r.entitySchema, r.entityErr
}
