package etl

import (
	"fmt"
	"reflect"
)

// Object is one remote-backed entity.
//
// values holds the current attribute values; a field that was never set has
// no entry. synced holds, per field, the value it had when the object was
// last loaded, created or updated; IsEdited compares the two.
type Object struct {
	schema *Schema
	values map[string]any
	synced []Value
	raw    Payload
}

// New returns an empty object with every field Missing.
func New(s *Schema) *Object {
	synced := make([]Value, s.Len())
	for i := range synced {
		synced[i] = MissingValue
	}
	return &Object{
		schema: s,
		values: make(map[string]any, s.Len()),
		synced: synced,
	}
}

// FromRaw builds an object by running every field's ETL over the payload.
func FromRaw(s *Schema, p Payload) (*Object, error) {
	o := New(s)
	if err := o.Load(p); err != nil {
		return nil, err
	}
	return o, nil
}

// FromKwargs builds an object from explicit values. Absent optional fields
// take their default; an absent required field is an error.
func FromKwargs(s *Schema, kwargs map[string]any) (*Object, error) {
	o := New(s)
	for i := range s.fields {
		f := &s.fields[i]
		var v Value
		if raw, ok := kwargs[f.Name]; ok {
			v = Of(raw)
		} else if f.Required {
			return nil, &MissingRequiredFieldError{Field: f.Name}
		} else {
			v = f.Default
		}
		if val, ok := v.Get(); ok {
			o.values[f.Name] = val
		}
		o.synced[i] = v
	}
	return o, nil
}

// Attributer is anything that exposes named attributes.
type Attributer interface {
	Attributes() map[string]any
}

// Attrs adapts a plain map to Attributer.
type Attrs map[string]any

func (a Attrs) Attributes() map[string]any { return a }

// FromObj builds an object from the attributes of other whose names are
// declared in the schema; everything else is dropped.
func FromObj(s *Schema, other Attributer) (*Object, error) {
	kwargs := make(map[string]any)
	for name, v := range other.Attributes() {
		if s.Has(name) {
			kwargs[name] = v
		}
	}
	return FromKwargs(s, kwargs)
}

// Load absorbs a raw payload. Either every field loads or the object is
// left untouched.
func (o *Object) Load(p Payload) error {
	loaded := make([]Value, len(o.schema.fields))
	for i := range o.schema.fields {
		v, err := o.schema.fields[i].ETL(p)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", o.schema.name, err)
		}
		loaded[i] = v
	}

	o.raw = p
	for i, v := range loaded {
		name := o.schema.fields[i].Name
		if val, ok := v.Get(); ok {
			o.values[name] = val
		} else {
			delete(o.values, name)
		}
		o.synced[i] = v
	}
	return nil
}

func (o *Object) Schema() *Schema { return o.schema }

// Raw returns the last absorbed payload, or nil.
func (o *Object) Raw() Payload { return o.raw }

// IsLoaded reports whether a raw payload has been absorbed.
func (o *Object) IsLoaded() bool { return o.raw != nil }

// RemoteID returns the value of the schema's id field.
func (o *Object) RemoteID() (any, bool) {
	if o.schema.idField == "" {
		return nil, false
	}
	v, ok := o.values[o.schema.idField]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// IsLocalOnly reports whether the object was never created remotely.
func (o *Object) IsLocalOnly() bool {
	_, ok := o.RemoteID()
	return !ok
}

// IsEdited reports whether the object differs from its last synced state.
// Local-only objects are always edited. Fields whose synced value is
// Missing are ignored.
func (o *Object) IsEdited() bool {
	if o.IsLocalOnly() {
		return true
	}
	return len(o.EditedFields()) > 0
}

// EditedFields lists the fields whose current value differs from the synced one.
func (o *Object) EditedFields() []string {
	var edited []string
	for i := range o.schema.fields {
		name := o.schema.fields[i].Name
		last := o.synced[i]
		if last.IsMissing() {
			continue
		}
		cur, set := o.values[name]
		lastVal, present := last.Get()
		if set != present || (set && !reflect.DeepEqual(cur, lastVal)) {
			edited = append(edited, name)
		}
	}
	return edited
}

// Get returns the current value of a field.
func (o *Object) Get(name string) (any, bool) {
	v, ok := o.values[name]
	return v, ok
}

// MustGet returns the current value of a field, or nil when unset.
func (o *Object) MustGet(name string) any {
	return o.values[name]
}

// Synced returns the value the field held at the last sync.
func (o *Object) Synced(name string) Value {
	i, ok := o.schema.index[name]
	if !ok {
		return NoValue
	}
	return o.synced[i]
}

// Set assigns a declared field.
func (o *Object) Set(name string, v any) error {
	if !o.schema.Has(name) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, o.schema.name, name)
	}
	o.values[name] = v
	return nil
}

// Apply assigns every entry of values whose name is declared and returns
// the names it applied. Undeclared names are ignored.
func (o *Object) Apply(values map[string]any) []string {
	var applied []string
	for _, name := range o.schema.Names() {
		if v, ok := values[name]; ok {
			o.values[name] = v
			applied = append(applied, name)
		}
	}
	return applied
}

// Attributes returns a copy of the set field values.
func (o *Object) Attributes() map[string]any {
	out := make(map[string]any, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// Payload renders the selected, set fields keyed by their remote keys.
func (o *Object) Payload(sel Selector) (Payload, error) {
	p := make(Payload)
	for _, name := range sel.Names(o.schema) {
		f, ok := o.schema.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, o.schema.name, name)
		}
		if v, set := o.values[name]; set {
			p[f.RemoteKey()] = v
		}
	}
	return p, nil
}

func (o *Object) String() string {
	if id, ok := o.RemoteID(); ok {
		return fmt.Sprintf("%s(%v)", o.schema.name, id)
	}
	return fmt.Sprintf("%s(local)", o.schema.name)
}
