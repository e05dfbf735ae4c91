package etl

import (
	"errors"
	"fmt"
)

// Payload is one raw record as decoded from the remote service.
type Payload map[string]any

// ExtractFunc resolves a field's raw value from the whole payload.
type ExtractFunc func(Payload) (any, error)

// CleanFunc normalizes a raw value.
type CleanFunc func(any) (any, error)

// Field describes one named attribute of a remote entity.
//
// The raw value is resolved by Extract if set, else by looking up Key in the
// payload, else by looking up Name.
type Field struct {
	Name     string
	Label    string
	Key      string
	Required bool
	Default  Value

	Extract ExtractFunc
	Clean   CleanFunc
}

// RemoteKey is the payload key the field is read from and written to.
func (f *Field) RemoteKey() string {
	if f.Key != "" {
		return f.Key
	}
	return f.Name
}

// DisplayName returns Label, falling back to Name.
func (f *Field) DisplayName() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// ExtractRaw pulls the raw value for this field out of the payload.
// It returns ErrKeyNotFound when the key is absent.
func (f *Field) ExtractRaw(p Payload) (any, error) {
	if f.Extract != nil {
		return f.Extract(p)
	}
	v, ok := p[f.RemoteKey()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, f.RemoteKey())
	}
	return v, nil
}

// CleanValue applies Clean, or passes raw through unchanged.
func (f *Field) CleanValue(raw any) (any, error) {
	if f.Clean == nil {
		return raw, nil
	}
	v, err := f.Clean(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to clean field %q: %w", f.Name, err)
	}
	return v, nil
}

// ETL extracts and cleans the field's value.
//
// An absent key resolves to the default when one was provided. Without a
// default, an optional field yields MissingValue and a required one fails
// with a *MissingRequiredFieldError.
func (f *Field) ETL(p Payload) (Value, error) {
	raw, err := f.ExtractRaw(p)
	if errors.Is(err, ErrKeyNotFound) {
		switch {
		case f.Default.IsPresent():
			return f.Default, nil
		case !f.Required:
			return MissingValue, nil
		default:
			return Value{}, &MissingRequiredFieldError{Field: f.Name, Err: err}
		}
	}
	if err != nil {
		return Value{}, fmt.Errorf("failed to extract field %q: %w", f.Name, err)
	}

	v, err := f.CleanValue(raw)
	if err != nil {
		return Value{}, err
	}
	return Of(v), nil
}
