package etl

import (
	"errors"
	"strings"
	"testing"
)

func TestFieldExtractRaw(t *testing.T) {
	p := Payload{"title": "Hello", "headline": "Hi", "n": 3.0}

	tests := []struct {
		name  string
		field Field
		want  any
	}{
		{"by name", Field{Name: "title"}, "Hello"},
		{"by key", Field{Name: "title", Key: "headline"}, "Hi"},
		{"by func", Field{Name: "title", Extract: func(p Payload) (any, error) {
			return strings.ToUpper(p["title"].(string)), nil
		}}, "HELLO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.field.ExtractRaw(p)
			if err != nil {
				t.Fatalf("ExtractRaw() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractRaw() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFieldExtractRaw_KeyNotFound(t *testing.T) {
	f := Field{Name: "missing"}
	_, err := f.ExtractRaw(Payload{})
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestFieldCleanValue(t *testing.T) {
	f := Field{Name: "slug", Clean: func(v any) (any, error) {
		return strings.TrimSpace(v.(string)), nil
	}}
	got, err := f.CleanValue("  a  ")
	if err != nil {
		t.Fatalf("CleanValue() failed: %v", err)
	}
	if got != "a" {
		t.Errorf("CleanValue() = %q, want %q", got, "a")
	}

	plain := Field{Name: "x"}
	if got, _ := plain.CleanValue(42); got != 42 {
		t.Errorf("CleanValue() without Clean = %v, want passthrough", got)
	}
}

func TestFieldETL_Policies(t *testing.T) {
	empty := Payload{}

	v, err := (&Field{Name: "a", Default: Of("d")}).ETL(empty)
	if err != nil || !v.IsPresent() || v.String() != "d" {
		t.Errorf("default: got %v, %v", v, err)
	}

	v, err = (&Field{Name: "a"}).ETL(empty)
	if err != nil || !v.IsMissing() {
		t.Errorf("optional: got %v, %v; want MISSING", v, err)
	}

	_, err = (&Field{Name: "a", Required: true}).ETL(empty)
	var missing *MissingRequiredFieldError
	if !errors.As(err, &missing) || missing.Field != "a" {
		t.Fatalf("required: got %v, want *MissingRequiredFieldError", err)
	}
	if !errors.Is(err, ErrMissingRequiredField) || !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("required: error should match ErrMissingRequiredField and ErrKeyNotFound: %v", err)
	}
}

func TestFieldETL_CleanError(t *testing.T) {
	boom := errors.New("boom")
	f := Field{Name: "a", Clean: func(any) (any, error) { return nil, boom }}
	if _, err := f.ETL(Payload{"a": 1}); !errors.Is(err, boom) {
		t.Errorf("expected clean error to propagate, got %v", err)
	}
}

func TestValueStates(t *testing.T) {
	if NoValue.IsProvided() {
		t.Error("zero Value should be NotProvided")
	}
	if !MissingValue.IsMissing() || MissingValue.IsPresent() {
		t.Error("MissingValue should only be missing")
	}
	nilVal := Of(nil)
	if v, ok := nilVal.Get(); !ok || v != nil {
		t.Error("Of(nil) should be a present nil")
	}
	if NoValue.String() == MissingValue.String() {
		t.Error("markers should render differently")
	}
}

func TestSelector(t *testing.T) {
	s := MustSchema("thing", "", Field{Name: "a"}, Field{Name: "b"})
	if got := All.Names(s); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("All.Names() = %v", got)
	}
	if got := Only("b").Names(s); len(got) != 1 || got[0] != "b" {
		t.Errorf("Only(b).Names() = %v", got)
	}
	if Only().IsAll() {
		t.Error("Only() must not be All")
	}
}

func TestNewSchema_Errors(t *testing.T) {
	if _, err := NewSchema("x", "", Field{Name: "a"}, Field{Name: "a"}); err == nil {
		t.Error("expected duplicate field error")
	}
	if _, err := NewSchema("x", "id", Field{Name: "a"}); err == nil {
		t.Error("expected undeclared id field error")
	}
	if _, err := NewSchema("x", "", Field{}); err == nil {
		t.Error("expected empty name error")
	}
}
