package etl

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func articleSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema("article", "id",
		Field{Name: "id"},
		Field{Name: "title", Required: true},
		Field{Name: "body", Key: "content"},
		Field{Name: "status", Default: Of("draft")},
	)
	if err != nil {
		t.Fatalf("NewSchema() failed: %v", err)
	}
	return s
}

func TestFromRaw_NotEdited(t *testing.T) {
	s := articleSchema(t)
	obj, err := FromRaw(s, Payload{"id": 1.0, "title": "T", "content": "B", "status": "live"})
	if err != nil {
		t.Fatalf("FromRaw() failed: %v", err)
	}
	if !obj.IsLoaded() {
		t.Error("expected object to be loaded")
	}
	if obj.IsLocalOnly() {
		t.Error("object with id should not be local-only")
	}
	if obj.IsEdited() {
		t.Errorf("fresh object should not be edited, edited fields: %v", obj.EditedFields())
	}
	if got := obj.MustGet("body"); got != "B" {
		t.Errorf("body = %v, want B", got)
	}

	if err := obj.Set("title", "T2"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if !obj.IsEdited() {
		t.Error("expected object to be edited after Set")
	}
	if diff := cmp.Diff([]string{"title"}, obj.EditedFields()); diff != "" {
		t.Errorf("EditedFields() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRaw_RequiredMissingLeavesNoObject(t *testing.T) {
	s := articleSchema(t)
	_, err := FromRaw(s, Payload{"id": 1.0})
	if !errors.Is(err, ErrMissingRequiredField) {
		t.Fatalf("expected ErrMissingRequiredField, got %v", err)
	}
}

func TestLoad_IsAtomic(t *testing.T) {
	s := articleSchema(t)
	obj, err := FromRaw(s, Payload{"id": 1.0, "title": "T"})
	if err != nil {
		t.Fatalf("FromRaw() failed: %v", err)
	}
	if err := obj.Load(Payload{"id": 2.0}); err == nil {
		t.Fatal("expected Load to fail without title")
	}
	if id, _ := obj.RemoteID(); id != 1.0 {
		t.Errorf("failed Load changed state: id = %v", id)
	}
}

func TestFromKwargs(t *testing.T) {
	s := articleSchema(t)
	obj, err := FromKwargs(s, map[string]any{"title": "T"})
	if err != nil {
		t.Fatalf("FromKwargs() failed: %v", err)
	}
	if !obj.IsLocalOnly() {
		t.Error("object without id should be local-only")
	}
	if !obj.IsEdited() {
		t.Error("local-only object should be edited")
	}
	if got := obj.MustGet("status"); got != "draft" {
		t.Errorf("status = %v, want default draft", got)
	}
	if _, ok := obj.Get("body"); ok {
		t.Error("body has no default and should be unset")
	}

	if _, err := FromKwargs(s, map[string]any{}); !errors.Is(err, ErrMissingRequiredField) {
		t.Errorf("expected ErrMissingRequiredField, got %v", err)
	}
}

func TestFromObj_RoundTrip(t *testing.T) {
	s := articleSchema(t)
	src := Attrs{"id": 7.0, "title": "T", "status": "live", "undeclared": true}

	obj, err := FromObj(s, src)
	if err != nil {
		t.Fatalf("FromObj() failed: %v", err)
	}
	if _, ok := obj.Get("undeclared"); ok {
		t.Error("undeclared attribute should be dropped")
	}

	again, err := FromKwargs(s, obj.Attributes())
	if err != nil {
		t.Fatalf("FromKwargs() failed: %v", err)
	}
	for _, name := range s.Names() {
		want, ok := src[name]
		if !ok {
			continue
		}
		if got := again.MustGet(name); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestIsEdited_IgnoresMissing(t *testing.T) {
	s := MustSchema("thing", "id", Field{Name: "id"}, Field{Name: "note"})
	obj, err := FromRaw(s, Payload{"id": "x"})
	if err != nil {
		t.Fatalf("FromRaw() failed: %v", err)
	}
	if !obj.Synced("note").IsMissing() {
		t.Fatalf("note should be missing, got %v", obj.Synced("note"))
	}
	if err := obj.Set("note", "hello"); err != nil {
		t.Fatal(err)
	}
	if obj.IsEdited() {
		t.Error("a field never populated must not count as edited")
	}
}

func TestSet_UnknownField(t *testing.T) {
	obj := New(articleSchema(t))
	if err := obj.Set("nope", 1); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestPayload_UsesRemoteKeys(t *testing.T) {
	s := articleSchema(t)
	obj, err := FromKwargs(s, map[string]any{"title": "T", "body": "B"})
	if err != nil {
		t.Fatal(err)
	}
	p, err := obj.Payload(Only("body"))
	if err != nil {
		t.Fatalf("Payload() failed: %v", err)
	}
	if diff := cmp.Diff(Payload{"content": "B"}, p); diff != "" {
		t.Errorf("Payload() mismatch (-want +got):\n%s", diff)
	}
	if _, err := obj.Payload(Only("nope")); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}
