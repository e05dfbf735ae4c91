package etl

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var errRemoteNotFound = errors.New("remote: not found")

// fakeRemote is an in-memory remote service. Listings are served one item
// per page so tests can count how far a listing was read.
type fakeRemote struct {
	rows   []Payload
	nextID float64

	pagesServed int
	creates     []Payload
	updates     []Payload
}

func (f *fakeRemote) matching(q Query) []Payload {
	var out []Payload
	for _, row := range f.rows {
		ok := true
		for k, v := range q {
			if row[k] != v {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out
}

func (f *fakeRemote) ListPage(ctx context.Context, q Query) (Page, error) {
	return f.page(f.matching(q), 0), nil
}

func (f *fakeRemote) page(rows []Payload, i int) Page {
	f.pagesServed++
	if i >= len(rows) {
		return Page{}
	}
	p := Page{Items: []Payload{copyPayload(rows[i])}}
	if i+1 < len(rows) {
		p.Next = func(ctx context.Context) (Page, error) {
			return f.page(rows, i+1), nil
		}
	}
	return p
}

func (f *fakeRemote) Create(ctx context.Context, p Payload) (Payload, error) {
	f.creates = append(f.creates, p)
	f.nextID++
	row := copyPayload(p)
	row["id"] = f.nextID
	f.rows = append(f.rows, row)
	return copyPayload(row), nil
}

func (f *fakeRemote) Retrieve(ctx context.Context, id any) (Payload, error) {
	for _, row := range f.rows {
		if row["id"] == id {
			return copyPayload(row), nil
		}
	}
	return nil, errRemoteNotFound
}

func (f *fakeRemote) Update(ctx context.Context, id any, p Payload) (Payload, error) {
	f.updates = append(f.updates, p)
	for _, row := range f.rows {
		if row["id"] == id {
			for k, v := range p {
				row[k] = v
			}
			return copyPayload(row), nil
		}
	}
	return nil, errRemoteNotFound
}

func (f *fakeRemote) Delete(ctx context.Context, id any) error {
	for i, row := range f.rows {
		if row["id"] == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return errRemoteNotFound
}

func copyPayload(p Payload) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func userSchema() *Schema {
	return MustSchema("user", "id",
		Field{Name: "id"},
		Field{Name: "email", Required: true},
		Field{Name: "name"},
		Field{Name: "team", Default: Of("core")},
	)
}

func newFakeResource(rows ...Payload) (*Resource, *fakeRemote) {
	remote := &fakeRemote{rows: rows, nextID: float64(len(rows))}
	return NewResource(userSchema(), remote), remote
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	r, remote := newFakeResource(
		Payload{"id": 1.0, "email": "a@x", "team": "core"},
		Payload{"id": 2.0, "email": "b@x", "team": "ops"},
		Payload{"id": 3.0, "email": "c@x", "team": "ops"},
		Payload{"id": 4.0, "email": "d@x", "team": "ops"},
	)

	t.Run("none", func(t *testing.T) {
		_, err := Get(ctx, r, Query{"team": "nobody"})
		if !errors.Is(err, ErrDoesNotExist) {
			t.Errorf("expected ErrDoesNotExist, got %v", err)
		}
	})

	t.Run("one", func(t *testing.T) {
		obj, err := Get(ctx, r, Query{"team": "core"})
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if obj.MustGet("email") != "a@x" {
			t.Errorf("email = %v, want a@x", obj.MustGet("email"))
		}
	})

	t.Run("many reads one past the first", func(t *testing.T) {
		remote.pagesServed = 0
		_, err := Get(ctx, r, Query{"team": "ops"})
		if !errors.Is(err, ErrMultipleObjectsReturned) {
			t.Fatalf("expected ErrMultipleObjectsReturned, got %v", err)
		}
		if remote.pagesServed != 2 {
			t.Errorf("pages served = %d, want 2", remote.pagesServed)
		}
	})
}

func TestList_MultiPage(t *testing.T) {
	r, _ := newFakeResource(
		Payload{"id": 1.0, "email": "a@x"},
		Payload{"id": 2.0, "email": "b@x"},
		Payload{"id": 3.0, "email": "c@x"},
	)
	it := r.List(context.Background(), nil)
	objs, err := it.Collect()
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	var emails []string
	for _, o := range objs {
		emails = append(emails, o.MustGet("email").(string))
	}
	if diff := cmp.Diff([]string{"a@x", "b@x", "c@x"}, emails); diff != "" {
		t.Errorf("emails mismatch (-want +got):\n%s", diff)
	}
	if it.Pages() != 3 {
		t.Errorf("Pages() = %d, want 3", it.Pages())
	}
	if it.Next() {
		t.Error("exhausted iterator must stay exhausted")
	}
}

func TestList_Cancelled(t *testing.T) {
	r, _ := newFakeResource(Payload{"id": 1.0, "email": "a@x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := r.List(ctx, nil)
	if it.Next() {
		t.Fatal("expected no items from a cancelled listing")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", it.Err())
	}
}

func TestList_NotSupported(t *testing.T) {
	r := NewResource(userSchema(), struct{}{})
	it := r.List(context.Background(), nil)
	if it.Next() || !errors.Is(it.Err(), ErrNotSupported) {
		t.Errorf("expected ErrNotSupported, got %v", it.Err())
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	r, remote := newFakeResource()

	obj, err := r.New(map[string]any{"email": "n@x"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := r.Create(ctx, obj); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if obj.IsLocalOnly() || obj.IsEdited() {
		t.Errorf("created object should be synced, got %s edited=%v", obj, obj.EditedFields())
	}
	if diff := cmp.Diff(Payload{"email": "n@x", "team": "core"}, remote.creates[0]); diff != "" {
		t.Errorf("create payload mismatch (-want +got):\n%s", diff)
	}

	if err := r.Create(ctx, obj); !errors.Is(err, ErrPrecondition) {
		t.Errorf("second Create() should violate precondition, got %v", err)
	}

	if err := r.Duplicate(ctx, obj); err != nil {
		t.Fatalf("Duplicate() failed: %v", err)
	}
	if id, _ := obj.RemoteID(); id != 2.0 {
		t.Errorf("duplicate id = %v, want 2", id)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	r, remote := newFakeResource(Payload{"id": 1.0, "email": "a@x", "name": "A", "team": "core"})

	obj, err := r.Retrieve(ctx, 1.0)
	if err != nil {
		t.Fatalf("Retrieve() failed: %v", err)
	}
	if err := r.Update(ctx, obj, All); !errors.Is(err, ErrPrecondition) {
		t.Errorf("Update() without edits should violate precondition, got %v", err)
	}

	_ = obj.Set("name", "B")
	_ = obj.Set("team", "ops")
	if err := r.Update(ctx, obj, Only("name")); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if diff := cmp.Diff(Payload{"name": "B"}, remote.updates[0]); diff != "" {
		t.Errorf("update payload mismatch (-want +got):\n%s", diff)
	}
	// the reload replaces the unsent local edit
	if obj.MustGet("team") != "core" {
		t.Errorf("team = %v, want core after reload", obj.MustGet("team"))
	}

	local, _ := r.New(map[string]any{"email": "z@x"})
	if err := r.Update(ctx, local, All); !errors.Is(err, ErrPrecondition) {
		t.Errorf("Update() on local-only object should violate precondition, got %v", err)
	}
}

func TestRefresh_Vanished(t *testing.T) {
	ctx := context.Background()
	r, _ := newFakeResource(Payload{"id": 1.0, "email": "a@x"})
	obj, err := r.Retrieve(ctx, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, obj); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := r.Refresh(ctx, obj); !errors.Is(err, errRemoteNotFound) {
		t.Errorf("Refresh() = %v, want not found", err)
	}
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	r, remote := newFakeResource(Payload{"id": 1.0, "email": "a@x", "team": "core"})

	obj, created, err := GetOrCreate(ctx, r, nil, map[string]any{"email": "a@x"})
	if err != nil || created {
		t.Fatalf("GetOrCreate(existing) = %v, created=%v, err=%v", obj, created, err)
	}

	obj, created, err = GetOrCreate(ctx, r, map[string]any{"team": "ops"}, map[string]any{"email": "b@x"})
	if err != nil || !created {
		t.Fatalf("GetOrCreate(new) created=%v, err=%v", created, err)
	}
	if obj.MustGet("team") != "ops" || len(remote.creates) != 1 {
		t.Errorf("unexpected create: %v, creates=%d", obj.Attributes(), len(remote.creates))
	}

	// a second call finds what the first created
	_, created, err = GetOrCreate(ctx, r, map[string]any{"team": "ops"}, map[string]any{"email": "b@x"})
	if err != nil || created {
		t.Errorf("GetOrCreate(repeat) created=%v, err=%v", created, err)
	}
}

func TestGetOrCreate_Multiple(t *testing.T) {
	r, remote := newFakeResource(
		Payload{"id": 1.0, "email": "a@x", "team": "ops"},
		Payload{"id": 2.0, "email": "b@x", "team": "ops"},
	)
	_, _, err := GetOrCreate(context.Background(), r, nil, map[string]any{"team": "ops"})
	if !errors.Is(err, ErrMultipleObjectsReturned) {
		t.Errorf("expected ErrMultipleObjectsReturned, got %v", err)
	}
	if len(remote.creates) != 0 {
		t.Error("nothing should be created")
	}
}

func TestUpdateOrCreate(t *testing.T) {
	ctx := context.Background()
	r, remote := newFakeResource(Payload{"id": 1.0, "email": "a@x", "name": "A", "team": "core"})

	obj, created, err := UpdateOrCreate(ctx, r, map[string]any{"name": "A"}, map[string]any{"email": "a@x"})
	if err != nil || created {
		t.Fatalf("UpdateOrCreate(unchanged) created=%v err=%v", created, err)
	}
	if len(remote.updates) != 0 {
		t.Errorf("unchanged defaults should not update, got %d updates", len(remote.updates))
	}

	obj, created, err = UpdateOrCreate(ctx, r, map[string]any{"name": "B", "bogus": 1}, map[string]any{"email": "a@x"})
	if err != nil || created {
		t.Fatalf("UpdateOrCreate(changed) created=%v err=%v", created, err)
	}
	if diff := cmp.Diff([]Payload{{"name": "B"}}, remote.updates); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
	if obj.MustGet("name") != "B" {
		t.Errorf("name = %v, want B", obj.MustGet("name"))
	}

	_, created, err = UpdateOrCreate(ctx, r, map[string]any{"name": "C"}, map[string]any{"email": "c@x"})
	if err != nil || !created {
		t.Errorf("UpdateOrCreate(missing) created=%v err=%v", created, err)
	}
}

func ExampleGetOrCreate() {
	remote := &fakeRemote{}
	users := NewResource(userSchema(), remote)

	u, created, err := GetOrCreate(context.Background(), users,
		map[string]any{"name": "Ada"},
		map[string]any{"email": "ada@example.com"})
	if err != nil {
		panic(err)
	}
	fmt.Println(u, created, u.MustGet("team"))
	// Output: user(1) true core
}
