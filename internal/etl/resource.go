package etl

import (
	"context"
	"fmt"
)

// PayloadFunc renders the body sent to the remote service for a create or
// an update of the selected fields.
type PayloadFunc func(o *Object, sel Selector) (Payload, error)

// Resource binds a schema to a remote client. Every operation delegates to
// the client capability it needs and fails with ErrNotSupported when the
// client does not implement it.
type Resource struct {
	schema *Schema
	client any

	// CreatePayload and UpdatePayload override the default rendering, which
	// is Object.Payload.
	CreatePayload PayloadFunc
	UpdatePayload PayloadFunc
}

// NewResource returns a Resource for objects of schema s backed by client.
// client should implement at least one of Lister, Creator, Retriever,
// Updater or Deleter.
func NewResource(s *Schema, client any) *Resource {
	return &Resource{schema: s, client: client}
}

func (r *Resource) Schema() *Schema { return r.schema }

func (r *Resource) notSupported(op string) error {
	return fmt.Errorf("%s %s: %w", op, r.schema.name, ErrNotSupported)
}

// New builds a local-only object from explicit values.
func (r *Resource) New(kwargs map[string]any) (*Object, error) {
	return FromKwargs(r.schema, kwargs)
}

// List returns a lazy iterator over the remote listing matching q.
func (r *Resource) List(ctx context.Context, q Query) *Iterator {
	lister, ok := r.client.(Lister)
	if !ok {
		it := newIterator(ctx, r.schema, nil)
		it.finish(r.notSupported("list"))
		return it
	}
	return newIterator(ctx, r.schema, func(ctx context.Context) (Page, error) {
		return lister.ListPage(ctx, q)
	})
}

// Create creates a local-only object remotely and reloads it from the
// response.
func (r *Resource) Create(ctx context.Context, o *Object) error {
	if !o.IsLocalOnly() {
		return &PreconditionError{Op: "create", Reason: fmt.Sprintf("%s already exists remotely", o)}
	}
	return r.create(ctx, o)
}

// Duplicate creates a new remote copy of an object that already exists
// remotely. The object is reloaded as the copy.
func (r *Resource) Duplicate(ctx context.Context, o *Object) error {
	if o.IsLocalOnly() {
		return &PreconditionError{Op: "duplicate", Reason: fmt.Sprintf("%s is local-only", o)}
	}
	return r.create(ctx, o)
}

func (r *Resource) create(ctx context.Context, o *Object) error {
	creator, ok := r.client.(Creator)
	if !ok {
		return r.notSupported("create")
	}
	render := r.CreatePayload
	if render == nil {
		render = (*Object).Payload
	}
	body, err := render(o, All)
	if err != nil {
		return err
	}
	resp, err := creator.Create(ctx, body)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", r.schema.name, err)
	}
	return o.Load(resp)
}

// Update pushes the selected fields of an edited, remote-backed object and
// reloads it from the response.
func (r *Resource) Update(ctx context.Context, o *Object, sel Selector) error {
	id, ok := o.RemoteID()
	if !ok {
		return &PreconditionError{Op: "update", Reason: fmt.Sprintf("%s is local-only", o)}
	}
	if !o.IsEdited() {
		return &PreconditionError{Op: "update", Reason: fmt.Sprintf("%s has no edits", o)}
	}
	updater, ok := r.client.(Updater)
	if !ok {
		return r.notSupported("update")
	}
	render := r.UpdatePayload
	if render == nil {
		render = (*Object).Payload
	}
	body, err := render(o, sel)
	if err != nil {
		return err
	}
	resp, err := updater.Update(ctx, id, body)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", o, err)
	}
	return o.Load(resp)
}

// Retrieve fetches one object by remote id.
func (r *Resource) Retrieve(ctx context.Context, id any) (*Object, error) {
	retriever, ok := r.client.(Retriever)
	if !ok {
		return nil, r.notSupported("retrieve")
	}
	resp, err := retriever.Retrieve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s(%v): %w", r.schema.name, id, err)
	}
	return FromRaw(r.schema, resp)
}

// Refresh re-fetches an object and reloads it. A record that vanished
// upstream surfaces as the client's not-found error.
func (r *Resource) Refresh(ctx context.Context, o *Object) error {
	id, ok := o.RemoteID()
	if !ok {
		return &PreconditionError{Op: "refresh", Reason: fmt.Sprintf("%s is local-only", o)}
	}
	retriever, ok := r.client.(Retriever)
	if !ok {
		return r.notSupported("refresh")
	}
	resp, err := retriever.Retrieve(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", o, err)
	}
	return o.Load(resp)
}

// Delete removes the object remotely. Local state is left as is.
func (r *Resource) Delete(ctx context.Context, o *Object) error {
	id, ok := o.RemoteID()
	if !ok {
		return &PreconditionError{Op: "delete", Reason: fmt.Sprintf("%s is local-only", o)}
	}
	deleter, ok := r.client.(Deleter)
	if !ok {
		return r.notSupported("delete")
	}
	if err := deleter.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", o, err)
	}
	return nil
}
