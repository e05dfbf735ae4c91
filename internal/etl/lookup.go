package etl

import (
	"context"
	"errors"
)

// Get returns the only object matching q. It reads at most one object past
// the first, so a large listing is never drained.
func Get(ctx context.Context, l Listable, q Query) (*Object, error) {
	it := l.List(ctx, q)
	if !it.Next() {
		if err := it.Err(); err != nil {
			return nil, err
		}
		return nil, ErrDoesNotExist
	}
	obj := it.Object()
	if it.Next() {
		return nil, ErrMultipleObjectsReturned
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return obj, nil
}

// GetOrCreate looks up the object matching filter and creates it from
// filter and defaults when there is none. ErrMultipleObjectsReturned is
// passed through. created reports whether a remote create happened.
func GetOrCreate(ctx context.Context, r ListCreatable, defaults, filter map[string]any) (obj *Object, created bool, err error) {
	obj, err = Get(ctx, r, Query(filter))
	if err == nil {
		return obj, false, nil
	}
	if !errors.Is(err, ErrDoesNotExist) {
		return nil, false, err
	}
	obj, err = createFrom(ctx, r, defaults, filter)
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// UpdateOrCreate looks up the object matching filter. A match gets the
// declared defaults applied and pushed with an update limited to those
// fields; no match is created as in GetOrCreate. A match that the defaults
// leave unchanged is returned without a remote call.
func UpdateOrCreate(ctx context.Context, r ListCreateUpdatable, defaults, filter map[string]any) (obj *Object, created bool, err error) {
	obj, err = Get(ctx, r, Query(filter))
	switch {
	case err == nil:
		applied := obj.Apply(defaults)
		if len(applied) == 0 || !obj.IsEdited() {
			return obj, false, nil
		}
		if err := r.Update(ctx, obj, Only(applied...)); err != nil {
			return nil, false, err
		}
		return obj, false, nil
	case errors.Is(err, ErrDoesNotExist):
		obj, err = createFrom(ctx, r, defaults, filter)
		if err != nil {
			return nil, false, err
		}
		return obj, true, nil
	default:
		return nil, false, err
	}
}

func createFrom(ctx context.Context, r Creatable, defaults, filter map[string]any) (*Object, error) {
	kwargs := make(map[string]any, len(filter)+len(defaults))
	for k, v := range filter {
		kwargs[k] = v
	}
	for k, v := range defaults {
		kwargs[k] = v
	}
	obj, err := r.New(kwargs)
	if err != nil {
		return nil, err
	}
	if err := r.Create(ctx, obj); err != nil {
		return nil, err
	}
	return obj, nil
}
