package etl

import "context"

// Query carries list filters to the remote service.
type Query map[string]any

// NextFunc fetches the page that follows the one it was returned with.
type NextFunc func(ctx context.Context) (Page, error)

// Page is one page of a remote listing. Next is nil on the last page.
type Page struct {
	Raw   Payload
	Items []Payload
	Next  NextFunc
}

// Remote client capabilities. A client implements the subset its API offers.
type (
	Lister interface {
		ListPage(ctx context.Context, q Query) (Page, error)
	}

	Creator interface {
		Create(ctx context.Context, p Payload) (Payload, error)
	}

	Retriever interface {
		Retrieve(ctx context.Context, id any) (Payload, error)
	}

	Updater interface {
		Update(ctx context.Context, id any, p Payload) (Payload, error)
	}

	Deleter interface {
		Delete(ctx context.Context, id any) error
	}
)

// Entity-side capabilities, implemented by *Resource.
type (
	Listable interface {
		List(ctx context.Context, q Query) *Iterator
	}

	Creatable interface {
		New(kwargs map[string]any) (*Object, error)
		Create(ctx context.Context, o *Object) error
		Duplicate(ctx context.Context, o *Object) error
	}

	Retrievable interface {
		Retrieve(ctx context.Context, id any) (*Object, error)
		Refresh(ctx context.Context, o *Object) error
	}

	Updatable interface {
		Update(ctx context.Context, o *Object, sel Selector) error
	}

	Deletable interface {
		Delete(ctx context.Context, o *Object) error
	}

	ListCreatable interface {
		Listable
		Creatable
	}

	ListCreateUpdatable interface {
		Listable
		Creatable
		Updatable
	}
)
