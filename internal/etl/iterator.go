package etl

import "context"

// Iterator walks a remote listing one page at a time. It is finite and
// single-pass; once Next returns false it stays exhausted.
type Iterator struct {
	ctx    context.Context
	schema *Schema

	fetch NextFunc
	items []Payload
	pos   int
	pages int

	cur  *Object
	err  error
	done bool
}

func newIterator(ctx context.Context, s *Schema, first NextFunc) *Iterator {
	return &Iterator{ctx: ctx, schema: s, fetch: first}
}

// Next advances to the next object, fetching the following page when the
// current one is drained.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	for it.pos >= len(it.items) {
		if it.fetch == nil {
			it.finish(nil)
			return false
		}
		if err := it.ctx.Err(); err != nil {
			it.finish(err)
			return false
		}
		page, err := it.fetch(it.ctx)
		if err != nil {
			it.finish(err)
			return false
		}
		it.pages++
		it.items, it.pos, it.fetch = page.Items, 0, page.Next
	}

	obj, err := FromRaw(it.schema, it.items[it.pos])
	if err != nil {
		it.finish(err)
		return false
	}
	it.pos++
	it.cur = obj
	return true
}

func (it *Iterator) finish(err error) {
	it.done = true
	it.cur = nil
	it.items = nil
	it.fetch = nil
	it.err = err
}

// Object returns the object Next advanced to.
func (it *Iterator) Object() *Object { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Pages returns how many pages have been fetched so far.
func (it *Iterator) Pages() int { return it.pages }

// Collect drains the iterator.
func (it *Iterator) Collect() ([]*Object, error) {
	var out []*Object
	for it.Next() {
		out = append(out, it.Object())
	}
	return out, it.Err()
}
