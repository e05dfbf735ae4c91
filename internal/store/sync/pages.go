package sync

import (
	"context"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
)

// PageSource yields the pages of a remote listing in order.
type PageSource interface {
	// NextPage returns the next page. ok is false once the listing is
	// exhausted.
	NextPage(ctx context.Context) (items []etl.Payload, ok bool, err error)
}

// PageSourceFunc adapts a function to PageSource.
type PageSourceFunc func(ctx context.Context) ([]etl.Payload, bool, error)

func (f PageSourceFunc) NextPage(ctx context.Context) ([]etl.Payload, bool, error) {
	return f(ctx)
}

// PageFetcher fetches numbered pages of a listing.
type PageFetcher interface {
	FetchPage(ctx context.Context, q etl.Query, n int) ([]etl.Payload, error)
}

// Remote is what a pull needs from a remote client.
type Remote interface {
	etl.Lister
	PageFetcher
}

type listingPages struct {
	lister  etl.Lister
	query   etl.Query
	next    etl.NextFunc
	started bool
}

// ListingPages follows the continuation links of lister's listing.
func ListingPages(lister etl.Lister, q etl.Query) PageSource {
	return &listingPages{lister: lister, query: q}
}

func (l *listingPages) NextPage(ctx context.Context) ([]etl.Payload, bool, error) {
	var (
		page etl.Page
		err  error
	)
	switch {
	case !l.started:
		l.started = true
		page, err = l.lister.ListPage(ctx, l.query)
	case l.next != nil:
		page, err = l.next(ctx)
	default:
		return nil, false, nil
	}
	if err != nil {
		l.next = nil
		return nil, false, err
	}
	l.next = page.Next
	return page.Items, true, nil
}

type numberedPages struct {
	fetcher PageFetcher
	query   etl.Query
	n       int
	done    bool
}

// NumberedPages fetches pages start, start+1, ... and stops at the first
// empty page.
func NumberedPages(fetcher PageFetcher, q etl.Query, start int) PageSource {
	if start < 1 {
		start = 1
	}
	return &numberedPages{fetcher: fetcher, query: q, n: start}
}

func (p *numberedPages) NextPage(ctx context.Context) ([]etl.Payload, bool, error) {
	if p.done {
		return nil, false, nil
	}
	items, err := p.fetcher.FetchPage(ctx, p.query, p.n)
	if err != nil {
		p.done = true
		return nil, false, err
	}
	if len(items) == 0 {
		p.done = true
		return nil, false, nil
	}
	p.n++
	return items, true, nil
}

// SlicePages serves pages from memory.
func SlicePages(pages ...[]etl.Payload) PageSource {
	i := 0
	return PageSourceFunc(func(context.Context) ([]etl.Payload, bool, error) {
		if i >= len(pages) {
			return nil, false, nil
		}
		i++
		return pages[i-1], true, nil
	})
}
