package sync

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
	"github.com/kaoslabsinc/remote-resources/internal/store/db"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
)

// PageResult is one committed page.
type PageResult struct {
	// Number counts pages of this download from 1
	Number int
	// Keys are the match keys of the page's records in page order
	Keys     []any
	Inserted int
	Updated  int
}

// Downloader stores the pages of a resource listing.
type Downloader struct {
	db       *db.DB
	resource *schema.Resource
	logger   *log.Logger
	now      func() time.Time

	// OnPage, when set, is called after each committed page.
	OnPage func(PageResult)
}

// NewDownloader returns a downloader for r. If logger is nil, a default
// logger writing to stderr is used.
func NewDownloader(database *db.DB, r *schema.Resource, logger *log.Logger) *Downloader {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Downloader{db: database, resource: r, logger: logger, now: time.Now}
}

// Download returns an iterator that requests, stores and commits one page
// per call to Next. maxPages > 0 stops after that many committed pages.
func (d *Downloader) Download(ctx context.Context, src PageSource, maxPages int) *PageIterator {
	return &PageIterator{ctx: ctx, d: d, src: src, maxPages: maxPages}
}

// DownloadAll drains Download and returns the committed pages. On error the
// pages committed before the failure are returned with it.
func (d *Downloader) DownloadAll(ctx context.Context, src PageSource, maxPages int) ([]PageResult, error) {
	it := d.Download(ctx, src, maxPages)
	var out []PageResult
	for it.Next() {
		out = append(out, it.Result())
	}
	return out, it.Err()
}

func (d *Downloader) store(ctx context.Context, number int, items []etl.Payload) (PageResult, error) {
	result := PageResult{Number: number}
	records := make([]*schema.Record, 0, len(items))
	for _, item := range items {
		rec, err := d.resource.MapRecord(item)
		if err != nil {
			return result, err
		}
		records = append(records, rec)
		result.Keys = append(result.Keys, rec.Key)
	}

	err := d.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := db.BulkUpsert(ctx, tx, d.resource, records, d.now())
		if err != nil {
			return err
		}
		result.Inserted, result.Updated = res.Inserted, res.Updated
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// PageIterator is a finite single-pass walk over downloaded pages.
type PageIterator struct {
	ctx      context.Context
	d        *Downloader
	src      PageSource
	maxPages int

	pages int
	cur   PageResult
	err   error
	done  bool
}

// Next fetches and commits the next page. It returns false when the listing
// is exhausted, maxPages is reached or a page fails.
func (it *PageIterator) Next() bool {
	if it.done {
		return false
	}
	if it.maxPages > 0 && it.pages >= it.maxPages {
		return it.finish(nil)
	}
	if err := it.ctx.Err(); err != nil {
		return it.finish(err)
	}

	number := it.pages + 1
	items, ok, err := it.src.NextPage(it.ctx)
	if err != nil {
		return it.finish(&PageFetchError{Resource: it.d.resource.Name, Page: number, Err: err})
	}
	if !ok {
		return it.finish(nil)
	}

	result, err := it.d.store(it.ctx, number, items)
	if err != nil {
		it.d.logger.Printf("WARNING: page %d of %s rolled back: %v", number, it.d.resource.Name, err)
		return it.finish(&ReconciliationError{Resource: it.d.resource.Name, Page: number, Err: err})
	}

	it.pages = number
	it.cur = result
	it.d.logger.Printf("Committed page %d of %s: %d records (inserted=%d, updated=%d)",
		number, it.d.resource.Name, len(items), result.Inserted, result.Updated)
	if it.d.OnPage != nil {
		it.d.OnPage(result)
	}
	return true
}

func (it *PageIterator) finish(err error) bool {
	it.done = true
	it.err = err
	it.cur = PageResult{}
	return false
}

// Result returns the page Next committed.
func (it *PageIterator) Result() PageResult { return it.cur }

// Err returns the error that stopped the download, if any.
func (it *PageIterator) Err() error { return it.err }

// Pages returns the number of committed pages.
func (it *PageIterator) Pages() int { return it.pages }
