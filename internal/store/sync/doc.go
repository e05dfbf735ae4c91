// Package sync pulls remote listings into the local store.
//
// Overview
//
// A pull walks a remote listing page by page. Every page is mapped through
// the resource's field mapping and bulk-upserted on the resource key column
// inside one transaction, which commits before the page is reported and
// before the next page is requested:
//
//	Remote listing
//	     ├── page 1  → map → BEGIN; upsert; COMMIT → PageResult
//	     ├── page 2  → map → BEGIN; upsert; COMMIT → PageResult
//	     └── ...
//
// A failure rolls back the current page only. Earlier pages stay committed,
// so rerunning a pull resumes where the cursor left off.
//
// Usage
//
//	database, err := db.Open(".rr/rr.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	syncer := sync.New(database, cfg, remotes, nil)
//	report, err := syncer.Pull(ctx, "posts", sync.PullOptions{Mode: timeseries.ModePull})
//
// Lower level, a Downloader runs the page loop over any PageSource:
//
//	d := sync.NewDownloader(database, resource, nil)
//	it := d.Download(ctx, sync.ListingPages(remote, nil), 0)
//	for it.Next() {
//	    fmt.Println(it.Result().Number, it.Result().Inserted)
//	}
//	if err := it.Err(); err != nil {
//	    return err
//	}
//
// Full sync
//
// FullSync pulls every configured resource, processes pending raw items and
// refreshes cached properties. A resource that fails is logged and skipped;
// the failures are joined into the returned error.
package sync
