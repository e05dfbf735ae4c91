package sync

import (
	"context"
	"time"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
	"github.com/kaoslabsinc/remote-resources/internal/store/timeseries"
)

// Syncer keeps the local store in sync with the remote service.
//
// A Syncer is not safe for concurrent writes; callers that run it from
// several goroutines serialize the calls, as the daemon does.
type Syncer interface {
	// Pull downloads the configured resource's listing into its table.
	//
	// The listing window comes from the resource's ordering column and
	// opts.Mode. Each page is committed before the next is requested; on
	// error the returned report holds the pages committed so far.
	//
	// Example:
	//   report, err := syncer.Pull(ctx, "posts", sync.PullOptions{MaxPages: 10})
	Pull(ctx context.Context, resource string, opts PullOptions) (*Report, error)

	// Process ETLs the unprocessed raw items into their resource tables,
	// committing every batchSize items. The item source names the resource.
	Process(ctx context.Context, batchSize int) (int, error)

	// RefreshCache recomputes the cached properties of a resource and
	// returns the number of rows refreshed.
	RefreshCache(ctx context.Context, resource string) (int64, error)

	// FullSync pulls every resource, processes raw items and refreshes
	// every cache. Individual resource failures are logged and do not stop
	// the sync; they are joined into the returned error.
	FullSync(ctx context.Context, opts PullOptions, batchSize int) error

	// Subscribe registers an observer of sync events.
	Subscribe(o Observer)
}

// PullOptions configures one pull.
type PullOptions struct {
	// Mode picks the window (pull, fill or refresh; empty = pull)
	Mode timeseries.Mode
	// MaxPages stops after that many committed pages (0 = no limit)
	MaxPages int
	// Since replaces the lower bound of a timestamp-ordered window
	Since time.Time
	// StartPage switches to numbered pagination from that page (0 = follow
	// continuation links)
	StartPage int
	// Query holds extra listing filters; the window parameters override it
	Query etl.Query
	// RefreshUnordered pulls a resource without an ordering field in
	// refresh mode instead of failing with timeseries.ErrNoOrdering
	RefreshUnordered bool
}

// Report summarizes a pull.
type Report struct {
	RunID    string
	Resource string
	Mode     timeseries.Mode
	Window   string
	Pages    []PageResult
	Inserted int
	Updated  int
}

// Rows returns the number of rows written.
func (r *Report) Rows() int { return r.Inserted + r.Updated }
