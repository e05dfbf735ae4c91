package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"maps"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
	"github.com/kaoslabsinc/remote-resources/internal/store/db"
	"github.com/kaoslabsinc/remote-resources/internal/store/propcache"
	"github.com/kaoslabsinc/remote-resources/internal/store/rawitems"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
	"github.com/kaoslabsinc/remote-resources/internal/store/timeseries"
)

// RemoteFunc returns the remote client of a resource.
type RemoteFunc func(r *schema.Resource) (Remote, error)

// syncer implements the Syncer interface.
type syncer struct {
	db        *db.DB
	resources *schema.Config
	remotes   RemoteFunc
	logger    *log.Logger
	observers observers
	now       func() time.Time
}

// New creates a new Syncer instance.
//
// The database must have its schema initialized. remotes may be nil when
// only Process and RefreshCache are used.
//
// If logger is nil, a default logger writing to stderr is used.
func New(database *db.DB, resources *schema.Config, remotes RemoteFunc, logger *log.Logger) Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		db:        database,
		resources: resources,
		remotes:   remotes,
		logger:    logger,
		now:       time.Now,
	}
}

// Subscribe implements Syncer.Subscribe.
func (s *syncer) Subscribe(o Observer) {
	s.observers = append(s.observers, o)
}

func (s *syncer) resource(ctx context.Context, name string) (*schema.Resource, error) {
	r, err := s.resources.Resource(name)
	if err != nil {
		return nil, err
	}
	if err := s.db.EnsureTableContext(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Pull implements Syncer.Pull.
func (s *syncer) Pull(ctx context.Context, name string, opts PullOptions) (*Report, error) {
	r, err := s.resource(ctx, name)
	if err != nil {
		return nil, err
	}
	if s.remotes == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRemote, name)
	}
	remote, err := s.remotes(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client for %s: %w", name, err)
	}

	mode := opts.Mode
	if mode == "" {
		mode = timeseries.ModePull
	}
	if opts.RefreshUnordered && r.OrderingField == "" {
		mode, opts.Since = timeseries.ModeRefresh, time.Time{}
	}
	plan, err := timeseries.PlanFor(ctx, s.db.RawDB(), r, mode, opts.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to plan pull of %s: %w", name, err)
	}
	query := etl.Query{}
	maps.Copy(query, opts.Query)
	maps.Copy(query, plan.Query)

	var src PageSource
	if opts.StartPage > 0 {
		src = NumberedPages(remote, query, opts.StartPage)
	} else {
		src = ListingPages(remote, query)
	}

	run := &db.SyncRun{ID: uuid.NewString(), Resource: name, Mode: string(mode), StartedAt: s.now()}
	if err := s.db.StartRun(ctx, run); err != nil {
		return nil, err
	}
	s.logger.Printf("Starting %s of %s (window %s, run %s)", mode, name, plan.Window, run.ID)
	s.observers.emit(Event{Kind: EventRunStarted, RunID: run.ID, Resource: name, Mode: string(mode)})

	report := &Report{RunID: run.ID, Resource: name, Mode: mode, Window: plan.Window}
	d := NewDownloader(s.db, r, s.logger)
	d.OnPage = func(p PageResult) {
		s.observers.emit(Event{
			Kind: EventPageCommitted, RunID: run.ID, Resource: name, Mode: string(mode),
			Page: p.Number, Inserted: p.Inserted, Updated: p.Updated,
		})
	}
	pages, pullErr := d.DownloadAll(ctx, src, opts.MaxPages)
	report.Pages = pages
	for _, p := range pages {
		report.Inserted += p.Inserted
		report.Updated += p.Updated
	}

	run.Pages, run.Rows, run.FinishedAt = len(pages), report.Rows(), s.now()
	finished := Event{Kind: EventRunFinished, RunID: run.ID, Resource: name, Mode: string(mode),
		Page: len(pages), Inserted: report.Inserted, Updated: report.Updated}
	if pullErr != nil {
		run.Error = pullErr.Error()
		finished.Error = run.Error
	}
	if err := s.db.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Printf("WARNING: %v", err)
	}
	s.observers.emit(finished)

	if pullErr != nil {
		return report, pullErr
	}
	s.logger.Printf("Pull of %s complete: pages=%d, inserted=%d, updated=%d",
		name, len(pages), report.Inserted, report.Updated)
	return report, nil
}

// Process implements Syncer.Process.
func (s *syncer) Process(ctx context.Context, batchSize int) (int, error) {
	fns := make(map[string]rawitems.ProcessFunc, len(s.resources.Resources))
	for _, r := range s.resources.Resources {
		if err := s.db.EnsureTableContext(ctx, r); err != nil {
			return 0, err
		}
		fns[r.Name] = rawitems.ResourceProcessFunc(r)
	}
	dispatch := func(ctx context.Context, tx *sql.Tx, item *rawitems.Item) (rawitems.Ref, error) {
		fn, ok := fns[item.Source]
		if !ok {
			return rawitems.Ref{}, fmt.Errorf("%w: %q", schema.ErrUnknownResource, item.Source)
		}
		return fn(ctx, tx, item)
	}

	p := rawitems.NewProcessor(rawitems.NewStore(s.db), dispatch, s.logger)
	p.OnProgress = func(pr rawitems.Progress) {
		s.observers.emit(Event{Kind: EventBatchCommitted, Page: pr.Batch, Rows: int64(pr.Committed), Total: pr.Total})
	}
	return p.Process(ctx, batchSize)
}

// RefreshCache implements Syncer.RefreshCache.
func (s *syncer) RefreshCache(ctx context.Context, name string) (int64, error) {
	r, err := s.resource(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := propcache.ForResource(s.db, r, s.logger).Refresh(ctx)
	if err != nil {
		return 0, err
	}
	s.observers.emit(Event{Kind: EventCacheRefreshed, Resource: name, Rows: n})
	return n, nil
}

// FullSync implements Syncer.FullSync.
func (s *syncer) FullSync(ctx context.Context, opts PullOptions, batchSize int) error {
	names := s.resources.Names()
	s.logger.Printf("Starting full sync of %d resources", len(names))

	var (
		errs   []error
		pulled int
		failed int
	)
	for _, r := range s.resources.Resources {
		if err := ctx.Err(); err != nil {
			return err
		}
		o := opts
		o.RefreshUnordered = true
		if _, err := s.Pull(ctx, r.Name, o); err != nil {
			s.logger.Printf("WARNING: Failed to pull %s: %v", r.Name, err)
			errs = append(errs, fmt.Errorf("pull %s: %w", r.Name, err))
			failed++
			continue
		}
		pulled++
	}

	processed, err := s.Process(ctx, batchSize)
	if err != nil {
		s.logger.Printf("WARNING: Failed to process raw items: %v", err)
		errs = append(errs, fmt.Errorf("process: %w", err))
	}

	s.logger.Printf("Refreshing cached properties...")
	for _, r := range s.resources.Resources {
		if len(r.Cached) == 0 {
			continue
		}
		if _, err := s.RefreshCache(ctx, r.Name); err != nil {
			s.logger.Printf("WARNING: Failed to refresh cache of %s: %v", r.Name, err)
			errs = append(errs, fmt.Errorf("refresh %s: %w", r.Name, err))
		}
	}

	s.logger.Printf("Full sync complete: resources=%d (failed=%d), raw items processed=%d",
		pulled, failed, processed)
	return errors.Join(errs...)
}
