// Package daemon runs syncs continuously.
//
// The daemon:
// 1. Imports JSONL files dropped into an inbox directory as raw items
// 2. Pulls every resource on an interval
// 3. Processes raw items and refreshes cached properties on intervals
// 4. Handles graceful shutdown
//
// Every store write goes through one mutex, so the single-writer model of
// the store holds even though the loops run concurrently.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kaoslabsinc/remote-resources/internal/store/ingest"
	"github.com/kaoslabsinc/remote-resources/internal/store/rawitems"
	storesync "github.com/kaoslabsinc/remote-resources/internal/store/sync"
)

// ImportedDir and FailedDir are inbox subdirectories imported files move to.
const (
	ImportedDir = "imported"
	FailedDir   = "failed"
)

// Config holds configuration for the daemon. A zero interval disables its
// loop.
type Config struct {
	// Inbox is the directory watched for *.jsonl files
	Inbox string

	// DebounceInterval is how long a file must stay unchanged before it is
	// imported
	DebounceInterval time.Duration

	PullInterval         time.Duration
	ProcessInterval      time.Duration
	CacheRefreshInterval time.Duration

	// Resources are pulled and refreshed in this order. Inbox files whose
	// source is not listed are rejected (empty = accept any source).
	Resources []string

	Pull      storesync.PullOptions
	BatchSize int

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Inbox:                ".rr/inbox",
		DebounceInterval:     250 * time.Millisecond,
		PullInterval:         5 * time.Minute,
		ProcessInterval:      10 * time.Second,
		CacheRefreshInterval: time.Minute,
		BatchSize:            100,
		Logger:               log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates inbox imports, pulls, processing and cache refreshes.
type Daemon struct {
	syncer storesync.Syncer
	store  *rawitems.Store
	config *Config

	watcher       *InboxWatcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	// writeMu serializes every store write
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon with the default configuration.
func New(syncer storesync.Syncer, store *rawitems.Store, resources []string) (*Daemon, error) {
	config := DefaultConfig()
	config.Resources = resources
	return NewWithConfig(syncer, store, config)
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer storesync.Syncer, store *rawitems.Store, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Inbox == "" {
		return nil, fmt.Errorf("inbox cannot be empty")
	}
	if config.DebounceInterval <= 0 {
		return nil, fmt.Errorf("debounce interval must be positive")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := NewInboxWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		syncer:      syncer,
		store:       store,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled.
//
// The daemon will:
// 1. Import files already waiting in the inbox
// 2. Perform a full sync
// 3. Start watching the inbox
// 4. Run the pull, process and cache refresh loops
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")
	stop := context.AfterFunc(ctx, d.cancel)
	defer stop()

	if err := os.MkdirAll(d.config.Inbox, 0755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}
	if err := d.ImportInbox(); err != nil {
		return fmt.Errorf("initial import failed: %w", err)
	}
	d.PerformFullSync()
	if ctx.Err() != nil {
		d.config.Logger.Println("Shutdown signal received during initial sync")
		return d.Stop()
	}

	if err := d.watcher.Start(d.config.Inbox); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.config.Inbox)

	d.wg.Add(2)
	go d.watchInbox()
	go d.processChangeQueue()
	d.every(d.config.PullInterval, "pull", d.pullAll)
	d.every(d.config.ProcessInterval, "process", d.process)
	d.every(d.config.CacheRefreshInterval, "cache refresh", d.refreshCaches)

	<-d.ctx.Done()
	if ctx.Err() != nil {
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	}
	return nil
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// PerformFullSync pulls, processes and refreshes everything once. Failures
// are logged; the daemon keeps running.
func (d *Daemon) PerformFullSync() {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.config.Logger.Println("Performing full sync")
	if err := d.syncer.FullSync(d.ctx, d.config.Pull, d.config.BatchSize); err != nil {
		d.config.Logger.Printf("Warning: full sync finished with errors: %v", err)
	}
}

// ImportInbox imports every *.jsonl file already in the inbox, oldest
// name first.
func (d *Daemon) ImportInbox() error {
	paths, err := filepath.Glob(filepath.Join(d.config.Inbox, "*.jsonl"))
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, path := range paths {
		d.importFile(path)
	}
	return nil
}

// every runs fn on a ticker until the daemon stops.
func (d *Daemon) every(interval time.Duration, name string, fn func() error) {
	if interval <= 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
					d.config.Logger.Printf("Error in %s: %v", name, err)
				}
			}
		}
	}()
}

func (d *Daemon) watchInbox() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Inbox event: %s %s", event.Op, event.Path)
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been quiet for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		d.importFile(path)
	}
}

// importFile imports one inbox file and moves it to the imported or failed
// subdirectory.
func (d *Daemon) importFile(path string) {
	d.writeMu.Lock()
	result, err := ingest.Import(d.ctx, d.store, ingest.Options{Path: path, Sources: d.config.Resources})
	d.writeMu.Unlock()

	dest := ImportedDir
	if err != nil {
		d.config.Logger.Printf("Error importing %s: %v", path, err)
		dest = FailedDir
	} else {
		d.config.Logger.Printf("Imported %d %s items from %s", result.Added, result.Source, filepath.Base(path))
	}

	dir := filepath.Join(d.config.Inbox, dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		d.config.Logger.Printf("Error creating %s: %v", dir, err)
		return
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		d.config.Logger.Printf("Error moving %s: %v", path, err)
	}
}

func (d *Daemon) pullAll() error {
	var errs []error
	for _, name := range d.config.Resources {
		if d.ctx.Err() != nil {
			break
		}
		opts := d.config.Pull
		opts.RefreshUnordered = true
		d.writeMu.Lock()
		_, err := d.syncer.Pull(d.ctx, name, opts)
		d.writeMu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("pull %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Daemon) process() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	_, err := d.syncer.Process(d.ctx, d.config.BatchSize)
	return err
}

func (d *Daemon) refreshCaches() error {
	var errs []error
	for _, name := range d.config.Resources {
		d.writeMu.Lock()
		_, err := d.syncer.RefreshCache(d.ctx, name)
		d.writeMu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
