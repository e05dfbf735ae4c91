package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
	storesync "github.com/kaoslabsinc/remote-resources/internal/store/sync"
	"github.com/kaoslabsinc/remote-resources/internal/store/timeseries"
	"github.com/kaoslabsinc/remote-resources/internal/ui"
)

var pullCmd = &cobra.Command{
	Use:     "pull [resource...]",
	GroupID: "sync",
	Short:   "Download remote listings into the local tables",
	Long: `Pull the listing of each named resource (default: all) into its table.

Every page is committed on its own, so an interrupted pull keeps the pages
it already stored. Modes pick the listing window from the ordering column:

  pull     records after the latest one stored (default)
  fill     records before the earliest one stored
  refresh  everything

Examples:
  rr pull
  rr pull posts --max-pages 5
  rr pull events --since "3 days ago"
  rr pull posts --mode refresh --query userId=1
  rr pull posts --start-page 3`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := pullOptions(cmd)
		database := openStore()
		defer database.Close()

		resources := loadResources()
		names := args
		if len(names) == 0 {
			names = resources.Names()
		}
		syncer := newSyncer(database, resources)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		failed := 0
		for _, name := range names {
			start := time.Now()
			fmt.Printf("%s Pulling %s...\n", ui.RenderAccent("⇣"), name)
			report, err := syncer.Pull(ctx, name, opts)
			if report != nil {
				printReport(report, time.Since(start))
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), name, err)
				failed++
				if errors.Is(err, context.Canceled) {
					break
				}
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func pullOptions(cmd *cobra.Command) storesync.PullOptions {
	opts := storesync.PullOptions{MaxPages: cfg.Sync.MaxPages}

	mode := cfg.Sync.Mode
	if cmd.Flags().Changed("mode") {
		mode, _ = cmd.Flags().GetString("mode")
	}
	m, err := timeseries.ParseMode(mode)
	if err != nil {
		fatalf("%v", err)
	}
	opts.Mode = m

	if cmd.Flags().Changed("max-pages") {
		opts.MaxPages, _ = cmd.Flags().GetInt("max-pages")
	}
	if opts.MaxPages < 0 {
		fatalf("--max-pages must not be negative")
	}
	opts.StartPage, _ = cmd.Flags().GetInt("start-page")
	if opts.StartPage < 0 {
		fatalf("--start-page must not be negative")
	}

	since, _ := cmd.Flags().GetString("since")
	if opts.Since, err = parseSince(since, time.Now()); err != nil {
		fatalf("%v", err)
	}

	query, _ := cmd.Flags().GetStringArray("query")
	q, err := parseKeyValues(query)
	if err != nil {
		fatalf("%v", err)
	}
	if len(q) > 0 {
		opts.Query = etl.Query(q)
	}
	return opts
}

func printReport(r *storesync.Report, elapsed time.Duration) {
	mark := ui.RenderPass("✓")
	if len(r.Pages) == 0 {
		mark = ui.RenderMuted("-")
	}
	fmt.Printf("%s %s: %d pages, %d inserted, %d updated in %v\n",
		mark, r.Resource, len(r.Pages), r.Inserted, r.Updated, elapsed.Round(time.Millisecond))
	ui.KeyValues(os.Stdout,
		"Run", r.RunID,
		"Mode", r.Mode,
		"Window", r.Window,
	)
}

var processCmd = &cobra.Command{
	Use:     "process",
	GroupID: "sync",
	Short:   "Process stored raw items into their resource tables",
	Long: `Process every unprocessed raw item. Items are committed in batches; a
failing batch is rolled back and earlier batches stay committed.`,
	Run: func(cmd *cobra.Command, args []string) {
		batchSize := cfg.Sync.BatchSize
		if cmd.Flags().Changed("batch-size") {
			batchSize, _ = cmd.Flags().GetInt("batch-size")
		}
		if batchSize <= 0 {
			fatalf("--batch-size must be positive")
		}

		database := openStore()
		defer database.Close()
		syncer := newSyncer(database, loadResources())

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		start := time.Now()
		n, err := syncer.Process(ctx, batchSize)
		if err != nil {
			fatalf("processed %d items before failing: %v", n, err)
		}
		fmt.Printf("%s Processed %d raw items in %v\n", ui.RenderPass("✓"), n, time.Since(start).Round(time.Millisecond))
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull every resource, process raw items and refresh caches",
	Long: `Run a full sync:
  1. Pulls every resource (unordered resources are refreshed)
  2. Processes unprocessed raw items
  3. Refreshes cached properties

A failing resource does not stop the others; failures are reported at the end.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := pullOptions(cmd)
		batchSize := cfg.Sync.BatchSize
		if cmd.Flags().Changed("batch-size") {
			batchSize, _ = cmd.Flags().GetInt("batch-size")
		}

		database := openStore()
		defer database.Close()
		syncer := newSyncer(database, loadResources())

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing...\n", ui.RenderAccent("🔄"))
		start := time.Now()
		if err := syncer.FullSync(ctx, opts, batchSize); err != nil {
			fatalf("sync finished with errors:\n%v", err)
		}
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	},
}

func addPullFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "pull", "Listing window: pull, fill or refresh")
	cmd.Flags().Int("max-pages", 0, "Stop after this many pages (0 = no limit)")
	cmd.Flags().String("since", "", `Lower bound for timestamp-ordered resources ("2026-10-01", "3 days ago")`)
	cmd.Flags().Int("start-page", 0, "Use numbered pages starting here instead of continuation links")
	cmd.Flags().StringArray("query", nil, "Extra listing filter as key=value (repeatable)")
}

func init() {
	addPullFlags(pullCmd)
	addPullFlags(syncCmd)
	processCmd.Flags().Int("batch-size", 100, "Raw items committed per batch")
	syncCmd.Flags().Int("batch-size", 100, "Raw items committed per batch")

	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(syncCmd)
}
