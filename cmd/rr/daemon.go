package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kaoslabsinc/remote-resources/internal/store/daemon"
	"github.com/kaoslabsinc/remote-resources/internal/store/dashboard"
	"github.com/kaoslabsinc/remote-resources/internal/store/rawitems"
	"github.com/kaoslabsinc/remote-resources/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Import *.jsonl files waiting in the inbox as raw items
  2. Perform a full sync
  3. Watch the inbox for new files
  4. Pull, process raw items and refresh caches on their intervals

Imported files move to inbox/imported, files that fail move to inbox/failed.
With --dashboard, sync events are also streamed to WebSocket clients.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		runDaemon(cmd, withDashboard)
	},
}

// runDaemon runs the daemon until interrupted, optionally serving the
// dashboard from the same syncer.
func runDaemon(cmd *cobra.Command, withDashboard bool) {
	opts := pullOptions(cmd)

	database := openStore()
	defer database.Close()
	resources := loadResources()
	syncer := newSyncer(database, resources)

	if withDashboard {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		server := dashboard.NewServer(&dashboard.Config{
			Host:   cfg.Dashboard.Host,
			Port:   port,
			Logger: logs.Logger("dashboard"),
		})
		syncer.Subscribe(dashboard.NewHandler(server, logs.Logger("dashboard")))
		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error during dashboard shutdown: %v\n", err)
			}
		}()
		fmt.Printf("%s Dashboard on http://%s (WebSocket: /ws, health: /health)\n", ui.RenderAccent("📡"), server.Addr())
	}

	d, err := daemon.NewWithConfig(syncer, rawitems.NewStore(database), &daemon.Config{
		Inbox:                cfg.Daemon.Inbox,
		DebounceInterval:     cfg.Daemon.Debounce,
		PullInterval:         cfg.Daemon.PullInterval,
		ProcessInterval:      cfg.Daemon.ProcessInterval,
		CacheRefreshInterval: cfg.Daemon.CacheRefreshInterval,
		Resources:            resources.Names(),
		Pull:                 opts,
		BatchSize:            cfg.Sync.BatchSize,
		Logger:               logs.Logger("daemon"),
	})
	if err != nil {
		fatalf("failed to create daemon: %v", err)
	}

	fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
	ui.KeyValues(os.Stdout,
		"Inbox", cfg.Daemon.Inbox,
		"Store", cfg.Database,
		"Resources", len(resources.Resources),
		"Pull every", cfg.Daemon.PullInterval,
	)
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
		os.Exit(1)
	}
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the sync daemon with the real-time WebSocket dashboard",
	Long: `Run the sync daemon and stream its events to WebSocket clients.

WebSocket messages:
- sync_event: run started or finished, page committed, raw item batch
  committed, cache refreshed
- stats: running totals, sent on connect and after every run, batch and
  cache refresh

Example usage:
  rr dashboard                   # Start on the configured port (default 8080)
  rr dashboard --port 9000       # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd, true)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{daemonCmd, dashboardCmd} {
		addPullFlags(cmd)
		cmd.Flags().IntP("port", "p", 8080, "Dashboard port")
	}
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the WebSocket dashboard")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashboardCmd)
}
