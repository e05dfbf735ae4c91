package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaoslabsinc/remote-resources/internal/store/db"
	"github.com/kaoslabsinc/remote-resources/internal/store/propcache"
	"github.com/kaoslabsinc/remote-resources/internal/store/rawitems"
	"github.com/kaoslabsinc/remote-resources/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show store status and recent sync runs",
	Long: `Display the current state of the local store.

Shows:
  - Database location and size
  - Rows per resource table and stale cached rows
  - Raw items by processing state
  - The most recent pulls`,
	Run: func(cmd *cobra.Command, args []string) {
		runs, _ := cmd.Flags().GetInt("runs")

		info, err := os.Stat(cfg.Database)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Store not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'rr init' to create it\n\n")
			return
		}
		if err != nil {
			fatalf("failed to check store: %v", err)
		}

		database := openStore()
		defer database.Close()
		resources := loadResources()
		ctx := context.Background()

		fmt.Printf("\n%s Store Status\n\n", ui.RenderAccent("📊"))
		ui.KeyValues(os.Stdout,
			"Location", cfg.Database,
			"Size", formatSize(info.Size()),
			"Modified", info.ModTime().Format("2006-01-02 15:04:05"),
		)

		rows := make([][]any, 0, len(resources.Resources))
		for _, r := range resources.Resources {
			table := r.TableName()
			exists, err := db.TableExists(ctx, database.RawDB(), table)
			if err != nil {
				fatalf("%v", err)
			}
			if !exists {
				rows = append(rows, []any{r.Name, table, nil, nil})
				continue
			}
			n, err := db.Count(ctx, database.RawDB(), table, "")
			if err != nil {
				fatalf("%v", err)
			}
			var stale any
			if len(r.Cached) > 0 {
				count, err := propcache.ForResource(database, r, logs.Logger("propcache")).Stale(ctx)
				if err != nil {
					fatalf("%v", err)
				}
				stale = count
			}
			rows = append(rows, []any{r.Name, table, n, stale})
		}
		fmt.Printf("\n%s\n", ui.RenderAccent("Resources"))
		fmt.Println(ui.Table([]string{"Resource", "Table", "Rows", "Stale cache"}, rows, ui.Width(os.Stdout)))

		store := rawitems.NewStore(database)
		pending, err := store.Count(ctx, rawitems.Filter{Processed: rawitems.Unprocessed})
		if err != nil {
			fatalf("%v", err)
		}
		done, err := store.Count(ctx, rawitems.Filter{Processed: rawitems.Processed})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("\n%s\n", ui.RenderAccent("Raw items"))
		ui.KeyValues(os.Stdout, "Processed", done, "Unprocessed", pending)

		recent, err := database.ListRuns(ctx, "", runs)
		if err != nil {
			fatalf("%v", err)
		}
		runRows := make([][]any, len(recent))
		for i, run := range recent {
			var took any
			if !run.FinishedAt.IsZero() {
				took = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)
			}
			result := ui.RenderPass("ok")
			switch {
			case run.Error != "":
				result = ui.RenderFail(run.Error)
			case run.FinishedAt.IsZero():
				result = ui.RenderWarn("running")
			}
			runRows[i] = []any{run.StartedAt.Local().Format(time.DateTime), run.Resource, run.Mode, run.Pages, run.Rows, took, result}
		}
		fmt.Printf("\n%s\n", ui.RenderAccent("Recent pulls"))
		fmt.Println(ui.Table([]string{"Started", "Resource", "Mode", "Pages", "Rows", "Took", "Result"}, runRows, ui.Width(os.Stdout)))
		fmt.Println()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%d bytes", size)
}

func init() {
	statusCmd.Flags().Int("runs", 10, "Number of recent pulls to show")
	rootCmd.AddCommand(statusCmd)
}
