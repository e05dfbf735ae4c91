package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kaoslabsinc/remote-resources/internal/store/propcache"
	"github.com/kaoslabsinc/remote-resources/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "data",
	Short:   "Manage cached derived properties",
	Long: `Cached properties are SQL expressions declared on a resource and stored in
_cached_<name> columns. They are refreshed explicitly (or by 'rr sync' and the
daemon) and may lag the source rows in between.`,
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh [resource...]",
	Short: "Recompute cached properties",
	Run: func(cmd *cobra.Command, args []string) {
		database := openStore()
		defer database.Close()
		resources := loadResources()
		syncer := newSyncer(database, resources)

		names := args
		if len(names) == 0 {
			for _, r := range resources.Resources {
				if len(r.Cached) > 0 {
					names = append(names, r.Name)
				}
			}
		}
		if len(names) == 0 {
			fmt.Printf("%s No resource declares cached properties\n", ui.RenderMuted("-"))
			return
		}

		ctx := context.Background()
		for _, name := range names {
			n, err := syncer.RefreshCache(ctx, name)
			if err != nil {
				fatalf("failed to refresh %s: %v", name, err)
			}
			fmt.Printf("%s %s: refreshed %d rows\n", ui.RenderPass("✓"), name, n)
		}
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show RESOURCE",
	Short: "Show cached property values",
	Long: `Show the cached values of a resource next to its key.

With --live the expressions are evaluated instead, which shows what the next
refresh would store.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		live, _ := cmd.Flags().GetBool("live")
		where, _ := cmd.Flags().GetString("where")

		database := openStore()
		defer database.Close()
		r, err := loadResources().Resource(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if len(r.Cached) == 0 {
			fmt.Printf("%s %s declares no cached properties\n", ui.RenderMuted("-"), r.Name)
			return
		}

		ctx := context.Background()
		if err := database.EnsureTableContext(ctx, r); err != nil {
			fatalf("%v", err)
		}
		cache := propcache.ForResource(database, r, logs.Logger("propcache"))
		if where != "" {
			cache = cache.Where(where)
		}

		read := cache.Ready
		if live {
			read = cache.Live
		}
		rows, err := read(ctx, r.KeyColumn())
		if err != nil {
			fatalf("%v", err)
		}
		stale, err := cache.Stale(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		headers := []string{r.KeyColumn()}
		for _, p := range cache.Properties() {
			headers = append(headers, p.Name)
		}
		cells := make([][]any, len(rows))
		for i, row := range rows {
			cells[i] = make([]any, len(headers))
			for j, h := range headers {
				cells[i][j] = row[h]
			}
		}
		fmt.Println(ui.Table(headers, cells, ui.Width(os.Stdout)))
		if stale > 0 {
			fmt.Printf("%s %d rows are stale (run 'rr cache refresh %s')\n", ui.RenderWarn("⚠"), stale, r.Name)
		}
	},
}

func init() {
	cacheShowCmd.Flags().Bool("live", false, "Evaluate the expressions instead of reading the cache")
	cacheShowCmd.Flags().String("where", "", "SQL condition limiting the rows shown")

	cacheCmd.AddCommand(cacheRefreshCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}
