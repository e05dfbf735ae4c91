package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaoslabsinc/remote-resources/internal/store/ingest"
	"github.com/kaoslabsinc/remote-resources/internal/store/rawitems"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
	"github.com/kaoslabsinc/remote-resources/internal/ui"
)

var rawCmd = &cobra.Command{
	Use:     "raw",
	GroupID: "data",
	Short:   "Inspect and import raw items",
	Long: `Raw items are remote payloads stored as-is. Each item's source names the
resource it is processed into by 'rr process'.`,
}

var rawListCmd = &cobra.Command{
	Use:   "list",
	Short: "List raw items",
	Run: func(cmd *cobra.Command, args []string) {
		processed, _ := cmd.Flags().GetString("processed")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		pf, err := rawitems.ParseProcessedFilter(processed)
		if err != nil {
			fatalf("%v", err)
		}
		filter := rawitems.Filter{Processed: pf, Source: source, Limit: limit, Offset: offset}

		database := openStore()
		defer database.Close()
		store := rawitems.NewStore(database)

		ctx := context.Background()
		items, err := store.List(ctx, filter)
		if err != nil {
			fatalf("%v", err)
		}
		total, err := store.Count(ctx, filter)
		if err != nil {
			fatalf("%v", err)
		}

		rows := make([][]any, len(items))
		for i, item := range items {
			var ref, at any
			if item.IsProcessed() {
				ref = item.Processed.String()
				at = item.ProcessedAt.Local().Format(time.DateTime)
			}
			rows[i] = []any{item.ID, item.Source, ref, item.CreatedAt.Local().Format(time.DateTime), at, preview(item.Raw, 48)}
		}
		fmt.Println(ui.Table([]string{"ID", "Source", "Processed", "Created", "Processed at", "Raw"}, rows, ui.Width(os.Stdout)))
		fmt.Printf("%s\n", ui.RenderMuted(fmt.Sprintf("%d of %d items", len(items), total)))
	},
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var rawImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a JSONL file of payloads as raw items",
	Long: `Import every JSON object of FILE as a raw item. The import is atomic: a
bad record imports nothing.

The source defaults to the file name up to its first dot, so posts.jsonl and
posts.2026-10-17.jsonl both import into "posts".`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		source, _ := cmd.Flags().GetString("source")

		database := openStore()
		defer database.Close()

		result, err := importRaw(context.Background(), rawitems.NewStore(database), loadResources(), ingest.Options{
			Path:   args[0],
			Source: source,
			DryRun: dryRun,
			Backup: backup,
		})
		if err != nil {
			fatalf("%v", err)
		}

		if dryRun {
			fmt.Printf("%s Dry run: %d valid records for %q\n", ui.RenderAccent("🔍"), result.Read, result.Source)
			return
		}
		fmt.Printf("%s Imported %d raw items into %q\n", ui.RenderPass("✓"), result.Added, result.Source)
		if result.Added > 0 {
			ui.KeyValues(os.Stdout, "IDs", fmt.Sprintf("%d-%d", result.FirstID, result.LastID))
		}
		if result.BackupCreated != "" {
			ui.KeyValues(os.Stdout, "Backup", result.BackupCreated)
		}
	},
}

// importRaw imports a JSONL file, accepting only sources that name a
// configured resource.
func importRaw(ctx context.Context, store *rawitems.Store, resources *schema.Config, opts ingest.Options) (*ingest.Result, error) {
	opts.Sources = resources.Names()
	result, err := ingest.Import(ctx, store, opts)
	if errors.Is(err, ingest.ErrUnknownSource) {
		return nil, fmt.Errorf("%w (use --source to name the resource)", err)
	}
	return result, err
}

func init() {
	rawListCmd.Flags().String("processed", "", "Filter by processing state: yes or no")
	rawListCmd.Flags().String("source", "", "Filter by source")
	rawListCmd.Flags().Int("limit", 50, "Maximum items to show (0 = all)")
	rawListCmd.Flags().Int("offset", 0, "Skip the first N items")

	rawImportCmd.Flags().Bool("dry-run", false, "Validate the file without importing")
	rawImportCmd.Flags().Bool("backup", false, "Copy the file aside before importing")
	rawImportCmd.Flags().String("source", "", "Raw item source (default: derived from the file name)")

	rawCmd.AddCommand(rawListCmd)
	rawCmd.AddCommand(rawImportCmd)
	rootCmd.AddCommand(rawCmd)
}
