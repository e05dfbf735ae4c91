package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kaoslabsinc/remote-resources/internal/config"
	"github.com/kaoslabsinc/remote-resources/internal/etl/client"
	"github.com/kaoslabsinc/remote-resources/internal/logging"
	"github.com/kaoslabsinc/remote-resources/internal/store/db"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
	storesync "github.com/kaoslabsinc/remote-resources/internal/store/sync"
	"github.com/kaoslabsinc/remote-resources/internal/ui"
)

var (
	cfg  *config.Config
	logs *logging.Factory
)

var rootCmd = &cobra.Command{
	Use:   "rr",
	Short: "Mirror remote REST resources into a local SQLite store",
	Long: `rr pulls paginated listings of a remote REST service into local SQLite
tables, keeps raw payloads for later processing, and maintains cached
derived columns.

Resources are declared in a mapping file (.rr/resources.toml by default).
Run 'rr init' to create one with an example resource.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("db"); v != "" {
			loaded.Database = v
		}
		if v, _ := cmd.Flags().GetString("resources"); v != "" {
			loaded.Resources = v
		}
		cfg = loaded

		quiet, _ := cmd.Flags().GetBool("quiet")
		logs, err = logging.NewFactory(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Quiet:      quiet,
		})
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		ui.Init(os.Stdout)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
	rootCmd.PersistentFlags().String("config", "", "Config file (default: "+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().String("resources", "", "Resource mapping file (overrides config)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only log to the log file when one is configured")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// fatalf prints an error and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s "+format+"\n", append([]any{ui.RenderFail("Error:")}, args...)...)
	os.Exit(1)
}

func loadResources() *schema.Config {
	resources, err := schema.LoadFile(cfg.Resources)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fatalf("resource mapping %s not found (run 'rr init' first)", cfg.Resources)
		}
		fatalf("%v", err)
	}
	return resources
}

// openStore opens the database and makes sure the bookkeeping tables exist.
func openStore() *db.DB {
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0755); err != nil {
		fatalf("failed to create database directory: %v", err)
	}
	database, err := db.Open(cfg.Database)
	if err != nil {
		fatalf("failed to open database: %v", err)
	}
	if err := database.InitSchema(); err != nil {
		database.Close()
		fatalf("failed to initialize schema: %v", err)
	}
	return database
}

// remoteFor builds the REST client of a resource from the remote settings.
func remoteFor(r *schema.Resource) (*client.Client, error) {
	opts, err := cfg.Remote.ClientOptions(r)
	if err != nil {
		return nil, err
	}
	opts.Logger = logs.Logger("client")
	return client.New(opts)
}

func newSyncer(database *db.DB, resources *schema.Config) storesync.Syncer {
	return storesync.New(database, resources, func(r *schema.Resource) (storesync.Remote, error) {
		return remoteFor(r)
	}, logs.Logger("sync"))
}
