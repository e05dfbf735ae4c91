package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kaoslabsinc/remote-resources/internal/config"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
	"github.com/kaoslabsinc/remote-resources/internal/ui"
)

const starterConfig = `# rr configuration. Every key can be overridden with RR_<KEY>,
# e.g. RR_REMOTE_TOKEN.
database: .rr/rr.db
resources: .rr/resources.toml

remote:
  base_url: ""
  timeout: 30s
  retry:
    attempts: 3
    backoff: 500ms

sync:
  batch_size: 100

daemon:
  inbox: .rr/inbox
`

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "sync",
	Short:   "Create the .rr directory, config, mapping and database",
	Long: `Initialize rr in the current directory.

Creates:
  .rr/config.yaml      settings (skipped if present)
  .rr/resources.toml   resource mapping with an example resource (skipped if present)
  .rr/rr.db            SQLite store with the raw item and sync run tables`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		if wrote, err := writeIfAbsent(config.DefaultFile, force, func(path string) error {
			return os.WriteFile(path, []byte(starterConfig), 0644)
		}); err != nil {
			fatalf("failed to write config: %v", err)
		} else if wrote {
			fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), config.DefaultFile)
		}

		if wrote, err := writeIfAbsent(cfg.Resources, force, func(path string) error {
			return schema.WriteFile(path, schema.Example())
		}); err != nil {
			fatalf("failed to write resource mapping: %v", err)
		} else if wrote {
			fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), cfg.Resources)
		}

		database := openStore()
		defer database.Close()
		fmt.Printf("%s Store ready at %s\n", ui.RenderPass("✓"), database.Path())
		fmt.Printf("\nEdit %s, then run 'rr pull'.\n", cfg.Resources)
	},
}

func writeIfAbsent(path string, force bool, write func(path string) error) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Printf("%s %s exists, skipping\n", ui.RenderMuted("-"), path)
		return false, nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}
	return true, write(path)
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite existing config and mapping files")
	rootCmd.AddCommand(initCmd)
}
