// Package ingest imports JSONL files of remote payloads as raw items.
package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kaoslabsinc/remote-resources/internal/store/rawitems"
)

var (
	// ErrNoSource is returned when no raw item source is given or derivable.
	ErrNoSource = errors.New("no raw item source")

	// ErrUnknownSource is returned for a source outside Options.Sources.
	ErrUnknownSource = errors.New("raw item source has no resource")
)

// Options configures an import.
type Options struct {
	Path   string // Input JSONL file path
	Source string // Raw item source; empty = derived from the file name
	DryRun bool   // Validate without writing
	Backup bool   // Copy the input aside before importing

	// Sources lists the sources that can be processed (empty = any)
	Sources []string
}

// Result contains statistics about an import.
type Result struct {
	Source        string
	Read          int
	Added         int
	FirstID       int64
	LastID        int64
	BackupCreated string
}

// SourceFromPath derives a raw item source from a file name: the base name
// up to its first dot, so posts.jsonl and posts.2026-10-17.jsonl both feed
// "posts".
func SourceFromPath(path string) string {
	name, _, _ := strings.Cut(filepath.Base(path), ".")
	return name
}

// FromJSONL reads a stream of JSON objects. Objects are usually one per
// line but may span lines.
func FromJSONL(r io.Reader) ([]json.RawMessage, error) {
	var records []json.RawMessage
	decoder := json.NewDecoder(r)
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON in record %d: %w", n, err)
		}
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			return nil, fmt.Errorf("record %d: %w", n, rawitems.ErrInvalidPayload)
		}
		records = append(records, raw)
	}
	return records, nil
}

// ReadFile reads a JSONL file.
func ReadFile(path string) ([]json.RawMessage, error) {
	// #nosec G304 - controlled path from CLI or inbox
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()
	return FromJSONL(file)
}

// Import adds every record of the file as a raw item, all in one
// transaction: a bad record imports nothing.
func Import(ctx context.Context, store *rawitems.Store, opts Options) (*Result, error) {
	source := opts.Source
	if source == "" {
		source = SourceFromPath(opts.Path)
	}
	if source == "" {
		return nil, ErrNoSource
	}
	if len(opts.Sources) > 0 && !slices.Contains(opts.Sources, source) {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownSource, source, strings.Join(opts.Sources, ", "))
	}
	result := &Result{Source: source}

	if _, err := os.Stat(opts.Path); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.Path + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	records, err := ReadFile(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}
	result.Read = len(records)
	if opts.DryRun || len(records) == 0 {
		return result, nil
	}

	err = store.DB().WithTx(ctx, func(tx *sql.Tx) error {
		for i, raw := range records {
			item, err := store.AddTx(ctx, tx, source, raw)
			if err != nil {
				return fmt.Errorf("record %d: %w", i+1, err)
			}
			if i == 0 {
				result.FirstID = item.ID
			}
			result.LastID = item.ID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", opts.Path, err)
	}
	result.Added = len(records)
	return result, nil
}
