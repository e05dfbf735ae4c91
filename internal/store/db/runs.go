package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncRun is one recorded pull.
type SyncRun struct {
	ID         string
	Resource   string
	Mode       string
	Pages      int
	Rows       int
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// StartRun records a run that has just begun.
func (db *DB) StartRun(ctx context.Context, run *SyncRun) error {
	query := `INSERT INTO sync_runs (id, resource, mode, started_at) VALUES (?, ?, ?, ?)`
	if _, err := db.conn.ExecContext(ctx, query, run.ID, run.Resource, run.Mode, FormatTime(run.StartedAt)); err != nil {
		return fmt.Errorf("failed to record sync run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final counts and error of a run.
func (db *DB) FinishRun(ctx context.Context, run *SyncRun) error {
	query := `
	UPDATE sync_runs SET
		pages = ?,
		rows = ?,
		finished_at = ?,
		error = ?
	WHERE id = ?
	`
	errText := sql.NullString{String: run.Error, Valid: run.Error != ""}
	if _, err := db.conn.ExecContext(ctx, query, run.Pages, run.Rows, nullTime(run.FinishedAt), errText, run.ID); err != nil {
		return fmt.Errorf("failed to finish sync run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty resource
// lists runs of every resource.
func (db *DB) ListRuns(ctx context.Context, resource string, limit int) ([]*SyncRun, error) {
	query := `SELECT id, resource, mode, pages, rows, started_at, finished_at, error FROM sync_runs`
	var args []any
	if resource != "" {
		query += ` WHERE resource = ?`
		args = append(args, resource)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var (
			run      SyncRun
			started  string
			finished sql.NullString
			errText  sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Resource, &run.Mode, &run.Pages, &run.Rows, &started, &finished, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.StartedAt, _ = ParseTime(started)
		run.FinishedAt = parseNullTime(finished)
		run.Error = errText.String
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync runs: %w", err)
	}
	return runs, nil
}
