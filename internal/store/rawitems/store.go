// Package rawitems keeps raw remote payloads and turns them into processed
// rows in checkpointed batches.
//
// An item is processed exactly once: it links to the row it produced, and
// only unlinked items are ever picked up by a Processor.
package rawitems

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
	"github.com/kaoslabsinc/remote-resources/internal/store/db"
)

var (
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("raw item not found")

	// ErrInvalidPayload is returned by Add for anything but a JSON object.
	ErrInvalidPayload = errors.New("raw item payload must be a JSON object")
)

// Ref points at the row a raw item was processed into.
type Ref struct {
	Table string
	Key   string
}

func (r Ref) String() string { return r.Table + ":" + r.Key }

// Item is one stored raw payload.
type Item struct {
	ID          int64
	Source      string
	Raw         string
	Processed   *Ref
	CreatedAt   time.Time
	ProcessedAt time.Time
}

// IsProcessed reports whether the item links to a processed row.
func (i *Item) IsProcessed() bool { return i.Processed != nil }

// Payload decodes Raw.
func (i *Item) Payload() (etl.Payload, error) {
	var p etl.Payload
	if err := json.Unmarshal([]byte(i.Raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode raw item %d: %w", i.ID, err)
	}
	return p, nil
}

// ProcessedFilter selects items by processing state.
type ProcessedFilter int

const (
	Any ProcessedFilter = iota
	Processed
	Unprocessed
)

// ParseProcessedFilter accepts "yes", "no" or "" (any).
func ParseProcessedFilter(s string) (ProcessedFilter, error) {
	switch strings.ToLower(s) {
	case "", "any", "all":
		return Any, nil
	case "yes", "true":
		return Processed, nil
	case "no", "false":
		return Unprocessed, nil
	}
	return Any, fmt.Errorf("invalid processed filter %q (want yes or no)", s)
}

// Filter narrows List and Count.
type Filter struct {
	Processed ProcessedFilter
	// Source filters by source (empty = all sources)
	Source string
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results
	Offset int
}

func (f Filter) where() (string, []any) {
	var conditions []string
	var args []any
	switch f.Processed {
	case Processed:
		conditions = append(conditions, "processed_key IS NOT NULL")
	case Unprocessed:
		conditions = append(conditions, "processed_key IS NULL")
	}
	if f.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, f.Source)
	}
	return strings.Join(conditions, " AND "), args
}

// Store reads and writes raw_items.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore returns a store over database, whose schema must be initialized.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// DB returns the underlying database.
func (s *Store) DB() *db.DB { return s.db }

// Add stores one raw payload.
func (s *Store) Add(ctx context.Context, source string, raw []byte) (*Item, error) {
	return s.AddTx(ctx, s.db.RawDB(), source, raw)
}

// AddTx stores one raw payload through q, typically a transaction.
func (s *Store) AddTx(ctx context.Context, q db.Querier, source string, raw []byte) (*Item, error) {
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil || probe == nil {
		return nil, ErrInvalidPayload
	}

	now := s.now()
	res, err := q.ExecContext(ctx,
		`INSERT INTO raw_items (source, raw, created_at) VALUES (?, ?, ?)`,
		source, string(raw), db.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to add raw item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read raw item id: %w", err)
	}
	return &Item{ID: id, Source: source, Raw: string(raw), CreatedAt: now.UTC().Truncate(time.Microsecond)}, nil
}

const itemColumns = `id, source, raw, processed_table, processed_key, created_at, processed_at`

// Get returns one item by id.
func (s *Store) Get(ctx context.Context, id int64) (*Item, error) {
	row := s.db.RawDB().QueryRowContext(ctx, `SELECT `+itemColumns+` FROM raw_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw item %d: %w", id, err)
	}
	return item, nil
}

// List returns items matching f in creation order.
func (s *Store) List(ctx context.Context, f Filter) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM raw_items`
	where, args := f.where()
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	} else if f.Offset > 0 {
		query += " LIMIT -1"
	}
	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.RawDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate raw items: %w", err)
	}
	return items, nil
}

// Count returns the number of items matching f. Limit and Offset are ignored.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()
	return db.Count(ctx, s.db.RawDB(), "raw_items", where, args...)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*Item, error) {
	var (
		item      Item
		table     sql.NullString
		key       sql.NullString
		created   string
		processed sql.NullString
	)
	if err := row.Scan(&item.ID, &item.Source, &item.Raw, &table, &key, &created, &processed); err != nil {
		return nil, err
	}
	if key.Valid {
		item.Processed = &Ref{Table: table.String, Key: key.String}
	}
	item.CreatedAt, _ = db.ParseTime(created)
	if processed.Valid {
		item.ProcessedAt, _ = db.ParseTime(processed.String)
	}
	return &item, nil
}
