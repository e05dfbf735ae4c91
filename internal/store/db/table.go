package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
)

const timeLayout = schema.TimestampLayout

// ErrUnknownAggregate is returned by Aggregate for anything but MIN and MAX.
var ErrUnknownAggregate = errors.New("unknown aggregate")

// EnsureTable creates the resource table and its indexes, and adds any
// column the mapping gained since the table was created. It is idempotent.
func (db *DB) EnsureTable(r *schema.Resource) error {
	return db.EnsureTableContext(context.Background(), r)
}

// EnsureTableContext creates or extends the resource table with context support.
func (db *DB) EnsureTableContext(ctx context.Context, r *schema.Resource) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid resource: %w", err)
	}
	table := r.TableName()

	cols := resourceColumns(r)
	defs := make([]string, 0, len(cols)+1)
	defs = append(defs, schema.IDColumn+" INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range cols {
		defs = append(defs, c.def())
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", QuoteIdent(table), strings.Join(defs, ",\n\t"))
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}

		existing, err := tableColumns(ctx, tx, table)
		if err != nil {
			return err
		}
		for _, c := range cols {
			if existing[c.name] {
				continue
			}
			alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QuoteIdent(table), c.def())
			if _, err := tx.ExecContext(ctx, alter); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", table, c.name, err)
			}
		}

		key := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(%s)",
			QuoteIdent("idx_"+table+"_key"), QuoteIdent(table), QuoteIdent(r.KeyColumn()))
		if _, err := tx.ExecContext(ctx, key); err != nil {
			return fmt.Errorf("failed to create key index on %s: %w", table, err)
		}
		if ord := r.OrderingColumn(); ord != "" {
			idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
				QuoteIdent("idx_"+table+"_ordering"), QuoteIdent(table), QuoteIdent(ord))
			if _, err := tx.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("failed to create ordering index on %s: %w", table, err)
			}
		}
		return nil
	})
}

type column struct {
	name    string
	sqlType string
}

func (c column) def() string {
	if c.sqlType == "" {
		return QuoteIdent(c.name)
	}
	return QuoteIdent(c.name) + " " + c.sqlType
}

func resourceColumns(r *schema.Resource) []column {
	cols := make([]column, 0, len(r.Fields)+len(r.Cached)+2)
	for i := range r.Fields {
		f := &r.Fields[i]
		cols = append(cols, column{name: f.ColumnName(), sqlType: f.ColumnType().SQLType()})
	}
	cols = append(cols,
		column{name: schema.RawColumn, sqlType: "TEXT"},
		column{name: schema.SyncedAtColumn, sqlType: "TEXT"},
	)
	for i := range r.Cached {
		c := &r.Cached[i]
		cols = append(cols, column{name: c.Column(), sqlType: c.Type.SQLType()})
	}
	return cols
}

func tableColumns(ctx context.Context, q Querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT name FROM pragma_table_info(%s)", quoteString(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// UpsertResult counts the rows an upsert touched.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// BulkUpsert writes records into the resource table, matching existing rows
// on the key column. A key repeated within records is written once, with
// its last record. Rows are stamped with syncedAt.
func BulkUpsert(ctx context.Context, q Querier, r *schema.Resource, records []*schema.Record, syncedAt time.Time) (UpsertResult, error) {
	var res UpsertResult
	if len(records) == 0 {
		return res, nil
	}
	table := r.TableName()
	keyCol := r.KeyColumn()
	fieldCols := r.FieldColumns()

	records = dedupeByKey(records)

	existing, err := existingKeys(ctx, q, table, keyCol, records)
	if err != nil {
		return res, err
	}

	cols := append(append([]string(nil), fieldCols...), schema.RawColumn, schema.SyncedAtColumn)
	quoted := make([]string, len(cols))
	sets := make([]string, 0, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
		if c != keyCol {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", quoted[i], quoted[i]))
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)\nON CONFLICT(%s) DO UPDATE SET\n\t%s",
		QuoteIdent(table), strings.Join(quoted, ", "), placeholders, QuoteIdent(keyCol), strings.Join(sets, ",\n\t"))

	stamp := FormatTime(syncedAt)
	for _, rec := range records {
		args := make([]any, 0, len(cols))
		for _, c := range fieldCols {
			args = append(args, rec.Values[c])
		}
		args = append(args, rec.Raw, stamp)

		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return res, fmt.Errorf("failed to upsert %s %v: %w", table, rec.Key, err)
		}
		if existing[keyString(rec.Key)] {
			res.Updated++
		} else {
			res.Inserted++
		}
	}
	return res, nil
}

func dedupeByKey(records []*schema.Record) []*schema.Record {
	last := make(map[string]int, len(records))
	for i, rec := range records {
		last[keyString(rec.Key)] = i
	}
	if len(last) == len(records) {
		return records
	}
	out := make([]*schema.Record, 0, len(last))
	for i, rec := range records {
		if last[keyString(rec.Key)] == i {
			out = append(out, rec)
		}
	}
	return out
}

func keyString(k any) string {
	return fmt.Sprintf("%T:%v", k, k)
}

func existingKeys(ctx context.Context, q Querier, table, keyCol string, records []*schema.Record) (map[string]bool, error) {
	found := make(map[string]bool, len(records))
	for _, rec := range records {
		var one int
		err := q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", QuoteIdent(table), QuoteIdent(keyCol)),
			rec.Key).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("failed to look up %s %v: %w", table, rec.Key, err)
		default:
			found[keyString(rec.Key)] = true
		}
	}
	return found, nil
}

// Aggregate returns MIN or MAX of column over the table. The result is
// invalid when the table is empty or every value is NULL.
func Aggregate[T any](ctx context.Context, q Querier, fn, table, column string) (sql.Null[T], error) {
	var out sql.Null[T]
	fn = strings.ToUpper(fn)
	if fn != "MIN" && fn != "MAX" {
		return out, fmt.Errorf("%w: %s", ErrUnknownAggregate, fn)
	}
	query := fmt.Sprintf("SELECT %s(%s) FROM %s", fn, QuoteIdent(column), QuoteIdent(table))
	if err := q.QueryRowContext(ctx, query).Scan(&out); err != nil {
		return out, fmt.Errorf("failed to read %s(%s.%s): %w", fn, table, column, err)
	}
	return out, nil
}

// Count returns the number of rows in table matching where, which may be empty.
func Count(ctx context.Context, q Querier, table, where string, args ...any) (int, error) {
	query := "SELECT COUNT(*) FROM " + QuoteIdent(table)
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// Row is one result row keyed by column name.
type Row map[string]any

// ListOptions configures ListRows.
type ListOptions struct {
	// Columns to select (empty = all)
	Columns []string
	// Where is an SQL condition with ? placeholders for Args (empty = all rows)
	Where string
	Args  []any
	// OrderBy is a column name, optionally suffixed with " DESC" (empty = id)
	OrderBy string
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results
	Offset int
}

// ListRows reads rows of table.
func ListRows(ctx context.Context, q Querier, table string, opts ListOptions) ([]Row, error) {
	sel := "*"
	if len(opts.Columns) > 0 {
		quoted := make([]string, len(opts.Columns))
		for i, c := range opts.Columns {
			quoted[i] = QuoteIdent(c)
		}
		sel = strings.Join(quoted, ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", sel, QuoteIdent(table))
	args := append([]any(nil), opts.Args...)
	if opts.Where != "" {
		query += " WHERE " + opts.Where
	}

	order := QuoteIdent(schema.IDColumn)
	if opts.OrderBy != "" {
		col, desc := strings.CutSuffix(opts.OrderBy, " DESC")
		order = QuoteIdent(col)
		if desc {
			order += " DESC"
		}
	}
	query += " ORDER BY " + order

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()
	return ScanRows(rows)
}

// ScanRows reads every remaining row of rows.
func ScanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

// TableExists reports whether a table called name exists.
func TableExists(ctx context.Context, q Querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", name, err)
	}
	return n > 0, nil
}
