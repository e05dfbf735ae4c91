// Package propcache keeps derived values in shadow columns.
//
// Each cached property f has a live SQL expression and a _cached_f column
// on the same table. Refresh rewrites the shadow columns from the live
// expressions; between refreshes they may lag the source data but never the
// last refresh. Ready reads the shadow columns, Live evaluates the
// expressions.
package propcache

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/kaoslabsinc/remote-resources/internal/store/db"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
)

// Property is one cached derived value.
type Property struct {
	Name string
	Expr string
}

// Column returns the shadow column of the property.
func (p Property) Column() string {
	return schema.CachedPrefix + p.Name
}

// Recomputer refreshes whatever the property expressions read, inside the
// refresh transaction, before the shadow columns are rewritten.
type Recomputer interface {
	Recompute(ctx context.Context, tx *sql.Tx) error
}

// RecomputerFunc adapts a function to Recomputer.
type RecomputerFunc func(ctx context.Context, tx *sql.Tx) error

func (f RecomputerFunc) Recompute(ctx context.Context, tx *sql.Tx) error { return f(ctx, tx) }

// Cache manages the cached properties of one table.
type Cache struct {
	db         *db.DB
	table      string
	props      []Property
	recomputer Recomputer
	logger     *log.Logger

	where string
	args  []any
}

// New returns a cache over table. recomputer may be nil. If logger is nil,
// a default logger writing to stderr is used.
func New(database *db.DB, table string, props []Property, recomputer Recomputer, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(os.Stderr, "[propcache] ", log.LstdFlags)
	}
	return &Cache{
		db:         database,
		table:      table,
		props:      append([]Property(nil), props...),
		recomputer: recomputer,
		logger:     logger,
	}
}

// ForResource returns the cache of the resource's configured properties.
func ForResource(database *db.DB, r *schema.Resource, logger *log.Logger) *Cache {
	props := make([]Property, len(r.Cached))
	for i, c := range r.Cached {
		props[i] = Property{Name: c.Name, Expr: c.Expr}
	}
	return New(database, r.TableName(), props, nil, logger)
}

// Properties returns the managed properties.
func (c *Cache) Properties() []Property {
	return append([]Property(nil), c.props...)
}

// Where returns a copy of the cache limited to rows matching clause.
// Scopes combine with AND.
func (c *Cache) Where(clause string, args ...any) *Cache {
	scoped := *c
	if c.where == "" {
		scoped.where = "(" + clause + ")"
	} else {
		scoped.where = c.where + " AND (" + clause + ")"
	}
	scoped.args = append(append([]any(nil), c.args...), args...)
	return &scoped
}

func (c *Cache) scope() (string, []any) {
	if c.where == "" {
		return "", nil
	}
	return " WHERE " + c.where, c.args
}

func (c *Cache) update(ctx context.Context, q db.Querier, value func(Property) string) (int64, error) {
	if len(c.props) == 0 {
		return 0, nil
	}
	sets := make([]string, len(c.props))
	for i, p := range c.props {
		sets[i] = fmt.Sprintf("%s = %s", db.QuoteIdent(p.Column()), value(p))
	}
	where, args := c.scope()
	res, err := q.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s%s", db.QuoteIdent(c.table), strings.Join(sets, ", "), where), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Flush clears the shadow columns of the rows in scope.
func (c *Cache) Flush(ctx context.Context, q db.Querier) (int64, error) {
	n, err := c.update(ctx, q, func(Property) string { return "NULL" })
	if err != nil {
		return 0, fmt.Errorf("failed to flush cache on %s: %w", c.table, err)
	}
	return n, nil
}

// Recompute runs the recomputer, if any.
func (c *Cache) Recompute(ctx context.Context, tx *sql.Tx) error {
	if c.recomputer == nil {
		return nil
	}
	if err := c.recomputer.Recompute(ctx, tx); err != nil {
		return fmt.Errorf("failed to recompute sources of %s: %w", c.table, err)
	}
	return nil
}

// Commit writes the live expressions into the shadow columns of the rows
// in scope.
func (c *Cache) Commit(ctx context.Context, q db.Querier) (int64, error) {
	n, err := c.update(ctx, q, func(p Property) string { return "(" + p.Expr + ")" })
	if err != nil {
		return 0, fmt.Errorf("failed to commit cache on %s: %w", c.table, err)
	}
	return n, nil
}

// Refresh flushes, recomputes and commits in one transaction and returns
// the number of rows refreshed.
func (c *Cache) Refresh(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := c.Flush(ctx, tx); err != nil {
			return err
		}
		if err := c.Recompute(ctx, tx); err != nil {
			return err
		}
		var err error
		n, err = c.Commit(ctx, tx)
		return err
	})
	if err != nil {
		return 0, err
	}
	c.logger.Printf("Refreshed %d cached properties on %d rows of %s", len(c.props), n, c.table)
	return n, nil
}

// Ready reads the cached values of the rows in scope, keyed by property
// name, along with the id and any extra columns.
func (c *Cache) Ready(ctx context.Context, columns ...string) ([]db.Row, error) {
	return c.read(ctx, columns, func(p Property) string { return db.QuoteIdent(p.Column()) })
}

// Live evaluates the property expressions of the rows in scope.
func (c *Cache) Live(ctx context.Context, columns ...string) ([]db.Row, error) {
	return c.read(ctx, columns, func(p Property) string { return "(" + p.Expr + ")" })
}

func (c *Cache) read(ctx context.Context, columns []string, value func(Property) string) ([]db.Row, error) {
	sel := []string{db.QuoteIdent(schema.IDColumn)}
	for _, col := range columns {
		sel = append(sel, db.QuoteIdent(col))
	}
	for _, p := range c.props {
		sel = append(sel, value(p)+" AS "+db.QuoteIdent(p.Name))
	}
	where, args := c.scope()
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		strings.Join(sel, ", "), db.QuoteIdent(c.table), where, db.QuoteIdent(schema.IDColumn))

	rows, err := c.db.RawDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache on %s: %w", c.table, err)
	}
	defer rows.Close()
	return db.ScanRows(rows)
}

// Stale counts rows in scope whose cached values differ from the live ones.
func (c *Cache) Stale(ctx context.Context) (int, error) {
	if len(c.props) == 0 {
		return 0, nil
	}
	diffs := make([]string, len(c.props))
	for i, p := range c.props {
		diffs[i] = fmt.Sprintf("%s IS NOT (%s)", db.QuoteIdent(p.Column()), p.Expr)
	}
	clause := strings.Join(diffs, " OR ")
	where, args := c.scope()
	if where != "" {
		clause = c.where + " AND (" + clause + ")"
	}
	return db.Count(ctx, c.db.RawDB(), c.table, clause, args...)
}
