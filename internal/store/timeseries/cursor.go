// Package timeseries decides which window of a remote time series to pull,
// based on what is already stored.
//
// The cursor is derived, never stored: it reads the minimum and maximum of
// the resource's ordering column on every call.
//
//   - pull:    (latest known, open) fetches only newer rows
//   - fill:    (open, earliest known) backfills older rows
//   - refresh: (open, open) fetches everything again
//
// On empty storage every mode yields the open window.
package timeseries

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
	"github.com/kaoslabsinc/remote-resources/internal/store/db"
)

// Mode selects the fetch window.
type Mode string

const (
	ModePull    Mode = "pull"
	ModeFill    Mode = "fill"
	ModeRefresh Mode = "refresh"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown pull mode")

// ParseMode parses pull, fill or refresh.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePull, ModeFill, ModeRefresh:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want pull, fill or refresh)", ErrUnknownMode, s)
}

// Bound is one end of a window. The zero Bound is open.
type Bound[T cmp.Ordered] struct {
	V     T
	Valid bool
}

// At returns the closed bound v.
func At[T cmp.Ordered](v T) Bound[T] { return Bound[T]{V: v, Valid: true} }

func (b Bound[T]) String() string {
	if !b.Valid {
		return "open"
	}
	return fmt.Sprint(b.V)
}

// Bounds reports the earliest and latest stored ordering values.
type Bounds[T cmp.Ordered] interface {
	Min(ctx context.Context) (Bound[T], error)
	Max(ctx context.Context) (Bound[T], error)
}

// Column reads bounds from a table column.
type Column[T cmp.Ordered] struct {
	Q      db.Querier
	Table  string
	Column string
}

func (c Column[T]) Min(ctx context.Context) (Bound[T], error) {
	return c.aggregate(ctx, "MIN")
}

func (c Column[T]) Max(ctx context.Context) (Bound[T], error) {
	return c.aggregate(ctx, "MAX")
}

func (c Column[T]) aggregate(ctx context.Context, fn string) (Bound[T], error) {
	v, err := db.Aggregate[T](ctx, c.Q, fn, c.Table, c.Column)
	if err != nil {
		return Bound[T]{}, err
	}
	return Bound[T]{V: v.V, Valid: v.Valid}, nil
}

// Cursor computes fetch windows over stored bounds.
type Cursor[T cmp.Ordered] struct {
	bounds Bounds[T]
}

func NewCursor[T cmp.Ordered](bounds Bounds[T]) *Cursor[T] {
	return &Cursor[T]{bounds: bounds}
}

// LatestKnown returns the greatest stored ordering value.
func (c *Cursor[T]) LatestKnown(ctx context.Context) (Bound[T], error) {
	return c.bounds.Max(ctx)
}

// EarliestKnown returns the smallest stored ordering value.
func (c *Cursor[T]) EarliestKnown(ctx context.Context) (Bound[T], error) {
	return c.bounds.Min(ctx)
}

// Window returns the fetch window for mode.
func (c *Cursor[T]) Window(ctx context.Context, mode Mode) (Window[T], error) {
	switch mode {
	case ModePull:
		after, err := c.LatestKnown(ctx)
		if err != nil {
			return Window[T]{}, fmt.Errorf("failed to read latest known value: %w", err)
		}
		return Window[T]{After: after}, nil
	case ModeFill:
		before, err := c.EarliestKnown(ctx)
		if err != nil {
			return Window[T]{}, fmt.Errorf("failed to read earliest known value: %w", err)
		}
		return Window[T]{Before: before}, nil
	case ModeRefresh:
		return Window[T]{}, nil
	}
	return Window[T]{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// Window is an exclusive range of ordering values.
type Window[T cmp.Ordered] struct {
	After  Bound[T]
	Before Bound[T]
}

// IsOpen reports whether neither end is bounded.
func (w Window[T]) IsOpen() bool {
	return !w.After.Valid && !w.Before.Valid
}

// Query renders the window as list query parameters. Open ends are left out.
func (w Window[T]) Query(afterParam, beforeParam string) etl.Query {
	q := etl.Query{}
	if w.After.Valid {
		q[afterParam] = formatValue(w.After.V)
	}
	if w.Before.Valid {
		q[beforeParam] = formatValue(w.Before.V)
	}
	return q
}

func (w Window[T]) String() string {
	return fmt.Sprintf("(%s, %s)", w.After, w.Before)
}

func formatValue(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
