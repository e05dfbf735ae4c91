package timeseries

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
	"github.com/kaoslabsinc/remote-resources/internal/store/db"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
)

var (
	// ErrNoOrdering is returned for pull and fill on a resource without an
	// ordering_field.
	ErrNoOrdering = errors.New("resource has no ordering_field")

	// ErrNoWindowParam is returned when a bounded window cannot be sent
	// because the resource names no query parameter for it.
	ErrNoWindowParam = errors.New("resource has no query parameter for the window bound")
)

// Plan is the listing query for one incremental pull.
type Plan struct {
	Mode   Mode
	Window string
	Query  etl.Query
}

// PlanFor computes the listing query of a pull of r in mode. A non-zero
// since replaces the lower bound; it applies to timestamp ordering columns
// only.
func PlanFor(ctx context.Context, q db.Querier, r *schema.Resource, mode Mode, since time.Time) (*Plan, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	col := r.OrderingColumn()
	if col == "" {
		if mode != ModeRefresh || !since.IsZero() {
			return nil, fmt.Errorf("%s: %w", r.Name, ErrNoOrdering)
		}
		return &Plan{Mode: mode, Window: Window[int64]{}.String(), Query: etl.Query{}}, nil
	}

	switch typ := r.OrderingType(); typ {
	case schema.TypeInteger, schema.TypeBoolean:
		return plan[int64](ctx, q, r, mode, nil)
	case schema.TypeReal:
		return plan[float64](ctx, q, r, mode, nil)
	case schema.TypeTimestamp:
		var lower *string
		if !since.IsZero() {
			s := since.UTC().Format(schema.TimestampLayout)
			lower = &s
		}
		return plan(ctx, q, r, mode, lower)
	default:
		if !since.IsZero() {
			return nil, fmt.Errorf("%s: --since needs a timestamp ordering column, %s is %s", r.Name, col, typ)
		}
		return plan[string](ctx, q, r, mode, nil)
	}
}

func plan[T cmp.Ordered](ctx context.Context, q db.Querier, r *schema.Resource, mode Mode, lower *T) (*Plan, error) {
	cur := NewCursor[T](Column[T]{Q: q, Table: r.TableName(), Column: r.OrderingColumn()})
	w, err := cur.Window(ctx, mode)
	if err != nil {
		return nil, err
	}
	if lower != nil {
		w.After = At(*lower)
	}
	if w.After.Valid && r.AfterParam == "" {
		return nil, fmt.Errorf("%s: after_param: %w", r.Name, ErrNoWindowParam)
	}
	if w.Before.Valid && r.BeforeParam == "" {
		return nil, fmt.Errorf("%s: before_param: %w", r.Name, ErrNoWindowParam)
	}
	return &Plan{Mode: mode, Window: w.String(), Query: w.Query(r.AfterParam, r.BeforeParam)}, nil
}
