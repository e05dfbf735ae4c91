package rawitems

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kaoslabsinc/remote-resources/internal/store/db"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
)

// ErrBatchFailed matches every *BatchError.
var ErrBatchFailed = errors.New("raw item batch failed")

// BatchError reports the batch and item a Process run stopped at. Batches
// before it stay committed.
type BatchError struct {
	Batch  int
	ItemID int64
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d failed at raw item %d: %v", e.Batch, e.ItemID, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

func (e *BatchError) Is(target error) bool { return target == ErrBatchFailed }

// ProcessFunc turns one raw item into a processed row inside tx and
// returns a reference to it.
type ProcessFunc func(ctx context.Context, tx *sql.Tx, item *Item) (Ref, error)

// Progress is reported after every committed batch.
type Progress struct {
	Batch     int
	Committed int
	Total     int
}

// Processor runs a ProcessFunc over unprocessed items.
type Processor struct {
	store  *Store
	fn     ProcessFunc
	logger *log.Logger

	// OnProgress, when set, is called after each commit.
	OnProgress func(Progress)
}

// NewProcessor returns a processor. If logger is nil, a default logger
// writing to stderr is used.
func NewProcessor(store *Store, fn ProcessFunc, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.New(os.Stderr, "[rawitems] ", log.LstdFlags)
	}
	return &Processor{store: store, fn: fn, logger: logger}
}

// Process processes every item that is unprocessed when it starts, in
// creation order, committing every batchSize items. batchSize <= 0 means a
// single batch. It returns the number of items committed, which on error
// counts the batches before the failing one.
func (p *Processor) Process(ctx context.Context, batchSize int) (int, error) {
	ids, err := p.pendingIDs(ctx)
	if err != nil {
		return 0, err
	}
	total := len(ids)
	if total == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = total
	}

	committed := 0
	for batch := 1; len(ids) > 0; batch++ {
		if err := ctx.Err(); err != nil {
			return committed, err
		}
		n := min(batchSize, len(ids))
		done, err := p.processBatch(ctx, batch, ids[:n])
		if err != nil {
			p.logger.Printf("Batch %d failed, %d of %d items committed: %v", batch, committed, total, err)
			return committed, err
		}
		ids = ids[n:]
		committed += done

		p.logger.Printf("Committed batch %d: %d/%d items", batch, committed, total)
		if p.OnProgress != nil {
			p.OnProgress(Progress{Batch: batch, Committed: committed, Total: total})
		}
	}
	return committed, nil
}

func (p *Processor) pendingIDs(ctx context.Context) ([]int64, error) {
	rows, err := p.store.db.RawDB().QueryContext(ctx,
		`SELECT id FROM raw_items WHERE processed_key IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed raw items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan raw item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Processor) processBatch(ctx context.Context, batch int, ids []int64) (int, error) {
	done := 0
	err := p.store.db.WithTx(ctx, func(tx *sql.Tx) error {
		stamp := db.FormatTime(p.store.now())
		for _, id := range ids {
			row := tx.QueryRowContext(ctx,
				`SELECT `+itemColumns+` FROM raw_items WHERE id = ? AND processed_key IS NULL`, id)
			item, err := scanItem(row)
			if errors.Is(err, sql.ErrNoRows) {
				// processed since the snapshot
				continue
			}
			if err != nil {
				return &BatchError{Batch: batch, ItemID: id, Err: err}
			}

			ref, err := p.fn(ctx, tx, item)
			if err != nil {
				return &BatchError{Batch: batch, ItemID: id, Err: err}
			}

			_, err = tx.ExecContext(ctx,
				`UPDATE raw_items SET processed_table = ?, processed_key = ?, processed_at = ? WHERE id = ?`,
				ref.Table, ref.Key, stamp, id)
			if err != nil {
				return &BatchError{Batch: batch, ItemID: id, Err: fmt.Errorf("failed to link processed row: %w", err)}
			}
			done++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return done, nil
}

// ResourceProcessFunc maps each raw payload through r and upserts it into
// the resource table.
func ResourceProcessFunc(r *schema.Resource) ProcessFunc {
	return func(ctx context.Context, tx *sql.Tx, item *Item) (Ref, error) {
		payload, err := item.Payload()
		if err != nil {
			return Ref{}, err
		}
		rec, err := r.MapRecord(payload)
		if err != nil {
			return Ref{}, fmt.Errorf("failed to map raw item %d: %w", item.ID, err)
		}
		if _, err := db.BulkUpsert(ctx, tx, r, []*schema.Record{rec}, time.Now()); err != nil {
			return Ref{}, err
		}
		return Ref{Table: r.TableName(), Key: fmt.Sprint(rec.Key)}, nil
	}
}
