package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
	"github.com/kaoslabsinc/remote-resources/internal/store/schema"
)

// testDB opens a fresh database with the store schema in a temp directory.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func postsResource() *schema.Resource {
	return &schema.Resource{
		Name:          "posts",
		KeyField:      "id",
		OrderingField: "remote_id",
		Fields: []schema.Field{
			{Remote: "id", Column: "remote_id", Type: schema.TypeInteger, Required: true},
			{Remote: "title"},
		},
		Cached: []schema.CachedProperty{{Name: "title_length", Expr: "length(title)", Type: schema.TypeInteger}},
	}
}

func mapRecords(t *testing.T, r *schema.Resource, payloads ...etl.Payload) []*schema.Record {
	t.Helper()
	recs := make([]*schema.Record, len(payloads))
	for i, p := range payloads {
		rec, err := r.MapRecord(p)
		if err != nil {
			t.Fatalf("MapRecord() failed: %v", err)
		}
		recs[i] = rec
	}
	return recs
}

func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := db.InitSchema(); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}
	for _, table := range []string{"raw_items", "sync_runs"} {
		ok, err := TableExists(context.Background(), db.RawDB(), table)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestEnsureTable(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r := postsResource()

	if err := db.EnsureTable(r); err != nil {
		t.Fatalf("EnsureTable() failed: %v", err)
	}
	if err := db.EnsureTable(r); err != nil {
		t.Fatalf("second EnsureTable() failed: %v", err)
	}

	cols, err := tableColumns(ctx, db.RawDB(), "posts")
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []string{"id", "remote_id", "title", "_raw", "_synced_at", "_cached_title_length"} {
		if !cols[c] {
			t.Errorf("column %s missing", c)
		}
	}

	// a field added to the mapping is added to the table
	r2 := postsResource()
	r2.Fields = append(r2.Fields, schema.Field{Remote: "body"})
	if err := db.EnsureTable(r2); err != nil {
		t.Fatalf("EnsureTable() with new field failed: %v", err)
	}
	cols, _ = tableColumns(ctx, db.RawDB(), "posts")
	if !cols["body"] {
		t.Error("column body was not added")
	}
}

func TestEnsureTable_RejectsNoKey(t *testing.T) {
	db := testDB(t)
	r := postsResource()
	r.KeyField = ""
	if err := db.EnsureTable(r); !errors.Is(err, schema.ErrNoKeyField) {
		t.Errorf("expected ErrNoKeyField, got %v", err)
	}
}

func TestBulkUpsert(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r := postsResource()
	if err := db.EnsureTable(r); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	recs := mapRecords(t, r,
		etl.Payload{"id": 1.0, "title": "one"},
		etl.Payload{"id": 2.0, "title": "two"},
	)
	res, err := BulkUpsert(ctx, db.RawDB(), r, recs, now)
	if err != nil {
		t.Fatalf("BulkUpsert() failed: %v", err)
	}
	if res.Inserted != 2 || res.Updated != 0 {
		t.Errorf("first upsert = %+v, want 2 inserted", res)
	}

	recs = mapRecords(t, r,
		etl.Payload{"id": 2.0, "title": "TWO"},
		etl.Payload{"id": 3.0, "title": "three"},
		etl.Payload{"id": 3.0, "title": "three again"},
	)
	res, err = BulkUpsert(ctx, db.RawDB(), r, recs, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("BulkUpsert() failed: %v", err)
	}
	if res.Inserted != 1 || res.Updated != 1 {
		t.Errorf("second upsert = %+v, want 1 inserted 1 updated", res)
	}

	n, err := Count(ctx, db.RawDB(), "posts", "")
	if err != nil || n != 3 {
		t.Fatalf("Count() = %d, %v; want 3", n, err)
	}

	rows, err := ListRows(ctx, db.RawDB(), "posts", ListOptions{
		Columns: []string{"remote_id", "title", "_synced_at"},
		OrderBy: "remote_id",
	})
	if err != nil {
		t.Fatalf("ListRows() failed: %v", err)
	}
	if rows[1]["title"] != "TWO" || rows[2]["title"] != "three again" {
		t.Errorf("unexpected rows: %v", rows)
	}
	if rows[0]["_synced_at"] != FormatTime(now) {
		t.Errorf("_synced_at = %v, want %s", rows[0]["_synced_at"], FormatTime(now))
	}
}

func TestBulkUpsert_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r := postsResource()
	if err := db.EnsureTable(r); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := BulkUpsert(ctx, tx, r, mapRecords(t, r, etl.Payload{"id": 1.0}), time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() = %v, want boom", err)
	}
	if n, _ := Count(ctx, db.RawDB(), "posts", ""); n != 0 {
		t.Errorf("Count() = %d after rollback, want 0", n)
	}
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	r := postsResource()
	if err := db.EnsureTable(r); err != nil {
		t.Fatal(err)
	}

	got, err := Aggregate[int64](ctx, db.RawDB(), "max", "posts", "remote_id")
	if err != nil {
		t.Fatalf("Aggregate() failed: %v", err)
	}
	if got.Valid {
		t.Errorf("MAX over empty table should be invalid, got %v", got.V)
	}

	recs := mapRecords(t, r, etl.Payload{"id": 20.0}, etl.Payload{"id": 10.0}, etl.Payload{"id": 30.0})
	if _, err := BulkUpsert(ctx, db.RawDB(), r, recs, time.Now()); err != nil {
		t.Fatal(err)
	}
	lo, err := Aggregate[int64](ctx, db.RawDB(), "MIN", "posts", "remote_id")
	if err != nil || !lo.Valid || lo.V != 10 {
		t.Errorf("MIN = %+v, %v; want 10", lo, err)
	}
	hi, err := Aggregate[int64](ctx, db.RawDB(), "MAX", "posts", "remote_id")
	if err != nil || !hi.Valid || hi.V != 30 {
		t.Errorf("MAX = %+v, %v; want 30", hi, err)
	}

	if _, err := Aggregate[int64](ctx, db.RawDB(), "SUM", "posts", "remote_id"); !errors.Is(err, ErrUnknownAggregate) {
		t.Errorf("expected ErrUnknownAggregate, got %v", err)
	}
}

func TestSyncRuns(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b"} {
		run := &SyncRun{ID: id, Resource: "posts", Mode: "pull", StartedAt: start.Add(time.Duration(i) * time.Minute)}
		if err := db.StartRun(ctx, run); err != nil {
			t.Fatalf("StartRun() failed: %v", err)
		}
		run.Pages, run.Rows = 2, 40
		run.FinishedAt = run.StartedAt.Add(time.Second)
		if id == "run-b" {
			run.Error = "remote unavailable"
		}
		if err := db.FinishRun(ctx, run); err != nil {
			t.Fatalf("FinishRun() failed: %v", err)
		}
	}

	runs, err := db.ListRuns(ctx, "posts", 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" {
		t.Fatalf("ListRuns() = %+v, want newest first", runs)
	}
	if runs[0].Error != "remote unavailable" || runs[1].Error != "" {
		t.Errorf("errors = %q, %q", runs[0].Error, runs[1].Error)
	}
	if runs[1].Rows != 40 || !runs[1].FinishedAt.Equal(start.Add(time.Second)) {
		t.Errorf("unexpected run: %+v", runs[1])
	}
}
