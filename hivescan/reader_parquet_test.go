package hivescan

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/parquet-go/parquet-go"
)

type eventRow struct {
	ID     int64     `parquet:"id"`
	Name   string    `parquet:"name"`
	Score  float64   `parquet:"score"`
	Active bool      `parquet:"active"`
	Note   *string   `parquet:"note,optional"`
	At     time.Time `parquet:"at,timestamp"`
}

// writeParquet encodes row batches, flushing between batches so each batch
// becomes its own row group.
func writeParquet(t *testing.T, batches ...[]eventRow) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[eventRow](&buf)
	for i, batch := range batches {
		if _, err := w.Write(batch); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if i < len(batches)-1 {
			if err := w.Flush(); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func strPtr(s string) *string { return &s }

func eventFixture() []eventRow {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []eventRow{
		{ID: 1, Name: "alice", Score: 95.5, Active: true, Note: strPtr("vip"), At: at},
		{ID: 2, Name: "bob", Score: 87.25, Active: false, At: at.Add(time.Hour)},
		{ID: 3, Name: "carol", Score: 70, Active: true, At: at.Add(2 * time.Hour)},
	}
}

func TestParquetReaderMeta(t *testing.T) {
	store := NewMemoryStore()
	rows := eventFixture()
	store.Put("f.parquet", writeParquet(t, rows[:2], rows[2:]))

	meta, err := NewParquetReader().Meta(context.Background(), store, "f.parquet")
	if err != nil {
		t.Fatalf("Meta() error = %v", err)
	}
	if meta.NumRows != 3 {
		t.Errorf("NumRows = %d, want 3", meta.NumRows)
	}
	if len(meta.RowGroupRows) != 2 || meta.RowGroupRows[0] != 2 || meta.RowGroupRows[1] != 1 {
		t.Errorf("RowGroupRows = %v, want [2 1]", meta.RowGroupRows)
	}

	wantTypes := map[string]DataType{
		"id":     TypeInt64,
		"name":   TypeString,
		"score":  TypeFloat64,
		"active": TypeBoolean,
		"note":   TypeString,
		"at":     TypeDatetime,
	}
	for name, want := range wantTypes {
		idx := meta.Schema.Index(name)
		if idx < 0 {
			t.Fatalf("Schema missing column %q", name)
		}
		if got := meta.Schema.Fields[idx].Type; got != want {
			t.Errorf("%s type = %v, want %v", name, got, want)
		}
	}
}

func TestParquetReaderRead(t *testing.T) {
	store := NewMemoryStore()
	store.Put("f.parquet", writeParquet(t, eventFixture()))

	r := NewParquetReader()
	ctx := context.Background()

	tbl, err := r.Read(ctx, store, "f.parquet", ReadRequest{Limit: -1})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if tbl.NumRows() != 3 {
		t.Fatalf("NumRows() = %d, want 3", tbl.NumRows())
	}
	if got := tbl.Column("id").Values[0]; got != int64(1) {
		t.Errorf("id[0] = %v (%T), want 1", got, got)
	}
	if got := tbl.Column("name").Values[2]; got != "carol" {
		t.Errorf("name[2] = %v, want carol", got)
	}
	if got := tbl.Column("score").Values[1]; got != 87.25 {
		t.Errorf("score[1] = %v, want 87.25", got)
	}
	if got := tbl.Column("active").Values[1]; got != false {
		t.Errorf("active[1] = %v, want false", got)
	}
	if got := tbl.Column("note").Values[1]; got != nil {
		t.Errorf("note[1] = %v, want nil", got)
	}
	if got := tbl.Column("note").Values[0]; got != "vip" {
		t.Errorf("note[0] = %v, want vip", got)
	}
	at, ok := tbl.Column("at").Values[0].(time.Time)
	if !ok || !at.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("at[0] = %v, want 2024-03-01T12:00:00Z", tbl.Column("at").Values[0])
	}
}

func TestParquetReaderColumnSubset(t *testing.T) {
	store := NewMemoryStore()
	store.Put("f.parquet", writeParquet(t, eventFixture()))

	tbl, err := NewParquetReader().Read(context.Background(), store, "f.parquet", ReadRequest{
		Columns: []string{"name", "id"},
		Limit:   -1,
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(tbl.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(tbl.Columns))
	}
	// Request order is preserved.
	if tbl.Columns[0].Name != "name" || tbl.Columns[1].Name != "id" {
		t.Errorf("columns = %v, want [name id]", tbl.Schema().Names())
	}

	_, err = NewParquetReader().Read(context.Background(), store, "f.parquet", ReadRequest{
		Columns: []string{"ghost"},
		Limit:   -1,
	})
	if err == nil {
		t.Fatal("Read(unknown column) error = nil, want error")
	}
}

func TestParquetReaderRowGroupSelection(t *testing.T) {
	store := NewMemoryStore()
	rows := eventFixture()
	store.Put("f.parquet", writeParquet(t, rows[:2], rows[2:]))

	groups := roaring.New()
	groups.Add(1)

	tbl, err := NewParquetReader().Read(context.Background(), store, "f.parquet", ReadRequest{
		RowGroups: groups,
		Limit:     -1,
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if tbl.NumRows() != 1 {
		t.Fatalf("NumRows() = %d, want 1", tbl.NumRows())
	}
	if got := tbl.Column("id").Values[0]; got != int64(3) {
		t.Errorf("id[0] = %v, want 3 (second row group)", got)
	}
}

func TestParquetReaderLimit(t *testing.T) {
	store := NewMemoryStore()
	store.Put("f.parquet", writeParquet(t, eventFixture()))

	tbl, err := NewParquetReader().Read(context.Background(), store, "f.parquet", ReadRequest{Limit: 2})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if tbl.NumRows() != 2 {
		t.Errorf("NumRows() = %d, want 2", tbl.NumRows())
	}
}

func TestParquetReaderCountOnly(t *testing.T) {
	store := NewMemoryStore()
	store.Put("f.parquet", writeParquet(t, eventFixture()))

	tbl, err := NewParquetReader().Read(context.Background(), store, "f.parquet", ReadRequest{
		Columns: []string{},
		Limit:   -1,
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if tbl.NumRows() != 3 || len(tbl.Columns) != 0 {
		t.Errorf("count-only got %d rows, %d columns", tbl.NumRows(), len(tbl.Columns))
	}
}

func TestScanParquetHiveTree(t *testing.T) {
	store := NewMemoryStore()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for a := 1; a <= 3; a++ {
		store.Put(fmt.Sprintf("events/a=%d/part-0.parquet", a), writeParquet(t, []eventRow{
			{ID: int64(a * 100), Name: fmt.Sprintf("row%d", a), Score: float64(a), Active: true, At: at},
		}))
	}

	ctx := context.Background()
	scan, err := New(store).Open(ctx, []string{"events"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	plan, err := scan.Plan(ctx, Query{Predicate: Eq(Col("a"), Lit(int64(2)))})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.SkippedByPredicate != 2 {
		t.Errorf("SkippedByPredicate = %d, want 2", plan.SkippedByPredicate)
	}

	out, err := plan.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 1 {
		t.Fatalf("NumRows() = %d, want 1", out.NumRows())
	}
	if got := out.Column("id").Values[0]; got != int64(200) {
		t.Errorf("id = %v, want 200", got)
	}
	if got := out.Column("a").Values[0]; got != int64(2) {
		t.Errorf("a = %v, want 2", got)
	}
}
