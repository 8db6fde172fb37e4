package hivescan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func putJSONL(store *MemoryStore, path string, lines ...string) {
	store.Put(path, []byte(strings.Join(lines, "\n")+"\n"))
}

// fiveFileStore builds a dataset of five single-key partitions with two rows
// each.
func fiveFileStore() *MemoryStore {
	store := NewMemoryStore()
	for a := 1; a <= 5; a++ {
		putJSONL(store, fmt.Sprintf("sales/a=%d/data.jsonl", a),
			fmt.Sprintf(`{"x": %d, "y": "first"}`, a*10),
			fmt.Sprintf(`{"x": %d, "y": "second"}`, a*10+1),
		)
	}
	return store
}

func TestOpenAutoModeDirectory(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	schema := scan.Schema()
	wantNames := []string{"x", "y", "a"}
	names := schema.Names()
	if len(names) != len(wantNames) {
		t.Fatalf("Schema() = %v, want %v", names, wantNames)
	}
	for i := range wantNames {
		if names[i] != wantNames[i] {
			t.Errorf("Schema()[%d] = %q, want %q", i, names[i], wantNames[i])
		}
	}
	if got := schema.Fields[2].Type; got != TypeInt64 {
		t.Errorf("partition key type = %v, want %v", got, TypeInt64)
	}
	if got := len(scan.Files()); got != 5 {
		t.Errorf("Files() returned %d entries, want 5", got)
	}
}

func TestOpenAutoModeSingleFile(t *testing.T) {
	ctx := context.Background()
	store := fiveFileStore()

	// An explicit file input never enables partitioning under auto.
	scan, err := New(store).Open(ctx, []string{"sales/a=1/data.jsonl"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if scan.Schema().Has("a") {
		t.Errorf("Schema() = %v, partition key leaked under auto mode", scan.Schema().Names())
	}

	// Forcing partitioning parses the full path.
	scan, err = New(store).Open(ctx, []string{"sales/a=1/data.jsonl"}, WithPartitioning(ModeEnabled))
	if err != nil {
		t.Fatalf("Open(enabled) error = %v", err)
	}
	if !scan.Schema().Has("a") {
		t.Errorf("Schema() = %v, want partition key a", scan.Schema().Names())
	}
}

func TestOpenDisabledMode(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"}, WithPartitioning(ModeDisabled))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if scan.Schema().Has("a") {
		t.Errorf("Schema() = %v, want no partition columns", scan.Schema().Names())
	}
	if got := len(scan.Files()); got != 5 {
		t.Errorf("Files() returned %d entries, want 5", got)
	}
}

func TestOpenGlobRoot(t *testing.T) {
	ctx := context.Background()
	store := fiveFileStore()

	scan, err := New(store).Open(ctx, []string{"sales/**/*.jsonl"}, WithPartitioning(ModeEnabled))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := len(scan.Files()); got != 5 {
		t.Errorf("Files() returned %d entries, want 5", got)
	}
	if !scan.Schema().Has("a") {
		t.Errorf("Schema() = %v, want partition key a", scan.Schema().Names())
	}

	if _, err := New(store).Open(ctx, []string{"sales/**/*.parquet"}); !errors.Is(err, ErrNoFiles) {
		t.Errorf("Open(non-matching glob) error = %v, want ErrNoFiles", err)
	}
}

func TestOpenMissingRoot(t *testing.T) {
	ctx := context.Background()
	if _, err := New(fiveFileStore()).Open(ctx, []string{"warehouse"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing dir) error = %v, want ErrNotFound", err)
	}
	if _, err := New(fiveFileStore()).Open(ctx, nil); !errors.Is(err, ErrNoFiles) {
		t.Errorf("Open(no roots) error = %v, want ErrNoFiles", err)
	}
}

func TestOpenDirectoryLevelMismatch(t *testing.T) {
	store := NewMemoryStore()
	putJSONL(store, "flat/a=1/data.jsonl", `{"x": 1}`)
	putJSONL(store, "deep/a=2/b=9/data.jsonl", `{"x": 2}`)

	_, err := New(store).Open(context.Background(), []string{"flat", "deep"}, WithPartitioning(ModeEnabled))
	var dm *DirectoryMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("Open() error = %v, want DirectoryMismatchError", err)
	}
	if !strings.Contains(dm.Error(), "different directory levels") {
		t.Errorf("unexpected message %q", dm.Error())
	}
}

func TestOpenMultipleDirectoriesSameLevel(t *testing.T) {
	store := NewMemoryStore()
	putJSONL(store, "set1/a=1/data.jsonl", `{"x": 1}`)
	putJSONL(store, "set2/a=2/data.jsonl", `{"x": 2}`)

	scan, err := New(store).Open(context.Background(), []string{"set1", "set2"}, WithPartitioning(ModeEnabled))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	out, err := scan.Collect(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2", out.NumRows())
	}
	// Root order decides scan order.
	a := out.Column("a")
	if a.Values[0] != int64(1) || a.Values[1] != int64(2) {
		t.Errorf("a = %v, want [1 2]", a.Values)
	}
}

func TestOpenHiveSchemaOverride(t *testing.T) {
	ctx := context.Background()
	store := fiveFileStore()

	override := Schema{Fields: []Field{{Name: "a", Type: TypeString}}}
	scan, err := New(store).Open(ctx, []string{"sales"}, WithHiveSchema(override))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	idx := scan.Schema().Index("a")
	if got := scan.Schema().Fields[idx].Type; got != TypeString {
		t.Errorf("overridden type = %v, want %v", got, TypeString)
	}

	missing := Schema{Fields: []Field{{Name: "z", Type: TypeInt64}}}
	_, err = New(store).Open(ctx, []string{"sales"}, WithHiveSchema(missing))
	var fnf *FieldNotFoundError
	if !errors.As(err, &fnf) {
		t.Fatalf("Open(unknown override key) error = %v, want FieldNotFoundError", err)
	}
}

func TestPlanPredicatePruning(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	plan, err := scan.Plan(ctx, Query{Predicate: In(Col("a"), int64(1), int64(4))})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.SkippedByPredicate != 3 {
		t.Errorf("SkippedByPredicate = %d, want 3", plan.SkippedByPredicate)
	}
	if len(plan.Files) != 2 {
		t.Fatalf("retained %d files, want 2", len(plan.Files))
	}

	out, err := plan.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 4 {
		t.Errorf("NumRows() = %d, want 4", out.NumRows())
	}
	for _, v := range out.Column("a").Values {
		if v != int64(1) && v != int64(4) {
			t.Errorf("leaked row with a = %v", v)
		}
	}
}

func TestPlanPruningNeverOpensFiles(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Planning without a limit must not touch file metadata beyond the
	// schema representative probed at Open.
	before := len(scan.metaCache)
	if _, err := scan.Plan(ctx, Query{Predicate: Eq(Col("a"), Lit(int64(3)))}); err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if got := len(scan.metaCache); got != before {
		t.Errorf("plan probed %d extra files, want 0", got-before)
	}
}

func TestCollectResidualPredicate(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// x is physical, so the conjunct cannot be pushed down; every file is
	// read and filtered row-wise.
	q := Query{Predicate: And(Gt(Col("a"), Lit(int64(3))), Eq(Col("y"), Lit("first")))}
	plan, err := scan.Plan(ctx, q)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.SkippedByPredicate != 3 {
		t.Errorf("SkippedByPredicate = %d, want 3", plan.SkippedByPredicate)
	}

	out, err := plan.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2", out.NumRows())
	}
	for _, v := range out.Column("y").Values {
		if v != "first" {
			t.Errorf("leaked row with y = %v", v)
		}
	}
}

func TestCollectProjection(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Partition-only projection still yields one value per data row.
	out, err := scan.Collect(ctx, Query{Projection: []string{"a"}})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 10 {
		t.Fatalf("NumRows() = %d, want 10", out.NumRows())
	}
	if len(out.Columns) != 1 || out.Columns[0].Name != "a" {
		t.Fatalf("Columns = %v, want [a]", out.Schema().Names())
	}

	// Projection order is the request order.
	out, err = scan.Collect(ctx, Query{Projection: []string{"a", "x"}})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.Columns[0].Name != "a" || out.Columns[1].Name != "x" {
		t.Errorf("Columns = %v, want [a x]", out.Schema().Names())
	}

	if _, err := scan.Collect(ctx, Query{Projection: []string{"nope"}}); err == nil {
		t.Fatal("Collect(unknown projection) error = nil, want ColumnNotFoundError")
	} else {
		var cnf *ColumnNotFoundError
		if !errors.As(err, &cnf) {
			t.Errorf("error = %v, want ColumnNotFoundError", err)
		}
	}
}

func TestCollectLimitSlicing(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	plan, err := scan.Plan(ctx, Query{Limit: RowLimit(3)})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !plan.sliced {
		t.Error("plan.sliced = false, want true")
	}
	// Two rows per file: the second file is the truncated boundary, three
	// files are skipped outright.
	if len(plan.Files) != 2 {
		t.Fatalf("retained %d files, want 2", len(plan.Files))
	}
	if plan.SkippedBySlice != 3 {
		t.Errorf("SkippedBySlice = %d, want 3", plan.SkippedBySlice)
	}
	if plan.Files[1].Limit != 1 {
		t.Errorf("boundary file limit = %d, want 1", plan.Files[1].Limit)
	}

	out, err := plan.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 3 {
		t.Errorf("NumRows() = %d, want 3", out.NumRows())
	}
}

func TestCollectLimitZero(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	out, err := scan.Collect(ctx, Query{Limit: RowLimit(0)})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 0 {
		t.Errorf("NumRows() = %d, want 0", out.NumRows())
	}
	// The schema survives an empty result.
	if got := len(out.Columns); got != 3 {
		t.Errorf("Columns = %d, want 3", got)
	}
}

func TestCollectLimitWithResidual(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// A residual predicate disables slicing; the limit is applied after
	// filtering instead, so it never undercounts.
	q := Query{Predicate: Eq(Col("y"), Lit("second")), Limit: RowLimit(2)}
	plan, err := scan.Plan(ctx, q)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.sliced {
		t.Error("plan.sliced = true with a residual predicate")
	}

	out, err := plan.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2", out.NumRows())
	}
	for _, v := range out.Column("y").Values {
		if v != "second" {
			t.Errorf("leaked row with y = %v", v)
		}
	}
}

func TestCollectNullPartition(t *testing.T) {
	store := NewMemoryStore()
	putJSONL(store, "d/a=1/data.jsonl", `{"x": 1}`)
	putJSONL(store, "d/a=__HIVE_DEFAULT_PARTITION__/data.jsonl", `{"x": 2}`)

	ctx := context.Background()
	scan, err := New(store).Open(ctx, []string{"d"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	out, err := scan.Collect(ctx, Query{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2", out.NumRows())
	}
	var sawNull bool
	for _, v := range out.Column("a").Values {
		if v == nil {
			sawNull = true
		}
	}
	if !sawNull {
		t.Error("null partition value not materialized as nil")
	}

	// Equality against a null partition is unknown: the file is retained
	// but its rows never pass the row filter.
	out, err = scan.Collect(ctx, Query{Predicate: Eq(Col("a"), Lit(int64(1)))})
	if err != nil {
		t.Fatalf("Collect(filter) error = %v", err)
	}
	if out.NumRows() != 1 {
		t.Errorf("NumRows() = %d, want 1", out.NumRows())
	}

	// IS NULL selects exactly the sentinel file's rows.
	out, err = scan.Collect(ctx, Query{Predicate: IsNull(Col("a"))})
	if err != nil {
		t.Fatalf("Collect(is null) error = %v", err)
	}
	if out.NumRows() != 1 {
		t.Errorf("is null NumRows() = %d, want 1", out.NumRows())
	}
}

func TestCollectShadowedColumn(t *testing.T) {
	store := NewMemoryStore()
	// The file carries its own column a; the directory value only prunes.
	putJSONL(store, "d/a=1/data.jsonl", `{"a": 1, "x": 10}`, `{"a": 1, "x": 11}`)
	putJSONL(store, "d/a=2/data.jsonl", `{"a": 2, "x": 20}`)

	ctx := context.Background()
	scan, err := New(store).Open(ctx, []string{"d"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// No duplicated column.
	names := scan.Schema().Names()
	if len(names) != 2 {
		t.Fatalf("Schema() = %v, want [a x]", names)
	}

	plan, err := scan.Plan(ctx, Query{Predicate: Eq(Col("a"), Lit(int64(2)))})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.SkippedByPredicate != 1 {
		t.Errorf("SkippedByPredicate = %d, want 1 (directory value prunes)", plan.SkippedByPredicate)
	}

	out, err := plan.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 1 {
		t.Fatalf("NumRows() = %d, want 1", out.NumRows())
	}
	if got := out.Column("a").Values[0]; got != int64(2) {
		t.Errorf("a = %v (%T), want 2 from the physical column", got, got)
	}
}

func TestCollectPredicateUnknownColumn(t *testing.T) {
	ctx := context.Background()
	scan, err := New(fiveFileStore()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	_, err = scan.Plan(ctx, Query{Predicate: Eq(Col("ghost"), Lit(int64(1)))})
	var cnf *ColumnNotFoundError
	if !errors.As(err, &cnf) {
		t.Fatalf("Plan() error = %v, want ColumnNotFoundError", err)
	}
}

func TestOpenDateInference(t *testing.T) {
	store := NewMemoryStore()
	putJSONL(store, "d/day=2024-01-01/data.jsonl", `{"x": 1}`)
	putJSONL(store, "d/day=2024-02-01/data.jsonl", `{"x": 2}`)

	ctx := context.Background()
	scan, err := New(store).Open(ctx, []string{"d"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	idx := scan.Schema().Index("day")
	if got := scan.Schema().Fields[idx].Type; got != TypeDate {
		t.Errorf("day type = %v, want %v", got, TypeDate)
	}

	out, err := scan.Collect(ctx, Query{
		Predicate: Lt(Col("day"), Lit(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))),
	})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if out.NumRows() != 1 {
		t.Errorf("NumRows() = %d, want 1", out.NumRows())
	}

	// With date parsing off the key stays a string.
	scan, err = New(store).Open(ctx, []string{"d"}, WithoutHiveDateParsing())
	if err != nil {
		t.Fatalf("Open(no dates) error = %v", err)
	}
	idx = scan.Schema().Index("day")
	if got := scan.Schema().Fields[idx].Type; got != TypeString {
		t.Errorf("day type without parsing = %v, want %v", got, TypeString)
	}
}

func TestCollectAsyncMatchesSync(t *testing.T) {
	ctx := context.Background()
	store := fiveFileStore()

	sequential, err := New(store).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	concurrent, err := New(store, WithWorkers(4), WithPrefetch(2), WithAsyncListing()).Open(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Open(async) error = %v", err)
	}

	a, err := sequential.Collect(ctx, Query{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	b, err := concurrent.Collect(ctx, Query{})
	if err != nil {
		t.Fatalf("Collect(async) error = %v", err)
	}

	if a.NumRows() != b.NumRows() {
		t.Fatalf("row counts differ: %d vs %d", a.NumRows(), b.NumRows())
	}
	ax, bx := a.Column("x"), b.Column("x")
	for i := range ax.Values {
		if ax.Values[i] != bx.Values[i] {
			t.Errorf("row %d differs: %v vs %v", i, ax.Values[i], bx.Values[i])
		}
	}
}

func TestCollectReadErrorAborts(t *testing.T) {
	store := NewMemoryStore()
	putJSONL(store, "d/a=1/data.jsonl", `{"x": 1}`)
	store.Put("d/a=2/data.jsonl.gz", []byte("not gzip at all"))

	ctx := context.Background()
	scan, err := New(store).Open(ctx, []string{"d"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	_, err = scan.Collect(ctx, Query{})
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("Collect() error = %v, want ReadError", err)
	}
	if re.Path != "d/a=2/data.jsonl.gz" {
		t.Errorf("ReadError.Path = %q", re.Path)
	}
}
