package hivescan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// -----------------------------------------------------------------------------
// Scanner
// -----------------------------------------------------------------------------

// Scanner discovers and reads hive-partitioned datasets from a Store. A
// Scanner is safe for concurrent use; each Open produces an independent Scan.
type Scanner struct {
	store   Store
	readers []FileReader
	list    ListConfig
	log     zerolog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWorkers sets the bounded pool size for listing and per-file reads.
func WithWorkers(n int) Option {
	return func(s *Scanner) { s.list.Workers = n }
}

// WithPrefetch bounds how many operations may be dispatched ahead of the
// workers, providing backpressure against remote storage.
func WithPrefetch(n int) Option {
	return func(s *Scanner) { s.list.Prefetch = n }
}

// WithAsyncListing selects non-blocking discovery, suitable for object
// storage backends where per-prefix listings are independent requests.
func WithAsyncListing() Option {
	return func(s *Scanner) { s.list.Async = true }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scanner) { s.log = log }
}

// WithReaders replaces the configured file readers. The defaults handle
// Parquet and JSON Lines.
func WithReaders(readers ...FileReader) Option {
	return func(s *Scanner) { s.readers = readers }
}

// New creates a Scanner over the given store.
func New(store Store, opts ...Option) *Scanner {
	s := &Scanner{
		store:   store,
		readers: []FileReader{NewParquetReader(), NewJSONLReader()},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) readerFor(path string) (FileReader, error) {
	for _, r := range s.readers {
		if r.Matches(path) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", path, ErrNoReader)
}

// -----------------------------------------------------------------------------
// Open options
// -----------------------------------------------------------------------------

type openOptions struct {
	mode       Mode
	hiveSchema *Schema
	parseDates bool
}

// OpenOption configures one Open call.
type OpenOption func(*openOptions)

// WithPartitioning sets the partitioning mode. The default is ModeAuto.
func WithPartitioning(m Mode) OpenOption {
	return func(o *openOptions) { o.mode = m }
}

// WithHiveSchema overrides inferred partition key types. Keys absent from
// every discovered path are rejected with a FieldNotFoundError. Providing a
// schema does not by itself enable partitioning.
func WithHiveSchema(schema Schema) OpenOption {
	return func(o *openOptions) { o.hiveSchema = &schema }
}

// WithoutHiveDateParsing disables date and datetime inference for partition
// values; such values infer as strings instead. Date parsing is on by
// default.
func WithoutHiveDateParsing() OpenOption {
	return func(o *openOptions) { o.parseDates = false }
}

// -----------------------------------------------------------------------------
// Discovery
// -----------------------------------------------------------------------------

type rootKind int

const (
	rootDir rootKind = iota
	rootFile
	rootGlob
)

// scanRoot is one classified input with its discovered files attached.
type scanRoot struct {
	raw   string
	kind  rootKind
	files []string
}

// Scan is one opened dataset: the discovered files, the resolved partition
// values, and the merged output schema. A Scan is immutable after Open and
// safe for concurrent planning and collection.
type Scan struct {
	scanner *Scanner

	files      []FileEntry
	hiveValues [][]any
	layout     outputLayout

	metaMu    sync.Mutex
	metaCache map[string]FileMeta
}

// Open discovers the dataset's files and resolves its schema. Roots may be
// directories, individual files, or glob patterns; `**` in a pattern matches
// across directory levels. Files are ordered lexicographically within each
// root and roots keep their given order.
//
// Under ModeAuto, partition segments are interpreted only when roots is
// exactly one directory. Under ModeEnabled, directory roots contribute the
// segments below the root while file and glob roots contribute their full
// paths, and every file must carry the same partition key sequence.
func (s *Scanner) Open(ctx context.Context, roots []string, opts ...OpenOption) (*Scan, error) {
	options := openOptions{mode: ModeAuto, parseDates: true}
	for _, opt := range opts {
		opt(&options)
	}
	if len(roots) == 0 {
		return nil, ErrNoFiles
	}

	classified := make([]scanRoot, len(roots))
	err := s.list.run(ctx, len(roots), s.list.Async, func(ctx context.Context, i int) error {
		root, err := s.discoverRoot(ctx, roots[i])
		if err != nil {
			return err
		}
		classified[i] = root
		return nil
	})
	if err != nil {
		return nil, err
	}

	partitioned := partitioningEnabled(options.mode, classified)
	allDirs := true

	var entries []FileEntry
	for _, root := range classified {
		if root.kind != rootDir {
			allDirs = false
		}
		for _, p := range root.files {
			entry := FileEntry{Path: p}
			if partitioned {
				entry.Partitions = parsePathPartitions(root.partitionPath(p))
			}
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoFiles
	}

	if partitioned {
		if err := validatePartitionShape(entries, allDirs); err != nil {
			return nil, err
		}
	}

	var hive Schema
	overridden := make(map[string]bool)
	if partitioned || options.hiveSchema != nil {
		hive, err = resolveHiveSchema(entries, options.hiveSchema, options.parseDates)
		if err != nil {
			return nil, err
		}
	}
	if options.hiveSchema != nil {
		for _, f := range options.hiveSchema.Fields {
			overridden[f.Name] = true
		}
	}

	scan := &Scan{
		scanner:    s,
		files:      entries,
		hiveValues: make([][]any, len(entries)),
		metaCache:  make(map[string]FileMeta),
	}
	for i, entry := range entries {
		values, err := typedPartitionValues(entry, hive)
		if err != nil {
			return nil, err
		}
		scan.hiveValues[i] = values
	}

	// The first file is the schema representative. Files whose physical
	// schema diverges surface errors at read time, not here.
	meta, err := scan.meta(ctx, entries[0].Path)
	if err != nil {
		return nil, err
	}
	scan.layout, err = mergeOutputSchema(meta.Schema, hive, overridden)
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Int("files", len(entries)).
		Int("partition_keys", len(hive.Fields)).
		Str("mode", options.mode.String()).
		Msg("dataset opened")

	return scan, nil
}

// discoverRoot classifies one input and lists its files.
func (s *Scanner) discoverRoot(ctx context.Context, raw string) (scanRoot, error) {
	if hasGlobMeta(raw) {
		paths, err := s.store.List(ctx, globStaticPrefix(raw))
		if err != nil {
			return scanRoot{}, err
		}
		var files []string
		for _, p := range paths {
			if matchGlob(raw, p) && s.readable(p) {
				files = append(files, p)
			}
		}
		sort.Strings(files)
		return scanRoot{raw: raw, kind: rootGlob, files: files}, nil
	}

	trimmed := strings.TrimSuffix(raw, "/")
	if trimmed != "" && trimmed == raw {
		// No trailing slash: an existing object wins over a directory of
		// the same name.
		if _, err := s.store.Stat(ctx, trimmed); err == nil {
			if _, err := s.readerFor(trimmed); err != nil {
				return scanRoot{}, err
			}
			return scanRoot{raw: trimmed, kind: rootFile, files: []string{trimmed}}, nil
		}
	}

	prefix := ""
	if trimmed != "" {
		prefix = trimmed + "/"
	}
	paths, err := s.store.List(ctx, prefix)
	if err != nil {
		return scanRoot{}, err
	}
	if len(paths) == 0 {
		return scanRoot{}, fmt.Errorf("open %q: %w", raw, ErrNotFound)
	}
	var files []string
	for _, p := range paths {
		if s.readable(p) {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return scanRoot{raw: trimmed, kind: rootDir, files: files}, nil
}

// readable reports whether some configured reader handles the path.
// Directory and glob discovery skips marker and sidecar files silently;
// only explicitly named files demand a reader.
func (s *Scanner) readable(p string) bool {
	_, err := s.readerFor(p)
	return err == nil
}

// partitionPath returns the portion of a file path whose directory segments
// may carry partitions. Directory roots contribute only the segments below
// the root; file and glob roots contribute the full path.
func (r scanRoot) partitionPath(p string) string {
	if r.kind != rootDir || r.raw == "" {
		return p
	}
	return strings.TrimPrefix(p, r.raw+"/")
}

// partitioningEnabled applies the mode rules to the classified roots.
func partitioningEnabled(mode Mode, roots []scanRoot) bool {
	switch mode {
	case ModeEnabled:
		return true
	case ModeDisabled:
		return false
	default:
		return len(roots) == 1 && roots[0].kind == rootDir
	}
}

// -----------------------------------------------------------------------------
// Scan accessors
// -----------------------------------------------------------------------------

// Schema returns the merged output schema: physical columns in file order,
// then unshadowed partition keys in first-seen order.
func (s *Scan) Schema() Schema {
	return s.layout.output
}

// HiveSchema returns the resolved partition-key schema.
func (s *Scan) HiveSchema() Schema {
	return s.layout.hive
}

// Files returns the discovered entries in scan order.
func (s *Scan) Files() []FileEntry {
	out := make([]FileEntry, len(s.files))
	copy(out, s.files)
	return out
}

// meta probes one file's metadata, memoizing per path. Planning and
// execution may both need the same file's row counts.
func (s *Scan) meta(ctx context.Context, path string) (FileMeta, error) {
	s.metaMu.Lock()
	cached, ok := s.metaCache[path]
	s.metaMu.Unlock()
	if ok {
		return cached, nil
	}

	reader, err := s.scanner.readerFor(path)
	if err != nil {
		return FileMeta{}, err
	}
	meta, err := reader.Meta(ctx, s.scanner.store, path)
	if err != nil {
		return FileMeta{}, &ReadError{Path: path, Err: err}
	}

	s.metaMu.Lock()
	s.metaCache[path] = meta
	s.metaMu.Unlock()
	return meta, nil
}

// -----------------------------------------------------------------------------
// Execution
// -----------------------------------------------------------------------------

// Collect plans and executes a query in one step.
func (s *Scan) Collect(ctx context.Context, q Query) (*Table, error) {
	plan, err := s.Plan(ctx, q)
	if err != nil {
		return nil, err
	}
	return plan.Collect(ctx)
}

// Collect executes the plan: retained files are read on the scanner's worker
// pool, partition columns are broadcast, the residual predicate is applied
// row-wise, and per-file results are concatenated in scan order. Any file
// read failure aborts the whole collection.
func (p *ScanPlan) Collect(ctx context.Context) (*Table, error) {
	scanner := p.scan.scanner
	scanner.log.Debug().
		Int("files", len(p.Files)).
		Int("skipped_predicate", p.SkippedByPredicate).
		Int("skipped_slice", p.SkippedBySlice).
		Msg("collect")

	tables := make([]*Table, len(p.Files))
	err := scanner.list.run(ctx, len(p.Files), true, func(ctx context.Context, i int) error {
		tbl, err := p.collectFile(ctx, p.Files[i])
		if err != nil {
			return err
		}
		tables[i] = tbl
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := p.concat(tables)
	if !p.sliced && p.limit != nil {
		out = truncateTable(out, *p.limit)
	}
	return out, nil
}

// collectFile reads one file and shapes it into the plan's output schema.
func (p *ScanPlan) collectFile(ctx context.Context, fp FilePlan) (*Table, error) {
	reader, err := p.scan.scanner.readerFor(fp.File.Path)
	if err != nil {
		return nil, err
	}
	tbl, err := reader.Read(ctx, p.scan.scanner.store, fp.File.Path, ReadRequest{
		Columns:   fp.ReadColumns,
		RowGroups: fp.RowGroups,
		Limit:     fp.Limit,
	})
	if err != nil {
		var re *ReadError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, &ReadError{Path: fp.File.Path, Err: err}
	}

	layout := p.scan.layout
	rows := tbl.NumRows()

	// Physical values, with override casts applied.
	physical := make(map[string][]any, len(tbl.Columns))
	for _, col := range tbl.Columns {
		values := col.Values
		if to, ok := layout.casts[col.Name]; ok && to != col.Type {
			values = make([]any, len(col.Values))
			for i, v := range col.Values {
				if v == nil {
					continue
				}
				cast, err := castValue(v, to)
				if err != nil {
					return nil, &ReadError{Path: fp.File.Path, Err: err}
				}
				values[i] = cast
			}
		}
		physical[col.Name] = values
	}

	hiveValue := func(name string) (any, bool) {
		idx := layout.hive.Index(name)
		if idx < 0 {
			return nil, false
		}
		return fp.hiveValues[idx], true
	}

	// The full predicate runs against every materialized row, so files
	// retained through unknown pushdown outcomes never leak rows.
	keep := make([]int64, 0, rows)
	if p.residual == nil {
		for r := int64(0); r < rows; r++ {
			keep = append(keep, r)
		}
	} else {
		for r := int64(0); r < rows; r++ {
			bind := func(name string) (any, bool) {
				if values, ok := physical[name]; ok {
					return values[r], true
				}
				return hiveValue(name)
			}
			if evalTri(p.residual, bind) == triTrue {
				keep = append(keep, r)
			}
		}
	}

	cols := make([]Column, len(p.Output.Fields))
	for i, f := range p.Output.Fields {
		values := make([]any, len(keep))
		if src, ok := physical[f.Name]; ok {
			for ki, r := range keep {
				values[ki] = src[r]
			}
		} else if v, ok := hiveValue(f.Name); ok {
			for ki := range keep {
				values[ki] = v
			}
		}
		cols[i] = Column{Name: f.Name, Type: f.Type, Values: values}
	}

	out := &Table{Columns: cols, rows: int64(len(keep))}
	return out, nil
}

// concat stitches per-file tables together in scan order under the output
// schema. Column-less tables contribute only their row counts.
func (p *ScanPlan) concat(tables []*Table) *Table {
	var total int64
	for _, t := range tables {
		total += t.NumRows()
	}

	cols := make([]Column, len(p.Output.Fields))
	for i, f := range p.Output.Fields {
		values := make([]any, 0, total)
		for _, t := range tables {
			if src := t.Column(f.Name); src != nil {
				values = append(values, src.Values...)
			} else {
				values = append(values, make([]any, t.NumRows())...)
			}
		}
		cols[i] = Column{Name: f.Name, Type: f.Type, Values: values}
	}
	return &Table{Columns: cols, rows: total}
}

func truncateTable(t *Table, limit int64) *Table {
	if limit < 0 || t.rows <= limit {
		return t
	}
	cols := make([]Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = Column{Name: c.Name, Type: c.Type, Values: c.Values[:limit]}
	}
	return &Table{Columns: cols, rows: limit}
}
