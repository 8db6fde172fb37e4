// Package hivescan plans and executes scans over hive-partitioned trees of
// columnar data files.
//
// A hive-partitioned tree encodes column values into directory names using
// the `key=value` convention. Hivescan discovers that structure from file
// paths, resolves a unified schema across in-file columns and
// directory-encoded partition columns, and pushes predicates, projections,
// and row limits down to file-skip time so that pruned files are never
// opened.
//
// Hivescan does not write files and does not parse SQL. Physical decoding is
// delegated to pluggable FileReader implementations (Parquet and JSONL are
// provided); storage is abstracted behind Store (filesystem, in-memory, and
// S3 adapters are provided).
package hivescan

import (
	"context"
	"io"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// -----------------------------------------------------------------------------
// Data types
// -----------------------------------------------------------------------------

// DataType enumerates the semantic column types hivescan understands.
type DataType int

// Column type constants for schema fields and partition values.
const (
	TypeBoolean DataType = iota
	TypeInt64
	TypeFloat64
	TypeString
	TypeDate
	TypeDatetime
	dataTypeMax // sentinel for validation
)

// String returns the lowercase type name.
func (t DataType) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeDate:
		return "date"
	case TypeDatetime:
		return "datetime"
	default:
		return "invalid"
	}
}

// valid reports whether t is one of the declared type constants.
func (t DataType) valid() bool {
	return t >= 0 && t < dataTypeMax
}

// Field is a named, typed column in a schema.
type Field struct {
	Name string
	Type DataType
}

// Schema is an ordered list of fields. Field order is significant: it
// determines default output column order.
type Schema struct {
	Fields []Field
}

// Index returns the position of the named field, or -1 if absent.
func (s Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the schema contains the named field.
func (s Schema) Has(name string) bool {
	return s.Index(name) >= 0
}

// Names returns the field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// -----------------------------------------------------------------------------
// Tables
// -----------------------------------------------------------------------------

// Column holds one output column. Values use Go representations matching the
// column type (int64, float64, string, bool, time.Time); nil marks a null.
type Column struct {
	Name   string
	Type   DataType
	Values []any
}

// Table is a columnar result set. A table may carry a row count with zero
// columns, which happens when a projection selects only partition keys and
// the file is probed solely for its length.
type Table struct {
	Columns []Column
	rows    int64
}

// NewTable creates a table from columns. All columns must share one length.
func NewTable(cols ...Column) *Table {
	t := &Table{Columns: cols}
	if len(cols) > 0 {
		t.rows = int64(len(cols[0].Values))
	}
	return t
}

// NewRowCountTable creates a column-less table that only carries a row count.
func NewRowCountTable(rows int64) *Table {
	return &Table{rows: rows}
}

// NumRows returns the number of rows in the table.
func (t *Table) NumRows() int64 {
	return t.rows
}

// Column returns the named column, or nil if absent.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Schema returns the table's column names and types in column order.
func (t *Table) Schema() Schema {
	fields := make([]Field, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = Field{Name: c.Name, Type: c.Type}
	}
	return Schema{Fields: fields}
}

// -----------------------------------------------------------------------------
// Partitions and file entries
// -----------------------------------------------------------------------------

// NullPartitionValue is the reserved path literal for a null partition value.
const NullPartitionValue = "__HIVE_DEFAULT_PARTITION__"

// Partition is one `key=value` pair extracted from a file path. Value is
// percent-decoded raw text; use IsNull to test for the reserved null literal.
type Partition struct {
	Key   string
	Value string
}

// IsNull reports whether the partition value is the reserved null literal.
func (p Partition) IsNull() bool {
	return p.Value == NullPartitionValue
}

// FileEntry is one discovered data file with its partition tuples attached.
// Entries are immutable once discovery completes and may be shared across
// goroutines.
type FileEntry struct {
	// Path is the store-relative path of the file.
	Path string

	// Partitions holds the ordered (key, value) pairs parsed from the path.
	// Empty when partitioning is disabled or the path carries no segments.
	Partitions []Partition
}

// partitionValue returns the raw value for the given key and whether the
// entry carries that key.
func (f FileEntry) partitionValue(key string) (string, bool) {
	for _, p := range f.Partitions {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	// Path is the object's store-relative path.
	Path string

	// SizeBytes is the object size in bytes.
	SizeBytes int64
}

// SizedReaderAt combines random access reads with size information, as
// required by footer-based formats such as Parquet.
type SizedReaderAt interface {
	io.ReaderAt
	io.Closer

	// Size returns the total size of the object in bytes.
	Size() int64
}

// Store abstracts read-only access to the underlying object storage.
//
// Implementations may target filesystems, S3, or other object stores. Paths
// are store-relative and use forward slashes. The interface is intentionally
// minimal to avoid backend-specific leakage.
type Store interface {
	// List returns all object paths under the given prefix, in unspecified
	// order. A missing prefix yields an empty slice, not an error.
	List(ctx context.Context, prefix string) ([]string, error)

	// Stat returns metadata about an object.
	// Returns ErrNotFound if the object does not exist or is a directory.
	Stat(ctx context.Context, path string) (ObjectInfo, error)

	// Open returns a reader for the entire object.
	// The caller must close the reader when done.
	// Returns ErrNotFound if the object does not exist.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// ReaderAt returns a random-access reader for an object. Range reads
	// must be true range reads (seek+read, HTTP Range), not simulated full
	// downloads. The caller must close the reader when done.
	// Returns ErrNotFound if the object does not exist.
	ReaderAt(ctx context.Context, path string) (SizedReaderAt, error)
}

// -----------------------------------------------------------------------------
// File readers
// -----------------------------------------------------------------------------

// FileMeta describes a data file without decoding its rows.
type FileMeta struct {
	// Schema lists the physical columns as stored, in file order.
	Schema Schema

	// NumRows is the total row count of the file.
	NumRows int64

	// RowGroupRows holds per-row-group row counts, in row-group order.
	// Formats without row groups report a single group covering the file.
	RowGroupRows []int64
}

// ReadRequest restricts what a FileReader must materialize.
type ReadRequest struct {
	// Columns are the physical column names to materialize, in request
	// order. A nil slice selects every column; an empty non-nil slice
	// selects none, in which case only the row count is produced.
	Columns []string

	// RowGroups selects which row groups to read. Nil selects all.
	// Formats without row groups ignore this and must apply Limit instead.
	RowGroups *roaring.Bitmap

	// Limit caps the number of rows read from the selected row groups.
	// Negative means no cap.
	Limit int64
}

// FileReader decodes one physical columnar file format.
//
// Implementations must be safe for concurrent use: a single reader value is
// shared across worker goroutines, with per-call state only.
type FileReader interface {
	// Name returns the format identifier (for example, "parquet").
	Name() string

	// Matches reports whether this reader handles the given path,
	// typically by extension.
	Matches(path string) bool

	// Meta probes the file's schema and row counts without decoding rows.
	Meta(ctx context.Context, store Store, path string) (FileMeta, error)

	// Read materializes the requested columns. The returned table's
	// NumRows reflects the rows covered by the request even when no
	// columns were selected.
	Read(ctx context.Context, store Store, path string, req ReadRequest) (*Table, error)
}

// -----------------------------------------------------------------------------
// Partition value parsing
// -----------------------------------------------------------------------------

// date layouts accepted for hive partition values.
const (
	dateLayout = "2006-01-02"
)

// datetimeLayouts accepted for hive partition values, tried in order.
var datetimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	dateLayout,
}

// parseTyped parses a raw partition value under the given type. It returns
// the typed Go value, or an error when the text does not conform. The null
// literal must be handled by the caller; it never reaches here.
func parseTyped(raw string, t DataType) (any, error) {
	switch t {
	case TypeInt64:
		return parseInt(raw)
	case TypeFloat64:
		return parseFloat(raw)
	case TypeBoolean:
		return parseBool(raw)
	case TypeDate:
		return parseDate(raw)
	case TypeDatetime:
		return parseDatetime(raw)
	case TypeString:
		return raw, nil
	default:
		return nil, &CoercionError{Value: raw, Type: t}
	}
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, raw, time.UTC)
}

func parseDatetime(raw string) (time.Time, error) {
	var firstErr error
	for _, layout := range datetimeLayouts {
		ts, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return ts, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
