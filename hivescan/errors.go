package hivescan

import "fmt"

// -----------------------------------------------------------------------------
// Sentinel errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a requested object does not exist.
	ErrNotFound = errNotFound{}

	// ErrNoFiles indicates discovery matched no data files.
	ErrNoFiles = errNoFiles{}

	// ErrNoReader indicates no configured FileReader handles a discovered
	// file's format.
	ErrNoReader = errNoReader{}
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errNoFiles struct{}

func (errNoFiles) Error() string { return "no files found" }

type errNoReader struct{}

func (errNoReader) Error() string { return "no reader for file format" }

// -----------------------------------------------------------------------------
// Structured errors
// -----------------------------------------------------------------------------

// FieldNotFoundError indicates a hive schema override names a partition key
// that was never discovered in any file path. Detected during planning,
// before any file I/O.
type FieldNotFoundError struct {
	Key string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("hive schema field not found in any path: %q", e.Key)
}

// CoercionError indicates a partition value could not be parsed under its
// resolved or overridden type. Key is empty when the failing value was not
// tied to a specific partition key.
type CoercionError struct {
	Key   string
	Value string
	Type  DataType
}

func (e *CoercionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cannot parse hive value %q as %s", e.Value, e.Type)
	}
	return fmt.Sprintf("cannot parse hive value %q for key %q as %s", e.Value, e.Key, e.Type)
}

// DirectoryMismatchError indicates multiple root inputs yield inconsistent
// partition key sequences or depths.
type DirectoryMismatchError struct {
	PathA string
	PathB string
}

func (e *DirectoryMismatchError) Error() string {
	return fmt.Sprintf(
		"attempted to read from different directory levels with hive partitioning enabled: %q vs %q",
		e.PathA, e.PathB,
	)
}

// AmbiguousShapeError indicates a mix of inputs (for example, files and
// directories) cannot be reconciled into one partition key sequence.
type AmbiguousShapeError struct {
	Reason string
}

func (e *AmbiguousShapeError) Error() string {
	return "ambiguous partition shape: " + e.Reason
}

// ColumnNotFoundError indicates a projection or predicate references a
// column absent from both the physical and hive schemas.
type ColumnNotFoundError struct {
	Name string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column not found: %q", e.Name)
}

// ReadError wraps a physical reader failure for a retained file. Read
// failures abort the whole scan; partial results are never returned.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %q: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
