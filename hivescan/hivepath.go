package hivescan

import (
	"net/url"
	"strings"
)

// -----------------------------------------------------------------------------
// Partitioning mode
// -----------------------------------------------------------------------------

// Mode controls whether `key=value` path segments are interpreted as
// partition columns.
type Mode int

// Partitioning modes.
const (
	// ModeAuto enables partitioning only when the scan input is exactly
	// one directory: not a file, not a glob, not a list. Every other
	// input shape behaves as ModeDisabled.
	ModeAuto Mode = iota

	// ModeEnabled interprets partition segments for every input and
	// requires a consistent partition shape across all of them.
	ModeEnabled

	// ModeDisabled uses paths purely for file discovery.
	ModeDisabled
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeEnabled:
		return "enabled"
	case ModeDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}

// -----------------------------------------------------------------------------
// Path parsing
// -----------------------------------------------------------------------------

// parsePathPartitions extracts ordered (key, value) pairs from the directory
// segments of a store-relative file path. The file basename never
// contributes: a file named `file=8484.parquet` is not a partition segment.
// Segments without `=` are traversed but contribute nothing. Values are
// percent-decoded.
func parsePathPartitions(p string) []Partition {
	segments := strings.Split(p, "/")
	if len(segments) < 2 {
		return nil
	}

	var parts []Partition
	for _, seg := range segments[:len(segments)-1] {
		key, value, ok := splitPartitionSegment(seg)
		if !ok {
			continue
		}
		parts = append(parts, Partition{Key: key, Value: value})
	}
	return parts
}

// splitPartitionSegment splits one directory segment of the form
// `key=value`. The value may be empty; the key may not.
func splitPartitionSegment(seg string) (key, value string, ok bool) {
	idx := strings.IndexByte(seg, '=')
	if idx <= 0 {
		return "", "", false
	}
	return seg[:idx], decodePartitionValue(seg[idx+1:]), true
}

// decodePartitionValue percent-decodes a raw value segment. Malformed
// escapes fall back to the raw text rather than failing the scan.
func decodePartitionValue(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// encodePartitionValue is the write-side counterpart of
// decodePartitionValue, used to construct partition segments in fixtures
// and examples.
func encodePartitionValue(raw string) string {
	return url.PathEscape(raw)
}

// -----------------------------------------------------------------------------
// Shape validation
// -----------------------------------------------------------------------------

// partitionKeys returns the ordered key sequence of an entry.
func partitionKeys(e FileEntry) []string {
	keys := make([]string, len(e.Partitions))
	for i, p := range e.Partitions {
		keys[i] = p.Key
	}
	return keys
}

// validatePartitionShape checks that every discovered entry carries the same
// partition key sequence, in the same order and at the same depth. The first
// conflicting pair of paths is reported. When all roots were plain
// directories the conflict is a directory-level mismatch; mixed input kinds
// report an ambiguous shape instead.
func validatePartitionShape(entries []FileEntry, allDirs bool) error {
	if len(entries) < 2 {
		return nil
	}

	ref := partitionKeys(entries[0])
	for _, e := range entries[1:] {
		keys := partitionKeys(e)
		if equalKeySequence(ref, keys) {
			continue
		}
		if allDirs {
			return &DirectoryMismatchError{PathA: entries[0].Path, PathB: e.Path}
		}
		return &AmbiguousShapeError{
			Reason: "inputs resolve to different partition key sequences: " +
				entries[0].Path + " vs " + e.Path,
		}
	}
	return nil
}

func equalKeySequence(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
