package hivescan

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"math"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
)

// json is a drop-in replacement for encoding/json with better performance.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// -----------------------------------------------------------------------------
// JSONL reader
// -----------------------------------------------------------------------------

// jsonlReader implements FileReader for JSON Lines files, optionally
// compressed with gzip (.gz) or zstd (.zst). Each line is one record.
//
// JSONL has no row groups; ReadRequest.RowGroups is ignored and Limit is
// applied directly. The schema is inferred from the records: keys keep
// first-seen order, numbers are int64 when every occurrence is integral and
// float64 otherwise, and conflicting kinds widen to string.
type jsonlReader struct{}

// NewJSONLReader creates the JSON Lines FileReader.
func NewJSONLReader() FileReader {
	return &jsonlReader{}
}

func (j *jsonlReader) Name() string {
	return "jsonl"
}

func (j *jsonlReader) Matches(path string) bool {
	for _, ext := range []string{".jsonl", ".ndjson", ".jsonl.gz", ".ndjson.gz", ".jsonl.zst", ".ndjson.zst"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func (j *jsonlReader) Meta(ctx context.Context, store Store, path string) (FileMeta, error) {
	records, keys, err := j.decode(ctx, store, path)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{
		Schema:       inferJSONLSchema(records, keys),
		NumRows:      int64(len(records)),
		RowGroupRows: []int64{int64(len(records))},
	}, nil
}

func (j *jsonlReader) Read(ctx context.Context, store Store, path string, req ReadRequest) (*Table, error) {
	records, keys, err := j.decode(ctx, store, path)
	if err != nil {
		return nil, err
	}
	schema := inferJSONLSchema(records, keys)

	if req.Limit >= 0 && int64(len(records)) > req.Limit {
		records = records[:req.Limit]
	}

	wanted := req.Columns
	if wanted == nil {
		wanted = schema.Names()
	}

	cols := make([]Column, len(wanted))
	for i, name := range wanted {
		idx := schema.Index(name)
		if idx < 0 {
			return nil, &ReadError{Path: path, Err: &ColumnNotFoundError{Name: name}}
		}
		col := Column{Name: name, Type: schema.Fields[idx].Type, Values: make([]any, len(records))}
		for ri, rec := range records {
			col.Values[ri] = coerceJSONValue(rec[name], col.Type)
		}
		cols[i] = col
	}

	return &Table{Columns: cols, rows: int64(len(records))}, nil
}

// decode reads every record of the file. The second result is the key order:
// first-seen across all records.
func (j *jsonlReader) decode(ctx context.Context, store Store, path string) ([]map[string]any, []string, error) {
	rc, err := store.Open(ctx, path)
	if err != nil {
		return nil, nil, &ReadError{Path: path, Err: err}
	}
	defer func() { _ = rc.Close() }()

	r, closeDecomp, err := decompress(rc, path)
	if err != nil {
		return nil, nil, &ReadError{Path: path, Err: err}
	}
	defer closeDecomp()

	var (
		records []map[string]any
		keys    []string
		seen    = make(map[string]struct{})
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		record := make(map[string]any)
		iter := json.BorrowIterator(line)
		iter.ReadMapCB(func(it *jsoniter.Iterator, field string) bool {
			if _, ok := seen[field]; !ok {
				seen[field] = struct{}{}
				keys = append(keys, field)
			}
			record[field] = it.Read()
			return true
		})
		err := iter.Error
		json.ReturnIterator(iter)
		if err != nil && err != io.EOF {
			return nil, nil, &ReadError{Path: path, Err: err}
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, &ReadError{Path: path, Err: err}
	}
	return records, keys, nil
}

// decompress wraps the stream according to the path's compression
// extension.
func decompress(r io.Reader, path string) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { _ = gz.Close() }, nil
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	default:
		return r, func() {}, nil
	}
}

// inferJSONLSchema infers column types over all records.
func inferJSONLSchema(records []map[string]any, keys []string) Schema {
	fields := make([]Field, len(keys))
	for i, key := range keys {
		fields[i] = Field{Name: key, Type: inferJSONColumnType(records, key)}
	}
	return Schema{Fields: fields}
}

func inferJSONColumnType(records []map[string]any, key string) DataType {
	sawBool, sawString, sawFloat, sawInt, sawOther := false, false, false, false, false
	for _, rec := range records {
		switch v := rec[key].(type) {
		case nil:
		case bool:
			sawBool = true
		case string:
			sawString = true
		case float64:
			if math.Trunc(v) == v {
				sawInt = true
			} else {
				sawFloat = true
			}
		default:
			sawOther = true
		}
	}

	switch {
	case sawOther || sawString:
		return TypeString
	case sawBool && !sawFloat && !sawInt:
		return TypeBoolean
	case sawBool:
		return TypeString
	case sawFloat:
		return TypeFloat64
	case sawInt:
		return TypeInt64
	default:
		// All null (or key absent everywhere).
		return TypeString
	}
}

// coerceJSONValue maps one decoded JSON value to the column's inferred type.
func coerceJSONValue(v any, t DataType) any {
	if v == nil {
		return nil
	}
	switch t {
	case TypeInt64:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case TypeFloat64:
		if f, ok := v.(float64); ok {
			return f
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
	case TypeString:
		return formatJSONValue(v)
	}
	return nil
}

func formatJSONValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	out, err := json.MarshalToString(v)
	if err != nil {
		return ""
	}
	return out
}

// Ensure jsonlReader implements FileReader.
var _ FileReader = (*jsonlReader)(nil)
