package hivescan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

// -----------------------------------------------------------------------------
// Parquet reader
// -----------------------------------------------------------------------------

// parquetReader implements FileReader for Apache Parquet files. It relies on
// the store's SizedReaderAt so that footer and column chunk access are true
// range reads; remote files are never downloaded whole.
//
// Only flat schemas are supported. Nested groups fail the schema probe.
type parquetReader struct{}

// NewParquetReader creates the Parquet FileReader.
func NewParquetReader() FileReader {
	return &parquetReader{}
}

func (p *parquetReader) Name() string {
	return "parquet"
}

func (p *parquetReader) Matches(path string) bool {
	return strings.HasSuffix(path, ".parquet")
}

func (p *parquetReader) Meta(ctx context.Context, store Store, path string) (FileMeta, error) {
	file, closeFile, err := p.open(ctx, store, path)
	if err != nil {
		return FileMeta{}, err
	}
	defer closeFile()

	probed, err := probeParquetSchema(file)
	if err != nil {
		return FileMeta{}, &ReadError{Path: path, Err: err}
	}

	groups := file.RowGroups()
	groupRows := make([]int64, len(groups))
	for i, rg := range groups {
		groupRows[i] = rg.NumRows()
	}

	return FileMeta{
		Schema:       probed.schema,
		NumRows:      file.NumRows(),
		RowGroupRows: groupRows,
	}, nil
}

func (p *parquetReader) Read(ctx context.Context, store Store, path string, req ReadRequest) (*Table, error) {
	file, closeFile, err := p.open(ctx, store, path)
	if err != nil {
		return nil, err
	}
	defer closeFile()

	probed, err := probeParquetSchema(file)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}

	wanted := req.Columns
	if wanted == nil {
		wanted = probed.schema.Names()
	}
	leafIndexes := make([]int, len(wanted))
	cols := make([]Column, len(wanted))
	for i, name := range wanted {
		idx, ok := probed.index[name]
		if !ok {
			return nil, &ReadError{Path: path, Err: &ColumnNotFoundError{Name: name}}
		}
		leafIndexes[i] = idx
		cols[i] = Column{Name: name, Type: probed.schema.Fields[idx].Type}
	}

	limit := req.Limit
	if limit < 0 {
		limit = file.NumRows()
	}

	var total int64
	for gi, rg := range file.RowGroups() {
		if total >= limit {
			break
		}
		if req.RowGroups != nil && !req.RowGroups.Contains(uint32(gi)) {
			continue
		}

		if len(wanted) == 0 {
			// Row count only: the group's metadata is enough.
			n := rg.NumRows()
			if total+n > limit {
				n = limit - total
			}
			total += n
			continue
		}

		err := readParquetGroup(ctx, rg, cols, leafIndexes, probed, limit, &total)
		if err != nil {
			return nil, &ReadError{Path: path, Err: err}
		}
	}

	return &Table{Columns: cols, rows: total}, nil
}

// readParquetGroup appends one row group's rows to the output columns,
// stopping at limit.
func readParquetGroup(
	ctx context.Context,
	rg parquet.RowGroup,
	cols []Column,
	leafIndexes []int,
	probed probedParquet,
	limit int64,
	total *int64,
) error {
	rows := rg.Rows()
	defer func() { _ = rows.Close() }()

	buf := make([]parquet.Row, 128)
	byLeaf := make([]parquet.Value, len(probed.schema.Fields))

	for *total < limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			if *total >= limit {
				break
			}
			// Row values carry their leaf column index.
			for _, v := range row {
				byLeaf[v.Column()] = v
			}
			for ci, leaf := range leafIndexes {
				cols[ci].Values = append(cols[ci].Values, probed.decoders[leaf](byLeaf[leaf]))
			}
			*total++
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// open maps a store object into a parquet.File.
func (p *parquetReader) open(ctx context.Context, store Store, path string) (*parquet.File, func(), error) {
	ra, err := store.ReaderAt(ctx, path)
	if err != nil {
		return nil, nil, &ReadError{Path: path, Err: err}
	}
	file, err := parquet.OpenFile(ra, ra.Size())
	if err != nil {
		_ = ra.Close()
		return nil, nil, &ReadError{Path: path, Err: err}
	}
	return file, func() { _ = ra.Close() }, nil
}

// probedParquet is the schema probe result: semantic fields, a name→leaf
// index, and one value decoder per leaf.
type probedParquet struct {
	schema   Schema
	index    map[string]int
	decoders []func(parquet.Value) any
}

// probeParquetSchema maps the file's parquet schema onto semantic column
// types. Logical types are consulted first; the physical kind decides
// otherwise.
func probeParquetSchema(file *parquet.File) (probedParquet, error) {
	pqFields := file.Schema().Fields()
	probed := probedParquet{
		index:    make(map[string]int, len(pqFields)),
		decoders: make([]func(parquet.Value) any, len(pqFields)),
	}
	probed.schema.Fields = make([]Field, len(pqFields))

	for i, f := range pqFields {
		if !f.Leaf() {
			return probedParquet{}, fmt.Errorf("nested parquet schemas are not supported: field %q", f.Name())
		}
		t, dec, err := leafDecoder(f)
		if err != nil {
			return probedParquet{}, err
		}
		probed.schema.Fields[i] = Field{Name: f.Name(), Type: t}
		probed.index[f.Name()] = i
		probed.decoders[i] = dec
	}
	return probed, nil
}

// leafDecoder resolves one parquet leaf field to its semantic type and a
// value decoder. Nulls decode to nil.
func leafDecoder(f parquet.Field) (DataType, func(parquet.Value) any, error) {
	t := f.Type()

	if lt := t.LogicalType(); lt != nil {
		switch {
		case lt.Date != nil:
			// DATE is days since the Unix epoch.
			return TypeDate, nonNull(func(v parquet.Value) any {
				return time.Unix(int64(v.Int32())*86400, 0).UTC()
			}), nil

		case lt.Timestamp != nil:
			unit := lt.Timestamp.Unit
			return TypeDatetime, nonNull(func(v parquet.Value) any {
				switch {
				case unit.Nanos != nil:
					return time.Unix(0, v.Int64()).UTC()
				case unit.Micros != nil:
					return time.UnixMicro(v.Int64()).UTC()
				default:
					return time.UnixMilli(v.Int64()).UTC()
				}
			}), nil

		case lt.UTF8 != nil:
			return TypeString, nonNull(func(v parquet.Value) any {
				return string(v.ByteArray())
			}), nil
		}
	}

	switch t.Kind() {
	case parquet.Boolean:
		return TypeBoolean, nonNull(func(v parquet.Value) any { return v.Boolean() }), nil
	case parquet.Int32:
		return TypeInt64, nonNull(func(v parquet.Value) any { return int64(v.Int32()) }), nil
	case parquet.Int64:
		return TypeInt64, nonNull(func(v parquet.Value) any { return v.Int64() }), nil
	case parquet.Float:
		return TypeFloat64, nonNull(func(v parquet.Value) any { return float64(v.Float()) }), nil
	case parquet.Double:
		return TypeFloat64, nonNull(func(v parquet.Value) any { return v.Double() }), nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return TypeString, nonNull(func(v parquet.Value) any { return string(v.ByteArray()) }), nil
	default:
		return 0, nil, fmt.Errorf("unsupported parquet type for field %q", f.Name())
	}
}

// nonNull wraps a decoder so parquet nulls become nil.
func nonNull(dec func(parquet.Value) any) func(parquet.Value) any {
	return func(v parquet.Value) any {
		if v.IsNull() {
			return nil
		}
		return dec(v)
	}
}

// Ensure parquetReader implements FileReader.
var _ FileReader = (*parquetReader)(nil)
