package lake

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/schema"
)

// Compression codec names accepted in config and write options.
const (
	CompressionSnappy = "snappy"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
)

func codecFor(name string) (compress.Codec, error) {
	switch name {
	case "", CompressionSnappy:
		return &parquet.Snappy, nil
	case CompressionGzip:
		return &parquet.Gzip, nil
	case CompressionZstd:
		return &parquet.Zstd, nil
	default:
		return nil, errs.Errorf(errs.KindValidation, "unknown compression codec %q", name)
	}
}

// parquetSchema converts a dataset schema into a parquet schema. String
// columns are dictionary-encoded, which collapses the highly repetitive
// symbol, source and exchange columns.
func parquetSchema(s schema.Schema) *parquet.Schema {
	group := parquet.Group{}
	for _, f := range s.Fields {
		var node parquet.Node
		switch f.Kind {
		case schema.String:
			node = parquet.Encoded(parquet.String(), &parquet.RLEDictionary)
		case schema.Int64:
			node = parquet.Int(64)
		case schema.Float64:
			node = parquet.Leaf(parquet.DoubleType)
		case schema.Bool:
			node = parquet.Leaf(parquet.BooleanType)
		default:
			node = parquet.Encoded(parquet.String(), &parquet.RLEDictionary)
		}
		if f.Nullable {
			node = parquet.Optional(node)
		}
		group[f.Name] = node
	}
	return parquet.NewSchema(s.Name, group)
}

// normalizeRow returns a copy of the row with values aligned to the
// schema kinds: ints promoted in float columns, absent nullable columns
// materialized as explicit nulls.
func normalizeRow(s schema.Schema, r frame.Row) frame.Row {
	out := make(frame.Row, len(s.Fields))
	for _, f := range s.Fields {
		v, ok := r[f.Name]
		if !ok || v == nil {
			out[f.Name] = nil
			continue
		}
		if f.Kind == schema.Float64 {
			if n, isInt := v.(int64); isInt {
				out[f.Name] = float64(n)
				continue
			}
		}
		out[f.Name] = v
	}
	return out
}

// writeParquetFile writes rows as one parquet file via a temp name in
// the same directory, renaming on success. Returns the final byte size.
func writeParquetFile(path string, s schema.Schema, rows []frame.Row, compression string) (int64, error) {
	codec, err := codecFor(compression)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errs.E(errs.KindData, fmt.Errorf("create dir: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.parquet")
	if err != nil {
		return 0, errs.E(errs.KindData, fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	w := parquet.NewGenericWriter[frame.Row](tmp, parquetSchema(s), parquet.Compression(codec))
	buf := make([]frame.Row, 0, 1024)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}
	for _, r := range rows {
		buf = append(buf, normalizeRow(s, r))
		if len(buf) == cap(buf) {
			if err := flush(); err != nil {
				cleanup()
				return 0, errs.E(errs.KindData, fmt.Errorf("write rows: %w", err))
			}
		}
	}
	if err := flush(); err != nil {
		cleanup()
		return 0, errs.E(errs.KindData, fmt.Errorf("write rows: %w", err))
	}
	if err := w.Close(); err != nil {
		cleanup()
		return 0, errs.E(errs.KindData, fmt.Errorf("close parquet writer: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, errs.E(errs.KindData, fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, errs.E(errs.KindData, fmt.Errorf("publish parquet file: %w", err))
	}

	st, err := os.Stat(path)
	if err != nil {
		return 0, errs.E(errs.KindData, fmt.Errorf("stat parquet file: %w", err))
	}
	return st.Size(), nil
}

// ReadParquet loads a parquet file back into a frame. Values come out
// as the closed frame type set; the dataset schema names the kinds.
// The warehouse loader reads lake files through this.
func ReadParquet(path string, s schema.Schema) (*frame.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.E(errs.KindData, fmt.Errorf("open parquet file: %w", err))
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, errs.E(errs.KindData, fmt.Errorf("stat parquet file: %w", err))
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, errs.E(errs.KindData, fmt.Errorf("open parquet footer: %w", err))
	}

	fields := pf.Schema().Fields()
	out := frame.New(s)
	buf := make([]parquet.Row, 256)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for i := 0; i < n; i++ {
				out.Append(rowToMap(s, fields, buf[i]))
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				rows.Close()
				return nil, errs.E(errs.KindData, fmt.Errorf("read rows: %w", err))
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, errs.E(errs.KindData, fmt.Errorf("close row reader: %w", err))
		}
	}
	return out, nil
}

// ReadPartition loads every data file of one partition directory into
// a single frame, in file name order. Markers, quarantine output and
// temp files are ignored.
func ReadPartition(dir string, s schema.Schema) (*frame.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.E(errs.KindData, fmt.Errorf("read partition: %w", err))
	}
	out := frame.New(s)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "part-") || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		f, err := ReadParquet(filepath.Join(dir, e.Name()), s)
		if err != nil {
			return nil, err
		}
		for _, r := range f.Rows {
			out.Append(r)
		}
	}
	return out, nil
}

// rowToMap converts one flat parquet row into a frame row. Column order
// in the file follows the parquet schema's field order, not the dataset
// declaration order.
func rowToMap(s schema.Schema, fields []parquet.Field, row parquet.Row) frame.Row {
	m := make(frame.Row, len(fields))
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(fields) {
			continue
		}
		name := fields[col].Name()
		if v.IsNull() {
			m[name] = nil
			continue
		}
		f, ok := s.Field(name)
		if !ok {
			continue
		}
		switch f.Kind {
		case schema.String:
			m[name] = v.String()
		case schema.Int64:
			m[name] = v.Int64()
		case schema.Float64:
			m[name] = v.Double()
		case schema.Bool:
			m[name] = v.Boolean()
		}
	}
	return m
}
