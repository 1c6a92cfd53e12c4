package rawstore

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// compressionCodec maps the configured compression name to a parquet codec.
func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// WriteParquet writes rows as a single atomically replaced parquet file:
// the data lands in a uniquely named temp file beside the target and is
// renamed over it, so a reader never observes a half-written table. rows
// must be a slice of a parquet-tagged struct type.
func WriteParquet(path string, rows interface{}, compression string) error {
	v := reflect.ValueOf(rows)
	if v.Kind() != reflect.Slice {
		return fmt.Errorf("rows must be a slice, got %T", rows)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp := fmt.Sprintf("%s.tmp-%s", path, uuid.New().String())
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}

	schema := reflect.New(v.Type().Elem()).Interface()
	pw, err := writer.NewParquetWriter(fw, schema, 4)
	if err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to create parquet writer for %s: %w", path, err)
	}
	pw.CompressionType = compressionCodec(compression)

	for i := 0; i < v.Len(); i++ {
		if err := pw.Write(v.Index(i).Interface()); err != nil {
			pw.WriteStop()
			fw.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to write parquet row to %s: %w", path, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize parquet file %s: %w", path, err)
	}
	if err := fw.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// ReadParquet loads a whole parquet file into out, which must be a pointer
// to a slice of the row struct type.
func ReadParquet(path string, out interface{}) error {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("out must be a pointer to a slice, got %T", out)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fr.Close()

	schema := reflect.New(v.Elem().Type().Elem()).Interface()
	pr, err := reader.NewParquetReader(fr, schema, 4)
	if err != nil {
		return fmt.Errorf("failed to read parquet schema of %s: %w", path, err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	if num == 0 {
		return nil
	}
	v.Elem().Set(reflect.MakeSlice(v.Elem().Type(), num, num))
	if err := pr.Read(out); err != nil {
		return fmt.Errorf("failed to read rows from %s: %w", path, err)
	}
	return nil
}

// RowCount returns the number of rows recorded in a parquet file's footer
// without materializing the rows.
func RowCount(path string) (int64, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to read parquet footer of %s: %w", path, err)
	}
	defer pr.ReadStop()
	return pr.GetNumRows(), nil
}
