package storage

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// marshalParquet encodes rows as a single parquet file in memory.
func marshalParquet[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write[T](&buf, rows); err != nil {
		return nil, fmt.Errorf("encoding parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// unmarshalParquet decodes a whole parquet file into rows.
func unmarshalParquet[T any](data []byte) ([]T, error) {
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding parquet: %w", err)
	}
	return rows, nil
}
