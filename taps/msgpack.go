package taps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/zoobzio/conflux"
)

// Msgpack is a file tap holding a msgpack array of field names followed by
// one msgpack array per record.
type Msgpack struct {
	id   string
	path string
}

// NewMsgpack creates a msgpack tap for path.
func NewMsgpack(id, path string) *Msgpack {
	return &Msgpack{id: id, path: path}
}

// ID returns the tap identifier.
func (m *Msgpack) ID() string { return m.id }

// Read decodes every record. Integers decode as int64, except values above
// math.MaxInt64 which stay uint64. Floats decode as float64.
func (m *Msgpack) Read(ctx context.Context) ([]conflux.Tuple, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("open msgpack: %w", err)
	}
	defer f.Close()

	dec := msgpack.NewDecoder(bufio.NewReader(f))
	dec.UseLooseInterfaceDecoding(true)

	var header []string
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("msgpack %s: read header: %w", m.path, err)
	}

	var rows []conflux.Tuple
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var row []any
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("msgpack %s: record %d: %w", m.path, len(rows), err)
		}
		if len(row) != len(header) {
			return nil, fmt.Errorf("msgpack %s: record %d has %d values, header has %d", m.path, len(rows), len(row), len(header))
		}
		for i, v := range row {
			if u, ok := v.(uint64); ok && u <= math.MaxInt64 {
				row[i] = int64(u)
			}
		}
		rows = append(rows, conflux.Tuple(row))
	}
}

// Header returns the field names stored in the file.
func (m *Msgpack) Header() ([]string, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("open msgpack: %w", err)
	}
	defer f.Close()

	var header []string
	if err := msgpack.NewDecoder(f).Decode(&header); err != nil {
		return nil, fmt.Errorf("msgpack %s: read header: %w", m.path, err)
	}
	return header, nil
}

// Write replaces the file with the schema names and the records.
func (m *Msgpack) Write(_ context.Context, schema conflux.Schema, rows []conflux.Tuple) (err error) {
	f, err := os.Create(m.path)
	if err != nil {
		return fmt.Errorf("create msgpack: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close msgpack: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(schema.Names()); err != nil {
		return fmt.Errorf("write msgpack header: %w", err)
	}
	for i, row := range rows {
		if err := enc.Encode([]any(row)); err != nil {
			return fmt.Errorf("write msgpack record %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush msgpack: %w", err)
	}
	return nil
}
