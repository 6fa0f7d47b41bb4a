package taps

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zoobzio/conflux"
)

// CSV is a header-first CSV file tap.
type CSV struct {
	id      string
	path    string
	comma   rune
	columns []string
	infer   bool
}

// CSVOption configures a CSV tap.
type CSVOption func(*CSV)

// WithComma sets the field delimiter. Defaults to ','.
func WithComma(r rune) CSVOption {
	return func(c *CSV) { c.comma = r }
}

// WithColumns selects and orders columns by header name when reading.
// Without it every column is read in file order.
func WithColumns(names ...string) CSVOption {
	return func(c *CSV) { c.columns = names }
}

// WithInference parses integer, float and boolean cells into int64,
// float64 and bool. Empty cells read as nil. Without it cells are strings.
func WithInference() CSVOption {
	return func(c *CSV) { c.infer = true }
}

// NewCSV creates a CSV tap for path.
func NewCSV(id, path string, opts ...CSVOption) *CSV {
	c := &CSV{id: id, path: path, comma: ','}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the tap identifier.
func (c *CSV) ID() string { return c.id }

// Path returns the file path.
func (c *CSV) Path() string { return c.path }

// Read parses the file, skipping the header row.
func (c *CSV) Read(ctx context.Context) ([]conflux.Tuple, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = c.comma
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv %s: missing header", c.path)
	}

	idx, err := c.columnIndexes(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]conflux.Tuple, 0, len(records)-1)
	for _, rec := range records[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := make(conflux.Tuple, len(idx))
		for i, j := range idx {
			row[i] = c.value(rec[j])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *CSV) columnIndexes(header []string) ([]int, error) {
	if len(c.columns) == 0 {
		idx := make([]int, len(header))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	idx := make([]int, len(c.columns))
	for i, name := range c.columns {
		j, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("csv %s: column %q not in header %v", c.path, name, header)
		}
		idx[i] = j
	}
	return idx, nil
}

func (c *CSV) value(s string) any {
	if !c.infer {
		return s
	}
	return inferValue(s)
}

// inferValue parses a cell as an integer, float or bool, else keeps the string.
func inferValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// Write replaces the file with a header row and the records.
func (c *CSV) Write(_ context.Context, schema conflux.Schema, rows []conflux.Tuple) error {
	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = c.comma
	if err := w.Write(schema.Names()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	rec := make([]string, schema.Len())
	for _, row := range rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) && row[i] != nil {
				rec[i] = fmt.Sprint(row[i])
			}
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return f.Close()
}
