// Package taps provides source and sink taps the engine can read and write:
// in-memory slices, CSV files, msgpack files and SQL tables.
package taps

import (
	"context"
	"slices"
	"sync"

	"github.com/zoobzio/conflux"
)

// Memory is a tap backed by a slice. It can be read as a source and
// written as a sink; a write replaces the held records.
type Memory struct {
	id     string
	mu     sync.RWMutex
	rows   []conflux.Tuple
	schema conflux.Schema
	writes int
}

// NewMemory creates a memory tap holding rows.
func NewMemory(id string, rows ...conflux.Tuple) *Memory {
	return &Memory{id: id, rows: rows}
}

// ID returns the tap identifier.
func (m *Memory) ID() string { return m.id }

// Read returns a copy of the held records.
func (m *Memory) Read(_ context.Context) ([]conflux.Tuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRows(m.rows), nil
}

// Write replaces the held records.
func (m *Memory) Write(_ context.Context, schema conflux.Schema, rows []conflux.Tuple) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = cloneRows(rows)
	m.schema = schema
	m.writes++
	return nil
}

// Rows returns a copy of the held records.
func (m *Memory) Rows() []conflux.Tuple {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRows(m.rows)
}

// Schema returns the schema of the last write.
func (m *Memory) Schema() conflux.Schema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema
}

// Writes returns how many times the tap was written.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func cloneRows(rows []conflux.Tuple) []conflux.Tuple {
	if rows == nil {
		return nil
	}
	out := make([]conflux.Tuple, len(rows))
	for i, r := range rows {
		out[i] = slices.Clone(r)
	}
	return out
}
