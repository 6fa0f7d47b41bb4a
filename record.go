package conflux

import "slices"

// Tuple is a positional record whose values line up with a Schema.
type Tuple []any

// Clone returns a shallow copy of the tuple.
func (t Tuple) Clone() Tuple { return slices.Clone(t) }

// Record pairs a tuple with the schema naming its positions. It is the view
// handed to predicate expressions.
type Record struct {
	schema Schema
	values Tuple
}

// NewRecord binds values to schema. Missing trailing values read as nil.
func NewRecord(schema Schema, values Tuple) Record {
	return Record{schema: schema, values: values}
}

// Schema returns the record's schema.
func (r Record) Schema() Schema { return r.schema }

// Values returns the underlying tuple.
func (r Record) Values() Tuple { return r.values }

// Get returns the value of the named field.
func (r Record) Get(name string) (any, bool) {
	i, ok := r.schema.Index(name)
	if !ok {
		return nil, false
	}
	if i >= len(r.values) {
		return nil, true
	}
	return r.values[i], true
}

// Map returns the record as a field name to value map.
func (r Record) Map() map[string]any {
	m := make(map[string]any, r.schema.Len())
	for i, name := range r.schema.Names() {
		if i < len(r.values) {
			m[name] = r.values[i]
		} else {
			m[name] = nil
		}
	}
	return m
}
