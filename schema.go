package conflux

import (
	"slices"
	"strings"
)

// Field is a named column at a fixed position within a Schema.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Pos  int    `json:"pos" yaml:"pos"`
}

// Schema is an ordered set of uniquely named fields describing the shape of
// the records flowing through a Stream. A Schema is immutable; every
// operation returns a new value.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema creates a Schema from field names in order.
// Returns a DuplicateFieldError if a name repeats.
func NewSchema(names ...string) (Schema, error) {
	fields := make([]Field, len(names))
	index := make(map[string]int, len(names))
	for i, name := range names {
		if _, exists := index[name]; exists {
			return Schema{}, &DuplicateFieldError{Field: name}
		}
		index[name] = i
		fields[i] = Field{Name: name, Pos: i}
	}
	return Schema{fields: fields, index: index}, nil
}

// MustSchema is like NewSchema but panics on error. Intended for literals.
func MustSchema(names ...string) Schema {
	s, err := NewSchema(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of fields.
func (s Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the fields in order.
func (s Schema) Fields() []Field { return slices.Clone(s.fields) }

// Names returns the field names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the named field.
func (s Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Has reports whether the schema contains the named field.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Compatible reports whether every required name is present in the schema
// and returns the first one that is not.
func (s Schema) Compatible(required []string) (string, bool) {
	for _, name := range required {
		if !s.Has(name) {
			return name, false
		}
	}
	return "", true
}

// Equal reports whether both schemas have the same names in the same order.
func (s Schema) Equal(other Schema) bool {
	return slices.Equal(s.Names(), other.Names())
}

func (s Schema) String() string {
	return "(" + strings.Join(s.Names(), ", ") + ")"
}

// Project returns the subset of fields named in names, in the order given.
// Returns an UnknownFieldError if a name is absent from s.
func Project(s Schema, names []string) (Schema, error) {
	for _, name := range names {
		if !s.Has(name) {
			return Schema{}, &UnknownFieldError{Field: name, Available: s.Names()}
		}
	}
	return NewSchema(names...)
}

// Rename replaces field names according to mapping, keeping positions.
// Returns an UnknownFieldError for a source name missing from s and a
// DuplicateFieldError when the result would repeat a name.
func Rename(s Schema, mapping map[string]string) (Schema, error) {
	// Sorted so the reported error is stable for a given mapping.
	olds := make([]string, 0, len(mapping))
	for old := range mapping {
		olds = append(olds, old)
	}
	slices.Sort(olds)
	for _, old := range olds {
		if !s.Has(old) {
			return Schema{}, &UnknownFieldError{Field: old, Available: s.Names()}
		}
	}

	names := s.Names()
	for i, name := range names {
		if renamed, ok := mapping[name]; ok {
			names[i] = renamed
		}
	}
	return NewSchema(names...)
}

// Merge concatenates the fields of a and b, left then right.
// Returns a DuplicateFieldError if both schemas carry the same name.
func Merge(a, b Schema) (Schema, error) {
	for _, f := range b.fields {
		if a.Has(f.Name) {
			return Schema{}, &DuplicateFieldError{Field: f.Name}
		}
	}
	return NewSchema(append(a.Names(), b.Names()...)...)
}
