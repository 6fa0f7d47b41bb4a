package conflux

import (
	"fmt"
	"maps"
	"slices"
)

// Stream is a handle to a named, schema-typed flow of records inside an
// Assembly. Handles are values; the stream they name is never mutated after
// it is created. The zero Stream is invalid.
type Stream struct {
	asm  *Assembly
	name string
	id   int
}

// Name returns the stream name.
func (s Stream) Name() string { return s.name }

// ID returns the stream's index in its assembly.
func (s Stream) ID() int { return s.id - 1 }

// Valid reports whether the handle was issued by an Assembly.
func (s Stream) Valid() bool { return s.asm != nil && s.id > 0 }

func (s Stream) String() string { return s.name }

// streamNode is the arena entry behind a Stream.
type streamNode struct {
	name     string
	schema   Schema // declared schema, roots only
	producer int    // index into stages, -1 when none
	root     bool
}

// Assembly is the arena in which streams and stages are declared. Each call
// that adds a stage returns a new Stream; inputs are never consumed, so
// several stages may read the same parent to fan it out.
//
// Declaration problems (duplicate names, foreign handles) are recorded and
// reported by Build, so a flow can be assembled fluently.
type Assembly struct {
	streams []streamNode
	stages  []Stage
	byName  map[string]int
	errs    []error
}

// NewAssembly creates an empty assembly.
func NewAssembly() *Assembly {
	return &Assembly{byName: make(map[string]int)}
}

// Source declares a root stream carrying records of the given schema.
// The stream still needs a source binding before it can be built.
func (a *Assembly) Source(name string, schema Schema) Stream {
	s := a.newStream(name)
	node := &a.streams[s.ID()]
	node.root = true
	node.schema = schema
	return s
}

// Rename derives a stream whose fields are renamed per mapping (old to new).
func (a *Assembly) Rename(name string, in Stream, mapping map[string]string) Stream {
	return a.add(name, RenameOp{Mapping: maps.Clone(mapping)}, in)
}

// Retain derives a stream keeping only fields, in the order given.
func (a *Assembly) Retain(name string, in Stream, fields ...string) Stream {
	return a.add(name, RetainOp{Fields: slices.Clone(fields)}, in)
}

// Filter derives a stream keeping the records for which pred is true.
// The output schema equals the input schema.
func (a *Assembly) Filter(name string, in Stream, pred Expression) Stream {
	return a.add(name, FilterOp{Predicate: pred}, in)
}

// Join co-groups inputs on keys, one key tuple per input, under policy.
// The output carries every field of every input in input order, keys
// included, so no name may appear in two inputs. Rename a shared key on one
// side first, as in renaming "year" to "pre_year"; otherwise Build reports a
// DuplicateFieldError.
func (a *Assembly) Join(name string, inputs []Stream, keys [][]string, policy JoinPolicy) Stream {
	copied := make([][]string, len(keys))
	for i, k := range keys {
		copied[i] = slices.Clone(k)
	}
	return a.add(name, JoinOp{Keys: copied, Policy: policy}, inputs...)
}

// Stream looks up a declared stream by name.
func (a *Assembly) Stream(name string) (Stream, bool) {
	i, ok := a.byName[name]
	if !ok {
		return Stream{}, false
	}
	return a.handle(i), true
}

// Streams returns every declared stream in declaration order.
func (a *Assembly) Streams() []Stream {
	out := make([]Stream, len(a.streams))
	for i := range a.streams {
		out[i] = a.handle(i)
	}
	return out
}

func (a *Assembly) handle(i int) Stream {
	return Stream{asm: a, name: a.streams[i].name, id: i + 1}
}

func (a *Assembly) add(name string, op Op, inputs ...Stream) Stream {
	out := a.newStream(name)
	a.attach(out, op, inputs)
	return out
}

// newStream allocates an arena slot. A repeated name is recorded as an error
// and the new slot stays out of the name index.
func (a *Assembly) newStream(name string) Stream {
	i := len(a.streams)
	a.streams = append(a.streams, streamNode{name: name, producer: -1})
	switch {
	case name == "":
		a.errs = append(a.errs, &ValidationError{Path: []string{fmt.Sprintf("streams[%d]", i)}, Message: "stream name is required"})
	case a.hasName(name):
		a.errs = append(a.errs, &ValidationError{Path: []string{name}, Message: fmt.Sprintf("stream name '%s' is already declared", name)})
	default:
		a.byName[name] = i
	}
	return a.handle(i)
}

func (a *Assembly) hasName(name string) bool {
	_, ok := a.byName[name]
	return ok
}

// reserve allocates a named slot without a producer so that stage
// definitions can reference streams declared later.
func (a *Assembly) reserve(name string) Stream {
	return a.newStream(name)
}

// attach records the stage producing out from inputs.
func (a *Assembly) attach(out Stream, op Op, inputs []Stream) {
	for _, in := range inputs {
		if err := a.owns(in); err != nil {
			a.errs = append(a.errs, &ValidationError{
				Path:    []string{out.name},
				Message: fmt.Sprintf("input '%s': %s", in.name, err),
			})
		}
	}
	a.stages = append(a.stages, Stage{
		Name:   out.name,
		Inputs: slices.Clone(inputs),
		Output: out,
		Op:     op,
	})
	a.streams[out.ID()].producer = len(a.stages) - 1
}

func (a *Assembly) owns(s Stream) error {
	if !s.Valid() {
		return ErrInvalidStream
	}
	if s.asm != a {
		return ErrForeignStream
	}
	return nil
}
