// Package conflux assembles batch dataflow pipelines: named, schema-typed
// streams connected by rename, retain, filter and join stages, validated as
// a whole before anything runs.
//
// Flows are declared either in code, through an Assembly and a FlowDef, or
// declaratively in YAML/JSON and built by a Factory holding registered taps
// and predicates. Building derives every stream's schema, checks every field
// reference, rejects cycles and unbound tails, and returns an immutable Graph
// an Executor can run.
//
// Basic usage:
//
//	factory := conflux.New(conflux.WithCompiler(expression.Compile))
//	factory.AddTap(presidents, parties, output)
//
//	def := `
//	name: cogroup
//	sources:
//	  - {name: president, tap: presidents, fields: [year, president]}
//	  - {name: party, tap: parties, fields: [year, party]}
//	stages:
//	  - name: president-renamed
//	    type: rename
//	    input: president
//	    rename: {year: pre_year}
//	  - name: joined
//	    type: join
//	    inputs: [president-renamed, party]
//	    keys: [[pre_year], [year]]
//	sinks:
//	  - {stream: joined, tap: output}
//	`
//
//	graph, err := factory.BuildFromYAML(def)
//	handle, err := conflux.Submit(ctx, engine.New(), graph)
package conflux

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
)

// Predicate names a reusable filter expression for definitions.
type Predicate struct { //nolint:govet
	Name        string
	Description string // Human-readable description of what this predicate checks
	Expression  Expression
}

// Compiler turns inline definition expressions into Expressions.
type Compiler func(src string) (Expression, error)

// predicateMeta stores a predicate with its metadata.
type predicateMeta struct {
	expression  Expression
	description string
}

// Option configures a Factory.
type Option func(*Factory)

// WithCompiler enables inline `expression` filters in definitions.
func WithCompiler(c Compiler) Option {
	return func(f *Factory) { f.compiler = c }
}

// Factory builds graphs from definitions using registered taps and
// predicates, and keeps named definitions whose graphs can be swapped
// atomically while readers hold the previous one.
type Factory struct {
	taps        map[string]Tap
	predicates  map[string]predicateMeta
	compiler    Compiler
	definitions map[string]*Definition
	graphs      map[string]*atomic.Pointer[Graph]
	mu          sync.RWMutex
}

// New creates a Factory.
func New(opts ...Option) *Factory {
	factory := &Factory{
		taps:        make(map[string]Tap),
		predicates:  make(map[string]predicateMeta),
		definitions: make(map[string]*Definition),
		graphs:      make(map[string]*atomic.Pointer[Graph]),
	}
	for _, opt := range opts {
		opt(factory)
	}

	capitan.Emit(context.Background(), FactoryCreated,
		KeyFound.Field(factory.compiler != nil))

	return factory
}

// AddTap registers one or more taps under their IDs.
func (f *Factory) AddTap(taps ...Tap) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, tap := range taps {
		f.taps[tap.ID()] = tap

		capitan.Emit(context.Background(), TapRegistered,
			KeyTap.Field(tap.ID()))
	}
}

// GetTap retrieves a registered tap by ID.
func (f *Factory) GetTap(id string) (Tap, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tap, exists := f.taps[id]
	return tap, exists
}

// HasTap checks if a tap is registered.
func (f *Factory) HasTap(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.taps[id]
	return exists
}

// ListTaps returns the registered tap IDs, sorted.
func (f *Factory) ListTaps() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return slices.Sorted(maps.Keys(f.taps))
}

// RemoveTap removes one or more taps.
// Returns the number of taps actually removed.
func (f *Factory) RemoveTap(ids ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, exists := f.taps[id]; exists {
			delete(f.taps, id)
			removed++

			capitan.Emit(context.Background(), TapRemoved,
				KeyTap.Field(id))
		}
	}
	return removed
}

// AddPredicate registers one or more named predicates.
func (f *Factory) AddPredicate(predicates ...Predicate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range predicates {
		f.predicates[p.Name] = predicateMeta{
			expression:  p.Expression,
			description: p.Description,
		}

		capitan.Emit(context.Background(), PredicateRegistered,
			KeyName.Field(p.Name))
	}
}

// HasPredicate checks if a predicate is registered.
func (f *Factory) HasPredicate(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.predicates[name]
	return exists
}

// ListPredicates returns the registered predicate names, sorted.
func (f *Factory) ListPredicates() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return slices.Sorted(maps.Keys(f.predicates))
}

// RemovePredicate removes one or more predicates.
// Returns the number of predicates actually removed.
func (f *Factory) RemovePredicate(names ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for _, name := range names {
		if _, exists := f.predicates[name]; exists {
			delete(f.predicates, name)
			removed++

			capitan.Emit(context.Background(), PredicateRemoved,
				KeyName.Field(name))
		}
	}
	return removed
}

// Build validates a definition against the registries and builds its graph.
func (f *Factory) Build(def Definition) (*Graph, error) {
	if err := f.ValidateDefinition(def); err != nil {
		return nil, err
	}

	f.mu.RLock()
	flow, err := f.assemble(&def)
	f.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return flow.Build()
}

// SetDefinition adds or updates a named definition and builds its graph.
// Readers holding the previous graph keep it; later Graph calls see the new one.
func (f *Factory) SetDefinition(name string, def Definition) error {
	graph, err := f.Build(def)
	if err != nil {
		return fmt.Errorf("failed to build definition %s: %w", name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	old := f.definitions[name]
	f.definitions[name] = &def
	if ptr, exists := f.graphs[name]; exists {
		ptr.Store(graph)
	} else {
		ptr := &atomic.Pointer[Graph]{}
		ptr.Store(graph)
		f.graphs[name] = ptr
	}

	if old != nil {
		fields := []capitan.Field{
			KeyName.Field(name),
		}
		if old.Version != "" {
			fields = append(fields, KeyOldVersion.Field(old.Version))
		}
		if def.Version != "" {
			fields = append(fields, KeyNewVersion.Field(def.Version))
		}
		capitan.Emit(context.Background(), DefinitionUpdated, fields...)
	} else {
		fields := []capitan.Field{
			KeyName.Field(name),
		}
		if def.Version != "" {
			fields = append(fields, KeyVersion.Field(def.Version))
		}
		capitan.Emit(context.Background(), DefinitionRegistered, fields...)
	}
	return nil
}

// Graph returns the current graph of a named definition.
func (f *Factory) Graph(name string) (*Graph, bool) {
	f.mu.RLock()
	ptr := f.graphs[name]
	f.mu.RUnlock()

	if ptr == nil {
		capitan.Emit(context.Background(), GraphRetrieved,
			KeyName.Field(name),
			KeyFound.Field(false))
		return nil, false
	}

	capitan.Emit(context.Background(), GraphRetrieved,
		KeyName.Field(name),
		KeyFound.Field(true))
	return ptr.Load(), true
}

// Definition returns a named definition.
func (f *Factory) Definition(name string) (Definition, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if def, exists := f.definitions[name]; exists {
		return *def, true
	}
	return Definition{}, false
}

// RemoveDefinition removes a named definition and its graph.
// Returns true if the definition was removed, false if it didn't exist.
func (f *Factory) RemoveDefinition(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.definitions[name]; !exists {
		return false
	}

	delete(f.definitions, name)
	delete(f.graphs, name)

	capitan.Emit(context.Background(), DefinitionRemoved,
		KeyName.Field(name))
	return true
}

// ListDefinitions returns the names of all registered definitions, sorted.
func (f *Factory) ListDefinitions() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return slices.Sorted(maps.Keys(f.definitions))
}
