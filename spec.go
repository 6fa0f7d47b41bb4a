package conflux

import (
	"encoding/json"
	"sort"
)

// FactorySpec describes a factory's capabilities for introspection,
// documentation and definition generation.
type FactorySpec struct {
	Taps        []TapSpec       `json:"taps"`
	Predicates  []PredicateSpec `json:"predicates"`
	Expressions bool            `json:"expressions"`
	Stages      []StageSpec     `json:"stages"`
}

// TapSpec describes a registered tap.
type TapSpec struct {
	ID string `json:"id"`
}

// PredicateSpec describes a registered predicate.
type PredicateSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// StageSpec describes a stage type and its definition fields.
type StageSpec struct {
	Type           string      `json:"type"`
	Description    string      `json:"description"`
	RequiredFields []FieldSpec `json:"required_fields,omitempty"`
	OptionalFields []FieldSpec `json:"optional_fields,omitempty"`
}

// FieldSpec describes a field of a stage definition.
type FieldSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "string_array", "string_map", "key_lists"
	Description string `json:"description"`
}

// stageSpecs is the authoritative definition of the stage grammar.
var stageSpecs = []StageSpec{
	{
		Type:        string(KindRename),
		Description: "Renames fields of one input, keeping positions",
		RequiredFields: []FieldSpec{
			{Name: "name", Type: "string", Description: "Stage and output stream name"},
			{Name: "input", Type: "string", Description: "Stream to read"},
			{Name: "rename", Type: "string_map", Description: "Old field name to new field name"},
		},
	},
	{
		Type:        string(KindRetain),
		Description: "Keeps the listed fields of one input in the listed order",
		RequiredFields: []FieldSpec{
			{Name: "name", Type: "string", Description: "Stage and output stream name"},
			{Name: "input", Type: "string", Description: "Stream to read"},
			{Name: "fields", Type: "string_array", Description: "Fields to keep"},
		},
	},
	{
		Type:        string(KindFilter),
		Description: "Keeps the records of one input for which a predicate holds",
		RequiredFields: []FieldSpec{
			{Name: "name", Type: "string", Description: "Stage and output stream name"},
			{Name: "input", Type: "string", Description: "Stream to read"},
		},
		OptionalFields: []FieldSpec{
			{Name: "predicate", Type: "string", Description: "Name of a registered predicate"},
			{Name: "expression", Type: "string", Description: "Inline expression; requires a compiler"},
		},
	},
	{
		Type:        string(KindJoin),
		Description: "Co-groups two or more inputs on one key list per input",
		RequiredFields: []FieldSpec{
			{Name: "name", Type: "string", Description: "Stage and output stream name"},
			{Name: "inputs", Type: "string_array", Description: "Streams to join, in output field order"},
			{Name: "keys", Type: "key_lists", Description: "Key fields per input, equal widths"},
		},
		OptionalFields: []FieldSpec{
			{Name: "policy", Type: "string", Description: "inner (default), left, right or outer"},
		},
	},
}

// Spec returns a specification of the factory's capabilities.
// Output is sorted alphabetically for deterministic results.
func (f *Factory) Spec() FactorySpec {
	f.mu.RLock()
	defer f.mu.RUnlock()

	spec := FactorySpec{
		Taps:        make([]TapSpec, 0, len(f.taps)),
		Predicates:  make([]PredicateSpec, 0, len(f.predicates)),
		Expressions: f.compiler != nil,
		Stages:      stageSpecs,
	}

	for id := range f.taps {
		spec.Taps = append(spec.Taps, TapSpec{ID: id})
	}
	sort.Slice(spec.Taps, func(i, j int) bool { return spec.Taps[i].ID < spec.Taps[j].ID })

	for name, pm := range f.predicates {
		ps := PredicateSpec{Name: name, Description: pm.description}
		if pm.expression != nil {
			ps.Fields = pm.expression.Fields()
		}
		spec.Predicates = append(spec.Predicates, ps)
	}
	sort.Slice(spec.Predicates, func(i, j int) bool { return spec.Predicates[i].Name < spec.Predicates[j].Name })

	return spec
}

// SpecJSON returns the factory specification as a JSON string.
func (f *Factory) SpecJSON() (string, error) {
	return marshalIndent(f.Spec())
}

// GraphSpec describes a built graph.
type GraphSpec struct {
	Name    string            `json:"name,omitempty"`
	Streams []StreamSpec      `json:"streams"`
	Stages  []GraphStageSpec  `json:"stages"`
	Levels  [][]string        `json:"levels"`
	Sources map[string]string `json:"sources"`
	Sinks   []SinkSpec        `json:"sinks"`
	Tails   []string          `json:"tails"`
	Unused  []string          `json:"unused_sources,omitempty"`
}

// StreamSpec describes a stream and its schema.
type StreamSpec struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Root   bool     `json:"root,omitempty"`
}

// GraphStageSpec describes a stage of a built graph.
type GraphStageSpec struct {
	Name   string     `json:"name"`
	Kind   string     `json:"kind"`
	Inputs []string   `json:"inputs"`
	Fields []string   `json:"fields"`
	Keys   [][]string `json:"keys,omitempty"`
	Policy string     `json:"policy,omitempty"`
}

// SinkSpec describes a sink binding.
type SinkSpec struct {
	Stream string `json:"stream"`
	Tap    string `json:"tap"`
}

// Describe returns a serializable description of the graph.
func (g *Graph) Describe() GraphSpec {
	spec := GraphSpec{
		Name:    g.name,
		Sources: make(map[string]string, len(g.sources)),
	}
	for _, s := range g.streams {
		_, produced := g.producer[s.ID()]
		spec.Streams = append(spec.Streams, StreamSpec{
			Name:   s.Name(),
			Fields: g.schemas[s.ID()].Names(),
			Root:   !produced,
		})
	}
	for _, stage := range g.stages {
		ss := GraphStageSpec{
			Name:   stage.Name,
			Kind:   string(stage.Kind()),
			Fields: stage.Schema.Names(),
		}
		for _, in := range stage.Inputs {
			ss.Inputs = append(ss.Inputs, in.Name())
		}
		if join, ok := stage.Op.(JoinOp); ok {
			ss.Keys = join.Keys
			ss.Policy = join.Policy.String()
		}
		spec.Stages = append(spec.Stages, ss)
	}
	for _, level := range g.levels {
		names := make([]string, len(level))
		for i, k := range level {
			names[i] = g.stages[k].Name
		}
		spec.Levels = append(spec.Levels, names)
	}
	for _, b := range g.sources {
		spec.Sources[b.Stream.Name()] = b.Tap.ID()
	}
	for _, b := range g.sinks {
		spec.Sinks = append(spec.Sinks, SinkSpec{Stream: b.Stream.Name(), Tap: b.Tap.ID()})
	}
	for _, s := range g.tails {
		spec.Tails = append(spec.Tails, s.Name())
	}
	for _, s := range g.unused {
		spec.Unused = append(spec.Unused, s.Name())
	}
	return spec
}

// DescribeJSON returns the graph description as a JSON string.
func (g *Graph) DescribeJSON() (string, error) {
	return marshalIndent(g.Describe())
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
