package conflux

import (
	"context"
	"slices"
	"time"

	"github.com/zoobzio/capitan"
)

// Graph is a validated, immutable pipeline: the streams, stages and bindings
// lying on some path from a source binding to a sink binding. Accessors
// return copies, so a Graph may be shared freely, including across the
// goroutines of an executor.
type Graph struct {
	name      string
	asm       *Assembly
	streams   []Stream       // included streams, by id
	schemas   map[int]Schema // stream id -> schema
	stages    []Stage        // topological order
	producer  map[int]int    // stream id -> index into stages
	consumers map[int][]int  // stream id -> indexes into stages
	levels    [][]int        // indexes into stages, grouped by depth
	sources   []SourceBinding
	sinks     []SinkBinding
	tails     []Stream
	unused    []Stream
}

// Name returns the flow name given to the builder.
func (g *Graph) Name() string { return g.name }

// Streams returns the streams in the graph ordered by declaration.
func (g *Graph) Streams() []Stream { return slices.Clone(g.streams) }

// Schema returns the schema of a stream in the graph.
func (g *Graph) Schema(s Stream) (Schema, bool) {
	schema, ok := g.schemas[s.ID()]
	if !ok || !g.contains(s) {
		return Schema{}, false
	}
	return schema, true
}

// Stages returns the stages in topological order.
func (g *Graph) Stages() []Stage {
	out := make([]Stage, len(g.stages))
	for i, s := range g.stages {
		out[i] = s.clone()
	}
	return out
}

// Stage looks up a stage by name.
func (g *Graph) Stage(name string) (Stage, bool) {
	for _, s := range g.stages {
		if s.Name == name {
			return s.clone(), true
		}
	}
	return Stage{}, false
}

// Producer returns the stage producing s. Root streams have none.
func (g *Graph) Producer(s Stream) (Stage, bool) {
	if !g.contains(s) {
		return Stage{}, false
	}
	i, ok := g.producer[s.ID()]
	if !ok {
		return Stage{}, false
	}
	return g.stages[i].clone(), true
}

// Consumers returns the stages reading s, in topological order.
func (g *Graph) Consumers(s Stream) []Stage {
	if !g.contains(s) {
		return nil
	}
	idx := g.consumers[s.ID()]
	out := make([]Stage, len(idx))
	for i, j := range idx {
		out[i] = g.stages[j].clone()
	}
	return out
}

// Levels groups the stages by depth: every stage of a level reads only roots
// or outputs of earlier levels, so stages of one level are independent.
func (g *Graph) Levels() [][]Stage {
	out := make([][]Stage, len(g.levels))
	for i, level := range g.levels {
		out[i] = make([]Stage, len(level))
		for j, k := range level {
			out[i][j] = g.stages[k].clone()
		}
	}
	return out
}

// Sources returns the source bindings of streams used by the graph.
func (g *Graph) Sources() []SourceBinding { return slices.Clone(g.sources) }

// Sinks returns the sink bindings.
func (g *Graph) Sinks() []SinkBinding { return slices.Clone(g.sinks) }

// Tails returns the terminal streams.
func (g *Graph) Tails() []Stream { return slices.Clone(g.tails) }

// UnusedSources returns bound sources that no tail depends on.
func (g *Graph) UnusedSources() []Stream { return slices.Clone(g.unused) }

// SinksFor returns the taps bound to s.
func (g *Graph) SinksFor(s Stream) []Tap {
	var taps []Tap
	for _, b := range g.sinks {
		if b.Stream == s {
			taps = append(taps, b.Tap)
		}
	}
	return taps
}

func (g *Graph) contains(s Stream) bool {
	_, ok := slices.BinarySearchFunc(g.streams, s.ID(), func(x Stream, id int) int { return x.ID() - id })
	return ok && s.asm == g.asm
}

// Executor runs validated graphs. Implementations own all I/O and scheduling.
type Executor interface {
	Submit(ctx context.Context, g *Graph) (ExecutionHandle, error)
}

// ExecutionHandle tracks a submitted graph.
type ExecutionHandle interface {
	ID() string
	// Wait blocks until the execution finishes or ctx is done and returns
	// the execution error, if any.
	Wait(ctx context.Context) error
}

// Submit hands g to exec, emitting handoff signals.
func Submit(ctx context.Context, exec Executor, g *Graph) (ExecutionHandle, error) {
	start := time.Now()
	handle, err := exec.Submit(ctx, g)
	if err != nil {
		capitan.Emit(ctx, GraphSubmitFailed,
			KeyName.Field(g.Name()),
			KeyError.Field(err.Error()))
		return nil, err
	}
	capitan.Emit(ctx, GraphSubmitted,
		KeyName.Field(g.Name()),
		KeyExecution.Field(handle.ID()),
		KeyDuration.Field(time.Since(start)))
	return handle, nil
}
