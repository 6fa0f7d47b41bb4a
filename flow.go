package conflux

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zoobzio/capitan"
)

// FlowDef collects the source bindings, sink bindings and tails of a flow
// before it is built.
//
// Example:
//
//	asm := conflux.NewAssembly()
//	presidents := asm.Source("president", conflux.MustSchema("year", "president"))
//	parties := asm.Source("party", conflux.MustSchema("year", "party"))
//	renamed := asm.Rename("president-renamed", presidents, map[string]string{"year": "pre_year"})
//	joined := asm.Join("joined", []conflux.Stream{renamed, parties},
//	    [][]string{{"pre_year"}, {"year"}}, conflux.InnerJoin)
//	result := asm.Retain("result", joined, "president", "party")
//
//	graph, err := conflux.NewFlowDef("cogroup").
//	    AddSource(presidents, presidentsTap).
//	    AddSource(parties, partiesTap).
//	    AddTail(result).
//	    AddSink(result, sinkTap).
//	    Build()
type FlowDef struct {
	name    string
	sources []SourceBinding
	sinks   []SinkBinding
	tails   []Stream
}

// NewFlowDef starts a flow definition.
func NewFlowDef(name string) *FlowDef {
	return &FlowDef{name: name}
}

// AddSource binds a root stream to the tap feeding it.
func (d *FlowDef) AddSource(s Stream, tap Tap) *FlowDef {
	d.sources = append(d.sources, BindSource(s, tap))
	return d
}

// AddSink binds a terminal stream to a tap receiving it.
func (d *FlowDef) AddSink(s Stream, tap Tap) *FlowDef {
	d.sinks = append(d.sinks, BindSink(s, tap))
	return d
}

// AddTail declares terminal streams. Every tail needs a sink binding.
func (d *FlowDef) AddTail(streams ...Stream) *FlowDef {
	d.tails = append(d.tails, streams...)
	return d
}

// Build validates the flow and returns its graph.
func (d *FlowDef) Build() (*Graph, error) {
	return build(d.name, d.sources, d.sinks, d.tails)
}

// Build validates the streams reachable from tails and returns the graph.
// Streams bound to a sink count as tails even when not listed.
//
// Validation runs in three phases: output schemas are derived stage by
// stage in topological order, then tails and roots are checked for sink
// and source bindings, then any stages left unordered are reported as a
// cycle. All problems are returned together as ValidationErrors; no graph
// is returned when any is found. Bound sources that no tail reads are
// reported through the SourceUnused signal and Graph.UnusedSources.
func Build(sources []SourceBinding, sinks []SinkBinding, tails []Stream) (*Graph, error) {
	return build("", sources, sinks, tails)
}

func build(name string, sources []SourceBinding, sinks []SinkBinding, tails []Stream) (*Graph, error) {
	ctx := context.Background()
	start := time.Now()
	capitan.Emit(ctx, FlowBuildStarted, KeyName.Field(name))

	p := &planner{name: name, sources: sources, sinks: sinks, tails: tails}
	g := p.plan()
	if len(p.errs) > 0 {
		capitan.Emit(ctx, FlowBuildFailed,
			KeyName.Field(name),
			KeyErrorCount.Field(len(p.errs)),
			KeyError.Field(p.errs.Error()),
			KeyDuration.Field(time.Since(start)))
		return nil, p.errs
	}

	for _, s := range g.unused {
		capitan.Emit(ctx, SourceUnused,
			KeyName.Field(name),
			KeyStream.Field(s.Name()))
	}
	capitan.Emit(ctx, FlowBuildCompleted,
		KeyName.Field(name),
		KeyStageCount.Field(len(g.stages)),
		KeyDuration.Field(time.Since(start)))
	return g, nil
}

// planner carries the state of a single build.
type planner struct {
	name    string
	sources []SourceBinding
	sinks   []SinkBinding
	tails   []Stream

	asm     *Assembly
	tailSet []Stream
	streams map[int]bool // reachable stream ids
	stages  map[int]bool // reachable stage indexes
	order   []int
	schemas map[int]Schema
	depth   map[int]int
	errs    ValidationErrors
}

func (p *planner) fail(err error) { p.errs = append(p.errs, err) }

func (p *planner) plan() *Graph {
	if !p.resolveAssembly() {
		return nil
	}
	p.errs = append(p.errs, p.asm.errs...)
	p.collectTails()
	if len(p.tailSet) == 0 {
		p.fail(ErrNoTails)
		return nil
	}
	p.reach()
	remaining := p.deriveSchemas()
	p.checkBindings()
	p.checkCycles(remaining)
	if len(p.errs) > 0 {
		return nil
	}
	return p.graph()
}

// resolveAssembly finds the assembly every handle must come from.
func (p *planner) resolveAssembly() bool {
	var all []Stream
	for _, b := range p.sources {
		all = append(all, b.Stream)
	}
	for _, b := range p.sinks {
		all = append(all, b.Stream)
	}
	all = append(all, p.tails...)

	for _, s := range all {
		if s.Valid() {
			p.asm = s.asm
			break
		}
	}
	if p.asm == nil {
		p.fail(ErrNoTails)
		return false
	}
	ok := true
	for _, s := range all {
		if err := p.asm.owns(s); err != nil {
			p.fail(fmt.Errorf("stream '%s': %w", s.name, err))
			ok = false
		}
	}
	return ok
}

func (p *planner) collectTails() {
	seen := make(map[int]bool)
	add := func(s Stream) {
		if !seen[s.ID()] {
			seen[s.ID()] = true
			p.tailSet = append(p.tailSet, s)
		}
	}
	for _, s := range p.tails {
		add(s)
	}
	for _, b := range p.sinks {
		add(b.Stream)
	}
}

// reach marks every stream and stage a tail depends on.
func (p *planner) reach() {
	p.streams = make(map[int]bool)
	p.stages = make(map[int]bool)
	stack := make([]int, 0, len(p.tailSet))
	for _, s := range p.tailSet {
		stack = append(stack, s.ID())
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.streams[id] {
			continue
		}
		p.streams[id] = true
		producer := p.asm.streams[id].producer
		if producer < 0 {
			continue
		}
		p.stages[producer] = true
		for _, in := range p.asm.stages[producer].Inputs {
			if in.Valid() && in.asm == p.asm {
				stack = append(stack, in.ID())
			}
		}
	}
}

// deriveSchemas orders reachable stages topologically and derives each
// output schema in that order. Stages that cannot be ordered are returned.
func (p *planner) deriveSchemas() []int {
	p.schemas = make(map[int]Schema)
	p.depth = make(map[int]int)

	indegree := make(map[int]int, len(p.stages))
	consumers := make(map[int][]int)
	ids := sortedKeys(p.stages)
	for _, i := range ids {
		indegree[i] = 0
		for _, in := range p.asm.stages[i].Inputs {
			if !in.Valid() || in.asm != p.asm {
				continue
			}
			if producer := p.asm.streams[in.ID()].producer; producer >= 0 {
				indegree[i]++
				consumers[producer] = append(consumers[producer], i)
			}
		}
	}

	queue := make([]int, 0, len(ids))
	for _, i := range ids {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	failed := make(map[int]bool)
	undefined := make(map[int]bool)
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		p.order = append(p.order, i)
		if !p.deriveStage(i, failed, undefined) {
			failed[i] = true
		}
		for _, c := range consumers[i] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	var remaining []int
	for _, i := range ids {
		if indegree[i] > 0 {
			remaining = append(remaining, i)
		}
	}
	return remaining
}

// deriveStage computes the output schema of stage i. It reports false when
// the stage failed or could not be checked because an input failed.
func (p *planner) deriveStage(i int, failed, undefined map[int]bool) bool {
	stage := p.asm.stages[i]
	if err := checkArity(stage); err != nil {
		p.fail(err)
		return false
	}

	inputs := make([]Schema, len(stage.Inputs))
	depth := 0
	for j, in := range stage.Inputs {
		if !in.Valid() || in.asm != p.asm {
			return false
		}
		node := p.asm.streams[in.ID()]
		switch {
		case node.root:
			inputs[j] = node.schema
		case node.producer >= 0:
			if failed[node.producer] {
				return false
			}
			inputs[j] = p.schemas[in.ID()]
			depth = max(depth, p.depth[node.producer]+1)
		default:
			if !undefined[in.ID()] {
				undefined[in.ID()] = true
				p.fail(&ValidationError{
					Path:    []string{stage.Name},
					Message: fmt.Sprintf("input stream '%s' is not defined", in.name),
				})
			}
			return false
		}
	}

	schema, err := deriveSchema(stage, inputs)
	if err != nil {
		p.fail(attribute(err, stage.Name))
		return false
	}
	p.schemas[stage.Output.ID()] = schema
	p.depth[i] = depth
	return true
}

func checkArity(s Stage) error {
	want := "exactly 1 input"
	ok := len(s.Inputs) == 1
	if s.Kind() == KindJoin {
		want = "at least 2 inputs"
		ok = len(s.Inputs) >= 2
	}
	if ok {
		return nil
	}
	return &ValidationError{
		Path:    []string{s.Name},
		Message: fmt.Sprintf("%s requires %s, got %d", s.Kind(), want, len(s.Inputs)),
	}
}

// checkBindings verifies every tail has a sink and every reachable root a
// source, and records bound sources no tail needs.
func (p *planner) checkBindings() {
	sunk := make(map[int]bool)
	for i, b := range p.sinks {
		if b.Tap == nil {
			p.fail(&ValidationError{Path: []string{fmt.Sprintf("sinks[%d]", i)}, Message: fmt.Sprintf("sink binding for '%s' has no tap", b.Stream.name)})
			continue
		}
		sunk[b.Stream.ID()] = true
	}
	for _, s := range p.tailSet {
		if !sunk[s.ID()] {
			p.fail(&UnboundTailError{Stream: s.name})
		}
	}

	bound := make(map[int]bool)
	for i, b := range p.sources {
		path := []string{fmt.Sprintf("sources[%d]", i)}
		switch {
		case b.Tap == nil:
			p.fail(&ValidationError{Path: path, Message: fmt.Sprintf("source binding for '%s' has no tap", b.Stream.name)})
		case !p.asm.streams[b.Stream.ID()].root:
			p.fail(&ValidationError{Path: path, Message: fmt.Sprintf("stream '%s' is derived and cannot be bound to a source", b.Stream.name)})
		case bound[b.Stream.ID()]:
			p.fail(&ValidationError{Path: path, Message: fmt.Sprintf("stream '%s' is bound to more than one source", b.Stream.name)})
		default:
			bound[b.Stream.ID()] = true
		}
	}
	for _, id := range sortedKeys(p.streams) {
		node := p.asm.streams[id]
		if node.root && !bound[id] {
			p.fail(&UnboundSourceError{Stream: node.name})
		}
	}
}

// checkCycles reports the loop through the first stage left unordered.
func (p *planner) checkCycles(remaining []int) {
	if len(remaining) == 0 {
		return
	}
	left := make(map[int]bool, len(remaining))
	for _, i := range remaining {
		left[i] = true
	}

	visited := make(map[int]int) // stage -> position in path
	var path []int
	cur := remaining[0]
	for {
		if at, seen := visited[cur]; seen {
			path = path[at:]
			break
		}
		visited[cur] = len(path)
		path = append(path, cur)
		next := -1
		for _, in := range p.asm.stages[cur].Inputs {
			if !in.Valid() || in.asm != p.asm {
				continue
			}
			if producer := p.asm.streams[in.ID()].producer; producer >= 0 && left[producer] {
				next = producer
				break
			}
		}
		if next < 0 {
			// Only blocked behind a cycle, not on one. Report everything left.
			path = remaining
			break
		}
		cur = next
	}

	// Inputs were followed backwards; present the loop in data-flow order,
	// starting from the stage declared first.
	slices.Reverse(path)
	first := 0
	for k, i := range path {
		if i < path[first] {
			first = k
		}
	}
	names := make([]string, 0, len(path)+1)
	for k := range path {
		names = append(names, p.asm.stages[path[(first+k)%len(path)]].Name)
	}
	names = append(names, names[0])
	p.fail(&CycleError{Streams: names})
}

func (p *planner) graph() *Graph {
	g := &Graph{
		name:      p.name,
		asm:       p.asm,
		schemas:   make(map[int]Schema, len(p.streams)),
		producer:  make(map[int]int, len(p.order)),
		consumers: make(map[int][]int),
		tails:     slices.Clone(p.tailSet),
	}

	for _, id := range sortedKeys(p.streams) {
		node := p.asm.streams[id]
		g.streams = append(g.streams, p.asm.handle(id))
		if node.root {
			g.schemas[id] = node.schema
		} else {
			g.schemas[id] = p.schemas[id]
		}
	}

	for k, i := range p.order {
		stage := p.asm.stages[i].clone()
		stage.Schema = g.schemas[stage.Output.ID()]
		g.stages = append(g.stages, stage)
		g.producer[stage.Output.ID()] = k
		for _, in := range stage.Inputs {
			if !slices.Contains(g.consumers[in.ID()], k) {
				g.consumers[in.ID()] = append(g.consumers[in.ID()], k)
			}
		}
		d := p.depth[i]
		for len(g.levels) <= d {
			g.levels = append(g.levels, nil)
		}
		g.levels[d] = append(g.levels[d], k)
	}

	for _, b := range p.sources {
		if p.streams[b.Stream.ID()] {
			g.sources = append(g.sources, b)
		} else {
			g.unused = append(g.unused, b.Stream)
		}
	}
	g.sinks = slices.Clone(p.sinks)
	return g
}

func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
