package conflux

import (
	"fmt"
)

// assemble turns a validated definition into a flow. Every stage name is
// reserved before any stage is attached, so stages may read streams declared
// further down; a loop through such references is reported by Build.
// Callers hold f.mu.
func (f *Factory) assemble(def *Definition) (*FlowDef, error) {
	asm := NewAssembly()
	flow := NewFlowDef(def.Name)
	streams := make(map[string]Stream, len(def.Sources)+len(def.Stages))

	for i := range def.Sources {
		src := &def.Sources[i]
		schema, err := NewSchema(src.Fields...)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		tap, err := f.tap(src.Tap)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		s := asm.Source(src.Name, schema)
		streams[src.Name] = s
		flow.AddSource(s, tap)
	}

	for i := range def.Stages {
		streams[def.Stages[i].Name] = asm.reserve(def.Stages[i].Name)
	}
	for i := range def.Stages {
		stage := &def.Stages[i]
		path := fmt.Sprintf("stages[%d]", i)

		names := stage.inputs()
		inputs := make([]Stream, len(names))
		for j, name := range names {
			s, ok := streams[name]
			if !ok {
				return nil, fmt.Errorf("%s: stream '%s' not found", path, name)
			}
			inputs[j] = s
		}

		op, err := f.buildOp(stage, path)
		if err != nil {
			return nil, err
		}
		asm.attach(streams[stage.Name], op, inputs)
	}

	for i, sink := range def.Sinks {
		s, ok := streams[sink.Stream]
		if !ok {
			return nil, fmt.Errorf("sinks[%d]: stream '%s' not found", i, sink.Stream)
		}
		tap, err := f.tap(sink.Tap)
		if err != nil {
			return nil, fmt.Errorf("sinks[%d]: %w", i, err)
		}
		flow.AddSink(s, tap)
	}
	for i, name := range def.Tails {
		s, ok := streams[name]
		if !ok {
			return nil, fmt.Errorf("tails[%d]: stream '%s' not found", i, name)
		}
		flow.AddTail(s)
	}
	return flow, nil
}

func (f *Factory) tap(id string) (Tap, error) {
	tap, exists := f.taps[id]
	if !exists {
		return nil, fmt.Errorf("tap '%s': %w", id, ErrUnknownTap)
	}
	return tap, nil
}

// buildOp creates the op payload of a stage definition.
func (f *Factory) buildOp(stage *StageDef, path string) (Op, error) {
	switch StageKind(stage.Type) {
	case KindRename:
		return f.buildRename(stage, path)
	case KindRetain:
		return f.buildRetain(stage, path)
	case KindFilter:
		return f.buildFilter(stage, path)
	case KindJoin:
		return f.buildJoin(stage, path)
	default:
		return nil, fmt.Errorf("%s: unknown stage type '%s'", path, stage.Type)
	}
}

// buildRename creates a rename op from its definition.
func (*Factory) buildRename(stage *StageDef, path string) (Op, error) {
	if len(stage.Rename) == 0 {
		return nil, fmt.Errorf("%s: rename requires at least one mapping", path)
	}
	mapping := make(map[string]string, len(stage.Rename))
	for old, renamed := range stage.Rename {
		mapping[old] = renamed
	}
	return RenameOp{Mapping: mapping}, nil
}

// buildRetain creates a retain op from its definition.
func (*Factory) buildRetain(stage *StageDef, path string) (Op, error) {
	if len(stage.Fields) == 0 {
		return nil, fmt.Errorf("%s: retain requires at least one field", path)
	}
	return RetainOp{Fields: append([]string(nil), stage.Fields...)}, nil
}

// buildFilter resolves a registered predicate or compiles an inline expression.
func (f *Factory) buildFilter(stage *StageDef, path string) (Op, error) {
	if stage.Predicate != "" {
		pm, exists := f.predicates[stage.Predicate]
		if !exists {
			return nil, fmt.Errorf("%s: predicate '%s' not found", path, stage.Predicate)
		}
		return FilterOp{Predicate: pm.expression}, nil
	}

	if f.compiler == nil {
		return nil, fmt.Errorf("%s: expression given but no compiler configured", path)
	}
	expr, err := f.compiler(stage.Expression)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid expression: %w", path, err)
	}
	return FilterOp{Predicate: expr}, nil
}

// buildJoin creates a join op from its definition.
func (*Factory) buildJoin(stage *StageDef, path string) (Op, error) {
	policy, err := ParseJoinPolicy(stage.Policy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	keys := make([][]string, len(stage.Keys))
	for i, k := range stage.Keys {
		keys[i] = append([]string(nil), k...)
	}
	return JoinOp{Keys: keys, Policy: policy}, nil
}
