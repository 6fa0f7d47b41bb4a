package conflux

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// StageKind names a stage variant. The values double as the `type` of a
// stage in a flow definition.
type StageKind string

// Stage kinds.
const (
	KindRename StageKind = "rename"
	KindRetain StageKind = "retain"
	KindFilter StageKind = "filter"
	KindJoin   StageKind = "join"
)

// Op is the kind-specific payload of a Stage. The set of implementations is
// closed: RenameOp, RetainOp, FilterOp and JoinOp.
type Op interface {
	Kind() StageKind
	sealed()
}

// RenameOp renames fields, old name to new name.
type RenameOp struct {
	Mapping map[string]string
}

// RetainOp keeps the listed fields in the listed order.
type RetainOp struct {
	Fields []string
}

// FilterOp keeps records for which Predicate evaluates true.
type FilterOp struct {
	Predicate Expression
}

// JoinOp co-groups its inputs on one key tuple per input.
type JoinOp struct {
	Keys   [][]string
	Policy JoinPolicy
}

func (RenameOp) Kind() StageKind { return KindRename }
func (RetainOp) Kind() StageKind { return KindRetain }
func (FilterOp) Kind() StageKind { return KindFilter }
func (JoinOp) Kind() StageKind   { return KindJoin }

func (RenameOp) sealed() {}
func (RetainOp) sealed() {}
func (FilterOp) sealed() {}
func (JoinOp) sealed()   {}

// JoinPolicy selects which inputs must contribute a record for a key to
// produce output. The zero value is InnerJoin.
type JoinPolicy int

// Join policies.
const (
	InnerJoin JoinPolicy = iota
	LeftJoin
	RightJoin
	OuterJoin
)

func (p JoinPolicy) String() string {
	switch p {
	case InnerJoin:
		return "inner"
	case LeftJoin:
		return "left"
	case RightJoin:
		return "right"
	case OuterJoin:
		return "outer"
	default:
		return fmt.Sprintf("JoinPolicy(%d)", int(p))
	}
}

// ParseJoinPolicy parses a policy name. The empty string is inner.
func ParseJoinPolicy(s string) (JoinPolicy, error) {
	switch strings.ToLower(s) {
	case "", "inner":
		return InnerJoin, nil
	case "left":
		return LeftJoin, nil
	case "right":
		return RightJoin, nil
	case "outer", "full":
		return OuterJoin, nil
	default:
		return 0, fmt.Errorf("unknown join policy %q", s)
	}
}

// Required reports, for n inputs, which inputs must hold the key.
func (p JoinPolicy) Required(n int) []bool {
	req := make([]bool, n)
	for i := range req {
		switch p {
		case InnerJoin:
			req[i] = true
		case LeftJoin:
			req[i] = i == 0
		case RightJoin:
			req[i] = i == n-1
		}
	}
	return req
}

// Stage is one transformation in a graph. It consumes Inputs and exclusively
// owns Output. Schema is the derived output schema, filled in by Build.
type Stage struct {
	Name   string
	Inputs []Stream
	Output Stream
	Op     Op
	Schema Schema
}

// Kind returns the stage variant.
func (s Stage) Kind() StageKind { return s.Op.Kind() }

func (s Stage) clone() Stage {
	out := s
	out.Inputs = slices.Clone(s.Inputs)
	switch op := s.Op.(type) {
	case RenameOp:
		out.Op = RenameOp{Mapping: maps.Clone(op.Mapping)}
	case RetainOp:
		out.Op = RetainOp{Fields: slices.Clone(op.Fields)}
	case JoinOp:
		keys := make([][]string, len(op.Keys))
		for i, k := range op.Keys {
			keys[i] = slices.Clone(k)
		}
		out.Op = JoinOp{Keys: keys, Policy: op.Policy}
	}
	return out
}

// deriveSchema computes the output schema of a stage from its input schemas.
func deriveSchema(s Stage, inputs []Schema) (Schema, error) {
	switch op := s.Op.(type) {
	case RenameOp:
		return Rename(inputs[0], op.Mapping)
	case RetainOp:
		return Project(inputs[0], op.Fields)
	case FilterOp:
		if op.Predicate == nil {
			return Schema{}, &ValidationError{Path: []string{s.Name}, Message: "filter requires a predicate"}
		}
		if missing, ok := inputs[0].Compatible(op.Predicate.Fields()); !ok {
			return Schema{}, &UnknownFieldError{
				Field:     missing,
				Available: inputs[0].Names(),
				Reason:    "referenced by predicate",
			}
		}
		return inputs[0], nil
	case JoinOp:
		return joinSchema(op, inputs)
	default:
		return Schema{}, fmt.Errorf("unsupported stage op %T", s.Op)
	}
}

func joinSchema(op JoinOp, inputs []Schema) (Schema, error) {
	if len(op.Keys) != len(inputs) {
		return Schema{}, &UnknownFieldError{
			Reason: fmt.Sprintf("join declares %d key lists for %d inputs", len(op.Keys), len(inputs)),
		}
	}
	width := len(op.Keys[0])
	for i, keys := range op.Keys {
		if len(keys) == 0 {
			return Schema{}, &UnknownFieldError{Reason: fmt.Sprintf("join input %d declares no key field", i)}
		}
		if len(keys) != width {
			return Schema{}, &UnknownFieldError{
				Reason: fmt.Sprintf("join input %d declares %d key fields, input 0 declares %d", i, len(keys), width),
			}
		}
		if missing, ok := inputs[i].Compatible(keys); !ok {
			return Schema{}, &UnknownFieldError{
				Field:     missing,
				Available: inputs[i].Names(),
				Reason:    fmt.Sprintf("join key of input %d", i),
			}
		}
	}

	out := inputs[0]
	for _, in := range inputs[1:] {
		merged, err := Merge(out, in)
		if err != nil {
			return Schema{}, err
		}
		out = merged
	}
	return out, nil
}
