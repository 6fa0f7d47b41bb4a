package conflux

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrForeignStream = errors.New("stream belongs to a different assembly")
	ErrInvalidStream = errors.New("invalid stream handle")
	ErrUnknownTap    = errors.New("tap not registered")
	ErrNoTails       = errors.New("flow declares no tails")
)

// UnknownFieldError reports a reference to a field absent from the relevant schema.
type UnknownFieldError struct {
	Stage     string   // Stage whose input lacks the field, empty outside a build
	Field     string   // Missing field; empty when a join input declares no key
	Available []string // Fields of the schema that was searched
	Reason    string   // Optional detail for malformed key declarations
}

func (e *UnknownFieldError) Error() string {
	var sb strings.Builder
	if e.Stage != "" {
		fmt.Fprintf(&sb, "stage %q: ", e.Stage)
	}
	if e.Field == "" {
		sb.WriteString(e.Reason)
		return sb.String()
	}
	fmt.Fprintf(&sb, "unknown field %q", e.Field)
	if e.Reason != "" {
		fmt.Fprintf(&sb, " (%s)", e.Reason)
	}
	if len(e.Available) > 0 {
		fmt.Fprintf(&sb, "; available: %s", strings.Join(e.Available, ", "))
	}
	return sb.String()
}

// DuplicateFieldError reports a rename or merge producing colliding names.
type DuplicateFieldError struct {
	Stage string
	Field string
}

func (e *DuplicateFieldError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("stage %q: duplicate field %q", e.Stage, e.Field)
	}
	return fmt.Sprintf("duplicate field %q", e.Field)
}

// CycleError reports streams whose producer chain loops back on itself.
type CycleError struct {
	Streams []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected through streams: %s", strings.Join(e.Streams, " -> "))
}

// UnboundTailError reports a tail stream without a sink binding.
type UnboundTailError struct {
	Stream string
}

func (e *UnboundTailError) Error() string {
	return fmt.Sprintf("tail %q has no sink binding", e.Stream)
}

// UnboundSourceError reports a root stream feeding a tail without a source binding.
type UnboundSourceError struct {
	Stream string
}

func (e *UnboundSourceError) Error() string {
	return fmt.Sprintf("source %q has no source binding", e.Stream)
}

// PredicateEvaluationError reports a failure evaluating a filter predicate
// against a record during execution.
type PredicateEvaluationError struct {
	Stage  string
	Record Tuple
	Err    error
}

func (e *PredicateEvaluationError) Error() string {
	return fmt.Sprintf("stage %q: evaluate predicate on %v: %v", e.Stage, e.Record, e.Err)
}

func (e *PredicateEvaluationError) Unwrap() error { return e.Err }

// attribute stamps the stage name onto schema errors raised while deriving
// that stage's output.
func attribute(err error, stage string) error {
	var unknown *UnknownFieldError
	if errors.As(err, &unknown) && unknown.Stage == "" {
		unknown.Stage = stage
	}
	var dup *DuplicateFieldError
	if errors.As(err, &dup) && dup.Stage == "" {
		dup.Stage = stage
	}
	return err
}
