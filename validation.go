package conflux

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
)

// ValidationError represents a definition or flow error with its location.
type ValidationError struct { //nolint:govet
	Path    []string // Path to the error in the definition
	Message string   // Error message
}

func (e ValidationError) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", strings.Join(e.Path, "."), e.Message)
}

// ValidationErrors collects every problem found by a validation pass. It
// unwraps to its members, so errors.As finds any typed error inside.
type ValidationErrors []error

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func (e ValidationErrors) Unwrap() []error { return e }

// ValidateDefinition validates a definition against the factory's
// registries without building it.
// Returns nil if valid, or ValidationErrors containing all issues found.
func (f *Factory) ValidateDefinition(def Definition) error {
	start := time.Now()
	capitan.Emit(context.Background(), DefinitionValidationStarted, KeyName.Field(def.Name))

	f.mu.RLock()
	defer f.mu.RUnlock()

	var errors ValidationErrors
	validateStructure(&def, &errors)
	f.validateReferences(&def, &errors)

	if len(errors) == 0 {
		capitan.Emit(context.Background(), DefinitionValidationCompleted,
			KeyName.Field(def.Name),
			KeyDuration.Field(time.Since(start)))
		return nil
	}

	capitan.Emit(context.Background(), DefinitionValidationFailed,
		KeyName.Field(def.Name),
		KeyErrorCount.Field(len(errors)),
		KeyDuration.Field(time.Since(start)))
	return errors
}

// validateReferences checks taps and predicates against the registries and
// compiles inline expressions.
func (f *Factory) validateReferences(def *Definition, errors *ValidationErrors) {
	for i, src := range def.Sources {
		if src.Tap == "" {
			continue
		}
		if _, exists := f.taps[src.Tap]; !exists {
			*errors = append(*errors, &ValidationError{
				Path:    []string{"root", fmt.Sprintf("sources[%d]", i)},
				Message: fmt.Sprintf("tap '%s' not found", src.Tap),
			})
		}
	}
	for i, sink := range def.Sinks {
		if sink.Tap == "" {
			continue
		}
		if _, exists := f.taps[sink.Tap]; !exists {
			*errors = append(*errors, &ValidationError{
				Path:    []string{"root", fmt.Sprintf("sinks[%d]", i)},
				Message: fmt.Sprintf("tap '%s' not found", sink.Tap),
			})
		}
	}
	for i := range def.Stages {
		stage := &def.Stages[i]
		if StageKind(stage.Type) != KindFilter {
			continue
		}
		path := []string{"root", fmt.Sprintf("stages[%d]", i)}
		switch {
		case stage.Predicate != "":
			if _, exists := f.predicates[stage.Predicate]; !exists {
				*errors = append(*errors, &ValidationError{
					Path:    path,
					Message: fmt.Sprintf("predicate '%s' not found", stage.Predicate),
				})
			}
		case stage.Expression != "":
			if f.compiler == nil {
				*errors = append(*errors, &ValidationError{
					Path:    path,
					Message: "expression given but no compiler configured",
				})
			} else if _, err := f.compiler(stage.Expression); err != nil {
				*errors = append(*errors, &ValidationError{
					Path:    append(path, "expression"),
					Message: fmt.Sprintf("invalid expression: %s", err),
				})
			}
		}
	}
}

// ValidateDefinitionStructure validates definition syntax without requiring
// registered taps or predicates. Use this for CI/CD linting where a
// configured factory is not available.
// Returns nil if valid, or ValidationErrors containing all structural issues found.
//
// This validates:
//   - Source, stage and sink declarations are complete
//   - Stream names are unique and every reference names a declared stream
//   - Stage types are known and carry the fields their type requires
//   - Join key lists match the inputs and policies parse
//
// This does NOT validate:
//   - Tap or predicate references exist
//   - Expressions compile
//   - Field references against schemas (checked by Build)
//   - Cycles between stages (checked by Build)
func ValidateDefinitionStructure(def Definition) error {
	var errors ValidationErrors
	validateStructure(&def, &errors)

	if len(errors) == 0 {
		return nil
	}
	return errors
}

func validateStructure(def *Definition, errors *ValidationErrors) {
	root := []string{"root"}
	declared := make(map[string]bool, len(def.Sources)+len(def.Stages))

	declare := func(path []string, name string) {
		if name == "" {
			*errors = append(*errors, &ValidationError{Path: path, Message: "name is required"})
			return
		}
		if declared[name] {
			*errors = append(*errors, &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("stream name '%s' is already declared", name),
			})
			return
		}
		declared[name] = true
	}

	if len(def.Sources) == 0 {
		*errors = append(*errors, &ValidationError{Path: root, Message: "at least one source is required"})
	}
	for i := range def.Sources {
		path := append(append([]string(nil), root...), fmt.Sprintf("sources[%d]", i))
		validateSourceStructure(&def.Sources[i], path, errors)
		declare(path, def.Sources[i].Name)
	}
	for i := range def.Stages {
		path := append(append([]string(nil), root...), fmt.Sprintf("stages[%d]", i))
		declare(path, def.Stages[i].Name)
	}
	for i := range def.Stages {
		path := append(append([]string(nil), root...), fmt.Sprintf("stages[%d]", i))
		validateStageStructure(&def.Stages[i], path, declared, errors)
	}

	if len(def.Sinks) == 0 {
		*errors = append(*errors, &ValidationError{Path: root, Message: "at least one sink is required"})
	}
	for i, sink := range def.Sinks {
		path := append(append([]string(nil), root...), fmt.Sprintf("sinks[%d]", i))
		if sink.Tap == "" {
			*errors = append(*errors, &ValidationError{Path: path, Message: "sink requires a tap"})
		}
		validateReference(sink.Stream, path, declared, errors)
	}
	for i, tail := range def.Tails {
		path := append(append([]string(nil), root...), fmt.Sprintf("tails[%d]", i))
		validateReference(tail, path, declared, errors)
	}
}

func validateSourceStructure(src *SourceDef, path []string, errors *ValidationErrors) {
	if src.Tap == "" {
		*errors = append(*errors, &ValidationError{Path: path, Message: "source requires a tap"})
	}
	if len(src.Fields) == 0 {
		*errors = append(*errors, &ValidationError{Path: path, Message: "source requires at least one field"})
		return
	}
	if _, err := NewSchema(src.Fields...); err != nil {
		*errors = append(*errors, &ValidationError{
			Path:    append(append([]string(nil), path...), "fields"),
			Message: err.Error(),
		})
	}
}

func validateReference(name string, path []string, declared map[string]bool, errors *ValidationErrors) {
	if name == "" {
		*errors = append(*errors, &ValidationError{Path: path, Message: "stream reference is required"})
		return
	}
	if !declared[name] {
		*errors = append(*errors, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("stream '%s' not found", name),
		})
	}
}

func validateStageStructure(stage *StageDef, path []string, declared map[string]bool, errors *ValidationErrors) {
	if stage.Input != "" && len(stage.Inputs) > 0 {
		*errors = append(*errors, &ValidationError{
			Path:    path,
			Message: "stage cannot have both 'input' and 'inputs'",
		})
		return
	}
	for j, in := range stage.inputs() {
		validateReference(in, append(append([]string(nil), path...), fmt.Sprintf("inputs[%d]", j)), declared, errors)
	}

	switch StageKind(stage.Type) {
	case KindRename:
		validateRenameStructure(stage, path, errors)
	case KindRetain:
		validateRetainStructure(stage, path, errors)
	case KindFilter:
		validateFilterStructure(stage, path, errors)
	case KindJoin:
		validateJoinStructure(stage, path, errors)
	case "":
		*errors = append(*errors, &ValidationError{Path: path, Message: "stage requires a type"})
	default:
		*errors = append(*errors, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("unknown stage type '%s'", stage.Type),
		})
	}
}

func requireSingleInput(stage *StageDef, path []string, errors *ValidationErrors) {
	if len(stage.inputs()) != 1 {
		*errors = append(*errors, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s requires exactly one input", stage.Type),
		})
	}
}

func validateRenameStructure(stage *StageDef, path []string, errors *ValidationErrors) {
	requireSingleInput(stage, path, errors)
	if len(stage.Rename) == 0 {
		*errors = append(*errors, &ValidationError{Path: path, Message: "rename requires at least one mapping"})
	}
	for old, renamed := range stage.Rename {
		if old == "" || renamed == "" {
			*errors = append(*errors, &ValidationError{
				Path:    append(append([]string(nil), path...), "rename"),
				Message: "rename mapping entries must be non-empty",
			})
			break
		}
	}
}

func validateRetainStructure(stage *StageDef, path []string, errors *ValidationErrors) {
	requireSingleInput(stage, path, errors)
	if len(stage.Fields) == 0 {
		*errors = append(*errors, &ValidationError{Path: path, Message: "retain requires at least one field"})
	}
}

func validateFilterStructure(stage *StageDef, path []string, errors *ValidationErrors) {
	requireSingleInput(stage, path, errors)
	switch {
	case stage.Predicate == "" && stage.Expression == "":
		*errors = append(*errors, &ValidationError{Path: path, Message: "filter requires a predicate or an expression"})
	case stage.Predicate != "" && stage.Expression != "":
		*errors = append(*errors, &ValidationError{Path: path, Message: "filter cannot have both 'predicate' and 'expression'"})
	}
}

func validateJoinStructure(stage *StageDef, path []string, errors *ValidationErrors) {
	if len(stage.Inputs) < 2 {
		*errors = append(*errors, &ValidationError{Path: path, Message: "join requires at least 2 inputs"})
	}
	if len(stage.Keys) != len(stage.Inputs) {
		*errors = append(*errors, &ValidationError{
			Path:    append(append([]string(nil), path...), "keys"),
			Message: fmt.Sprintf("join requires one key list per input, got %d for %d inputs", len(stage.Keys), len(stage.Inputs)),
		})
	}
	if _, err := ParseJoinPolicy(stage.Policy); err != nil {
		*errors = append(*errors, &ValidationError{
			Path:    append(append([]string(nil), path...), "policy"),
			Message: err.Error(),
		})
	}
}
