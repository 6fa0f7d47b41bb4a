package engine

import (
	"fmt"

	"github.com/zoobzio/conflux"
)

// evaluate computes the records of a stage's output stream.
func evaluate(stage conflux.Stage, schemas []conflux.Schema, inputs [][]conflux.Tuple) ([]conflux.Tuple, error) {
	switch op := stage.Op.(type) {
	case conflux.RenameOp:
		// Positions are unchanged; only the schema names differ.
		return inputs[0], nil
	case conflux.RetainOp:
		return retain(schemas[0], op.Fields, inputs[0])
	case conflux.FilterOp:
		return filter(stage.Name, schemas[0], op.Predicate, inputs[0])
	case conflux.JoinOp:
		return conflux.CoGroup(schemas, inputs, op.Keys, op.Policy)
	default:
		return nil, fmt.Errorf("stage %q: unsupported op %T", stage.Name, stage.Op)
	}
}

func retain(schema conflux.Schema, fields []string, rows []conflux.Tuple) ([]conflux.Tuple, error) {
	idx := make([]int, len(fields))
	for i, name := range fields {
		j, ok := schema.Index(name)
		if !ok {
			return nil, &conflux.UnknownFieldError{Field: name, Available: schema.Names()}
		}
		idx[i] = j
	}
	out := make([]conflux.Tuple, len(rows))
	for r, row := range rows {
		t := make(conflux.Tuple, len(idx))
		for i, j := range idx {
			t[i] = row[j]
		}
		out[r] = t
	}
	return out, nil
}

func filter(name string, schema conflux.Schema, pred conflux.Expression, rows []conflux.Tuple) ([]conflux.Tuple, error) {
	var out []conflux.Tuple
	for _, row := range rows {
		keep, err := pred.Evaluate(conflux.NewRecord(schema, row))
		if err != nil {
			return nil, &conflux.PredicateEvaluationError{Stage: name, Record: row.Clone(), Err: err}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}
