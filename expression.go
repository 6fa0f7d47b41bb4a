package conflux

import (
	"fmt"
	"reflect"
	"slices"
)

// Expression is a pluggable predicate bound to a Filter stage. Fields lists
// every field the predicate reads so the builder can check it against the
// input schema before anything runs.
type Expression interface {
	Fields() []string
	Evaluate(record Record) (bool, error)
}

type funcExpression struct {
	fields []string
	fn     func(Record) (bool, error)
	desc   string
}

func (e funcExpression) Fields() []string                     { return slices.Clone(e.fields) }
func (e funcExpression) Evaluate(record Record) (bool, error) { return e.fn(record) }
func (e funcExpression) String() string                       { return e.desc }

// PredicateFunc adapts a Go function reading the given fields into an Expression.
func PredicateFunc(fields []string, fn func(Record) (bool, error)) Expression {
	return funcExpression{
		fields: slices.Clone(fields),
		fn:     fn,
		desc:   fmt.Sprintf("func(%v)", fields),
	}
}

// FieldEquals matches records whose field equals value.
func FieldEquals(field string, value any) Expression {
	return funcExpression{
		fields: []string{field},
		fn: func(r Record) (bool, error) {
			v, ok := r.Get(field)
			if !ok {
				return false, fmt.Errorf("field %q not in record", field)
			}
			return reflect.DeepEqual(v, value), nil
		},
		desc: fmt.Sprintf("%s == %v", field, value),
	}
}

// Not negates an expression, reading the same fields.
func Not(e Expression) Expression {
	return funcExpression{
		fields: e.Fields(),
		fn: func(r Record) (bool, error) {
			ok, err := e.Evaluate(r)
			return !ok, err
		},
		desc: fmt.Sprintf("!(%v)", e),
	}
}
