// Package expression compiles filter predicates written in the expr
// language. Record fields are the identifiers of an expression:
//
//	party == "Socialist" && year >= 1981
package expression

import (
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/zoobzio/conflux"
)

// Program is a compiled boolean expression over record fields.
type Program struct {
	source  string
	fields  []string
	program *vm.Program
}

var _ conflux.Expression = (*Program)(nil)

// New parses and compiles src. The expression must evaluate to a bool.
func New(src string) (*Program, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	program, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Program{
		source:  src,
		fields:  referencedFields(tree.Node),
		program: program,
	}, nil
}

// Compile is New returning the conflux interface, for conflux.WithCompiler.
func Compile(src string) (conflux.Expression, error) {
	p, err := New(src)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// MustCompile is like New but panics on error.
func MustCompile(src string) *Program {
	p, err := New(src)
	if err != nil {
		panic(err)
	}
	return p
}

// Fields returns the record fields the expression reads, in order of first use.
func (p *Program) Fields() []string { return slices.Clone(p.fields) }

// Evaluate runs the expression with the record's fields as its environment.
func (p *Program) Evaluate(record conflux.Record) (bool, error) {
	out, err := expr.Run(p.program, record.Map())
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("expression %q returned %T, want bool", p.source, out)
	}
	return ok, nil
}

func (p *Program) String() string { return p.source }

// fieldCollector gathers identifiers that are neither called nor bound by
// the expression itself.
type fieldCollector struct {
	seen   map[string]bool
	fields []string
	local  map[string]bool
}

func (c *fieldCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			c.local[id.Value] = true
		}
	case *ast.VariableDeclaratorNode:
		c.local[n.Name] = true
	case *ast.IdentifierNode:
		if n.Value == "$env" || c.seen[n.Value] {
			return
		}
		c.seen[n.Value] = true
		c.fields = append(c.fields, n.Value)
	}
}

func referencedFields(root ast.Node) []string {
	c := &fieldCollector{seen: map[string]bool{}, local: map[string]bool{}}
	ast.Walk(&root, c)
	fields := c.fields[:0]
	for _, f := range c.fields {
		if !c.local[f] {
			fields = append(fields, f)
		}
	}
	return fields
}
