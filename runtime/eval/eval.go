// Package eval evaluates the expression fields of tasks with an embedded
// JavaScript engine. Each evaluator owns a single VM and is not safe for
// concurrent use; every task keeps its own.
package eval

import (
	"fmt"

	"github.com/dop251/goja"
)

// Evaluator wraps a goja runtime.
type Evaluator struct {
	vm *goja.Runtime
}

// New returns an evaluator with an empty global scope.
func New() *Evaluator {
	return &Evaluator{vm: goja.New()}
}

// Compile parses an expression once so it can be re-run cheaply.
func Compile(expr string) (*goja.Program, error) {
	prog, err := goja.Compile("", expr, true)
	if err != nil {
		return nil, fmt.Errorf("eval: compile %q: %w", expr, err)
	}
	return prog, nil
}

// Eval runs an expression with the given variables bound as globals and
// returns the result as a plain Go value.
func (e *Evaluator) Eval(expr string, vars map[string]any) (any, error) {
	prog, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	return e.Run(prog, vars)
}

// Run executes a compiled expression with the given variables bound as
// globals.
func (e *Evaluator) Run(prog *goja.Program, vars map[string]any) (any, error) {
	for name, value := range vars {
		if err := e.vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("eval: bind %q: %w", name, err)
		}
	}
	value, err := e.vm.RunProgram(prog)
	if err != nil {
		if exc, ok := err.(*goja.Exception); ok {
			return nil, fmt.Errorf("eval: %s", exc.Error())
		}
		return nil, err
	}
	return normalize(value.Export()), nil
}

// normalize maps goja exports onto the value set the database stores:
// JavaScript numbers surface as int64 when integral, float64 otherwise.
func normalize(v any) any {
	switch value := v.(type) {
	case float64:
		if value == float64(int64(value)) {
			return int64(value)
		}
		return value
	default:
		return v
	}
}
