package task

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/veltis/measure/runtime/eval"
)

// parseTemplate splits a template on single-level braces into literal parts
// and referenced entry names. parts always has one more element than names;
// the formatted result interleaves them.
func parseTemplate(s string) (parts []string, names []string, err error) {
	var literal strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		switch c {
		case '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return nil, nil, fmt.Errorf("unbalanced '{' in %q", s)
			}
			name := s[i+1 : i+end]
			if name == "" || strings.ContainsAny(name, "{ ") {
				return nil, nil, fmt.Errorf("invalid entry reference %q in %q", name, s)
			}
			parts = append(parts, literal.String())
			literal.Reset()
			names = append(names, name)
			i += end + 1
		case '}':
			return nil, nil, fmt.Errorf("unbalanced '}' in %q", s)
		default:
			literal.WriteByte(c)
			i++
		}
	}
	parts = append(parts, literal.String())
	return parts, names, nil
}

type formatCached struct {
	parts   []string
	indexes []int
}

func joinFormatted(parts []string, values []any) string {
	var out strings.Builder
	for i, part := range parts {
		out.WriteString(part)
		if i < len(values) {
			out.WriteString(fmt.Sprintf("%v", values[i]))
		}
	}
	return out.String()
}

// FormatString resolves every {entry} reference of the template against the
// database as seen from this task's node. While the database is running the
// resolved entry indexes are cached per template so later calls cost slice
// reads only.
func (b *BaseTask) FormatString(template string) (string, error) {
	if b.db.Running() {
		if cached, ok := b.fmtCache[template]; ok {
			return joinFormatted(cached.parts, b.db.GetValuesByIndex(cached.indexes)), nil
		}
	}
	parts, names, err := parseTemplate(template)
	if err != nil {
		return "", err
	}
	if b.db.Running() {
		indexMap, err := b.db.GetEntriesIndexes(b.path, names)
		if err != nil {
			return "", err
		}
		indexes := make([]int, len(names))
		for i, name := range names {
			indexes[i] = indexMap[name]
		}
		if b.fmtCache != nil {
			b.fmtCache[template] = &formatCached{parts: parts, indexes: indexes}
		}
		return joinFormatted(parts, b.db.GetValuesByIndex(indexes)), nil
	}
	values := make([]any, len(names))
	for i, name := range names {
		v, err := b.db.GetValue(b.path, name)
		if err != nil {
			return "", err
		}
		values[i] = v
	}
	return joinFormatted(parts, values), nil
}

type evalCached struct {
	prog    *goja.Program
	vars    []string
	indexes []int
}

// rewriteExpression replaces every {entry} reference with a synthetic
// identifier the evaluator can bind, returning the rewritten expression, the
// identifiers and the entry names in matching order.
func rewriteExpression(template string) (expr string, vars, names []string, err error) {
	parts, names, err := parseTemplate(template)
	if err != nil {
		return "", nil, nil, err
	}
	var out strings.Builder
	vars = make([]string, len(names))
	for i, part := range parts {
		out.WriteString(part)
		if i < len(names) {
			vars[i] = fmt.Sprintf("_e%d", i)
			out.WriteString(vars[i])
		}
	}
	return out.String(), vars, names, nil
}

// FormatAndEval substitutes every {entry} reference of the template and
// evaluates the result as an expression. While the database is running both
// the compiled expression and the entry indexes are cached per template.
func (b *BaseTask) FormatAndEval(template string) (any, error) {
	if b.evaluator == nil {
		b.evaluator = eval.New()
	}
	running := b.db.Running()
	if running {
		if cached, ok := b.evalCache[template]; ok {
			return b.runEval(cached, b.db.GetValuesByIndex(cached.indexes))
		}
	}
	expr, vars, names, err := rewriteExpression(template)
	if err != nil {
		return nil, err
	}
	prog, err := eval.Compile(expr)
	if err != nil {
		return nil, err
	}
	cached := &evalCached{prog: prog, vars: vars}
	if running {
		indexMap, err := b.db.GetEntriesIndexes(b.path, names)
		if err != nil {
			return nil, err
		}
		cached.indexes = make([]int, len(names))
		for i, name := range names {
			cached.indexes[i] = indexMap[name]
		}
		if b.evalCache != nil {
			b.evalCache[template] = cached
		}
		return b.runEval(cached, b.db.GetValuesByIndex(cached.indexes))
	}
	values := make([]any, len(names))
	for i, name := range names {
		v, err := b.db.GetValue(b.path, name)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return b.runEval(cached, values)
}

func (b *BaseTask) runEval(cached *evalCached, values []any) (any, error) {
	bound := make(map[string]any, len(values))
	for i, name := range cached.vars {
		bound[name] = values[i]
	}
	return b.evaluator.Run(cached.prog, bound)
}
