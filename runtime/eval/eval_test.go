package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalArithmetic(t *testing.T) {
	e := New()
	v, err := e.Eval("2*a + 1", map[string]any{"a": 3})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = e.Eval("a / 2", map[string]any{"a": 5})
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}

func TestEvalStrings(t *testing.T) {
	e := New()
	v, err := e.Eval(`prefix + "_"+ String(n)`, map[string]any{"prefix": "run", "n": 2})
	require.NoError(t, err)
	assert.Equal(t, "run_2", v)
}

func TestEvalSyntaxError(t *testing.T) {
	e := New()
	_, err := e.Eval("2 *", nil)
	assert.Error(t, err)
}

func TestEvalRuntimeError(t *testing.T) {
	e := New()
	_, err := e.Eval("missing.field", nil)
	assert.Error(t, err)
}

func TestCompileAndRun(t *testing.T) {
	prog, err := Compile("x + 1")
	require.NoError(t, err)
	e := New()
	for i := 0; i < 3; i++ {
		v, err := e.Run(prog, map[string]any{"x": i})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), v)
	}
}
