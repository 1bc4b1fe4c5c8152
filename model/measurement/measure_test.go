package measurement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltis/measure/model/task"
)

func TestNewMeasure(t *testing.T) {
	m := New("transport")
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "transport", m.Root.MeasName)
	status, _ := m.Status()
	assert.Equal(t, StatusEditing, status)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusInterrupted.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusReady.Terminal())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := New("sweep")
	m.Root.DefaultPath = t.TempDir()
	m.Monitored = []string{"root/Loop_value"}
	loop := task.NewLoopTask("Loop")
	loop.Stop = "5"
	require.NoError(t, m.Root.AppendChild(loop))
	m.Dependencies = NewDependencies(nil, []string{"task:veltis.LoopTask"}, []string{"instr:lockin"})
	m.SetStatus(StatusReady, "checks passed")

	data, err := Marshal(m.Save())
	require.NoError(t, err)
	cfg, err := Unmarshal(data)
	require.NoError(t, err)

	loaded, err := Load(cfg, task.NewRegistry(), nil)
	require.NoError(t, err)
	assert.Equal(t, m.ID, loaded.ID)
	assert.Equal(t, []string{"root/Loop_value"}, loaded.Monitored)
	assert.Equal(t, []string{"instr:lockin"}, loaded.Dependencies.RuntimeIDs)
	status, infos := loaded.Status()
	assert.Equal(t, StatusReady, status)
	assert.Equal(t, "checks passed", infos)

	children := loaded.Root.Children()
	require.Len(t, children, 1)
	assert.Equal(t, "5", children[0].(*task.LoopTask).Stop)
}

type fakeResolver struct {
	deps        map[string]any
	unavailable []string
	errs        map[string]string
	released    []map[string]any
}

func (f *fakeResolver) Collect(ctx context.Context, ids []string) (map[string]any, []string, map[string]string) {
	out := map[string]any{}
	for _, id := range ids {
		if v, ok := f.deps[id]; ok {
			out[id] = v
		}
	}
	return out, f.unavailable, f.errs
}

func (f *fakeResolver) Release(ctx context.Context, deps map[string]any) {
	f.released = append(f.released, deps)
}

func TestCollectRuntimes(t *testing.T) {
	resolver := &fakeResolver{deps: map[string]any{"instr:dmm": "driver"}}
	d := NewDependencies(resolver, nil, []string{"instr:dmm"})

	ok, unavailable, errs := d.CollectRuntimes(context.Background())
	assert.True(t, ok)
	assert.Empty(t, unavailable)
	assert.Empty(t, errs)
	assert.Equal(t, map[string]any{"instr:dmm": "driver"}, d.RuntimeDeps())

	d.ReleaseRuntimes(context.Background())
	require.Len(t, resolver.released, 1)
	assert.Nil(t, d.RuntimeDeps())
}

func TestCollectRuntimesUnavailable(t *testing.T) {
	resolver := &fakeResolver{
		deps:        map[string]any{"instr:dmm": "driver"},
		unavailable: []string{"instr:lockin"},
	}
	d := NewDependencies(resolver, nil, []string{"instr:dmm", "instr:lockin"})

	ok, unavailable, errs := d.CollectRuntimes(context.Background())
	assert.False(t, ok)
	assert.Equal(t, []string{"instr:lockin"}, unavailable)
	assert.Empty(t, errs)
	// the partially collected dependencies were handed back
	require.Len(t, resolver.released, 1)
}

func TestChecksHook(t *testing.T) {
	m := New("demo")
	m.Root.DefaultPath = t.TempDir()
	hook := NewChecksHook()
	assert.NoError(t, hook.Run(context.Background(), m))

	m.Root.DefaultPath = "/not/a/real/place"
	assert.Error(t, hook.Run(context.Background(), m))

	m.ForcedEnqueued = true
	assert.NoError(t, hook.Run(context.Background(), m))
}

func TestBaseHookSignals(t *testing.T) {
	h := NewBaseHook()
	h.Pause()
	assert.True(t, h.Paused().IsSet())
	h.Resume()
	assert.False(t, h.Paused().IsSet())
	assert.True(t, h.Resumed().IsSet())
	h.Stop(false)
	assert.True(t, h.Stopped())
}

func TestNewExecutionInfos(t *testing.T) {
	m := New("demo")
	m.Monitored = []string{"root/x"}
	m.Dependencies = NewDependencies(nil, nil, nil)
	_, _, _ = m.Dependencies.CollectRuntimes(context.Background())

	infos := NewExecutionInfos(m, true)
	assert.Equal(t, m.ID, infos.ID)
	assert.True(t, infos.Checks)
	assert.Equal(t, []string{"root/x"}, infos.ObservedEntries)
	assert.NotNil(t, infos.RuntimeDeps)
}
