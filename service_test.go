package measure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/model/task"
)

func newScan(t *testing.T) *measurement.Measure {
	t.Helper()
	m := measurement.New("scan")
	m.Root.DefaultPath = t.TempDir()

	loop := task.NewLoopTask("Sweep")
	loop.Stop = "3"
	require.NoError(t, m.Root.AppendChild(loop))

	formula := task.NewFormulaTask("Square")
	formula.Formula = "{Sweep_value} * {Sweep_value}"
	require.NoError(t, loop.AppendChild(formula))
	return m
}

func TestServiceRunsMeasureEndToEnd(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)
	defer srv.Shutdown(true)

	m := newScan(t)
	require.NoError(t, srv.Run(context.Background(), m, false))
	require.True(t, srv.Join(10*time.Second))

	status, _ := m.Status()
	assert.Equal(t, measurement.StatusCompleted, status)

	saved, err := srv.MeasureDAO().Load(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, measurement.StatusCompleted, saved.Status)
}

func TestServiceLoadsStoredMeasure(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)
	defer srv.Shutdown(true)

	m := newScan(t)
	require.NoError(t, srv.MeasureDAO().Save(context.Background(), m.Save()))

	loaded, err := srv.LoadMeasure(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, loaded.ID)
	require.Len(t, loaded.Root.Children(), 1)
	assert.Equal(t, "Sweep", loaded.Root.Children()[0].Name())
}

func TestServiceWithFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	srv, err := New(WithMeasureDAO(store))
	require.NoError(t, err)
	defer srv.Shutdown(true)

	m := newScan(t)
	require.NoError(t, srv.Run(context.Background(), m, false))
	require.True(t, srv.Join(10*time.Second))

	saved, err := store.Load(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, measurement.StatusCompleted, saved.Status)
}

func TestServiceValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processor.PollInterval = -time.Second
	_, err := New(WithConfig(cfg))
	assert.Error(t, err)
}
