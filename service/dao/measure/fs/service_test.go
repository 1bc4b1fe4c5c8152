package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/service/dao"
)

func TestSaveLoadDelete(t *testing.T) {
	svc, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	m := measurement.New("scan")
	cfg := m.Save()
	require.NoError(t, svc.Save(ctx, cfg))

	loaded, err := svc.Load(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, loaded.ID)
	assert.Equal(t, "scan", loaded.Name)
	assert.Equal(t, measurement.StatusEditing, loaded.Status)

	require.NoError(t, svc.Delete(ctx, cfg.ID))
	_, err = svc.Load(ctx, cfg.ID)
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	svc, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ready := measurement.New("ready")
	ready.SetStatus(measurement.StatusReady, "")
	require.NoError(t, svc.Save(ctx, ready.Save()))

	failed := measurement.New("failed")
	failed.SetStatus(measurement.StatusFailed, "boom")
	require.NoError(t, svc.Save(ctx, failed.Save()))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyReady, err := svc.List(ctx, dao.NewParameter("Status", string(measurement.StatusReady)))
	require.NoError(t, err)
	require.Len(t, onlyReady, 1)
	assert.Equal(t, "ready", onlyReady[0].Name)
}

func TestInvalidInput(t *testing.T) {
	svc, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Save(ctx, nil), dao.ErrNilEntity)
	assert.ErrorIs(t, svc.Save(ctx, &measurement.Config{}), dao.ErrInvalidID)
	_, err = svc.Load(ctx, "")
	assert.ErrorIs(t, err, dao.ErrInvalidID)
}
