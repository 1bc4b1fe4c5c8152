package database

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) *Database {
	t.Helper()
	d := New()
	_, err := d.SetValue("root", "default_path", "/tmp")
	require.NoError(t, err)
	require.NoError(t, d.CreateNode("root", "loop"))
	_, err = d.SetValue("root/loop", "index", 0)
	require.NoError(t, err)
	require.NoError(t, d.CreateNode("root/loop", "meas"))
	_, err = d.SetValue("root/loop/meas", "value", 1.5)
	require.NoError(t, err)
	return d
}

func TestSetValueReportsNewEntries(t *testing.T) {
	d := New()
	isNew, err := d.SetValue("root", "x", 1)
	assert.NoError(t, err)
	assert.True(t, isNew)
	isNew, err = d.SetValue("root", "x", 2)
	assert.NoError(t, err)
	assert.False(t, isNew)

	_, err = d.SetValue("root/missing", "x", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetValueWalksTowardsRoot(t *testing.T) {
	d := buildSample(t)

	v, err := d.GetValue("root/loop/meas", "default_path")
	assert.NoError(t, err)
	assert.Equal(t, "/tmp", v)

	v, err = d.GetValue("root/loop/meas", "index")
	assert.NoError(t, err)
	assert.Equal(t, 0, v)

	// entries of a child node are not visible from the parent
	_, err = d.GetValue("root/loop", "value")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccessExceptions(t *testing.T) {
	d := buildSample(t)

	require.NoError(t, d.AddAccessException("root", "root/loop/meas", "value"))
	v, err := d.GetValue("root", "value")
	assert.NoError(t, err)
	assert.Equal(t, 1.5, v)

	assert.Error(t, d.AddAccessException("root/loop", "root", "default_path"))

	require.NoError(t, d.RemoveAccessException("root", "value"))
	_, err = d.GetValue("root", "value")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameNodeRewritesAccessExceptions(t *testing.T) {
	d := buildSample(t)
	require.NoError(t, d.AddAccessException("root", "root/loop/meas", "value"))

	require.NoError(t, d.RenameNode("root/loop", "meas", "probe"))
	v, err := d.GetValue("root", "value")
	assert.NoError(t, err)
	assert.Equal(t, 1.5, v)

	require.NoError(t, d.DeleteNode("root/loop", "probe"))
	_, err = d.GetValue("root", "value")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameValues(t *testing.T) {
	d := buildSample(t)
	require.NoError(t, d.AddAccessException("root", "root/loop/meas", "value"))

	require.NoError(t, d.RenameValues("root/loop/meas", []string{"value"}, []string{"amplitude"}))
	v, err := d.GetValue("root/loop/meas", "amplitude")
	assert.NoError(t, err)
	assert.Equal(t, 1.5, v)
	// the access exception follows the rename
	v, err = d.GetValue("root", "amplitude")
	assert.NoError(t, err)
	assert.Equal(t, 1.5, v)
}

func TestListAccessibleEntries(t *testing.T) {
	d := buildSample(t)
	require.NoError(t, d.AddAccessException("root/loop", "root/loop/meas", "value"))

	names, err := d.ListAccessibleEntries("root/loop")
	require.NoError(t, err)
	assert.Equal(t, []string{"default_path", "index", "value"}, names)

	names, err = d.ListAccessibleEntries("root")
	require.NoError(t, err)
	assert.Equal(t, []string{"default_path"}, names)
}

func TestListAllEntries(t *testing.T) {
	d := buildSample(t)
	paths, err := d.ListAllEntries("root")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"root/default_path",
		"root/loop/index",
		"root/loop/meas/value",
	}, paths)
}

func TestRunningMode(t *testing.T) {
	d := buildSample(t)
	require.NoError(t, d.AddAccessException("root", "root/loop/meas", "value"))
	d.PrepareToRun()
	assert.True(t, d.Running())

	// layout is frozen
	assert.ErrorIs(t, d.CreateNode("root", "extra"), ErrRunning)
	assert.ErrorIs(t, d.RenameNode("root", "loop", "cycle"), ErrRunning)
	assert.ErrorIs(t, d.DeleteValue("root", "default_path"), ErrRunning)
	assert.ErrorIs(t, d.AddAccessException("root", "root/loop", "index"), ErrRunning)

	// indexed access honours access exceptions
	indexes, err := d.GetEntriesIndexes("root", []string{"default_path", "value"})
	require.NoError(t, err)
	values := d.GetValuesByIndex([]int{indexes["value"], indexes["default_path"]})
	assert.Equal(t, []any{1.5, "/tmp"}, values)

	// writes hit the flat slice and reads see them
	_, err = d.SetValue("root/loop", "index", 4)
	require.NoError(t, err)
	v, err := d.GetValue("root/loop/meas", "index")
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	// unknown entries cannot appear while running
	_, err = d.SetValue("root", "new_entry", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	d.StopRunning()
	assert.False(t, d.Running())
	v, err = d.GetValue("root/loop", "index")
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestObserversSeeRunningWrites(t *testing.T) {
	d := buildSample(t)
	var mu sync.Mutex
	var changes []Change
	d.Observe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	d.PrepareToRun()
	_, err := d.SetValue("root/loop/meas", "value", 2.5)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.Equal(t, ValueChanged, changes[0].Kind)
	assert.Equal(t, "root/loop/meas", changes[0].Path)
	assert.Equal(t, "value", changes[0].Name)
	assert.Equal(t, 2.5, changes[0].Value)
}

func TestCopyNodeValues(t *testing.T) {
	d := buildSample(t)
	values, err := d.CopyNodeValues("root")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"default_path": "/tmp"}, values)
}
