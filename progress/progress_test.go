package progress

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateAndSnapshot(t *testing.T) {
	ctx, tracker := WithNewTracker(context.Background(), "id-1", "scan", nil)

	UpdateCtx(ctx, Delta{Total: 3})
	UpdateCtx(ctx, Delta{Running: 1})
	UpdateCtx(ctx, Delta{Running: -1, Completed: 1})
	UpdateCtx(ctx, Delta{Running: 1})
	UpdateCtx(ctx, Delta{Running: -1, Failed: 1})

	snapshot := tracker.Snapshot()
	assert.Equal(t, "id-1", snapshot.MeasureID)
	assert.Equal(t, 3, snapshot.TotalTasks)
	assert.Equal(t, 1, snapshot.CompletedTasks)
	assert.Equal(t, 1, snapshot.FailedTasks)
	assert.Equal(t, 0, snapshot.RunningTasks)
}

func TestOnChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	_, tracker := WithNewTracker(context.Background(), "id", "scan", func(p Progress) {
		mu.Lock()
		seen = append(seen, p.CompletedTasks)
		mu.Unlock()
	})

	tracker.Update(Delta{Completed: 1})
	tracker.Update(Delta{Completed: 1})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, seen)
}

func TestMissingTrackerIsNoop(t *testing.T) {
	UpdateCtx(context.Background(), Delta{Completed: 1})
	_, ok := GetSnapshot(context.Background())
	assert.False(t, ok)

	var nilTracker *Progress
	nilTracker.Update(Delta{Completed: 1})
	assert.Equal(t, Progress{}, nilTracker.Snapshot())
}
