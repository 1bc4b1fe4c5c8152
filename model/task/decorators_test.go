package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordTask appends its name to a shared log when performed, optionally
// after a delay.
type recordTask struct {
	SimpleTask
	delay time.Duration
	mu    *sync.Mutex
	log   *[]string
	fail  error
}

func newRecordTask(name string, mu *sync.Mutex, log *[]string, delay time.Duration) *recordTask {
	t := &recordTask{delay: delay, mu: mu, log: log}
	Init(t, name, "test.RecordTask")
	return t
}

func (t *recordTask) Perform(ctx context.Context) error {
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	t.mu.Lock()
	*t.log = append(*t.log, t.name)
	t.mu.Unlock()
	return t.fail
}

func TestParallelAndWaitOrdering(t *testing.T) {
	var mu sync.Mutex
	var log []string

	root := NewRootTask()
	root.DefaultPath = t.TempDir()

	slow := newRecordTask("slow", &mu, &log, 30*time.Millisecond)
	slow.Parallel = ParallelSettings{Activated: true, Pool: "acq"}
	require.NoError(t, root.AppendChild(slow))

	barrier := newRecordTask("barrier", &mu, &log, 0)
	barrier.Wait = WaitSettings{Activated: true, Wait: []string{"acq"}}
	require.NoError(t, root.AppendChild(barrier))

	root.Database().PrepareToRun()
	root.Prepare()
	require.NoError(t, root.Perform(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"slow", "barrier"}, log)
}

func TestWaitHonoursNoWait(t *testing.T) {
	var mu sync.Mutex
	var log []string

	root := NewRootTask()
	root.DefaultPath = t.TempDir()

	slow := newRecordTask("slow", &mu, &log, 50*time.Millisecond)
	slow.Parallel = ParallelSettings{Activated: true, Pool: "slowpool"}
	require.NoError(t, root.AppendChild(slow))

	fast := newRecordTask("fast", &mu, &log, 0)
	fast.Wait = WaitSettings{Activated: true, NoWait: []string{"slowpool"}}
	require.NoError(t, root.AppendChild(fast))

	root.Database().PrepareToRun()
	root.Prepare()
	require.NoError(t, root.Perform(context.Background()))

	mu.Lock()
	// fast must not have waited for the slow pool
	assert.Equal(t, "fast", log[0])
	mu.Unlock()
}

func TestParallelFailureStopsTree(t *testing.T) {
	var mu sync.Mutex
	var log []string

	root := NewRootTask()
	root.DefaultPath = t.TempDir()

	failing := newRecordTask("failing", &mu, &log, 0)
	failing.fail = assert.AnError
	failing.Parallel = ParallelSettings{Activated: true, Pool: "acq"}
	require.NoError(t, root.AppendChild(failing))

	barrier := newRecordTask("barrier", &mu, &log, 10*time.Millisecond)
	barrier.Wait = WaitSettings{Activated: true}
	require.NoError(t, root.AppendChild(barrier))

	root.Database().PrepareToRun()
	root.Prepare()
	err := root.Perform(context.Background())
	assert.Error(t, err)
	assert.True(t, root.ShouldStop.IsSet())
	assert.Contains(t, root.Errors(), "root/failing")
}

func TestStopSkipsRemainingTasks(t *testing.T) {
	var mu sync.Mutex
	var log []string

	root := NewRootTask()
	root.DefaultPath = t.TempDir()
	require.NoError(t, root.AppendChild(newRecordTask("first", &mu, &log, 0)))
	require.NoError(t, root.AppendChild(newRecordTask("second", &mu, &log, 0)))

	root.RequestStop()
	root.Database().PrepareToRun()
	root.Prepare()
	require.NoError(t, root.Perform(context.Background()))

	mu.Lock()
	assert.Empty(t, log)
	mu.Unlock()
}

func TestPauseAndResume(t *testing.T) {
	var mu sync.Mutex
	var log []string

	root := NewRootTask()
	root.DefaultPath = t.TempDir()
	require.NoError(t, root.AppendChild(newRecordTask("first", &mu, &log, 0)))
	require.NoError(t, root.AppendChild(newRecordTask("second", &mu, &log, 0)))

	root.Database().PrepareToRun()
	root.Prepare()

	root.RequestPause()
	done := make(chan error, 1)
	go func() { done <- root.Perform(context.Background()) }()

	require.True(t, root.Paused.Wait(2*time.Second), "tree did not pause")
	mu.Lock()
	assert.Empty(t, log)
	mu.Unlock()

	root.RequestResume()
	require.True(t, root.Resumed.Wait(2*time.Second), "tree did not resume")
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, log)
	mu.Unlock()
}

func TestPauseAfterParallelTaskFinished(t *testing.T) {
	var mu sync.Mutex
	var log []string

	root := NewRootTask()
	root.DefaultPath = t.TempDir()

	quick := newRecordTask("quick", &mu, &log, 0)
	quick.Parallel = ParallelSettings{Activated: true, Pool: "acq"}
	require.NoError(t, root.AppendChild(quick))

	slow := newRecordTask("slow", &mu, &log, 300*time.Millisecond)
	require.NoError(t, root.AppendChild(slow))

	tail := newRecordTask("tail", &mu, &log, 0)
	require.NoError(t, root.AppendChild(tail))

	root.Database().PrepareToRun()
	root.Prepare()

	done := make(chan error, 1)
	go func() { done <- root.Perform(context.Background()) }()

	// the parallel task is long gone once the pause request lands
	time.Sleep(100 * time.Millisecond)
	root.RequestPause()
	require.True(t, root.Paused.Wait(2*time.Second),
		"tree did not pause after a finished parallel task")

	root.RequestResume()
	require.True(t, root.Resumed.Wait(2*time.Second), "tree did not resume")
	require.NoError(t, <-done)

	mu.Lock()
	assert.Contains(t, log, "quick")
	assert.Contains(t, log, "tail")
	mu.Unlock()
}

func TestStopWhilePaused(t *testing.T) {
	var mu sync.Mutex
	var log []string

	root := NewRootTask()
	root.DefaultPath = t.TempDir()
	require.NoError(t, root.AppendChild(newRecordTask("only", &mu, &log, 0)))

	root.Database().PrepareToRun()
	root.Prepare()

	root.RequestPause()
	done := make(chan error, 1)
	go func() { done <- root.Perform(context.Background()) }()
	require.True(t, root.Paused.Wait(2*time.Second))

	root.RequestStop()
	require.NoError(t, <-done)
	mu.Lock()
	assert.Empty(t, log)
	mu.Unlock()
}

func TestLoopAndConditional(t *testing.T) {
	root := NewRootTask()
	root.DefaultPath = t.TempDir()

	loop := NewLoopTask("Loop")
	loop.Stop = "3"
	require.NoError(t, root.AppendChild(loop))

	cond := NewConditionalTask("IfBig")
	cond.Condition = "{Loop_value} >= 2"
	require.NoError(t, loop.AppendChild(cond))

	formula := NewFormulaTask("Sum")
	formula.Formula = "{Sum_result} + {Loop_value}"
	require.NoError(t, cond.AppendChild(formula))

	root.Database().PrepareToRun()
	root.Prepare()
	require.NoError(t, root.Perform(context.Background()))

	v, err := formula.GetFromDatabase("Sum_result")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestRootPerformRecoversPanics(t *testing.T) {
	root := NewRootTask()
	root.DefaultPath = t.TempDir()
	panicking := &panicTask{}
	Init(panicking, "boom", "test.PanicTask")
	require.NoError(t, root.AppendChild(panicking))

	root.Database().PrepareToRun()
	root.Prepare()
	err := root.Perform(context.Background())
	assert.Error(t, err)
	assert.True(t, root.ShouldStop.IsSet())
	assert.Contains(t, root.Errors(), "root/crash")
}

type panicTask struct{ SimpleTask }

func (t *panicTask) Perform(ctx context.Context) error { panic("kaboom") }
