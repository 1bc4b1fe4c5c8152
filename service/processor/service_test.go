package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/service/dao"
	measurestore "github.com/veltis/measure/service/dao/measure/memory"
	"github.com/veltis/measure/service/engine"
	"github.com/veltis/measure/service/ipc"
)

// fakeEngine satisfies engine.Engine without spawning anything.
type fakeEngine struct {
	mu        sync.Mutex
	status    engine.Status
	observers []func(engine.Status)

	performFn func(infos *measurement.ExecutionInfos) (string, error)
	performs  int
	pauses    int
	resumes   int
	stops     []bool
	shutdowns []bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{status: engine.StatusStopped}
}

func (f *fakeEngine) setStatus(status engine.Status) {
	f.mu.Lock()
	f.status = status
	observers := append(([]func(engine.Status))(nil), f.observers...)
	f.mu.Unlock()
	for _, fn := range observers {
		fn(status)
	}
}

func (f *fakeEngine) Perform(ctx context.Context, infos *measurement.ExecutionInfos) (string, error) {
	f.mu.Lock()
	f.performs++
	fn := f.performFn
	f.mu.Unlock()
	f.setStatus(engine.StatusRunning)
	defer f.setStatus(engine.StatusWaiting)
	if fn != nil {
		return fn(infos)
	}
	infos.Success = true
	return engine.OutcomeCompleted, nil
}

func (f *fakeEngine) Pause() error {
	f.mu.Lock()
	f.pauses++
	f.mu.Unlock()
	f.setStatus(engine.StatusPaused)
	return nil
}

func (f *fakeEngine) Resume() error {
	f.mu.Lock()
	f.resumes++
	f.mu.Unlock()
	f.setStatus(engine.StatusRunning)
	return nil
}

func (f *fakeEngine) Stop(force bool) error {
	f.mu.Lock()
	f.stops = append(f.stops, force)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Shutdown(force bool) {
	f.mu.Lock()
	f.shutdowns = append(f.shutdowns, force)
	f.mu.Unlock()
	f.setStatus(engine.StatusStopped)
}

func (f *fakeEngine) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) OnStatus(fn func(engine.Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

func (f *fakeEngine) OnMonitor(func(ipc.MonitorUpdate)) {}

// recordingHook remembers lifecycle calls and optionally blocks in Run.
type recordingHook struct {
	measurement.BaseHook
	mu      sync.Mutex
	ran     bool
	started chan struct{}
	gate    chan struct{}
	err     error
}

func newRecordingHook() *recordingHook {
	return &recordingHook{BaseHook: measurement.NewBaseHook()}
}

func (h *recordingHook) Run(ctx context.Context, m *measurement.Measure) error {
	h.mu.Lock()
	h.ran = true
	h.mu.Unlock()
	if h.started != nil {
		close(h.started)
	}
	if h.gate != nil {
		<-h.gate
	}
	return h.err
}

func (h *recordingHook) wasRun() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ran
}

// stoppableHook blocks until it receives a stop request.
type stoppableHook struct {
	measurement.BaseHook
	started chan struct{}
	stopped chan struct{}
}

func newStoppableHook() *stoppableHook {
	return &stoppableHook{
		BaseHook: measurement.NewBaseHook(),
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (h *stoppableHook) Run(ctx context.Context, m *measurement.Measure) error {
	close(h.started)
	select {
	case <-h.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("never stopped")
	}
}

func (h *stoppableHook) Stop(force bool) {
	h.BaseHook.Stop(force)
	close(h.stopped)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.EngineStopDelay = 5 * time.Millisecond
	return cfg
}

func measureStatus(m *measurement.Measure) measurement.Status {
	status, _ := m.Status()
	return status
}

func TestStartMeasureCompletes(t *testing.T) {
	eng := newFakeEngine()
	store := measurestore.New()
	s, err := New(WithEngine(eng), WithMeasureDAO(store), WithConfig(fastConfig()))
	require.NoError(t, err)

	m := measurement.New("scan")
	require.NoError(t, s.StartMeasure(context.Background(), m, false))
	require.True(t, s.Join(5*time.Second))

	assert.Equal(t, measurement.StatusCompleted, measureStatus(m))
	assert.Equal(t, 1, eng.performs)
	assert.False(t, s.Processing())

	saved, err := store.Load(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, measurement.StatusCompleted, saved.Status)
	// the engine was released once the queue drained
	assert.NotEmpty(t, eng.shutdowns)
}

func TestPreHookFailureSkipsMain(t *testing.T) {
	eng := newFakeEngine()
	s, err := New(WithEngine(eng), WithConfig(fastConfig()))
	require.NoError(t, err)

	failing := newRecordingHook()
	failing.err = errors.New("calibration expired")
	post := newRecordingHook()

	m := measurement.New("scan")
	m.AddPreHook("calibration", failing)
	m.AddPostHook("cleanup", post)

	require.NoError(t, s.StartMeasure(context.Background(), m, false))
	require.True(t, s.Join(5*time.Second))

	assert.Equal(t, measurement.StatusFailed, measureStatus(m))
	assert.Zero(t, eng.performs)
	// post hooks still run so partial state gets cleaned up
	assert.True(t, post.wasRun())
}

func TestStopDuringPreHookRoutesToHook(t *testing.T) {
	eng := newFakeEngine()
	s, err := New(WithEngine(eng), WithConfig(fastConfig()))
	require.NoError(t, err)

	hook := newStoppableHook()
	m := measurement.New("scan")
	m.AddPreHook("slow", hook)

	require.NoError(t, s.StartMeasure(context.Background(), m, false))
	<-hook.started
	s.StopMeasure(false)
	require.True(t, s.Join(5*time.Second))

	assert.True(t, hook.Stopped())
	assert.Empty(t, eng.stops, "the stop belongs to the hook, not the engine")
	assert.Zero(t, eng.performs)
	assert.Equal(t, measurement.StatusInterrupted, measureStatus(m))
}

func TestPauseBetweenHooks(t *testing.T) {
	eng := newFakeEngine()
	s, err := New(WithEngine(eng), WithConfig(fastConfig()))
	require.NoError(t, err)

	first := newRecordingHook()
	first.started = make(chan struct{})
	first.gate = make(chan struct{})
	second := newRecordingHook()

	m := measurement.New("scan")
	m.AddPreHook("first", first)
	m.AddPreHook("second", second)

	require.NoError(t, s.StartMeasure(context.Background(), m, false))
	<-first.started
	s.PauseMeasure()
	close(first.gate)

	require.Eventually(t, func() bool {
		return measureStatus(m) == measurement.StatusPaused
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, second.wasRun())

	s.ResumeMeasure()
	require.True(t, s.Join(5*time.Second))
	assert.True(t, second.wasRun())
	assert.Equal(t, measurement.StatusCompleted, measureStatus(m))
}

func TestUnavailableRuntimeDepsSkipMeasure(t *testing.T) {
	eng := newFakeEngine()
	s, err := New(WithEngine(eng), WithConfig(fastConfig()))
	require.NoError(t, err)

	m := measurement.New("scan")
	m.Dependencies = measurement.NewDependencies(
		&busyResolver{}, nil, []string{"instr:dmm"})

	require.NoError(t, s.StartMeasure(context.Background(), m, false))
	require.True(t, s.Join(5*time.Second))

	assert.Equal(t, measurement.StatusSkipped, measureStatus(m))
	assert.Zero(t, eng.performs)
}

type busyResolver struct{}

func (r *busyResolver) Collect(ctx context.Context, ids []string) (map[string]any, []string, map[string]string) {
	return nil, append([]string(nil), ids...), nil
}

func (r *busyResolver) Release(ctx context.Context, deps map[string]any) {}

func TestContinuousProcessingDrainsQueue(t *testing.T) {
	eng := newFakeEngine()
	s, err := New(WithEngine(eng), WithConfig(fastConfig()))
	require.NoError(t, err)

	first := measurement.New("first")
	second := measurement.New("second")
	s.Enqueue(second)

	require.NoError(t, s.StartMeasure(context.Background(), first, true))
	require.True(t, s.Join(5*time.Second))

	assert.Equal(t, measurement.StatusCompleted, measureStatus(first))
	assert.Equal(t, measurement.StatusCompleted, measureStatus(second))
	assert.Equal(t, 2, eng.performs)
}

func TestInterruptedOutcomeMarksMeasure(t *testing.T) {
	eng := newFakeEngine()
	eng.performFn = func(infos *measurement.ExecutionInfos) (string, error) {
		infos.Success = false
		return engine.OutcomeInterrupted, nil
	}
	s, err := New(WithEngine(eng), WithConfig(fastConfig()))
	require.NoError(t, err)

	m := measurement.New("scan")
	require.NoError(t, s.StartMeasure(context.Background(), m, false))
	require.True(t, s.Join(5*time.Second))
	assert.Equal(t, measurement.StatusInterrupted, measureStatus(m))
}

var _ dao.Service[string, measurement.Config] = measurestore.New()
