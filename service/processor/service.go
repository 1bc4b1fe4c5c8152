package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/runtime/shared"
	"github.com/veltis/measure/service/dao"
	"github.com/veltis/measure/service/engine"
	"github.com/veltis/measure/tracing"
)

// State flag names. One BitFlag instance tracks them for the lifetime of a
// processing run.
const (
	FlagProcessing     = "processing"
	FlagPreHooks       = "running_pre_hooks"
	FlagMain           = "running_main"
	FlagPostHooks      = "running_post_hooks"
	FlagPauseAttempt   = "pause_attempt"
	FlagPaused         = "paused"
	FlagResuming       = "resuming"
	FlagStopAttempt    = "stop_attempt"
	FlagStopProcessing = "stop_processing"
	FlagNoPostExec     = "no_post_exec"
	FlagContinuous     = "continuous_processing"
)

func flagNames() []string {
	return []string{
		FlagProcessing, FlagPreHooks, FlagMain, FlagPostHooks,
		FlagPauseAttempt, FlagPaused, FlagResuming, FlagStopAttempt,
		FlagStopProcessing, FlagNoPostExec, FlagContinuous,
	}
}

// Config tunes the processor timings.
type Config struct {
	// JoinTimeout bounds how long a new run waits for the previous worker
	// goroutine to wind down.
	JoinTimeout time.Duration

	// PollInterval is the pause/stop poll period of the worker.
	PollInterval time.Duration

	// EngineStopAttempts and EngineStopDelay bound how long a graceful
	// engine shutdown may take before it is escalated to a forced one.
	EngineStopAttempts int
	EngineStopDelay    time.Duration
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		JoinTimeout:        5 * time.Second,
		PollInterval:       100 * time.Millisecond,
		EngineStopAttempts: 10,
		EngineStopDelay:    500 * time.Millisecond,
	}
}

// Service sequences measure runs: runtime dependency collection, pre-hooks,
// the main task tree through the engine, post-hooks. A single worker
// goroutine processes one measure at a time; pause/resume/stop requests are
// routed to the engine while the main task runs and to the active hook
// otherwise.
type Service struct {
	config     Config
	engine     engine.Engine
	measureDAO dao.Service[string, measurement.Config]
	logger     *zap.Logger

	flags *shared.BitFlag

	mu         sync.Mutex
	activeHook measurement.Hook
	current    *measurement.Measure
	pending    []*measurement.Measure
	workerDone chan struct{}
}

// New creates a processor service.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		logger: zap.NewNop(),
		flags:  shared.NewBitFlag(flagNames()...),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	s.engine.OnStatus(s.onEngineStatus)
	return s, nil
}

// onEngineStatus mirrors asynchronous engine acknowledgments into the
// measure status and the processor flags.
func (s *Service) onEngineStatus(status engine.Status) {
	if !s.flags.Test(FlagMain) {
		return
	}
	m := s.currentMeasure()
	if m == nil {
		return
	}
	switch status {
	case engine.StatusPaused:
		s.flags.Clear(FlagPauseAttempt)
		s.flags.Set(FlagPaused)
		m.SetStatus(measurement.StatusPaused, "Execution is paused")
	case engine.StatusRunning:
		if s.flags.Test(FlagPaused) || s.flags.Test(FlagResuming) {
			s.flags.Clear(FlagPaused, FlagResuming)
			m.SetStatus(measurement.StatusRunning, "Execution resumed")
		}
	}
}

func (s *Service) currentMeasure() *measurement.Measure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Service) setCurrent(m *measurement.Measure) {
	s.mu.Lock()
	s.current = m
	s.mu.Unlock()
}

func (s *Service) setActiveHook(h measurement.Hook) {
	s.mu.Lock()
	s.activeHook = h
	s.mu.Unlock()
}

func (s *Service) currentHook() measurement.Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeHook
}

// Enqueue adds a measure to the processing queue. When a worker is active and
// continuous processing is on, the measure runs once the queue reaches it.
func (s *Service) Enqueue(m *measurement.Measure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.SetStatus(measurement.StatusReady, "Waiting in queue")
	s.pending = append(s.pending, m)
}

func (s *Service) dequeue() *measurement.Measure {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) > 0 {
		m := s.pending[0]
		s.pending = s.pending[1:]
		status, _ := m.Status()
		if status == measurement.StatusReady {
			return m
		}
	}
	return nil
}

// Processing reports whether a worker goroutine is currently active.
func (s *Service) Processing() bool {
	return s.flags.Test(FlagProcessing)
}

// Flags exposes the state flags, mainly for tests and monitoring UIs.
func (s *Service) Flags() *shared.BitFlag {
	return s.flags
}

// StartMeasure starts processing with the given measure. A still-active
// worker from a previous run is asked to stop and joined first; continuous
// decides whether the worker drains the queue afterwards.
func (s *Service) StartMeasure(ctx context.Context, m *measurement.Measure, continuous bool) error {
	s.mu.Lock()
	done := s.workerDone
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		default:
			s.flags.Set(FlagStopProcessing, FlagStopAttempt)
			s.routeStop(false)
			select {
			case <-done:
			case <-time.After(s.config.JoinTimeout):
				return fmt.Errorf("previous processing worker refused to stop")
			}
		}
	}

	s.flags.Clear()
	s.flags.Set(FlagProcessing)
	if continuous {
		s.flags.Set(FlagContinuous)
	}
	done = make(chan struct{})
	s.mu.Lock()
	s.workerDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.runMeasures(ctx, m)
	}()
	return nil
}

// runMeasures is the worker loop: run the supplied measure, then drain the
// queue while continuous processing is on and no stop was requested.
func (s *Service) runMeasures(ctx context.Context, first *measurement.Measure) {
	defer func() {
		s.stopEngine(false)
		s.setCurrent(nil)
		s.flags.Clear()
	}()

	m := first
	for m != nil {
		s.flags.Clear(FlagPauseAttempt, FlagPaused, FlagResuming, FlagStopAttempt, FlagNoPostExec)
		s.runMeasure(ctx, m)
		if s.flags.Test(FlagStopProcessing) || !s.flags.Test(FlagContinuous) {
			return
		}
		m = s.dequeue()
	}
}

// runMeasure drives one measure end to end.
func (s *Service) runMeasure(ctx context.Context, m *measurement.Measure) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("processor.runMeasure %s", m.Name), "INTERNAL")
	var runErr error
	defer func() { tracing.EndSpan(span, runErr) }()
	span.WithAttributes(map[string]string{"measure.id": m.ID, "measure.name": m.Name})

	s.setCurrent(m)
	m.SetStatus(measurement.StatusRunning, "Starting measure")
	s.logger.Info("measure started", zap.String("measure", m.Name), zap.String("id", m.ID))

	// runtime dependencies are held for the whole run
	if m.Dependencies != nil {
		ok, unavailable, errs := m.Dependencies.CollectRuntimes(ctx)
		if !ok {
			if len(unavailable) > 0 {
				m.SetStatus(measurement.StatusSkipped,
					fmt.Sprintf("runtime dependencies unavailable: %v", unavailable))
				s.logger.Warn("measure skipped",
					zap.String("measure", m.Name), zap.Strings("unavailable", unavailable))
				return
			}
			runErr = fmt.Errorf("runtime dependency collection failed: %v", errs)
			m.SetStatus(measurement.StatusFailed, runErr.Error())
			return
		}
		defer m.Dependencies.ReleaseRuntimes(ctx)
	}

	if s.measureDAO != nil {
		if err := s.measureDAO.Save(ctx, m.Save()); err != nil {
			s.logger.Warn("failed to save measure snapshot",
				zap.String("measure", m.Name), zap.Error(err))
		}
	}

	if !s.runHooks(ctx, m, m.PreHooks, FlagPreHooks) {
		s.finishStopped(m)
		return
	}
	status, infos := m.Status()
	if status == measurement.StatusFailed {
		runErr = fmt.Errorf("pre-execution failed: %s", infos)
		// post-hooks still run so partial state can be cleaned up
		s.runHooks(ctx, m, m.PostHooks, FlagPostHooks)
		return
	}

	if !s.checkForPauseOrStop(m) {
		s.finishStopped(m)
		return
	}

	s.flags.Set(FlagMain)
	execInfos := measurement.NewExecutionInfos(m, !m.ForcedEnqueued)
	outcome, err := s.engine.Perform(ctx, execInfos)
	s.flags.Clear(FlagMain)

	switch {
	case err != nil:
		runErr = err
		m.SetStatus(measurement.StatusFailed, err.Error())
	case outcome == engine.OutcomeInterrupted:
		m.SetStatus(measurement.StatusInterrupted, "Execution was interrupted")
	case outcome == engine.OutcomeFailed:
		m.SetStatus(measurement.StatusFailed, fmt.Sprintf("execution failed: %v", execInfos.Errors))
	default:
		m.SetStatus(measurement.StatusCompleted, "Execution completed")
	}

	if !s.flags.Test(FlagNoPostExec) {
		if !s.runHooks(ctx, m, m.PostHooks, FlagPostHooks) {
			s.finishStopped(m)
			return
		}
	}

	if s.measureDAO != nil {
		if saveErr := s.measureDAO.Save(ctx, m.Save()); saveErr != nil {
			s.logger.Warn("failed to save measure result",
				zap.String("measure", m.Name), zap.Error(saveErr))
		}
	}
	finalStatus, _ := m.Status()
	s.logger.Info("measure finished",
		zap.String("measure", m.Name), zap.String("status", string(finalStatus)))
}

func (s *Service) finishStopped(m *measurement.Measure) {
	if status, _ := m.Status(); !status.Terminal() {
		m.SetStatus(measurement.StatusInterrupted, "Processing was stopped")
	}
}

// runHooks executes one hook phase. Hook failures are collected per hook id
// and fail the measure without aborting the remaining hooks of the phase; a
// stop request aborts the phase and returns false.
func (s *Service) runHooks(ctx context.Context, m *measurement.Measure, hooks []measurement.HookEntry, phaseFlag string) bool {
	if len(hooks) == 0 {
		return true
	}
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("processor.%s %s", phaseFlag, m.Name), "INTERNAL")
	var phaseErr error
	defer func() { tracing.EndSpan(span, phaseErr) }()

	s.flags.Set(phaseFlag)
	defer s.flags.Clear(phaseFlag)

	report := map[string]string{}
	for _, entry := range hooks {
		if !s.checkForPauseOrStop(m) {
			s.setActiveHook(nil)
			return false
		}
		s.setActiveHook(entry.Hook)
		if err := entry.Hook.Run(ctx, m); err != nil {
			report[entry.ID] = err.Error()
			s.logger.Warn("hook failed",
				zap.String("measure", m.Name), zap.String("hook", entry.ID), zap.Error(err))
		}
		s.setActiveHook(nil)
	}
	if len(report) > 0 {
		phaseErr = fmt.Errorf("%d hook(s) failed", len(report))
		m.SetStatus(measurement.StatusFailed, fmt.Sprintf("hooks failed: %v", report))
	}
	return true
}

// checkForPauseOrStop is called at phase boundaries. It returns false when a
// stop was requested and parks the worker while a pause is in effect, still
// honoring a concurrent stop request.
func (s *Service) checkForPauseOrStop(m *measurement.Measure) bool {
	if s.flags.Test(FlagStopAttempt) || s.flags.Test(FlagStopProcessing) {
		return false
	}
	if !s.flags.Test(FlagPauseAttempt) {
		return true
	}
	s.flags.Clear(FlagPauseAttempt)
	s.flags.Set(FlagPaused)
	m.SetStatus(measurement.StatusPaused, "Processing is paused")
	for {
		if s.flags.Test(FlagStopAttempt) || s.flags.Test(FlagStopProcessing) {
			return false
		}
		if s.flags.Test(FlagResuming) {
			s.flags.Clear(FlagResuming, FlagPaused)
			m.SetStatus(measurement.StatusRunning, "Processing resumed")
			return true
		}
		time.Sleep(s.config.PollInterval)
	}
}

// PauseMeasure requests a pause of the current run stage.
func (s *Service) PauseMeasure() {
	m := s.currentMeasure()
	if m == nil {
		return
	}
	m.SetStatus(measurement.StatusPausing, "Pause requested")
	if s.flags.Test(FlagMain) {
		if err := s.engine.Pause(); err != nil {
			s.logger.Warn("engine pause failed", zap.Error(err))
		}
		return
	}
	s.flags.Set(FlagPauseAttempt)
	if hook := s.currentHook(); hook != nil {
		hook.Pause()
	}
}

// ResumeMeasure releases a paused run stage.
func (s *Service) ResumeMeasure() {
	m := s.currentMeasure()
	if m == nil {
		return
	}
	m.SetStatus(measurement.StatusResuming, "Resume requested")
	if s.flags.Test(FlagMain) {
		if err := s.engine.Resume(); err != nil {
			s.logger.Warn("engine resume failed", zap.Error(err))
		}
		return
	}
	s.flags.Set(FlagResuming)
	if hook := s.currentHook(); hook != nil {
		hook.Resume()
	}
}

// StopMeasure interrupts the current measure, letting queued ones proceed.
// With force the post-execution hooks are skipped too.
func (s *Service) StopMeasure(force bool) {
	m := s.currentMeasure()
	if m == nil {
		return
	}
	m.SetStatus(measurement.StatusStopping, "Stop requested")
	s.flags.Set(FlagStopAttempt)
	if force {
		s.flags.Set(FlagNoPostExec)
	}
	s.routeStop(force)
}

// StopProcessing interrupts the current measure and ends the worker loop.
func (s *Service) StopProcessing(force bool) {
	s.flags.Set(FlagStopProcessing, FlagStopAttempt)
	if force {
		s.flags.Set(FlagNoPostExec)
	}
	if m := s.currentMeasure(); m != nil {
		m.SetStatus(measurement.StatusStopping, "Stop requested")
	}
	s.routeStop(force)
}

// routeStop delivers a stop request to whatever is currently executing.
func (s *Service) routeStop(force bool) {
	if s.flags.Test(FlagMain) {
		if err := s.engine.Stop(force); err != nil {
			s.logger.Warn("engine stop failed", zap.Error(err))
		}
		return
	}
	if hook := s.currentHook(); hook != nil {
		hook.Stop(force)
	}
}

// stopEngine shuts the engine down, escalating to a forced shutdown when the
// graceful one does not complete in time.
func (s *Service) stopEngine(force bool) {
	if force {
		s.engine.Shutdown(true)
		return
	}
	s.engine.Shutdown(false)
	for i := 0; i < s.config.EngineStopAttempts; i++ {
		if s.engine.Status() == engine.StatusStopped {
			return
		}
		time.Sleep(s.config.EngineStopDelay)
	}
	s.logger.Warn("engine did not shut down in time, forcing")
	s.engine.Shutdown(true)
}

// Join waits for the worker goroutine to finish, mainly for tests and
// orderly teardown.
func (s *Service) Join(timeout time.Duration) bool {
	s.mu.Lock()
	done := s.workerDone
	s.mu.Unlock()
	if done == nil {
		return true
	}
	if timeout < 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
