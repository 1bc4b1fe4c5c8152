// Package engine executes task trees in a supervised worker. The default
// deployment spawns a dedicated worker process and talks to it over a
// JSON-line channel; log records and monitor updates stream back through
// in-process queues consumed by forwarder goroutines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/model/task"
	"github.com/veltis/measure/runtime/shared"
	"github.com/veltis/measure/service/ipc"
	"github.com/veltis/measure/service/messaging/memory"
)

// Status is the lifecycle state of an engine.
type Status string

const (
	StatusStopped      Status = "Stopped"
	StatusWaiting      Status = "Waiting"
	StatusRunning      Status = "Running"
	StatusPausing      Status = "Pausing"
	StatusPaused       Status = "Paused"
	StatusResuming     Status = "Resuming"
	StatusStopping     Status = "Stopping"
	StatusShuttingDown Status = "Shutting down"
)

// Engine runs executions on behalf of the processor.
type Engine interface {
	// Perform runs one execution, filling infos.Success and infos.Errors.
	// The returned outcome is one of OutcomeCompleted, OutcomeFailed,
	// OutcomeInterrupted.
	Perform(ctx context.Context, infos *measurement.ExecutionInfos) (string, error)
	Pause() error
	Resume() error
	Stop(force bool) error
	// Shutdown releases the worker. Without force it waits for the
	// current execution in the background.
	Shutdown(force bool)
	Status() Status
	OnStatus(fn func(Status))
	OnMonitor(fn func(ipc.MonitorUpdate))
}

const (
	readyTimeout       = 10 * time.Second
	ackPollPeriod      = 2 * time.Second
	resultPoll         = time.Second
	receivePoll        = 100 * time.Millisecond
	maxMissedPolls     = 3
	controlSendTimeout = 5 * time.Second
)

// Service is the out-of-process engine implementation.
type Service struct {
	logger   *zap.Logger
	launcher Launcher

	mu         sync.Mutex
	status     Status
	statusObs  []func(Status)
	monitorObs []func(ipc.MonitorUpdate)
	worker     *workerHandle
	forceStop  *shared.Flag
}

// workerHandle bundles everything tied to one live worker.
type workerHandle struct {
	channel ipc.Channel
	process Process

	control chan *ipc.Message
	logQ    *memory.Queue[ipc.LogRecord]
	monQ    *memory.Queue[ipc.MonitorUpdate]

	receiverDone chan struct{}
	logDone      chan struct{}
	monDone      chan struct{}
}

// Option configures the engine service.
type Option func(*Service)

// WithLogger sets the logger worker records are replayed through.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New returns an engine using the given launcher to obtain workers.
func New(launcher Launcher, options ...Option) *Service {
	s := &Service{
		launcher:  launcher,
		logger:    zap.NewNop(),
		status:    StatusStopped,
		forceStop: shared.NewFlag(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// NewExec returns an engine spawning the given worker binary.
func NewExec(workerPath string, options ...Option) *Service {
	return New(&ExecLauncher{Path: workerPath}, options...)
}

// NewInProcess returns an engine running its worker loop in-process, useful
// for tests and embedded deployments.
func NewInProcess(registry *task.Registry, options ...Option) *Service {
	return New(&InProcessLauncher{Registry: registry}, options...)
}

// Status returns the current engine status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnStatus registers a status observer. Observers run outside the engine
// lock.
func (s *Service) OnStatus(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusObs = append(s.statusObs, fn)
}

// OnMonitor registers a monitor update observer.
func (s *Service) OnMonitor(fn func(ipc.MonitorUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitorObs = append(s.monitorObs, fn)
}

func (s *Service) setStatus(status Status) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	observers := make([]func(Status), len(s.statusObs))
	copy(observers, s.statusObs)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(status)
	}
}

// ensureWorker lazily launches the worker and waits for its ready message.
func (s *Service) ensureWorker(ctx context.Context) (*workerHandle, error) {
	s.mu.Lock()
	if s.worker != nil {
		h := s.worker
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	channel, process, err := s.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: launch worker: %w", err)
	}
	h := &workerHandle{
		channel:      channel,
		process:      process,
		control:      make(chan *ipc.Message, 16),
		logQ:         memory.NewQueue[ipc.LogRecord](memory.DefaultConfig()),
		monQ:         memory.NewQueue[ipc.MonitorUpdate](memory.DefaultConfig()),
		receiverDone: make(chan struct{}),
		logDone:      make(chan struct{}),
		monDone:      make(chan struct{}),
	}
	go s.receive(h)
	go s.forwardLogs(h)
	go s.forwardMonitors(h)

	deadline := time.Now().Add(readyTimeout)
	for {
		select {
		case m := <-h.control:
			if m.Kind == ipc.KindReady {
				s.mu.Lock()
				s.worker = h
				s.mu.Unlock()
				s.setStatus(StatusWaiting)
				return h, nil
			}
		case <-time.After(receivePoll):
			if !h.process.Alive() {
				s.teardown(h)
				return nil, errors.New("engine: worker died before becoming ready")
			}
			if time.Now().After(deadline) {
				_ = h.process.Kill()
				s.teardown(h)
				return nil, errors.New("engine: worker never became ready")
			}
		case <-ctx.Done():
			_ = h.process.Kill()
			s.teardown(h)
			return nil, ctx.Err()
		}
	}
}

// receive demultiplexes worker messages: logs and monitor updates go to
// their queues, signal acknowledgements flip the status, the rest feeds the
// control channel consumed by Perform.
func (s *Service) receive(h *workerHandle) {
	defer close(h.receiverDone)
	defer h.logQ.Close()
	defer h.monQ.Close()
	ctx := context.Background()
	for {
		m, err := h.channel.Receive(receivePoll)
		if err != nil {
			if errors.Is(err, ipc.ErrTimeout) {
				continue
			}
			return
		}
		switch m.Kind {
		case ipc.KindLog:
			if m.Log != nil {
				_ = h.logQ.Publish(ctx, m.Log)
			}
		case ipc.KindMonitor:
			if m.Monitor != nil {
				_ = h.monQ.Publish(ctx, m.Monitor)
			}
		case ipc.KindPaused:
			s.setStatus(StatusPaused)
		case ipc.KindResumed:
			s.setStatus(StatusRunning)
		default:
			// a result or ack must reach Perform even when the
			// consumer lags behind a burst
			select {
			case h.control <- m:
			case <-time.After(controlSendTimeout):
				s.logger.Warn("control message discarded, no consumer",
					zap.String("kind", string(m.Kind)))
			}
		}
	}
}

func (s *Service) forwardLogs(h *workerHandle) {
	defer close(h.logDone)
	ctx := context.Background()
	for {
		msg, err := h.logQ.Consume(ctx)
		if err != nil {
			return
		}
		replayRecord(s.logger, msg.T())
		_ = msg.Ack()
	}
}

func (s *Service) forwardMonitors(h *workerHandle) {
	defer close(h.monDone)
	ctx := context.Background()
	for {
		msg, err := h.monQ.Consume(ctx)
		if err != nil {
			return
		}
		s.mu.Lock()
		observers := make([]func(ipc.MonitorUpdate), len(s.monitorObs))
		copy(observers, s.monitorObs)
		s.mu.Unlock()
		for _, fn := range observers {
			fn(*msg.T())
		}
		_ = msg.Ack()
	}
}

// teardown closes the channel and waits for the receiver and forwarders.
func (s *Service) teardown(h *workerHandle) {
	_ = h.channel.Close()
	<-h.receiverDone
	<-h.logDone
	<-h.monDone
	s.mu.Lock()
	if s.worker == h {
		s.worker = nil
	}
	s.mu.Unlock()
}

// buildRequest assembles the run request for an execution.
func buildRequest(infos *measurement.ExecutionInfos) (*ipc.RunRequest, error) {
	snapshot, err := infos.Root.Database().CopyNodeValues("root")
	if err != nil {
		return nil, err
	}
	return &ipc.RunRequest{
		ID:          infos.ID,
		Root:        task.SaveConfig(infos.Root),
		BuildDeps:   infos.BuildDeps,
		RuntimeDeps: infos.RuntimeDeps,
		Observed:    append([]string(nil), infos.ObservedEntries...),
		Snapshot:    snapshot,
		Checks:      infos.Checks,
	}, nil
}

// Perform sends one execution to the worker and waits for its result,
// watching worker liveness the whole time.
func (s *Service) Perform(ctx context.Context, infos *measurement.ExecutionInfos) (string, error) {
	h, err := s.ensureWorker(ctx)
	if err != nil {
		infos.Success = false
		infos.Errors = map[string]string{"engine": err.Error()}
		return OutcomeFailed, err
	}
	s.forceStop.Clear()

	req, err := buildRequest(infos)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("engine: assemble request: %w", err)
	}
	if err := h.channel.Send(&ipc.Message{Kind: ipc.KindRun, Run: req}); err != nil {
		s.workerLost(h)
		return OutcomeFailed, fmt.Errorf("engine: send run request: %w", err)
	}

	// wait for the acknowledgement, checking the process stays alive
	missed := 0
	for acked := false; !acked; {
		select {
		case m := <-h.control:
			if m.Kind == ipc.KindAck {
				acked = true
			}
		case <-time.After(ackPollPeriod):
			missed++
			if !h.process.Alive() || missed >= maxMissedPolls {
				s.workerLost(h)
				return OutcomeFailed, errors.New("engine: worker did not acknowledge the execution")
			}
		case <-ctx.Done():
			s.workerLost(h)
			return OutcomeFailed, ctx.Err()
		}
	}
	s.setStatus(StatusRunning)

	for {
		select {
		case m := <-h.control:
			if m.Kind != ipc.KindResult || m.Result == nil {
				continue
			}
			result := m.Result
			infos.Success = result.Success
			infos.Errors = result.Errors
			if result.NextState == NextStopping {
				s.setStatus(StatusStopped)
				s.workerLost(h)
			} else {
				s.setStatus(StatusWaiting)
			}
			return result.Outcome, nil
		case <-time.After(resultPoll):
			if s.forceStop.IsSet() {
				infos.Success = false
				return OutcomeInterrupted, nil
			}
			if !h.process.Alive() {
				s.workerLost(h)
				infos.Success = false
				infos.Errors = map[string]string{"engine": "worker process died mid-execution"}
				return OutcomeFailed, errors.New("engine: worker process died mid-execution")
			}
		case <-ctx.Done():
			_ = s.Stop(true)
			return OutcomeInterrupted, ctx.Err()
		}
	}
}

// workerLost drops the current worker after a failure or planned exit.
func (s *Service) workerLost(h *workerHandle) {
	_ = h.process.Kill()
	s.teardown(h)
	s.setStatus(StatusStopped)
}

func (s *Service) liveWorker() *workerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

// Pause asks the worker to pause the running tree. The status turns Paused
// once every goroutine of the tree parked.
func (s *Service) Pause() error {
	h := s.liveWorker()
	if h == nil {
		return errors.New("engine: no worker to pause")
	}
	s.setStatus(StatusPausing)
	return h.channel.Send(&ipc.Message{Kind: ipc.KindPause})
}

// Resume releases a paused tree.
func (s *Service) Resume() error {
	h := s.liveWorker()
	if h == nil {
		return errors.New("engine: no worker to resume")
	}
	s.setStatus(StatusResuming)
	return h.channel.Send(&ipc.Message{Kind: ipc.KindResume})
}

// Stop interrupts the running tree. With force the worker process is killed
// outright after the signal.
func (s *Service) Stop(force bool) error {
	h := s.liveWorker()
	if h == nil {
		return nil
	}
	s.setStatus(StatusStopping)
	err := h.channel.Send(&ipc.Message{Kind: ipc.KindStop, Force: force})
	if force {
		s.forceStop.Set()
		_ = h.process.Kill()
		s.teardown(h)
		s.setStatus(StatusStopped)
	}
	return err
}

// Shutdown releases the worker. Without force the worker finishes the
// current execution first; the cleanup happens in the background.
func (s *Service) Shutdown(force bool) {
	if force {
		_ = s.Stop(true)
		return
	}
	h := s.liveWorker()
	if h == nil {
		s.setStatus(StatusStopped)
		return
	}
	s.setStatus(StatusShuttingDown)
	_ = h.channel.Send(&ipc.Message{Kind: ipc.KindShutdown})
	go func() {
		if err := h.process.Wait(30 * time.Second); err != nil {
			_ = h.process.Kill()
		}
		s.teardown(h)
		s.setStatus(StatusStopped)
	}()
}
