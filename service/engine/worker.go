package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veltis/measure/model/task"
	"github.com/veltis/measure/progress"
	"github.com/veltis/measure/runtime/database"
	"github.com/veltis/measure/runtime/shared"
	"github.com/veltis/measure/service/ipc"
)

// Execution outcomes reported by the worker.
const (
	OutcomeCompleted   = "COMPLETED"
	OutcomeFailed      = "FAILED"
	OutcomeInterrupted = "INTERRUPTED"
)

// Next-state values reported with a result.
const (
	NextReady    = "ready"
	NextStopping = "stopping"
)

// Worker executes task trees on behalf of an engine. It serves run requests
// over its channel until a shutdown is requested or the channel dies. The
// same loop runs inside the worker binary and inside the in-process
// launcher.
type Worker struct {
	Channel  ipc.Channel
	Registry *task.Registry
	// Logger receives worker-side diagnostics that must not cross the
	// channel; task logging always crosses it.
	Logger *zap.Logger

	mu      sync.Mutex
	current *task.RootTask
	stopped bool
}

func (w *Worker) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

func (w *Worker) setCurrent(root *task.RootTask) {
	w.mu.Lock()
	w.current = root
	w.stopped = false
	w.mu.Unlock()
}

func (w *Worker) currentRoot() *task.RootTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// awaitRoot waits for the executing tree to appear. Signals can arrive while
// the tree is still being rebuilt from its configuration.
func (w *Worker) awaitRoot(timeout time.Duration) *task.RootTask {
	deadline := time.Now().Add(timeout)
	for {
		if root := w.currentRoot(); root != nil {
			return root
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (w *Worker) markStopped() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

func (w *Worker) wasStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Run serves the worker loop until the channel closes, the context is
// cancelled or a shutdown message arrives.
func (w *Worker) Run(ctx context.Context) error {
	if w.Registry == nil {
		w.Registry = task.NewRegistry()
	}
	processStop := shared.NewFlag()
	runCh := make(chan *ipc.RunRequest, 1)

	go w.receiveLoop(processStop, runCh)

	if err := w.Channel.Send(&ipc.Message{Kind: ipc.KindReady}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-runCh:
			w.execute(ctx, req, processStop)
		case <-time.After(100 * time.Millisecond):
			if processStop.IsSet() {
				return nil
			}
		}
	}
}

// receiveLoop routes control messages. Run requests go to the main loop;
// signals act on the currently executing tree immediately.
func (w *Worker) receiveLoop(processStop *shared.Flag, runCh chan *ipc.RunRequest) {
	for {
		m, err := w.Channel.Receive(-1)
		if err != nil {
			// the parent is gone, wind down
			processStop.Set()
			if root := w.currentRoot(); root != nil {
				root.RequestStop()
			}
			return
		}
		switch m.Kind {
		case ipc.KindRun:
			if m.Run != nil {
				runCh <- m.Run
			}
		case ipc.KindPause:
			go func() {
				root := w.awaitRoot(5 * time.Second)
				if root == nil {
					return
				}
				root.RequestPause()
				if root.Paused.Wait(time.Minute) {
					_ = w.Channel.Send(&ipc.Message{Kind: ipc.KindPaused})
				}
			}()
		case ipc.KindResume:
			go func() {
				root := w.awaitRoot(5 * time.Second)
				if root == nil {
					return
				}
				root.RequestResume()
				if root.Resumed.Wait(time.Minute) {
					_ = w.Channel.Send(&ipc.Message{Kind: ipc.KindResumed})
				}
			}()
		case ipc.KindStop:
			w.markStopped()
			if m.Force {
				processStop.Set()
			}
			go func() {
				if root := w.awaitRoot(5 * time.Second); root != nil {
					root.RequestStop()
				}
			}()
		case ipc.KindShutdown:
			processStop.Set()
		}
	}
}

// execute rebuilds the tree from the request, runs it and reports a result.
func (w *Worker) execute(ctx context.Context, req *ipc.RunRequest, processStop *shared.Flag) {
	_ = w.Channel.Send(&ipc.Message{Kind: ipc.KindAck})

	result := &ipc.Result{ID: req.ID, NextState: NextReady}
	defer func() {
		if processStop.IsSet() {
			result.NextState = NextStopping
		}
		w.setCurrent(nil)
		_ = w.Channel.Send(&ipc.Message{Kind: ipc.KindResult, Result: result})
	}()

	root, err := w.Registry.BuildRoot(req.Root)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Message = "failed to rebuild the task tree"
		result.Errors = map[string]string{"build": err.Error()}
		return
	}
	db := root.Database()
	for name, value := range req.Snapshot {
		if _, err := db.SetValue(database.RootPath, name, value); err != nil {
			w.logger().Warn("snapshot entry rejected", zap.String("entry", name), zap.Error(err))
		}
	}
	root.RunTime = req.RuntimeDeps
	root.SetLogger(NewIPCLogger(w.Channel))
	w.setCurrent(root)

	if len(req.Observed) > 0 {
		observed := make(map[string]bool, len(req.Observed))
		for _, path := range req.Observed {
			observed[path] = true
		}
		db.Observe(func(c database.Change) {
			if c.Kind != database.ValueChanged {
				return
			}
			full := c.Path + "/" + c.Name
			if !observed[full] {
				return
			}
			_ = w.Channel.Send(&ipc.Message{Kind: ipc.KindMonitor, Monitor: &ipc.MonitorUpdate{
				Path:  c.Path,
				Name:  c.Name,
				Value: c.Value,
			}})
		})
		defer func() {
			_ = w.Channel.Send(&ipc.Message{Kind: ipc.KindMonitor, Monitor: &ipc.MonitorUpdate{Closed: true}})
		}()
	}

	if req.Checks {
		ok, traceback := root.Check(ctx)
		if !ok {
			result.Outcome = OutcomeFailed
			result.Message = "checks failed in the execution context"
			result.Errors = traceback
			return
		}
	}

	db.PrepareToRun()
	root.Prepare()

	// the root performs inline; only its descendants report progress
	total := 0
	for _, child := range root.Children() {
		task.Traverse(child, func(task.Task) bool { total++; return true })
	}
	runCtx, tracker := progress.WithNewTracker(ctx, req.ID, root.MeasName, nil)
	tracker.Update(progress.Delta{Total: total})

	performErr := root.Perform(runCtx)
	db.StopRunning()

	counts := tracker.Snapshot()
	root.Logger().Info("task tree finished",
		zap.Int("total", counts.TotalTasks),
		zap.Int("completed", counts.CompletedTasks),
		zap.Int("failed", counts.FailedTasks))

	result.Errors = root.Errors()
	switch {
	case w.wasStopped() || (root.ShouldStop.IsSet() && performErr == nil):
		result.Outcome = OutcomeInterrupted
		result.Message = "execution was interrupted"
	case performErr != nil:
		result.Outcome = OutcomeFailed
		result.Message = performErr.Error()
	default:
		result.Success = true
		result.Outcome = OutcomeCompleted
	}
}
