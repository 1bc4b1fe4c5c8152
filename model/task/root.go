package task

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/veltis/measure/runtime/database"
	"github.com/veltis/measure/runtime/shared"
)

// pauseCheckInterval is how often paused goroutines re-inspect the stop and
// pause signals.
const pauseCheckInterval = 50 * time.Millisecond

// RootTaskID is the type id under which the root task is registered.
const RootTaskID = "veltis.RootTask"

// RootTask owns everything shared by the tasks of one tree: the database,
// the concurrency pools, the shared resources and the stop/pause signals.
// Its Perform is the single entry point of an execution and never panics.
type RootTask struct {
	ComplexTask

	// DefaultPath is the directory data files default to; Check verifies
	// it exists.
	DefaultPath string
	// MeasName and MeasID identify the measure this tree belongs to and
	// are exposed through the database.
	MeasName string
	MeasID   string

	// RunTime holds the runtime dependencies collected for this
	// execution, keyed by dependency id.
	RunTime map[string]any

	ShouldStop  *shared.Flag
	ShouldPause *shared.Flag
	// Paused is set while every active goroutine of the tree sits in the
	// pause barrier; Resumed is set once a resume completed.
	Paused  *shared.Flag
	Resumed *shared.Flag

	Resources *shared.Registry
	Pools     *shared.Pools

	active       *shared.Counter
	pausedCount  *shared.Counter
	resumeLeader atomic.Bool

	logger *zap.Logger

	errMu  sync.Mutex
	errors map[string]string
}

// Logger returns the logger tasks report through, never nil.
func (r *RootTask) Logger() *zap.Logger { return r.logger }

// SetLogger replaces the tree logger; a nil logger restores the no-op one.
func (r *RootTask) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r.logger = logger
}

// loggerFields annotates task log records with their position in the tree.
func loggerFields(t Task) []zap.Field {
	return []zap.Field{
		zap.String("task", t.Name()),
		zap.String("path", t.Path()),
	}
}

// NewRootTask returns a rooted tree with a fresh database. The root is
// registered immediately so children can be added to a live tree.
func NewRootTask() *RootTask {
	r := &RootTask{
		ShouldStop:  shared.NewFlag(),
		ShouldPause: shared.NewFlag(),
		Paused:      shared.NewFlag(),
		Resumed:     shared.NewFlag(),
		Resources:   shared.NewRegistry(),
		active:      shared.NewCounter(),
		pausedCount: shared.NewCounter(),
		logger:      zap.NewNop(),
		errors:      map[string]string{},
	}
	Init(r, "Root", RootTaskID)
	r.Pools = shared.NewPools(r.active)
	r.Resources.Register("threads", &shared.PoolResource{Pools: r.Pools})
	r.Resources.Register("instrs", shared.NewInstrumentResource())
	r.Resources.Register("files", shared.NewFileResource())
	r.Entries = map[string]any{
		"default_path": "",
		"meas_name":    "",
		"meas_id":      "",
	}
	r.db = database.New()
	r.root = r
	r.path = database.RootPath
	r.depth = 0
	r.Stoppable = true
	// the caller of Perform counts as one active goroutine
	r.active.Increment()
	r.active.Observe(func(int) { r.updatePauseState() })
	r.pausedCount.Observe(func(int) { r.updatePauseState() })
	if err := r.BaseTask.RegisterInDatabase(); err != nil {
		// a fresh database cannot reject the root entries
		panic(err)
	}
	return r
}

func (r *RootTask) Fields() []Field {
	return []Field{
		{Name: "default_path", Kind: FieldFormat, Entry: "default_path",
			Get: func() string { return r.DefaultPath },
			Set: func(v string) { r.DefaultPath = v }},
		{Name: "meas_name", Kind: FieldPref,
			Get: func() string { return r.MeasName },
			Set: func(v string) { r.MeasName = v }},
		{Name: "meas_id", Kind: FieldPref,
			Get: func() string { return r.MeasID },
			Set: func(v string) { r.MeasID = v }},
	}
}

// Check validates the default path and the whole tree.
func (r *RootTask) Check(ctx context.Context) (bool, map[string]string) {
	ok, traceback := r.ComplexTask.Check(ctx)
	path, err := r.FormatString(r.DefaultPath)
	if err == nil {
		if _, statErr := os.Stat(path); statErr != nil {
			traceback[r.path+"/"+r.name+"-default_path"] =
				fmt.Sprintf("default path %q is not reachable: %v", path, statErr)
			ok = false
		} else {
			_ = r.WriteInDatabase("default_path", path)
			_ = r.WriteInDatabase("meas_name", r.MeasName)
			_ = r.WriteInDatabase("meas_id", r.MeasID)
		}
	}
	return ok, traceback
}

// Errors returns a copy of the errors recorded during the last execution.
func (r *RootTask) Errors() map[string]string {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	out := make(map[string]string, len(r.errors))
	for k, v := range r.errors {
		out[k] = v
	}
	return out
}

// RecordError stores an execution error under the given key.
func (r *RootTask) RecordError(key, msg string) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.errors[key] = msg
}

// Prepare composes the perform strategy of every task in the tree. It must
// run after Check and after the database was switched to running mode.
func (r *RootTask) Prepare() {
	r.prepare()
}

// Perform runs the whole tree. Panics anywhere below are converted into
// recorded errors, resources are released whatever happens and a stop
// request makes it return early without error.
func (r *RootTask) Perform(ctx context.Context) (err error) {
	defer r.Resources.ReleaseAll()
	defer func() {
		if rec := recover(); rec != nil {
			r.RecordError("root/crash", fmt.Sprintf("%v\n%s", rec, debug.Stack()))
			r.ShouldStop.Set()
			err = fmt.Errorf("execution crashed: %v", rec)
		}
	}()
	if perr := r.ComplexTask.Perform(ctx); perr != nil {
		r.RecordError("root/perform", perr.Error())
		return perr
	}
	if errs := r.Errors(); len(errs) > 0 {
		return fmt.Errorf("execution recorded %d error(s)", len(errs))
	}
	return nil
}

// RequestStop asks every task to stop at the next opportunity.
func (r *RootTask) RequestStop() {
	r.ShouldStop.Set()
	// unblock goroutines parked in the pause barrier
	r.ShouldPause.Clear()
}

// RequestPause asks every active goroutine to park in the pause barrier.
// Paused gets set once they all did.
func (r *RootTask) RequestPause() {
	r.resumeLeader.Store(false)
	r.Resumed.Clear()
	r.ShouldPause.Set()
}

// RequestResume releases the pause barrier. Exactly one leaving goroutine
// resets the shared resources before Resumed is set.
func (r *RootTask) RequestResume() {
	r.ShouldPause.Clear()
}

func (r *RootTask) updatePauseState() {
	paused := r.pausedCount.Count()
	if r.ShouldPause.IsSet() && paused > 0 && paused >= r.active.Count() {
		r.Paused.Set()
	} else if paused == 0 {
		r.Paused.Clear()
	}
}

// handleStopPause implements the stop and pause protocol run before every
// stoppable task. It reports whether execution must not proceed.
func (r *RootTask) handleStopPause(ctx context.Context) bool {
	if r.ShouldStop.IsSet() {
		return true
	}
	if !r.ShouldPause.IsSet() {
		return false
	}
	r.pausedCount.Increment()
	defer r.pausedCount.Decrement()
	for {
		if r.ShouldStop.IsSet() {
			return true
		}
		if !r.ShouldPause.IsSet() {
			if r.resumeLeader.CompareAndSwap(false, true) {
				r.Resources.ResetAll()
				r.Resumed.Set()
			} else {
				r.Resumed.Wait(-1)
			}
			return false
		}
		select {
		case <-ctx.Done():
			r.ShouldStop.Set()
			return true
		case <-time.After(pauseCheckInterval):
		}
	}
}
