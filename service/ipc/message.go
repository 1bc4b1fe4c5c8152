// Package ipc carries the duplex message protocol between the engine and
// its worker process. Messages are JSON objects framed one per line.
package ipc

import (
	"time"

	"github.com/veltis/measure/model/task"
)

// Kind discriminates protocol messages.
type Kind string

const (
	// KindReady is sent by the worker once its loop is up.
	KindReady Kind = "ready"
	// KindRun carries an execution request to the worker.
	KindRun Kind = "run"
	// KindAck confirms reception of a run request.
	KindAck Kind = "ack"
	// KindResult carries the outcome of an execution back.
	KindResult Kind = "result"
	// KindLog carries a log record emitted inside the worker.
	KindLog Kind = "log"
	// KindMonitor carries a monitored database entry update.
	KindMonitor Kind = "monitor"
	// KindPause, KindResume and KindStop mirror the execution signals;
	// KindPaused and KindResumed acknowledge them.
	KindPause   Kind = "pause"
	KindResume  Kind = "resume"
	KindStop    Kind = "stop"
	KindPaused  Kind = "paused"
	KindResumed Kind = "resumed"
	// KindShutdown asks the worker loop to exit once idle.
	KindShutdown Kind = "shutdown"
)

// Message is one protocol frame. Exactly one payload field matching Kind is
// populated.
type Message struct {
	Kind    Kind           `json:"kind"`
	Run     *RunRequest    `json:"run,omitempty"`
	Result  *Result        `json:"result,omitempty"`
	Log     *LogRecord     `json:"log,omitempty"`
	Monitor *MonitorUpdate `json:"monitor,omitempty"`
	// Force marks a stop request that must not wait for the current task.
	Force bool `json:"force,omitempty"`
}

// RunRequest carries everything the worker needs to rebuild and execute a
// task tree.
type RunRequest struct {
	ID string `json:"id"`
	// Root is the serialized task tree.
	Root *task.Config `json:"root"`
	// BuildDeps and RuntimeDeps hold the dependency ids and values the
	// worker side resolver understands.
	BuildDeps   map[string]any `json:"build_deps,omitempty"`
	RuntimeDeps map[string]any `json:"runtime_deps,omitempty"`
	// Observed lists database entries whose updates are forwarded as
	// monitor messages.
	Observed []string `json:"observed,omitempty"`
	// Snapshot seeds the rebuilt root node with edited values.
	Snapshot map[string]any `json:"snapshot,omitempty"`
	// Checks asks the worker to re-run the tree checks before
	// performing.
	Checks bool `json:"checks"`
}

// Result reports one finished execution.
type Result struct {
	ID      string            `json:"id"`
	Success bool              `json:"success"`
	Errors  map[string]string `json:"errors,omitempty"`
	// Outcome is the terminal measure status the worker proposes, and
	// NextState tells whether the worker keeps serving ("ready") or is
	// about to exit ("stopping").
	Outcome   string `json:"outcome"`
	NextState string `json:"next_state"`
	Message   string `json:"message,omitempty"`
}

// LogRecord is a structured log line crossing the process boundary.
type LogRecord struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// MonitorUpdate reports one monitored database entry change. Closed marks
// the end of the update stream for the current execution.
type MonitorUpdate struct {
	Path   string `json:"path,omitempty"`
	Name   string `json:"name,omitempty"`
	Value  any    `json:"value,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}
