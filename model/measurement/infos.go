package measurement

import "github.com/veltis/measure/model/task"

// ExecutionInfos is the contract between the processor and an engine: it
// carries everything an engine needs to run a task tree and receives the
// outcome back.
type ExecutionInfos struct {
	// ID identifies the execution, usually the measure id.
	ID string
	// Root is the tree to execute.
	Root *task.RootTask
	// BuildDeps and RuntimeDeps are the collected dependencies.
	BuildDeps   map[string]any
	RuntimeDeps map[string]any
	// ObservedEntries lists the database entries whose updates must be
	// forwarded while running.
	ObservedEntries []string
	// Checks asks the engine to re-run the tree checks in its own
	// context before performing.
	Checks bool

	// Success and Errors are filled by the engine once the execution
	// finished.
	Success bool
	Errors  map[string]string
}

// NewExecutionInfos assembles the execution contract for a measure.
func NewExecutionInfos(m *Measure, checks bool) *ExecutionInfos {
	infos := &ExecutionInfos{
		ID:              m.ID,
		Root:            m.Root,
		ObservedEntries: append([]string(nil), m.Monitored...),
		Checks:          checks,
	}
	if m.Dependencies != nil {
		infos.BuildDeps = m.Dependencies.BuildDeps()
		infos.RuntimeDeps = m.Dependencies.RuntimeDeps()
	}
	return infos
}
