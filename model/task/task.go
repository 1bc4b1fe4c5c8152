// Package task defines the hierarchical measurement task model: simple tasks
// performing one step, complex tasks owning ordered children and a root task
// owning the database, the shared resources and the stop/pause signals of one
// execution.
package task

import (
	"context"
	"fmt"

	"github.com/veltis/measure/progress"
	"github.com/veltis/measure/runtime/database"
	"github.com/veltis/measure/runtime/eval"
)

// FieldKind discriminates how a declared field participates in checks and
// serialization.
type FieldKind int

const (
	// FieldPref fields are only persisted.
	FieldPref FieldKind = iota
	// FieldFormat fields are format strings resolved against the database.
	FieldFormat
	// FieldEval fields are format strings evaluated as expressions after
	// substitution.
	FieldEval
)

// Field declares one serializable task field. Check formats or evaluates the
// field depending on its kind and, when Entry is set, writes the result into
// the matching database entry.
type Field struct {
	Name string
	Kind FieldKind
	// Soft marks failures of this field as warnings that do not fail the
	// whole check.
	Soft  bool
	Get   func() string
	Set   func(string)
	Entry string
}

// Task is implemented by every node of a measurement hierarchy. Concrete
// tasks embed BaseTask (or SimpleTask/ComplexTask) and must be wired with
// Init before use.
type Task interface {
	Base() *BaseTask
	Name() string
	Path() string
	Depth() int
	TypeID() string
	Fields() []Field
	Children() []Task
	Check(ctx context.Context) (bool, map[string]string)
	Perform(ctx context.Context) error
	RegisterInDatabase() error
	UnregisterFromDatabase() error
	// configure derives depth, path, database and root from the parent;
	// prepare composes the perform strategy. Both are promoted to
	// embedders so external task types remain possible.
	configure(parent Task) error
	prepare()
}

// BaseTask carries the state shared by every task.
type BaseTask struct {
	self   Task
	typeID string
	name   string
	depth  int
	path   string
	parent Task
	root   *RootTask
	db     *database.Database

	// Entries lists the database entries owned by this task (bare names,
	// prefixed with the task name on registration) and their defaults.
	Entries map[string]any
	// AccessExs maps entry names to the number of hierarchy levels above
	// this task's node at which the entry is additionally exposed.
	AccessExs map[string]int

	Stoppable bool
	Parallel  ParallelSettings
	Wait      WaitSettings

	performFn func(ctx context.Context) error
	evaluator *eval.Evaluator
	fmtCache  map[string]*formatCached
	evalCache map[string]*evalCached
}

// ParallelSettings request dispatch of Perform to a named concurrency pool.
type ParallelSettings struct {
	Activated bool   `yaml:"activated" json:"activated"`
	Pool      string `yaml:"pool" json:"pool"`
}

// WaitSettings request joining concurrency pools before Perform runs. An
// explicit Wait list takes precedence over NoWait; with both empty every
// pool is joined.
type WaitSettings struct {
	Activated bool     `yaml:"activated" json:"activated"`
	Wait      []string `yaml:"wait,omitempty" json:"wait,omitempty"`
	NoWait    []string `yaml:"no_wait,omitempty" json:"no_wait,omitempty"`
}

// Init wires the embedded base of a concrete task. Every constructor must
// call it with the outermost value so that interface dispatch reaches the
// concrete type.
func Init(self Task, name, typeID string) {
	b := self.Base()
	b.self = self
	b.name = name
	b.typeID = typeID
	if b.Entries == nil {
		b.Entries = map[string]any{}
	}
	if b.AccessExs == nil {
		b.AccessExs = map[string]int{}
	}
	b.Stoppable = true
}

func (b *BaseTask) Base() *BaseTask { return b }
func (b *BaseTask) Name() string    { return b.name }
func (b *BaseTask) Path() string    { return b.path }
func (b *BaseTask) Depth() int      { return b.depth }
func (b *BaseTask) TypeID() string  { return b.typeID }

// Root returns the root of the tree this task belongs to, nil while the task
// is detached.
func (b *BaseTask) Root() *RootTask { return b.root }

// Parent returns the owning task, nil for the root.
func (b *BaseTask) Parent() Task { return b.parent }

// Database returns the database of the tree this task belongs to.
func (b *BaseTask) Database() *database.Database { return b.db }

// Fields returns no declared fields; concrete tasks override it.
func (b *BaseTask) Fields() []Field { return nil }

// Children returns nil; only complex tasks own children.
func (b *BaseTask) Children() []Task { return nil }

// SetName renames the task. Renaming a task registered in a database renames
// its entries (and for complex tasks its node) accordingly.
func (b *BaseTask) SetName(name string) error {
	if b.db == nil || b.name == name {
		b.name = name
		return nil
	}
	old := b.name
	if c, ok := b.self.(interface{ renameNode(old, new string) error }); ok {
		if err := c.renameNode(old, name); err != nil {
			return err
		}
	}
	oldNames := make([]string, 0, len(b.Entries))
	newNames := make([]string, 0, len(b.Entries))
	for entry := range b.Entries {
		oldNames = append(oldNames, entryName(old, b.depth, entry))
		newNames = append(newNames, entryName(name, b.depth, entry))
	}
	if err := b.db.RenameValues(b.path, oldNames, newNames); err != nil {
		return err
	}
	b.name = name
	return nil
}

// entryName builds the database entry name of a task entry. The root task
// registers its entries under their bare names.
func entryName(taskName string, depth int, entry string) string {
	if depth == 0 {
		return entry
	}
	return taskName + "_" + entry
}

// EntryName returns the full database name of one of this task's entries.
func (b *BaseTask) EntryName(entry string) string {
	return entryName(b.name, b.depth, entry)
}

// WriteInDatabase stores a value under one of this task's entries.
func (b *BaseTask) WriteInDatabase(entry string, value any) error {
	_, err := b.db.SetValue(b.path, b.EntryName(entry), value)
	return err
}

// GetFromDatabase returns the value of an entry visible from this task's
// node; name is the full entry name, e.g. "Loop_index".
func (b *BaseTask) GetFromDatabase(name string) (any, error) {
	return b.db.GetValue(b.path, name)
}

func (b *BaseTask) configure(parent Task) error {
	pb := parent.Base()
	b.parent = parent
	b.root = pb.root
	b.db = pb.db
	b.depth = pb.depth + 1
	if owner, ok := parent.(nodeOwner); ok {
		b.path = owner.ChildPath()
	} else {
		b.path = pb.path
	}
	return nil
}

// nodeOwner is implemented by tasks owning a database node for their
// children.
type nodeOwner interface {
	ChildPath() string
}

// RegisterInDatabase writes this task's entries and access exceptions.
func (b *BaseTask) RegisterInDatabase() error {
	for entry, value := range b.Entries {
		if _, err := b.db.SetValue(b.path, b.EntryName(entry), value); err != nil {
			return err
		}
	}
	return b.registerAccessExs()
}

func (b *BaseTask) registerAccessExs() error {
	for entry, level := range b.AccessExs {
		lookup := b.path
		for i := 0; i < level; i++ {
			idx := lastSlash(lookup)
			if idx < 0 {
				break
			}
			lookup = lookup[:idx]
		}
		if err := b.db.AddAccessException(lookup, b.path, b.EntryName(entry)); err != nil {
			return err
		}
	}
	return nil
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

// UnregisterFromDatabase removes this task's entries.
func (b *BaseTask) UnregisterFromDatabase() error {
	for entry := range b.Entries {
		if err := b.db.DeleteValue(b.path, b.EntryName(entry)); err != nil {
			return err
		}
	}
	return nil
}

// prepare composes the perform strategy from the task's decorator settings
// and allocates the expression evaluator.
func (b *BaseTask) prepare() {
	b.evaluator = eval.New()
	b.fmtCache = map[string]*formatCached{}
	b.evalCache = map[string]*evalCached{}
	b.performFn = composePerform(b.self)
}

// PerformWrapped runs the composed perform strategy, falling back to the
// bare Perform when the tree was not prepared. Counter updates feed any
// progress tracker carried by the context.
func (b *BaseTask) PerformWrapped(ctx context.Context) (err error) {
	progress.UpdateCtx(ctx, progress.Delta{Running: 1})
	defer func() {
		d := progress.Delta{Running: -1, Completed: 1}
		if err != nil {
			d = progress.Delta{Running: -1, Failed: 1}
		}
		progress.UpdateCtx(ctx, d)
	}()
	if b.performFn != nil {
		return b.performFn(ctx)
	}
	return b.self.Perform(ctx)
}

// Check formats and evaluates the declared fields, recording failures in the
// returned traceback keyed by "<path>/<name>-<field>". Soft failures are
// recorded without failing the check. Successfully resolved fields with an
// Entry are written into the database so dependent tasks can check against
// realistic values.
func (b *BaseTask) Check(ctx context.Context) (bool, map[string]string) {
	return b.checkFields()
}

func (b *BaseTask) checkFields() (bool, map[string]string) {
	ok := true
	traceback := map[string]string{}
	for _, field := range b.self.Fields() {
		if field.Get == nil || field.Kind == FieldPref {
			continue
		}
		raw := field.Get()
		var value any
		var err error
		switch field.Kind {
		case FieldFormat:
			value, err = b.FormatString(raw)
		case FieldEval:
			value, err = b.FormatAndEval(raw)
		}
		if err != nil {
			key := fmt.Sprintf("%s/%s-%s", b.path, b.name, field.Name)
			traceback[key] = err.Error()
			if !field.Soft {
				ok = false
			}
			continue
		}
		if field.Entry != "" {
			if err := b.WriteInDatabase(field.Entry, value); err != nil {
				key := fmt.Sprintf("%s/%s-%s", b.path, b.name, field.Name)
				traceback[key] = err.Error()
				ok = false
			}
		}
	}
	return ok, traceback
}

// Perform must be overridden by concrete tasks.
func (b *BaseTask) Perform(ctx context.Context) error {
	return fmt.Errorf("task %q (%s) does not implement Perform", b.name, b.typeID)
}

// Traverse walks the subtree rooted at t depth-first, stopping early when fn
// returns false.
func Traverse(t Task, fn func(Task) bool) bool {
	if !fn(t) {
		return false
	}
	for _, child := range t.Children() {
		if !Traverse(child, fn) {
			return false
		}
	}
	return true
}

// SimpleTask is the base of tasks performing a single step without children.
type SimpleTask struct {
	BaseTask
}
