package task

import (
	"context"
	"fmt"
)

// ChangeKind discriminates children change notifications.
type ChangeKind string

const (
	ChildAdded   ChangeKind = "added"
	ChildMoved   ChangeKind = "moved"
	ChildRemoved ChangeKind = "removed"
)

// ChildrenChange describes one mutation of a complex task's children.
type ChildrenChange struct {
	Kind     ChangeKind
	Parent   Task
	Child    Task
	OldIndex int
	NewIndex int
}

// ComplexTask owns an ordered list of children performed sequentially. Its
// children's entries live in a dedicated database node named after the task.
type ComplexTask struct {
	BaseTask
	children  []Task
	observers []func(ChildrenChange)
}

// ChildPath returns the database node holding the children's entries.
func (c *ComplexTask) ChildPath() string {
	if c.depth == 0 {
		return c.path
	}
	return c.path + "/" + c.name
}

// Children returns a copy of the current children list.
func (c *ComplexTask) Children() []Task {
	out := make([]Task, len(c.children))
	copy(out, c.children)
	return out
}

// ObserveChildren registers fn to receive children change notifications.
func (c *ComplexTask) ObserveChildren(fn func(ChildrenChange)) {
	c.observers = append(c.observers, fn)
}

func (c *ComplexTask) notify(change ChildrenChange) {
	change.Parent = c.self
	for _, fn := range c.observers {
		fn(change)
	}
}

// live reports whether this task belongs to a rooted tree with a database.
func (c *ComplexTask) live() bool {
	return c.db != nil && c.root != nil
}

// AddChild inserts child at index. When the tree is live the child is
// configured and registered in the database immediately.
func (c *ComplexTask) AddChild(index int, child Task) error {
	if index < 0 || index > len(c.children) {
		return fmt.Errorf("task: add child: index %d out of range", index)
	}
	if c.live() {
		if err := attach(child, c.self); err != nil {
			return err
		}
		if err := child.RegisterInDatabase(); err != nil {
			return err
		}
	}
	c.children = append(c.children, nil)
	copy(c.children[index+1:], c.children[index:])
	c.children[index] = child
	c.notify(ChildrenChange{Kind: ChildAdded, Child: child, NewIndex: index})
	return nil
}

// AppendChild inserts child after the current last one.
func (c *ComplexTask) AppendChild(child Task) error {
	return c.AddChild(len(c.children), child)
}

// MoveChild moves the child at old to new. The database is unaffected since
// entries are keyed by name, but observers are told so persisted orderings
// can follow.
func (c *ComplexTask) MoveChild(old, new int) error {
	if old < 0 || old >= len(c.children) || new < 0 || new >= len(c.children) {
		return fmt.Errorf("task: move child: index out of range")
	}
	child := c.children[old]
	c.children = append(c.children[:old], c.children[old+1:]...)
	c.children = append(c.children, nil)
	copy(c.children[new+1:], c.children[new:])
	c.children[new] = child
	c.notify(ChildrenChange{Kind: ChildMoved, Child: child, OldIndex: old, NewIndex: new})
	return nil
}

// RemoveChild removes the child at index, unregistering it from the database
// when the tree is live.
func (c *ComplexTask) RemoveChild(index int) error {
	if index < 0 || index >= len(c.children) {
		return fmt.Errorf("task: remove child: index %d out of range", index)
	}
	child := c.children[index]
	if c.live() {
		if err := child.UnregisterFromDatabase(); err != nil {
			return err
		}
	}
	c.children = append(c.children[:index], c.children[index+1:]...)
	child.Base().parent = nil
	detach(child)
	c.notify(ChildrenChange{Kind: ChildRemoved, Child: child, OldIndex: index})
	return nil
}

// detach severs a removed subtree from its former tree. The database and
// path pointers are cleared so later mutations of the detached tasks cannot
// reach back into the old database; re-adding the subtree rewires them.
func detach(t Task) {
	b := t.Base()
	b.root = nil
	b.db = nil
	b.path = ""
	for _, child := range t.Children() {
		detach(child)
	}
}

// attach configures a subtree below parent.
func attach(t Task, parent Task) error {
	if err := t.configure(parent); err != nil {
		return err
	}
	for _, child := range t.Children() {
		if err := attach(child, t); err != nil {
			return err
		}
	}
	return nil
}

func (c *ComplexTask) configure(parent Task) error {
	if err := c.BaseTask.configure(parent); err != nil {
		return err
	}
	for _, child := range c.children {
		if err := attach(child, c.self); err != nil {
			return err
		}
	}
	return nil
}

// RegisterInDatabase writes this task's entries, creates the children node
// and registers every child.
func (c *ComplexTask) RegisterInDatabase() error {
	if err := c.BaseTask.RegisterInDatabase(); err != nil {
		return err
	}
	if c.depth > 0 {
		if err := c.db.CreateNode(c.path, c.name); err != nil {
			return err
		}
	}
	for _, child := range c.children {
		if c.live() {
			if err := attach(child, c.self); err != nil {
				return err
			}
		}
		if err := child.RegisterInDatabase(); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterFromDatabase removes the children node and this task's entries.
func (c *ComplexTask) UnregisterFromDatabase() error {
	for _, child := range c.children {
		if err := child.UnregisterFromDatabase(); err != nil {
			return err
		}
	}
	if c.depth > 0 {
		if err := c.db.DeleteNode(c.path, c.name); err != nil {
			return err
		}
	}
	return c.BaseTask.UnregisterFromDatabase()
}

func (c *ComplexTask) renameNode(old, new string) error {
	if err := c.db.RenameNode(c.path, old, new); err != nil {
		return err
	}
	// descendant paths are derived from the renamed node
	oldName := c.name
	c.name = new
	for _, child := range c.children {
		if err := attach(child, c.self); err != nil {
			c.name = oldName
			return err
		}
	}
	c.name = oldName
	return nil
}

// Check validates this task's fields and every child's, merging tracebacks.
func (c *ComplexTask) Check(ctx context.Context) (bool, map[string]string) {
	ok, traceback := c.checkFields()
	for _, child := range c.children {
		childOK, childTb := child.Check(ctx)
		ok = ok && childOK
		for k, v := range childTb {
			traceback[k] = v
		}
	}
	return ok, traceback
}

// Perform runs every child in order through its composed strategy, stopping
// as soon as a child fails or a stop is requested.
func (c *ComplexTask) Perform(ctx context.Context) error {
	for _, child := range c.children {
		if c.root != nil && c.root.ShouldStop.IsSet() {
			return nil
		}
		if err := child.Base().PerformWrapped(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *ComplexTask) prepare() {
	c.BaseTask.prepare()
	for _, child := range c.children {
		child.prepare()
	}
}
