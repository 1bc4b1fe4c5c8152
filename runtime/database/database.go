// Package database implements the hierarchical value store backing a task
// tree. While the tree is being edited the database mirrors its hierarchy as
// nodes holding named entries; before execution it is flattened into an
// indexed slice so that hot-path reads and writes cost one slice access.
package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RootPath is the path of the database root node.
const RootPath = "root"

var (
	// ErrNotFound signals a missing node or entry.
	ErrNotFound = errors.New("database: not found")
	// ErrRunning signals a structural change attempted after the database
	// was flattened for execution.
	ErrRunning = errors.New("database: layout is frozen while running")
)

// ChangeKind discriminates database notifications.
type ChangeKind string

const (
	EntryAdded   ChangeKind = "added"
	EntryRemoved ChangeKind = "removed"
	EntryRenamed ChangeKind = "renamed"
	ValueChanged ChangeKind = "value"
)

// Change describes one database mutation delivered to observers.
type Change struct {
	Kind ChangeKind
	// Path is the owning node path, Name the entry name. For renames
	// NewName carries the replacement name.
	Path    string
	Name    string
	NewName string
	Value   any
}

type node struct {
	name     string
	parent   *node
	children map[string]*node
	data     map[string]any
	// access exceptions: entry name -> path of the node owning the entry
	access map[string]string
}

func newNode(name string, parent *node) *node {
	return &node{
		name:     name,
		parent:   parent,
		children: map[string]*node{},
		data:     map[string]any{},
		access:   map[string]string{},
	}
}

func (n *node) path() string {
	if n.parent == nil {
		return n.name
	}
	return n.parent.path() + "/" + n.name
}

// Database is the path-scoped store shared by every task of one tree. All
// methods are safe for concurrent use.
type Database struct {
	mu      sync.Mutex
	root    *node
	running bool
	flat    []any
	indexes map[string]int
	// per-node read entry points kept for running-mode lookups
	observers []func(Change)
}

// New returns an empty database holding only the root node.
func New() *Database {
	return &Database{root: newNode(RootPath, nil)}
}

// Observe registers fn to receive change notifications. Observers run
// outside the database lock.
func (d *Database) Observe(fn func(Change)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

func (d *Database) notify(c Change) {
	d.mu.Lock()
	observers := make([]func(Change), len(d.observers))
	copy(observers, d.observers)
	d.mu.Unlock()
	for _, fn := range observers {
		fn(c)
	}
}

// resolve walks the node tree. Caller holds d.mu.
func (d *Database) resolve(path string) (*node, error) {
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] != d.root.name {
		return nil, fmt.Errorf("database: node %q: %w", path, ErrNotFound)
	}
	current := d.root
	for _, seg := range segments[1:] {
		child, ok := current.children[seg]
		if !ok {
			return nil, fmt.Errorf("database: node %q: %w", path, ErrNotFound)
		}
		current = child
	}
	return current, nil
}

// Running reports whether the database has been flattened for execution.
func (d *Database) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// SetValue stores value under the entry name of the given node. In edition
// mode it reports whether the entry was newly created; in running mode the
// entry must already exist and observers are notified with the full entry
// path.
func (d *Database) SetValue(nodePath, name string, value any) (bool, error) {
	d.mu.Lock()
	n, err := d.resolve(nodePath)
	if err != nil {
		d.mu.Unlock()
		return false, err
	}
	if d.running {
		index, ok := d.indexes[nodePath+"/"+name]
		if !ok {
			d.mu.Unlock()
			return false, fmt.Errorf("database: entry %q in %q: %w", name, nodePath, ErrNotFound)
		}
		d.flat[index] = value
		d.mu.Unlock()
		d.notify(Change{Kind: ValueChanged, Path: nodePath, Name: name, Value: value})
		return false, nil
	}
	_, existed := n.data[name]
	n.data[name] = value
	d.mu.Unlock()
	if !existed {
		d.notify(Change{Kind: EntryAdded, Path: nodePath, Name: name, Value: value})
	}
	return !existed, nil
}

// findOwner locates the node owning an entry visible from assumedPath,
// walking towards the root and honouring access exceptions. Caller holds
// d.mu.
func (d *Database) findOwner(assumedPath, name string) (*node, error) {
	n, err := d.resolve(assumedPath)
	if err != nil {
		return nil, err
	}
	for current := n; current != nil; current = current.parent {
		if _, ok := current.data[name]; ok {
			return current, nil
		}
		if origin, ok := current.access[name]; ok {
			owner, err := d.resolve(origin)
			if err != nil {
				return nil, err
			}
			return owner, nil
		}
	}
	return nil, fmt.Errorf("database: entry %q seen from %q: %w", name, assumedPath, ErrNotFound)
}

// GetValue returns the value of the first entry named name visible from
// assumedPath.
func (d *Database) GetValue(assumedPath, name string) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, err := d.findOwner(assumedPath, name)
	if err != nil {
		return nil, err
	}
	if d.running {
		index, ok := d.indexes[owner.path()+"/"+name]
		if !ok {
			return nil, fmt.Errorf("database: entry %q in %q: %w", name, owner.path(), ErrNotFound)
		}
		return d.flat[index], nil
	}
	return owner.data[name], nil
}

// GetEntriesIndexes resolves the flat indexes of the given entry names as
// visible from assumedPath. It is only meaningful in running mode.
func (d *Database) GetEntriesIndexes(assumedPath string, names []string) (map[string]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil, errors.New("database: indexes are only available while running")
	}
	result := make(map[string]int, len(names))
	for _, name := range names {
		owner, err := d.findOwner(assumedPath, name)
		if err != nil {
			return nil, err
		}
		index, ok := d.indexes[owner.path()+"/"+name]
		if !ok {
			return nil, fmt.Errorf("database: entry %q in %q: %w", name, owner.path(), ErrNotFound)
		}
		result[name] = index
	}
	return result, nil
}

// GetValuesByIndex reads flat values previously resolved with
// GetEntriesIndexes.
func (d *Database) GetValuesByIndex(indexes []int) []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	values := make([]any, len(indexes))
	for i, index := range indexes {
		values[i] = d.flat[index]
	}
	return values
}

// RenameValues renames entries of a node; old and new must have the same
// length. Access exceptions referring to the renamed entries follow the new
// names.
func (d *Database) RenameValues(nodePath string, old, new []string) error {
	if len(old) != len(new) {
		return errors.New("database: rename lists differ in length")
	}
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrRunning
	}
	n, err := d.resolve(nodePath)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	for i, name := range old {
		if _, ok := n.data[name]; !ok {
			d.mu.Unlock()
			return fmt.Errorf("database: entry %q in %q: %w", name, nodePath, ErrNotFound)
		}
		n.data[new[i]] = n.data[name]
		delete(n.data, name)
		d.rewriteAccess(d.root, nodePath, name, new[i])
	}
	d.mu.Unlock()
	for i, name := range old {
		d.notify(Change{Kind: EntryRenamed, Path: nodePath, Name: name, NewName: new[i]})
	}
	return nil
}

// rewriteAccess renames access exception keys pointing at entry name of the
// node at ownerPath. Caller holds d.mu.
func (d *Database) rewriteAccess(n *node, ownerPath, old, new string) {
	if origin, ok := n.access[old]; ok && origin == ownerPath {
		delete(n.access, old)
		n.access[new] = origin
	}
	for _, child := range n.children {
		d.rewriteAccess(child, ownerPath, old, new)
	}
}

// DeleteValue removes an entry from a node.
func (d *Database) DeleteValue(nodePath, name string) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrRunning
	}
	n, err := d.resolve(nodePath)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if _, ok := n.data[name]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("database: entry %q in %q: %w", name, nodePath, ErrNotFound)
	}
	delete(n.data, name)
	d.mu.Unlock()
	d.notify(Change{Kind: EntryRemoved, Path: nodePath, Name: name})
	return nil
}

// ListAccessibleEntries returns the sorted names of all entries visible from
// the given node: its own entries, inherited ones up to the root and access
// exceptions found along the way.
func (d *Database) ListAccessibleEntries(nodePath string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(nodePath)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for current := n; current != nil; current = current.parent {
		for name := range current.data {
			seen[name] = true
		}
		for name := range current.access {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ListAllEntries returns the sorted full paths of every entry in the subtree
// rooted at path.
func (d *Database) ListAllEntries(path string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	var walk func(n *node)
	walk = func(n *node) {
		prefix := n.path()
		for name := range n.data {
			paths = append(paths, prefix+"/"+name)
		}
		for _, child := range n.children {
			walk(child)
		}
	}
	walk(n)
	sort.Strings(paths)
	return paths, nil
}

// CopyNodeValues returns a shallow copy of the entries stored directly on a
// node.
func (d *Database) CopyNodeValues(nodePath string) (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(nodePath)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(n.data))
	for name, value := range n.data {
		values[name] = value
	}
	return values, nil
}

// CreateNode adds an empty child node under parentPath.
func (d *Database) CreateNode(parentPath, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	parent, err := d.resolve(parentPath)
	if err != nil {
		return err
	}
	if _, exists := parent.children[name]; exists {
		return fmt.Errorf("database: node %q already exists under %q", name, parentPath)
	}
	parent.children[name] = newNode(name, parent)
	return nil
}

// RenameNode renames a child node and rewrites every access exception
// pointing into the renamed subtree.
func (d *Database) RenameNode(parentPath, old, new string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	parent, err := d.resolve(parentPath)
	if err != nil {
		return err
	}
	child, ok := parent.children[old]
	if !ok {
		return fmt.Errorf("database: node %q under %q: %w", old, parentPath, ErrNotFound)
	}
	if _, exists := parent.children[new]; exists {
		return fmt.Errorf("database: node %q already exists under %q", new, parentPath)
	}
	oldPrefix := child.path()
	delete(parent.children, old)
	child.name = new
	parent.children[new] = child
	newPrefix := child.path()
	d.rewriteAccessPrefix(d.root, oldPrefix, newPrefix)
	return nil
}

// rewriteAccessPrefix updates access exception origins after a node moved
// from oldPrefix to newPrefix. Caller holds d.mu.
func (d *Database) rewriteAccessPrefix(n *node, oldPrefix, newPrefix string) {
	for name, origin := range n.access {
		if origin == oldPrefix || strings.HasPrefix(origin, oldPrefix+"/") {
			n.access[name] = newPrefix + strings.TrimPrefix(origin, oldPrefix)
		}
	}
	for _, child := range n.children {
		d.rewriteAccessPrefix(child, oldPrefix, newPrefix)
	}
}

// DeleteNode removes a child node and every access exception pointing into
// its subtree.
func (d *Database) DeleteNode(parentPath, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	parent, err := d.resolve(parentPath)
	if err != nil {
		return err
	}
	child, ok := parent.children[name]
	if !ok {
		return fmt.Errorf("database: node %q under %q: %w", name, parentPath, ErrNotFound)
	}
	prefix := child.path()
	delete(parent.children, name)
	d.dropAccessPrefix(d.root, prefix)
	return nil
}

func (d *Database) dropAccessPrefix(n *node, prefix string) {
	for name, origin := range n.access {
		if origin == prefix || strings.HasPrefix(origin, prefix+"/") {
			delete(n.access, name)
		}
	}
	for _, child := range n.children {
		d.dropAccessPrefix(child, prefix)
	}
}

// AddAccessException makes the entry owned by the node at ownerPath visible
// from lookupPath under its own name. ownerPath must lie in the subtree of
// lookupPath.
func (d *Database) AddAccessException(lookupPath, ownerPath, entry string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	n, err := d.resolve(lookupPath)
	if err != nil {
		return err
	}
	owner, err := d.resolve(ownerPath)
	if err != nil {
		return err
	}
	if _, ok := owner.data[entry]; !ok {
		return fmt.Errorf("database: entry %q in %q: %w", entry, ownerPath, ErrNotFound)
	}
	if ownerPath != lookupPath && !strings.HasPrefix(ownerPath, lookupPath+"/") {
		return fmt.Errorf("database: %q is not below %q", ownerPath, lookupPath)
	}
	n.access[entry] = ownerPath
	return nil
}

// RemoveAccessException removes an access exception from the node at
// lookupPath. With an empty entry it removes them all.
func (d *Database) RemoveAccessException(lookupPath, entry string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	n, err := d.resolve(lookupPath)
	if err != nil {
		return err
	}
	if entry == "" {
		n.access = map[string]string{}
		return nil
	}
	delete(n.access, entry)
	return nil
}

// PrepareToRun flattens the database into an indexed slice and freezes its
// layout. After this call only value reads and writes are permitted until
// StopRunning.
func (d *Database) PrepareToRun() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.indexes = map[string]int{}
	d.flat = d.flat[:0]
	var walk func(n *node)
	walk = func(n *node) {
		prefix := n.path()
		names := make([]string, 0, len(n.data))
		for name := range n.data {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			d.indexes[prefix+"/"+name] = len(d.flat)
			d.flat = append(d.flat, n.data[name])
		}
		children := make([]string, 0, len(n.children))
		for name := range n.children {
			children = append(children, name)
		}
		sort.Strings(children)
		for _, name := range children {
			walk(n.children[name])
		}
	}
	walk(d.root)
	d.running = true
}

// StopRunning copies execution results back into the node tree and unfreezes
// the layout.
func (d *Database) StopRunning() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	var walk func(n *node)
	walk = func(n *node) {
		prefix := n.path()
		for name := range n.data {
			if index, ok := d.indexes[prefix+"/"+name]; ok {
				n.data[name] = d.flat[index]
			}
		}
		for _, child := range n.children {
			walk(child)
		}
	}
	walk(d.root)
	d.running = false
}
