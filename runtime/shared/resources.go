package shared

import (
	"io"
	"sort"
	"sync"
)

// Resource is a shared resource owned by a task tree root. Resources are
// released once the tree stops executing, in ascending Priority order, and
// reset when a paused tree is about to resume.
type Resource interface {
	Priority() int
	Release()
	Reset()
}

// Registry holds the shared resources of one task tree execution.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Resource
}

// NewRegistry returns an empty resource registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]Resource{}}
}

// Register stores a resource under the given id, replacing any previous one.
func (r *Registry) Register(id string, res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = res
}

// Get returns the resource registered under id.
func (r *Registry) Get(id string) (Resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.entries[id]
	return res, ok
}

func (r *Registry) ordered() []Resource {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	resources := make([]Resource, 0, len(ids))
	for _, id := range ids {
		resources = append(resources, r.entries[id])
	}
	r.mu.Unlock()
	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].Priority() < resources[j].Priority()
	})
	return resources
}

// ReleaseAll releases every resource in ascending priority order. Resources
// with equal priority are released in id order.
func (r *Registry) ReleaseAll() {
	for _, res := range r.ordered() {
		res.Release()
	}
}

// ResetAll resets every resource in ascending priority order.
func (r *Registry) ResetAll() {
	for _, res := range r.ordered() {
		res.Reset()
	}
}

// PoolResource exposes a Pools registry as a releasable resource. Releasing
// joins every outstanding handle; it carries the lowest priority so pending
// concurrent work drains before other resources are torn down.
type PoolResource struct {
	Pools *Pools
}

func (p *PoolResource) Priority() int { return 0 }

func (p *PoolResource) Release() {
	p.Pools.JoinAll()
}

func (p *PoolResource) Reset() {}

// Instrument is the contract instrument drivers must honour so that the
// tree can bring them to a safe state on release and on resume.
type Instrument interface {
	Stop() error
	Reset() error
}

// InstrumentResource tracks open instrument connections by profile name.
type InstrumentResource struct {
	mu          sync.Mutex
	instruments map[string]Instrument
}

func NewInstrumentResource() *InstrumentResource {
	return &InstrumentResource{instruments: map[string]Instrument{}}
}

func (r *InstrumentResource) Priority() int { return 50 }

// Add registers an open instrument under the given profile name.
func (r *InstrumentResource) Add(profile string, instr Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments[profile] = instr
}

// Get returns the instrument registered under the given profile name.
func (r *InstrumentResource) Get(profile string) (Instrument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instr, ok := r.instruments[profile]
	return instr, ok
}

// Release stops every instrument and forgets it. Stop errors are ignored so
// a faulty driver cannot block the teardown of the remaining ones.
func (r *InstrumentResource) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for profile, instr := range r.instruments {
		_ = instr.Stop()
		delete(r.instruments, profile)
	}
}

// Reset brings every instrument back to a known state, keeping it open.
func (r *InstrumentResource) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, instr := range r.instruments {
		_ = instr.Reset()
	}
}

// FileResource tracks open files by path so they are closed once the tree
// stops executing.
type FileResource struct {
	mu    sync.Mutex
	files map[string]io.Closer
}

func NewFileResource() *FileResource {
	return &FileResource{files: map[string]io.Closer{}}
}

func (r *FileResource) Priority() int { return 100 }

// Add registers an open file under the given path, closing any file already
// registered there.
func (r *FileResource) Add(path string, f io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.files[path]; ok {
		_ = prev.Close()
	}
	r.files[path] = f
}

// Get returns the file registered under the given path.
func (r *FileResource) Get(path string) (io.Closer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[path]
	return f, ok
}

// Release closes every file and forgets it.
func (r *FileResource) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, f := range r.files {
		_ = f.Close()
		delete(r.files, path)
	}
}

func (r *FileResource) Reset() {}
