package measurement

import (
	"context"
	"sync"
)

// Resolver turns dependency ids into usable dependency values. Build
// dependencies are needed to reconstruct a task tree, runtime dependencies
// (instrument drivers, data stores) to execute it.
type Resolver interface {
	// Collect resolves the given ids. Ids that exist but cannot be
	// served right now (an instrument held by another user) come back in
	// unavailable; ids that failed outright come back in errs.
	Collect(ctx context.Context, ids []string) (deps map[string]any, unavailable []string, errs map[string]string)
	// Release returns previously collected dependencies.
	Release(ctx context.Context, deps map[string]any)
}

// Dependencies tracks the build and runtime dependencies of one measure.
type Dependencies struct {
	BuildIDs   []string
	RuntimeIDs []string

	resolver Resolver

	mu               sync.Mutex
	build            map[string]any
	runtime          map[string]any
	runtimeCollected bool
}

// NewDependencies returns a dependency holder using the given resolver,
// which may be nil when a measure has no external dependencies.
func NewDependencies(resolver Resolver, buildIDs, runtimeIDs []string) *Dependencies {
	return &Dependencies{
		resolver:   resolver,
		BuildIDs:   append([]string(nil), buildIDs...),
		RuntimeIDs: append([]string(nil), runtimeIDs...),
	}
}

// CollectBuild resolves the build dependencies; unavailable ids are treated
// as errors since edition cannot proceed without them.
func (d *Dependencies) CollectBuild(ctx context.Context) map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolver == nil || len(d.BuildIDs) == 0 {
		d.build = map[string]any{}
		return nil
	}
	deps, unavailable, errs := d.resolver.Collect(ctx, d.BuildIDs)
	if len(unavailable) > 0 {
		if errs == nil {
			errs = map[string]string{}
		}
		for _, id := range unavailable {
			errs[id] = "dependency is unavailable"
		}
	}
	if len(errs) > 0 {
		return errs
	}
	d.build = deps
	return nil
}

// CollectRuntimes resolves the runtime dependencies. It reports whether the
// measure can run now: unavailable dependencies make it skippable rather
// than failed, so they are returned separately from hard errors.
func (d *Dependencies) CollectRuntimes(ctx context.Context) (ok bool, unavailable []string, errs map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runtimeCollected {
		return true, nil, nil
	}
	if d.resolver == nil || len(d.RuntimeIDs) == 0 {
		d.runtime = map[string]any{}
		d.runtimeCollected = true
		return true, nil, nil
	}
	deps, unavailable, errs := d.resolver.Collect(ctx, d.RuntimeIDs)
	if len(errs) > 0 || len(unavailable) > 0 {
		if len(deps) > 0 {
			d.resolver.Release(ctx, deps)
		}
		return false, unavailable, errs
	}
	d.runtime = deps
	d.runtimeCollected = true
	return true, nil, nil
}

// ReleaseRuntimes returns the runtime dependencies to their owners.
func (d *Dependencies) ReleaseRuntimes(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.runtimeCollected {
		return
	}
	if d.resolver != nil && len(d.runtime) > 0 {
		d.resolver.Release(ctx, d.runtime)
	}
	d.runtime = nil
	d.runtimeCollected = false
}

// BuildDeps returns the collected build dependencies.
func (d *Dependencies) BuildDeps() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.build
}

// RuntimeDeps returns the collected runtime dependencies.
func (d *Dependencies) RuntimeDeps() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runtime
}
