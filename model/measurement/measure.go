// Package measurement defines the measure: a task tree bundled with its
// dependencies, hooks and monitored entries, carrying a lifecycle status from
// edition to completion.
package measurement

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/veltis/measure/internal/idgen"
	"github.com/veltis/measure/model/task"
)

// Status is the lifecycle state of a measure.
type Status string

const (
	StatusReady       Status = "READY"
	StatusEditing     Status = "EDITING"
	StatusRunning     Status = "RUNNING"
	StatusPausing     Status = "PAUSING"
	StatusPaused      Status = "PAUSED"
	StatusResuming    Status = "RESUMING"
	StatusStopping    Status = "STOPPING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusSkipped     Status = "SKIPPED"
	StatusInterrupted Status = "INTERRUPTED"
)

// Terminal reports whether a status is an execution outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusInterrupted:
		return true
	}
	return false
}

// HookEntry pairs a hook with the id it reports under.
type HookEntry struct {
	ID   string
	Hook Hook
}

// Measure bundles a task tree with everything needed to run it.
type Measure struct {
	ID   string
	Name string

	Root         *task.RootTask
	Dependencies *Dependencies

	// PreHooks run before the main task in order; PostHooks after it,
	// even when it failed.
	PreHooks  []HookEntry
	PostHooks []HookEntry

	// Monitored lists the database entries monitors observe during
	// execution.
	Monitored []string

	// ForcedEnqueued marks a measure enqueued despite failing checks.
	ForcedEnqueued bool

	mu     sync.Mutex
	status Status
	infos  string
}

// New returns an editable measure owning a fresh root task.
func New(name string) *Measure {
	m := &Measure{
		ID:     idgen.New(),
		Name:   name,
		Root:   task.NewRootTask(),
		status: StatusEditing,
	}
	m.Root.MeasName = name
	m.Root.MeasID = m.ID
	return m
}

// Status returns the current status and its human readable details.
func (m *Measure) Status() (Status, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.infos
}

// SetStatus records a new status with optional details.
func (m *Measure) SetStatus(status Status, infos string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.infos = infos
}

// AddPreHook appends a pre-execution hook.
func (m *Measure) AddPreHook(id string, h Hook) {
	m.PreHooks = append(m.PreHooks, HookEntry{ID: id, Hook: h})
}

// AddPostHook appends a post-execution hook.
func (m *Measure) AddPostHook(id string, h Hook) {
	m.PostHooks = append(m.PostHooks, HookEntry{ID: id, Hook: h})
}

// Config is the persistable form of a measure.
type Config struct {
	ID        string       `yaml:"id" json:"id"`
	Name      string       `yaml:"name" json:"name"`
	Status    Status       `yaml:"status" json:"status"`
	Infos     string       `yaml:"infos,omitempty" json:"infos,omitempty"`
	Monitored []string     `yaml:"monitored,omitempty" json:"monitored,omitempty"`
	BuildIDs  []string     `yaml:"build_deps,omitempty" json:"build_deps,omitempty"`
	RunIDs    []string     `yaml:"runtime_deps,omitempty" json:"runtime_deps,omitempty"`
	Root      *task.Config `yaml:"root" json:"root"`
}

// Save captures the measure state for persistence.
func (m *Measure) Save() *Config {
	status, infos := m.Status()
	cfg := &Config{
		ID:        m.ID,
		Name:      m.Name,
		Status:    status,
		Infos:     infos,
		Monitored: append([]string(nil), m.Monitored...),
		Root:      task.SaveConfig(m.Root),
	}
	if m.Dependencies != nil {
		cfg.BuildIDs = append([]string(nil), m.Dependencies.BuildIDs...)
		cfg.RunIDs = append([]string(nil), m.Dependencies.RuntimeIDs...)
	}
	return cfg
}

// Load rebuilds a measure from its persisted form using the given task
// registry and dependency resolver.
func Load(cfg *Config, registry *task.Registry, resolver Resolver) (*Measure, error) {
	if cfg.Root == nil {
		return nil, fmt.Errorf("measurement: config %q has no root task", cfg.ID)
	}
	root, err := registry.BuildRoot(cfg.Root)
	if err != nil {
		return nil, err
	}
	m := &Measure{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Root:      root,
		Monitored: append([]string(nil), cfg.Monitored...),
		status:    cfg.Status,
		infos:     cfg.Infos,
	}
	if m.ID == "" {
		m.ID = idgen.New()
	}
	if m.status == "" {
		m.status = StatusEditing
	}
	m.Dependencies = NewDependencies(resolver, cfg.BuildIDs, cfg.RunIDs)
	return m, nil
}

// Marshal renders a measure config as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Unmarshal parses a YAML measure config.
func Unmarshal(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("measurement: parse config: %w", err)
	}
	return cfg, nil
}
