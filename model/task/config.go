package task

import (
	"fmt"
	"reflect"

	"github.com/viant/x"
	"gopkg.in/yaml.v3"
)

// Config is the serializable form of a task subtree. Children are persisted
// in list order so a reloaded tree keeps the edited ordering.
type Config struct {
	TypeID    string            `yaml:"task_id" json:"task_id"`
	Name      string            `yaml:"name" json:"name"`
	Stoppable bool              `yaml:"stoppable" json:"stoppable"`
	Parallel  ParallelSettings  `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Wait      WaitSettings      `yaml:"wait,omitempty" json:"wait,omitempty"`
	AccessExs map[string]int    `yaml:"access_exs,omitempty" json:"access_exs,omitempty"`
	Params    map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	Children  []*Config         `yaml:"children,omitempty" json:"children,omitempty"`
}

// SaveConfig captures the current state of a task subtree.
func SaveConfig(t Task) *Config {
	b := t.Base()
	cfg := &Config{
		TypeID:    t.TypeID(),
		Name:      t.Name(),
		Stoppable: b.Stoppable,
		Parallel:  b.Parallel,
		Wait:      b.Wait,
	}
	if len(b.AccessExs) > 0 {
		cfg.AccessExs = make(map[string]int, len(b.AccessExs))
		for k, v := range b.AccessExs {
			cfg.AccessExs[k] = v
		}
	}
	for _, field := range t.Fields() {
		if field.Get == nil {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[field.Name] = field.Get()
	}
	for _, child := range t.Children() {
		cfg.Children = append(cfg.Children, SaveConfig(child))
	}
	return cfg
}

// MarshalConfig renders a config as YAML.
func MarshalConfig(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// UnmarshalConfig parses a YAML config.
func UnmarshalConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("task: parse config: %w", err)
	}
	return cfg, nil
}

// defaulter lets concrete tasks restore their constructor defaults when they
// are built reflectively by the registry.
type defaulter interface {
	setDefaults()
}

// Registry catalogues the known task types by id.
type Registry struct {
	types *x.Registry
}

// NewRegistry returns a registry holding the built-in task types.
func NewRegistry() *Registry {
	r := &Registry{types: x.NewRegistry()}
	r.Register(LogTaskID, &LogTask{})
	r.Register(SleepTaskID, &SleepTask{})
	r.Register(FormulaTaskID, &FormulaTask{})
	r.Register(ConditionalTaskID, &ConditionalTask{})
	r.Register(LoopTaskID, &LoopTask{})
	return r
}

// Register adds a task type under the given id. The prototype must be a
// pointer to the concrete struct.
func (r *Registry) Register(typeID string, prototype Task) {
	r.types.Register(x.NewType(reflect.TypeOf(prototype).Elem(), x.WithName(typeID)))
}

// New instantiates a registered task type.
func (r *Registry) New(typeID, name string) (Task, error) {
	xt := r.types.Lookup(typeID)
	if xt == nil {
		return nil, fmt.Errorf("task: unknown task type %q", typeID)
	}
	value, ok := reflect.New(xt.Type).Interface().(Task)
	if !ok {
		return nil, fmt.Errorf("task: type %q is not a task", typeID)
	}
	Init(value, name, typeID)
	if d, ok := value.(defaulter); ok {
		d.setDefaults()
	}
	return value, nil
}

// Build recreates a task subtree from its config. A RootTask config yields a
// live tree with a fresh database.
func (r *Registry) Build(cfg *Config) (Task, error) {
	var t Task
	if cfg.TypeID == RootTaskID {
		root := NewRootTask()
		if cfg.Name != "" {
			root.name = cfg.Name
		}
		t = root
	} else {
		var err error
		if t, err = r.New(cfg.TypeID, cfg.Name); err != nil {
			return nil, err
		}
	}
	b := t.Base()
	b.Stoppable = cfg.Stoppable
	b.Parallel = cfg.Parallel
	b.Wait = cfg.Wait
	for entry, level := range cfg.AccessExs {
		b.AccessExs[entry] = level
	}
	for _, field := range t.Fields() {
		if field.Set == nil {
			continue
		}
		if v, ok := cfg.Params[field.Name]; ok {
			field.Set(v)
		}
	}
	for _, childCfg := range cfg.Children {
		child, err := r.Build(childCfg)
		if err != nil {
			return nil, err
		}
		owner, ok := t.(interface{ AppendChild(Task) error })
		if !ok {
			return nil, fmt.Errorf("task: type %q cannot hold children", cfg.TypeID)
		}
		if err := owner.AppendChild(child); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// BuildRoot recreates a full tree and fails when the config does not
// describe one.
func (r *Registry) BuildRoot(cfg *Config) (*RootTask, error) {
	t, err := r.Build(cfg)
	if err != nil {
		return nil, err
	}
	root, ok := t.(*RootTask)
	if !ok {
		return nil, fmt.Errorf("task: config root has type %q, not %q", cfg.TypeID, RootTaskID)
	}
	return root, nil
}
