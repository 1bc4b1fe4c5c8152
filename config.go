package measure

import (
	"fmt"

	"github.com/veltis/measure/service/processor"
)

// Config is a serialisable representation of the service configuration. It
// can be populated from JSON, YAML, environment variables, etc. The
// zero-value is useful – all nested fields inherit their package defaults.
type Config struct {
	Processor processor.Config `json:"processor" yaml:"processor"`

	// WorkerPath is the path of the worker binary. When empty the worker
	// loop runs in-process.
	WorkerPath string `json:"workerPath" yaml:"workerPath"`

	// StoragePath, when set, persists measure snapshots as YAML files
	// under this directory instead of keeping them in memory.
	StoragePath string `json:"storagePath" yaml:"storagePath"`
}

// DefaultConfig returns a Config populated with the package defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Processor: processor.DefaultConfig(),
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Processor.PollInterval < 0 {
		return fmt.Errorf("processor.pollInterval must be >= 0")
	}
	if c.Processor.EngineStopAttempts < 0 {
		return fmt.Errorf("processor.engineStopAttempts must be >= 0")
	}
	return nil
}
