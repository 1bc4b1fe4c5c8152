package measure

import (
	"go.uber.org/zap"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/model/task"
	"github.com/veltis/measure/service/dao"
	"github.com/veltis/measure/service/engine"
	"github.com/veltis/measure/tracing"
)

// Option configures the service façade.
type Option func(s *Service)

// WithConfig sets the whole configuration at once.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithLogger sets the logger shared by the processor and the engine.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRegistry sets the task type registry.
func WithRegistry(registry *task.Registry) Option {
	return func(s *Service) { s.registry = registry }
}

// WithEngine sets a custom execution engine.
func WithEngine(e engine.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithWorkerPath makes the engine spawn the given worker binary instead of
// running the worker loop in-process.
func WithWorkerPath(path string) Option {
	return func(s *Service) { s.config.WorkerPath = path }
}

// WithMeasureDAO sets the measure store.
func WithMeasureDAO(store dao.Service[string, measurement.Config]) Option {
	return func(s *Service) { s.measureDAO = store }
}

// WithResolver sets the dependency resolver used when loading measures.
func WithResolver(resolver measurement.Resolver) Option {
	return func(s *Service) { s.resolver = resolver }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile
// is empty the stdout exporter is used; otherwise traces are written to the
// supplied file path. The function is safe to call multiple times – the first
// successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}
