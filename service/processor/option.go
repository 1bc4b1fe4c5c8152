package processor

import (
	"go.uber.org/zap"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/service/dao"
	"github.com/veltis/measure/service/engine"
)

// Option configures the processor service.
type Option func(*Service)

// WithEngine sets the execution engine. Required.
func WithEngine(e engine.Engine) Option {
	return func(s *Service) {
		s.engine = e
	}
}

// WithMeasureDAO sets the store measure snapshots are saved to before and
// after execution. Optional; without it nothing is persisted.
func WithMeasureDAO(measureDAO dao.Service[string, measurement.Config]) Option {
	return func(s *Service) {
		s.measureDAO = measureDAO
	}
}

// WithLogger sets the processor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithConfig sets the configuration for the service.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
