package measure

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/model/task"
	"github.com/veltis/measure/service/dao"
	measurefs "github.com/veltis/measure/service/dao/measure/fs"
	measurememory "github.com/veltis/measure/service/dao/measure/memory"
	"github.com/veltis/measure/service/engine"
	"github.com/veltis/measure/service/processor"
)

// Service is the high-level façade wiring the task registry, the execution
// engine, the measure store and the processor together.
type Service struct {
	config     *Config
	logger     *zap.Logger
	registry   *task.Registry
	resolver   measurement.Resolver
	engine     engine.Engine
	measureDAO dao.Service[string, measurement.Config]
	processor  *processor.Service
}

func (s *Service) init(options []Option) error {
	for _, option := range options {
		option(s)
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if err := s.ensureBaseSetup(); err != nil {
		return err
	}
	proc, err := processor.New(
		processor.WithEngine(s.engine),
		processor.WithMeasureDAO(s.measureDAO),
		processor.WithLogger(s.logger),
		processor.WithConfig(s.config.Processor))
	if err != nil {
		return err
	}
	s.processor = proc
	return nil
}

func (s *Service) ensureBaseSetup() error {
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.registry == nil {
		s.registry = task.NewRegistry()
	}
	if s.engine == nil {
		if s.config.WorkerPath != "" {
			s.engine = engine.NewExec(s.config.WorkerPath, engine.WithLogger(s.logger))
		} else {
			s.engine = engine.NewInProcess(s.registry, engine.WithLogger(s.logger))
		}
	}
	if s.measureDAO == nil {
		if s.config.StoragePath != "" {
			store, err := measurefs.New(s.config.StoragePath)
			if err != nil {
				return err
			}
			s.measureDAO = store
		} else {
			s.measureDAO = measurememory.New()
		}
	}
	return nil
}

// New creates a measurement service.
func New(options ...Option) (*Service, error) {
	ret := &Service{config: DefaultConfig()}
	if err := ret.init(options); err != nil {
		return nil, err
	}
	return ret, nil
}

// Registry returns the task type registry, so hosts can register custom
// task types before building measures.
func (s *Service) Registry() *task.Registry {
	return s.registry
}

// Engine returns the execution engine.
func (s *Service) Engine() engine.Engine {
	return s.engine
}

// Processor returns the measure processor.
func (s *Service) Processor() *processor.Service {
	return s.processor
}

// MeasureDAO returns the measure store.
func (s *Service) MeasureDAO() dao.Service[string, measurement.Config] {
	return s.measureDAO
}

// Run starts processing the given measure; continuous decides whether queued
// measures run afterwards. The call returns once the worker started.
func (s *Service) Run(ctx context.Context, m *measurement.Measure, continuous bool) error {
	ensureChecksHook(m)
	return s.processor.StartMeasure(ctx, m, continuous)
}

// Enqueue adds a measure to the processing queue.
func (s *Service) Enqueue(m *measurement.Measure) {
	ensureChecksHook(m)
	s.processor.Enqueue(m)
}

// ensureChecksHook prepends the internal checks pre-hook so every measure
// entering the run path gets validated before its main execution.
func ensureChecksHook(m *measurement.Measure) {
	for _, entry := range m.PreHooks {
		if entry.ID == measurement.ChecksHookID {
			return
		}
	}
	m.PreHooks = append([]measurement.HookEntry{
		{ID: measurement.ChecksHookID, Hook: measurement.NewChecksHook()},
	}, m.PreHooks...)
}

// LoadMeasure rebuilds a stored measure by id.
func (s *Service) LoadMeasure(ctx context.Context, id string) (*measurement.Measure, error) {
	cfg, err := s.measureDAO.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load measure %s: %w", id, err)
	}
	return measurement.Load(cfg, s.registry, s.resolver)
}

// Join waits for the processing worker to finish.
func (s *Service) Join(timeout time.Duration) bool {
	return s.processor.Join(timeout)
}

// Shutdown stops processing and releases the engine worker.
func (s *Service) Shutdown(force bool) {
	s.processor.StopProcessing(force)
	s.processor.Join(30 * time.Second)
	s.engine.Shutdown(force)
}

// NewFileStore returns a measure store persisting YAML snapshots under
// basePath, for use with WithMeasureDAO.
func NewFileStore(basePath string) (dao.Service[string, measurement.Config], error) {
	return measurefs.New(basePath)
}
