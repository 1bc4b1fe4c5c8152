// Package memory keeps measure configurations in process memory, mainly for
// tests and short-lived sessions.
package memory

import (
	"context"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/service/dao"
	"github.com/veltis/measure/service/dao/criteria"
	"github.com/veltis/measure/service/dao/store"
)

// Service implements an in-memory, thread-safe measure storage.
type Service struct {
	*store.MemoryStore[string, measurement.Config]
}

var _ dao.Service[string, measurement.Config] = (*Service)(nil)

// Save stores a measure configuration.
func (s *Service) Save(ctx context.Context, cfg *measurement.Config) error {
	if cfg == nil {
		return dao.ErrNilEntity
	}
	if cfg.ID == "" {
		return dao.ErrInvalidID
	}
	return s.MemoryStore.Save(ctx, cfg)
}

// List returns stored configurations, optionally filtered by status.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*measurement.Config, error) {
	all, err := s.MemoryStore.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*measurement.Config, 0, len(all))
	for _, cfg := range all {
		if !criteria.FilterByStatus(cfg.Status, parameters) {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// New creates an in-memory measure storage.
func New() *Service {
	return &Service{MemoryStore: store.NewMemoryStore[string, measurement.Config](
		func(cfg *measurement.Config) string { return cfg.ID })}
}
