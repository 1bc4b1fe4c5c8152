// Package fs persists measure configurations as YAML files, one per measure
// id, so an interrupted session can be reloaded from disk.
package fs

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"

	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/service/dao"
	"github.com/veltis/measure/service/dao/criteria"
)

// Service implements a filesystem-based measure storage.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ dao.Service[string, measurement.Config] = (*Service)(nil)

// Save persists a measure configuration.
func (s *Service) Save(ctx context.Context, cfg *measurement.Config) error {
	if cfg == nil {
		return dao.ErrNilEntity
	}
	if cfg.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := measurement.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal measure: %w", err)
	}
	filePath := s.measurePath(cfg.ID)
	if err := s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save measure to file %s: %w", filePath, err)
	}
	return nil
}

// Load retrieves a measure configuration by id.
func (s *Service) Load(ctx context.Context, id string) (*measurement.Config, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.measurePath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if measure exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read measure file: %w", err)
	}
	cfg, err := measurement.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal measure data: %w", err)
	}
	return cfg, nil
}

// Delete removes a measure configuration.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.measurePath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if measure exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete measure file %s: %w", filePath, err)
	}
	return nil
}

// List returns stored measure configurations, optionally filtered by status.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*measurement.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list measure files: %w", err)
	}
	var configs []*measurement.Config
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".yaml") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		cfg, err := measurement.Unmarshal(data)
		if err != nil {
			continue
		}
		if !criteria.FilterByStatus(cfg.Status, parameters) {
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (s *Service) measurePath(id string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.yaml", id))
}

// New creates a filesystem measure storage rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fs := afs.New()
	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	basePath = url.Normalize(basePath, file.Scheme)
	return &Service{basePath: basePath, fs: fs}, nil
}
