package status

import (
	"context"
	"fmt"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/storage"
)

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service retrieves task status.
type Service struct {
	repo   storage.TaskRepository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	TaskID string
}

// Run returns the task, model.ErrNotFound is returned for unknown or evicted tasks.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	s.logger.Debugf("getting status for task: %s", req.TaskID)

	if req.TaskID == "" {
		return nil, fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	task, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task status: %w", err)
	}

	return task, nil
}
