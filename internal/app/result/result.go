package result

import (
	"context"
	"fmt"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/storage"
)

// ServiceConfig is the configuration for the result service.
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

// Service retrieves the transcription of finished tasks.
type Service struct {
	repo   storage.TaskRepository
	logger log.Logger
}

// NewService creates a new result service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the result request parameters.
type Request struct {
	TaskID string
}

// FailedError is returned when the task failed, it has the task error message.
type FailedError struct {
	TaskID  string
	Message string
}

func (e *FailedError) Error() string { return e.Message }

// Is makes the error match model.ErrTaskFailed.
func (e *FailedError) Is(target error) bool { return target == model.ErrTaskFailed }

// Run returns the transcribed text of a finished task. Failed tasks return a
// *FailedError, unfinished ones model.ErrNotReady and unknown ones model.ErrNotFound.
func (s *Service) Run(ctx context.Context, req Request) (string, error) {
	s.logger.Debugf("getting result for task: %s", req.TaskID)

	if req.TaskID == "" {
		return "", fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	task, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return "", fmt.Errorf("could not get task: %w", err)
	}

	switch task.Status {
	case model.TaskStatusFinished:
		return task.Result, nil
	case model.TaskStatusFailed:
		return "", &FailedError{TaskID: task.ID, Message: task.Error}
	default:
		return "", fmt.Errorf("task %s is %s: %w", task.ID, task.Status, model.ErrNotReady)
	}
}
