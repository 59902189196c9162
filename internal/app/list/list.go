package list

import (
	"context"
	"fmt"
	"slices"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/storage"
)

// DefaultLimit is the number of tasks listed when no limit is requested.
const DefaultLimit = 10

// Task fields that can be selected.
const (
	FieldStatus    = "status"
	FieldResult    = "result"
	FieldError     = "error"
	FieldCreatedAt = "created_at"
	FieldInputPath = "input_path"
)

// Fields are all the selectable task fields.
var Fields = []string{FieldStatus, FieldResult, FieldError, FieldCreatedAt, FieldInputPath}

// ServiceConfig is the configuration for the list service.
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

// Service lists tasks with optional filtering.
type Service struct {
	repo   storage.TaskRepository
	logger log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// Limit is the maximum number of tasks, oldest first. 0 uses DefaultLimit and a
	// negative one lists all of them.
	Limit int
	// Fields selects the task fields to return, empty returns all of them.
	Fields []string
	// StatusFilter is an optional filter to only show tasks with this status.
	StatusFilter *model.TaskStatus
}

// Response is the list result.
type Response struct {
	// Tasks are ordered by creation, oldest first.
	Tasks []model.Task
	// Fields are the selected task fields.
	Fields []string
}

// Run lists the tasks.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	s.logger.Debugf("listing tasks with limit %d and filter: %v", req.Limit, req.StatusFilter)

	fields, err := selectFields(req.Fields)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	// The filter is applied before the limit.
	repoLimit := limit
	if req.StatusFilter != nil {
		repoLimit = 0
	}

	tasks, err := s.repo.ListTasks(ctx, repoLimit)
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}

	if req.StatusFilter != nil {
		filtered := make([]model.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.Status == *req.StatusFilter {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}

	s.logger.Debugf("found %d tasks", len(tasks))
	return &Response{Tasks: tasks, Fields: fields}, nil
}

// Size returns the number of tasks in the registry.
func (s *Service) Size(ctx context.Context) (int, error) {
	n, err := s.repo.CountTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not count tasks: %w", err)
	}
	return n, nil
}

func selectFields(fields []string) ([]string, error) {
	if len(fields) == 0 {
		return Fields, nil
	}

	selected := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(Fields, f) {
			return nil, fmt.Errorf("unknown task field %q: %w", f, model.ErrNotValid)
		}
		if !slices.Contains(selected, f) {
			selected = append(selected, f)
		}
	}

	return selected, nil
}
