package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/metrics"
	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	// MaxEntries is the registry ceiling enforced on every create.
	MaxEntries      int
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.MaxEntries == 0 {
		c.MaxEntries = storage.DefaultMaxEntries
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max entries can't be negative")
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

type record struct {
	task model.Task
	seq  uint64
}

// Repository is an in-memory implementation of storage.TaskRepository.
type Repository struct {
	tasks      map[string]record
	seq        uint64
	maxEntries int
	metrics    metrics.Recorder
	mu         sync.RWMutex
	logger     log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:      make(map[string]record),
		maxEntries: cfg.MaxEntries,
		metrics:    cfg.MetricsRecorder,
		logger:     cfg.Logger,
	}, nil
}

// CreateTask stores a new task and evicts the oldest ones over the ceiling.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task with id %s: %w", t.ID, model.ErrAlreadyExists)
	}

	r.seq++
	r.tasks[t.ID] = record{task: t, seq: r.seq}
	r.logger.Debugf("Created task in repository: %s", t.ID)

	r.trim(ctx, r.maxEntries)

	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	// Return a copy.
	taskCopy := rec.task
	return &taskCopy, nil
}

// UpdateTask moves a task to a new status.
func (r *Repository) UpdateTask(ctx context.Context, id string, status model.TaskStatus, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	t, err := rec.task.Apply(status, payload)
	if err != nil {
		return err
	}
	rec.task = t
	r.tasks[id] = rec
	r.logger.Debugf("Updated task %s to %s", id, status)

	return nil
}

// TrimTasks evicts the oldest tasks until at most maxEntries remain.
func (r *Repository) TrimTasks(ctx context.Context, maxEntries int) (int, error) {
	if maxEntries < 0 {
		return 0, fmt.Errorf("max entries can't be negative: %w", model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.trim(ctx, maxEntries), nil
}

func (r *Repository) trim(ctx context.Context, maxEntries int) int {
	extra := len(r.tasks) - maxEntries
	if extra <= 0 {
		return 0
	}

	for _, rec := range r.sorted()[:extra] {
		delete(r.tasks, rec.task.ID)
		r.logger.Infof("Removed task %s (%s)", rec.task.ID, rec.task.Status)
	}
	r.metrics.AddEvictedTasks(ctx, extra)

	return extra
}

// ListTasks returns the tasks ordered by creation, oldest first.
func (r *Repository) ListTasks(ctx context.Context, limit int) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.sorted()
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}

	tasks := make([]model.Task, 0, len(recs))
	for _, rec := range recs {
		tasks = append(tasks, rec.task)
	}

	return tasks, nil
}

// CountTasks returns the number of tasks.
func (r *Repository) CountTasks(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tasks), nil
}

// sorted returns the records oldest first, insertion order breaks creation time ties.
func (r *Repository) sorted() []record {
	recs := make([]record, 0, len(r.tasks))
	for _, rec := range r.tasks {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].task.CreatedAt.Equal(recs[j].task.CreatedAt) {
			return recs[i].seq < recs[j].seq
		}
		return recs[i].task.CreatedAt.Before(recs[j].task.CreatedAt)
	})
	return recs
}

var _ storage.TaskRepository = &Repository{}
