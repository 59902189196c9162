package storage

import (
	"context"

	"github.com/slok/transcribeq/internal/model"
)

// DefaultMaxEntries is the default number of task records the registry keeps.
const DefaultMaxEntries = 10

// InterruptedReason is the error of the tasks a previous process left unfinished.
const InterruptedReason = "interrupted: process restarted"

// TaskRepository is the task registry. Implementations must keep the registry at
// most at their max entries after every create, evicting the oldest tasks by creation
// time regardless of their status.
type TaskRepository interface {
	// CreateTask stores a new task and evicts the oldest ones over the ceiling.
	CreateTask(ctx context.Context, t model.Task) error
	// GetTask returns a task or model.ErrNotFound.
	GetTask(ctx context.Context, id string) (*model.Task, error)
	// UpdateTask moves a task to a new status, payload is the result text for finished
	// tasks and the error message for failed ones. Non monotonic transitions fail with
	// model.ErrNotValid.
	UpdateTask(ctx context.Context, id string, status model.TaskStatus, payload string) error
	// TrimTasks evicts the oldest tasks until at most maxEntries remain and returns
	// the number of evicted tasks.
	TrimTasks(ctx context.Context, maxEntries int) (int, error)
	// ListTasks returns the tasks ordered by creation, oldest first. A limit <= 0
	// returns all of them.
	ListTasks(ctx context.Context, limit int) ([]model.Task, error)
	// CountTasks returns the number of tasks in the registry.
	CountTasks(ctx context.Context) (int, error)
}
