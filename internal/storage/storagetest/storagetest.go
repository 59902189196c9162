// Package storagetest has the behaviour tests every storage.TaskRepository
// implementation must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/storage"
)

// NewRepository returns a fresh repository with a max entries ceiling.
type NewRepository func(t *testing.T, maxEntries int) storage.TaskRepository

var baseTime = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

func testTask(i int) model.Task {
	return model.Task{
		ID:        fmt.Sprintf("task-%02d", i),
		CreatedAt: baseTime.Add(time.Duration(i) * time.Second),
		Status:    model.TaskStatusPending,
		InputPath: fmt.Sprintf("/uploads/%02d.wav", i),
	}
}

func ids(tasks []model.Task) []string {
	out := []string{}
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

// RunTaskRepositoryTests runs the task repository behaviour tests.
func RunTaskRepositoryTests(t *testing.T, newRepo NewRepository) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, newRepo) })
	t.Run("Eviction", func(t *testing.T) { testEviction(t, newRepo) })
	t.Run("Transitions", func(t *testing.T) { testTransitions(t, newRepo) })
	t.Run("List", func(t *testing.T) { testList(t, newRepo) })
	t.Run("ConcurrentCreates", func(t *testing.T) { testConcurrentCreates(t, newRepo) })
}

func testCRUD(t *testing.T, newRepo NewRepository) {
	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, repo storage.TaskRepository) error
		expErr  error
	}{
		"Creating a task should be retrievable.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.TaskRepository) error {
				require.NoError(t, repo.CreateTask(ctx, testTask(1)))

				got, err := repo.GetTask(ctx, "task-01")
				require.NoError(t, err)
				exp := testTask(1)
				assert.Equal(t, exp.ID, got.ID)
				assert.True(t, exp.CreatedAt.Equal(got.CreatedAt))
				assert.Equal(t, model.TaskStatusPending, got.Status)
				assert.Equal(t, exp.InputPath, got.InputPath)
				return nil
			},
		},
		"Creating a duplicated task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.TaskRepository) error {
				require.NoError(t, repo.CreateTask(ctx, testTask(1)))
				return repo.CreateTask(ctx, testTask(1))
			},
			expErr: model.ErrAlreadyExists,
		},
		"Creating a task without timestamp should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.TaskRepository) error {
				task := testTask(1)
				task.CreatedAt = time.Time{}
				return repo.CreateTask(ctx, task)
			},
			expErr: model.ErrNotValid,
		},
		"Getting a missing task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.TaskRepository) error {
				_, err := repo.GetTask(ctx, "missing")
				return err
			},
			expErr: model.ErrNotFound,
		},
		"Updating a missing task should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.TaskRepository) error {
				return repo.UpdateTask(ctx, "missing", model.TaskStatusRunning, "")
			},
			expErr: model.ErrNotFound,
		},
		"Updating a task should store the result.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.TaskRepository) error {
				require.NoError(t, repo.CreateTask(ctx, testTask(1)))
				require.NoError(t, repo.UpdateTask(ctx, "task-01", model.TaskStatusRunning, ""))
				require.NoError(t, repo.UpdateTask(ctx, "task-01", model.TaskStatusFinished, "hello world"))

				got, err := repo.GetTask(ctx, "task-01")
				require.NoError(t, err)
				assert.Equal(t, model.TaskStatusFinished, got.Status)
				assert.Equal(t, "hello world", got.Result)
				assert.Empty(t, got.Error)
				return nil
			},
		},
		"Failing a task should store the error.": {
			actions: func(ctx context.Context, t *testing.T, repo storage.TaskRepository) error {
				require.NoError(t, repo.CreateTask(ctx, testTask(1)))
				require.NoError(t, repo.UpdateTask(ctx, "task-01", model.TaskStatusRunning, ""))
				require.NoError(t, repo.UpdateTask(ctx, "task-01", model.TaskStatusFailed, "engine failure: boom"))

				got, err := repo.GetTask(ctx, "task-01")
				require.NoError(t, err)
				assert.Equal(t, model.TaskStatusFailed, got.Status)
				assert.Equal(t, "engine failure: boom", got.Error)
				assert.Empty(t, got.Result)
				return nil
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := newRepo(t, 10)
			err := test.actions(context.Background(), t, repo)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func testEviction(t *testing.T, newRepo NewRepository) {
	tests := map[string]struct {
		maxEntries int
		create     []int
		update     map[string]model.TaskStatus
		expIDs     []string
	}{
		"Creating under the ceiling should not evict.": {
			maxEntries: 3,
			create:     []int{1, 2, 3},
			expIDs:     []string{"task-01", "task-02", "task-03"},
		},
		"Creating over the ceiling should evict the oldest.": {
			maxEntries: 3,
			create:     []int{1, 2, 3, 4, 5},
			expIDs:     []string{"task-03", "task-04", "task-05"},
		},
		"Eviction should use the creation time, not the insertion order.": {
			maxEntries: 2,
			create:     []int{5, 1, 3},
			expIDs:     []string{"task-03", "task-05"},
		},
		"Eviction should not care about the status.": {
			maxEntries: 2,
			create:     []int{1, 2},
			update:     map[string]model.TaskStatus{"task-01": model.TaskStatusRunning},
			expIDs:     []string{"task-02", "task-03"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()
			repo := newRepo(t, test.maxEntries)

			for _, i := range test.create {
				require.NoError(repo.CreateTask(ctx, testTask(i)))
				n, err := repo.CountTasks(ctx)
				require.NoError(err)
				require.LessOrEqual(n, test.maxEntries)
			}
			for id, st := range test.update {
				require.NoError(repo.UpdateTask(ctx, id, st, ""))
			}
			if len(test.update) > 0 {
				require.NoError(repo.CreateTask(ctx, testTask(3)))
			}

			tasks, err := repo.ListTasks(ctx, 0)
			require.NoError(err)
			assert.Equal(t, test.expIDs, ids(tasks))
		})
	}

	t.Run("Explicit trims should evict the oldest.", func(t *testing.T) {
		require := require.New(t)
		ctx := context.Background()
		repo := newRepo(t, 10)
		for i := 1; i <= 5; i++ {
			require.NoError(repo.CreateTask(ctx, testTask(i)))
		}

		n, err := repo.TrimTasks(ctx, 2)
		require.NoError(err)
		assert.Equal(t, 3, n)

		n, err = repo.TrimTasks(ctx, 2)
		require.NoError(err)
		assert.Equal(t, 0, n)

		tasks, err := repo.ListTasks(ctx, 0)
		require.NoError(err)
		assert.Equal(t, []string{"task-04", "task-05"}, ids(tasks))
	})
}

func testTransitions(t *testing.T, newRepo NewRepository) {
	tests := map[string]struct {
		steps  []model.TaskStatus
		expErr bool
	}{
		"Pending to running to finished should work.": {
			steps: []model.TaskStatus{model.TaskStatusRunning, model.TaskStatusFinished},
		},
		"Pending to running to failed should work.": {
			steps: []model.TaskStatus{model.TaskStatusRunning, model.TaskStatusFailed},
		},
		"Pending to finished should fail.": {
			steps:  []model.TaskStatus{model.TaskStatusFinished},
			expErr: true,
		},
		"Finished to running should fail.": {
			steps:  []model.TaskStatus{model.TaskStatusRunning, model.TaskStatusFinished, model.TaskStatusRunning},
			expErr: true,
		},
		"Failed to finished should fail.": {
			steps:  []model.TaskStatus{model.TaskStatusRunning, model.TaskStatusFailed, model.TaskStatusFinished},
			expErr: true,
		},
		"Running twice should fail.": {
			steps:  []model.TaskStatus{model.TaskStatusRunning, model.TaskStatusRunning},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t, 10)
			require.NoError(t, repo.CreateTask(ctx, testTask(1)))

			var err error
			last := model.TaskStatusPending
			for _, st := range test.steps {
				if err = repo.UpdateTask(ctx, "task-01", st, "x"); err != nil {
					break
				}
				last = st
			}

			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
			} else {
				assert.NoError(t, err)
			}

			// The stored status never regresses.
			got, gerr := repo.GetTask(ctx, "task-01")
			require.NoError(t, gerr)
			assert.Equal(t, last, got.Status)
		})
	}
}

func testList(t *testing.T, newRepo NewRepository) {
	tests := map[string]struct {
		limit  int
		expIDs []string
	}{
		"No limit should return all ordered by creation.": {
			limit:  0,
			expIDs: []string{"task-01", "task-02", "task-03", "task-04"},
		},
		"A limit should return the oldest.": {
			limit:  2,
			expIDs: []string{"task-01", "task-02"},
		},
		"A limit bigger than the tasks should return all.": {
			limit:  20,
			expIDs: []string{"task-01", "task-02", "task-03", "task-04"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t, 10)
			for _, i := range []int{3, 1, 4, 2} {
				require.NoError(t, repo.CreateTask(ctx, testTask(i)))
			}

			tasks, err := repo.ListTasks(ctx, test.limit)
			require.NoError(t, err)
			assert.Equal(t, test.expIDs, ids(tasks))
		})
	}
}

func testConcurrentCreates(t *testing.T, newRepo NewRepository) {
	ctx := context.Background()
	repo := newRepo(t, 5)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.CreateTask(ctx, testTask(i)))
		}(i)
	}
	wg.Wait()

	n, err := repo.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	tasks, err := repo.ListTasks(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-25", "task-26", "task-27", "task-28", "task-29"}, ids(tasks))
}
