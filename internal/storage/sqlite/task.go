package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slok/transcribeq/internal/model"
)

const taskColumns = `id, created_at, status, result, error, input_path`

// CreateTask stores a new task and evicts the oldest ones over the ceiling in the
// same transaction.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	var evicted int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO tasks (id, created_at, status, result, error, input_path)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query, t.ID, t.CreatedAt.UnixNano(), t.Status, t.Result, t.Error, t.InputPath)
		if err != nil {
			if isUniqueConstraintErr(err) {
				return fmt.Errorf("task with id %s: %w", t.ID, model.ErrAlreadyExists)
			}
			return fmt.Errorf("could not insert task: %w", err)
		}

		evicted, err = trimTx(ctx, tx, r.maxEntries)
		return err
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("Created task in repository: %s", t.ID)
	if evicted > 0 {
		r.metrics.AddEvictedTasks(ctx, evicted)
		r.logger.Infof("Removed %d oldest tasks", evicted)
	}

	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	return &t, nil
}

// UpdateTask moves a task to a new status.
func (r *Repository) UpdateTask(ctx context.Context, id string, status model.TaskStatus, payload string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
		current, err := scanTask(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
			}
			return fmt.Errorf("could not get task: %w", err)
		}

		updated, err := current.Apply(status, payload)
		if err != nil {
			return err
		}

		// Guard on the read status so concurrent writers can't regress it.
		update := `UPDATE tasks SET status = ?, result = ?, error = ? WHERE id = ? AND status = ?`
		res, err := tx.ExecContext(ctx, update, updated.Status, updated.Result, updated.Error, id, current.Status)
		if err != nil {
			return fmt.Errorf("could not update task: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("could not get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("task %s changed concurrently: %w", id, model.ErrNotValid)
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debugf("Updated task %s to %s", id, status)
	return nil
}

// TrimTasks evicts the oldest tasks until at most maxEntries remain.
func (r *Repository) TrimTasks(ctx context.Context, maxEntries int) (int, error) {
	if maxEntries < 0 {
		return 0, fmt.Errorf("max entries can't be negative: %w", model.ErrNotValid)
	}

	var evicted int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		evicted, err = trimTx(ctx, tx, maxEntries)
		return err
	})
	if err != nil {
		return 0, err
	}

	if evicted > 0 {
		r.metrics.AddEvictedTasks(ctx, evicted)
		r.logger.Infof("Removed %d oldest tasks", evicted)
	}

	return evicted, nil
}

func trimTx(ctx context.Context, tx *sql.Tx, maxEntries int) (int, error) {
	var count, corrupted int
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN created_at <= 0 THEN 1 ELSE 0 END), 0) FROM tasks`
	if err := tx.QueryRowContext(ctx, query).Scan(&count, &corrupted); err != nil {
		return 0, fmt.Errorf("could not count tasks: %w", err)
	}

	extra := count - maxEntries
	if extra <= 0 {
		return 0, nil
	}
	if corrupted > 0 {
		return 0, fmt.Errorf("%d tasks without creation timestamp: %w", corrupted, model.ErrNotValid)
	}

	del := `
		DELETE FROM tasks WHERE seq IN (
			SELECT seq FROM tasks ORDER BY created_at ASC, seq ASC LIMIT ?
		)
	`
	if _, err := tx.ExecContext(ctx, del, extra); err != nil {
		return 0, fmt.Errorf("could not delete tasks: %w", err)
	}

	return extra, nil
}

// FailUnfinishedTasks marks every pending or running task as failed with reason as
// their error. Jobs don't survive a process restart, so the tasks left unfinished by a
// previous process would never end otherwise.
func (r *Repository) FailUnfinishedTasks(ctx context.Context, reason string) (int, error) {
	if reason == "" {
		return 0, fmt.Errorf("reason is required: %w", model.ErrNotValid)
	}

	query := `UPDATE tasks SET status = ?, result = '', error = ? WHERE status IN (?, ?)`
	res, err := r.db.ExecContext(ctx, query, model.TaskStatusFailed, reason, model.TaskStatusPending, model.TaskStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("could not fail unfinished tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not get rows affected: %w", err)
	}

	if n > 0 {
		r.logger.Warningf("Marked %d unfinished tasks of a previous run as failed", n)
	}

	return int(n), nil
}

// ListTasks returns the tasks ordered by creation, oldest first.
func (r *Repository) ListTasks(ctx context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = -1 // No limit in SQLite.
	}

	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at ASC, seq ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate tasks: %w", err)
	}

	return tasks, nil
}

// CountTasks returns the number of tasks.
func (r *Repository) CountTasks(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("could not count tasks: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (model.Task, error) {
	var (
		t         model.Task
		createdAt int64
		status    string
	)
	if err := s.Scan(&t.ID, &createdAt, &status, &t.Result, &t.Error, &t.InputPath); err != nil {
		return model.Task{}, err
	}

	st, err := model.ParseTaskStatus(status)
	if err != nil {
		return model.Task{}, err
	}
	t.Status = st
	if createdAt > 0 {
		t.CreatedAt = time.Unix(0, createdAt).UTC()
	}

	return t, nil
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
