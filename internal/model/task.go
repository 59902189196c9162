package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a transcription task.
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusFinished TaskStatus = "finished"
	TaskStatusFailed   TaskStatus = "failed"
)

// Valid returns true if the status is a known one.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusFinished, TaskStatusFailed:
		return true
	}
	return false
}

// Terminal returns true when no more transitions are allowed from the status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusFinished || s == TaskStatusFailed
}

// CanTransitionTo returns true if moving from s to next keeps the lifecycle monotonic:
// pending -> running -> finished|failed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusFinished || next == TaskStatusFailed
	}
	return false
}

// ParseTaskStatus parses a status string.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown task status %q: %w", s, ErrNotValid)
	}
	return st, nil
}

// Task is a single transcription request tracked from admission to its terminal status.
type Task struct {
	ID        string
	CreatedAt time.Time
	Status    TaskStatus
	// Result is the transcribed text, only set when finished.
	Result string
	// Error is the failure message, only set when failed.
	Error string
	// InputPath is the persisted audio file the task transcribes.
	InputPath string
}

// Validate checks the task record is consistent.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("task %s creation timestamp is missing: %w", t.ID, ErrNotValid)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s has unknown status %q: %w", t.ID, t.Status, ErrNotValid)
	}
	return nil
}

// Apply returns a copy of the task moved to the new status. The payload is the
// result text for finished tasks and the error message for failed ones.
func (t Task) Apply(status TaskStatus, payload string) (Task, error) {
	if !t.Status.CanTransitionTo(status) {
		return t, fmt.Errorf("task %s can't move from %s to %s: %w", t.ID, t.Status, status, ErrNotValid)
	}

	t.Status = status
	switch status {
	case TaskStatusFinished:
		t.Result = payload
	case TaskStatusFailed:
		if payload == "" {
			payload = "unknown error"
		}
		t.Error = payload
	}

	return t, nil
}
