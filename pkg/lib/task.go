package lib

import (
	"context"
	"fmt"
	"io"

	"github.com/slok/transcribeq/internal/app/list"
	"github.com/slok/transcribeq/internal/app/result"
	"github.com/slok/transcribeq/internal/app/status"
	"github.com/slok/transcribeq/internal/app/submit"
)

// SubmitFile admits the audio for transcription and returns the task ID. The audio
// is stored under the uploads directory using name as part of the file name.
//
// Returns [ErrQueueFull] when the queue has no free slots (retry later) or
// [ErrNotValid] if the audio is empty.
func (c *Client) SubmitFile(ctx context.Context, name string, audio io.Reader) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", fmt.Errorf("could not read audio: %w", err)
	}

	resp, err := c.submit.Run(ctx, submit.Request{Data: data, Name: name})
	if err != nil {
		return "", mapError(err)
	}

	return resp.TaskID, nil
}

// SubmitPath admits an audio file that is already on disk, it's transcribed in place.
//
// Returns [ErrQueueFull] when the queue has no free slots or [ErrNotFound] if the
// file does not exist.
func (c *Client) SubmitPath(ctx context.Context, path string) (string, error) {
	resp, err := c.submit.Run(ctx, submit.Request{Path: path})
	if err != nil {
		return "", mapError(err)
	}

	return resp.TaskID, nil
}

// GetTask returns the task by ID.
//
// Returns [ErrNotFound] if the task does not exist or was evicted.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := c.status.Run(ctx, status.Request{TaskID: id})
	if err != nil {
		return nil, mapError(err)
	}

	task := fromInternalTask(*t)
	return &task, nil
}

// GetStatus returns the task status.
//
// Returns [ErrNotFound] if the task does not exist or was evicted.
func (c *Client) GetStatus(ctx context.Context, id string) (TaskStatus, error) {
	t, err := c.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// GetResult returns the transcribed text of a finished task.
//
// Returns [ErrNotReady] if the task is still pending or running, [ErrTaskFailed]
// with the task error as message if it failed and [ErrNotFound] if the task does
// not exist.
func (c *Client) GetResult(ctx context.Context, id string) (string, error) {
	text, err := c.result.Run(ctx, result.Request{TaskID: id})
	if err != nil {
		return "", mapError(err)
	}
	return text, nil
}

// ListTasks returns the tasks ordered by creation, oldest first.
//
// Returns [ErrNotValid] if an unknown field is requested.
func (c *Client) ListTasks(ctx context.Context, opts *ListTasksOpts) ([]Task, error) {
	req := list.Request{StatusFilter: toInternalStatusFilter(opts)}
	if opts != nil {
		req.Limit = opts.Limit
		req.Fields = opts.Fields
	}

	resp, err := c.list.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	tasks := fromInternalTaskList(resp.Tasks)
	for i := range tasks {
		tasks[i] = selectTaskFields(tasks[i], resp.Fields)
	}

	return tasks, nil
}

// TaskCount returns the number of tasks in the registry.
func (c *Client) TaskCount(ctx context.Context) (int, error) {
	n, err := c.list.Size(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// QueueLen returns the number of admitted tasks waiting to run.
func (c *Client) QueueLen() int { return c.queue.Len() }

func selectTaskFields(t Task, fields []string) Task {
	selected := Task{ID: t.ID}
	for _, f := range fields {
		switch f {
		case list.FieldStatus:
			selected.Status = t.Status
		case list.FieldResult:
			selected.Result = t.Result
		case list.FieldError:
			selected.Error = t.Error
		case list.FieldCreatedAt:
			selected.CreatedAt = t.CreatedAt
		case list.FieldInputPath:
			selected.InputPath = t.InputPath
		}
	}
	return selected
}
