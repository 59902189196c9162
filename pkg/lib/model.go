package lib

import (
	"context"
	"errors"
	"time"

	"github.com/slok/transcribeq/internal/model"
)

// EngineType identifies the transcription engine implementation.
type EngineType string

const (
	// EngineWhisper uses a faster-whisper HTTP sidecar.
	EngineWhisper EngineType = "whisper"

	// EngineFake returns a deterministic text derived from the audio file.
	// Use this for testing without a real model.
	EngineFake EngineType = "fake"
)

// RegistryType identifies where the task registry is kept.
type RegistryType string

const (
	// RegistryMemory keeps the tasks in memory, they are lost when the client is closed.
	RegistryMemory RegistryType = "memory"

	// RegistrySQLite keeps the tasks in a SQLite database.
	RegistrySQLite RegistryType = "sqlite"
)

// Transcriber transcribes an audio file into text. Set [Config].Transcriber to plug
// a custom engine.
//
// Transcribe is never called concurrently by the same client.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// TranscriberFunc is a helper to create transcribers from functions.
type TranscriberFunc func(ctx context.Context, filePath string) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, filePath string) (string, error) {
	return f(ctx, filePath)
}

// TaskStatus represents the lifecycle state of a task.
//
// The lifecycle is:
//
//	pending -> running -> finished|failed
type TaskStatus string

const (
	// TaskStatusPending indicates the task was admitted and waits on the queue.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the engine is transcribing the task audio.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusFinished indicates the task has a transcription result.
	TaskStatusFinished TaskStatus = "finished"
	// TaskStatusFailed indicates the task ended with an error.
	TaskStatusFailed TaskStatus = "failed"
)

// Task is a snapshot of a transcription task at the time of the API call.
type Task struct {
	// ID is the unique identifier (ULID) assigned at admission.
	ID string
	// Status is the current lifecycle state.
	Status TaskStatus
	// CreatedAt is when the task was admitted.
	CreatedAt time.Time
	// Result is the transcribed text. Only set when finished.
	Result string
	// Error is the failure message. Only set when failed.
	Error string
	// InputPath is the persisted audio file.
	InputPath string
}

// AudioFormat describes the raw PCM audio of streamed chunks.
type AudioFormat struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// ListTasksOpts configures task listing.
//
// Pass nil to [Client.ListTasks] to list the default number of tasks.
type ListTasksOpts struct {
	// Limit is the maximum number of tasks, oldest first. 0 uses the default (10)
	// and a negative one lists all of them.
	Limit int
	// Fields restricts the returned task data to these fields ("status", "result",
	// "error", "created_at", "input_path"), the rest are left empty. The ID is
	// always set. Empty means all of them.
	Fields []string
	// Status filters tasks by status. Nil means all statuses.
	Status *TaskStatus
}

// Errors returned by the SDK. Use [errors.Is] to check them.
var (
	// ErrNotFound is returned when a task does not exist (or was evicted).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a task already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when the arguments are not valid.
	ErrNotValid = errors.New("not valid")
	// ErrQueueFull is returned when the admission queue has no free slots.
	ErrQueueFull = errors.New("queue limit reached")
	// ErrNotReady is returned when asking for the result of an unfinished task.
	ErrNotReady = errors.New("task has not finished yet")
	// ErrTaskFailed is returned when asking for the result of a failed task, the
	// error message is the task failure.
	ErrTaskFailed = errors.New("task failed")
)

func fromInternalTask(t model.Task) Task {
	return Task{
		ID:        t.ID,
		Status:    TaskStatus(t.Status),
		CreatedAt: t.CreatedAt,
		Result:    t.Result,
		Error:     t.Error,
		InputPath: t.InputPath,
	}
}

func fromInternalTaskList(ts []model.Task) []Task {
	result := make([]Task, len(ts))
	for i, t := range ts {
		result[i] = fromInternalTask(t)
	}
	return result
}

func toInternalStatusFilter(opts *ListTasksOpts) *model.TaskStatus {
	if opts == nil || opts.Status == nil {
		return nil
	}
	s := model.TaskStatus(*opts.Status)
	return &s
}

func toInternalAudioFormat(f AudioFormat) model.AudioFormat {
	return model.AudioFormat{
		SampleRate: f.SampleRate,
		BitDepth:   f.BitDepth,
		Channels:   f.Channels,
	}
}

func fromInternalAudioFormat(f model.AudioFormat) AudioFormat {
	return AudioFormat{
		SampleRate: f.SampleRate,
		BitDepth:   f.BitDepth,
		Channels:   f.Channels,
	}
}

var errorMappings = []struct {
	internal error
	public   error
}{
	{internal: model.ErrNotFound, public: ErrNotFound},
	{internal: model.ErrAlreadyExists, public: ErrAlreadyExists},
	{internal: model.ErrNotValid, public: ErrNotValid},
	{internal: model.ErrQueueFull, public: ErrQueueFull},
	{internal: model.ErrNotReady, public: ErrNotReady},
	{internal: model.ErrTaskFailed, public: ErrTaskFailed},
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.internal) {
			return joinErrors(err, m.public)
		}
	}
	return err
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
