package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrQueueFull is returned when the admission queue has no free slots. It's retryable
	// and it's not a job failure.
	ErrQueueFull = errors.New("queue limit reached")
	// ErrInputPersistence is returned when the input audio could not be persisted, the
	// job is never created.
	ErrInputPersistence = errors.New("input persistence failure")
	// ErrEngine is used when the transcription engine fails a job.
	ErrEngine = errors.New("engine failure")
	// ErrOutputPersistence is used when the transcription output could not be stored.
	ErrOutputPersistence = errors.New("output persistence failure")
	// ErrRetention is used when a retention trim (files or registry) fails.
	ErrRetention = errors.New("retention failure")
	// ErrNotReady is returned when a task result is queried before the task ended.
	ErrNotReady = errors.New("task has not finished yet")
	// ErrTaskFailed is returned when a task result is queried and the task failed.
	ErrTaskFailed = errors.New("task failed")
)
