package metrics

import (
	"context"
	"time"

	"github.com/slok/transcribeq/internal/model"
)

// Submission outcomes.
const (
	SubmissionAccepted = "accepted"
	SubmissionRejected = "rejected"
	SubmissionFailed   = "failed"
)

// Recorder knows how to record the pipeline metrics.
type Recorder interface {
	ObserveSubmission(ctx context.Context, outcome string)
	SetQueueDepth(ctx context.Context, depth int)
	ObserveTaskExecution(ctx context.Context, status model.TaskStatus, duration time.Duration)
	AddTrimmedFiles(ctx context.Context, dir string, files int)
	AddEvictedTasks(ctx context.Context, tasks int)
	ObserveChunk(ctx context.Context, size int)
}

// Noop is a recorder that doesn't record anything.
const Noop = noop(0)

type noop int

func (noop) ObserveSubmission(context.Context, string)                             {}
func (noop) SetQueueDepth(context.Context, int)                                    {}
func (noop) ObserveTaskExecution(context.Context, model.TaskStatus, time.Duration) {}
func (noop) AddTrimmedFiles(context.Context, string, int)                          {}
func (noop) AddEvictedTasks(context.Context, int)                                  {}
func (noop) ObserveChunk(context.Context, int)                                     {}
