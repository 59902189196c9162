// Package queue implements the admission queue, a bounded FIFO of jobs that gives
// backpressure to the producers instead of blocking them.
//
// Producers reserve a slot first and commit the job afterwards, so they can create
// any state related to the job in between and roll back by cancelling the reservation
// if that fails. A single consumer takes the jobs in commit order.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/metrics"
	"github.com/slok/transcribeq/internal/model"
)

// DefaultCapacity is the number of unstarted jobs the queue can hold.
const DefaultCapacity = 3

// Job is a unit of work for the worker.
type Job struct {
	TaskID     string
	InputPath  string
	EnqueuedAt time.Time
}

// Config is the configuration for the queue.
type Config struct {
	Capacity        int
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *Config) defaults() error {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Capacity < 0 {
		return fmt.Errorf("capacity can't be negative")
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "queue.Queue"})
	return nil
}

// Queue is a channel backed admission queue with many producers and one consumer.
type Queue struct {
	jobs     chan Job
	slots    chan struct{}
	capacity int
	metrics  metrics.Recorder
	logger   log.Logger
}

// New returns a new queue.
func New(cfg Config) (*Queue, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Queue{
		jobs:     make(chan Job, cfg.Capacity),
		slots:    make(chan struct{}, cfg.Capacity),
		capacity: cfg.Capacity,
		metrics:  cfg.MetricsRecorder,
		logger:   cfg.Logger,
	}, nil
}

// Reserve takes a queue slot without blocking. It returns model.ErrQueueFull when all
// the slots are held by reserved or queued jobs. The returned reservation must be
// committed or cancelled.
func (q *Queue) Reserve() (*Reservation, error) {
	select {
	case q.slots <- struct{}{}:
		return &Reservation{q: q}, nil
	default:
		return nil, fmt.Errorf("%d jobs already waiting: %w", q.capacity, model.ErrQueueFull)
	}
}

// Submit enqueues a job without blocking, it's a reservation committed right away.
func (q *Queue) Submit(job Job) error {
	r, err := q.Reserve()
	if err != nil {
		return err
	}
	r.Commit(job)
	return nil
}

// Take blocks until a job is available or the context is done. Jobs are returned in
// the same order they were committed.
func (q *Queue) Take(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case job := <-q.jobs:
		<-q.slots
		q.metrics.SetQueueDepth(ctx, len(q.jobs))
		q.logger.Debugf("Job for task %s taken after %s", job.TaskID, time.Since(job.EnqueuedAt))
		return job, nil
	}
}

// Len returns the number of committed jobs waiting to be taken.
func (q *Queue) Len() int { return len(q.jobs) }

// Capacity returns the maximum number of unstarted jobs.
func (q *Queue) Capacity() int { return q.capacity }

// Reservation is a queue slot held by a producer.
type Reservation struct {
	q    *Queue
	once sync.Once
}

// Commit places the job on the queue. It never blocks because the slot is already
// held. Only the first Commit or Cancel call has effect.
func (r *Reservation) Commit(job Job) {
	r.once.Do(func() {
		if job.EnqueuedAt.IsZero() {
			job.EnqueuedAt = time.Now()
		}
		r.q.jobs <- job
		r.q.metrics.SetQueueDepth(context.Background(), len(r.q.jobs))
		r.q.logger.Debugf("Job for task %s enqueued", job.TaskID)
	})
}

// Cancel releases the slot. Only the first Commit or Cancel call has effect.
func (r *Reservation) Cancel() {
	r.once.Do(func() {
		<-r.q.slots
	})
}
