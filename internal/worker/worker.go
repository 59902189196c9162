// Package worker runs the single consumer of the admission queue. Jobs are executed
// one at a time, so the transcription engine is never used concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/spf13/afero"

	"github.com/slok/transcribeq/internal/conventions"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/metrics"
	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/queue"
	"github.com/slok/transcribeq/internal/retention"
	"github.com/slok/transcribeq/internal/storage"
	"github.com/slok/transcribeq/internal/transcription"
)

// JobSource is where the worker takes the jobs from.
type JobSource interface {
	Take(ctx context.Context) (queue.Job, error)
}

// Trimmer applies retention to a directory.
type Trimmer interface {
	Trim(ctx context.Context, dir string) (retention.Report, bool)
}

// Config is the configuration for the worker.
type Config struct {
	Jobs       JobSource
	Repository storage.TaskRepository
	Engine     transcription.Engine
	Trimmer    Trimmer
	FS         afero.Fs
	// OutputDir is where the transcription texts are written.
	OutputDir string
	// RetryWait is the wait before retrying a failed registry write.
	RetryWait       time.Duration
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *Config) defaults() error {
	if c.Jobs == nil {
		return fmt.Errorf("jobs source is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Trimmer == nil {
		return fmt.Errorf("trimmer is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir is required")
	}
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
	if c.RetryWait == 0 {
		c.RetryWait = 100 * time.Millisecond
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "worker.Worker"})
	return nil
}

// Worker drains the queue executing a job at a time.
type Worker struct {
	jobs      JobSource
	repo      storage.TaskRepository
	engine    transcription.Engine
	trimmer   Trimmer
	fs        afero.Fs
	outputDir string
	retryWait time.Duration
	metrics   metrics.Recorder
	logger    log.Logger
}

// New returns a new worker.
func New(cfg Config) (*Worker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		jobs:      cfg.Jobs,
		repo:      cfg.Repository,
		engine:    cfg.Engine,
		trimmer:   cfg.Trimmer,
		fs:        cfg.FS,
		outputDir: cfg.OutputDir,
		retryWait: cfg.RetryWait,
		metrics:   cfg.MetricsRecorder,
		logger:    cfg.Logger,
	}, nil
}

// Run processes jobs until the context is done. A job failure never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Infof("Worker started")
	for {
		job, err := w.jobs.Take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Infof("Worker stopped")
				return nil
			}
			return fmt.Errorf("could not take job: %w", err)
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job queue.Job) {
	logger := w.logger.WithValues(log.Kv{"task-id": job.TaskID})
	start := time.Now()

	err := w.markRunning(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.Warningf("Task evicted before running, dropping job")
			return
		}
		logger.Errorf("Could not mark task as running, dropping job: %s", err)
		return
	}

	status, payload := model.TaskStatusFinished, ""
	text, err := w.execute(ctx, job)
	if err != nil {
		status, payload = model.TaskStatusFailed, err.Error()
		logger.Errorf("Task failed: %s", err)
	} else {
		payload = text
		logger.Infof("Task finished in %s", time.Since(start))
	}
	w.metrics.ObserveTaskExecution(ctx, status, time.Since(start))

	err = w.repo.UpdateTask(ctx, job.TaskID, status, payload)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.Warningf("Task evicted while running, %s status not recorded", status)
			return
		}
		logger.Errorf("Could not mark task as %s: %s", status, err)
	}
}

// markRunning retries once on registry errors. A task that still can't be started
// stays pending.
func (w *Worker) markRunning(ctx context.Context, taskID string) error {
	err := w.repo.UpdateTask(ctx, taskID, model.TaskStatusRunning, "")
	if err == nil || errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrNotValid) {
		return err
	}

	w.logger.Warningf("Could not mark task %s as running, retrying: %s", taskID, err)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.retryWait):
	}

	return w.repo.UpdateTask(ctx, taskID, model.TaskStatusRunning, "")
}

// execute runs the job and classifies its failures. Panics are recovered as failures.
func (w *Worker) execute(ctx context.Context, job queue.Job) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("Job %s panicked: %v\n%s", job.TaskID, r, debug.Stack())
			text, err = "", fmt.Errorf("panic: %v", r)
		}
	}()

	if _, err := w.fs.Stat(job.InputPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("input not found: %s", job.InputPath)
		}
		return "", fmt.Errorf("%w: %w", model.ErrInputPersistence, err)
	}

	text, err = w.engine.Transcribe(ctx, job.InputPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrEngine, err)
	}

	if err := w.fs.MkdirAll(w.outputDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrOutputPersistence, err)
	}
	outPath := filepath.Join(w.outputDir, conventions.OutputFileName(job.InputPath))
	if err := afero.WriteFile(w.fs, outPath, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrOutputPersistence, err)
	}

	if _, ok := w.trimmer.Trim(ctx, w.outputDir); !ok {
		return "", fmt.Errorf("%w: could not trim %s", model.ErrRetention, w.outputDir)
	}

	return text, nil
}
