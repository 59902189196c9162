package submit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/slok/transcribeq/internal/conventions"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/metrics"
	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/queue"
	"github.com/slok/transcribeq/internal/retention"
	"github.com/slok/transcribeq/internal/storage"
)

// Admitter gives admission queue slots.
type Admitter interface {
	Reserve() (*queue.Reservation, error)
}

// Trimmer applies retention to a directory.
type Trimmer interface {
	Trim(ctx context.Context, dir string) (retention.Report, bool)
}

// ServiceConfig is the configuration for the submit service.
type ServiceConfig struct {
	Queue      Admitter
	Repository storage.TaskRepository
	Trimmer    Trimmer
	FS         afero.Fs
	// UploadDir is where the submitted audio is persisted.
	UploadDir       string
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Queue == nil {
		return fmt.Errorf("queue is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Trimmer == nil {
		return fmt.Errorf("trimmer is required")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("upload dir is required")
	}
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Submit"})
	return nil
}

// Service admits transcription jobs.
type Service struct {
	queue     Admitter
	repo      storage.TaskRepository
	trimmer   Trimmer
	fs        afero.Fs
	uploadDir string
	metrics   metrics.Recorder
	logger    log.Logger
}

// NewService creates a new submit service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		queue:     cfg.Queue,
		repo:      cfg.Repository,
		trimmer:   cfg.Trimmer,
		fs:        cfg.FS,
		uploadDir: cfg.UploadDir,
		metrics:   cfg.MetricsRecorder,
		logger:    cfg.Logger,
	}, nil
}

// Request represents the submission parameters. Either Data or Path is set.
type Request struct {
	// Data is the audio to persist in the uploads directory.
	Data []byte
	// Name is the client name of the audio, used in the stored file name.
	Name string
	// Path is an already persisted audio file, it's used as is.
	Path string
}

func (r Request) validate() error {
	if len(r.Data) == 0 && r.Path == "" {
		return fmt.Errorf("audio data is required: %w", model.ErrNotValid)
	}
	if len(r.Data) > 0 && r.Path != "" {
		return fmt.Errorf("audio data and path can't be set at the same time: %w", model.ErrNotValid)
	}
	return nil
}

// Response is the result of an admission.
type Response struct {
	TaskID    string
	InputPath string
}

// Run admits a job: it reserves a queue slot, persists the input, creates the pending
// task and enqueues the job. Task creation and enqueueing happen as a unit, a task
// that could not be created is never enqueued and vice versa.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	reservation, err := s.queue.Reserve()
	if err != nil {
		s.metrics.ObserveSubmission(ctx, metrics.SubmissionRejected)
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			reservation.Cancel()
		}
	}()

	now := time.Now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	logger := s.logger.WithValues(log.Kv{"task-id": id})

	inputPath := req.Path
	persisted := false
	if inputPath == "" {
		inputPath, err = s.persist(now, id, req)
		if err != nil {
			s.metrics.ObserveSubmission(ctx, metrics.SubmissionFailed)
			return nil, fmt.Errorf("%w: %w", model.ErrInputPersistence, err)
		}
		persisted = true

		if _, ok := s.trimmer.Trim(ctx, s.uploadDir); !ok {
			logger.Warningf("%s: could not trim %s", model.ErrRetention, s.uploadDir)
		}
	} else if _, err := s.fs.Stat(inputPath); err != nil {
		s.metrics.ObserveSubmission(ctx, metrics.SubmissionFailed)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("input %s: %w", inputPath, model.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %w", model.ErrInputPersistence, err)
	}

	task := model.Task{
		ID:        id,
		CreatedAt: now,
		Status:    model.TaskStatusPending,
		InputPath: inputPath,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		if persisted {
			if rmErr := s.fs.Remove(inputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Warningf("Could not remove orphan input %s: %s", inputPath, rmErr)
			}
		}
		s.metrics.ObserveSubmission(ctx, metrics.SubmissionFailed)
		return nil, fmt.Errorf("could not create task: %w", err)
	}

	reservation.Commit(queue.Job{TaskID: id, InputPath: inputPath, EnqueuedAt: now})
	committed = true
	s.metrics.ObserveSubmission(ctx, metrics.SubmissionAccepted)

	logger.Infof("Task admitted with input %s", inputPath)

	return &Response{TaskID: id, InputPath: inputPath}, nil
}

// persist writes the audio to a new file in the uploads directory, synced to disk
// before returning.
func (s *Service) persist(now time.Time, id string, req Request) (_ string, err error) {
	if err := s.fs.MkdirAll(s.uploadDir, 0755); err != nil {
		return "", fmt.Errorf("could not create upload dir: %w", err)
	}

	path := filepath.Join(s.uploadDir, conventions.UploadFileName(now, id, req.Name))
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("could not create upload file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = s.fs.Remove(path)
		}
	}()

	if _, err := f.Write(req.Data); err != nil {
		f.Close()
		return "", fmt.Errorf("could not write upload file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("could not sync upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("could not close upload file: %w", err)
	}

	return path, nil
}
