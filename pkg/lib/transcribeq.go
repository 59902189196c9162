package lib

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/transcribeq/internal/app/list"
	"github.com/slok/transcribeq/internal/app/result"
	"github.com/slok/transcribeq/internal/app/status"
	"github.com/slok/transcribeq/internal/app/stream"
	"github.com/slok/transcribeq/internal/app/submit"
	"github.com/slok/transcribeq/internal/conventions"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/queue"
	"github.com/slok/transcribeq/internal/retention"
	"github.com/slok/transcribeq/internal/storage"
	"github.com/slok/transcribeq/internal/storage/memory"
	"github.com/slok/transcribeq/internal/storage/sqlite"
	"github.com/slok/transcribeq/internal/transcription"
	"github.com/slok/transcribeq/internal/transcription/fake"
	"github.com/slok/transcribeq/internal/transcription/whisper"
	"github.com/slok/transcribeq/internal/worker"
)

// Config configures the SDK client.
//
// All fields are optional and have sensible defaults. At minimum, an empty
// Config{} keeps the tasks in memory, stores the audio under ~/.transcribeq
// and transcribes with a local whisper sidecar.
type Config struct {
	// DataDir is the base directory for the uploaded audio and the transcriptions.
	// Default: ~/.transcribeq.
	DataDir string

	// Registry selects where the tasks are kept.
	// Default: [RegistryMemory].
	Registry RegistryType

	// DBPath is the SQLite database path. Only used with [RegistrySQLite].
	// Default: <DataDir>/transcribeq.db.
	DBPath string

	// MaxTasks is the number of tasks the registry keeps, the oldest ones are evicted.
	// Default: 10.
	MaxTasks int

	// QueueCapacity is the number of admitted tasks waiting to run.
	// Default: 3.
	QueueCapacity int

	// MaxFiles and MaxBytes are the retention limits of the uploads and the
	// transcriptions directories.
	// Default: 10 files and 100MB.
	MaxFiles int
	MaxBytes int64

	// Engine selects the transcription engine. Ignored when Transcriber is set.
	// Default: [EngineWhisper].
	Engine EngineType

	// WhisperURL is the whisper sidecar address. Only used with [EngineWhisper].
	// Default: http://localhost:8387.
	WhisperURL string

	// Transcriber is a custom transcription engine.
	Transcriber Transcriber

	// AudioFormat is the initial format of the streamed audio.
	// Default: 16kHz, 16 bit, mono.
	AudioFormat AudioFormat

	// ChunkDuration is the streamed audio duration submitted as a single task.
	// Default: 20s.
	ChunkDuration time.Duration

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.DataDir == "" {
		home := homedir.HomeDir()
		if home == "" {
			return fmt.Errorf("could not get user home dir")
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}

	if c.Registry == "" {
		c.Registry = RegistryMemory
	}

	if c.DBPath == "" {
		c.DBPath = conventions.DBPath(c.DataDir)
	}

	if c.Engine == "" {
		c.Engine = EngineWhisper
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point, it runs the whole transcription pipeline
// in-process: admission, the single worker and the task registry.
//
// Create a Client with [New], start the worker with [Client.Run] and release its
// resources with [Client.Close]. A Client is safe for concurrent use.
type Client struct {
	repo    storage.TaskRepository
	queue   *queue.Queue
	submit  *submit.Service
	stream  *stream.Service
	status  *status.Service
	result  *result.Service
	list    *list.Service
	worker  *worker.Worker
	logger  log.Logger
	closeFn func() error
}

// New creates a new SDK client.
//
// The caller must call [Client.Close] when done. Typically used with defer:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	repo, closeFn, err := newRepository(ctx, cfg)
	if err != nil {
		return nil, mapError(err)
	}

	c, err := newClient(cfg, repo)
	if err != nil {
		_ = closeFn()
		return nil, mapError(err)
	}
	c.closeFn = closeFn

	return c, nil
}

func newRepository(ctx context.Context, cfg Config) (storage.TaskRepository, func() error, error) {
	switch cfg.Registry {
	case RegistryMemory:
		repo, err := memory.NewRepository(memory.RepositoryConfig{
			MaxEntries: cfg.MaxTasks,
			Logger:     cfg.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create repository: %w", err)
		}
		return repo, func() error { return nil }, nil
	case RegistrySQLite:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath:     cfg.DBPath,
			MaxEntries: cfg.MaxTasks,
			Logger:     cfg.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create repository: %w", err)
		}
		if _, err := repo.FailUnfinishedTasks(ctx, storage.InterruptedReason); err != nil {
			_ = repo.Close()
			return nil, nil, fmt.Errorf("could not recover unfinished tasks: %w", err)
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported registry type: %s: %w", cfg.Registry, ErrNotValid)
	}
}

func newEngine(cfg Config, fs afero.Fs) (transcription.Engine, error) {
	if cfg.Transcriber != nil {
		return transcription.EngineFunc(cfg.Transcriber.Transcribe), nil
	}

	switch cfg.Engine {
	case EngineWhisper:
		return whisper.NewEngine(whisper.EngineConfig{
			URL:    cfg.WhisperURL,
			FS:     fs,
			Logger: cfg.Logger,
		})
	case EngineFake:
		return fake.NewEngine(fake.EngineConfig{
			FS:     fs,
			Logger: cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported engine type: %s: %w", cfg.Engine, ErrNotValid)
	}
}

func newClient(cfg Config, repo storage.TaskRepository) (*Client, error) {
	fs := afero.NewOsFs()

	engine, err := newEngine(cfg, fs)
	if err != nil {
		return nil, fmt.Errorf("could not create engine: %w", err)
	}

	steward, err := retention.NewSteward(retention.StewardConfig{
		FS:     fs,
		Limits: retention.Limits{MaxFiles: cfg.MaxFiles, MaxBytes: cfg.MaxBytes},
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create storage steward: %w", err)
	}

	q, err := queue.New(queue.Config{
		Capacity: cfg.QueueCapacity,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create queue: %w", err)
	}

	submitSvc, err := submit.NewService(submit.ServiceConfig{
		Queue:      q,
		Repository: repo,
		Trimmer:    steward,
		FS:         fs,
		UploadDir:  conventions.UploadsPath(cfg.DataDir),
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create submit service: %w", err)
	}

	streamSvc, err := stream.NewService(stream.ServiceConfig{
		Submitter:     submitSvc,
		Format:        toInternalAudioFormat(cfg.AudioFormat),
		ChunkDuration: cfg.ChunkDuration,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create stream service: %w", err)
	}

	statusSvc, err := status.NewService(status.ServiceConfig{Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create status service: %w", err)
	}

	resultSvc, err := result.NewService(result.ServiceConfig{Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create result service: %w", err)
	}

	listSvc, err := list.NewService(list.ServiceConfig{Repository: repo, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create list service: %w", err)
	}

	w, err := worker.New(worker.Config{
		Jobs:       q,
		Repository: repo,
		Engine:     engine,
		Trimmer:    steward,
		FS:         fs,
		OutputDir:  conventions.RunsPath(cfg.DataDir),
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker: %w", err)
	}

	return &Client{
		repo:   repo,
		queue:  q,
		submit: submitSvc,
		stream: streamSvc,
		status: statusSvc,
		result: resultSvc,
		list:   listSvc,
		worker: w,
		logger: cfg.Logger,
	}, nil
}

// Run executes the admitted tasks one at a time until the context is cancelled.
// Tasks are admitted even when Run is not running, they wait on the queue.
//
// Returns nil on context cancellation.
func (c *Client) Run(ctx context.Context) error {
	return c.worker.Run(ctx)
}

// Close releases resources held by the client, including the database connection.
// After Close returns, the client must not be used.
func (c *Client) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}
