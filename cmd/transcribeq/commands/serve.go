package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/slok/transcribeq/internal/app/list"
	"github.com/slok/transcribeq/internal/app/result"
	"github.com/slok/transcribeq/internal/app/status"
	"github.com/slok/transcribeq/internal/app/stream"
	"github.com/slok/transcribeq/internal/app/submit"
	"github.com/slok/transcribeq/internal/config"
	"github.com/slok/transcribeq/internal/conventions"
	"github.com/slok/transcribeq/internal/httpapi"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/metrics"
	metricsprometheus "github.com/slok/transcribeq/internal/metrics/prometheus"
	"github.com/slok/transcribeq/internal/model"
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

const shutdownTimeout = 10 * time.Second

// serveOptions are the server settings, from flags and the optional config file.
type serveOptions struct {
	listenAddress  string
	registry       string
	dbPath         string
	maxEntries     int
	queueCapacity  int
	maxFiles       int
	maxBytes       int64
	maxUploadBytes int64
	engine         string
	whisperURL     string
	whisperModel   string
	whisperLang    string
	whisperTimeout time.Duration
	fakeDelay      time.Duration
	sampleRate     int
	bitDepth       int
	channels       int
	chunkDuration  time.Duration
	chunkBytes     int
}

// Flag names that can be overridden by the config file.
const (
	flagListenAddress  = "listen-address"
	flagRegistry       = "registry"
	flagDBPath         = "db-path"
	flagMaxEntries     = "max-entries"
	flagQueueCapacity  = "queue-capacity"
	flagMaxFiles       = "max-files"
	flagMaxBytes       = "max-bytes"
	flagEngine         = "engine"
	flagWhisperURL     = "whisper-url"
	flagWhisperModel   = "whisper-model"
	flagWhisperLang    = "whisper-language"
	flagWhisperTimeout = "whisper-timeout"
	flagFakeDelay      = "fake-delay"
	flagSampleRate     = "sample-rate"
	flagBitDepth       = "bit-depth"
	flagChunkDuration  = "chunk-duration"
	flagChunkBytes     = "chunk-bytes"
	flagChannels       = "channels"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	configFile string
	opts       serveOptions
	setByUser  map[string]*bool
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd, setByUser: map[string]*bool{}}

	c.Cmd = app.Command("serve", "Run the transcription server (HTTP API, WebSocket streaming and the worker).")
	c.Cmd.Flag("config", "Optional YAML config file, flags set explicitly take precedence.").StringVar(&c.configFile)
	c.flag(flagListenAddress, "Address the HTTP API listens on.").Default(":8000").StringVar(&c.opts.listenAddress)
	c.flag(flagRegistry, "Task registry backend.").Default(config.RegistryMemory).EnumVar(&c.opts.registry, config.RegistryMemory, config.RegistrySQLite)
	c.flag(flagDBPath, "SQLite database path, by default inside the data dir.").StringVar(&c.opts.dbPath)
	c.flag(flagMaxEntries, "Number of tasks the registry keeps.").Default(fmt.Sprint(storage.DefaultMaxEntries)).IntVar(&c.opts.maxEntries)
	c.flag(flagQueueCapacity, "Number of admitted tasks waiting to run.").Default(fmt.Sprint(queue.DefaultCapacity)).IntVar(&c.opts.queueCapacity)
	c.flag(flagMaxFiles, "Maximum number of files kept on the uploads and runs dirs.").Default(fmt.Sprint(retention.DefaultMaxFiles)).IntVar(&c.opts.maxFiles)
	c.flag(flagMaxBytes, "Maximum size in bytes of the uploads and runs dirs.").Default(fmt.Sprint(retention.DefaultMaxBytes)).Int64Var(&c.opts.maxBytes)
	c.Cmd.Flag("max-upload-bytes", "Maximum size of an uploaded file.").Default(fmt.Sprint(httpapi.DefaultMaxUploadBytes)).Int64Var(&c.opts.maxUploadBytes)
	c.flag(flagEngine, "Transcription engine.").Default(config.EngineWhisper).EnumVar(&c.opts.engine, config.EngineWhisper, config.EngineFake)
	c.flag(flagWhisperURL, "Whisper sidecar address.").Default(whisper.DefaultURL).StringVar(&c.opts.whisperURL)
	c.flag(flagWhisperModel, "Whisper model.").Default(whisper.DefaultModel).StringVar(&c.opts.whisperModel)
	c.flag(flagWhisperLang, "Whisper language, empty auto detects it.").StringVar(&c.opts.whisperLang)
	c.flag(flagWhisperTimeout, "Timeout of a whisper transcription.").Default(whisper.DefaultTimeout.String()).DurationVar(&c.opts.whisperTimeout)
	c.flag(flagFakeDelay, "Simulated latency of the fake engine.").Default("0s").DurationVar(&c.opts.fakeDelay)
	c.flag(flagSampleRate, "Initial sample rate of the streamed audio.").Default(fmt.Sprint(model.DefaultAudioFormat.SampleRate)).IntVar(&c.opts.sampleRate)
	c.flag(flagBitDepth, "Initial bit depth of the streamed audio.").Default(fmt.Sprint(model.DefaultAudioFormat.BitDepth)).IntVar(&c.opts.bitDepth)
	c.flag(flagChannels, "Initial channels of the streamed audio.").Default(fmt.Sprint(model.DefaultAudioFormat.Channels)).IntVar(&c.opts.channels)
	c.flag(flagChunkDuration, "Streamed audio duration submitted as a task.").Default("20s").DurationVar(&c.opts.chunkDuration)
	c.flag(flagChunkBytes, "Streamed audio bytes submitted as a task, replaces the chunk duration.").Default("0").IntVar(&c.opts.chunkBytes)

	return c
}

func (c *ServeCommand) flag(name, help string) *kingpin.FlagClause {
	set := false
	c.setByUser[name] = &set
	return c.Cmd.Flag(name, help).IsSetByUser(&set)
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	opts := c.opts
	if c.configFile != "" {
		path, err := filepath.Abs(c.configFile)
		if err != nil {
			return fmt.Errorf("invalid config path: %w", err)
		}
		repo := config.NewFileRepository(os.DirFS(filepath.Dir(path)))
		fileCfg, err := repo.GetServer(ctx, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		opts = mergeServeOptions(opts, fileCfg, c.isSetByUser)
		if fileCfg.DataDir != "" && !c.rootCmd.dataDirSetByUser {
			c.rootCmd.DataDir = fileCfg.DataDir
		}
		logger.Infof("Config loaded from %s", path)
	}
	if opts.dbPath == "" {
		opts.dbPath = conventions.DBPath(c.rootCmd.DataDir)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := newServer(ctx, opts, c.rootCmd.DataDir, reg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.close(); err != nil {
			logger.Errorf("Could not close registry: %s", err)
		}
	}()

	var g run.Group

	// HTTP API.
	{
		httpServer := &http.Server{
			Addr:              opts.listenAddress,
			Handler:           srv.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Add(
			func() error {
				logger.Infof("HTTP API listening on %s", opts.listenAddress)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := httpServer.Shutdown(ctx); err != nil {
					logger.Errorf("Could not shut down HTTP server: %s", err)
				}
			},
		)
	}

	// Worker.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return srv.worker.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Context cancellation (from parent signal handling).
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func (c ServeCommand) isSetByUser(flag string) bool {
	set, ok := c.setByUser[flag]
	return ok && *set
}

// mergeServeOptions fills the options not set explicitly with the config file values.
func mergeServeOptions(opts serveOptions, cfg config.Server, isSetByUser func(flag string) bool) serveOptions {
	str := func(flag string, dst *string, v string) {
		if v != "" && !isSetByUser(flag) {
			*dst = v
		}
	}
	integer := func(flag string, dst *int, v int) {
		if v != 0 && !isSetByUser(flag) {
			*dst = v
		}
	}
	duration := func(flag string, dst *time.Duration, v time.Duration) {
		if v != 0 && !isSetByUser(flag) {
			*dst = v
		}
	}

	str(flagListenAddress, &opts.listenAddress, cfg.ListenAddress)
	str(flagRegistry, &opts.registry, cfg.Registry)
	str(flagDBPath, &opts.dbPath, cfg.SQLitePath)
	integer(flagMaxEntries, &opts.maxEntries, cfg.MaxEntries)
	integer(flagQueueCapacity, &opts.queueCapacity, cfg.QueueCapacity)
	integer(flagMaxFiles, &opts.maxFiles, cfg.MaxFiles)
	if cfg.MaxBytes != 0 && !isSetByUser(flagMaxBytes) {
		opts.maxBytes = cfg.MaxBytes
	}
	str(flagEngine, &opts.engine, cfg.Engine)
	str(flagWhisperURL, &opts.whisperURL, cfg.WhisperURL)
	str(flagWhisperModel, &opts.whisperModel, cfg.WhisperModel)
	str(flagWhisperLang, &opts.whisperLang, cfg.WhisperLang)
	duration(flagWhisperTimeout, &opts.whisperTimeout, cfg.WhisperTimeout)
	duration(flagFakeDelay, &opts.fakeDelay, cfg.FakeDelay)
	integer(flagSampleRate, &opts.sampleRate, cfg.AudioFormat.SampleRate)
	integer(flagBitDepth, &opts.bitDepth, cfg.AudioFormat.BitDepth)
	integer(flagChannels, &opts.channels, cfg.AudioFormat.Channels)
	duration(flagChunkDuration, &opts.chunkDuration, cfg.ChunkDuration)
	integer(flagChunkBytes, &opts.chunkBytes, cfg.ChunkBytes)

	return opts
}

// server is the wired transcription pipeline.
type server struct {
	handler http.Handler
	worker  *worker.Worker
	close   func() error
}

func newServer(ctx context.Context, opts serveOptions, dataDir string, reg *prometheus.Registry, logger log.Logger) (*server, error) {
	fs := afero.NewOsFs()
	recorder := metricsprometheus.NewRecorder(reg)

	repo, closeRepo, err := newRepository(ctx, opts, recorder, logger)
	if err != nil {
		return nil, err
	}
	srv, err := newPipeline(ctx, opts, fs, dataDir, repo, reg, recorder, logger)
	if err != nil {
		_ = closeRepo()
		return nil, err
	}
	srv.close = closeRepo

	return srv, nil
}

func newRepository(ctx context.Context, opts serveOptions, recorder metrics.Recorder, logger log.Logger) (storage.TaskRepository, func() error, error) {
	switch opts.registry {
	case config.RegistrySQLite:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath:          opts.dbPath,
			MaxEntries:      opts.maxEntries,
			MetricsRecorder: recorder,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create repository: %w", err)
		}
		if _, err := repo.FailUnfinishedTasks(ctx, storage.InterruptedReason); err != nil {
			_ = repo.Close()
			return nil, nil, fmt.Errorf("could not recover unfinished tasks: %w", err)
		}
		logger.Infof("Using SQLite task registry at %s", opts.dbPath)
		return repo, repo.Close, nil
	default:
		repo, err := memory.NewRepository(memory.RepositoryConfig{
			MaxEntries:      opts.maxEntries,
			MetricsRecorder: recorder,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create repository: %w", err)
		}
		return repo, func() error { return nil }, nil
	}
}

func newEngine(ctx context.Context, opts serveOptions, fs afero.Fs, logger log.Logger) (transcription.Engine, error) {
	switch opts.engine {
	case config.EngineFake:
		logger.Warningf("Using the fake transcription engine")
		return fake.NewEngine(fake.EngineConfig{
			FS:     fs,
			Delay:  opts.fakeDelay,
			Logger: logger,
		})
	default:
		e, err := whisper.NewEngine(whisper.EngineConfig{
			URL:      opts.whisperURL,
			Model:    opts.whisperModel,
			Language: opts.whisperLang,
			Timeout:  opts.whisperTimeout,
			FS:       fs,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		if !e.IsAvailable(ctx) {
			logger.Warningf("Whisper sidecar at %s is not reachable, tasks will fail until it is", opts.whisperURL)
		}
		return e, nil
	}
}

func newPipeline(ctx context.Context, opts serveOptions, fs afero.Fs, dataDir string, repo storage.TaskRepository, gatherer prometheus.Gatherer, recorder metrics.Recorder, logger log.Logger) (*server, error) {
	engine, err := newEngine(ctx, opts, fs, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create engine: %w", err)
	}

	steward, err := retention.NewSteward(retention.StewardConfig{
		FS:              fs,
		Limits:          retention.Limits{MaxFiles: opts.maxFiles, MaxBytes: opts.maxBytes},
		MetricsRecorder: recorder,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create storage steward: %w", err)
	}

	q, err := queue.New(queue.Config{
		Capacity:        opts.queueCapacity,
		MetricsRecorder: recorder,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create queue: %w", err)
	}

	submitSvc, err := submit.NewService(submit.ServiceConfig{
		Queue:           q,
		Repository:      repo,
		Trimmer:         steward,
		FS:              fs,
		UploadDir:       conventions.UploadsPath(dataDir),
		MetricsRecorder: recorder,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create submit service: %w", err)
	}

	streamSvc, err := stream.NewService(stream.ServiceConfig{
		Submitter: submitSvc,
		Format: model.AudioFormat{
			SampleRate: opts.sampleRate,
			BitDepth:   opts.bitDepth,
			Channels:   opts.channels,
		},
		ChunkDuration:   opts.chunkDuration,
		ChunkBytes:      opts.chunkBytes,
		MetricsRecorder: recorder,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create stream service: %w", err)
	}

	statusSvc, err := status.NewService(status.ServiceConfig{Repository: repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create status service: %w", err)
	}

	resultSvc, err := result.NewService(result.ServiceConfig{Repository: repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create result service: %w", err)
	}

	listSvc, err := list.NewService(list.ServiceConfig{Repository: repo, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create list service: %w", err)
	}

	w, err := worker.New(worker.Config{
		Jobs:            q,
		Repository:      repo,
		Engine:          engine,
		Trimmer:         steward,
		FS:              fs,
		OutputDir:       conventions.RunsPath(dataDir),
		MetricsRecorder: recorder,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker: %w", err)
	}

	handler, err := httpapi.NewHandler(httpapi.HandlerConfig{
		Submit:          submitSvc,
		Stream:          streamSvc,
		Status:          statusSvc,
		Result:          resultSvc,
		List:            listSvc,
		MetricsGatherer: gatherer,
		MaxUploadBytes:  opts.maxUploadBytes,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create http handler: %w", err)
	}

	return &server{handler: handler, worker: w}, nil
}
