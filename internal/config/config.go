// Package config loads the optional YAML configuration file of the server.
package config

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/transcribeq/internal/model"
)

// Registry types.
const (
	RegistryMemory = "memory"
	RegistrySQLite = "sqlite"
)

// Engine types.
const (
	EngineWhisper = "whisper"
	EngineFake    = "fake"
)

// Server is the validated server configuration. Zero values mean "not set" so the
// caller keeps its own defaults for them.
type Server struct {
	ListenAddress string
	DataDir       string

	Registry      string
	SQLitePath    string
	MaxEntries    int
	QueueCapacity int

	MaxFiles int
	MaxBytes int64

	Engine         string
	WhisperURL     string
	WhisperModel   string
	WhisperLang    string
	WhisperTimeout time.Duration
	FakeDelay      time.Duration

	AudioFormat   model.AudioFormat
	ChunkDuration time.Duration
	ChunkBytes    int
}

// FileRepository loads server configuration from YAML files.
type FileRepository struct {
	fs fs.FS
}

// NewFileRepository creates a new YAML config repository.
func NewFileRepository(filesystem fs.FS) *FileRepository {
	return &FileRepository{fs: filesystem}
}

// GetServer loads the server configuration from a YAML file and validates it.
func (r *FileRepository) GetServer(ctx context.Context, path string) (Server, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return Server{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return Server{}, ctx.Err()
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Server{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Server{}, fmt.Errorf("invalid configuration: %w: %w", err, model.ErrNotValid)
	}

	return cfg.toModel(), nil
}

// ServerConfig represents the YAML structure of the server configuration.
type ServerConfig struct {
	ListenAddress string          `yaml:"listen_address"`
	DataDir       string          `yaml:"data_dir"`
	Registry      RegistryConfig  `yaml:"registry"`
	Queue         QueueConfig     `yaml:"queue"`
	Retention     RetentionConfig `yaml:"retention"`
	Engine        EngineConfig    `yaml:"engine"`
	Audio         AudioConfig     `yaml:"audio"`
}

// RegistryConfig represents the YAML structure of the task registry configuration.
type RegistryConfig struct {
	Type       string `yaml:"type"`
	SQLitePath string `yaml:"sqlite_path"`
	MaxEntries int    `yaml:"max_entries"`
}

// QueueConfig represents the YAML structure of the admission queue configuration.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// RetentionConfig represents the YAML structure of the directory retention limits.
type RetentionConfig struct {
	MaxFiles int   `yaml:"max_files"`
	MaxBytes int64 `yaml:"max_bytes"`
}

// EngineConfig represents the YAML structure of the transcription engine configuration.
type EngineConfig struct {
	Whisper *WhisperEngineConfig `yaml:"whisper,omitempty"`
	Fake    *FakeEngineConfig    `yaml:"fake,omitempty"`
}

// WhisperEngineConfig represents the YAML structure of the whisper sidecar configuration.
type WhisperEngineConfig struct {
	URL      string        `yaml:"url"`
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// FakeEngineConfig represents the YAML structure of the fake engine configuration.
type FakeEngineConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// AudioConfig represents the YAML structure of the streamed audio settings.
type AudioConfig struct {
	SampleRate    int           `yaml:"sample_rate"`
	BitDepth      int           `yaml:"bit_depth"`
	Channels      int           `yaml:"channels"`
	ChunkDuration time.Duration `yaml:"chunk_duration"`
	ChunkBytes    int           `yaml:"chunk_bytes"`
}

func (c ServerConfig) validate() error {
	switch c.Registry.Type {
	case "", RegistryMemory, RegistrySQLite:
	default:
		return fmt.Errorf("unknown registry type %q", c.Registry.Type)
	}
	if c.Registry.SQLitePath != "" && c.Registry.Type != RegistrySQLite {
		return fmt.Errorf("sqlite_path is only valid with the sqlite registry")
	}
	if c.Registry.MaxEntries < 0 {
		return fmt.Errorf("registry max_entries can't be negative")
	}
	if c.Queue.Capacity < 0 {
		return fmt.Errorf("queue capacity can't be negative")
	}
	if c.Retention.MaxFiles < 0 || c.Retention.MaxBytes < 0 {
		return fmt.Errorf("retention limits can't be negative")
	}

	if c.Engine.Whisper != nil && c.Engine.Fake != nil {
		return fmt.Errorf("only one engine can be specified at a time")
	}
	if c.Engine.Whisper != nil && c.Engine.Whisper.Timeout < 0 {
		return fmt.Errorf("whisper engine timeout can't be negative")
	}
	if c.Engine.Fake != nil && c.Engine.Fake.Delay < 0 {
		return fmt.Errorf("fake engine delay can't be negative")
	}

	if err := c.Audio.validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	return nil
}

func (c AudioConfig) validate() error {
	if c.ChunkDuration < 0 || c.ChunkBytes < 0 {
		return fmt.Errorf("chunk size can't be negative")
	}

	f := c.format()
	if f == (model.AudioFormat{}) {
		return nil
	}
	return f.Validate()
}

func (c AudioConfig) format() model.AudioFormat {
	return model.AudioFormat{
		SampleRate: c.SampleRate,
		BitDepth:   c.BitDepth,
		Channels:   c.Channels,
	}
}

func (c ServerConfig) toModel() Server {
	s := Server{
		ListenAddress: c.ListenAddress,
		DataDir:       c.DataDir,
		Registry:      c.Registry.Type,
		SQLitePath:    c.Registry.SQLitePath,
		MaxEntries:    c.Registry.MaxEntries,
		QueueCapacity: c.Queue.Capacity,
		MaxFiles:      c.Retention.MaxFiles,
		MaxBytes:      c.Retention.MaxBytes,
		AudioFormat:   c.Audio.format(),
		ChunkDuration: c.Audio.ChunkDuration,
		ChunkBytes:    c.Audio.ChunkBytes,
	}

	switch {
	case c.Engine.Whisper != nil:
		s.Engine = EngineWhisper
		s.WhisperURL = c.Engine.Whisper.URL
		s.WhisperModel = c.Engine.Whisper.Model
		s.WhisperLang = c.Engine.Whisper.Language
		s.WhisperTimeout = c.Engine.Whisper.Timeout
	case c.Engine.Fake != nil:
		s.Engine = EngineFake
		s.FakeDelay = c.Engine.Fake.Delay
	}

	return s
}
