package fake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/slok/transcribeq/internal/audio"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/transcription"
)

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	FS afero.Fs
	// Delay simulates the model latency on every transcription.
	Delay time.Duration
	// Err makes every transcription fail with it when set.
	Err    error
	Logger log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay can't be negative")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "transcription.Fake"})
	return nil
}

// Engine is a fake implementation of the transcription.Engine interface.
// It doesn't run any model, it describes the audio it receives.
type Engine struct {
	fs     afero.Fs
	delay  time.Duration
	err    error
	logger log.Logger
}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		fs:     cfg.FS,
		delay:  cfg.Delay,
		err:    cfg.Err,
		logger: cfg.Logger,
	}, nil
}

// Transcribe returns a deterministic text for the audio file.
func (e *Engine) Transcribe(ctx context.Context, filePath string) (string, error) {
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.delay):
		}
	}

	data, err := afero.ReadFile(e.fs, filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("audio file %s: %w", filePath, model.ErrNotFound)
		}
		return "", fmt.Errorf("could not read audio file: %w", err)
	}

	if e.err != nil {
		return "", e.err
	}

	name := filepath.Base(filePath)
	info, err := audio.DecodeWAVHeader(data)
	if err != nil {
		e.logger.Debugf("Transcribed raw audio %s", name)
		return fmt.Sprintf("fake transcription of %s (%d bytes)", name, len(data)), nil
	}

	e.logger.Debugf("Transcribed WAV audio %s", name)
	return fmt.Sprintf("fake transcription of %s (%.2fs, %dHz, %d channels)", name, info.Duration(), info.Format.SampleRate, info.Format.Channels), nil
}

var _ transcription.Engine = &Engine{}
