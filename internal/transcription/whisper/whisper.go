package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/transcription"
)

const (
	DefaultURL     = "http://localhost:8387"
	DefaultModel   = "base"
	DefaultTimeout = 120 * time.Second
)

// EngineConfig is the configuration for the whisper sidecar engine.
type EngineConfig struct {
	URL      string
	Model    string
	Language string
	Timeout  time.Duration
	// HTTPClient overrides the client built from the timeout.
	HTTPClient *http.Client
	FS         afero.Fs
	Logger     log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	c.URL = strings.TrimRight(c.URL, "/")
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout can't be negative")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "transcription.Whisper"})
	return nil
}

// Engine implements transcription.Engine using a faster-whisper HTTP sidecar.
type Engine struct {
	cfg    EngineConfig
	client *http.Client
	fs     afero.Fs
	logger log.Logger
}

// NewEngine creates a new whisper engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		cfg:    cfg,
		client: cfg.HTTPClient,
		fs:     cfg.FS,
		logger: cfg.Logger,
	}, nil
}

// IsAvailable checks if the whisper sidecar is reachable.
func (e *Engine) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Transcribe sends an audio file to the whisper sidecar and returns the text.
func (e *Engine) Transcribe(ctx context.Context, filePath string) (string, error) {
	audioData, err := afero.ReadFile(e.fs, filePath)
	if err != nil {
		return "", fmt.Errorf("read audio file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}

	_ = writer.WriteField("model", e.cfg.Model)
	if e.cfg.Language != "" {
		_ = writer.WriteField("language", e.cfg.Language)
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL+"/transcribe", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper error (status %d): %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), model.ErrEngine)
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}

	e.logger.Debugf("Transcribed %s in %s (language: %s, segments: %d)", filePath, time.Since(start), result.Language, len(result.Segments))

	return strings.TrimSpace(result.Text), nil
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

type whisperSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

var _ transcription.Engine = &Engine{}
