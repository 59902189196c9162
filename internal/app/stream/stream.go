package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/transcribeq/internal/app/submit"
	"github.com/slok/transcribeq/internal/audio"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/metrics"
	"github.com/slok/transcribeq/internal/model"
)

// Submitter admits the assembled chunks.
type Submitter interface {
	Run(ctx context.Context, req submit.Request) (*submit.Response, error)
}

// ServiceConfig is the configuration for the stream service.
type ServiceConfig struct {
	Submitter Submitter
	// Format is the initial audio format of the streamed PCM.
	Format model.AudioFormat
	// ChunkDuration makes chunks of a fixed audio duration, the required bytes follow
	// the current format. It's ignored when ChunkBytes is set.
	ChunkDuration time.Duration
	// ChunkBytes makes chunks of a fixed number of bytes.
	ChunkBytes      int
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Submitter == nil {
		return fmt.Errorf("submitter is required")
	}
	if c.Format == (model.AudioFormat{}) {
		c.Format = model.DefaultAudioFormat
	}
	if err := c.Format.Validate(); err != nil {
		return fmt.Errorf("invalid audio format: %w", err)
	}
	if c.ChunkDuration == 0 {
		c.ChunkDuration = audio.DefaultChunkDuration
	}
	if c.ChunkDuration < 0 || c.ChunkBytes < 0 {
		return fmt.Errorf("chunk size can't be negative")
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Stream"})
	return nil
}

// Service turns streamed raw audio into transcription jobs. Every session has its own
// assembler, a chunk is submitted as soon as the session buffer reaches the threshold.
type Service struct {
	submitter     Submitter
	chunkDuration time.Duration
	chunkBytes    int
	format        model.AudioFormat
	sessions      map[string]*audio.Assembler
	mu            sync.Mutex
	metrics       metrics.Recorder
	logger        log.Logger
}

// NewService creates a new stream service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Service{
		submitter:     cfg.Submitter,
		chunkDuration: cfg.ChunkDuration,
		chunkBytes:    cfg.ChunkBytes,
		format:        cfg.Format,
		sessions:      map[string]*audio.Assembler{},
		metrics:       cfg.MetricsRecorder,
		logger:        cfg.Logger,
	}
	if err := audio.ValidateThreshold(s.threshold(cfg.Format)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return s, nil
}

func (s *Service) threshold(format model.AudioFormat) audio.Threshold {
	if s.chunkBytes > 0 {
		return audio.ByteMode{Bytes: s.chunkBytes}
	}
	return audio.DurationMode{Duration: s.chunkDuration, Format: format}
}

// Format returns the current audio format.
func (s *Service) Format() model.AudioFormat {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.format
}

// SetFormat changes the audio format of the streamed PCM. Open sessions keep their
// buffered audio and use the new format from now on.
func (s *Service) SetFormat(format model.AudioFormat) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("invalid audio format: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.threshold(format)
	for session, a := range s.sessions {
		if err := a.SetThreshold(t); err != nil {
			return fmt.Errorf("could not update session %s: %w", session, err)
		}
	}
	s.format = format
	s.logger.Infof("Audio format set to %dHz, %d bit, %d channels", format.SampleRate, format.BitDepth, format.Channels)

	return nil
}

// Sessions returns the number of open sessions.
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Service) assembler(session string) (*audio.Assembler, model.AudioFormat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.sessions[session]; ok {
		return a, s.format, nil
	}

	a, err := audio.NewAssembler(s.threshold(s.format))
	if err != nil {
		return nil, model.AudioFormat{}, err
	}
	s.sessions[session] = a
	s.logger.Debugf("Session %s opened", session)

	return a, s.format, nil
}

// SubmitChunk buffers streamed audio of a session. When the buffer is ready it's
// flushed and submitted as a WAV job, submitted is false while buffering. On
// submission failure the flushed audio is dropped.
func (s *Service) SubmitChunk(ctx context.Context, session string, data []byte) (taskID string, submitted bool, err error) {
	if session == "" {
		return "", false, fmt.Errorf("session is required: %w", model.ErrNotValid)
	}

	a, format, err := s.assembler(session)
	if err != nil {
		return "", false, err
	}
	s.metrics.ObserveChunk(ctx, len(data))

	if !a.Append(data) {
		return "", false, nil
	}

	return s.submit(ctx, session, a.Flush(), format)
}

// CloseSession submits the remaining buffered audio of a session, if any, and
// forgets the session.
func (s *Service) CloseSession(ctx context.Context, session string) (taskID string, submitted bool, err error) {
	s.mu.Lock()
	a, ok := s.sessions[session]
	delete(s.sessions, session)
	format := s.format
	s.mu.Unlock()

	if !ok {
		return "", false, nil
	}
	s.logger.Debugf("Session %s closed", session)

	pcm := a.Flush()
	if len(pcm) == 0 {
		return "", false, nil
	}

	return s.submit(ctx, session, pcm, format)
}

func (s *Service) submit(ctx context.Context, session string, pcm []byte, format model.AudioFormat) (string, bool, error) {
	// A WAV holds whole frames only.
	frame := format.Channels * format.BitDepth / 8
	if extra := len(pcm) % frame; extra != 0 {
		s.logger.Debugf("Dropped %d bytes of an incomplete frame of session %s", extra, session)
		pcm = pcm[:len(pcm)-extra]
	}
	if len(pcm) == 0 {
		return "", false, nil
	}

	wav, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		return "", false, fmt.Errorf("could not encode chunk: %w", err)
	}

	resp, err := s.submitter.Run(ctx, submit.Request{Data: wav, Name: session + ".wav"})
	if err != nil {
		s.logger.Warningf("Dropped %d bytes of session %s: %s", len(pcm), session, err)
		return "", false, fmt.Errorf("could not submit chunk: %w", err)
	}

	return resp.TaskID, true, nil
}
