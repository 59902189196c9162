// Package audio has the streaming audio building blocks: the chunk assembler that
// batches piecemeal PCM bytes into processable units and the WAV container codec.
package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/slok/transcribeq/internal/model"
)

// Threshold decides how many bytes make a chunk. It's one of DurationMode or ByteMode.
type Threshold interface {
	// RequiredBytes is the minimum buffer size for a chunk to be ready.
	RequiredBytes() int
	isThreshold()
}

// DurationMode is ready when the buffer holds a duration of audio in a format.
type DurationMode struct {
	Duration time.Duration
	Format   model.AudioFormat
}

// RequiredBytes returns duration * sample rate * (bit depth/8) * channels.
func (d DurationMode) RequiredBytes() int {
	return int(int64(d.Format.BytesPerSecond()) * int64(d.Duration) / int64(time.Second))
}

func (DurationMode) isThreshold() {}

// ByteMode is ready when the buffer holds a number of bytes.
type ByteMode struct {
	Bytes int
}

// RequiredBytes returns the configured bytes.
func (b ByteMode) RequiredBytes() int { return b.Bytes }

func (ByteMode) isThreshold() {}

// DefaultChunkDuration is the audio duration of a default chunk.
const DefaultChunkDuration = 20 * time.Second

// DefaultThreshold is 20 seconds of 16kHz 16 bit mono audio.
var DefaultThreshold Threshold = DurationMode{
	Duration: DefaultChunkDuration,
	Format:   model.DefaultAudioFormat,
}

// ValidateThreshold checks a threshold can be used.
func ValidateThreshold(t Threshold) error {
	switch v := t.(type) {
	case nil:
		return fmt.Errorf("threshold is required: %w", model.ErrNotValid)
	case DurationMode:
		if err := v.Format.Validate(); err != nil {
			return fmt.Errorf("invalid duration mode format: %w", err)
		}
		if v.Duration <= 0 {
			return fmt.Errorf("duration must be positive: %w", model.ErrNotValid)
		}
	case ByteMode:
		if v.Bytes <= 0 {
			return fmt.Errorf("bytes must be positive: %w", model.ErrNotValid)
		}
	}

	if t.RequiredBytes() <= 0 {
		return fmt.Errorf("threshold requires %d bytes: %w", t.RequiredBytes(), model.ErrNotValid)
	}

	return nil
}

// IsReady returns true when buf has enough bytes to make a chunk.
func IsReady(buf []byte, t Threshold) bool {
	if len(buf) == 0 {
		return false
	}
	return len(buf) >= t.RequiredBytes()
}

// Assembler accumulates the raw audio of a streaming session. A session has a single
// writer, the mutex makes Flush atomic with respect to Append.
type Assembler struct {
	threshold Threshold
	buf       []byte
	mu        sync.Mutex
}

// NewAssembler returns a new assembler.
func NewAssembler(t Threshold) (*Assembler, error) {
	if err := ValidateThreshold(t); err != nil {
		return nil, err
	}

	return &Assembler{
		threshold: t,
		buf:       make([]byte, 0, t.RequiredBytes()),
	}, nil
}

// SetThreshold changes the threshold, the buffered bytes are kept.
func (a *Assembler) SetThreshold(t Threshold) error {
	if err := ValidateThreshold(t); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.threshold = t
	return nil
}

// Append adds audio bytes and returns true if the buffer is ready to be flushed.
func (a *Assembler) Append(p []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf = append(a.buf, p...)
	return IsReady(a.buf, a.threshold)
}

// Ready returns true if the buffer is ready to be flushed.
func (a *Assembler) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return IsReady(a.buf, a.threshold)
}

// Len returns the buffered bytes.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.buf)
}

// Flush returns all the accumulated bytes and empties the buffer.
func (a *Assembler) Flush() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	a.buf = a.buf[:0]

	return out
}
