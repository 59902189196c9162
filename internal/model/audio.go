package model

import "fmt"

// AudioFormat describes raw PCM audio.
type AudioFormat struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// DefaultAudioFormat is 16kHz, 16 bit, mono PCM.
var DefaultAudioFormat = AudioFormat{
	SampleRate: 16000,
	BitDepth:   16,
	Channels:   1,
}

// Validate checks the format can be used to size and encode audio.
func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d: %w", f.SampleRate, ErrNotValid)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d: %w", f.Channels, ErrNotValid)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bit depth must be 8, 16, 24 or 32, got %d: %w", f.BitDepth, ErrNotValid)
	}
	return nil
}

// BytesPerSecond returns the number of bytes one second of audio takes.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * (f.BitDepth / 8) * f.Channels
}
