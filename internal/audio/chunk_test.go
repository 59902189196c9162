package audio_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/transcribeq/internal/audio"
	"github.com/slok/transcribeq/internal/model"
)

func TestIsReady(t *testing.T) {
	tests := map[string]struct {
		threshold audio.Threshold
		expBytes  int
	}{
		"Default 20 seconds of 16kHz 16 bit mono.": {
			threshold: audio.DefaultThreshold,
			expBytes:  20 * 16000 * 2 * 1,
		},
		"Two seconds of 44.1kHz 16 bit stereo.": {
			threshold: audio.DurationMode{
				Duration: 2 * time.Second,
				Format:   model.AudioFormat{SampleRate: 44100, BitDepth: 16, Channels: 2},
			},
			expBytes: 2 * 44100 * 2 * 2,
		},
		"One second of 8kHz 8 bit mono.": {
			threshold: audio.DurationMode{
				Duration: time.Second,
				Format:   model.AudioFormat{SampleRate: 8000, BitDepth: 8, Channels: 1},
			},
			expBytes: 8000,
		},
		"Byte mode should use the bytes directly.": {
			threshold: audio.ByteMode{Bytes: 16000},
			expBytes:  16000,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(test.expBytes, test.threshold.RequiredBytes())
			assert.True(audio.IsReady(make([]byte, test.expBytes), test.threshold))
			assert.True(audio.IsReady(make([]byte, test.expBytes+1), test.threshold))
			assert.False(audio.IsReady(make([]byte, test.expBytes-1), test.threshold))
		})
	}
}

func TestIsReadyEmptyBuffer(t *testing.T) {
	assert.False(t, audio.IsReady(nil, audio.ByteMode{Bytes: 1}))
}

func TestValidateThreshold(t *testing.T) {
	tests := map[string]struct {
		threshold audio.Threshold
		expErr    bool
	}{
		"Default threshold should be valid.": {
			threshold: audio.DefaultThreshold,
		},
		"Missing threshold should fail.": {
			threshold: nil,
			expErr:    true,
		},
		"Zero bytes should fail.": {
			threshold: audio.ByteMode{},
			expErr:    true,
		},
		"Invalid format should fail.": {
			threshold: audio.DurationMode{Duration: time.Second, Format: model.AudioFormat{SampleRate: 16000, BitDepth: 7, Channels: 1}},
			expErr:    true,
		},
		"Zero duration should fail.": {
			threshold: audio.DurationMode{Format: model.DefaultAudioFormat},
			expErr:    true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := audio.ValidateThreshold(test.threshold)
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssemblerFlushRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	a, err := audio.NewAssembler(audio.ByteMode{Bytes: 10})
	require.NoError(err)

	writes := [][]byte{{1, 2, 3}, {4, 5, 6}, {7, 8, 9, 10, 11}}
	var written []byte
	var ready bool
	for _, w := range writes {
		written = append(written, w...)
		ready = a.Append(w)
	}

	require.True(ready)
	require.True(a.Ready())

	got := a.Flush()
	assert.Equal(written, got)
	assert.Equal(0, a.Len())
	assert.False(a.Ready())

	// Buffer is reused after flush.
	assert.False(a.Append([]byte{42}))
	assert.Equal([]byte{42}, a.Flush())
	assert.True(bytes.Equal(written, got), "flushed data should not be changed by later appends")
}

func TestAssemblerNotReadyBelowThreshold(t *testing.T) {
	a, err := audio.NewAssembler(audio.DurationMode{
		Duration: time.Second,
		Format:   model.AudioFormat{SampleRate: 100, BitDepth: 16, Channels: 1},
	})
	require.NoError(t, err)

	assert.False(t, a.Append(make([]byte, 199)))
	assert.True(t, a.Append(make([]byte, 1)))
}

func TestAssemblerSetThreshold(t *testing.T) {
	require := require.New(t)

	a, err := audio.NewAssembler(audio.ByteMode{Bytes: 10})
	require.NoError(err)

	assert.False(t, a.Append(make([]byte, 5)))
	require.NoError(a.SetThreshold(audio.ByteMode{Bytes: 4}))
	assert.True(t, a.Ready())
	assert.Equal(t, 5, a.Len())

	assert.Error(t, a.SetThreshold(audio.ByteMode{}))
	assert.True(t, a.Ready())
}
