package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/slok/transcribeq/internal/model"
)

// WAVHeaderSize is the size of a canonical PCM WAV header.
const WAVHeaderSize = 44

// wavHeader is the canonical 44 byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes.
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM.
	AudioFormat   uint16  // 1 for PCM.
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps raw PCM data in a WAV container.
func EncodeWAV(pcm []byte, format model.AudioFormat) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio format: %w", err)
	}

	blockAlign := format.Channels * format.BitDepth / 8
	if len(pcm)%blockAlign != 0 {
		return nil, fmt.Errorf("pcm data length %d is not a multiple of the %d byte frame: %w", len(pcm), blockAlign, model.ErrNotValid)
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.BytesPerSecond()),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: uint16(format.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("could not write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// WAVInfo is the information of a decoded WAV header.
type WAVInfo struct {
	Format   model.AudioFormat
	DataSize int
}

// DecodeWAVHeader reads the header of a PCM WAV file.
func DecodeWAVHeader(data []byte) (*WAVInfo, error) {
	if len(data) < WAVHeaderSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d: %w", WAVHeaderSize, len(data), model.ErrNotValid)
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("could not read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, fmt.Errorf("missing RIFF header: %w", model.ErrNotValid)
	case string(header.Format[:]) != "WAVE":
		return nil, fmt.Errorf("missing WAVE format: %w", model.ErrNotValid)
	case string(header.Subchunk1ID[:]) != "fmt ":
		return nil, fmt.Errorf("missing fmt chunk: %w", model.ErrNotValid)
	case string(header.Subchunk2ID[:]) != "data":
		return nil, fmt.Errorf("missing data chunk: %w", model.ErrNotValid)
	case header.AudioFormat != 1:
		return nil, fmt.Errorf("unsupported audio format %d, only PCM is supported: %w", header.AudioFormat, model.ErrNotValid)
	}

	info := &WAVInfo{
		Format: model.AudioFormat{
			SampleRate: int(header.SampleRate),
			BitDepth:   int(header.BitsPerSample),
			Channels:   int(header.NumChannels),
		},
		DataSize: int(header.Subchunk2Size),
	}
	if err := info.Format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WAV format: %w", err)
	}

	return info, nil
}

// Duration returns the audio duration in seconds.
func (w WAVInfo) Duration() float64 {
	return float64(w.DataSize) / float64(w.Format.BytesPerSecond())
}
