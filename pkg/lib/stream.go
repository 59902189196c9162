package lib

import (
	"context"
)

// SubmitStreamChunk appends raw PCM audio to the session buffer. When the buffer
// reaches the chunk size it's submitted as a WAV file and the task ID is returned
// with ok set to true. Otherwise ok is false and the audio keeps accumulating.
//
// Returns [ErrQueueFull] when the chunk could not be admitted, the buffered audio
// is dropped in that case.
func (c *Client) SubmitStreamChunk(ctx context.Context, session string, pcm []byte) (taskID string, ok bool, err error) {
	taskID, ok, err = c.stream.SubmitChunk(ctx, session, pcm)
	if err != nil {
		return "", false, mapError(err)
	}
	return taskID, ok, nil
}

// CloseStream ends a session, the remaining buffered audio is submitted if any.
func (c *Client) CloseStream(ctx context.Context, session string) (taskID string, ok bool, err error) {
	taskID, ok, err = c.stream.CloseSession(ctx, session)
	if err != nil {
		return "", false, mapError(err)
	}
	return taskID, ok, nil
}

// AudioFormat returns the current format of the streamed audio.
func (c *Client) AudioFormat() AudioFormat {
	return fromInternalAudioFormat(c.stream.Format())
}

// SetAudioFormat changes the format of the streamed audio, it applies to the open
// sessions too.
//
// Returns [ErrNotValid] if the format is not valid.
func (c *Client) SetAudioFormat(f AudioFormat) error {
	return mapError(c.stream.SetFormat(toInternalAudioFormat(f)))
}
