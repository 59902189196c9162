package transcription

import "context"

// Engine transcribes a persisted audio file into text. The call is synchronous, the
// worker never runs two transcriptions at the same time.
type Engine interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// EngineFunc is a helper to create engines from functions.
type EngineFunc func(ctx context.Context, filePath string) (string, error)

func (f EngineFunc) Transcribe(ctx context.Context, filePath string) (string, error) {
	return f(ctx, filePath)
}
