// Package lib provides a Go SDK that runs the transcribeq pipeline in-process.
//
// This package allows applications to admit and transcribe audio without running
// the transcribeq server. The client wires the admission queue, the single worker,
// the task registry and the disk retention, the same way the server does.
//
// # Quick Start
//
// Create a client, start its worker and submit audio:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	go client.Run(ctx)
//
//	id, err := client.SubmitFile(ctx, "meeting.wav", f)
//	if errors.Is(err, lib.ErrQueueFull) {
//	    // Retry later.
//	}
//
//	status, _ := client.GetStatus(ctx, id)
//	text, err := client.GetResult(ctx, id)
//
// # Admission
//
// At most [Config].QueueCapacity tasks (3 by default) wait to run. Submissions over
// that limit fail right away with [ErrQueueFull], they never block. Tasks run one at
// a time in admission order.
//
// # Engines
//
// The SDK supports two engine types and custom ones:
//
//   - [EngineWhisper]: a faster-whisper HTTP sidecar (see [Config].WhisperURL).
//   - [EngineFake]: deterministic text derived from the audio file. No model needed.
//   - [Config].Transcriber: any [Transcriber] implementation.
//
// # Streaming
//
// Raw PCM audio can be streamed by session. Every time a session accumulates
// [Config].ChunkDuration of audio, it's submitted as a WAV task:
//
//	id, ok, err := client.SubmitStreamChunk(ctx, "mic-1", pcm)
//	if ok {
//	    fmt.Println("submitted", id)
//	}
//
// # Retention
//
// Only the last [Config].MaxTasks tasks (10 by default) are kept, older ones are
// evicted whatever their status. The uploaded audio and the transcriptions on disk
// are limited by [Config].MaxFiles and [Config].MaxBytes, the oldest files are
// removed first.
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Task does not exist or was evicted.
//   - [ErrQueueFull]: The admission queue is full.
//   - [ErrNotReady]: The task has not finished yet.
//   - [ErrTaskFailed]: The task failed, the error message is the failure.
//   - [ErrNotValid]: Invalid input.
//
// # Testing
//
// Use [EngineFake] and a temporary data dir to write tests without a real model:
//
//	client, _ := lib.New(ctx, lib.Config{
//	    DataDir: t.TempDir(),
//	    Engine:  lib.EngineFake,
//	})
//	defer client.Close()
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines.
package lib
