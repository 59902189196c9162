package lib_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/transcribeq/pkg/lib"
)

// newTestClient creates a client isolated in temp dirs.
func newTestClient(t *testing.T, cfg lib.Config) *lib.Client {
	t.Helper()

	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	if cfg.Engine == "" && cfg.Transcriber == nil {
		cfg.Engine = lib.EngineFake
	}

	client, err := lib.New(context.Background(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// runWorker runs the client worker until the test ends.
func runWorker(t *testing.T, client *lib.Client) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func waitStatus(t *testing.T, client *lib.Client, id string, exp lib.TaskStatus) {
	t.Helper()

	assert.Eventually(t, func() bool {
		st, err := client.GetStatus(context.Background(), id)
		return err == nil && st == exp
	}, 5*time.Second, 10*time.Millisecond)
}

func submit(t *testing.T, client *lib.Client, name string) (string, error) {
	t.Helper()
	return client.SubmitFile(context.Background(), name, strings.NewReader("audio of "+name))
}

func TestNew(t *testing.T) {
	tests := map[string]struct {
		cfg    lib.Config
		expErr bool
		expIs  error
	}{
		"The memory registry should work.": {
			cfg: lib.Config{Registry: lib.RegistryMemory},
		},

		"The SQLite registry should work.": {
			cfg: lib.Config{Registry: lib.RegistrySQLite},
		},

		"The whisper engine should work.": {
			cfg: lib.Config{Engine: lib.EngineWhisper, WhisperURL: "http://127.0.0.1:1"},
		},

		"An unknown registry should fail.": {
			cfg:    lib.Config{Registry: "redis"},
			expErr: true,
			expIs:  lib.ErrNotValid,
		},

		"An unknown engine should fail.": {
			cfg:    lib.Config{Engine: "vosk"},
			expErr: true,
			expIs:  lib.ErrNotValid,
		},

		"A negative queue capacity should fail.": {
			cfg:    lib.Config{Engine: lib.EngineFake, QueueCapacity: -1},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test.cfg.DataDir = t.TempDir()

			client, err := lib.New(context.Background(), test.cfg)
			if test.expErr {
				require.Error(t, err)
				if test.expIs != nil {
					assert.ErrorIs(t, err, test.expIs)
				}
				return
			}

			require.NoError(t, err)
			assert.NoError(t, client.Close())
		})
	}
}

func TestClientAdmissionAtCapacity(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newTestClient(t, lib.Config{})

	// Without the worker nothing leaves the queue.
	var ids []string
	for _, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		id, err := submit(t, client, name)
		require.NoError(err)
		ids = append(ids, id)
	}
	assert.Equal(t, 3, client.QueueLen())

	_, err := submit(t, client, "d.mp3")
	require.ErrorIs(err, lib.ErrQueueFull)

	for _, id := range ids {
		st, err := client.GetStatus(ctx, id)
		require.NoError(err)
		assert.Equal(t, lib.TaskStatusPending, st)
	}

	// Once a task has completed there is room again.
	runWorker(t, client)
	waitStatus(t, client, ids[0], lib.TaskStatusFinished)

	id, err := submit(t, client, "d.mp3")
	require.NoError(err)
	ids = append(ids, id)

	for _, id := range ids {
		waitStatus(t, client, id, lib.TaskStatusFinished)
	}

	text, err := client.GetResult(ctx, ids[3])
	require.NoError(err)
	assert.Contains(t, text, "fake transcription of")
	assert.Contains(t, text, "d.mp3")
}

func TestClientExecutesInAdmissionOrder(t *testing.T) {
	var order []string
	engine := lib.TranscriberFunc(func(_ context.Context, filePath string) (string, error) {
		order = append(order, filepath.Base(filePath))
		return "ok", nil
	})
	client := newTestClient(t, lib.Config{Transcriber: engine})

	var ids []string
	for _, name := range []string{"first.wav", "second.wav", "third.wav"} {
		id, err := submit(t, client, name)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runWorker(t, client)
	waitStatus(t, client, ids[2], lib.TaskStatusFinished)

	// The worker is the only writer of order and it already finished the last task.
	require.Len(t, order, 3)
	assert.True(t, strings.HasSuffix(order[0], "first.wav"))
	assert.True(t, strings.HasSuffix(order[1], "second.wav"))
	assert.True(t, strings.HasSuffix(order[2], "third.wav"))
}

func TestClientEngineFailure(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	engine := lib.TranscriberFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model crashed")
	})
	client := newTestClient(t, lib.Config{Transcriber: engine})
	runWorker(t, client)

	id, err := submit(t, client, "a.wav")
	require.NoError(err)
	waitStatus(t, client, id, lib.TaskStatusFailed)

	task, err := client.GetTask(ctx, id)
	require.NoError(err)
	assert.NotEmpty(t, task.Error)
	assert.Contains(t, task.Error, "model crashed")
	assert.Empty(t, task.Result)

	_, err = client.GetResult(ctx, id)
	assert.ErrorIs(t, err, lib.ErrTaskFailed)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestClientResultNotReady(t *testing.T) {
	client := newTestClient(t, lib.Config{})

	id, err := submit(t, client, "a.wav")
	require.NoError(t, err)

	_, err = client.GetResult(context.Background(), id)
	assert.ErrorIs(t, err, lib.ErrNotReady)
}

func TestClientUnknownTask(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, lib.Config{})

	_, err := client.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, lib.ErrNotFound)

	_, err = client.GetResult(ctx, "missing")
	assert.ErrorIs(t, err, lib.ErrNotFound)
}

func TestClientSubmitPath(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, lib.Config{})

	_, err := client.SubmitPath(ctx, filepath.Join(t.TempDir(), "missing.wav"))
	assert.ErrorIs(t, err, lib.ErrNotFound)

	_, err = client.SubmitFile(ctx, "empty.wav", bytes.NewReader(nil))
	assert.ErrorIs(t, err, lib.ErrNotValid)
}

func TestClientRegistryEviction(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newTestClient(t, lib.Config{Registry: lib.RegistrySQLite, MaxTasks: 2})

	var ids []string
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		id, err := submit(t, client, name)
		require.NoError(err)
		ids = append(ids, id)
		// ULIDs and creation times need to be ordered.
		time.Sleep(2 * time.Millisecond)
	}

	n, err := client.TaskCount(ctx)
	require.NoError(err)
	assert.Equal(t, 2, n)

	_, err = client.GetStatus(ctx, ids[0])
	assert.ErrorIs(t, err, lib.ErrNotFound)

	// The evicted task job is dropped, the rest run.
	runWorker(t, client)
	waitStatus(t, client, ids[1], lib.TaskStatusFinished)
	waitStatus(t, client, ids[2], lib.TaskStatusFinished)

	_, err = client.GetStatus(ctx, ids[0])
	assert.ErrorIs(t, err, lib.ErrNotFound)
}

func TestClientRestartFailsUnfinishedTasks(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	cfg := lib.Config{
		DataDir:  t.TempDir(),
		Registry: lib.RegistrySQLite,
		Engine:   lib.EngineFake,
	}

	// The first process admits a task and stops before running it.
	client1, err := lib.New(ctx, cfg)
	require.NoError(err)
	id, err := submit(t, client1, "a.wav")
	require.NoError(err)
	require.NoError(client1.Close())

	client2 := newTestClient(t, cfg)
	runWorker(t, client2)

	task, err := client2.GetTask(ctx, id)
	require.NoError(err)
	assert.Equal(t, lib.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "interrupted")

	_, err = client2.GetResult(ctx, id)
	assert.ErrorIs(t, err, lib.ErrTaskFailed)

	// New tasks run normally.
	id, err = submit(t, client2, "b.wav")
	require.NoError(err)
	waitStatus(t, client2, id, lib.TaskStatusFinished)
}

func TestClientListTasks(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newTestClient(t, lib.Config{})

	var ids []string
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		id, err := submit(t, client, name)
		require.NoError(err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	tasks, err := client.ListTasks(ctx, nil)
	require.NoError(err)
	require.Len(tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, ids[i], task.ID)
		assert.Equal(t, lib.TaskStatusPending, task.Status)
		assert.NotEmpty(t, task.InputPath)
	}

	tasks, err = client.ListTasks(ctx, &lib.ListTasksOpts{Limit: 2, Fields: []string{"status"}})
	require.NoError(err)
	require.Len(tasks, 2)
	assert.Equal(t, ids[0], tasks[0].ID)
	assert.Equal(t, lib.TaskStatusPending, tasks[0].Status)
	assert.Empty(t, tasks[0].InputPath)
	assert.True(t, tasks[0].CreatedAt.IsZero())

	finished := lib.TaskStatusFinished
	tasks, err = client.ListTasks(ctx, &lib.ListTasksOpts{Status: &finished})
	require.NoError(err)
	assert.Empty(t, tasks)

	_, err = client.ListTasks(ctx, &lib.ListTasksOpts{Fields: []string{"wrong"}})
	assert.ErrorIs(t, err, lib.ErrNotValid)
}

func TestClientStream(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	client := newTestClient(t, lib.Config{ChunkDuration: time.Second})
	runWorker(t, client)

	// 0.5s of the default 16kHz 16 bit mono audio.
	half := make([]byte, 16000)

	id, ok, err := client.SubmitStreamChunk(ctx, "s1", half)
	require.NoError(err)
	assert.False(t, ok)
	assert.Empty(t, id)

	id, ok, err = client.SubmitStreamChunk(ctx, "s1", half)
	require.NoError(err)
	require.True(ok)
	waitStatus(t, client, id, lib.TaskStatusFinished)

	text, err := client.GetResult(ctx, id)
	require.NoError(err)
	assert.Contains(t, text, "(1.00s, 16000Hz, 1 channels)")

	// The remaining audio is submitted when the session ends.
	_, ok, err = client.SubmitStreamChunk(ctx, "s1", half)
	require.NoError(err)
	assert.False(t, ok)
	id, ok, err = client.CloseStream(ctx, "s1")
	require.NoError(err)
	require.True(ok)
	waitStatus(t, client, id, lib.TaskStatusFinished)

	text, err = client.GetResult(ctx, id)
	require.NoError(err)
	assert.Contains(t, text, "(0.50s, 16000Hz, 1 channels)")
}

func TestClientAudioFormat(t *testing.T) {
	client := newTestClient(t, lib.Config{})

	assert.Equal(t, lib.AudioFormat{SampleRate: 16000, BitDepth: 16, Channels: 1}, client.AudioFormat())

	err := client.SetAudioFormat(lib.AudioFormat{SampleRate: 8000, BitDepth: 8, Channels: 2})
	require.NoError(t, err)
	assert.Equal(t, lib.AudioFormat{SampleRate: 8000, BitDepth: 8, Channels: 2}, client.AudioFormat())

	err = client.SetAudioFormat(lib.AudioFormat{SampleRate: 8000, BitDepth: 12, Channels: 2})
	assert.ErrorIs(t, err, lib.ErrNotValid)
}
