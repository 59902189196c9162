package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/transcribeq/internal/config"
	"github.com/slok/transcribeq/internal/conventions"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
)

func TestMergeServeOptions(t *testing.T) {
	base := serveOptions{
		listenAddress: ":8000",
		registry:      config.RegistryMemory,
		maxEntries:    10,
		queueCapacity: 3,
		engine:        config.EngineWhisper,
		chunkDuration: 20 * time.Second,
	}

	tests := map[string]struct {
		cfg       config.Server
		setByUser []string
		exp       serveOptions
	}{
		"An empty config file should keep the flags.": {
			cfg: config.Server{},
			exp: base,
		},

		"Config file values should replace the flags that were not set.": {
			cfg: config.Server{
				ListenAddress: ":9000",
				Registry:      config.RegistrySQLite,
				SQLitePath:    "/tmp/tasks.db",
				QueueCapacity: 5,
				MaxBytes:      1000,
				Engine:        config.EngineFake,
				FakeDelay:     time.Second,
				ChunkDuration: 5 * time.Second,
			},
			exp: serveOptions{
				listenAddress: ":9000",
				registry:      config.RegistrySQLite,
				dbPath:        "/tmp/tasks.db",
				maxEntries:    10,
				queueCapacity: 5,
				maxBytes:      1000,
				engine:        config.EngineFake,
				fakeDelay:     time.Second,
				chunkDuration: 5 * time.Second,
			},
		},

		"Flags set by the user should take precedence over the config file.": {
			cfg: config.Server{
				ListenAddress: ":9000",
				QueueCapacity: 5,
				Engine:        config.EngineFake,
			},
			setByUser: []string{flagListenAddress, flagEngine},
			exp: serveOptions{
				listenAddress: ":8000",
				registry:      config.RegistryMemory,
				maxEntries:    10,
				queueCapacity: 5,
				engine:        config.EngineWhisper,
				chunkDuration: 20 * time.Second,
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			isSet := func(flag string) bool {
				for _, f := range test.setByUser {
					if f == flag {
						return true
					}
				}
				return false
			}

			got := mergeServeOptions(base, test.cfg, isSet)
			assert.Equal(t, test.exp, got)
		})
	}
}

func newTestServer(t *testing.T, dataDir string) *httptest.Server {
	t.Helper()

	opts := serveOptions{
		registry:      config.RegistrySQLite,
		dbPath:        conventions.DBPath(dataDir),
		engine:        config.EngineFake,
		sampleRate:    16000,
		bitDepth:      16,
		channels:      1,
		chunkDuration: time.Second,
	}
	srv, err := newServer(context.Background(), opts, dataDir, prometheus.NewRegistry(), log.Noop)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.worker.Run(ctx)
	}()

	httpSrv := httptest.NewServer(srv.handler)
	t.Cleanup(func() {
		httpSrv.Close()
		cancel()
		<-done
		_ = srv.close()
	})

	return httpSrv
}

func newTestRoot(serverURL, dataDir string) (*RootCommand, *bytes.Buffer) {
	var out bytes.Buffer
	return &RootCommand{
		ServerURL: serverURL,
		DataDir:   dataDir,
		Stdout:    &out,
		Stderr:    &out,
		Logger:    log.Noop,
	}, &out
}

func TestClientCommandsAgainstServer(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dataDir := t.TempDir()
	srv := newTestServer(t, dataDir)

	audioFile := filepath.Join(t.TempDir(), "meeting.mp3")
	require.NoError(os.WriteFile(audioFile, []byte("some audio"), 0644))

	// Submit and wait.
	root, out := newTestRoot(srv.URL, dataDir)
	submitCmd := SubmitCommand{rootCmd: root, file: audioFile, wait: true, pollInterval: 10 * time.Millisecond}
	require.NoError(submitCmd.Run(ctx))
	assert.Equal(t, "fake transcription of", strings.Join(strings.Fields(out.String())[:3], " "))
	assert.Contains(t, out.String(), "meeting.mp3 (10 bytes)")

	// List.
	root, out = newTestRoot(srv.URL, dataDir)
	listCmd := ListCommand{rootCmd: root, limit: -1, format: formatJSON}
	require.NoError(listCmd.Run(ctx))
	assert.Contains(t, out.String(), `"status": "finished"`)

	// Status of the listed task.
	root, out = newTestRoot(srv.URL, dataDir)
	listCmd = ListCommand{rootCmd: root, limit: 1, statusFilter: "FINISHED", format: formatTable}
	require.NoError(listCmd.Run(ctx))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(lines, 2)
	taskID := strings.Fields(lines[1])[0]

	root, out = newTestRoot(srv.URL, dataDir)
	statusCmd := StatusCommand{rootCmd: root, taskID: taskID, format: formatTable}
	require.NoError(statusCmd.Run(ctx))
	assert.Contains(t, out.String(), "Status:     finished")
	assert.Contains(t, out.String(), "Input:      "+conventions.UploadsPath(dataDir))

	// Result.
	root, out = newTestRoot(srv.URL, dataDir)
	resultCmd := ResultCommand{rootCmd: root, taskID: taskID, format: formatJSON}
	require.NoError(resultCmd.Run(ctx))
	assert.Contains(t, out.String(), `"text": "fake transcription of`)

	// Unknown task.
	root, _ = newTestRoot(srv.URL, dataDir)
	resultCmd = ResultCommand{rootCmd: root, taskID: "missing", format: formatJSON}
	err := resultCmd.Run(ctx)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Invalid status filter.
	root, _ = newTestRoot(srv.URL, dataDir)
	listCmd = ListCommand{rootCmd: root, limit: 10, statusFilter: "stopped", format: formatTable}
	err = listCmd.Run(ctx)
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestTrimCommand(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dataDir := t.TempDir()
	uploads := conventions.UploadsPath(dataDir)
	require.NoError(os.MkdirAll(uploads, 0755))

	now := time.Now()
	for i, name := range []string{"a.wav", "b.wav", "c.wav"} {
		path := filepath.Join(uploads, name)
		require.NoError(os.WriteFile(path, []byte("audio"), 0644))
		mtime := now.Add(time.Duration(i-3) * time.Minute)
		require.NoError(os.Chtimes(path, mtime, mtime))
	}

	root, out := newTestRoot("", dataDir)
	cmd := TrimCommand{rootCmd: root, maxFiles: 1, maxBytes: 1000, maxEntries: 10, format: formatJSON}
	require.NoError(cmd.Run(ctx))

	entries, err := os.ReadDir(uploads)
	require.NoError(err)
	require.Len(entries, 1)
	assert.Equal(t, "c.wav", entries[0].Name())

	assert.Contains(t, out.String(), `"removed": 2`)
	// The runs dir does not exist yet.
	assert.Contains(t, out.String(), `"ok": false`)
}
