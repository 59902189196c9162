package worker_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
	"github.com/slok/transcribeq/internal/queue"
	"github.com/slok/transcribeq/internal/retention"
	"github.com/slok/transcribeq/internal/storage"
	"github.com/slok/transcribeq/internal/storage/memory"
	"github.com/slok/transcribeq/internal/storage/storagemock"
	"github.com/slok/transcribeq/internal/transcription"
	"github.com/slok/transcribeq/internal/worker"
)

// jobList hands the jobs in order and stops the worker once they are exhausted.
type jobList struct {
	jobs   []queue.Job
	cancel context.CancelFunc
}

func (j *jobList) Take(ctx context.Context) (queue.Job, error) {
	if len(j.jobs) == 0 {
		j.cancel()
		return queue.Job{}, ctx.Err()
	}
	job := j.jobs[0]
	j.jobs = j.jobs[1:]
	return job, nil
}

type trimmerFunc func(ctx context.Context, dir string) (retention.Report, bool)

func (f trimmerFunc) Trim(ctx context.Context, dir string) (retention.Report, bool) { return f(ctx, dir) }

var okTrimmer = trimmerFunc(func(context.Context, string) (retention.Report, bool) { return retention.Report{}, true })

func newTask(id, input string, i int) model.Task {
	return model.Task{
		ID:        id,
		CreatedAt: time.Date(2026, 10, 17, 10, 0, i, 0, time.UTC),
		Status:    model.TaskStatusPending,
		InputPath: input,
	}
}

func TestWorkerRun(t *testing.T) {
	tests := map[string]struct {
		inputs    map[string]string
		tasks     []model.Task
		engine    func(repo storage.TaskRepository) transcription.Engine
		trimmer   worker.Trimmer
		expTasks  map[string]model.Task
		expOutput map[string]string
	}{
		"A successful job should finish with the text and write the output.": {
			inputs: map[string]string{"/uploads/a.wav": "audio-a"},
			tasks:  []model.Task{newTask("t1", "/uploads/a.wav", 1)},
			engine: func(storage.TaskRepository) transcription.Engine {
				return transcription.EngineFunc(func(_ context.Context, path string) (string, error) {
					return "hello from " + path, nil
				})
			},
			trimmer: okTrimmer,
			expTasks: map[string]model.Task{
				"t1": {Status: model.TaskStatusFinished, Result: "hello from /uploads/a.wav"},
			},
			expOutput: map[string]string{"/runs/a.txt": "hello from /uploads/a.wav"},
		},
		"An engine error should fail the task with an engine failure.": {
			inputs: map[string]string{"/uploads/a.wav": "audio-a"},
			tasks:  []model.Task{newTask("t1", "/uploads/a.wav", 1)},
			engine: func(storage.TaskRepository) transcription.Engine {
				return transcription.EngineFunc(func(context.Context, string) (string, error) {
					return "", fmt.Errorf("model exploded")
				})
			},
			trimmer: okTrimmer,
			expTasks: map[string]model.Task{
				"t1": {Status: model.TaskStatusFailed, Error: "engine failure: model exploded"},
			},
		},
		"An engine panic should fail the task and keep the loop running.": {
			inputs: map[string]string{"/uploads/a.wav": "audio-a", "/uploads/b.wav": "audio-b"},
			tasks:  []model.Task{newTask("t1", "/uploads/a.wav", 1), newTask("t2", "/uploads/b.wav", 2)},
			engine: func(storage.TaskRepository) transcription.Engine {
				return transcription.EngineFunc(func(_ context.Context, path string) (string, error) {
					if path == "/uploads/a.wav" {
						panic("boom")
					}
					return "ok", nil
				})
			},
			trimmer: okTrimmer,
			expTasks: map[string]model.Task{
				"t1": {Status: model.TaskStatusFailed, Error: "panic: boom"},
				"t2": {Status: model.TaskStatusFinished, Result: "ok"},
			},
			expOutput: map[string]string{"/runs/b.txt": "ok"},
		},
		"A missing input should fail the task without calling the engine.": {
			tasks: []model.Task{newTask("t1", "/uploads/missing.wav", 1)},
			engine: func(storage.TaskRepository) transcription.Engine {
				return transcription.EngineFunc(func(context.Context, string) (string, error) {
					panic("engine should not be called")
				})
			},
			trimmer: okTrimmer,
			expTasks: map[string]model.Task{
				"t1": {Status: model.TaskStatusFailed, Error: "input not found: /uploads/missing.wav"},
			},
		},
		"A retention failure on the outputs should fail the task.": {
			inputs: map[string]string{"/uploads/a.wav": "audio-a"},
			tasks:  []model.Task{newTask("t1", "/uploads/a.wav", 1)},
			engine: func(storage.TaskRepository) transcription.Engine {
				return transcription.EngineFunc(func(context.Context, string) (string, error) { return "ok", nil })
			},
			trimmer: trimmerFunc(func(context.Context, string) (retention.Report, bool) { return retention.Report{}, false }),
			expTasks: map[string]model.Task{
				"t1": {Status: model.TaskStatusFailed, Error: "retention failure: could not trim /runs"},
			},
			expOutput: map[string]string{"/runs/a.txt": "ok"},
		},
		"A task evicted while running should still write its output.": {
			inputs: map[string]string{"/uploads/a.wav": "audio-a"},
			tasks:  []model.Task{newTask("t1", "/uploads/a.wav", 1)},
			engine: func(repo storage.TaskRepository) transcription.Engine {
				return transcription.EngineFunc(func(ctx context.Context, _ string) (string, error) {
					_, err := repo.TrimTasks(ctx, 0)
					return "ok", err
				})
			},
			trimmer:   okTrimmer,
			expTasks:  map[string]model.Task{},
			expOutput: map[string]string{"/runs/a.txt": "ok"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			fs := afero.NewMemMapFs()
			for path, data := range test.inputs {
				require.NoError(afero.WriteFile(fs, path, []byte(data), 0644))
			}

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			jobs := &jobList{cancel: cancel}
			for _, task := range test.tasks {
				require.NoError(repo.CreateTask(ctx, task))
				jobs.jobs = append(jobs.jobs, queue.Job{TaskID: task.ID, InputPath: task.InputPath})
			}

			w, err := worker.New(worker.Config{
				Jobs:       jobs,
				Repository: repo,
				Engine:     test.engine(repo),
				Trimmer:    test.trimmer,
				FS:         fs,
				OutputDir:  "/runs",
				Logger:     log.Noop,
			})
			require.NoError(err)

			err = w.Run(ctx)
			require.NoError(err)

			gotTasks, err := repo.ListTasks(context.Background(), 0)
			require.NoError(err)
			require.Len(gotTasks, len(test.expTasks))
			for _, got := range gotTasks {
				exp := test.expTasks[got.ID]
				assert.Equal(exp.Status, got.Status, got.ID)
				assert.Equal(exp.Result, got.Result, got.ID)
				assert.Equal(exp.Error, got.Error, got.ID)
			}

			for path, exp := range test.expOutput {
				got, err := afero.ReadFile(fs, path)
				require.NoError(err)
				assert.Equal(exp, string(got))
			}
		})
	}
}

func TestWorkerRunEvictedBeforeRunningIsDropped(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	var calls int32
	w, err := worker.New(worker.Config{
		Jobs:       &jobList{jobs: []queue.Job{{TaskID: "evicted", InputPath: "/uploads/a.wav"}}, cancel: cancel},
		Repository: repo,
		Engine: transcription.EngineFunc(func(context.Context, string) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", nil
		}),
		Trimmer:   okTrimmer,
		FS:        afero.NewMemMapFs(),
		OutputDir: "/runs",
	})
	require.NoError(err)

	require.NoError(w.Run(ctx))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestWorkerRunNeverTranscribesConcurrently(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := afero.NewMemMapFs()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	q, err := queue.New(queue.Config{})
	require.NoError(err)

	const total = 6
	var running, maxRunning, done int32
	eng := transcription.EngineFunc(func(context.Context, string) (string, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&done, 1)
		return "ok", nil
	})

	w, err := worker.New(worker.Config{
		Jobs:       q,
		Repository: repo,
		Engine:     eng,
		Trimmer:    okTrimmer,
		FS:         fs,
		OutputDir:  "/runs",
	})
	require.NoError(err)

	errC := make(chan error, 1)
	go func() { errC <- w.Run(ctx) }()

	for i := 0; i < total; i++ {
		id := fmt.Sprintf("t%d", i)
		path := fmt.Sprintf("/uploads/%d.wav", i)
		require.NoError(afero.WriteFile(fs, path, []byte("audio"), 0644))
		require.NoError(repo.CreateTask(ctx, newTask(id, path, i)))
		require.Eventually(func() bool {
			return q.Submit(queue.Job{TaskID: id, InputPath: path}) == nil
		}, 5*time.Second, time.Millisecond)
	}

	require.Eventually(func() bool { return atomic.LoadInt32(&done) == total }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(<-errC)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestNewWorkerInvalidConfig(t *testing.T) {
	tests := map[string]struct {
		cfg worker.Config
	}{
		"Missing jobs source should fail.": {
			cfg: worker.Config{Repository: &memory.Repository{}, Engine: transcription.EngineFunc(nil), Trimmer: okTrimmer, OutputDir: "/runs"},
		},
		"Missing output dir should fail.": {
			cfg: worker.Config{Jobs: &jobList{}, Repository: &memory.Repository{}, Engine: transcription.EngineFunc(nil), Trimmer: okTrimmer},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := worker.New(test.cfg)
			assert.Error(t, err)
		})
	}
}

func TestWorkerRegistryErrors(t *testing.T) {
	dbErr := fmt.Errorf("database is locked")

	tests := map[string]struct {
		repoMock    func(m *storagemock.MockTaskRepository)
		expExecuted bool
	}{
		"A registry error marking the task as running should be retried.": {
			repoMock: func(m *storagemock.MockTaskRepository) {
				m.On("UpdateTask", mock.Anything, "t1", model.TaskStatusRunning, "").Once().Return(dbErr)
				m.On("UpdateTask", mock.Anything, "t1", model.TaskStatusRunning, "").Once().Return(nil)
				m.On("UpdateTask", mock.Anything, "t1", model.TaskStatusFinished, "ok").Once().Return(nil)
			},
			expExecuted: true,
		},
		"A task that can't be marked as running should not be executed.": {
			repoMock: func(m *storagemock.MockTaskRepository) {
				m.On("UpdateTask", mock.Anything, "t1", model.TaskStatusRunning, "").Twice().Return(dbErr)
			},
			expExecuted: false,
		},
		"A task evicted before running should not be retried nor executed.": {
			repoMock: func(m *storagemock.MockTaskRepository) {
				m.On("UpdateTask", mock.Anything, "t1", model.TaskStatusRunning, "").Once().Return(model.ErrNotFound)
			},
			expExecuted: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			fs := afero.NewMemMapFs()
			require.NoError(afero.WriteFile(fs, "/uploads/a.wav", []byte("audio-a"), 0644))

			repo := storagemock.NewMockTaskRepository(t)
			test.repoMock(repo)

			var called atomic.Bool
			engine := transcription.EngineFunc(func(context.Context, string) (string, error) {
				called.Store(true)
				return "ok", nil
			})

			w, err := worker.New(worker.Config{
				Jobs:       &jobList{cancel: cancel, jobs: []queue.Job{{TaskID: "t1", InputPath: "/uploads/a.wav"}}},
				Repository: repo,
				Engine:     engine,
				Trimmer:    okTrimmer,
				FS:         fs,
				OutputDir:  "/runs",
				RetryWait:  time.Millisecond,
				Logger:     log.Noop,
			})
			require.NoError(err)

			err = w.Run(ctx)
			require.NoError(err)
			assert.Equal(t, test.expExecuted, called.Load())
		})
	}
}
