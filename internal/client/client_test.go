package client_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/transcribeq/internal/client"
	"github.com/slok/transcribeq/internal/model"
)

func newClient(t *testing.T, h http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := client.New(client.Config{URL: srv.URL})
	require.NoError(t, err)
	return c
}

func reply(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

func TestClientSubmit(t *testing.T) {
	tests := map[string]struct {
		handler http.HandlerFunc
		expID   string
		expErr  error
	}{
		"An accepted upload should return the task ID.": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				file, header, err := r.FormFile("file")
				if err != nil || r.URL.Path != "/translate" || header.Filename != "a.wav" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				data, _ := io.ReadAll(file)
				if string(data) != "audio" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				reply(http.StatusAccepted, `{"task_id":"t1"}`)(w, r)
			},
			expID: "t1",
		},
		"A full queue should return a queue full error.": {
			handler: reply(http.StatusTooManyRequests, `{"detail":"Queue limit reached"}`),
			expErr:  model.ErrQueueFull,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, test.handler)

			id, err := c.Submit(context.Background(), "a.wav", strings.NewReader("audio"))
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else if assert.NoError(t, err) {
				assert.Equal(t, test.expID, id)
			}
		})
	}
}

func TestClientResult(t *testing.T) {
	tests := map[string]struct {
		handler http.HandlerFunc
		expText string
		expErr  error
	}{
		"A finished task should return the text.": {
			handler: reply(http.StatusOK, `{"text":"hello"}`),
			expText: "hello",
		},
		"A failed task should return a task failed error.": {
			handler: reply(http.StatusBadRequest, `{"error":"engine failure: boom"}`),
			expErr:  model.ErrTaskFailed,
		},
		"An unfinished task should return a not ready error.": {
			handler: reply(http.StatusBadRequest, `{"detail":"Task has not finished yet"}`),
			expErr:  model.ErrNotReady,
		},
		"An unknown task should return a not found error.": {
			handler: reply(http.StatusNotFound, `{"detail":"Invalid task ID"}`),
			expErr:  model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, test.handler)

			text, err := c.Result(context.Background(), "t1")
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else if assert.NoError(t, err) {
				assert.Equal(t, test.expText, text)
			}
		})
	}
}

func TestClientStatus(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/t1" {
			reply(http.StatusNotFound, `{"detail":"Invalid task ID"}`)(w, r)
			return
		}
		reply(http.StatusOK, `{"status":"running"}`)(w, r)
	})

	st, err := c.Status(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusRunning, st)

	_, err = c.Status(context.Background(), "t2")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClientListTasks(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("size") == "1" {
			reply(http.StatusOK, `{"size":2}`)(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("limit") != "5" || len(q["fields"]) != 2 || q.Get("status") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reply(http.StatusOK, `{"zz":{"status":"finished","created_at":"2026-10-17T10:00:00Z"},"aa":{"status":"pending"}}`)(w, r)
	})

	tasks, err := c.ListTasks(context.Background(), client.ListOptions{Limit: 5, Fields: []string{"status", "created_at"}})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "zz", tasks[0].ID)
	assert.Equal(t, model.TaskStatusFinished, tasks[0].Status)
	assert.True(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC).Equal(tasks[0].CreatedAt))
	assert.Equal(t, "aa", tasks[1].ID)
	assert.True(t, tasks[1].CreatedAt.IsZero())

	n, err := c.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClientListTasksStatusFilter(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "failed" || r.URL.Query().Has("limit") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reply(http.StatusOK, `{"aa":{"status":"failed","error":"engine failure: boom"}}`)(w, r)
	})

	tasks, err := c.ListTasks(context.Background(), client.ListOptions{Status: model.TaskStatusFailed})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "engine failure: boom", tasks[0].Error)
}

func TestNewClientInvalidConfig(t *testing.T) {
	tests := map[string]struct {
		url string
	}{
		"Missing URL should fail.":        {url: ""},
		"URL without scheme should fail.": {url: "localhost:8080"},
		"URL without host should fail.":   {url: "http://"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := client.New(client.Config{URL: test.url})
			assert.Error(t, err)
		})
	}
}
