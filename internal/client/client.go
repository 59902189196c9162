// Package client is the HTTP client of a transcribeq server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/slok/transcribeq/internal/httpapi"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/model"
)

// DefaultTimeout is the default timeout of the requests.
const DefaultTimeout = 30 * time.Second

// Config is the configuration for the client.
type Config struct {
	// URL is the server base URL.
	URL        string
	HTTPClient *http.Client
	Logger     log.Logger
}

func (c *Config) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q must have scheme and host", c.URL)
	}
	c.URL = strings.TrimRight(c.URL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "client.Client"})
	return nil
}

// Client talks to a transcribeq server.
type Client struct {
	url    string
	http   *http.Client
	logger log.Logger
}

// New returns a new client.
func New(cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		url:    cfg.URL,
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
	}, nil
}

// Submit uploads an audio file and returns the task ID.
func (c *Client) Submit(ctx context.Context, name string, audio io.Reader) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("could not read audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("could not close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/translate", &body)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp httpapi.SubmitResponse
	if err := c.do(req, http.StatusAccepted, &resp); err != nil {
		return "", err
	}

	c.logger.Debugf("Submitted %s as task %s", name, resp.TaskID)
	return resp.TaskID, nil
}

// Status returns the status of a task.
func (c *Client) Status(ctx context.Context, taskID string) (model.TaskStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/status/"+url.PathEscape(taskID), nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}

	var resp httpapi.StatusResponse
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return "", err
	}

	return model.ParseTaskStatus(resp.Status)
}

// Result returns the text of a finished task.
func (c *Client) Result(ctx context.Context, taskID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/result/"+url.PathEscape(taskID), nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}

	var resp httpapi.ResultResponse
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return "", err
	}

	return resp.Text, nil
}

// ListOptions are the task listing options.
type ListOptions struct {
	// Limit is the maximum number of tasks, 0 uses the server default.
	Limit int
	// Fields selects the task fields, empty returns all of them.
	Fields []string
	// Status filters the tasks by status when set.
	Status model.TaskStatus
}

// ListTasks returns the tasks oldest first, only the selected fields are set.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]model.Task, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	for _, f := range opts.Fields {
		q.Add("fields", f)
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/tasks?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	var tasks orderedTasks
	if err := c.do(req, http.StatusOK, &tasks); err != nil {
		return nil, err
	}

	return tasks, nil
}

// Size returns the number of tasks in the registry.
func (c *Client) Size(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/tasks?size=1", nil)
	if err != nil {
		return 0, fmt.Errorf("could not create request: %w", err)
	}

	var resp httpapi.SizeResponse
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return 0, err
	}

	return resp.Size, nil
}

func (c *Client) do(req *http.Request, expCode int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode != expCode {
		return responseError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}

	return nil
}

// responseError maps the server error responses back to the model errors.
func responseError(code int, body []byte) error {
	var res httpapi.ResultResponse
	if code == http.StatusBadRequest && json.Unmarshal(body, &res) == nil && res.Error != "" {
		return fmt.Errorf("%s: %w", res.Error, model.ErrTaskFailed)
	}

	var e httpapi.ErrorResponse
	detail := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Detail != "" {
		detail = e.Detail
	}

	switch code {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", detail, model.ErrQueueFull)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", detail, model.ErrNotFound)
	case http.StatusBadRequest:
		if detail == "Task has not finished yet" {
			return model.ErrNotReady
		}
		return fmt.Errorf("%s: %w", detail, model.ErrNotValid)
	}

	return fmt.Errorf("server error (status %d): %s", code, detail)
}

// orderedTasks decodes the task list object keeping the server order.
type orderedTasks []model.Task

func (o *orderedTasks) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("task list must be an object")
	}

	tasks := []model.Task{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("task id must be a string")
		}

		var t httpapi.Task
		if err := dec.Decode(&t); err != nil {
			return fmt.Errorf("could not decode task %s: %w", id, err)
		}

		task := model.Task{
			ID:        id,
			Status:    model.TaskStatus(t.Status),
			Result:    t.Result,
			Error:     t.Error,
			InputPath: t.InputPath,
		}
		if t.CreatedAt != nil {
			task.CreatedAt = *t.CreatedAt
		}
		tasks = append(tasks, task)
	}

	*o = tasks
	return nil
}
