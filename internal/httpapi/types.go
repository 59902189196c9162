package httpapi

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/slok/transcribeq/internal/app/list"
	"github.com/slok/transcribeq/internal/model"
)

// SubmitResponse is the body of an accepted submission.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// StatusResponse is the body of a task status.
type StatusResponse struct {
	Status string `json:"status"`
}

// ResultResponse is the body of a task result, Error is only set for failed tasks.
type ResultResponse struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// ErrorResponse is the body of every other error.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// SizeResponse is the body of the task registry size.
type SizeResponse struct {
	Size int `json:"size"`
}

// AudioSettings is the streamed PCM format.
type AudioSettings struct {
	SampleRate int `json:"sample_rate"`
	BitDepth   int `json:"bit_depth"`
	Channels   int `json:"channels"`
}

// Task is a task record of the task list, only the selected fields are set.
type Task struct {
	Status    string     `json:"status,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	InputPath string     `json:"input_path,omitempty"`
}

// taskList is a JSON object of task ID to task record that keeps the creation order.
type taskList struct {
	tasks  []model.Task
	fields []string
}

func (l taskList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range l.tasks {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(t.ID)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(selectTaskFields(t, l.fields))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func selectTaskFields(t model.Task, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f {
		case list.FieldStatus:
			out[f] = string(t.Status)
		case list.FieldResult:
			out[f] = t.Result
		case list.FieldError:
			out[f] = t.Error
		case list.FieldCreatedAt:
			out[f] = t.CreatedAt.UTC().Format(time.RFC3339Nano)
		case list.FieldInputPath:
			out[f] = t.InputPath
		}
	}
	return out
}
