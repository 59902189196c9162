package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/transcribeq/internal/model"
)

// JSONPrinter prints task information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a task in the list output (subset of fields).
type listItem struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// statusOutput represents the full task status output.
type statusOutput struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	InputPath string     `json:"input_path,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type resultOutput struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type trimOutput struct {
	Dir     string `json:"dir"`
	Removed int    `json:"removed"`
	Files   int    `json:"files"`
	Bytes   int64  `json:"bytes"`
	OK      bool   `json:"ok"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

func utcTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// PrintList prints tasks in JSON format with a subset of fields.
func (j *JSONPrinter) PrintList(tasks []model.Task) error {
	items := make([]listItem, len(tasks))
	for i, t := range tasks {
		items[i] = listItem{
			ID:        t.ID,
			Status:    string(t.Status),
			CreatedAt: utcTime(t.CreatedAt),
		}
	}

	return j.encode(items)
}

// PrintStatus prints detailed task status in JSON format.
func (j *JSONPrinter) PrintStatus(task model.Task) error {
	return j.encode(statusOutput{
		ID:        task.ID,
		Status:    string(task.Status),
		CreatedAt: utcTime(task.CreatedAt),
		InputPath: task.InputPath,
		Result:    task.Result,
		Error:     task.Error,
	})
}

// PrintResult prints the transcribed text in JSON format.
func (j *JSONPrinter) PrintResult(taskID, text string) error {
	return j.encode(resultOutput{ID: taskID, Text: text})
}

// PrintTrim prints the retention outcome per directory in JSON format.
func (j *JSONPrinter) PrintTrim(summaries []TrimSummary) error {
	items := make([]trimOutput, len(summaries))
	for i, s := range summaries {
		items[i] = trimOutput(s)
	}

	return j.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
