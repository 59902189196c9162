package printer

import "github.com/slok/transcribeq/internal/model"

// Printer knows how to print task information in different formats.
type Printer interface {
	PrintList(tasks []model.Task) error
	PrintStatus(task model.Task) error
	PrintResult(taskID, text string) error
	PrintTrim(summaries []TrimSummary) error
	PrintMessage(msg string) error
}

// TrimSummary is the outcome of applying the retention limits to a directory.
type TrimSummary struct {
	Dir     string
	Removed int
	Files   int
	Bytes   int64
	OK      bool
}
