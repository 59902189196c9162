package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/slok/transcribeq/internal/model"
)

// TablePrinter prints task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintList prints tasks in a table format.
func (t *TablePrinter) PrintList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header.
	fmt.Fprintln(tw, "ID\tSTATUS\tCREATED")

	// Print rows.
	for _, task := range tasks {
		created := "-"
		if !task.CreatedAt.IsZero() {
			created = TimeAgo(task.CreatedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", task.ID, task.Status, created)
	}

	return nil
}

// PrintStatus prints detailed task status.
func (t *TablePrinter) PrintStatus(task model.Task) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", task.ID)
	fmt.Fprintf(t.writer, "Status:     %s\n", task.Status)

	if !task.CreatedAt.IsZero() {
		fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(task.CreatedAt))
	}

	if task.InputPath != "" {
		fmt.Fprintf(t.writer, "Input:      %s\n", task.InputPath)
	}

	switch task.Status {
	case model.TaskStatusFinished:
		fmt.Fprintf(t.writer, "Result:     %s\n", task.Result)
	case model.TaskStatusFailed:
		fmt.Fprintf(t.writer, "Error:      %s\n", task.Error)
	}

	return nil
}

// PrintResult prints the transcribed text as is.
func (t *TablePrinter) PrintResult(taskID, text string) error {
	_, err := fmt.Fprintln(t.writer, text)
	return err
}

// PrintTrim prints the retention outcome per directory.
func (t *TablePrinter) PrintTrim(summaries []TrimSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "DIR\tREMOVED\tFILES\tSIZE\tOK")
	for _, s := range summaries {
		ok := "yes"
		if !s.OK {
			ok = "no"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", s.Dir, s.Removed, s.Files, FormatBytes(s.Bytes), ok)
	}

	return nil
}

// PrintMessage prints a simple message.
func (t *TablePrinter) PrintMessage(msg string) error {
	_, err := fmt.Fprintln(t.writer, msg)
	return err
}
