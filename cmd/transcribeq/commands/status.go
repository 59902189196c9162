package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/transcribeq/internal/client"
	"github.com/slok/transcribeq/internal/model"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	format string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Get the status of a task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	status, err := cli.Status(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not get task status: %w", err)
	}

	// The status endpoint only knows about the status, the rest of the details come
	// from the task listing.
	task := model.Task{ID: c.taskID, Status: status}
	if details, err := taskDetails(ctx, cli, c.taskID); err != nil {
		c.rootCmd.Logger.Warningf("Could not get task details: %s", err)
	} else if details != nil {
		task = *details
		task.Status = status
	}

	p := newPrinter(c.format, c.rootCmd.Stdout)
	if err := p.PrintStatus(task); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}

func taskDetails(ctx context.Context, cli *client.Client, id string) (*model.Task, error) {
	n, err := cli.Size(ctx)
	if err != nil || n == 0 {
		return nil, err
	}

	tasks, err := cli.ListTasks(ctx, client.ListOptions{Limit: n})
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return &t, nil
		}
	}

	return nil, nil
}
