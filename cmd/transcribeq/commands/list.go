package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/transcribeq/internal/client"
	"github.com/slok/transcribeq/internal/model"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	limit        int
	statusFilter string
	format       string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List the tasks, oldest first.")
	c.Cmd.Flag("limit", "Maximum number of tasks, a negative one lists all of them.").Default("10").IntVar(&c.limit)
	c.Cmd.Flag("status", "Filter by status (pending, running, finished, failed).").StringVar(&c.statusFilter)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	// Parse status filter if provided.
	var statusFilter *model.TaskStatus
	if c.statusFilter != "" {
		status, err := model.ParseTaskStatus(strings.ToLower(c.statusFilter))
		if err != nil {
			return fmt.Errorf("invalid status filter: %w", err)
		}
		statusFilter = &status
	}

	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	// The server lists everything up to the registry size.
	limit := c.limit
	if limit < 0 {
		if limit, err = cli.Size(ctx); err != nil {
			return fmt.Errorf("could not get registry size: %w", err)
		}
	}

	var tasks []model.Task
	if limit > 0 {
		opts := client.ListOptions{Limit: limit}
		if statusFilter != nil {
			opts.Status = *statusFilter
		}
		tasks, err = cli.ListTasks(ctx, opts)
		if err != nil {
			return fmt.Errorf("could not list tasks: %w", err)
		}
	}

	p := newPrinter(c.format, c.rootCmd.Stdout)
	if err := p.PrintList(tasks); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}
