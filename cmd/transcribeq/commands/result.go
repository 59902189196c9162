package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type ResultCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	format string
}

// NewResultCommand returns the result command.
func NewResultCommand(rootCmd *RootCommand, app *kingpin.Application) *ResultCommand {
	c := &ResultCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("result", "Get the transcription of a finished task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ResultCommand) Name() string { return c.Cmd.FullCommand() }

func (c ResultCommand) Run(ctx context.Context) error {
	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	text, err := cli.Result(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("could not get task result: %w", err)
	}

	p := newPrinter(c.format, c.rootCmd.Stdout)
	if err := p.PrintResult(c.taskID, text); err != nil {
		return fmt.Errorf("could not print result: %w", err)
	}

	return nil
}
