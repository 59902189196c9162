package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/transcribeq/internal/client"
	"github.com/slok/transcribeq/internal/model"
)

type SubmitCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file         string
	wait         bool
	pollInterval time.Duration
}

// NewSubmitCommand returns the submit command.
func NewSubmitCommand(rootCmd *RootCommand, app *kingpin.Application) *SubmitCommand {
	c := &SubmitCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("submit", "Submit an audio file for transcription.")
	c.Cmd.Arg("file", "Audio file path.").Required().ExistingFileVar(&c.file)
	c.Cmd.Flag("wait", "Wait for the task to end and print its result.").BoolVar(&c.wait)
	c.Cmd.Flag("poll-interval", "Interval between status checks while waiting.").Default("1s").DurationVar(&c.pollInterval)

	return c
}

func (c SubmitCommand) Name() string { return c.Cmd.FullCommand() }

func (c SubmitCommand) Run(ctx context.Context) error {
	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	f, err := os.Open(c.file)
	if err != nil {
		return fmt.Errorf("could not open audio file: %w", err)
	}
	defer f.Close()

	id, err := cli.Submit(ctx, filepath.Base(c.file), f)
	if err != nil {
		if errors.Is(err, model.ErrQueueFull) {
			return fmt.Errorf("server is busy, retry later: %w", err)
		}
		return fmt.Errorf("could not submit audio: %w", err)
	}
	c.rootCmd.Logger.Infof("Task %s admitted", id)

	if !c.wait {
		fmt.Fprintln(c.rootCmd.Stdout, id)
		return nil
	}

	text, err := waitResult(ctx, cli, id, c.pollInterval)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.rootCmd.Stdout, text)

	return nil
}

func waitResult(ctx context.Context, cli *client.Client, id string, interval time.Duration) (string, error) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		text, err := cli.Result(ctx, id)
		switch {
		case err == nil:
			return text, nil
		case !errors.Is(err, model.ErrNotReady):
			return "", fmt.Errorf("task %s: %w", id, err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
}
