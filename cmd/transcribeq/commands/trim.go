package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/spf13/afero"

	"github.com/slok/transcribeq/internal/conventions"
	"github.com/slok/transcribeq/internal/printer"
	"github.com/slok/transcribeq/internal/retention"
	"github.com/slok/transcribeq/internal/storage"
	"github.com/slok/transcribeq/internal/storage/sqlite"
)

type TrimCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	maxFiles   int
	maxBytes   int64
	maxEntries int
	dbPath     string
	format     string
}

// NewTrimCommand returns the trim command.
func NewTrimCommand(rootCmd *RootCommand, app *kingpin.Application) *TrimCommand {
	c := &TrimCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("trim", "Apply the retention limits to the data dir and the SQLite task registry.")
	c.Cmd.Flag("max-files", "Maximum number of files kept on the uploads and runs dirs.").Default(fmt.Sprint(retention.DefaultMaxFiles)).IntVar(&c.maxFiles)
	c.Cmd.Flag("max-bytes", "Maximum size in bytes of the uploads and runs dirs.").Default(fmt.Sprint(retention.DefaultMaxBytes)).Int64Var(&c.maxBytes)
	c.Cmd.Flag("max-entries", "Number of tasks the SQLite registry keeps.").Default(fmt.Sprint(storage.DefaultMaxEntries)).IntVar(&c.maxEntries)
	c.Cmd.Flag("db-path", "SQLite database path, by default inside the data dir.").StringVar(&c.dbPath)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c TrimCommand) Name() string { return c.Cmd.FullCommand() }

func (c TrimCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger
	dataDir := c.rootCmd.DataDir

	steward, err := retention.NewSteward(retention.StewardConfig{
		FS:     afero.NewOsFs(),
		Limits: retention.Limits{MaxFiles: c.maxFiles, MaxBytes: c.maxBytes},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create storage steward: %w", err)
	}

	var summaries []printer.TrimSummary
	for _, dir := range []string{conventions.UploadsPath(dataDir), conventions.RunsPath(dataDir)} {
		report, ok := steward.Trim(ctx, dir)
		summaries = append(summaries, printer.TrimSummary{
			Dir:     dir,
			Removed: len(report.Removed),
			Files:   report.Files,
			Bytes:   report.Bytes,
			OK:      ok,
		})
	}

	dbPath := c.dbPath
	if dbPath == "" {
		dbPath = conventions.DBPath(dataDir)
	}
	evicted, err := c.trimRegistry(ctx, dbPath)
	if err != nil {
		return err
	}
	if evicted >= 0 {
		logger.Infof("Evicted %d tasks from %s", evicted, dbPath)
	}

	p := newPrinter(c.format, c.rootCmd.Stdout)
	if err := p.PrintTrim(summaries); err != nil {
		return fmt.Errorf("could not print trim: %w", err)
	}

	return nil
}

// trimRegistry evicts the oldest tasks of the SQLite registry, it returns -1 when
// there is no database.
func (c TrimCommand) trimRegistry(ctx context.Context, dbPath string) (int, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			c.rootCmd.Logger.Debugf("No SQLite registry at %s", dbPath)
			return -1, nil
		}
		return 0, fmt.Errorf("could not stat database: %w", err)
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath:     dbPath,
		MaxEntries: c.maxEntries,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return 0, fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	n, err := repo.TrimTasks(ctx, c.maxEntries)
	if err != nil {
		return 0, fmt.Errorf("could not trim tasks: %w", err)
	}

	return n, nil
}
