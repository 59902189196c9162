package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/transcribeq/internal/client"
	"github.com/slok/transcribeq/internal/conventions"
	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/printer"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// DefaultServerURL is the address the client commands talk to by default.
const DefaultServerURL = "http://127.0.0.1:8000"

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string
	ServerURL  string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger

	dataDirSetByUser bool
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory of the uploaded audio, the transcriptions and the SQLite database.").Envar("TRANSCRIBEQ_DATA_DIR").Default(defaultDataDir).IsSetByUser(&c.dataDirSetByUser).StringVar(&c.DataDir)
	app.Flag("server-url", "transcribeq server address used by the client commands.").Default(DefaultServerURL).StringVar(&c.ServerURL)

	return c
}

func (r RootCommand) newClient() (*client.Client, error) {
	cli, err := client.New(client.Config{
		URL:    r.ServerURL,
		Logger: r.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create client: %w", err)
	}
	return cli, nil
}

func newPrinter(format string, w io.Writer) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(w)
	}
	return printer.NewTablePrinter(w)
}
