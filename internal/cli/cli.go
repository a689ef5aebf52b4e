package cli

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/config"
)

// Version information (set at build time)
var (
	Version = "dev"
	Commit  = "none"
)

// Globals contains global flags and output streams shared by every command
type Globals struct {
	Format  string
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	logger *zap.Logger
}

// CLI is the root kong command structure
type CLI struct {
	Format  string `short:"f" enum:"ndjson,text" default:"${config_format}" help:"Output format (ndjson or text)"`
	Verbose bool   `short:"v" help:"Emit debug logs to stderr"`

	Open        OpenCmd        `cmd:"" help:"Open an external session and hold the lock until it closes"`
	Status      StatusCmd      `cmd:"" help:"Show the persisted session record"`
	Close       CloseCmd       `cmd:"" help:"Close the persisted session from another terminal"`
	Participant ParticipantCmd `cmd:"" help:"Run the cooperating participant for a session"`
	Config      ConfigCmd      `cmd:"" help:"Show or generate configuration"`
	Schema      SchemaCmd      `cmd:"" help:"Print JSON Schema for NDJSON output"`
	Version     VersionCmd     `cmd:"" help:"Show version"`
	Update      UpdateCmd      `cmd:"" help:"Show how to upgrade heirlock"`
}

// NewGlobalsWithConfig builds Globals from parsed flags, falling back to config.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	if cfg == nil {
		cfg = config.Default()
	}
	format := c.Format
	if format == "" {
		format = cfg.Format
	}
	return &Globals{
		Format:  format,
		Verbose: c.Verbose || cfg.Verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
}

// Logger returns the shared zap logger, building it on first use.
func (g *Globals) Logger() *zap.Logger {
	if g.logger == nil {
		g.logger = newLogger(g)
	}
	return g.logger
}

// Debug logs a formatted debug line when --verbose is set.
func (g *Globals) Debug(format string, args ...interface{}) {
	g.Logger().Sugar().Debugf(format, args...)
}

// VersionCmd shows version information
type VersionCmd struct{}

// VersionOutput is the NDJSON form of the version command
type VersionOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
}

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return writeJSON(globals.Stdout, VersionOutput{
			Type:          "version",
			SchemaVersion: 1,
			Version:       Version,
			Commit:        Commit,
		})
	}
	fmt.Fprintf(globals.Stdout, "heirlock %s (%s)\n", Version, Commit)
	return nil
}
