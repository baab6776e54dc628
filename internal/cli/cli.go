// Package cli implements the lariat command-line interface.
//
// The commands mirror the project workflow: init creates a manifest,
// add declares dependencies, lock resolves them into lariat.lock and
// install builds the locked packages into an R environment. Further
// commands export the lock to other formats, draw the dependency graph,
// manage the download cache and serve a local repository.
//
// All commands support --verbose (-v) for debug-level logging. Loggers
// are passed through context.Context.
package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Log levels re-exported so main does not need to import charmbracelet
// directly.
const (
	LogInfo  = log.InfoLevel
	LogDebug = log.DebugLevel
)

var (
	version string
	commit  string
	date    string
)

// SetVersion sets the version information displayed by --version,
// typically injected via ldflags at build time.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// CLI holds the state shared by every command.
type CLI struct {
	logger *log.Logger
}

// New creates a CLI logging to w at the given level.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{logger: newLogger(w, level)}
}

// SetLogLevel changes the log level of the CLI's logger.
func (c *CLI) SetLogLevel(level log.Level) {
	c.logger.SetLevel(level)
}

// RootCommand builds the lariat command tree.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "lariat",
		Short:        "Lariat manages reproducible R project environments",
		Long:         `Lariat resolves the dependencies declared in lariat.toml into a lock file and installs the locked packages into isolated per-project R environments.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.logger))
			return nil
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("lariat %s\ncommit: %s\nbuilt: %s\n", version, commit, date))

	root.AddCommand(c.initCommand())
	root.AddCommand(c.addCommand())
	root.AddCommand(c.lockCommand())
	root.AddCommand(c.installCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.environmentCommand())

	return root
}
