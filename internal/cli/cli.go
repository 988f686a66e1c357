// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and global flags for innerguide.

package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/innerguide/internal/config"
	"github.com/jeranaias/innerguide/internal/logging"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// annotationNoConfig marks commands that run without loading the config
// file, so a broken config can still be inspected and repaired.
const annotationNoConfig = "innerguide/no-config"

// =============================================================================
// APP STATE
// =============================================================================

// app is the state shared by every command of one invocation.
type app struct {
	// Global flags
	configPath string
	logLevel   string
	ephemeral  bool

	cfg    *config.Config
	logger zerolog.Logger
	closer io.Closer

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	out    *styles
	errOut *styles

	// httpClient replaces the inference transport when set
	httpClient *http.Client
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		out:    newStyles(stdout),
		errOut: newStyles(stderr),
		logger: zerolog.Nop(),
	}
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Annotations[annotationNoConfig] == "true" {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return newCommandError(cmd.Name(), "load config", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	logger, closer, err := logging.Open(cfg.Log, a.stderr)
	if err != nil {
		return newCommandError(cmd.Name(), "set up logging", err)
	}
	a.cfg = cfg
	a.logger = logger
	a.closer = closer

	a.logger.Debug().
		Str("command", cmd.CommandPath()).
		Str("storage", cfg.Storage.Driver).
		Bool("ephemeral", a.ephemeral).
		Msg("starting")
	return nil
}

// close releases the log file.
func (a *app) close() {
	if a.closer != nil {
		_ = a.closer.Close()
		a.closer = nil
	}
}

// resolvedConfigPath returns --config or the default TOML path.
func (a *app) resolvedConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPathTOML()
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

func newRootCommand(a *app) *cobra.Command {
	var chatOpts chatOptions

	root := &cobra.Command{
		Use:   "innerguide",
		Short: "Streaming chat with a conversation that follows you",
		Long: `innerguide is a terminal chat client for a streaming inference endpoint.

Answers stream in as they are generated. Every message is saved in the
background so the conversation is restored the next time you start a
session. Run without a command to start an interactive chat.`,
		Example: `  innerguide
  innerguide ask "How do I stay focused when I'm overwhelmed?"
  innerguide history --limit 20
  innerguide export --format json --out ./exports`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChat(cmd.Context(), chatOpts)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Field: "flag", Reason: err.Error()}
	})
	root.SetVersionTemplate(versionString() + "\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.innerguide/config.toml)")
	pf.StringVar(&a.logLevel, "log-level", "", "override log level (trace, debug, info, warn, error, disabled)")
	pf.BoolVar(&a.ephemeral, "ephemeral", false, "keep this session in memory only; nothing is loaded or saved")
	chatOpts.bind(root)

	root.AddCommand(
		newChatCommand(a),
		newAskCommand(a),
		newHistoryCommand(a),
		newClearCommand(a),
		newExportCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)
	return root
}

// execute runs the command tree for args and returns the exit code.
func (a *app) execute(ctx context.Context, args []string) int {
	defer a.close()

	root := newRootCommand(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		displayError(a.stderr, a.errOut, err)
	}
	return exitCode(err)
}

// Execute runs innerguide with the process arguments and returns the exit
// code. SIGTERM cancels the root context; SIGINT is handled per command.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	return a.execute(ctx, os.Args[1:])
}

// =============================================================================
// VERSION
// =============================================================================

func versionString() string {
	return fmt.Sprintf("innerguide %s (commit %s, built %s, %s %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(a.stdout, versionString())
			return nil
		},
	}
}
