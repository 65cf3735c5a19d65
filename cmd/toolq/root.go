package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/toolq/toolq/internal/action"
	"github.com/toolq/toolq/internal/approval"
	"github.com/toolq/toolq/internal/config"
	"github.com/toolq/toolq/internal/diff"
	"github.com/toolq/toolq/internal/executor"
	"github.com/toolq/toolq/internal/id"
	"github.com/toolq/toolq/internal/logging"
	"github.com/toolq/toolq/internal/queue"
	"github.com/toolq/toolq/internal/workspace"
)

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Color definitions for terminal output
var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// app carries the wired collaborators shared by every subcommand. Flags are
// bound before initialize runs; everything else is built inside it.
type app struct {
	configPath   string
	workspaceDir string
	verbose      bool
	noColor      bool

	manager *config.Manager
	cfg     *config.Config
	logger  logging.Logger
	ws      *workspace.Workspace
	browser *workspace.Browser
	ctrl    *approval.Controller
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "toolq",
		Short: "Review and apply tool calls extracted from model responses",
		Long: fmt.Sprintf(`%s

%s scans assistant responses for TOOL_CALL markers, queues the recognized
actions, and applies each one only after you approve it. File edits are
previewed as unified diffs before anything touches the workspace.

%s
  toolq apply response.txt       # Review actions from a saved response
  cat response.txt | toolq apply # Same, reading from a pipe
  toolq apply -y response.txt    # Apply everything without prompting
  toolq repl                     # Interactive session for pasted responses
  toolq serve                    # HTTP and WebSocket API for editors

%s
  Configuration is read from .toolq.yaml in the current directory or
  $HOME, and every key can be overridden with a TOOLQ_* environment
  variable (for example TOOLQ_APPROVAL_TIMEOUT=30s).`,
			bold("toolq - approval queue for model tool calls"),
			bold("toolq"),
			bold("EXAMPLES:"),
			bold("CONFIGURATION:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default .toolq.yaml, then $HOME/.toolq.yaml)")
	flags.StringVarP(&a.workspaceDir, "workspace", "w", "", "project root for file actions (overrides config)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newApplyCommand(a),
		newREPLCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)

	return rootCmd
}

// initialize loads configuration and wires the approval pipeline. Safe to
// call once per invocation; subcommands call it from their RunE.
func (a *app) initialize() error {
	manager, err := config.NewManager(a.configPath)
	if err != nil {
		return err
	}
	a.manager = manager
	a.cfg = manager.Config()

	if a.workspaceDir != "" {
		a.cfg.Workspace = a.workspaceDir
	}
	if a.noColor || !a.cfg.Color {
		color.NoColor = true
	}

	level := a.cfg.LogLevelValue()
	if a.verbose {
		level = logging.LevelDebug
	}
	logging.Default().SetLevel(level)
	a.logger = a.componentLogger("cli")

	id.SetStrategy(id.ParseStrategy(a.cfg.IDStrategy))

	a.ws = workspace.New(a.cfg.Workspace, a.componentLogger("workspace"))
	a.ws.SetListCacheTTL(a.cfg.Listing.CacheTTL)
	a.browser = workspace.NewBrowser(a.componentLogger("browser"))

	terminal := workspace.NewTerminal(a.cfg.Workspace, a.componentLogger("terminal"))
	metrics := executor.MustNewMetrics(nil)
	exec := executor.New(a.ws, terminal, a.browser, a.componentLogger("executor"), metrics)
	a.ctrl = approval.NewController(
		queue.NewStore(),
		exec,
		action.NewParser(),
		a.ws,
		diff.NewGenerator(a.cfg.Diff.ContextLines, !color.NoColor),
		a.componentLogger("approval"),
		metrics,
	)

	a.logger.Debug("initialized with workspace %q", a.cfg.Workspace)
	return nil
}

// componentLogger scopes the shared file logger to a component. Verbose
// runs tee every line to stderr as well, so debugging does not require
// tailing ~/.toolq/toolq.log.
func (a *app) componentLogger(name string) logging.Logger {
	logger := logging.NewComponentLogger(name)
	if a.verbose {
		return logging.Multi(logger, logging.NewConsole(os.Stderr, name))
	}
	return logger
}

// previewText renders the action the way the prompt shows it: a colored
// diff for file actions, a one-line summary otherwise.
func (a *app) previewText(act action.Action) string {
	result, err := a.ctrl.Preview(act)
	if err != nil {
		return yellow(fmt.Sprintf("preview unavailable: %v", err))
	}
	if result == nil {
		switch act.Kind {
		case action.KindShell:
			return yellow("$ " + act.Command)
		case action.KindFetch:
			return cyan(act.URL)
		}
		return act.Summary()
	}
	if result.UnifiedDiff == "" {
		return gray(result.FormatSummary())
	}
	return result.UnifiedDiff
}

// fullPreviewText renders a file action with unlimited diff context, for
// the "show full diff" prompt choice.
func (a *app) fullPreviewText(act action.Action) string {
	gen := diff.NewGenerator(-1, !color.NoColor)
	result, err := a.ctrl.PreviewWith(act, gen)
	if err != nil {
		return yellow(fmt.Sprintf("preview unavailable: %v", err))
	}
	if result == nil || result.UnifiedDiff == "" {
		return a.previewText(act)
	}
	return result.UnifiedDiff
}
