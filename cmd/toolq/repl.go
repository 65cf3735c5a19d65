package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/toolq/toolq/internal/action"
	"github.com/toolq/toolq/internal/diff"
	"github.com/toolq/toolq/internal/id"
	"github.com/toolq/toolq/internal/workspace"
)

func newREPLCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session for pasting and reviewing responses",
		Long: `Start an interactive session. Paste model responses, inspect the queued
actions, and approve them selectively. Type 'help' inside the session
for the command list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initialize(); err != nil {
				return err
			}
			return runREPL(cmd.Context(), a)
		},
	}
}

const replPrompt = "toolq> "

func runREPL(ctx context.Context, a *app) error {
	fmt.Println(bold("toolq interactive session"))
	fmt.Println("Paste a response or type 'paste' for multi-line input. 'help' lists commands.")
	fmt.Printf("Session: %s\n\n", gray(id.NewSessionID()))

	homeDir, _ := os.UserHomeDir()
	historyFile := filepath.Join(homeDir, ".toolq", "history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            replPrompt,
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,

		Stdin:  readline.NewCancelableStdin(os.Stdin),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		input, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(input) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" || input == "q" {
			break
		}

		cmd, rest, _ := strings.Cut(input, " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "help":
			printREPLHelp()
		case "load":
			if rest == "" {
				fmt.Println(red("usage: load <file>"))
				continue
			}
			data, err := os.ReadFile(rest)
			if err != nil {
				fmt.Printf("%s\n", red(fmt.Sprintf("load: %v", err)))
				continue
			}
			a.replSubmit(ctx, string(data), true)
		case "paste":
			text, err := collectPaste(rl)
			if err != nil {
				return err
			}
			if text != "" {
				a.replSubmit(ctx, text, true)
			}
		case "list":
			a.replList()
		case "show":
			a.replShow(ctx, rest)
		case "approve":
			a.replApprove(ctx, rest)
		case "all":
			a.replApproveAll(ctx)
		case "clear":
			a.replClear(ctx)
		case "copy":
			a.replCopy(rest)
		case "context":
			a.replContext()
		default:
			// Anything else is treated as a pasted response.
			a.replSubmit(ctx, input, false)
		}
	}

	fmt.Println("Goodbye!")
	return nil
}

func printREPLHelp() {
	fmt.Print(`Commands:
  load <file>    Parse a response from a file
  paste          Multi-line input, finished by a single '.' line
  list           Show the pending queue
  show <id>      Full diff preview for one action
  approve <id>   Apply one action
  all            Apply every pending action except shell commands
  clear          Drop every pending action
  copy <id>      Copy an action's diff or command to the clipboard
  context        Show workspace root and touched files
  help           This list
  quit           Leave the session

Any other input is parsed as a response.
`)
}

// collectPaste reads lines until a line holding only "." and returns them
// joined. Ctrl+C cancels the paste without leaving the session.
func collectPaste(rl *readline.Instance) (string, error) {
	fmt.Println(gray("Paste the response, then finish with a single '.' line."))
	rl.SetPrompt("... ")
	defer rl.SetPrompt(replPrompt)

	var b strings.Builder
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println(gray("paste canceled"))
			return "", nil
		} else if err == io.EOF {
			break
		}
		if strings.TrimSpace(line) == "." {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// replSubmit queues the recognized actions. When the text holds none and
// render is set, it is shown as markdown instead; a pasted response with
// no tool calls is usually prose worth reading.
func (a *app) replSubmit(ctx context.Context, text string, render bool) {
	acts, err := a.ctrl.Submit(ctx, text)
	if err != nil {
		if errors.Is(err, action.ErrNoActions) && render {
			fmt.Println(yellow("no actions recognized; rendering as markdown"))
			fmt.Println(renderMarkdown(text))
			return
		}
		fmt.Printf("%s\n", red(err.Error()))
		return
	}
	fmt.Printf("%s\n", green(fmt.Sprintf("%d action(s) queued", len(acts))))
	for _, act := range acts {
		fmt.Printf("  %s  %s\n", cyan(act.ID), act.Summary())
	}
}

func (a *app) replList() {
	acts := a.ctrl.List()
	if len(acts) == 0 {
		fmt.Println(gray("queue is empty"))
		return
	}
	for _, act := range acts {
		fmt.Printf("  %s  %s\n", cyan(act.ID), act.Summary())
	}
}

func (a *app) replShow(ctx context.Context, actionID string) {
	if actionID == "" {
		fmt.Println(red("usage: show <id>"))
		return
	}
	act, found := a.ctrl.Get(actionID)
	if !found {
		fmt.Printf("%s\n", red("unknown action: "+actionID))
		return
	}

	fmt.Printf("%s\n", bold(act.Summary()))
	if act.Kind == action.KindFetch {
		peekCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if title, err := a.browser.PeekTitle(peekCtx, act.URL); err == nil && title != "" {
			fmt.Printf("%s %s\n", gray("title:"), title)
		}
		return
	}
	fmt.Println(a.fullPreviewText(act))
}

func (a *app) replApprove(ctx context.Context, actionID string) {
	if actionID == "" {
		fmt.Println(red("usage: approve <id>"))
		return
	}
	res, err := a.ctrl.ApproveOne(ctx, actionID)
	if res == nil {
		fmt.Printf("%s\n", red(err.Error()))
		return
	}
	if res.Failed() {
		fmt.Printf("%s %s: %v\n", red("failed"), res.Action.Summary(), res.Err)
		return
	}
	fmt.Printf("%s %s\n", green(res.Status), res.Action.Summary())
}

func (a *app) replApproveAll(ctx context.Context) {
	if !a.ctrl.HasApprovable() {
		if pending := len(a.ctrl.List()); pending > 0 {
			fmt.Println(gray(fmt.Sprintf("%d shell command(s) pending; approve them individually", pending)))
		} else {
			fmt.Println(gray("queue is empty"))
		}
		return
	}
	report, err := a.ctrl.ApproveAll(ctx)
	if err != nil {
		fmt.Printf("%s\n", red(err.Error()))
		return
	}
	for _, res := range report.Results {
		if res.Failed() {
			fmt.Printf("%s %s: %v\n", red("failed"), res.Action.Summary(), res.Err)
			continue
		}
		fmt.Printf("%s %s\n", green(res.Status), res.Action.Summary())
	}
	fmt.Println(bold(report.Summary()))
	if report.Skipped > 0 {
		fmt.Println(gray("shell commands stay queued; approve them individually"))
	}
}

func (a *app) replClear(ctx context.Context) {
	n, err := a.ctrl.Clear(ctx)
	if err != nil {
		fmt.Printf("%s\n", red(err.Error()))
		return
	}
	if n == 0 {
		fmt.Println(gray("queue is already empty"))
		return
	}
	fmt.Printf("%s\n", green(fmt.Sprintf("dropped %d pending action(s)", n)))
}

// replCopy puts the most useful text form of an action on the clipboard:
// the plain diff for file actions, the command or URL otherwise.
func (a *app) replCopy(actionID string) {
	if actionID == "" {
		fmt.Println(red("usage: copy <id>"))
		return
	}
	act, found := a.ctrl.Get(actionID)
	if !found {
		fmt.Printf("%s\n", red("unknown action: "+actionID))
		return
	}

	var text string
	switch act.Kind {
	case action.KindShell:
		text = act.Command
	case action.KindFetch:
		text = act.URL
	default:
		// Clipboard content must stay free of color escapes.
		result, err := a.ctrl.PreviewWith(act, diff.NewGenerator(-1, false))
		if err != nil {
			fmt.Printf("%s\n", red(fmt.Sprintf("copy: %v", err)))
			return
		}
		if result != nil {
			text = result.UnifiedDiff
		}
	}
	if text == "" {
		fmt.Println(gray("nothing to copy"))
		return
	}
	if err := (workspace.Clipboard{}).Copy(text); err != nil {
		fmt.Printf("%s\n", red(fmt.Sprintf("copy: %v", err)))
		return
	}
	fmt.Println(green("copied"))
}

func (a *app) replContext() {
	fmt.Printf("%s %s\n", gray("workspace:"), a.ws.Root())
	if file := a.manager.FileUsed(); file != "" {
		fmt.Printf("%s %s\n", gray("config:"), file)
	}

	files, err := a.ws.ListFiles(a.cfg.Listing.Excludes)
	if err == nil {
		fmt.Printf("%s %d\n", gray("files:"), len(files))
	}

	docs := a.ws.OpenDocuments()
	if len(docs) == 0 {
		fmt.Println(gray("no files touched yet"))
		return
	}
	fmt.Println(gray("touched:"))
	for _, doc := range docs {
		fmt.Printf("  %s\n", doc.Path)
	}
}

// renderMarkdown renders markdown content for the terminal.
func renderMarkdown(content string) string {
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		width = w - 4
	}
	return string(markdown.Render(content, width, 2))
}
