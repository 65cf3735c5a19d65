package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/toolq/toolq/internal/action"
)

// Decision is the answer an interactive prompt produced for one action.
type Decision int

const (
	// DecisionSkip leaves the action queued.
	DecisionSkip Decision = iota
	// DecisionApply approves this action.
	DecisionApply
	// DecisionApplyAll approves this action and every later non-shell one
	// without further prompting. Shell actions still prompt individually.
	DecisionApplyAll
	// DecisionQuit stops the approval pass, leaving the rest queued.
	DecisionQuit
)

// InteractiveApprover prompts on the terminal for each pending action.
type InteractiveApprover struct {
	timeout      time.Duration
	autoApprove  bool
	colorEnabled bool

	in  *bufio.Reader
	out io.Writer
}

// NewInteractiveApprover creates a terminal approver. A zero timeout waits
// forever.
func NewInteractiveApprover(timeout time.Duration, autoApprove, colorEnabled bool) *InteractiveApprover {
	return &InteractiveApprover{
		timeout:      timeout,
		autoApprove:  autoApprove,
		colorEnabled: colorEnabled,
		in:           bufio.NewReader(os.Stdin),
		out:          os.Stdout,
	}
}

// Decide shows one action with its preview and reads a decision. full is
// called only when the user asks for the unabridged diff; it may be nil.
func (a *InteractiveApprover) Decide(ctx context.Context, act action.Action, preview string, full func() string) (Decision, error) {
	if a.autoApprove {
		// Auto mode follows the bulk policy: shell actions stay queued
		// instead of running or blocking on a prompt nobody will answer.
		if act.Kind == action.KindShell {
			return DecisionSkip, nil
		}
		return DecisionApply, nil
	}

	a.display(act, preview)
	return a.promptWithTimeout(ctx, full)
}

// display shows the action header and its rendered preview.
func (a *InteractiveApprover) display(act action.Action, preview string) {
	separator := strings.Repeat("=", 80)

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, a.colorize(separator, color.FgCyan))
	fmt.Fprintln(a.out, a.colorize(fmt.Sprintf("Pending: %s", act.Summary()), color.FgYellow, color.Bold))
	fmt.Fprintln(a.out, a.colorize(fmt.Sprintf("ID: %s", act.ID), color.FgWhite))
	fmt.Fprintln(a.out, a.colorize(separator, color.FgCyan))

	if preview != "" {
		fmt.Fprintln(a.out)
		fmt.Fprint(a.out, preview)
		if !strings.HasSuffix(preview, "\n") {
			fmt.Fprintln(a.out)
		}
	}
}

// promptWithTimeout reads a decision, defaulting to skip when the timeout
// elapses.
func (a *InteractiveApprover) promptWithTimeout(ctx context.Context, full func() string) (Decision, error) {
	decisionChan := make(chan Decision, 1)
	errorChan := make(chan error, 1)

	go func() {
		decision, err := a.readDecision(full)
		if err != nil {
			errorChan <- err
			return
		}
		decisionChan <- decision
	}()

	if a.timeout <= 0 {
		select {
		case decision := <-decisionChan:
			return decision, nil
		case err := <-errorChan:
			return DecisionSkip, err
		case <-ctx.Done():
			return DecisionSkip, ctx.Err()
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	select {
	case decision := <-decisionChan:
		return decision, nil
	case err := <-errorChan:
		return DecisionSkip, err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return DecisionSkip, ctx.Err()
		}
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, a.colorize("Timeout, action skipped", color.FgRed))
		return DecisionSkip, nil
	}
}

// readDecision parses one keypress line, re-prompting on anything it does
// not recognize.
func (a *InteractiveApprover) readDecision(full func() string) (Decision, error) {
	for {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, a.colorize("Apply this action?", color.FgYellow, color.Bold))
		fmt.Fprintln(a.out, "  [y] Yes, apply")
		fmt.Fprintln(a.out, "  [n] No, leave queued")
		fmt.Fprintln(a.out, "  [a] Apply all remaining (shell actions still ask)")
		fmt.Fprintln(a.out, "  [s] Show full diff")
		fmt.Fprintln(a.out, "  [q] Quit")
		fmt.Fprint(a.out, a.colorize("Choice: ", color.FgCyan))

		input, err := a.in.ReadString('\n')
		if err != nil {
			return DecisionSkip, fmt.Errorf("read input: %w", err)
		}
		input = strings.TrimSpace(strings.ToLower(input))

		switch input {
		case "y", "yes":
			return DecisionApply, nil
		case "n", "no", "":
			return DecisionSkip, nil
		case "a", "all":
			return DecisionApplyAll, nil
		case "s", "show":
			if full != nil {
				fmt.Fprintln(a.out)
				fmt.Fprint(a.out, full())
				fmt.Fprintln(a.out)
			}
		case "q", "quit":
			return DecisionQuit, nil
		default:
			fmt.Fprintln(a.out, a.colorize("Invalid choice. Enter y, n, a, s or q.", color.FgRed))
		}
	}
}

func (a *InteractiveApprover) colorize(text string, attributes ...color.Attribute) string {
	if !a.colorEnabled {
		return text
	}
	return color.New(attributes...).Sprint(text)
}
