package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/toolq/toolq/internal/action"
	"github.com/toolq/toolq/internal/approval"
)

func newApplyCommand(a *app) *cobra.Command {
	var yes, dryRun bool

	cmd := &cobra.Command{
		Use:   "apply [file]",
		Short: "Parse a response and review its actions one by one",
		Long: `Parse a response for TOOL_CALL markers and walk through the queued
actions interactively. Each file action shows a diff preview before the
prompt; shell commands and URL fetches show what would run.

With no file argument the response is read from stdin, so the command
composes with pipes:

  pbpaste | toolq apply`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initialize(); err != nil {
				return err
			}
			text, err := readInput(args)
			if err != nil {
				return err
			}
			return a.runApply(cmd.Context(), text, yes, dryRun)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve file and fetch actions without prompting (shell actions are skipped)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show previews without applying anything")
	return cmd
}

func readInput(args []string) (string, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return string(data), nil
	}
	if isTTY() {
		return "", errors.New("no input: pass a file or pipe a response on stdin")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func (a *app) runApply(ctx context.Context, text string, yes, dryRun bool) error {
	acts, err := a.ctrl.Submit(ctx, text)
	if err != nil {
		return err
	}
	fmt.Println(bold(fmt.Sprintf("%d action(s) queued", len(acts))))

	if dryRun {
		for _, act := range acts {
			fmt.Printf("\n%s %s\n", cyan(">"), act.Summary())
			fmt.Println(a.previewText(act))
		}
		return nil
	}

	approver := approval.NewInteractiveApprover(
		a.cfg.Approval.Timeout,
		yes || a.cfg.Approval.AutoApprove,
		!color.NoColor,
	)

	var applied, failed, skipped int
	applyAll := false
	for _, act := range acts {
		decision := approval.DecisionApply
		// Once the user picks "all", only shell actions keep prompting.
		if !applyAll || act.Kind == action.KindShell {
			decision, err = approver.Decide(ctx, act, a.previewText(act), func() string {
				return a.fullPreviewText(act)
			})
			if err != nil {
				return err
			}
		}

		switch decision {
		case approval.DecisionQuit:
			remaining := len(acts) - applied - failed - skipped
			fmt.Println(gray(fmt.Sprintf("stopped; %d action(s) left unapplied", remaining)))
			return nil
		case approval.DecisionSkip:
			skipped++
			fmt.Printf("%s %s\n", gray("skipped"), act.Summary())
			continue
		case approval.DecisionApplyAll:
			applyAll = true
		}

		res, err := a.ctrl.ApproveOne(ctx, act.ID)
		if res == nil {
			return err
		}
		if res.Failed() {
			failed++
			fmt.Printf("%s %s: %v\n", red("failed"), act.Summary(), res.Err)
			continue
		}
		applied++
		fmt.Printf("%s %s\n", green(res.Status), act.Summary())
	}

	fmt.Printf("\n%s\n", bold(fmt.Sprintf("applied %d, failed %d, skipped %d", applied, failed, skipped)))
	if skipped > 0 && (yes || a.cfg.Approval.AutoApprove) {
		fmt.Println(gray("shell actions always need an interactive answer; re-run without --yes to review them"))
	}
	if failed > 0 {
		return &ExitCodeError{Code: 2, Err: fmt.Errorf("%d action(s) failed", failed)}
	}
	return nil
}
