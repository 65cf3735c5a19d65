// Package executor carries approved actions out against the workspace. Each
// action executes independently; a failure is reported on that action alone
// and never aborts the rest of a batch.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/toolq/toolq/internal/action"
	"github.com/toolq/toolq/internal/logging"
	"github.com/toolq/toolq/internal/patch"
	"github.com/toolq/toolq/internal/workspace"
)

// ErrIncompleteAction reports an action queued without one of its required
// fields. The missing field is named in the wrapped message.
var ErrIncompleteAction = errors.New("incomplete action")

// Filesystem is the slice of workspace behavior file actions need.
type Filesystem interface {
	ReadFile(rel string) (string, error)
	WriteFile(rel, text string) error
	DeleteFile(rel string) error
	ReplaceRange(rel string, r patch.Range, newText string) error
}

// Shell submits a command to the host terminal without waiting for it.
type Shell interface {
	Run(command string) error
}

// Opener hands a URL to the host environment.
type Opener interface {
	Open(rawURL string) error
}

// Execution result statuses.
const (
	StatusApplied   = "applied"
	StatusSubmitted = "submitted"
	StatusOpened    = "opened"
	StatusFailed    = "failed"
)

// Result reports the outcome of one executed action.
type Result struct {
	Action   action.Action `json:"action"`
	Status   string        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"-"`
}

// Failed reports whether the action did not complete.
func (r *Result) Failed() bool {
	return r.Status == StatusFailed
}

// Executor dispatches actions to the workspace collaborators.
type Executor struct {
	fs      Filesystem
	shell   Shell
	opener  Opener
	logger  logging.Logger
	metrics *Metrics
}

// New constructs an executor over the given collaborators. A nil metrics
// falls back to the shared registry instance.
func New(fs Filesystem, shell Shell, opener Opener, logger logging.Logger, metrics *Metrics) *Executor {
	if metrics == nil {
		metrics = defaultMetrics()
	}
	return &Executor{
		fs:      fs,
		shell:   shell,
		opener:  opener,
		logger:  logging.OrNop(logger),
		metrics: metrics,
	}
}

// Execute runs a single approved action. The returned Result is always
// non-nil; on failure it carries the error alongside the returned one.
func (e *Executor) Execute(ctx context.Context, act action.Action) (*Result, error) {
	start := time.Now()
	res, err := e.dispatch(ctx, act)
	res.Duration = time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		e.metrics.IncFailure(string(act.Kind), FailureReason(err))
		e.logger.Warn("action %s failed: %v", act.ID, err)
	} else {
		e.logger.Info("action %s %s: %s", act.ID, res.Status, act.Summary())
	}
	e.metrics.ObserveExecution(string(act.Kind), outcome, res.Duration)
	return res, err
}

func (e *Executor) dispatch(ctx context.Context, act action.Action) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return failed(act, err), err
	}
	if field := act.MissingField(); field != "" {
		err := fmt.Errorf("%w: %s has no %s", ErrIncompleteAction, act.Kind, field)
		return failed(act, err), err
	}

	switch act.Kind {
	case action.KindModify:
		return e.modify(act)
	case action.KindCreate:
		return e.create(act)
	case action.KindDelete:
		return e.delete(act)
	case action.KindShell:
		return e.runShell(act)
	case action.KindFetch:
		return e.fetch(act)
	default:
		err := fmt.Errorf("unsupported action kind %q", act.Kind)
		return failed(act, err), err
	}
}

// modify re-reads the file on every execution, so a batch of modifies to one
// file sees each predecessor's writes.
func (e *Executor) modify(act action.Action) (*Result, error) {
	doc, err := e.fs.ReadFile(act.Path)
	if err != nil {
		return failed(act, err), err
	}
	r, err := patch.Locate(doc, act.BeforeText())
	if err != nil {
		err = fmt.Errorf("modify %s: %w", act.Path, err)
		return failed(act, err), err
	}
	if err := e.fs.ReplaceRange(act.Path, r, act.ContentText()); err != nil {
		return failed(act, err), err
	}
	return &Result{
		Action: act,
		Status: StatusApplied,
		Detail: fmt.Sprintf("replaced %d bytes at offset %d", r.Len(), r.Start),
	}, nil
}

func (e *Executor) create(act action.Action) (*Result, error) {
	content := act.ContentText()
	if err := e.fs.WriteFile(act.Path, content); err != nil {
		return failed(act, err), err
	}
	return &Result{
		Action: act,
		Status: StatusApplied,
		Detail: fmt.Sprintf("wrote %d bytes", len(content)),
	}, nil
}

func (e *Executor) delete(act action.Action) (*Result, error) {
	if err := e.fs.DeleteFile(act.Path); err != nil {
		return failed(act, err), err
	}
	return &Result{Action: act, Status: StatusApplied}, nil
}

// runShell reports success once the command is handed off. Completion and
// exit status belong to the host terminal, not the queue.
func (e *Executor) runShell(act action.Action) (*Result, error) {
	if err := e.shell.Run(act.Command); err != nil {
		return failed(act, err), err
	}
	return &Result{Action: act, Status: StatusSubmitted}, nil
}

func (e *Executor) fetch(act action.Action) (*Result, error) {
	if err := e.opener.Open(act.URL); err != nil {
		return failed(act, err), err
	}
	return &Result{Action: act, Status: StatusOpened}, nil
}

func failed(act action.Action, err error) *Result {
	return &Result{Action: act, Status: StatusFailed, Detail: err.Error(), Err: err}
}

// FailureReason buckets an execution error for metric labels and reports.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrIncompleteAction):
		return "incomplete_action"
	case errors.Is(err, patch.ErrNotFound):
		return "patch_not_found"
	case errors.Is(err, patch.ErrEmptyBlock):
		return "empty_patch_block"
	case errors.Is(err, workspace.ErrNoWorkspace):
		return "no_workspace"
	case errors.Is(err, workspace.ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "io_error"
	}
}
