// Package approval owns the decision surface in front of the executor: the
// queue-facing controller that single and bulk approvals go through, and the
// terminal prompter used by one-shot applies.
package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/toolq/toolq/internal/action"
	"github.com/toolq/toolq/internal/diff"
	"github.com/toolq/toolq/internal/executor"
	"github.com/toolq/toolq/internal/logging"
	"github.com/toolq/toolq/internal/patch"
	"github.com/toolq/toolq/internal/queue"
)

// ErrUnknownAction reports an approval for an id that is not queued.
var ErrUnknownAction = errors.New("unknown action id")

// FileReader provides current file content for previews.
type FileReader interface {
	ReadFile(rel string) (string, error)
}

// Controller serializes every approval operation over one queue. Parsing,
// single approval and bulk approval each run to completion before the next
// request is admitted.
type Controller struct {
	store   *queue.Store
	exec    *executor.Executor
	parser  *action.Parser
	reader  FileReader
	preview *diff.Generator
	logger  logging.Logger
	metrics *executor.Metrics

	// sem serializes whole operations. A mutex would do; the channel keeps
	// admission cancelable from serve handlers.
	sem chan struct{}
}

// NewController wires the approval surface over its collaborators.
func NewController(store *queue.Store, exec *executor.Executor, parser *action.Parser, reader FileReader, preview *diff.Generator, logger logging.Logger, metrics *executor.Metrics) *Controller {
	c := &Controller{
		store:   store,
		exec:    exec,
		parser:  parser,
		reader:  reader,
		preview: preview,
		logger:  logging.OrNop(logger),
		metrics: metrics,
		sem:     make(chan struct{}, 1),
	}
	return c
}

func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) release() {
	<-c.sem
}

// Submit parses a response batch and queues every recognized action.
func (c *Controller) Submit(ctx context.Context, text string) ([]action.Action, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	acts, err := c.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	c.store.Add(acts...)
	c.metrics.IncParseBatch()
	for _, act := range acts {
		c.metrics.IncQueued(string(act.Kind))
	}
	c.metrics.SetQueueDepth(c.store.Len())
	c.logger.Info("queued %d actions", len(acts))
	return acts, nil
}

// List returns the queued actions in insertion order.
func (c *Controller) List() []action.Action {
	return c.store.List()
}

// Get looks up a queued action without removing it.
func (c *Controller) Get(id string) (action.Action, bool) {
	return c.store.Get(id)
}

// HasApprovable reports whether a bulk approval would execute anything, i.e.
// whether any non-shell action is pending.
func (c *Controller) HasApprovable() bool {
	return c.store.HasApprovable()
}

// Clear drops every pending action and reports how many were dropped.
func (c *Controller) Clear(ctx context.Context) (int, error) {
	if err := c.acquire(ctx); err != nil {
		return 0, err
	}
	defer c.release()

	n := c.store.Clear()
	c.metrics.SetQueueDepth(0)
	if n > 0 {
		c.logger.Info("cleared %d pending actions", n)
	}
	return n, nil
}

// ApproveOne removes the identified action from the queue and executes it.
// The action is consumed either way; a failure is reported, not retried.
func (c *Controller) ApproveOne(ctx context.Context, id string) (*executor.Result, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	act, ok := c.store.Take(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	res, err := c.exec.Execute(ctx, act)
	c.metrics.SetQueueDepth(c.store.Len())
	return res, err
}

// BulkReport summarizes an approve-all pass.
type BulkReport struct {
	Results []*executor.Result `json:"results"`
	Skipped int                `json:"skipped"`
}

// Failed counts the executed actions that did not complete.
func (r *BulkReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Failed() {
			n++
		}
	}
	return n
}

// Summary renders the report as a one-line outcome.
func (r *BulkReport) Summary() string {
	s := fmt.Sprintf("executed %d", len(r.Results))
	if failed := r.Failed(); failed > 0 {
		s += fmt.Sprintf(" (%d failed)", failed)
	}
	if r.Skipped > 0 {
		s += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	return s
}

// ApproveAll executes every queued non-shell action in insertion order, each
// to completion before the next starts. Shell actions stay queued; running
// commands needs an explicit individual approval, so the report only counts
// them as skipped. Actions queued by other callers after the snapshot is
// taken are untouched.
func (c *Controller) ApproveAll(ctx context.Context) (*BulkReport, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	snapshot := c.store.List()
	report := &BulkReport{}
	for _, act := range snapshot {
		if act.Kind == action.KindShell {
			report.Skipped++
			continue
		}
		taken, ok := c.store.Take(act.ID)
		if !ok {
			continue
		}
		res, _ := c.exec.Execute(ctx, taken)
		report.Results = append(report.Results, res)
	}
	c.metrics.AddBulkSkipped(report.Skipped)
	c.metrics.SetQueueDepth(c.store.Len())
	c.logger.Info("bulk approval: %s", report.Summary())
	return report, nil
}

// Preview renders what an action would change, against current file state.
// Shell and fetch actions have no content diff and return nil.
func (c *Controller) Preview(act action.Action) (*diff.DiffResult, error) {
	return c.PreviewWith(act, c.preview)
}

// PreviewWith renders the preview through a caller-supplied generator, for
// surfaces that want different context settings than the default.
func (c *Controller) PreviewWith(act action.Action, gen *diff.Generator) (*diff.DiffResult, error) {
	switch act.Kind {
	case action.KindModify:
		doc, err := c.reader.ReadFile(act.Path)
		if err != nil {
			return nil, err
		}
		updated, err := patch.Apply(doc, act.BeforeText(), act.ContentText())
		if err != nil {
			return nil, fmt.Errorf("preview %s: %w", act.Path, err)
		}
		return gen.GenerateUnified(doc, updated, act.Path)
	case action.KindCreate:
		return gen.PreviewCreate(act.ContentText(), act.Path)
	case action.KindDelete:
		doc, err := c.reader.ReadFile(act.Path)
		if err != nil {
			return nil, err
		}
		return gen.PreviewDelete(doc, act.Path)
	default:
		return nil, nil
	}
}
