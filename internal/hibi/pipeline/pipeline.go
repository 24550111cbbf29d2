// Package pipeline runs the generate flow: select today's events, compose the
// prompt, call the completion service and record token usage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Hibi/common/trace"
	"github.com/bdobrica/Hibi/internal/hibi/journal"
	"github.com/bdobrica/Hibi/internal/hibi/llm"
	"github.com/bdobrica/Hibi/internal/hibi/observability"
	"github.com/bdobrica/Hibi/internal/hibi/prompt"
)

// User-facing replies.
const (
	ReplyNoEvents  = "No events for the day."
	ReplyFailure   = "Facing difficulties."
	ReplyNoContent = "No content generated."
)

// AuditAction is the audit_log action written for every run.
const AuditAction = "generate"

// EventSelector returns a user's events for the day containing now.
type EventSelector interface {
	SelectToday(ctx context.Context, userID string, now time.Time) ([]journal.Event, error)
}

// UsageRecorder adds token deltas to a user's counters.
type UsageRecorder interface {
	Record(ctx context.Context, userID string, promptTokens, completionTokens int) error
}

// AuditWriter persists one row per run.
type AuditWriter interface {
	WriteAudit(ctx context.Context, entry journal.AuditEntry) error
}

// Observer receives metrics for each run.
type Observer interface {
	ObserveCompletion(d time.Duration, promptTokens, completionTokens int)
	ObserveGeneration(outcome string)
}

// Deps wires a Generator.  Selector, Provider and Usage are required.
type Deps struct {
	Selector EventSelector
	Provider llm.Provider
	Usage    UsageRecorder
	Audit    AuditWriter
	Metrics  Observer
	// Model overrides the provider's default model when set.
	Model string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Generator runs the generate flow.  It is safe for concurrent use; each run
// is independent.
type Generator struct {
	deps Deps
}

// New returns a Generator.
func New(deps Deps) *Generator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Generator{deps: deps}
}

// Result describes one finished run.
type Result struct {
	TraceID string
	// Outcome is the terminal state.
	Outcome Outcome
	// Path is every state visited, starting with Idle.
	Path   []Outcome
	Reply  string
	Events int
	Usage  llm.TokenUsage
	// Err is the error that ended the run in a failure state.
	Err error
	// RecordErr is set when usage recording failed; the run still ends Done.
	RecordErr error
}

func (r *Result) enter(o Outcome) {
	if len(r.Path) > 0 && !CanTransition(r.Path[len(r.Path)-1], o) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", r.Path[len(r.Path)-1], o))
	}
	r.Path = append(r.Path, o)
	r.Outcome = o
}

// Run executes one generate invocation for userID.  Cancelling ctx does not
// abort a run already in progress.
func (g *Generator) Run(ctx context.Context, userID string) *Result {
	ctx, traceID := trace.Ensure(context.WithoutCancel(ctx))
	log := observability.WithTrace(ctx).With("user", userID)

	res := &Result{TraceID: traceID}
	res.enter(Idle)

	events, err := g.deps.Selector.SelectToday(ctx, userID, g.deps.Now())
	if err != nil {
		res.enter(SelectFailed)
		res.Err = err
		res.Reply = failureReply(traceID)
		log.Error("select events failed", "err", err)
		g.finish(ctx, userID, res)
		return res
	}
	res.enter(WindowSelected)
	res.Events = len(events)

	messages, err := prompt.Compose(events)
	if err != nil {
		res.enter(NoEvents)
		res.Err = err
		res.Reply = ReplyNoEvents
		log.Info("no events for the day")
		g.finish(ctx, userID, res)
		return res
	}
	res.enter(PromptComposed)

	res.enter(Completing)
	start := time.Now()
	resp, err := g.deps.Provider.Complete(ctx, llm.CompletionRequest{Model: g.deps.Model, Messages: messages})
	elapsed := time.Since(start)
	if err != nil {
		res.enter(CompletionFailed)
		res.Err = err
		res.Reply = failureReply(traceID)
		attrs := []any{"err", err, "events", len(events), "duration", elapsed}
		if errors.Is(err, llm.ErrRateLimit) {
			attrs = append(attrs, "rate_limited", true)
		}
		log.Error("completion failed", attrs...)
		g.finish(ctx, userID, res)
		return res
	}
	res.enter(CompletionSucceeded)
	res.Usage = resp.Usage
	if g.deps.Metrics != nil {
		g.deps.Metrics.ObserveCompletion(elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	if resp.Text == "" {
		res.Reply = ReplyNoContent
	} else {
		res.Reply = resp.Text
	}

	res.enter(Recording)
	if err := g.deps.Usage.Record(ctx, userID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens); err != nil {
		res.RecordErr = err
		log.Error("record usage failed", "err", err,
			"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	}
	res.enter(Done)

	log.Info("generation complete", "events", len(events), "duration", elapsed,
		"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	g.finish(ctx, userID, res)
	return res
}

// finish writes the audit row and counts the outcome.  Audit failures are
// logged only.
func (g *Generator) finish(ctx context.Context, userID string, res *Result) {
	if g.deps.Metrics != nil {
		g.deps.Metrics.ObserveGeneration(string(res.Outcome))
	}
	if g.deps.Audit == nil {
		return
	}

	entry := journal.AuditEntry{
		Timestamp:        g.deps.Now(),
		TraceID:          res.TraceID,
		UserID:           userID,
		Action:           AuditAction,
		Result:           string(res.Outcome),
		EventCount:       res.Events,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
	}
	switch {
	case res.Err != nil && !errors.Is(res.Err, journal.ErrEmptyWindow):
		entry.ErrorMessage = res.Err.Error()
	case res.RecordErr != nil:
		entry.ErrorMessage = "record usage: " + res.RecordErr.Error()
	}

	if err := g.deps.Audit.WriteAudit(ctx, entry); err != nil {
		slog.Warn("audit write failed", "trace_id", res.TraceID, "err", err)
	}
}

func failureReply(traceID string) string {
	return fmt.Sprintf("%s (trace: %s)", ReplyFailure, traceID)
}
