// Package retry runs an operation again with exponential backoff until it
// succeeds, the attempts run out, or the context ends.
//
// Hibi uses it while waiting for the Postgres backend to accept connections
// at startup.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy bounds the retries.
type Policy struct {
	// Attempts counts the first call too.  Values below 1 mean a single call.
	Attempts int
	// Delay is the first wait; each later wait doubles, capped at MaxDelay.
	Delay    time.Duration
	MaxDelay time.Duration
	// Retryable classifies errors.  Nil retries every error.
	Retryable func(err error) bool
}

// StartupPolicy is used while dependencies come up alongside the bot.
var StartupPolicy = Policy{
	Attempts: 5,
	Delay:    time.Second,
	MaxDelay: 15 * time.Second,
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Delay <= 0 {
		p.Delay = StartupPolicy.Delay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay
	}
	if p.Retryable == nil {
		p.Retryable = func(error) bool { return true }
	}
	return p
}

// Do calls fn until it returns nil and reports the last error otherwise.
// op names the operation in debug logs.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()
	wait := p.Delay

	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return errors.Join(err, cerr)
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.Attempts || !p.Retryable(err) {
			return err
		}

		slog.Debug("retrying", "op", op, "attempt", attempt, "of", p.Attempts, "wait", wait, "err", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
		wait = min(wait*2, p.MaxDelay)
	}
}
