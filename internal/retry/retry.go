// Package retry runs provider calls under a bounded, classification-driven
// retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"wellbeing-agent/internal/llm"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Kind tags the outcome of a single attempt.
type Kind int

const (
	KindSuccess Kind = iota
	KindRetry
	KindRepin
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetry:
		return "retry"
	case KindRepin:
		return "repin"
	default:
		return "fatal"
	}
}

// Outcome is the evaluated result of one attempt.
type Outcome[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

// Evaluate classifies the result of an attempt. repinned reports whether a
// NotFound has already been answered with a re-pin during this run.
func Evaluate[T any](v T, err error, repinned bool) Outcome[T] {
	if err == nil {
		return Outcome[T]{Kind: KindSuccess, Value: v}
	}
	if errors.Is(err, llm.ErrNoModelAvailable) {
		return Outcome[T]{Kind: KindFatal, Err: err}
	}
	switch llm.Classify(err) {
	case llm.ClassUnauthorized, llm.ClassBadRequest:
		return Outcome[T]{Kind: KindFatal, Err: err}
	case llm.ClassNotFound:
		if repinned {
			return Outcome[T]{Kind: KindFatal, Err: err}
		}
		return Outcome[T]{Kind: KindRepin, Err: err}
	default:
		return Outcome[T]{Kind: KindRetry, Err: err}
	}
}

// ExhaustedError is returned once every attempt has failed with a retryable
// error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy configures a retry run. The zero value uses the defaults.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// NewBackOff returns the delay strategy for one run. Nil means linear
	// backoff over BaseDelay.
	NewBackOff func() backoff.BackOff
	// Repin selects a replacement model after a NotFound. Nil makes
	// NotFound fatal.
	Repin  func(ctx context.Context) error
	Sleep  Sleeper
	Logger *slog.Logger
}

// Operation is one attempt. attempt starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Do runs op until it succeeds, fails fatally or exhausts the policy.
// Cancellation is checked between attempts; an attempt in flight is left to
// finish under its own deadline.
func Do[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	var zero T
	p = p.withDefaults()
	bo := p.NewBackOff()
	bo.Reset()

	repinned := false
	attempt := 0
	budget := p.MaxAttempts
	for {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry: %w", err)
		}
		attempt++
		v, err := op(ctx, attempt)
		out := Evaluate(v, err, repinned)

		switch out.Kind {
		case KindSuccess:
			return out.Value, nil
		case KindFatal:
			p.Logger.Warn("retry: fatal attempt", "attempt", attempt, "class", llm.Classify(out.Err).String(), "err", out.Err)
			return zero, out.Err
		case KindRepin:
			if p.Repin == nil {
				return zero, out.Err
			}
			p.Logger.Warn("retry: model not found, re-pinning", "attempt", attempt, "err", out.Err)
			if rerr := p.Repin(ctx); rerr != nil {
				return zero, fmt.Errorf("retry: re-pin after not found: %w", rerr)
			}
			repinned = true
			// The retry with the new model is granted even when the normal
			// budget is spent.
			if attempt >= budget {
				budget = attempt + 1
			}
			continue
		}

		if attempt >= budget {
			return zero, &ExhaustedError{Attempts: attempt, Last: out.Err}
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return zero, &ExhaustedError{Attempts: attempt, Last: out.Err}
		}
		p.Logger.Info("retry: retryable failure", "attempt", attempt, "class", llm.Classify(out.Err).String(), "delay", delay, "err", out.Err)
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry: aborted after %d attempts: %w", attempt, err)
		}
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.NewBackOff == nil {
		base := p.BaseDelay
		p.NewBackOff = func() backoff.BackOff { return NewLinear(base) }
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
