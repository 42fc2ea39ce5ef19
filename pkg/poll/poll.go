// Package poll re-evaluates a predicate a bounded number of times with a
// fixed delay, for UI states that settle asynchronously (animations,
// network-backed screens, reward popups).
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// Default budget used when a step does not set its own.
const (
	DefaultAttempts = 5
	DefaultDelay    = 2 * time.Second
)

// Predicate reports whether the awaited state holds.
type Predicate func(ctx context.Context) (bool, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Outcome discriminates how a poll ended.
type Outcome int

const (
	// Satisfied means the predicate held on some attempt.
	Satisfied Outcome = iota
	// Exhausted means at least one attempt cleanly answered false and no attempt held.
	Exhausted
	// Errored means no attempt produced a verdict: every evaluation returned an error,
	// or StopOnError cut the poll short.
	Errored
	// Cancelled means the context ended before the budget was spent.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Satisfied:
		return "satisfied"
	case Exhausted:
		return "exhausted"
	case Errored:
		return "errored"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Options configures a poll.
type Options struct {
	Attempts int
	Delay    time.Duration

	// StopOnError ends the poll on the first evaluation error instead of
	// treating it as "not yet".
	StopOnError bool

	// Sleep replaces the real timer (tests).
	Sleep SleepFunc

	// OnAttempt is called after every evaluation.
	OnAttempt func(attempt int, ok bool, err error)
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	return o
}

// Result describes a finished poll.
type Result struct {
	Outcome  Outcome
	Attempts int // evaluations performed
	Errors   int // evaluations that returned an error
	LastErr  error
	Elapsed  time.Duration
}

// OK reports whether the predicate held.
func (r Result) OK() bool { return r.Outcome == Satisfied }

// Err converts a non-satisfied result into an error. It returns nil when the
// predicate held.
func (r Result) Err() error {
	switch r.Outcome {
	case Satisfied:
		return nil
	case Cancelled:
		return fmt.Errorf("poll cancelled after %d attempts: %w", r.Attempts, r.LastErr)
	default:
		return &Error{Result: r}
	}
}

// Error is returned by Result.Err for exhausted and errored polls.
type Error struct {
	Result Result
}

func (e *Error) Error() string {
	if e.Result.Outcome == Errored {
		return fmt.Sprintf("predicate errored on %d of %d attempts: %v", e.Result.Errors, e.Result.Attempts, e.Result.LastErr)
	}
	if e.Result.Errors > 0 {
		return fmt.Sprintf("predicate not satisfied after %d attempts (%d errored, last: %v)", e.Result.Attempts, e.Result.Errors, e.Result.LastErr)
	}
	return fmt.Sprintf("predicate not satisfied after %d attempts", e.Result.Attempts)
}

func (e *Error) Unwrap() error { return e.Result.LastErr }

// Until evaluates pred up to opts.Attempts times. After every attempt that
// does not hold it waits opts.Delay, so an exhausted poll takes
// Attempts × Delay plus evaluation time.
func Until(ctx context.Context, opts Options, pred Predicate) Result {
	opts = opts.withDefaults()
	start := time.Now()

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.Delay), uint64(opts.Attempts))

	var res Result
	for res.Attempts < opts.Attempts {
		if err := ctx.Err(); err != nil {
			res.Outcome = Cancelled
			res.LastErr = err
			res.Elapsed = time.Since(start)
			return res
		}

		res.Attempts++
		ok, err := pred(ctx)
		if opts.OnAttempt != nil {
			opts.OnAttempt(res.Attempts, ok, err)
		}

		if err != nil {
			res.Errors++
			res.LastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				res.Outcome = Cancelled
				res.Elapsed = time.Since(start)
				return res
			}
			if opts.StopOnError {
				res.Outcome = Errored
				res.Elapsed = time.Since(start)
				return res
			}
		} else if ok {
			res.Outcome = Satisfied
			res.Elapsed = time.Since(start)
			return res
		}

		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		if err := opts.Sleep(ctx, d); err != nil {
			res.Outcome = Cancelled
			res.LastErr = err
			res.Elapsed = time.Since(start)
			return res
		}
	}

	if res.Errors == res.Attempts {
		res.Outcome = Errored
	} else {
		res.Outcome = Exhausted
	}
	res.Elapsed = time.Since(start)
	return res
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AnyOf holds when any predicate holds. Predicates are evaluated in order
// and evaluation stops at the first one that holds. An error is returned only
// when every predicate errored; a clean false from any of them is a verdict.
func AnyOf(preds ...Predicate) Predicate {
	return func(ctx context.Context) (bool, error) {
		var errs []error
		for _, p := range preds {
			ok, err := p(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				return true, nil
			}
		}
		if len(errs) == len(preds) && len(errs) > 0 {
			return false, errors.Join(errs...)
		}
		return false, nil
	}
}

// AllOf holds when every predicate holds. Evaluation stops at the first
// predicate that is false or errors.
func AllOf(preds ...Predicate) Predicate {
	return func(ctx context.Context) (bool, error) {
		for _, p := range preds {
			ok, err := p(ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return len(preds) > 0, nil
	}
}

// Not inverts a predicate. Errors pass through.
func Not(p Predicate) Predicate {
	return func(ctx context.Context) (bool, error) {
		ok, err := p(ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}
