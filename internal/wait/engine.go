// internal/wait/engine.go
// Package wait turns "is this true yet?" predicates into bounded-time blocking
// waits against a remote.Session.
//
// A wait evaluates its condition immediately and then once per poll interval
// until the condition reports success or the timeout elapses. Evaluation
// errors are classified by remote.Classify: transient ones (not found, stale,
// frame not attached, no alert) mean "not yet" and are remembered for the
// eventual TimeoutError; anything else aborts the wait at once and is returned
// unchanged.
//
// A successful result is accurate as of the instant it was observed. The
// engine does not re-validate it afterwards, so callers must tolerate the
// remote state moving on (a returned handle can be stale by the time it is used).
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/config"
	"github.com/xkilldash9x/settle/internal/remote"
)

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("wait: timed out")

// TimeoutError is the terminal failure of a wait that exhausted its budget.
// LastErr carries the most recent transient error the wait retried past, if
// any; it is a diagnostic and deliberately not part of the Unwrap chain, so a
// timeout is never mistaken for the transient failure that preceded it.
type TimeoutError struct {
	Description string
	Timeout     time.Duration
	Elapsed     time.Duration
	Attempts    int
	LastErr     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s (%d attempts)",
		e.Elapsed.Round(time.Millisecond), e.Description, e.Attempts)
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Engine holds the session and the default timing for waits against it.
type Engine struct {
	session remote.Session
	timeout time.Duration
	poll    time.Duration
	logger  *zap.Logger
}

// New creates an Engine. cfg.PollInterval must be positive and cfg.Timeout
// must not be negative.
func New(session remote.Session, cfg config.WaitConfig, logger *zap.Logger) (*Engine, error) {
	if session == nil {
		return nil, errors.New("wait: nil session")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wait: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		session: session,
		timeout: cfg.Timeout,
		poll:    cfg.PollInterval,
		logger:  logger.Named("wait"),
	}, nil
}

// Session returns the session the engine polls.
func (e *Engine) Session() remote.Session { return e.session }

// DefaultTimeout returns the timeout used when a wait does not override it.
func (e *Engine) DefaultTimeout() time.Duration { return e.timeout }

// PollInterval returns the fixed delay between evaluations.
func (e *Engine) PollInterval() time.Duration { return e.poll }

// Logger returns the engine's named logger so collaborators share its fields.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// Option adjusts a single wait.
type Option func(*settings)

type settings struct {
	timeout time.Duration
}

// Timeout overrides the engine's default timeout for one wait. Zero means a
// single evaluation with no retry; negative values are treated as zero.
func Timeout(d time.Duration) Option {
	return func(s *settings) {
		if d < 0 {
			d = 0
		}
		s.timeout = d
	}
}

func (e *Engine) resolve(opts []Option) settings {
	s := settings{timeout: e.timeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// Until polls cond until it is satisfied, a fatal error occurs, or the timeout
// elapses. desc names the condition in logs and in the TimeoutError; when it is
// empty and cond implements fmt.Stringer, cond.String() is used.
//
// The final sleep is clipped to the remaining budget, so a wait that never
// succeeds fails no earlier than the timeout and less than one poll interval
// after it. Until also returns early if ctx is cancelled.
func Until[T any](ctx context.Context, e *Engine, desc string, cond Condition[T], opts ...Option) (T, error) {
	var zero T
	s := e.resolve(opts)
	if desc == "" {
		desc = describe(cond)
	}

	start := time.Now()
	deadline := start.Add(s.timeout)
	attempts := 0
	var lastErr error

	for {
		attempts++
		v, ok, err := cond.Evaluate(ctx, e.session)
		switch {
		case err != nil && remote.Classify(err) == remote.Propagate:
			e.logger.Debug("Wait aborted by non-transient error.",
				zap.String("condition", desc), zap.Int("attempts", attempts), zap.Error(err))
			return zero, err
		case err != nil:
			lastErr = err
		case ok:
			e.logger.Debug("Wait satisfied.",
				zap.String("condition", desc),
				zap.Int("attempts", attempts),
				zap.Duration("elapsed", time.Since(start)))
			return v, nil
		}

		now := time.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			terr := &TimeoutError{
				Description: desc,
				Timeout:     s.timeout,
				Elapsed:     now.Sub(start),
				Attempts:    attempts,
				LastErr:     lastErr,
			}
			e.logger.Debug("Wait timed out.", zap.String("condition", desc), zap.Error(terr))
			return zero, terr
		}

		sleep := e.poll
		if remaining < sleep {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("waiting for %s: %w", desc, ctx.Err())
		case <-timer.C:
		}
	}
}

func describe(cond any) string {
	if s, ok := cond.(fmt.Stringer); ok {
		return s.String()
	}
	return "condition"
}
