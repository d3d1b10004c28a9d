// Package retry wraps capture attempts with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cwygoda/postcatch/internal/domain"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt. It doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultPolicy returns three attempts with 4s base and 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Delay returns the backoff after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Decision is what the controller does after an attempt.
type Decision int

const (
	// Done means the attempt succeeded.
	Done Decision = iota
	// Retry means the failure is transient.
	Retry
	// Stop means the failure is terminal for this run.
	Stop
)

func (d Decision) String() string {
	switch d {
	case Done:
		return "done"
	case Retry:
		return "retry"
	default:
		return "stop"
	}
}

// Classify decides how to proceed after one attempt. err is a fault raised
// before the strategy produced a result, such as a session acquisition error.
// Error results are retried unless their fault is a configuration problem.
func Classify(result domain.CaptureResult, err error) Decision {
	if err != nil {
		return classifyErr(err)
	}
	switch result.Outcome {
	case domain.OutcomeSuccess:
		return Done
	case domain.OutcomeNotFound:
		return Stop
	}
	if result.Err != nil && terminal(result.Err) {
		return Stop
	}
	return Retry
}

// terminal reports faults that another attempt cannot fix.
func terminal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrMissingCredentials)
}

func classifyErr(err error) Decision {
	switch {
	case terminal(err):
		return Stop
	case errors.Is(err, domain.ErrAuthenticationRequired),
		errors.Is(err, domain.ErrSessionUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return Retry
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retry
	}
	return Stop
}

// Attempt runs one capture. attempt is 1-based.
type Attempt func(ctx context.Context, attempt int) (domain.CaptureResult, error)

// Report summarizes a retried operation.
type Report struct {
	Result   domain.CaptureResult
	Err      error
	Attempts int
}

// Succeeded reports whether the final attempt produced a successful capture.
func (r Report) Succeeded() bool {
	return r.Err == nil && r.Result.Outcome == domain.OutcomeSuccess
}

// Controller runs attempts under a Policy.
type Controller struct {
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
	// OnRetry, if set, is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, result domain.CaptureResult, err error)
}

// NewController creates a Controller for the given policy.
func NewController(p Policy) *Controller {
	return &Controller{policy: p.normalized(), sleep: sleepCtx}
}

// Policy returns the effective policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Do runs fn until it succeeds, fails terminally, or attempts run out. The
// last result and error are returned in the report.
func (c *Controller) Do(ctx context.Context, fn Attempt) Report {
	var rep Report
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			rep.Err = err
			return rep
		}

		rep.Attempts = attempt
		rep.Result, rep.Err = fn(ctx, attempt)

		if Classify(rep.Result, rep.Err) != Retry {
			return rep
		}
		if attempt == c.policy.MaxAttempts {
			break
		}

		delay := c.policy.Delay(attempt)
		if c.OnRetry != nil {
			c.OnRetry(attempt, delay, rep.Result, rep.Err)
		}
		if err := c.sleep(ctx, delay); err != nil {
			rep.Err = err
			return rep
		}
	}
	return rep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
