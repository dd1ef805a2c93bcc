// Package retry runs calls to remote services with bounded exponential
// backoff and optional client-side rate limiting.
package retry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"corpus/internal/logger"
)

// Policy bounds the retries of a single call.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. Zero disables retrying.
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// DefaultPolicy returns the policy used by the HTTP adapters.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Delay returns the backoff before retry number attempt, counting from zero.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = 5 * time.Second
	}
	if attempt > 30 {
		return limit
	}
	d := base << attempt
	if d > limit || d <= 0 {
		d = limit
	}
	return d
}

// Error marks a failure as transient. After, when positive, replaces the
// backoff delay before the next attempt.
type Error struct {
	Err   error
	After time.Duration
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Retryable wraps err so that Do retries it.
func Retryable(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, After: after}
}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// RetryAfter parses a Retry-After header given in seconds.
func RetryAfter(h http.Header) time.Duration {
	ra := h.Get("Retry-After")
	if ra == "" {
		return 0
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Do calls fn until it succeeds, returns an error not marked retryable, or
// the policy is exhausted. The limiter, when set, gates every attempt.
// The returned error has the retry marker removed.
func Do(ctx context.Context, p Policy, limiter *rate.Limiter, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var re *Error
		if !errors.As(err, &re) {
			return err
		}
		if attempt >= p.MaxRetries {
			return re.Err
		}

		delay := p.Delay(attempt)
		if re.After > 0 {
			delay = re.After
		}
		logger.Debug("retry %d/%d in %s: %v", attempt+1, p.MaxRetries, delay, re.Err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// NewLimiter returns a limiter allowing rps requests per second, or nil
// when rps is not positive.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
