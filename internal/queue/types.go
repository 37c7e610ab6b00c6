package queue

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownType is recorded on jobs whose type has no registered handler.
var ErrUnknownType = errors.New("no handler registered for job type")

// Config controls the queue worker pool and retry policy.
type Config struct {
	Workers      int
	PollInterval time.Duration
	Lease        time.Duration
	JobTimeout   time.Duration
	Retry        RetryConfig
}

// RetryConfig is the tunable backoff curve for transient failures.
// Exact values are configuration, not hidden constants.
type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
	// Jitter of 0.2 means +/-20%. Zero is honored as no jitter; negative
	// values are clamped to zero.
	Jitter float64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = time.Minute
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.Base <= 0 {
		c.Retry.Base = 30 * time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Minute
	}
	if c.Retry.Jitter < 0 {
		c.Retry.Jitter = 0
	}
	return c
}

// permanentError marks a handler failure that must not be retried: the job
// goes straight to dead-lettered.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the queue dead-letters the job instead of
// retrying. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (anywhere in its chain) was marked with
// Permanent().
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
