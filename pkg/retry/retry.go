// Package retry provides retry logic with exponential backoff for cache
// operations that talk to slow or flaky storage.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cut-dicl/smacc-sub001/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay between attempts
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry
	Multiplier float64 `yaml:"multiplier"`

	// Jitter spreads delays by up to 20% in either direction
	Jitter bool `yaml:"jitter"`

	// Retryable decides whether an error is worth another attempt
	Retryable func(err error) bool `yaml:"-"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Retryable:    DefaultRetryable,
	}
}

// DefaultRetryable retries storage and internal failures. Cancellation and
// errors a caller must handle, such as a missing object, end the loop.
func DefaultRetryable(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var cacheErr *errors.CacheError
	if stderrors.As(err, &cacheErr) {
		switch errors.GetCategory(cacheErr.Code) {
		case errors.CategoryRequest, errors.CategoryConfiguration, errors.CategoryState:
			return false
		}
	}
	return true
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}
	if config.Retryable == nil {
		config.Retryable = DefaultRetryable
	}
	return &Retryer{config: config}
}

// Do executes fn until it succeeds, returns an error that is not retryable,
// or runs out of attempts. The last error is returned unwrapped so callers
// can still match it.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				return cerr
			}
			return fmt.Errorf("canceled after %d attempts: %w", attempt-1, cerr)
		}

		err = fn(ctx)
		if err == nil || attempt >= r.config.MaxAttempts || !r.config.Retryable(err) {
			return err
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("canceled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// delay returns the wait before attempt+1: initialDelay * multiplier^(attempt-1),
// capped at MaxDelay.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		d += d * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// MaxAttempts returns the configured attempt limit.
func (r *Retryer) MaxAttempts() int {
	return r.config.MaxAttempts
}
