package delegation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryDelay    = 3 * time.Second
)

// RetryPolicy re-runs an operation while Retryable accepts its error.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// Do runs fn up to MaxAttempts times. Attempts are numbered from 1. A
// non-retryable error is returned at once; after the last attempt the last
// error is returned as is.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt == attempts {
			return err
		}

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("maxAttempts", attempts).
			Dur("delay", p.Delay).
			Msg("retrying")

		if serr := sleep(ctx, p.Delay); serr != nil {
			return serr
		}
	}
	return err
}
