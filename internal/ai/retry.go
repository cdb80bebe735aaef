package ai

import (
	"context"
	"fmt"
	"time"
)

type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}
}

// withRetry runs fn until it succeeds, retry reports false for its error or
// the attempts are used up. MaxRetries does not count the first attempt.
func withRetry(ctx context.Context, cfg RetryConfig, retry func(error) bool, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= cfg.MaxRetries || (retry != nil && !retry(err)) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	if attempts <= 1 {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
