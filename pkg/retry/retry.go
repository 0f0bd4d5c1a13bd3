package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config shapes the backoff sequence for Do.
type Config struct {
	// MaxAttempts caps how many times fn runs. Zero or negative means
	// a single attempt with no retries.
	MaxAttempts int

	// InitialDelay is the sleep after the first failure. Zero selects
	// 100ms.
	InitialDelay time.Duration

	// MaxDelay caps the grown delay. Zero selects 5s.
	MaxDelay time.Duration

	// Multiplier grows the delay after each failed attempt. Zero
	// selects 2.
	Multiplier float64

	// AddJitter stretches each sleep by up to 25% so a restarting
	// fleet does not hammer a recovering broker in lockstep.
	AddJitter bool
}

// Quick is tuned for component startup. The broker and the database
// usually come up within a second or two of the daemon, so attempts
// are frequent and the whole window stays inside a connect timeout.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// sanitized fills zero fields with defaults and rejects configs that
// cannot produce a usable backoff sequence.
func (cfg Config) sanitized() (Config, error) {
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 {
		return cfg, errors.New("retry: negative delay or multiplier")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return cfg, nil
}

// Do runs fn until it succeeds, the attempt budget is spent, or ctx is
// cancelled, sleeping with exponential backoff between failures. An
// error wrapped with NonRetryable aborts the loop on the spot.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.sanitized()
	if err != nil {
		return err
	}

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		lastErr := fn()
		if lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
		}

		if err := sleep(ctx, withJitter(delay, cfg.AddJitter)); err != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, err)
		}

		// Grow in float space so an extreme multiplier saturates at
		// MaxDelay instead of overflowing the Duration conversion.
		grown := float64(delay) * cfg.Multiplier
		if grown >= float64(cfg.MaxDelay) {
			delay = cfg.MaxDelay
		} else {
			delay = time.Duration(grown)
		}
	}
}

func withJitter(d time.Duration, enabled bool) time.Duration {
	if !enabled {
		return d
	}
	spread := int64(d / 4)
	if spread <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(spread))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NonRetryableError marks an error the retry loop must not re-run,
// such as a rejected password that will keep being rejected.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so Do fails immediately instead of burning
// the remaining attempts. A nil err stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries the NonRetryable marker
// anywhere in its chain.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}
