package transport

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ajitpratap0/mcp-session-go/pkg/config"
)

// Backoff is the retry policy for establishing a connection. It applies only
// while dialing; a session that loses its transport is not resumed.
type Backoff struct {
	// MaxAttempts counts the first try. Values below 1 mean a single try.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff returns the policy used when none is configured
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// BackoffFromConfig converts the reconnect section of a Config
func BackoffFromConfig(cfg config.ReconnectConfig) Backoff {
	return Backoff{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay.Duration(),
		MaxDelay:     cfg.MaxDelay.Duration(),
		Multiplier:   cfg.Multiplier,
	}
}

// Delay returns the pause before retry number attempt (1-based), with ±10%
// jitter
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	backoff := float64(b.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if b.MaxDelay > 0 && backoff > float64(b.MaxDelay) {
		backoff = float64(b.MaxDelay)
	}

	if randFloat, err := secureRandFloat64(); err == nil {
		backoff += backoff * 0.1 * (randFloat*2 - 1)
	}
	return time.Duration(backoff)
}

// Retry calls fn until it succeeds, the attempts run out, or ctx is done. The
// last error is returned wrapped with the attempt count.
func (b Backoff) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(b.Delay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// secureRandFloat64 returns a float64 in [0, 1)
func secureRandFloat64() (float64, error) {
	max := big.NewInt(1 << 53)
	n, err := cryptorand.Int(cryptorand.Reader, max)
	if err != nil {
		return 0, err
	}
	return float64(n.Int64()) / float64(1<<53), nil
}
