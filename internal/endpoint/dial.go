package endpoint

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/rs/zerolog/log"
)

// BackoffConfig controls TCP dial retries.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// MaxAttempts of 0 retries until ctx is done.
	MaxAttempts int
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		MaxAttempts:  5,
	}
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// DialTCP connects to addr, retrying with backoff until it succeeds,
// attempts run out or ctx is done.
func DialTCP(ctx context.Context, addr string, cfg BackoffConfig) (net.Conn, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var d net.Dialer
	var lastErr error
	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		delay := NextBackoffDelay(cfg, attempt, rng)
		log.Debug().Err(err).Str("addr", addr).Int("attempt", attempt).Dur("retry_in", delay).Msg("endpoint.DialTCP retry")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("dial %s: %w", addr, lastErr)
}

// SendTCP writes each message to conn. TCP carries large payloads without TP.
func SendTCP(conn net.Conn, limits someip.Limits, msgs ...*someip.Message) error {
	for i, msg := range msgs {
		if err := someip.WriteMessage(conn, msg, limits); err != nil {
			return fmt.Errorf("tcp write message %d/%d: %w", i+1, len(msgs), err)
		}
	}
	return nil
}
