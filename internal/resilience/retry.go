// Package resilience retries idempotent backend reads and tile fetches and
// sheds load from an unhealthy tile server.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retries with exponential backoff and jitter.
type Policy struct {
	// Attempts is the total number of calls including the first. 1 disables
	// retries.
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Factor   float64
	// Jitter is a fraction of the computed delay applied as +/- noise.
	Jitter float64

	// Retryable overrides IsTransient.
	Retryable func(err error) bool
	OnRetry   func(attempt int, err error)
}

// ReadPolicy is used for row API selects and session refreshes.
func ReadPolicy() Policy {
	return Policy{
		Attempts: 3,
		Base:     250 * time.Millisecond,
		Max:      5 * time.Second,
		Factor:   2,
		Jitter:   0.25,
	}
}

// TilePolicy is used for vector tile fetches. Tiles are re-requested by the
// renderer on the next camera move, so it gives up quickly.
func TilePolicy() Policy {
	return Policy{
		Attempts: 2,
		Base:     100 * time.Millisecond,
		Max:      time.Second,
		Factor:   2,
		Jitter:   0.25,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for calls that return a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		var val T
		if val, err = fn(ctx); err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt == p.Attempts-1 {
			return zero, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, err
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Base <= 0 {
		p.Base = 250 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 5 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the wait before retry number attempt+1.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := math.Min(float64(p.Base)*math.Pow(p.Factor, float64(attempt)), float64(p.Max))
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// LogRetries returns an OnRetry callback that logs through the global logger.
func LogRetries(component, op string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying",
			zap.String("component", component),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
