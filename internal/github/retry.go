package github

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pom-harvester/internal/clock/system"
	"github.com/JakeFAU/pom-harvester/internal/metrics"
)

// DefaultCooldown is how long to wait once every credential has been rate limited.
const DefaultCooldown = 60 * time.Second

// Operation is one idempotent API call that may be attempted repeatedly.
type Operation[T any] func(ctx context.Context) (T, error)

// Rotator advances to the next credential and reports whether it wrapped.
type Rotator interface {
	Advance() bool
}

// Retrier holds the rotation policy shared by every Execute call.
type Retrier struct {
	rotator  Rotator
	cooldown time.Duration
	sleep    func(context.Context, time.Duration) error
	yield    func()
	logger   *zap.Logger
}

// NewRetrier builds a Retrier rotating through rotator.
func NewRetrier(rotator Rotator, cooldown time.Duration, logger *zap.Logger) *Retrier {
	if cooldown < 0 {
		cooldown = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		rotator:  rotator,
		cooldown: cooldown,
		sleep:    system.Sleep,
		yield:    runtime.Gosched,
		logger:   logger,
	}
}

// Execute runs op until it succeeds or fails with something other than a
// rate limit. Rate limits rotate the credential; a wrapped rotation sleeps
// the cooldown first. Transient and fatal errors are returned untouched.
func Execute[T any](ctx context.Context, r *Retrier, op Operation[T]) (T, error) {
	var zero T
	for {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRateLimited(err) {
			return zero, err
		}

		wrapped := r.rotator.Advance()
		metrics.ObserveRotation(wrapped)
		if wrapped {
			r.logger.Warn("All credentials rate limited, cooling down",
				zap.Duration("cooldown", r.cooldown),
				zap.Error(err),
			)
			if serr := r.sleep(ctx, r.cooldown); serr != nil {
				return zero, serr
			}
			metrics.ObserveCooldown(r.cooldown)
		} else {
			r.logger.Debug("Rate limited, rotating credential", zap.Error(err))
		}
		r.yield()
	}
}
