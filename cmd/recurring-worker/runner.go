package main

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"kesefly/internal/log"
)

const (
	lockKey = "kesefly:recurring-worker"
	lockTTL = 10 * time.Minute
)

type dueProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) (int, error)
}

// obtainer is satisfied by *redislock.Client.
type obtainer interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// runner performs one materialisation pass per tick. With a locker only
// the replica holding the lock runs; the others skip the tick.
type runner struct {
	processor dueProcessor
	locker    obtainer
	logger    *log.Logger
	now       func() time.Time
}

// run reports whether the pass ran and how many children it created.
func (r *runner) run(ctx context.Context) (bool, int, error) {
	if r.locker != nil {
		lock, err := r.locker.Obtain(ctx, lockKey, lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			r.logger.InfoContext(ctx, "Another replica holds the recurring lock, skipping run")
			return false, 0, nil
		}
		if err != nil {
			return false, 0, err
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("Failed to release recurring lock", log.FieldError, err, log.FieldErrorType, log.ErrorTypeNetwork)
			}
		}()
	}

	start := r.now()
	created, err := r.processor.ProcessDue(ctx, start)
	if err != nil {
		return true, created, err
	}
	r.logger.InfoContext(ctx, "Recurring run complete",
		"created", created,
		log.FieldDuration, time.Since(start).Milliseconds())
	return true, created, nil
}

// tick is the cron job body: errors are logged, never returned.
func (r *runner) tick(ctx context.Context) {
	if _, _, err := r.run(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Recurring run failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase)
	}
}
