// Package ratelimit provides the process-wide gate in front of the similarity API.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits callers one at a time, never closer together than 1/rate.
//
// Callers are serialized on a mutex. While holding it, a caller reserves a token
// from the underlying rate.Limiter, sleeps for the reservation delay (stretched if
// needed so that the gap since the previous observed grant is at least the
// interval), records its grant time, and releases the mutex.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	last     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// MinRate is the slowest rate New honours. Slower positive rates are raised to it.
const MinRate = 0.01

// New returns a limiter admitting at most perSecond calls per second.
// Non-positive values disable limiting.
func New(perSecond float64) *Limiter {
	l := &Limiter{
		now:   time.Now,
		sleep: sleepContext,
	}
	if perSecond > 0 {
		perSecond = max(perSecond, MinRate)
		l.interval = time.Duration(float64(time.Second) / perSecond)
		l.limiter = rate.NewLimiter(rate.Every(l.interval), 1)
	}
	return l
}

// Interval is the minimum spacing between two grants.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Acquire blocks until another call may be issued. It only fails if ctx is done
// before admission, in which case the caller must not issue its call.
func (l *Limiter) Acquire(ctx context.Context) error {
	_, err := l.acquire(ctx)
	return err
}

func (l *Limiter) acquire(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if l.limiter == nil {
		return l.now(), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r := l.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	// A late wakeup for the previous caller can leave the token schedule ahead of
	// the observed grant, so the spacing is also checked against the last grant.
	if !l.last.IsZero() {
		if gap := l.last.Add(l.interval).Sub(now); gap > wait {
			wait = gap
		}
	}
	if wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			r.CancelAt(l.now())
			return time.Time{}, err
		}
	}

	l.last = l.now()
	return l.last, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
