package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

func newFake(perSecond float64) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(perSecond)
	l.now = clock.now
	l.sleep = clock.sleep
	return l, clock
}

func collectGrants(t *testing.T, l *Limiter, callers, perCaller int) []time.Time {
	t.Helper()
	var mu sync.Mutex
	var grants []time.Time
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				g, err := l.acquire(context.Background())
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				mu.Lock()
				grants = append(grants, g)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	return grants
}

func TestGrantsNeverCloserThanInterval(t *testing.T) {
	for _, callers := range []int{1, 2, 5, 16} {
		for _, perSecond := range []float64{1, 5, 30} {
			l, _ := newFake(perSecond)
			grants := collectGrants(t, l, callers, 10)
			require.Len(t, grants, callers*10)
			for i := 1; i < len(grants); i++ {
				gap := grants[i].Sub(grants[i-1])
				assert.GreaterOrEqualf(t, gap, l.Interval(),
					"callers=%d rate=%v: grants %d and %d only %v apart", callers, perSecond, i-1, i, gap)
			}
		}
	}
}

func TestGrantsRealClock(t *testing.T) {
	l := New(200)
	grants := collectGrants(t, l, 4, 5)
	for i := 1; i < len(grants); i++ {
		if gap := grants[i].Sub(grants[i-1]); gap < l.Interval() {
			t.Errorf("grants %d and %d only %v apart, want >= %v", i-1, i, gap, l.Interval())
		}
	}
}

func TestFirstGrantIsImmediate(t *testing.T) {
	l, clock := newFake(2)
	start := clock.now()
	g, err := l.acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start, g)

	g, err = l.acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start.Add(500*time.Millisecond), g)
}

func TestAcquireCancelled(t *testing.T) {
	l := New(0.5)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnlimited(t *testing.T) {
	l := New(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Zero(t, l.Interval())
}

func TestVerySlowRateIsClamped(t *testing.T) {
	l := New(1e-10)
	assert.Equal(t, 100*time.Second, l.Interval())
	assert.Equal(t, 100*time.Second, New(MinRate).Interval())
}
