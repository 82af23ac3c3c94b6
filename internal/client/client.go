// Package client wraps a Provider with the shared rate limiter, the response
// cache, retries and a circuit breaker. It is safe for concurrent use and is
// the only path by which the recommender reaches the network.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/logging"
	"github.com/ademuri/beatfinder/internal/metrics"
	"github.com/ademuri/beatfinder/internal/provider"
	"github.com/ademuri/beatfinder/internal/ratelimit"
)

type Config struct {
	// Attempts is the total number of tries for a transiently failing call.
	Attempts uint
	// RetryDelay is the base of the exponential backoff between tries.
	RetryDelay time.Duration
	// FlushEvery flushes the cache after this many completed fetches; 0 disables.
	FlushEvery int
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Attempts:       3,
		RetryDelay:     500 * time.Millisecond,
		FlushEvery:     25,
		BreakerTimeout: 30 * time.Second,
	}
}

type Client struct {
	provider provider.Provider
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	backend  cache.Backend
	logger   zerolog.Logger
	cfg      Config

	breaker *gobreaker.CircuitBreaker[cache.Entry]
	group   singleflight.Group

	calls atomic.Int64

	flushMu    sync.Mutex
	sinceFlush atomic.Int64
}

// New returns a client. backend may be nil, in which case Flush is a no-op.
func New(p provider.Provider, limiter *ratelimit.Limiter, c *cache.Cache, backend cache.Backend, cfg Config, logger zerolog.Logger) *Client {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	cl := &Client{
		provider: p,
		limiter:  limiter,
		cache:    c,
		backend:  backend,
		logger:   logging.Component(logger, "client"),
		cfg:      cfg,
	}

	const breakerName = "provider"
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cl.breaker = gobreaker.NewCircuitBreaker[cache.Entry](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cl.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return cl
}

// SimilarArtists returns up to limit artists similar to name, ordered by match.
func (c *Client) SimilarArtists(ctx context.Context, name string, limit int) ([]provider.SimilarArtist, error) {
	key := cache.Key{Kind: cache.KindSimilar, Artist: cache.Normalize(name), Param: strconv.Itoa(limit)}
	e, err := c.fetch(ctx, key, func(ctx context.Context) (cache.Entry, error) {
		s, err := c.provider.SimilarArtists(ctx, name, limit)
		return cache.Entry{Similar: s}, err
	})
	if err != nil {
		return nil, err
	}
	return e.Similar, nil
}

// TopTags returns name's tags ordered by weight.
func (c *Client) TopTags(ctx context.Context, name string) ([]provider.Tag, error) {
	key := cache.Key{Kind: cache.KindTags, Artist: cache.Normalize(name)}
	e, err := c.fetch(ctx, key, func(ctx context.Context) (cache.Entry, error) {
		t, err := c.provider.TopTags(ctx, name)
		return cache.Entry{Tags: t}, err
	})
	if err != nil {
		return nil, err
	}
	return e.Tags, nil
}

// Summary returns name's popularity stats, or nil if the provider does not
// know the artist.
func (c *Client) Summary(ctx context.Context, name string) (*provider.Summary, error) {
	key := cache.Key{Kind: cache.KindSummary, Artist: cache.Normalize(name)}
	e, err := c.fetch(ctx, key, func(ctx context.Context) (cache.Entry, error) {
		s, err := c.provider.ArtistSummary(ctx, name)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.Entry{Summary: &s}, nil
	})
	if err != nil {
		return nil, err
	}
	return e.Summary, nil
}

// Calls is the number of provider round-trips issued so far.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

func (c *Client) fetch(ctx context.Context, key cache.Key, call func(context.Context) (cache.Entry, error)) (cache.Entry, error) {
	kind := string(key.Kind)
	if e, ok := c.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues(kind, "hit").Inc()
		return e, nil
	}
	metrics.CacheLookups.WithLabelValues(kind, "miss").Inc()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		// Another caller may have filled the entry while this one waited.
		if e, ok := c.cache.Get(key); ok {
			return e, nil
		}
		e, err := c.fetchRemote(ctx, key, call)
		if err != nil {
			return cache.Entry{}, err
		}
		e.Kind, e.Artist, e.Param = key.Kind, key.Artist, key.Param
		c.cache.Put(e)
		metrics.CacheEntries.Set(float64(c.cache.Len()))
		c.completed(ctx)
		return e, nil
	})
	if err != nil {
		return cache.Entry{}, fmt.Errorf("fetching %s: %w", key, err)
	}
	return v.(cache.Entry), nil
}

func (c *Client) fetchRemote(ctx context.Context, key cache.Key, call func(context.Context) (cache.Entry, error)) (cache.Entry, error) {
	kind := string(key.Kind)
	var result cache.Entry
	err := retry.Do(
		func() error {
			waitStart := time.Now()
			if err := c.limiter.Acquire(ctx); err != nil {
				return err
			}
			metrics.RateLimitWait.Observe(time.Since(waitStart).Seconds())

			start := time.Now()
			e, err := c.breaker.Execute(func() (cache.Entry, error) {
				c.calls.Add(1)
				// An admitted call runs to completion even if the run is cancelled.
				e, err := call(context.WithoutCancel(ctx))
				if errors.Is(err, provider.ErrNotFound) {
					return cache.Entry{}, nil
				}
				return e, err
			})
			metrics.ProviderRequestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.ProviderRequests.WithLabelValues(kind, "error").Inc()
				return err
			}
			if e.Similar == nil && e.Tags == nil && e.Summary == nil {
				metrics.ProviderRequests.WithLabelValues(kind, "empty").Inc()
			} else {
				metrics.ProviderRequests.WithLabelValues(kind, "ok").Inc()
			}
			result = e
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return provider.IsTransient(err) || errors.Is(err, gobreaker.ErrTooManyRequests)
		}),
		retry.OnRetry(func(n uint, err error) {
			metrics.ProviderRetries.WithLabelValues(kind).Inc()
			c.logger.Debug().Err(err).Str("key", key.String()).Uint("attempt", n+1).Msg("retrying provider call")
		}),
	)
	if err != nil {
		return cache.Entry{}, err
	}
	return result, nil
}

func (c *Client) completed(ctx context.Context) {
	if c.cfg.FlushEvery <= 0 || c.backend == nil {
		return
	}
	if c.sinceFlush.Add(1) < int64(c.cfg.FlushEvery) {
		return
	}
	if err := c.Flush(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn().Err(err).Msg("checkpoint flush failed")
	}
}

// Flush writes cache entries fetched since the last flush to the backend.
func (c *Client) Flush(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.sinceFlush.Store(0)
	n, err := c.cache.Flush(ctx, c.backend)
	if err != nil {
		metrics.CacheFlushes.WithLabelValues("error").Inc()
		return err
	}
	metrics.CacheFlushes.WithLabelValues("ok").Inc()
	metrics.CacheEntriesFlushed.Add(float64(n))
	if n > 0 {
		c.logger.Debug().Int("entries", n).Msg("flushed cache")
	}
	return nil
}

func (c *Client) Cache() *cache.Cache {
	return c.cache
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
