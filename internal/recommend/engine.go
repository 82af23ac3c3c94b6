// Package recommend turns a listener's library into a ranked list of artists
// they do not know yet. It builds a tag profile from their loved artists,
// collects similar artists as candidates, and scores them in two phases so
// that tags are only fetched for candidates that could make the final list.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ademuri/beatfinder/internal/config"
	"github.com/ademuri/beatfinder/internal/library"
	"github.com/ademuri/beatfinder/internal/logging"
	"github.com/ademuri/beatfinder/internal/metrics"
	"github.com/ademuri/beatfinder/internal/provider"
)

var ErrNoLovedArtists = errors.New("no loved artists in library")

const (
	PhaseProfile = "profile"
	PhaseCollect = "collect"
	PhaseTags    = "tags"
)

// Fetcher is the cached, rate-limited view of the provider.
type Fetcher interface {
	SimilarArtists(ctx context.Context, name string, limit int) ([]provider.SimilarArtist, error)
	TopTags(ctx context.Context, name string) ([]provider.Tag, error)
	// Summary returns nil if the provider does not know the artist.
	Summary(ctx context.Context, name string) (*provider.Summary, error)
}

// Observer receives progress for each phase. Calls are serialized and made on
// the worker goroutine that completed the item, so implementations must be quick.
type Observer interface {
	Progress(phase string, done, total int)
}

type ObserverFunc func(phase string, done, total int)

func (f ObserverFunc) Progress(phase string, done, total int) { f(phase, done, total) }

// RunStats counts what happened during a run.
type RunStats struct {
	Seeds       int `json:"seeds" yaml:"seeds"`
	Candidates  int `json:"candidates" yaml:"candidates"`
	Excluded    int `json:"excluded" yaml:"excluded"`
	Scored      int `json:"scored" yaml:"scored"`
	Blacklisted int `json:"blacklisted" yaml:"blacklisted"`
	Skipped     int `json:"skipped" yaml:"skipped"`
}

type Result struct {
	RunID           string                 `json:"run_id" yaml:"run_id"`
	Recommendations []Recommendation       `json:"recommendations" yaml:"recommendations"`
	Profile         TasteProfile           `json:"profile,omitempty" yaml:"profile,omitempty"`
	Classification  library.Classification `json:"-" yaml:"-"`
	Stats           RunStats               `json:"stats" yaml:"stats"`
}

type runState struct {
	mu    sync.Mutex
	stats RunStats
}

func (r *runState) addSkipped() {
	r.mu.Lock()
	r.stats.Skipped++
	r.mu.Unlock()
}

func (r *runState) addExcluded(n int) {
	r.mu.Lock()
	r.stats.Excluded += n
	r.mu.Unlock()
}

func (r *runState) addBlacklisted() {
	r.mu.Lock()
	r.stats.Blacklisted++
	r.mu.Unlock()
}

func (r *runState) snapshot() RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

type Engine struct {
	cfg      config.Config
	fetch    Fetcher
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time

	weights   config.Weights
	ignore    tagSet
	blacklist tagSet

	progressMu sync.Mutex
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine validates cfg and returns an engine that reaches the provider only
// through fetch.
func NewEngine(cfg config.Config, fetch Fetcher, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		fetch:     fetch,
		logger:    logging.Component(logger, "recommend"),
		now:       time.Now,
		weights:   effectiveWeights(cfg.Weights, cfg.TagSimilarity),
		ignore:    newTagSet(cfg.TagIgnore),
		blacklist: newTagSet(cfg.TagBlacklist),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Run produces recommendations for the library described by stats. rejected
// names are excluded in addition to the configured artist blacklist. If ctx is
// cancelled, Run stops admitting new provider calls and returns ctx's error;
// everything fetched so far stays in the cache.
func (e *Engine) Run(ctx context.Context, stats map[string]library.ArtistStat, rejected []string) (*Result, error) {
	runID := uuid.NewString()
	logger := e.logger.With().Str("run_id", runID).Logger()

	stats = library.Merge(stats)
	class := library.Classify(stats, e.cfg.Thresholds(e.now()))
	if len(class.Seeds) == 0 {
		return nil, ErrNoLovedArtists
	}
	exclusions := library.NewExclusions(class, e.cfg.ArtistBlacklist, rejected)
	byName := statsByName(stats)

	rs := &runState{}
	rs.stats.Seeds = len(class.Seeds)
	logger.Info().
		Int("seeds", len(class.Seeds)).
		Int("known", len(class.Known)).
		Int("disliked", len(class.Disliked)).
		Int("excluded", exclusions.Len()).
		Msg("starting recommendation run")

	profile := make(TasteProfile)
	if e.cfg.TagSimilarity {
		start := time.Now()
		p, err := e.buildProfile(ctx, class.Seeds, byName, rs)
		if err != nil {
			return nil, fmt.Errorf("building taste profile: %w", err)
		}
		profile = p
		metrics.RunDuration.WithLabelValues(PhaseProfile).Observe(time.Since(start).Seconds())
		logger.Info().Strs("top_tags", profile.Top(10)).Msg("built taste profile")
	}

	start := time.Now()
	candidates, err := e.collect(ctx, class.Seeds, exclusions, rs)
	if err != nil {
		return nil, fmt.Errorf("collecting candidates: %w", err)
	}
	metrics.RunDuration.WithLabelValues(PhaseCollect).Observe(time.Since(start).Seconds())
	metrics.Candidates.Set(float64(len(candidates)))
	rs.stats.Candidates = len(candidates)
	logger.Info().Int("candidates", len(candidates)).Msg("collected candidates")

	survivors := e.scorePreliminary(candidates, byName)
	rs.stats.Scored = len(survivors)

	start = time.Now()
	final, err := e.scoreFinal(ctx, survivors, profile, byName, rs)
	if err != nil {
		return nil, fmt.Errorf("scoring candidates: %w", err)
	}
	metrics.RunDuration.WithLabelValues(PhaseTags).Observe(time.Since(start).Seconds())

	recs := make([]Recommendation, 0, len(final))
	for _, s := range final {
		recs = append(recs, s.recommendation())
	}
	metrics.Recommendations.Set(float64(len(recs)))

	res := &Result{
		RunID:           runID,
		Recommendations: recs,
		Profile:         profile,
		Classification:  class,
		Stats:           rs.snapshot(),
	}
	logger.Info().
		Int("recommendations", len(recs)).
		Int("skipped", res.Stats.Skipped).
		Int("blacklisted", res.Stats.Blacklisted).
		Msg("finished recommendation run")
	return res, nil
}

// statsByName indexes stats by display name, which is how seeds are named.
func statsByName(stats map[string]library.ArtistStat) map[string]library.ArtistStat {
	out := make(map[string]library.ArtistStat, len(stats))
	for name, s := range stats {
		if s.Name == "" {
			s.Name = name
		}
		out[s.Name] = s
	}
	return out
}

func (e *Engine) progress(phase string, done, total int) {
	if e.observer == nil {
		return
	}
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	e.observer.Progress(phase, done, total)
}

// forEach runs fn for every item on a bounded pool. A failing item is logged and
// skipped; only cancellation of ctx stops the pool.
func (e *Engine) forEach(ctx context.Context, phase string, items []string, rs *runState, fn func(context.Context, string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	var (
		mu   sync.Mutex
		done int
	)
	total := len(items)
	e.progress(phase, 0, total)
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := fn(gctx, item); err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.logger.Warn().Err(err).Str("phase", phase).Str("artist", item).Msg("skipping artist after failed fetch")
				metrics.SkippedArtists.WithLabelValues(phase).Inc()
				rs.addSkipped()
			}
			mu.Lock()
			defer mu.Unlock()
			done++
			e.progress(phase, done, total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
