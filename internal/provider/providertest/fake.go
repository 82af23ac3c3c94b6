// Package providertest provides an in-memory Provider for tests.
package providertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/provider"
)

// Fake serves canned responses keyed by normalized artist name and counts
// every call. Artists with no canned response are reported as not found.
type Fake struct {
	mu sync.Mutex

	similar   map[string][]provider.SimilarArtist
	tags      map[string][]provider.Tag
	summaries map[string]provider.Summary
	errs      map[string]error
	transient map[string]int

	calls map[string]int
	total int

	// Delay is added to every call.
	Delay time.Duration
}

func New() *Fake {
	return &Fake{
		similar:   make(map[string][]provider.SimilarArtist),
		tags:      make(map[string][]provider.Tag),
		summaries: make(map[string]provider.Summary),
		errs:      make(map[string]error),
		transient: make(map[string]int),
		calls:     make(map[string]int),
	}
}

func key(kind cache.Kind, artist string) string {
	return string(kind) + ":" + cache.Normalize(artist)
}

func (f *Fake) SetSimilar(artist string, similar ...provider.SimilarArtist) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.similar[cache.Normalize(artist)] = similar
	return f
}

func (f *Fake) SetTags(artist string, tags ...provider.Tag) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[cache.Normalize(artist)] = tags
	return f
}

func (f *Fake) SetSummary(artist string, listeners int64) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[cache.Normalize(artist)] = provider.Summary{Listeners: listeners, PlayCount: listeners * 10}
	return f
}

// SetError makes every call of kind for artist fail with err.
func (f *Fake) SetError(kind cache.Kind, artist string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key(kind, artist)] = err
	return f
}

// FailTransiently makes the next n calls of kind for artist fail with a
// TransientError.
func (f *Fake) FailTransiently(kind cache.Kind, artist string, n int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transient[key(kind, artist)] = n
	return f
}

// Calls is the total number of calls made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// CallsFor is the number of calls of kind made for artist.
func (f *Fake) CallsFor(kind cache.Kind, artist string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key(kind, artist)]
}

func (f *Fake) record(kind cache.Kind, artist string) error {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(kind, artist)
	f.calls[k]++
	f.total++
	if n := f.transient[k]; n > 0 {
		f.transient[k] = n - 1
		return &provider.TransientError{Err: errors.New("service temporarily unavailable")}
	}
	return f.errs[k]
}

func (f *Fake) SimilarArtists(_ context.Context, artist string, limit int) ([]provider.SimilarArtist, error) {
	if err := f.record(cache.KindSimilar, artist); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.similar[cache.Normalize(artist)]
	if !ok {
		return nil, provider.ErrNotFound
	}
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return append([]provider.SimilarArtist(nil), s...), nil
}

func (f *Fake) TopTags(_ context.Context, artist string) ([]provider.Tag, error) {
	if err := f.record(cache.KindTags, artist); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tags[cache.Normalize(artist)]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return append([]provider.Tag(nil), t...), nil
}

func (f *Fake) ArtistSummary(_ context.Context, artist string) (provider.Summary, error) {
	if err := f.record(cache.KindSummary, artist); err != nil {
		return provider.Summary{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.summaries[cache.Normalize(artist)]
	if !ok {
		return provider.Summary{}, provider.ErrNotFound
	}
	return s, nil
}
