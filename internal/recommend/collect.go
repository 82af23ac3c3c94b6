package recommend

import (
	"context"
	"strings"
	"sync"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/library"
	"github.com/ademuri/beatfinder/internal/provider"
)

// Candidate is an artist reached through at least one loved artist's similar
// list. Candidates are unique by Key.
type Candidate struct {
	Name string
	Key  string
	// Provenance maps each loved artist that suggested this candidate to the
	// highest match score it reported.
	Provenance map[string]float64
	Listeners  *int64
	// Tags is nil until the tag-aware phase.
	Tags  []provider.Tag
	Score float64
}

func (c *Candidate) BestMatch() float64 {
	var best float64
	for _, m := range c.Provenance {
		if m > best {
			best = m
		}
	}
	return best
}

type candidateSet struct {
	mu         sync.Mutex
	byKey      map[string]*Candidate
	exclusions *library.Exclusions
}

func newCandidateSet(exclusions *library.Exclusions) *candidateSet {
	return &candidateSet{byKey: make(map[string]*Candidate), exclusions: exclusions}
}

// add records that seed suggested similar. It returns false if similar is excluded.
func (s *candidateSet) add(seed string, similar provider.SimilarArtist) bool {
	name := strings.TrimSpace(similar.Name)
	key := cache.Normalize(name)
	if key == "" || s.exclusions.Excludes(name) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byKey[key]
	if !ok {
		c = &Candidate{Name: name, Key: key, Provenance: make(map[string]float64)}
		s.byKey[key] = c
	}
	// The display name must not depend on fetch completion order.
	if name < c.Name {
		c.Name = name
	}
	if m, ok := c.Provenance[seed]; !ok || similar.Match > m {
		c.Provenance[seed] = similar.Match
	}
	if similar.Listeners > 0 && (c.Listeners == nil || similar.Listeners > *c.Listeners) {
		l := similar.Listeners
		c.Listeners = &l
	}
	return true
}

func (s *candidateSet) list() []*Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Candidate, 0, len(s.byKey))
	for _, c := range s.byKey {
		out = append(out, c)
	}
	return out
}

// collect fetches the similar artists of every seed and merges them into a
// deduplicated candidate set, dropping excluded names.
func (e *Engine) collect(ctx context.Context, seeds []string, exclusions *library.Exclusions, rs *runState) ([]*Candidate, error) {
	set := newCandidateSet(exclusions)
	err := e.forEach(ctx, PhaseCollect, seeds, rs, func(ctx context.Context, seed string) error {
		similar, err := e.fetch.SimilarArtists(ctx, seed, e.cfg.SimilarLimit)
		if err != nil {
			return err
		}
		dropped := 0
		for _, s := range similar {
			if !set.add(seed, s) {
				dropped++
			}
		}
		rs.addExcluded(dropped)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set.list(), nil
}
