package recommend

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/library"
	"github.com/ademuri/beatfinder/internal/provider"
)

// TasteProfile maps a lower-cased tag to its accumulated weight across the
// listener's loved artists.
type TasteProfile map[string]float64

// Top returns the n heaviest tags, heaviest first.
func (p TasteProfile) Top(n int) []string {
	tags := make([]string, 0, len(p))
	for t := range p {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if p[tags[i]] != p[tags[j]] {
			return p[tags[i]] > p[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if n > 0 && len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

// norm is the Euclidean norm over the tags not in ignore, summed in tag order.
func (p TasteProfile) norm(ignore tagSet) float64 {
	tags := make([]string, 0, len(p))
	for t := range p {
		if !ignore.has(t) {
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	var sum float64
	for _, t := range tags {
		sum += p[t] * p[t]
	}
	return math.Sqrt(sum)
}

type tagSet map[string]struct{}

func newTagSet(tags []string) tagSet {
	s := make(tagSet, len(tags))
	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

func (s tagSet) has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// rankPenalty is the divisor applied to a tag's weight by its 1-based
// position in an artist's tag list.
func rankPenalty(position int) float64 {
	return float64(position)
}

// playWeight dampens a play count so that heavy rotation counts for more
// without drowning out everything else. It is at least 1.
func playWeight(plays int) float64 {
	if plays < 0 {
		plays = 0
	}
	return math.Log10(10 + float64(plays))
}

// buildProfile fetches top tags for every seed not on the profile exclusion list
// and accumulates them into a TasteProfile.
func (e *Engine) buildProfile(ctx context.Context, seeds []string, stats map[string]library.ArtistStat, rs *runState) (TasteProfile, error) {
	excluded := make(map[string]bool, len(e.cfg.ProfileExclude))
	for _, n := range e.cfg.ProfileExclude {
		excluded[cache.Normalize(n)] = true
	}
	var artists []string
	for _, s := range seeds {
		if !excluded[cache.Normalize(s)] {
			artists = append(artists, s)
		}
	}

	var mu sync.Mutex
	contribs := make(map[string]map[string]float64, len(artists))
	err := e.forEach(ctx, PhaseProfile, artists, rs, func(ctx context.Context, artist string) error {
		tags, err := e.fetch.TopTags(ctx, artist)
		if err != nil {
			return err
		}
		scale := 1.0
		if e.cfg.PlayFrequencyWeighting {
			scale = playWeight(stats[artist].PlayCount)
		}
		contrib := e.profileContribution(tags, scale)

		mu.Lock()
		defer mu.Unlock()
		contribs[artist] = contrib
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Summed in seed order so the profile does not depend on completion order.
	profile := make(TasteProfile)
	for _, artist := range artists {
		for tag, w := range contribs[artist] {
			profile[tag] += w
		}
	}
	return profile, nil
}

// profileContribution weighs an artist's top tags by rank, skipping ignored tags.
func (e *Engine) profileContribution(tags []provider.Tag, scale float64) map[string]float64 {
	out := make(map[string]float64)
	position := 0
	for _, t := range provider.NormalizeTags(tags) {
		if e.ignore.has(t.Name) {
			continue
		}
		position++
		if position > e.cfg.ProfileTagsPerArtist {
			break
		}
		out[t.Name] += scale * t.Weight / rankPenalty(position)
	}
	return out
}
