package recommend

import (
	"context"
	"math"
	"sort"

	"github.com/ademuri/beatfinder/internal/config"
	"github.com/ademuri/beatfinder/internal/library"
	"github.com/ademuri/beatfinder/internal/provider"
)

// neutralRarity is used when a candidate's listener count is unknown.
const neutralRarity = 0.5

// Recommendation is a scored candidate with the sub-scores that produced it.
type Recommendation struct {
	Name           string   `json:"name" yaml:"name"`
	Score          float64  `json:"score" yaml:"score"`
	Frequency      int      `json:"frequency" yaml:"frequency"`
	FrequencyScore float64  `json:"frequency_score" yaml:"frequency_score"`
	BestMatch      float64  `json:"best_match" yaml:"best_match"`
	Rarity         float64  `json:"rarity" yaml:"rarity"`
	TagOverlap     float64  `json:"tag_overlap" yaml:"tag_overlap"`
	Listeners      *int64   `json:"listeners,omitempty" yaml:"listeners,omitempty"`
	Tags           []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	RecommendedBy  []string `json:"recommended_by" yaml:"recommended_by"`
}

// effectiveWeights folds the tag weight into the other three, proportionally,
// when tag similarity is disabled.
func effectiveWeights(w config.Weights, tagSimilarity bool) config.Weights {
	if tagSimilarity {
		return w
	}
	rest := w.Frequency + w.Match + w.Rarity
	if rest <= 0 {
		return config.Weights{Frequency: 1.0 / 3, Match: 1.0 / 3, Rarity: 1.0 / 3}
	}
	scale := (rest + w.TagOverlap) / rest
	return config.Weights{
		Frequency: w.Frequency * scale,
		Match:     w.Match * scale,
		Rarity:    w.Rarity * scale,
	}
}

// frequencyScore maps the (optionally play-weighted) number of distinct
// suggesting artists onto [0, 1). It is strictly increasing in the number of
// suggesting artists.
func frequencyScore(f float64) float64 {
	if f <= 0 {
		return 0
	}
	return f / (f + 2)
}

// rarityScore is 1/(1 + listeners/L0) where the pivot L0 moves from ten million
// listeners at preference 1 down to a thousand at preference 15.
func rarityScore(listeners *int64, preference int) float64 {
	if listeners == nil || *listeners <= 0 {
		return neutralRarity
	}
	if preference < 1 {
		preference = 1
	}
	if preference > 15 {
		preference = 15
	}
	pivot := math.Pow(10, 7-4*float64(preference-1)/14)
	return 1 / (1 + float64(*listeners)/pivot)
}

// cosine returns the cosine similarity between the candidate's tag vector and
// the profile, with ignored tags removed from both sides.
func cosine(tags []provider.Tag, profile TasteProfile, ignore tagSet) float64 {
	var dot, norm float64
	for _, t := range tags {
		if ignore.has(t.Name) || t.Weight <= 0 {
			continue
		}
		norm += t.Weight * t.Weight
		dot += t.Weight * profile[t.Name]
	}
	if norm == 0 || dot == 0 {
		return 0
	}
	pn := profile.norm(ignore)
	if pn == 0 {
		return 0
	}
	return dot / (math.Sqrt(norm) * pn)
}

// blacklisted reports whether any of the first topN tags (all when topN is 0)
// is on the blacklist.
func blacklisted(tags []provider.Tag, blacklist tagSet, topN int) bool {
	if len(blacklist) == 0 {
		return false
	}
	for i, t := range tags {
		if topN > 0 && i >= topN {
			break
		}
		if blacklist.has(t.Name) {
			return true
		}
	}
	return false
}

type scored struct {
	c              *Candidate
	frequency      int
	frequencyScore float64
	bestMatch      float64
	rarity         float64
	tagOverlap     float64
}

func (e *Engine) frequency(c *Candidate, stats map[string]library.ArtistStat) float64 {
	if !e.cfg.PlayFrequencyWeighting {
		return float64(len(c.Provenance))
	}
	seeds := make([]string, 0, len(c.Provenance))
	for seed := range c.Provenance {
		seeds = append(seeds, seed)
	}
	sort.Strings(seeds)
	var f float64
	for _, seed := range seeds {
		f += playWeight(stats[seed].PlayCount)
	}
	return f
}

func (e *Engine) subScores(c *Candidate, stats map[string]library.ArtistStat) scored {
	return scored{
		c:              c,
		frequency:      len(c.Provenance),
		frequencyScore: frequencyScore(e.frequency(c, stats)),
		bestMatch:      c.BestMatch(),
		rarity:         rarityScore(c.Listeners, e.cfg.Rarity),
	}
}

func (e *Engine) preliminary(s scored) float64 {
	w := e.weights
	return w.Frequency*s.frequencyScore + w.Match*s.bestMatch + w.Rarity*s.rarity
}

func (e *Engine) final(s scored) float64 {
	return e.preliminary(s) + e.weights.TagOverlap*s.tagOverlap
}

func sortScored(list []scored) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.c.Score != b.c.Score {
			return a.c.Score > b.c.Score
		}
		if a.frequency != b.frequency {
			return a.frequency > b.frequency
		}
		if a.bestMatch != b.bestMatch {
			return a.bestMatch > b.bestMatch
		}
		return a.c.Name < b.c.Name
	})
}

// scorePreliminary scores every candidate without tags and keeps the best
// TagFetchLimit of them (all when the limit is 0).
func (e *Engine) scorePreliminary(candidates []*Candidate, stats map[string]library.ArtistStat) []scored {
	list := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		s := e.subScores(c, stats)
		c.Score = e.preliminary(s)
		list = append(list, s)
	}
	sortScored(list)
	if limit := e.cfg.TagFetchLimit; limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// scoreFinal fetches tags and listener counts for the survivors, drops
// tag-blacklisted candidates, then rescores with all four weights.
func (e *Engine) scoreFinal(ctx context.Context, survivors []scored, profile TasteProfile, stats map[string]library.ArtistStat, rs *runState) ([]scored, error) {
	byName := make(map[string]*Candidate, len(survivors))
	names := make([]string, 0, len(survivors))
	for _, s := range survivors {
		byName[s.c.Name] = s.c
		names = append(names, s.c.Name)
	}

	err := e.forEach(ctx, PhaseTags, names, rs, func(ctx context.Context, name string) error {
		c := byName[name]
		tags, tagErr := e.fetch.TopTags(ctx, name)
		if tagErr == nil {
			c.Tags = provider.NormalizeTags(tags)
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		summary, sumErr := e.fetch.Summary(ctx, name)
		if sumErr == nil && summary != nil && summary.Listeners > 0 {
			l := summary.Listeners
			c.Listeners = &l
		}
		if tagErr != nil {
			return tagErr
		}
		return sumErr
	})
	if err != nil {
		return nil, err
	}

	out := make([]scored, 0, len(survivors))
	for _, s := range survivors {
		if blacklisted(s.c.Tags, e.blacklist, e.cfg.TagBlacklistTopN) {
			rs.addBlacklisted()
			continue
		}
		s = e.subScores(s.c, stats)
		if e.cfg.TagSimilarity {
			s.tagOverlap = cosine(s.c.Tags, profile, e.ignore)
		}
		s.c.Score = e.final(s)
		out = append(out, s)
	}
	sortScored(out)
	if len(out) > e.cfg.MaxRecommendations {
		out = out[:e.cfg.MaxRecommendations]
	}
	return out, nil
}

func (s scored) recommendation() Recommendation {
	r := Recommendation{
		Name:           s.c.Name,
		Score:          s.c.Score,
		Frequency:      s.frequency,
		FrequencyScore: s.frequencyScore,
		BestMatch:      s.bestMatch,
		Rarity:         s.rarity,
		TagOverlap:     s.tagOverlap,
		Listeners:      s.c.Listeners,
	}
	for i, t := range s.c.Tags {
		if i == 10 {
			break
		}
		r.Tags = append(r.Tags, t.Name)
	}
	for seed := range s.c.Provenance {
		r.RecommendedBy = append(r.RecommendedBy, seed)
	}
	sort.Strings(r.RecommendedBy)
	return r
}
