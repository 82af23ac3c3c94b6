// Package library classifies a listener's artists as known, loved or disliked
// and decides whether a candidate name collides with any of them.
package library

import (
	"regexp"
	"sort"
	"time"

	"github.com/ademuri/beatfinder/internal/cache"
)

// ArtistStat is the per-artist summary of a listening history. Rating is the
// highest track rating seen, on a 0-100 scale (one star = 20).
type ArtistStat struct {
	Name           string    `json:"name" yaml:"name"`
	PlayCount      int       `json:"play_count" yaml:"play_count"`
	SkipCount      int       `json:"skip_count" yaml:"skip_count"`
	Rating         int       `json:"rating" yaml:"rating"`
	TrackCount     int       `json:"track_count" yaml:"track_count"`
	Loved          bool      `json:"loved" yaml:"loved"`
	LovedTracks    int       `json:"loved_track_count" yaml:"loved_track_count"`
	Disliked       bool      `json:"disliked" yaml:"disliked"`
	DislikedTracks int       `json:"disliked_track_count" yaml:"disliked_track_count"`
	LastPlayed     time.Time `json:"last_played,omitempty" yaml:"last_played,omitempty"`
}

// Thresholds configures classification.
type Thresholds struct {
	KnownPlays  int
	KnownTracks int

	LovedPlays int
	// LovedMinRating is on the 0-100 scale.
	LovedMinRating int
	LovedMinPlays  int

	DislikedTracks int

	// LovedSince, when non-zero, stops loved artists last played before it from
	// seeding a run. They are still excluded from recommendations.
	LovedSince time.Time
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		KnownPlays:     3,
		KnownTracks:    5,
		LovedPlays:     50,
		LovedMinRating: 80,
		LovedMinPlays:  10,
		DislikedTracks: 2,
	}
}

func (t Thresholds) IsKnown(s ArtistStat) bool {
	return s.PlayCount >= t.KnownPlays || s.TrackCount >= t.KnownTracks
}

// IsDisliked requires enough disliked tracks and no explicit like. An explicit
// dislike counts as at least one disliked track.
func (t Thresholds) IsDisliked(s ArtistStat) bool {
	n := s.DislikedTracks
	if s.Disliked && n < 1 {
		n = 1
	}
	return !s.Loved && n > 0 && n >= t.DislikedTracks
}

// IsLoved is never true for a disliked artist.
func (t Thresholds) IsLoved(s ArtistStat) bool {
	if t.IsDisliked(s) {
		return false
	}
	return s.Loved ||
		s.PlayCount >= t.LovedPlays ||
		(s.Rating >= t.LovedMinRating && s.PlayCount >= t.LovedMinPlays)
}

// Classification is the result of classifying a library. Each map goes from
// normalized name to the library's display name.
type Classification struct {
	Known    map[string]string
	Loved    map[string]string
	Disliked map[string]string

	// Seeds are the loved artists that seed a run, sorted by display name.
	Seeds []string
}

// Merge folds entries whose names normalize to the same artist, such as
// "Artist A" and "artist a" from two history sources, into one stat keyed by
// the normalized name. Counts are summed, except track count and rating which
// take the maximum. The display name is that of the most played entry.
func Merge(stats map[string]ArtistStat) map[string]ArtistStat {
	out := make(map[string]ArtistStat, len(stats))
	for name, s := range stats {
		if s.Name == "" {
			s.Name = name
		}
		key := cache.Normalize(s.Name)
		if key == "" {
			continue
		}
		m, ok := out[key]
		if !ok {
			out[key] = s
			continue
		}
		if s.PlayCount > m.PlayCount || (s.PlayCount == m.PlayCount && s.Name < m.Name) {
			m.Name = s.Name
		}
		m.PlayCount += s.PlayCount
		m.SkipCount += s.SkipCount
		m.LovedTracks += s.LovedTracks
		m.DislikedTracks += s.DislikedTracks
		m.TrackCount = max(m.TrackCount, s.TrackCount)
		m.Rating = max(m.Rating, s.Rating)
		m.Loved = m.Loved || s.Loved
		m.Disliked = m.Disliked || s.Disliked
		if s.LastPlayed.After(m.LastPlayed) {
			m.LastPlayed = s.LastPlayed
		}
		out[key] = m
	}
	return out
}

// Classify sorts every artist in stats into the known, loved and disliked sets.
// The loved and disliked sets are disjoint, and each artist seeds at most once.
func Classify(stats map[string]ArtistStat, t Thresholds) Classification {
	c := Classification{
		Known:    make(map[string]string),
		Loved:    make(map[string]string),
		Disliked: make(map[string]string),
	}
	for key, s := range Merge(stats) {
		if t.IsKnown(s) {
			c.Known[key] = s.Name
		}
		switch {
		case t.IsDisliked(s):
			c.Disliked[key] = s.Name
		case t.IsLoved(s):
			c.Loved[key] = s.Name
			if !t.LovedSince.IsZero() && !s.LastPlayed.IsZero() && s.LastPlayed.Before(t.LovedSince) {
				continue
			}
			c.Seeds = append(c.Seeds, s.Name)
		}
	}
	sort.Strings(c.Seeds)
	return c
}

var collaborationSeparator = regexp.MustCompile(`(?i)\s*(?:&|,|\bfeat\.|\bft\.|\bfeaturing\b)\s*`)

// SplitCollaboration splits a multi-artist name such as "A feat. B & C" into
// its normalized parts. Empty fragments are dropped.
func SplitCollaboration(name string) []string {
	var parts []string
	for _, p := range collaborationSeparator.Split(name, -1) {
		if n := cache.Normalize(p); n != "" {
			parts = append(parts, n)
		}
	}
	return parts
}

// Exclusions is the set of names that must never be recommended.
type Exclusions struct {
	keys map[string]struct{}
}

// NewExclusions builds the exclusion set from the classification plus any
// extra names (artist blacklist, rejected artists).
func NewExclusions(c Classification, extra ...[]string) *Exclusions {
	e := &Exclusions{keys: make(map[string]struct{})}
	for _, m := range []map[string]string{c.Known, c.Loved, c.Disliked} {
		for k := range m {
			e.keys[k] = struct{}{}
		}
	}
	for _, names := range extra {
		for _, n := range names {
			if k := cache.Normalize(n); k != "" {
				e.keys[k] = struct{}{}
			}
		}
	}
	return e
}

// Excludes reports whether name, or any collaboration fragment of it,
// matches an excluded artist.
func (e *Exclusions) Excludes(name string) bool {
	if _, ok := e.keys[cache.Normalize(name)]; ok {
		return true
	}
	for _, part := range SplitCollaboration(name) {
		if _, ok := e.keys[part]; ok {
			return true
		}
	}
	return false
}

func (e *Exclusions) Len() int {
	return len(e.keys)
}
