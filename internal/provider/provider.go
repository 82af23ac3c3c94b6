// Package provider defines the similarity-data API the recommender consumes and
// the fixed record shapes its responses are decoded into.
package provider

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when the provider definitively has no such artist.
// It is cached as an empty result rather than retried.
var ErrNotFound = errors.New("artist not found")

// TransientError marks a failure worth retrying: timeouts, 5xx responses and the
// provider's own rate-limit or temporary-failure codes.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// SimilarArtist is one entry of a similar-artists response.
type SimilarArtist struct {
	Name  string  `json:"name" yaml:"name"`
	Match float64 `json:"match" yaml:"match"`
	// Listeners is zero when the provider does not include it.
	Listeners int64 `json:"listeners,omitempty" yaml:"listeners,omitempty"`
}

// Tag is a (tag, weight) pair. Top-tag responses are ordered by weight, descending.
type Tag struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Summary holds the popularity stats for an artist.
type Summary struct {
	Listeners int64 `json:"listeners" yaml:"listeners"`
	PlayCount int64 `json:"playcount" yaml:"playcount"`
}

// Provider is the external similarity API. Implementations make exactly one
// network round-trip per call and do no caching or rate limiting of their own.
type Provider interface {
	SimilarArtists(ctx context.Context, artist string, limit int) ([]SimilarArtist, error)
	TopTags(ctx context.Context, artist string) ([]Tag, error)
	ArtistSummary(ctx context.Context, artist string) (Summary, error)
}

// NormalizeTags lower-cases and trims tag names, drops empty and duplicate tags
// (keeping the first, highest-weighted occurrence) and negative weights.
func NormalizeTags(tags []Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		w := t.Weight
		if w < 0 {
			w = 0
		}
		out = append(out, Tag{Name: name, Weight: w})
	}
	return out
}
