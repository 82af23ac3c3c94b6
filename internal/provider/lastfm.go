package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ademuri/lastfm-go/lastfm"
)

// last.fm API error codes, see https://www.last.fm/api/errorcodes.
const (
	lastfmInvalidParameters = 6
	lastfmOperationFailed   = 8
	lastfmServiceOffline    = 11
	lastfmTemporaryError    = 16
	lastfmRateLimitExceeded = 29
)

// LastFm is a Provider backed by the last.fm web API.
type LastFm struct {
	api *lastfm.Api
}

// NewLastFm returns a last.fm provider. The secret is only needed for
// authenticated calls and may be empty.
func NewLastFm(apiKey, secret, userAgent string) *LastFm {
	api := lastfm.New(apiKey, secret)
	if userAgent != "" {
		api.SetUserAgent(userAgent)
	}
	return &LastFm{api: api}
}

// Api exposes the underlying client for the listening-history import.
func (l *LastFm) Api() *lastfm.Api {
	return l.api
}

func (l *LastFm) SimilarArtists(_ context.Context, artist string, limit int) ([]SimilarArtist, error) {
	res, err := l.api.Artist.GetSimilar(lastfm.P{
		"artist":      artist,
		"limit":       limit,
		"autocorrect": 1,
	})
	if err != nil {
		return nil, ClassifyLastFmError(err)
	}

	similar := make([]SimilarArtist, 0, len(res.Similars))
	for _, s := range res.Similars {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		match, err := strconv.ParseFloat(s.Match, 64)
		if err != nil {
			match = 0
		}
		similar = append(similar, SimilarArtist{Name: name, Match: clamp01(match)})
	}
	return similar, nil
}

func (l *LastFm) TopTags(_ context.Context, artist string) ([]Tag, error) {
	res, err := l.api.Artist.GetTopTags(lastfm.P{
		"artist":      artist,
		"autocorrect": 1,
	})
	if err != nil {
		return nil, ClassifyLastFmError(err)
	}

	tags := make([]Tag, 0, len(res.Tags))
	for _, t := range res.Tags {
		c, _ := strconv.Atoi(t.Count)
		tags = append(tags, Tag{Name: t.Name, Weight: float64(c)})
	}
	tags = NormalizeTags(tags)
	sort.SliceStable(tags, func(i, j int) bool {
		return tags[i].Weight > tags[j].Weight
	})
	return tags, nil
}

func (l *LastFm) ArtistSummary(_ context.Context, artist string) (Summary, error) {
	res, err := l.api.Artist.GetInfo(lastfm.P{
		"artist":      artist,
		"autocorrect": 1,
	})
	if err != nil {
		return Summary{}, ClassifyLastFmError(err)
	}

	listeners, _ := strconv.ParseInt(res.Stats.Listeners, 10, 64)
	plays, _ := strconv.ParseInt(res.Stats.Plays, 10, 64)
	return Summary{Listeners: listeners, PlayCount: plays}, nil
}

// ClassifyLastFmError maps a last.fm failure onto ErrNotFound, a TransientError,
// or a permanent error (bad API key, suspended key, malformed request).
func ClassifyLastFmError(err error) error {
	var lerr *lastfm.LastfmError
	if !errors.As(err, &lerr) {
		// Transport failures: timeouts, resets, truncated bodies.
		return &TransientError{Err: err}
	}
	switch {
	case lerr.Code == lastfmInvalidParameters && strings.Contains(strings.ToLower(lerr.Message), "not be found"):
		return fmt.Errorf("%w: %s", ErrNotFound, lerr.Message)
	case lerr.Code == lastfmOperationFailed,
		lerr.Code == lastfmServiceOffline,
		lerr.Code == lastfmTemporaryError,
		lerr.Code == lastfmRateLimitExceeded,
		lerr.Code/100 == 5:
		return &TransientError{Err: lerr}
	}
	return fmt.Errorf("last.fm: %w", lerr)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
