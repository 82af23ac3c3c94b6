// Package config defines the settings for a recommendation run and validates them.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/ademuri/beatfinder/internal/library"
)

var ErrMissingAPIKey = errors.New("no last.fm API key configured (set LASTFM_API_KEY or api_key)")

// Weights is the scoring weight quadruple. It must sum to 1.
type Weights struct {
	Frequency  float64 `mapstructure:"frequency" json:"frequency" validate:"min=0,max=1"`
	TagOverlap float64 `mapstructure:"tag_overlap" json:"tag_overlap" validate:"min=0,max=1"`
	Match      float64 `mapstructure:"match" json:"match" validate:"min=0,max=1"`
	Rarity     float64 `mapstructure:"rarity" json:"rarity" validate:"min=0,max=1"`
}

func (w Weights) Sum() float64 {
	return w.Frequency + w.TagOverlap + w.Match + w.Rarity
}

const weightTolerance = 1e-6

type Config struct {
	APIKey    string `mapstructure:"api_key" json:"-"`
	APISecret string `mapstructure:"api_secret" json:"-"`
	User      string `mapstructure:"user" json:"-"`
	Database  string `mapstructure:"database" json:"-"`
	CacheFile string `mapstructure:"cache_file" json:"-"`

	RateLimit    float64       `mapstructure:"rate_limit" json:"-" validate:"gte=0.01,lte=50"`
	Workers      int           `mapstructure:"workers" json:"-" validate:"min=1,max=64"`
	CacheExpiry  time.Duration `mapstructure:"cache_expiry" json:"-" validate:"min=0"`
	ResultExpiry time.Duration `mapstructure:"result_expiry" json:"-" validate:"min=0"`
	FlushEvery   int           `mapstructure:"flush_every" json:"-" validate:"min=0"`

	KnownPlays     int `mapstructure:"known_plays" json:"known_plays" validate:"min=0"`
	KnownTracks    int `mapstructure:"known_tracks" json:"known_tracks" validate:"min=0"`
	LovedPlays     int `mapstructure:"loved_plays" json:"loved_plays" validate:"min=1"`
	LovedMinRating int `mapstructure:"loved_min_rating" json:"loved_min_rating" validate:"min=0,max=5"`
	LovedMinPlays  int `mapstructure:"loved_min_plays" json:"loved_min_plays" validate:"min=0"`
	DislikedTracks int `mapstructure:"disliked_tracks" json:"disliked_tracks" validate:"min=1"`
	// LovedSinceMonths limits seeds to loved artists played in the last N months; 0 disables.
	LovedSinceMonths int `mapstructure:"loved_since_months" json:"loved_since_months" validate:"min=0"`

	Rarity  int     `mapstructure:"rarity" json:"rarity" validate:"min=1,max=15"`
	Weights Weights `mapstructure:"weights" json:"weights"`

	TagIgnore        []string `mapstructure:"tag_ignore" json:"tag_ignore"`
	TagBlacklist     []string `mapstructure:"tag_blacklist" json:"tag_blacklist"`
	TagBlacklistTopN int      `mapstructure:"tag_blacklist_top_n" json:"tag_blacklist_top_n" validate:"min=0"`
	ArtistBlacklist  []string `mapstructure:"artist_blacklist" json:"artist_blacklist"`
	ProfileExclude   []string `mapstructure:"profile_exclude" json:"profile_exclude"`

	MaxRecommendations   int `mapstructure:"max_recommendations" json:"max_recommendations" validate:"min=1"`
	TagFetchLimit        int `mapstructure:"tag_fetch_limit" json:"tag_fetch_limit" validate:"min=0"`
	SimilarLimit         int `mapstructure:"similar_limit" json:"similar_limit" validate:"min=1,max=250"`
	ProfileTagsPerArtist int `mapstructure:"profile_tags_per_artist" json:"profile_tags_per_artist" validate:"min=1"`

	PlayFrequencyWeighting bool `mapstructure:"play_frequency_weighting" json:"play_frequency_weighting"`
	TagSimilarity          bool `mapstructure:"tag_similarity" json:"tag_similarity"`
}

func Default() Config {
	return Config{
		CacheFile:    "beatfinder-cache.db",
		RateLimit:    5,
		Workers:      10,
		CacheExpiry:  7 * 24 * time.Hour,
		ResultExpiry: 7 * 24 * time.Hour,
		FlushEvery:   25,

		KnownPlays:     3,
		KnownTracks:    5,
		LovedPlays:     50,
		LovedMinRating: 4,
		LovedMinPlays:  10,
		DislikedTracks: 2,

		Rarity: 7,
		Weights: Weights{
			Frequency:  0.3,
			TagOverlap: 0.3,
			Match:      0.2,
			Rarity:     0.2,
		},

		TagIgnore: []string{
			"seen live", "favorites", "favourite", "favorite", "albums i own",
			"under 2000 listeners", "spotify", "check out", "my music",
		},
		TagBlacklistTopN: 3,

		MaxRecommendations:   15,
		TagFetchLimit:        100,
		SimilarLimit:         20,
		ProfileTagsPerArtist: 10,
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterStructValidation(func(sl validator.StructLevel) {
			w := sl.Current().Interface().(Weights)
			if math.Abs(w.Sum()-1) > weightTolerance {
				sl.ReportError(w.Frequency, "Weights", "Weights", "weightsum", fmt.Sprintf("%g", w.Sum()))
			}
		}, Weights{})
	})
	return validate
}

// Validate checks every field. It does not require an API key; see RequireAPIKey.
func (c Config) Validate() error {
	err := validatorInstance().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "weightsum":
		return fmt.Sprintf("scoring weights must sum to 1.0 (got %s)", fe.Param())
	case "min", "gt", "gte":
		return fmt.Sprintf("%s must be at least %s (got %v)", fe.Namespace(), fe.Param(), fe.Value())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s (got %v)", fe.Namespace(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
}

func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Thresholds converts the classification settings. The rating threshold is
// configured in stars and compared on the 0-100 scale.
func (c Config) Thresholds(now time.Time) library.Thresholds {
	t := library.Thresholds{
		KnownPlays:     c.KnownPlays,
		KnownTracks:    c.KnownTracks,
		LovedPlays:     c.LovedPlays,
		LovedMinRating: c.LovedMinRating * 20,
		LovedMinPlays:  c.LovedMinPlays,
		DislikedTracks: c.DislikedTracks,
	}
	if c.LovedSinceMonths > 0 {
		t.LovedSince = now.AddDate(0, 0, -30*c.LovedSinceMonths)
	}
	return t
}

// Fingerprint identifies the scoring-relevant settings together with the
// given inputs (for example, the names of the seed artists). Two runs with the
// same fingerprint over an unchanged cache produce the same recommendations.
func (c Config) Fingerprint(inputs ...string) (string, error) {
	norm := c
	for _, list := range []*[]string{&norm.TagIgnore, &norm.TagBlacklist, &norm.ArtistBlacklist, &norm.ProfileExclude} {
		*list = sortedLower(*list)
	}
	inputs = append([]string(nil), inputs...)
	sort.Strings(inputs)

	data, err := json.Marshal(struct {
		Config Config   `json:"config"`
		Inputs []string `json:"inputs"`
	}{norm, inputs})
	if err != nil {
		return "", fmt.Errorf("encoding config fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}

func sortedLower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
