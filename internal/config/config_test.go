package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestWeightsMustSumToOne(t *testing.T) {
	cfg := Default()
	cfg.Weights.Rarity = 0.3
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")

	cfg.Weights = Weights{Frequency: 0.1, TagOverlap: 0.2, Match: 0.3, Rarity: 0.4}
	assert.NoError(t, cfg.Validate())
}

func TestRangeChecks(t *testing.T) {
	tests := map[string]func(*Config){
		"rarity too high":   func(c *Config) { c.Rarity = 16 },
		"rarity too low":    func(c *Config) { c.Rarity = 0 },
		"no workers":        func(c *Config) { c.Workers = 0 },
		"zero rate":         func(c *Config) { c.RateLimit = 0 },
		"tiny rate":         func(c *Config) { c.RateLimit = 1e-10 },
		"negative weight":   func(c *Config) { c.Weights.Frequency = -0.1; c.Weights.Match = 0.6 },
		"no max recs":       func(c *Config) { c.MaxRecommendations = 0 },
		"negative top-n":    func(c *Config) { c.TagBlacklistTopN = -1 },
		"rating over five":  func(c *Config) { c.LovedMinRating = 6 },
		"similar limit big": func(c *Config) { c.SimilarLimit = 1000 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSlowestRateIsValid(t *testing.T) {
	cfg := Default()
	cfg.RateLimit = 0.01
	assert.NoError(t, cfg.Validate())
}

func TestRequireAPIKey(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.RequireAPIKey(), ErrMissingAPIKey)
	cfg.APIKey = "abc123"
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestThresholds(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := Default()
	th := cfg.Thresholds(now)
	assert.Equal(t, 80, th.LovedMinRating)
	assert.True(t, th.LovedSince.IsZero())

	cfg.LovedSinceMonths = 2
	th = cfg.Thresholds(now)
	assert.Equal(t, now.AddDate(0, 0, -60), th.LovedSince)
}

func TestFingerprint(t *testing.T) {
	a := Default()
	b := Default()
	b.APIKey = "secret"
	b.CacheFile = "elsewhere.db"
	b.TagIgnore = append([]string{"Seen Live"}, a.TagIgnore[1:]...)

	fa, err := a.Fingerprint("Artist A", "Artist B")
	require.NoError(t, err)
	fb, err := b.Fingerprint("Artist B", "Artist A")
	require.NoError(t, err)
	assert.Equal(t, fa, fb, "paths, credentials, case and order must not matter")

	b.Rarity = 12
	fc, err := b.Fingerprint("Artist A", "Artist B")
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)

	fd, err := a.Fingerprint("Artist A")
	require.NoError(t, err)
	assert.NotEqual(t, fa, fd)
}
