package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ademuri/beatfinder/internal/store"
)

func TestCacheStatsAndClear(t *testing.T) {
	ctx := context.Background()
	cfg, statsPath, fake := testSetup(t)
	runJSON(t, cfg, RecommendOptions{StatsFile: statsPath}, fake)
	fingerprint, err := cfg.Fingerprint(fingerprintInputs([]string{"Artist A"}, nil)...)
	require.NoError(t, err)
	db, err := store.New(cfg.CacheFile)
	require.NoError(t, err)
	_, ok, err := db.LoadResult(ctx, fingerprint, 0, time.Now())
	require.NoError(t, err)
	require.True(t, ok, "the run should have stored its result")
	require.NoError(t, db.Close())

	var out bytes.Buffer
	require.NoError(t, cacheStats(ctx, cfg.CacheFile, cfg.CacheExpiry, time.Now(), &out))
	assert.Contains(t, out.String(), "similar")
	assert.Contains(t, out.String(), "tags")
	assert.Contains(t, out.String(), "0 expired")

	out.Reset()
	require.NoError(t, cacheStats(ctx, cfg.CacheFile, time.Hour, time.Now().Add(2*time.Hour), &out))
	assert.NotContains(t, out.String(), " 0 expired")

	out.Reset()
	require.NoError(t, clearCache(ctx, cfg.CacheFile, false, &out))

	db, err = store.New(cfg.CacheFile)
	require.NoError(t, err)
	defer db.Close()
	entries, err := db.LoadCacheEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, ok, err = db.LoadResult(ctx, fingerprint, 0, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearCacheResponsesOnly(t *testing.T) {
	ctx := context.Background()
	cfg, statsPath, fake := testSetup(t)
	first := runJSON(t, cfg, RecommendOptions{StatsFile: statsPath}, fake)

	var out bytes.Buffer
	require.NoError(t, clearCache(ctx, cfg.CacheFile, true, &out))

	db, c, moved, err := openCache(cfg.CacheFile, cfg.CacheExpiry)
	require.NoError(t, err)
	assert.Empty(t, moved)
	n, err := c.Load(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, n, "cached responses should be gone")
	require.NoError(t, db.Close())

	second := runJSON(t, cfg, RecommendOptions{StatsFile: statsPath}, fake)
	assert.Equal(t, first.RunID, second.RunID, "recommendations should survive --responses-only")
}
