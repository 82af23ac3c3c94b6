package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/config"
	"github.com/ademuri/beatfinder/internal/provider"
	"github.com/ademuri/beatfinder/internal/provider/providertest"
	"github.com/ademuri/beatfinder/internal/recommend"
	"github.com/ademuri/beatfinder/internal/store"
)

const testStats = `
"Artist A":
  play_count: 120
  track_count: 14
  loved: true
"Known B":
  play_count: 6
  track_count: 6
`

func testSetup(t *testing.T) (config.Config, string, *providertest.Fake) {
	t.Helper()
	dir := t.TempDir()
	statsPath := filepath.Join(dir, "stats.yaml")
	require.NoError(t, os.WriteFile(statsPath, []byte(testStats), 0o600))

	cfg := config.Default()
	cfg.APIKey = "test-api-key"
	cfg.CacheFile = filepath.Join(dir, "cache.db")
	cfg.RateLimit = 50

	fake := providertest.New().
		SetSimilar("Artist A",
			provider.SimilarArtist{Name: "Cand X", Match: 0.9},
			provider.SimilarArtist{Name: "Known B", Match: 0.8},
			provider.SimilarArtist{Name: "Cand Y", Match: 0.4}).
		SetTags("Cand X", provider.Tag{Name: "rock", Weight: 100}).
		SetTags("Cand Y", provider.Tag{Name: "jazz", Weight: 100}).
		SetSummary("Cand X", 20000).
		SetSummary("Cand Y", 20000)
	return cfg, statsPath, fake
}

func runJSON(t *testing.T, cfg config.Config, opts RecommendOptions, fake *providertest.Fake) recommend.Result {
	t.Helper()
	opts.Format = formatJSON
	var out bytes.Buffer
	require.NoError(t, runRecommend(context.Background(), cfg, opts, fake, &out, zerolog.Nop()))

	var res recommend.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	return res
}

func names(res recommend.Result) []string {
	var out []string
	for _, r := range res.Recommendations {
		out = append(out, r.Name)
	}
	return out
}

func TestRunRecommend(t *testing.T) {
	cfg, statsPath, fake := testSetup(t)

	res := runJSON(t, cfg, RecommendOptions{StatsFile: statsPath}, fake)
	assert.Equal(t, []string{"Cand X", "Cand Y"}, names(res))
	assert.Equal(t, []string{"Artist A"}, res.Recommendations[0].RecommendedBy)
	assert.Equal(t, 1, fake.CallsFor(cache.KindSimilar, "Artist A"))
	assert.Zero(t, fake.CallsFor(cache.KindTags, "Known B"), "known artists are never scored")
}

func TestRunRecommendUsesCachedResult(t *testing.T) {
	cfg, statsPath, fake := testSetup(t)
	opts := RecommendOptions{StatsFile: statsPath}

	first := runJSON(t, cfg, opts, fake)
	calls := fake.Calls()
	require.NotZero(t, calls)

	second := runJSON(t, cfg, opts, fake)
	assert.Equal(t, first.RunID, second.RunID, "the stored result should be served")
	assert.Equal(t, calls, fake.Calls())

	opts.RefreshRecommendations = true
	third := runJSON(t, cfg, opts, fake)
	assert.NotEqual(t, first.RunID, third.RunID)
	assert.Equal(t, names(first), names(third))
	assert.Equal(t, calls, fake.Calls(), "responses should come from the cache")

	opts.RefreshCache = true
	runJSON(t, cfg, opts, fake)
	assert.Equal(t, 2*calls, fake.Calls())
}

func TestRunRecommendConfigChangeRecomputes(t *testing.T) {
	cfg, statsPath, fake := testSetup(t)
	opts := RecommendOptions{StatsFile: statsPath}

	first := runJSON(t, cfg, opts, fake)
	cfg.MaxRecommendations = 1
	second := runJSON(t, cfg, opts, fake)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Len(t, second.Recommendations, 1)
}

func TestRunRecommendHonoursRejected(t *testing.T) {
	cfg, statsPath, fake := testSetup(t)
	var out bytes.Buffer
	require.NoError(t, rejectArtists(context.Background(), cfg.CacheFile, []string{"cand x"}, testNow, &out))

	res := runJSON(t, cfg, RecommendOptions{StatsFile: statsPath}, fake)
	assert.Equal(t, []string{"Cand Y"}, names(res))
}

func TestRunRecommendNoLovedArtists(t *testing.T) {
	cfg, _, fake := testSetup(t)
	statsPath := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(statsPath, []byte(`{"Known B": {"play_count": 6}}`), 0o600))

	err := runRecommend(context.Background(), cfg, RecommendOptions{StatsFile: statsPath}, fake, &bytes.Buffer{}, zerolog.Nop())
	assert.ErrorIs(t, err, recommend.ErrNoLovedArtists)
	assert.Zero(t, fake.Calls())
}

func TestRunRecommendFromDatabase(t *testing.T) {
	cfg, _, fake := testSetup(t)
	cfg.Database = filepath.Join(t.TempDir(), "lastfm.db")
	cfg.User = "TestUser"

	db, err := store.New(cfg.Database)
	require.NoError(t, err)
	require.NoError(t, db.CreateUser("testuser"))
	require.NoError(t, db.ReplaceLovedTracks("testuser", []store.LovedTrackImport{
		{Artist: "Artist A", TrackName: "Song", DateUTS: "1600000000"},
	}))
	require.NoError(t, db.Close())

	res := runJSON(t, cfg, RecommendOptions{}, fake)
	assert.Contains(t, names(res), "Cand X")
}

func TestRunRecommendNeedsInput(t *testing.T) {
	cfg, _, fake := testSetup(t)
	err := runRecommend(context.Background(), cfg, RecommendOptions{}, fake, &bytes.Buffer{}, zerolog.Nop())
	assert.Error(t, err)

	cfg.User = "nobody"
	cfg.Database = filepath.Join(t.TempDir(), "empty.db")
	err = runRecommend(context.Background(), cfg, RecommendOptions{}, fake, &bytes.Buffer{}, zerolog.Nop())
	assert.ErrorContains(t, err, "run update first")
}

func TestRunRecommendBadFormat(t *testing.T) {
	cfg, statsPath, fake := testSetup(t)
	err := runRecommend(context.Background(), cfg, RecommendOptions{StatsFile: statsPath, Format: "xml"}, fake, &bytes.Buffer{}, zerolog.Nop())
	assert.Error(t, err)
	assert.Zero(t, fake.Calls())
}

func TestRunRecommendTable(t *testing.T) {
	cfg, statsPath, fake := testSetup(t)
	var out bytes.Buffer
	require.NoError(t, runRecommend(context.Background(), cfg, RecommendOptions{StatsFile: statsPath}, fake, &out, zerolog.Nop()))
	assert.Contains(t, out.String(), "Cand X")
	assert.Contains(t, out.String(), "2 recommendations from 1 loved artists")
}

func TestFingerprintInputs(t *testing.T) {
	assert.Equal(t,
		[]string{"seed:artist a", "rejected:cand x"},
		fingerprintInputs([]string{"Artist A"}, []string{"Cand  X"}))
}
