package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/provider"
)

func createTestDb(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "beatfinder.db")

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%s) error: %v", dbPath, err)
	}

	return store
}

func TestCreateUser(t *testing.T) {
	s := createTestDb(t)
	defer s.Close()

	user := "testuser"
	if err := s.CreateUser(user); err != nil {
		t.Fatalf("CreateUser(%q) error: %v", user, err)
	}

	// Idempotency
	if err := s.CreateUser(user); err != nil {
		t.Fatalf("CreateUser(%q) error: %v", user, err)
	}
}

func TestAddRecentTracks(t *testing.T) {
	s := createTestDb(t)
	defer s.Close()

	user := "testuser"
	if err := s.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	tracks := []TrackImport{
		{
			Artist:    "Test Artist",
			Album:     "Test Album",
			TrackName: "Test Track",
			DateUTS:   "1600000000",
		},
	}

	if err := s.AddRecentTracks(user, tracks); err != nil {
		t.Fatalf("AddRecentTracks failed: %v", err)
	}

	row := s.db.QueryRow("SELECT COUNT(*) FROM Listen WHERE user = ?", user)
	var count int
	if err := row.Scan(&count); err != nil {
		t.Fatalf("querying count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 listen, got %d", count)
	}

	// Same data again must not duplicate the listen.
	if err := s.AddRecentTracks(user, tracks); err != nil {
		t.Fatalf("AddRecentTracks (repeat) failed: %v", err)
	}
	row = s.db.QueryRow("SELECT COUNT(*) FROM Listen WHERE user = ?", user)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("querying count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 listen after repeat, got %d", count)
	}
}

func TestGetLatestListenWithBadDate(t *testing.T) {
	s := createTestDb(t)
	defer s.Close()

	user := "reproUser"
	if err := s.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	tracks := []TrackImport{
		{
			Artist:    "Artist",
			Album:     "Album",
			TrackName: "Track",
			DateUTS:   "0001-01-01T00:00:00Z",
		},
	}
	if err := s.AddRecentTracks(user, tracks); err != nil {
		t.Fatalf("AddRecentTracks bad date: %v", err)
	}

	// 1593490750 = 2020-06-30
	tracks[0].DateUTS = "1593490750"
	if err := s.AddRecentTracks(user, tracks); err != nil {
		t.Fatalf("AddRecentTracks good date: %v", err)
	}

	date, err := s.GetLatestListen(user)
	if err != nil {
		t.Fatalf("GetLatestListen failed: %v", err)
	}
	if date.Year() != 2020 {
		t.Errorf("Expected year 2020, got %v", date)
	}
}

func TestArtistStats(t *testing.T) {
	s := createTestDb(t)
	defer s.Close()

	user := "testuser"
	if err := s.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	var tracks []TrackImport
	for i := 0; i < 6; i++ {
		tracks = append(tracks, TrackImport{
			Artist:    "The Beatles",
			Album:     "Abbey Road",
			TrackName: []string{"Come Together", "Something"}[i%2],
			DateUTS:   strconv.FormatInt(1600000000+int64(i)*60, 10),
		})
	}
	tracks = append(tracks, TrackImport{Artist: "Nico", Album: "Chelsea Girl", TrackName: "These Days", DateUTS: "1500000000"})
	if err := s.AddRecentTracks(user, tracks); err != nil {
		t.Fatalf("AddRecentTracks: %v", err)
	}
	if err := s.ReplaceLovedTracks(user, []LovedTrackImport{
		{Artist: "Nico", TrackName: "These Days", DateUTS: "1500000100"},
		{Artist: "Broadcast", TrackName: "Come On Let's Go", DateUTS: "1500000200"},
	}); err != nil {
		t.Fatalf("ReplaceLovedTracks: %v", err)
	}

	stats, err := s.ArtistStats(user)
	if err != nil {
		t.Fatalf("ArtistStats: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("got %d artists, want 3: %v", len(stats), stats)
	}

	beatles := stats["The Beatles"]
	if beatles.PlayCount != 6 || beatles.TrackCount != 2 || beatles.Loved {
		t.Errorf("The Beatles = %+v, want 6 plays, 2 tracks, not loved", beatles)
	}
	if want := time.Unix(1600000300, 0); !beatles.LastPlayed.Equal(want) {
		t.Errorf("The Beatles last played %v, want %v", beatles.LastPlayed, want)
	}
	if nico := stats["Nico"]; nico.PlayCount != 1 || !nico.Loved || nico.LovedTracks != 1 {
		t.Errorf("Nico = %+v, want 1 play, loved", nico)
	}
	if b := stats["Broadcast"]; b.PlayCount != 0 || !b.Loved {
		t.Errorf("Broadcast = %+v, want loved with no plays", b)
	}

	// Replacing loved tracks drops the old set.
	if err := s.ReplaceLovedTracks(user, nil); err != nil {
		t.Fatalf("ReplaceLovedTracks: %v", err)
	}
	stats, err = s.ArtistStats(user)
	if err != nil {
		t.Fatalf("ArtistStats: %v", err)
	}
	if stats["Nico"].Loved {
		t.Errorf("Nico still loved after clearing loved tracks")
	}
	if _, ok := stats["Broadcast"]; ok {
		t.Errorf("Broadcast still present after clearing loved tracks")
	}
}

func TestCacheEntriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestDb(t)
	defer s.Close()

	fetched := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	entries := []cache.Entry{
		{Kind: cache.KindSimilar, Artist: "artist a", Param: "20", FetchedAt: fetched,
			Similar: []provider.SimilarArtist{{Name: "Artist B", Match: 0.9}}},
		{Kind: cache.KindTags, Artist: "artist a", FetchedAt: fetched,
			Tags: []provider.Tag{{Name: "electronic", Weight: 100}, {Name: "ambient", Weight: 54}}},
		{Kind: cache.KindSummary, Artist: "artist b", FetchedAt: fetched,
			Summary: &provider.Summary{Listeners: 1234, PlayCount: 99999}},
		{Kind: cache.KindSimilar, Artist: "unknown", Param: "20", FetchedAt: fetched},
	}
	if err := s.SaveCacheEntries(ctx, entries); err != nil {
		t.Fatalf("SaveCacheEntries: %v", err)
	}

	got, err := s.LoadCacheEntries(ctx)
	if err != nil {
		t.Fatalf("LoadCacheEntries: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("loaded %d entries, want %d", len(got), len(entries))
	}
	byKey := make(map[cache.Key]cache.Entry)
	for _, e := range got {
		byKey[e.Key()] = e
	}
	sim := byKey[entries[0].Key()]
	if !sim.FetchedAt.Equal(fetched) || len(sim.Similar) != 1 || sim.Similar[0].Match != 0.9 {
		t.Errorf("similar entry = %+v", sim)
	}
	if tags := byKey[entries[1].Key()].Tags; len(tags) != 2 || tags[1].Name != "ambient" {
		t.Errorf("tags entry = %+v", tags)
	}
	if sum := byKey[entries[2].Key()].Summary; sum == nil || sum.Listeners != 1234 {
		t.Errorf("summary entry = %+v", sum)
	}
	if e, ok := byKey[entries[3].Key()]; !ok || e.Similar != nil {
		t.Errorf("empty entry = %+v, present %v", e, ok)
	}
}

func TestSaveCacheEntriesNewerWins(t *testing.T) {
	ctx := context.Background()
	s := createTestDb(t)
	defer s.Close()

	older := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	key := cache.Entry{Kind: cache.KindTags, Artist: "a"}

	save := func(at time.Time, tag string) {
		e := key
		e.FetchedAt = at
		e.Tags = []provider.Tag{{Name: tag, Weight: 1}}
		if err := s.SaveCacheEntries(ctx, []cache.Entry{e}); err != nil {
			t.Fatalf("SaveCacheEntries: %v", err)
		}
	}
	save(newer, "new")
	save(older, "old")

	got, err := s.LoadCacheEntries(ctx)
	if err != nil {
		t.Fatalf("LoadCacheEntries: %v", err)
	}
	if len(got) != 1 || got[0].Tags[0].Name != "new" {
		t.Errorf("got %+v, want the newer entry", got)
	}
}

func TestLoadCacheEntriesDropsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	s := createTestDb(t)
	defer s.Close()

	if _, err := s.db.Exec("INSERT INTO ProviderCache (kind, artist, param, payload, fetched_at) VALUES ('tags', 'a', '', '{not json', 1)"); err != nil {
		t.Fatalf("inserting bad row: %v", err)
	}
	if _, err := s.db.Exec("INSERT INTO ProviderCache (kind, artist, param, payload, fetched_at) VALUES ('bogus', 'a', '', '{}', 1)"); err != nil {
		t.Fatalf("inserting bad row: %v", err)
	}
	got, err := s.LoadCacheEntries(ctx)
	if err != nil {
		t.Fatalf("LoadCacheEntries: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d entries, want 0", len(got))
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM ProviderCache").Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 0 {
		t.Errorf("%d undecodable rows left behind", count)
	}
}

func TestOpenRecoveringReplacesGarbage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	if err := os.WriteFile(dbPath, []byte(strings.Repeat("this is not sqlite ", 100)), 0o600); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}

	s, moved, err := OpenRecovering(dbPath)
	if err != nil {
		t.Fatalf("OpenRecovering: %v", err)
	}
	defer s.Close()
	if moved == "" {
		t.Fatalf("damaged file was not moved aside")
	}
	if _, err := os.Stat(moved); err != nil {
		t.Errorf("moved file missing: %v", err)
	}
	if err := s.SaveCacheEntries(context.Background(), []cache.Entry{{Kind: cache.KindTags, Artist: "a", FetchedAt: time.Now()}}); err != nil {
		t.Errorf("fresh database unusable: %v", err)
	}
}

func TestResults(t *testing.T) {
	ctx := context.Background()
	s := createTestDb(t)
	defer s.Close()

	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r := CachedResult{Fingerprint: "abc", RunID: "run-1", CreatedAt: created, Payload: []byte(`[{"name":"B"}]`)}
	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, ok, err := s.LoadResult(ctx, "abc", 24*time.Hour, created.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("LoadResult = %v, %v", ok, err)
	}
	if got.RunID != "run-1" || string(got.Payload) != string(r.Payload) {
		t.Errorf("LoadResult = %+v", got)
	}

	if _, ok, _ := s.LoadResult(ctx, "abc", 24*time.Hour, created.Add(25*time.Hour)); ok {
		t.Errorf("expired result returned")
	}
	if _, ok, _ := s.LoadResult(ctx, "other", 0, created); ok {
		t.Errorf("result returned for unknown fingerprint")
	}

	if err := s.ClearResults(ctx); err != nil {
		t.Fatalf("ClearResults: %v", err)
	}
	if _, ok, _ := s.LoadResult(ctx, "abc", 0, created); ok {
		t.Errorf("result survived ClearResults")
	}
}

func TestRejectedArtists(t *testing.T) {
	ctx := context.Background()
	s := createTestDb(t)
	defer s.Close()

	now := time.Unix(1700000000, 0)
	for _, name := range []string{"Nickelback", "Creed", "NICKELBACK"} {
		if err := s.RejectArtist(ctx, name, now); err != nil {
			t.Fatalf("RejectArtist(%q): %v", name, err)
		}
	}
	rejected, err := s.RejectedArtists(ctx)
	if err != nil {
		t.Fatalf("RejectedArtists: %v", err)
	}
	if len(rejected) != 2 || rejected[0].Name != "Creed" || rejected[1].Name != "NICKELBACK" {
		t.Errorf("RejectedArtists = %+v", rejected)
	}

	removed, err := s.UnrejectArtist(ctx, "nickelback")
	if err != nil || !removed {
		t.Fatalf("UnrejectArtist = %v, %v", removed, err)
	}
	removed, err = s.UnrejectArtist(ctx, "nickelback")
	if err != nil || removed {
		t.Errorf("second UnrejectArtist = %v, %v", removed, err)
	}
}
