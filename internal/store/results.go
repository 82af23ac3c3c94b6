package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/ademuri/beatfinder/internal/cache"
)

// CachedResult is a stored recommendation run, keyed by a fingerprint of the
// configuration and library that produced it. Payload is opaque to the store.
type CachedResult struct {
	Fingerprint string
	RunID       string
	CreatedAt   time.Time
	Payload     []byte
}

func (s *Store) SaveResult(ctx context.Context, r CachedResult) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO RecommendationCache (fingerprint, run_id, payload, created_at) VALUES (?, ?, ?, ?)",
		r.Fingerprint, r.RunID, string(r.Payload), r.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving result %s: %w", r.Fingerprint, err)
	}
	return nil
}

// LoadResult returns the stored result for fingerprint. ok is false if there is
// none or it is older than maxAge (a non-positive maxAge never expires).
func (s *Store) LoadResult(ctx context.Context, fingerprint string, maxAge time.Duration, now time.Time) (CachedResult, bool, error) {
	var (
		r       CachedResult
		payload string
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT fingerprint, run_id, payload, created_at FROM RecommendationCache WHERE fingerprint = ?",
		fingerprint).Scan(&r.Fingerprint, &r.RunID, &payload, &created)
	if err == sql.ErrNoRows {
		return CachedResult{}, false, nil
	}
	if err != nil {
		return CachedResult{}, false, fmt.Errorf("loading result %s: %w", fingerprint, err)
	}
	r.Payload = []byte(payload)
	r.CreatedAt = time.Unix(0, created)
	if maxAge > 0 && now.After(r.CreatedAt.Add(maxAge)) {
		return CachedResult{}, false, nil
	}
	return r, true, nil
}

func (s *Store) ClearResults(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM RecommendationCache"); err != nil {
		return fmt.Errorf("clearing recommendation cache: %w", err)
	}
	return nil
}

type RejectedArtist struct {
	Name       string
	RejectedAt time.Time
}

// RejectArtist records that name should never be recommended again.
func (s *Store) RejectArtist(ctx context.Context, name string, at time.Time) error {
	key := cache.Normalize(name)
	if key == "" {
		return fmt.Errorf("rejecting artist: empty name")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO RejectedArtist (key, name, rejected_at) VALUES (?, ?, ?)",
		key, name, at.Unix())
	if err != nil {
		return fmt.Errorf("rejecting artist %q: %w", name, err)
	}
	return nil
}

// UnrejectArtist removes name from the rejected list and reports whether it was there.
func (s *Store) UnrejectArtist(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM RejectedArtist WHERE key = ?", cache.Normalize(name))
	if err != nil {
		return false, fmt.Errorf("unrejecting artist %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RejectedArtists returns the rejected list sorted by name.
func (s *Store) RejectedArtists(ctx context.Context) ([]RejectedArtist, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, rejected_at FROM RejectedArtist")
	if err != nil {
		return nil, fmt.Errorf("querying rejected artists: %w", err)
	}
	defer rows.Close()

	var out []RejectedArtist
	for rows.Next() {
		var (
			r  RejectedArtist
			at int64
		)
		if err := rows.Scan(&r.Name, &at); err != nil {
			return nil, err
		}
		r.RejectedAt = time.Unix(at, 0)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
