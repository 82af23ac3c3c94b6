package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/provider"
)

type cachePayload struct {
	Similar []provider.SimilarArtist `json:"similar,omitempty"`
	Tags    []provider.Tag           `json:"tags,omitempty"`
	Summary *provider.Summary        `json:"summary,omitempty"`
}

// LoadCacheEntries returns every stored provider response. Rows whose payload
// cannot be decoded are deleted and left out of the result.
func (s *Store) LoadCacheEntries(ctx context.Context) ([]cache.Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, artist, param, payload, fetched_at FROM ProviderCache")
	if err != nil {
		return nil, fmt.Errorf("querying provider cache: %w", err)
	}
	defer rows.Close()

	var (
		entries []cache.Entry
		bad     []cache.Key
	)
	for rows.Next() {
		var (
			e       cache.Entry
			kind    string
			payload string
			fetched int64
		)
		if err := rows.Scan(&kind, &e.Artist, &e.Param, &payload, &fetched); err != nil {
			return nil, fmt.Errorf("scanning provider cache row: %w", err)
		}
		e.Kind = cache.Kind(kind)
		e.FetchedAt = time.Unix(0, fetched)

		var p cachePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil || !knownKind(e.Kind) {
			bad = append(bad, e.Key())
			continue
		}
		e.Similar, e.Tags, e.Summary = p.Similar, p.Tags, p.Summary
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading provider cache: %w", err)
	}
	rows.Close()

	for _, k := range bad {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM ProviderCache WHERE kind = ? AND artist = ? AND param = ?",
			string(k.Kind), k.Artist, k.Param); err != nil {
			return nil, fmt.Errorf("deleting undecodable cache row %s: %w", k, err)
		}
	}
	return entries, nil
}

// SaveCacheEntries upserts entries transactionally. A stored row is only
// replaced by an entry fetched at the same time or later.
func (s *Store) SaveCacheEntries(ctx context.Context, entries []cache.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ProviderCache (kind, artist, param, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, artist, param) DO UPDATE
		SET payload = excluded.payload, fetched_at = excluded.fetched_at
		WHERE excluded.fetched_at >= ProviderCache.fetched_at
	`)
	if err != nil {
		return fmt.Errorf("preparing cache upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		payload, err := json.Marshal(cachePayload{Similar: e.Similar, Tags: e.Tags, Summary: e.Summary})
		if err != nil {
			return fmt.Errorf("encoding cache entry %s: %w", e.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx, string(e.Kind), e.Artist, e.Param, string(payload), e.FetchedAt.UnixNano()); err != nil {
			return fmt.Errorf("saving cache entry %s: %w", e.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) ClearCacheEntries(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ProviderCache"); err != nil {
		return fmt.Errorf("clearing provider cache: %w", err)
	}
	return nil
}

func knownKind(k cache.Kind) bool {
	switch k {
	case cache.KindSimilar, cache.KindTags, cache.KindSummary:
		return true
	}
	return false
}
