package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/ademuri/beatfinder/internal/library"
)

func (s *Store) GetLastUpdated(user string) (time.Time, error) {
	row := s.db.QueryRow("SELECT last_updated FROM User WHERE name = ?", user)
	var t sql.NullTime
	err := row.Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("getting last updated: %w", err)
	}
	return t.Time, nil
}

func (s *Store) GetLatestListen(user string) (time.Time, error) {
	query := "SELECT date FROM Listen WHERE user = ? ORDER BY CAST(date AS INTEGER) desc LIMIT 1"
	row := s.db.QueryRow(query, user)
	var dateStr string
	err := row.Scan(&dateStr)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("scanning latest listen: %w", err)
	}

	return parseDate(dateStr)
}

func parseDate(dateStr string) (time.Time, error) {
	// Older imports stored RFC 3339 strings instead of Unix seconds.
	dateInt, err := strconv.ParseInt(dateStr, 10, 64)
	if err == nil {
		return time.Unix(dateInt, 0), nil
	}

	t, err := time.Parse(time.RFC3339, dateStr)
	if err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("parsing date %q: %w", dateStr, err)
}

// ArtistStats aggregates the user's stored history into per-artist stats,
// keyed by artist name. Artists with loved tracks but no scrobbles are included.
func (s *Store) ArtistStats(user string) (map[string]library.ArtistStat, error) {
	query := `
		SELECT t.artist, COUNT(l.id), COUNT(DISTINCT t.id), MAX(CAST(l.date AS INTEGER))
		FROM Listen l
		JOIN Track t ON l.track = t.id
		WHERE l.user = ?
		GROUP BY t.artist
	`
	rows, err := s.db.Query(query, user)
	if err != nil {
		return nil, fmt.Errorf("querying artist stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]library.ArtistStat)
	for rows.Next() {
		var (
			st   library.ArtistStat
			last sql.NullInt64
		)
		if err := rows.Scan(&st.Name, &st.PlayCount, &st.TrackCount, &last); err != nil {
			return nil, err
		}
		if last.Valid && last.Int64 > 0 {
			st.LastPlayed = time.Unix(last.Int64, 0)
		}
		stats[st.Name] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	loved, err := s.db.Query("SELECT artist, COUNT(*) FROM LovedTrack WHERE user = ? GROUP BY artist", user)
	if err != nil {
		return nil, fmt.Errorf("querying loved tracks: %w", err)
	}
	defer loved.Close()

	for loved.Next() {
		var (
			artist string
			count  int
		)
		if err := loved.Scan(&artist, &count); err != nil {
			return nil, err
		}
		st := stats[artist]
		st.Name = artist
		st.LovedTracks = count
		st.Loved = count > 0
		stats[artist] = st
	}
	return stats, loved.Err()
}
