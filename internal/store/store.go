// Package store persists listening history, provider responses, cached
// recommendation results and rejected artists in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS User (
  name TEXT PRIMARY KEY,
  last_updated DATETIME
);

CREATE TABLE IF NOT EXISTS Artist (
  name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS Album (
  artist TEXT,
  name TEXT,
  FOREIGN KEY (artist) REFERENCES Artist(name),
  PRIMARY KEY (artist, name)
);

CREATE TABLE IF NOT EXISTS Track (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  artist TEXT,
  album TEXT,
  name TEXT,
  FOREIGN KEY (artist) REFERENCES Artist(name),
  UNIQUE (artist, album, name)
);

CREATE TABLE IF NOT EXISTS Listen (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user TEXT,
  track INTEGER,
  date TEXT,
  FOREIGN KEY (user) REFERENCES User(name),
  FOREIGN KEY (track) REFERENCES Track(id)
);

CREATE INDEX IF NOT EXISTS ListenUserDate ON Listen (user, date);

CREATE TABLE IF NOT EXISTS LovedTrack (
  user TEXT,
  artist TEXT,
  name TEXT,
  date TEXT,
  FOREIGN KEY (user) REFERENCES User(name),
  PRIMARY KEY (user, artist, name)
);

CREATE TABLE IF NOT EXISTS ProviderCache (
  kind TEXT,
  artist TEXT,
  param TEXT,
  payload TEXT,
  fetched_at INTEGER,
  PRIMARY KEY (kind, artist, param)
);

CREATE TABLE IF NOT EXISTS RecommendationCache (
  fingerprint TEXT PRIMARY KEY,
  run_id TEXT,
  payload TEXT,
  created_at INTEGER
);

CREATE TABLE IF NOT EXISTS RejectedArtist (
  key TEXT PRIMARY KEY,
  name TEXT,
  rejected_at INTEGER
);
`

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// OpenRecovering opens dbPath like New. If the file exists but is not a usable
// database, it is renamed aside and a fresh database is created in its place.
// The returned path is where the damaged file was moved, or "" if none was.
func OpenRecovering(dbPath string) (*Store, string, error) {
	s, err := New(dbPath)
	if err == nil {
		if err = s.checkIntegrity(); err == nil {
			return s, "", nil
		}
		s.Close()
	}
	if _, statErr := os.Stat(dbPath); statErr != nil {
		return nil, "", err
	}

	moved := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
	if renameErr := os.Rename(dbPath, moved); renameErr != nil {
		return nil, "", errors.Join(err, fmt.Errorf("moving damaged database aside: %w", renameErr))
	}
	s, err = New(dbPath)
	if err != nil {
		return nil, moved, err
	}
	return s, moved, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) checkIntegrity() error {
	var result string
	if err := s.db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("checking database integrity: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check: %s", result)
	}
	return nil
}

func createTables(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// ensureSchema upgrades databases written by earlier versions of the tool.
func ensureSchema(db *sql.DB) error {
	if err := addColumnIfNotExists(db, "User", "loved_updated", "DATETIME"); err != nil {
		return err
	}
	return nil
}

func addColumnIfNotExists(db *sql.DB, table, column, typeDef string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if !exists {
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typeDef)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("adding column %s.%s: %w", table, column, err)
		}
	}
	return nil
}

func columnExists(db *sql.DB, tableName string, columnName string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}
	return false, rows.Err()
}
