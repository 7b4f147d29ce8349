package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store keeps exported profiling sessions in SQLite. An exported session
// no longer depends on the snapshot memory it was read from.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
  id                  TEXT PRIMARY KEY,
  source              TEXT NOT NULL,
  created_at          TIMESTAMP NOT NULL,
  is_64bit            BOOLEAN NOT NULL,
  is_first            BOOLEAN NOT NULL,
  processor_frequency INTEGER NOT NULL,
  length              INTEGER NOT NULL,
  node_count          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS name_mappings (
  session_id          TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  name_id             INTEGER NOT NULL,
  return_type         TEXT NOT NULL,
  name                TEXT NOT NULL,
  parameters          TEXT NOT NULL,
  PRIMARY KEY (session_id, name_id)
);

CREATE TABLE IF NOT EXISTS nodes (
  session_id          TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  node_id             INTEGER NOT NULL,
  parent_id           INTEGER,
  name_id             INTEGER NOT NULL,
  depth               INTEGER NOT NULL,
  call_count          INTEGER NOT NULL,
  cpu_cycles          INTEGER NOT NULL,
  active_calls        INTEGER NOT NULL,
  PRIMARY KEY (session_id, node_id)
);

CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(session_id, parent_id);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(session_id, name_id);
`
