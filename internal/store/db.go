// Package store holds the sqlite-backed snapshot cache and the
// subscription store. Both degrade gracefully: a broken database turns
// reads into misses and writes into no-ops rather than failing the
// surrounding poll.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	key        TEXT PRIMARY KEY,
	hash       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	competition_id INTEGER NOT NULL,
	class_name     TEXT NOT NULL,
	runner_name    TEXT NOT NULL,
	token          TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	race_start     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_target
	ON subscriptions(competition_id, class_name);
CREATE INDEX IF NOT EXISTS idx_subscriptions_user
	ON subscriptions(user_id);
`

// Open opens (or creates) the sqlite database at path and ensures the
// schema exists. Use ":memory:" for tests.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// modernc sqlite serializes access per connection; a single connection
	// avoids table-lock contention between the sweep and inbound requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return db, nil
}
