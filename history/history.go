// Package history persists connection lifecycle events in a local
// SQLite database so users can review when sessions came and went and
// how much traffic they carried.
package history

import (
	"database/sql"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/ovpn3-manager/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred   TIMESTAMP NOT NULL,
	event      TEXT NOT NULL,
	name       TEXT NOT NULL,
	bytes_in   INTEGER NOT NULL DEFAULT 0,
	bytes_out  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_occurred ON events (occurred DESC);
`

// Event is one recorded lifecycle event.
type Event struct {
	ID       int64
	Occurred time.Time
	Kind     string
	Name     string
	BytesIn  uint64
	BytesOut uint64
}

// Store records and queries lifecycle events. It satisfies the
// manager's event recorder interface.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the event database in the user's
// data directory.
func Open() (*Store, error) {
	dataDir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	return OpenPath(filepath.Join(dataDir, common.HistoryFileName))
}

// OpenPath opens the event database at an explicit path.
func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.WrapError(err, "opening history database")
	}
	// The database is only ever touched by one process; a single
	// connection avoids SQLITE_BUSY between recorder and queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, common.WrapError(err, "initializing history schema")
	}
	return &Store{db: db}, nil
}

// Record persists one lifecycle event. Failures are logged, not
// returned: history is an observer and must never block or fail a
// connection operation.
func (s *Store) Record(event, name string, bytesIn, bytesOut uint64) {
	_, err := s.db.Exec(
		`INSERT INTO events (occurred, event, name, bytes_in, bytes_out) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC(), event, name, int64(bytesIn), int64(bytesOut),
	)
	if err != nil {
		common.LogWarn("recording history event: %v", err)
	}
}

// Recent returns the newest events, most recent first.
func (s *Store) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, occurred, event, name, bytes_in, bytes_out
		 FROM events ORDER BY occurred DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, common.WrapError(err, "querying history")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var in, out int64
		if err := rows.Scan(&e.ID, &e.Occurred, &e.Kind, &e.Name, &in, &out); err != nil {
			return nil, common.WrapError(err, "scanning history row")
		}
		e.BytesIn = uint64(in)
		e.BytesOut = uint64(out)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
