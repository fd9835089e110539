// Package sqlitestore implements a reference state-store backend over
// SQLite, used by the bluepill-style scenario whose testable property
// is that every node's event table matches byte-for-byte after a run.
// Grounded on original_source/matrix/{jsonstore,dummystore}.py's
// one-row-per-event shape.
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists events into a single SQLite table, one row per event,
// tagged with the round it arrived in.
type Store struct {
	db    *sql.DB
	node  string
	round int
	seq   int
}

// Open opens (creating if necessary) a SQLite database at dsn and
// ensures the events table exists.
func Open(dsn, node string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3 %s: %w", dsn, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			node  TEXT NOT NULL,
			round INTEGER NOT NULL,
			seq   INTEGER NOT NULL,
			data  TEXT NOT NULL,
			PRIMARY KEY (node, round, seq)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}
	return &Store{db: db, node: node}, nil
}

// AdvanceRound must be called by the caller (the store-process worker)
// whenever it observes a FLUSH, so subsequent HandleEvents calls are
// attributed to the next round. The core itself does not validate round
// labels, per the specification; this bookkeeping is the reference
// backend's own choice for keeping its table well-formed.
func (s *Store) AdvanceRound() {
	s.round++
	s.seq = 0
}

// HandleEvents inserts each event as its own row, preserving intra-batch
// order via the monotonic seq column.
func (s *Store) HandleEvents(events []json.RawMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO events (node, round, seq, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(s.node, s.round, s.seq, string(ev)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert event: %w", err)
		}
		s.seq++
	}
	return tx.Commit()
}

// Flush is a no-op beyond the transactional commit already performed by
// HandleEvents; SQLite makes each transaction durable at commit time.
func (s *Store) Flush() error { return nil }

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// EventRows returns every event for node, ordered by round then seq,
// for the cross-node table-equality comparison the bluepill scenario
// performs.
func (s *Store) EventRows(node string) ([]string, error) {
	rows, err := s.db.Query(`SELECT data FROM events WHERE node = ? ORDER BY round, seq`, node)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}
