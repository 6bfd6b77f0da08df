// Package store provides a best-effort, non-authoritative mirror of
// session metadata in sqlite. The session manager's in-memory map remains
// the source of truth, and the `sessions.list` RPC reads only that map;
// this package keeps a copy on disk for external inspection tools (see
// List), never so the daemon depends on it to function. Every method here
// logs and swallows its own errors rather than propagating them into an
// RPC failure.
package store

import (
	"database/sql"
	"log/slog"
	"time"

	"agenttuid/internal/sessionmgr"

	_ "modernc.org/sqlite"
)

// Record mirrors the subset of sessionmgr.Info worth persisting.
type Record struct {
	ID        string
	Command   string
	Cols      int
	Rows      int
	CreatedAt time.Time
}

// Store wraps a sqlite connection used only for this mirror.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures the sessions table exists. A nil *Store with a logged warning is
// returned on failure; callers treat a nil Store as "persistence
// disabled" rather than failing startup over it.
func Open(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.Warn("session store disabled: open failed", "error", err)
		return nil
	}
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	cols INTEGER NOT NULL,
	rows INTEGER NOT NULL,
	created_at INTEGER NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		log.Warn("session store disabled: schema failed", "error", err)
		db.Close()
		return nil
	}
	return &Store{db: db, log: log}
}

// Close releases the underlying connection. Safe to call on a nil Store.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.db.Close()
}

// Upsert records or updates a session. Best-effort: failures are logged,
// never returned.
func (s *Store) Upsert(r Record) {
	if s == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, command, cols, rows, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET command=excluded.command, cols=excluded.cols, rows=excluded.rows`,
		r.ID, r.Command, r.Cols, r.Rows, r.CreatedAt.Unix(),
	)
	if err != nil {
		s.log.Warn("session store upsert failed", "session_id", r.ID, "error", err)
	}
}

// Delete removes a session's row. Best-effort.
func (s *Store) Delete(id string) {
	if s == nil {
		return
	}
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		s.log.Warn("session store delete failed", "session_id", id, "error", err)
	}
}

// AsPersister adapts s to sessionmgr.Persister. Safe to call on a nil
// Store; the resulting value's methods are then all no-ops.
func (s *Store) AsPersister() sessionmgr.Persister {
	return persisterAdapter{s}
}

type persisterAdapter struct {
	s *Store
}

func (p persisterAdapter) Upsert(r sessionmgr.PersistRecord) {
	p.s.Upsert(Record{ID: r.ID, Command: r.Command, Cols: r.Cols, Rows: r.Rows, CreatedAt: r.CreatedAt})
}

func (p persisterAdapter) Delete(id string) {
	p.s.Delete(id)
}

// List returns every recorded session, for inspection tooling; it is never
// consulted by the manager itself, which stays authoritative from its
// in-memory map.
func (s *Store) List() []Record {
	if s == nil {
		return nil
	}
	rows, err := s.db.Query(`SELECT id, command, cols, rows, created_at FROM sessions ORDER BY created_at`)
	if err != nil {
		s.log.Warn("session store list failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Command, &r.Cols, &r.Rows, &createdAt); err != nil {
			s.log.Warn("session store scan failed", "error", err)
			continue
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, r)
	}
	return out
}
