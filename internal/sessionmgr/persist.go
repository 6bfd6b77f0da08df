package sessionmgr

import "time"

// PersistRecord is the subset of session metadata worth mirroring in a
// persistence hook; a value type so sessionmgr has no import dependency on
// whatever storage backend is wired in.
type PersistRecord struct {
	ID        string
	Command   string
	Cols      int
	Rows      int
	CreatedAt time.Time
}

// Persister is the optional, non-authoritative persistence hook a Manager
// can be given. The manager's in-memory map remains authoritative; a
// Persister is consulted on spawn/kill but its failures never surface to
// callers (the concrete implementation is expected to log and swallow).
type Persister interface {
	Upsert(PersistRecord)
	Delete(id string)
}

// SetPersister installs the optional persistence hook.
func (m *Manager) SetPersister(p Persister) {
	m.persist = p
}
