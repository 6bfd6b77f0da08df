// Package sessionmgr owns the registry of live PTY sessions: capacity
// enforcement, id resolution, the active-session pointer, and the
// per-session lock each use case must take before touching a session's PTY
// or virtual terminal. Structure follows the teacher pack's session
// manager (a mutex-guarded map with a background sweep), generalized from
// a single named agent per daemon to a keyed registry of many.
package sessionmgr

import (
	"errors"
	"strings"
	"sync"
	"time"

	"agenttuid/internal/apperr"
	"agenttuid/internal/lockutil"
	"agenttuid/internal/ptyproc"
	"agenttuid/internal/vt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Session is one running PTY-attached child plus its virtual terminal and
// identifying metadata. All mutation and snapshot extraction happens while
// holding Lock.
type Session struct {
	ID        string
	Command   []string
	CreatedAt time.Time

	Lock sync.Mutex

	pty     *ptyproc.Handle
	term    *vt.Terminal
	cols    int
	rows    int
	running bool
}

// Info is the read-only projection returned by List, safe to serialize
// without touching the session lock beyond a brief read.
type Info struct {
	ID        string    `json:"session_id"`
	Command   []string  `json:"command"`
	Pid       int       `json:"pid,omitempty"`
	Running   bool      `json:"running"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
	Age       string    `json:"age"`
}

// DrainPTY reads whatever new PTY output is already buffered into the
// virtual terminal without blocking for new data; used by the snapshot use
// case before taking a screen snapshot. Caller must hold s.Lock.
func (s *Session) DrainPTY() {
	for {
		select {
		case ev := <-s.pty.ReadEvents():
			if ev.Err != nil {
				s.running = false
				return
			}
			s.term.Process(ev.Data)
		default:
			return
		}
	}
}

// Snapshot returns the current screen. Caller must hold s.Lock.
func (s *Session) Snapshot() vt.ScreenSnapshot {
	return s.term.Snapshot()
}

// PlainText returns the unstyled screen text. Caller must hold s.Lock.
func (s *Session) PlainText() string {
	return s.term.PlainText()
}

// Render returns the screen reconstructed with ANSI SGR sequences. Caller
// must hold s.Lock.
func (s *Session) Render() string {
	return s.term.Render()
}

// Write pushes bytes to the PTY. Caller must hold s.Lock.
func (s *Session) Write(data []byte) error {
	if err := s.pty.Write(data); err != nil {
		s.running = false
		return apperr.New(apperr.KindWrite, err.Error())
	}
	return nil
}

// Resize validates bounds, resizes the virtual terminal first (so a reader
// draining output mid-resize never observes a PTY size the grid hasn't
// caught up to), then the PTY itself. Caller must hold s.Lock.
func (s *Session) Resize(cols, rows int) error {
	if cols < 1 || cols > 10000 || rows < 1 || rows > 10000 {
		return apperr.Newf(apperr.KindInvalidParams, "resize out of bounds: %dx%d", cols, rows)
	}
	s.term.Resize(cols, rows)
	s.cols, s.rows = cols, rows
	if err := s.pty.Resize(cols, rows); err != nil {
		return apperr.New(apperr.KindResize, err.Error())
	}
	return nil
}

// Pid returns the child's pid, or 0 if it's no longer known.
func (s *Session) Pid() int {
	pid, ok := s.pty.Pid()
	if !ok {
		return 0
	}
	return pid
}

// IsRunning refreshes and returns the cached running flag by checking the
// PTY handle's non-blocking reap state. Caller must hold s.Lock.
func (s *Session) IsRunning() bool {
	if s.running && !s.pty.IsRunning() {
		s.running = false
	}
	return s.running
}

// Kill terminates the child process. Idempotent. Caller must hold s.Lock.
func (s *Session) Kill() error {
	if err := s.pty.Kill(); err != nil {
		return apperr.New(apperr.KindWrite, err.Error())
	}
	s.running = false
	return nil
}

func (s *Session) info() Info {
	return Info{
		ID:        s.ID,
		Command:   s.Command,
		Pid:       s.Pid(),
		Running:   s.running,
		Cols:      s.cols,
		Rows:      s.rows,
		CreatedAt: s.CreatedAt,
		Age:       humanize.Time(s.CreatedAt),
	}
}

// Manager is the SessionId -> Session registry. It never stores a back
// reference inside a Session, keeping the ownership graph a flat map.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	order      []string // creation order, for List
	active     string
	maxSessions int
	onFellBehind func(sessionID string)
	persist      Persister
}

// New creates a Manager enforcing maxSessions as a hard capacity limit.
func New(maxSessions int) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// SetFellBehindHook installs a callback invoked when a session's PTY reader
// drops frames because nothing is draining it fast enough.
func (m *Manager) SetFellBehindHook(fn func(sessionID string)) {
	m.onFellBehind = fn
}

// Spawn starts a new PTY session. Fails with LimitReached if the registry
// is at capacity.
func (m *Manager) Spawn(command []string, cols, rows int, env map[string]string) (string, error) {
	release, ok := lockutil.AcquireWLockDefault(&m.mu)
	if !ok {
		return "", apperr.RegistryLockTimeoutErr()
	}
	defer release()

	if len(m.sessions) >= m.maxSessions {
		return "", apperr.LimitReached(m.maxSessions)
	}

	handle, err := ptyproc.Spawn(command, cols, rows, env)
	if err != nil {
		return "", apperr.New(apperr.KindSpawn, err.Error())
	}

	id := uuid.NewString()
	handle.OnFellBehind = func() {
		if m.onFellBehind != nil {
			m.onFellBehind(id)
		}
	}

	sess := &Session{
		ID:        id,
		Command:   append([]string(nil), command...),
		CreatedAt: time.Now(),
		pty:       handle,
		term:      vt.New(cols, rows),
		cols:      cols,
		rows:      rows,
		running:   true,
	}
	m.sessions[id] = sess
	m.order = append(m.order, id)
	m.active = id
	if m.persist != nil {
		m.persist.Upsert(PersistRecord{
			ID:        id,
			Command:   strings.Join(sess.Command, " "),
			Cols:      cols,
			Rows:      rows,
			CreatedAt: sess.CreatedAt,
		})
	}
	return id, nil
}

// Resolve returns the session for id, or the active session if id is "".
func (m *Manager) Resolve(id string) (*Session, error) {
	release, ok := lockutil.AcquireRLockDefault(&m.mu)
	if !ok {
		return nil, apperr.RegistryLockTimeoutErr()
	}
	defer release()

	if id == "" {
		if m.active == "" {
			return nil, apperr.NoActiveSession()
		}
		sess, ok := m.sessions[m.active]
		if !ok {
			return nil, apperr.NoActiveSession()
		}
		return sess, nil
	}
	sess, ok := m.sessions[id]
	if !ok {
		return nil, apperr.NotFound(id)
	}
	return sess, nil
}

// AcquireSession resolves id and acquires its lock within LOCK_TIMEOUT,
// returning a release func to call exactly once.
func (m *Manager) AcquireSession(id string) (*Session, func(), error) {
	sess, err := m.Resolve(id)
	if err != nil {
		return nil, nil, err
	}
	release, ok := lockutil.AcquireMutexDefault(&sess.Lock)
	if !ok {
		return nil, nil, apperr.LockTimeoutErr(sess.ID)
	}
	return sess, release, nil
}

// WithSession resolves id, acquires its lock within LOCK_TIMEOUT, and runs
// fn while holding it. Unlike AcquireSession, a panic inside fn is
// recovered here rather than left to crash the calling goroutine: the
// session's own mutex is released via the normal defer path regardless
// (sync.Mutex is never actually poisoned by a panicking holder), but the
// recovery is counted through lockutil so a misbehaving handler shows up
// in the metrics RPC instead of silently vanishing.
func (m *Manager) WithSession(id string, fn func(*Session) error) error {
	sess, err := m.Resolve(id)
	if err != nil {
		return err
	}
	err = lockutil.WithMutexRecover(&sess.Lock, lockutil.LockTimeout, func() error {
		return fn(sess)
	})
	if err == lockutil.ErrTimeout {
		return apperr.LockTimeoutErr(sess.ID)
	}
	var panicErr *lockutil.PanicError
	if errors.As(err, &panicErr) {
		return apperr.New(apperr.KindInternal, "internal error recovering a panicking session handler")
	}
	return err
}

// List returns every session's info, ordered by creation time.
func (m *Manager) List() []Info {
	release, ok := lockutil.AcquireRLockDefault(&m.mu)
	if !ok {
		return nil
	}
	ids := append([]string(nil), m.order...)
	sessions := make(map[string]*Session, len(ids))
	for _, id := range ids {
		if sess, ok := m.sessions[id]; ok {
			sessions[id] = sess
		}
	}
	release()

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		sess, ok := sessions[id]
		if !ok {
			continue
		}
		sessRelease, ok := lockutil.AcquireMutexDefault(&sess.Lock)
		if !ok {
			continue
		}
		infos = append(infos, sess.info())
		sessRelease()
	}
	return infos
}

// Kill stops and removes a session, clearing the active pointer if it was
// pointed at the killed session.
func (m *Manager) Kill(id string) error {
	release, ok := lockutil.AcquireWLockDefault(&m.mu)
	if !ok {
		return apperr.RegistryLockTimeoutErr()
	}
	sess, ok := m.sessions[id]
	if !ok {
		release()
		return apperr.NotFound(id)
	}
	delete(m.sessions, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.active == id {
		m.active = ""
	}
	release()

	if m.persist != nil {
		m.persist.Delete(id)
	}

	sessRelease, ok := lockutil.AcquireMutexDefault(&sess.Lock)
	if !ok {
		return apperr.LockTimeoutErr(id)
	}
	defer sessRelease()
	return sess.Kill()
}

// SetActive validates membership and updates the active pointer.
func (m *Manager) SetActive(id string) error {
	release, ok := lockutil.AcquireWLockDefault(&m.mu)
	if !ok {
		return apperr.RegistryLockTimeoutErr()
	}
	defer release()
	if _, ok := m.sessions[id]; !ok {
		return apperr.NotFound(id)
	}
	m.active = id
	return nil
}

// Count returns the number of live sessions, for the metrics RPC.
func (m *Manager) Count() int {
	release, ok := lockutil.AcquireRLockDefault(&m.mu)
	if !ok {
		return 0
	}
	defer release()
	return len(m.sessions)
}

// ReapExited sweeps every session, refreshing its running flag. Exited
// sessions stay in the registry until explicitly killed so clients can
// still read their last screen.
func (m *Manager) ReapExited() {
	rel, ok := lockutil.AcquireRLockDefault(&m.mu)
	if !ok {
		return
	}
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	rel()

	for _, id := range ids {
		rel, ok := lockutil.AcquireRLockDefault(&m.mu)
		if !ok {
			continue
		}
		sess, ok := m.sessions[id]
		rel()
		if !ok {
			continue
		}
		release, ok := lockutil.AcquireMutexDefault(&sess.Lock)
		if !ok {
			continue
		}
		sess.IsRunning()
		release()
	}
}
