// Package usecase implements the daemon's thin orchestrators — the layer
// between the RPC method table and the session manager. Each exported
// method here corresponds to one entry in the method catalog and does
// nothing beyond resolve a session, acquire its lock, invoke one or two
// operations, and shape the result.
package usecase

import (
	"regexp"
	"strings"
	"time"

	"agenttuid/internal/apperr"
	"agenttuid/internal/metrics"
	"agenttuid/internal/sessionmgr"
	"agenttuid/internal/vt"
)

// Service bundles the collaborators every use case needs.
type Service struct {
	Manager *sessionmgr.Manager
	Metrics *metrics.Registry
	Version string
	GitSHA  string
}

// --- sessions.spawn ---

type SpawnParams struct {
	Command []string          `json:"command"`
	Cols    int               `json:"cols"`
	Rows    int               `json:"rows"`
	Env     map[string]string `json:"env,omitempty"`
}

type SpawnResult struct {
	SessionID string `json:"session_id"`
}

const (
	minDim = 1
	maxDim = 10000
)

func (s *Service) Spawn(p SpawnParams) (*SpawnResult, error) {
	if len(p.Command) == 0 {
		return nil, apperr.New(apperr.KindInvalidParams, "command must not be empty")
	}
	cols, rows := p.Cols, p.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	if cols < minDim || cols > maxDim || rows < minDim || rows > maxDim {
		return nil, apperr.Newf(apperr.KindInvalidParams, "size out of bounds: %dx%d", cols, rows)
	}
	id, err := s.Manager.Spawn(p.Command, cols, rows, p.Env)
	if err != nil {
		return nil, err
	}
	s.Metrics.SetSessionCount(s.Manager.Count())
	return &SpawnResult{SessionID: id}, nil
}

// --- snapshot ---

type SnapshotParams struct {
	SessionID string `json:"session_id,omitempty"`
	StripANSI bool   `json:"strip_ansi,omitempty"`
}

type CursorInfo struct {
	Row     int  `json:"row"`
	Col     int  `json:"col"`
	Visible bool `json:"visible"`
}

type SnapshotResult struct {
	SessionID  string     `json:"session_id"`
	Screenshot string     `json:"screenshot"`
	Rendered   string     `json:"rendered,omitempty"`
	Cursor     CursorInfo `json:"cursor"`
	Cols       int        `json:"cols"`
	Rows       int        `json:"rows"`
	Running    bool       `json:"running"`
}

func (s *Service) Snapshot(p SnapshotParams) (*SnapshotResult, error) {
	var result *SnapshotResult
	err := s.Manager.WithSession(p.SessionID, func(sess *sessionmgr.Session) error {
		sess.DrainPTY()
		snap := sess.Snapshot()
		result = &SnapshotResult{
			SessionID:  sess.ID,
			Screenshot: sess.PlainText(),
			Cursor: CursorInfo{
				Row:     snap.Cursor.Row,
				Col:     snap.Cursor.Col,
				Visible: snap.Cursor.Visible,
			},
			Cols:    snap.Cols,
			Rows:    snap.Rows,
			Running: sess.IsRunning(),
		}
		if !p.StripANSI {
			result.Rendered = sess.Render()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- keystroke / type ---

type KeystrokeParams struct {
	SessionID string `json:"session_id,omitempty"`
	Key       string `json:"key"`
}

type TypeParams struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

type WriteResult struct {
	OK bool `json:"ok"`
}

func (s *Service) Keystroke(p KeystrokeParams) (*WriteResult, error) {
	bytes, err := keyToBytes(p.Key)
	if err != nil {
		return nil, err
	}
	if err := s.writeToSession(p.SessionID, bytes); err != nil {
		return nil, err
	}
	return &WriteResult{OK: true}, nil
}

func (s *Service) Type(p TypeParams) (*WriteResult, error) {
	if err := s.writeToSession(p.SessionID, []byte(p.Text)); err != nil {
		return nil, err
	}
	return &WriteResult{OK: true}, nil
}

func (s *Service) writeToSession(id string, data []byte) error {
	return s.Manager.WithSession(id, func(sess *sessionmgr.Session) error {
		return sess.Write(data)
	})
}

// namedKeys maps key names to the bytes a real terminal would send.
var namedKeys = map[string]string{
	"enter":     "\r",
	"tab":       "\t",
	"backspace": "\x7f",
	"escape":    "\x1b",
	"space":     " ",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
	"pageup":    "\x1b[5~",
	"pagedown":  "\x1b[6~",
	"delete":    "\x1b[3~",
}

func keyToBytes(key string) ([]byte, error) {
	if b, ok := namedKeys[key]; ok {
		return []byte(b), nil
	}
	if len(key) > 5 && key[:5] == "ctrl+" {
		rest := key[5:]
		if len(rest) == 1 {
			c := rest[0]
			if c >= 'a' && c <= 'z' {
				return []byte{c - 'a' + 1}, nil
			}
			if c >= 'A' && c <= 'Z' {
				return []byte{c - 'A' + 1}, nil
			}
		}
		return nil, apperr.Newf(apperr.KindInvalidParams, "unrecognized ctrl key: %s", key)
	}
	if len([]rune(key)) == 1 {
		return []byte(key), nil
	}
	return nil, apperr.Newf(apperr.KindInvalidParams, "unrecognized key name: %s", key)
}

// --- wait ---

type WaitParams struct {
	SessionID   string `json:"session_id,omitempty"`
	Contains    string `json:"contains,omitempty"`
	Regex       string `json:"regex,omitempty"`
	StableForMs int    `json:"stable_for_ms,omitempty"`
	CursorRow   *int   `json:"cursor_row,omitempty"`
	CursorCol   *int   `json:"cursor_col,omitempty"`
	TimeoutMs   int    `json:"timeout_ms,omitempty"`
}

type WaitResult struct {
	Matched    bool   `json:"matched"`
	ElapsedMs  int64  `json:"elapsed_ms"`
	Screenshot string `json:"screenshot"`
}

const (
	defaultWaitTimeout = 10 * time.Second
	waitPollInterval   = 50 * time.Millisecond
)

func (s *Service) Wait(p WaitParams) (*WaitResult, error) {
	condCount := 0
	if p.Contains != "" {
		condCount++
	}
	if p.Regex != "" {
		condCount++
	}
	if p.StableForMs > 0 {
		condCount++
	}
	if p.CursorRow != nil || p.CursorCol != nil {
		condCount++
	}
	if condCount != 1 {
		return nil, apperr.New(apperr.KindInvalidParams, "wait requires exactly one condition")
	}

	var re *regexp.Regexp
	if p.Regex != "" {
		compiled, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, apperr.Newf(apperr.KindInvalidParams, "invalid regex: %v", err)
		}
		re = compiled
	}

	timeout := defaultWaitTimeout
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	start := time.Now()

	var lastText string
	var stableSince time.Time

	for {
		var text string
		var snap vt.ScreenSnapshot
		err := s.Manager.WithSession(p.SessionID, func(sess *sessionmgr.Session) error {
			sess.DrainPTY()
			text = sess.PlainText()
			snap = sess.Snapshot()
			return nil
		})
		if err != nil {
			return nil, err
		}

		matched := false
		switch {
		case p.Contains != "":
			matched = strings.Contains(text, p.Contains)
		case re != nil:
			matched = re.MatchString(text)
		case p.StableForMs > 0:
			if text != lastText {
				stableSince = time.Now()
				lastText = text
			}
			if !stableSince.IsZero() && time.Since(stableSince) >= time.Duration(p.StableForMs)*time.Millisecond {
				matched = true
			}
		case p.CursorRow != nil || p.CursorCol != nil:
			matched = true
			if p.CursorRow != nil && snap.Cursor.Row != *p.CursorRow {
				matched = false
			}
			if p.CursorCol != nil && snap.Cursor.Col != *p.CursorCol {
				matched = false
			}
		}

		if matched {
			return &WaitResult{Matched: true, ElapsedMs: time.Since(start).Milliseconds(), Screenshot: text}, nil
		}
		if time.Now().After(deadline) {
			return nil, apperr.Newf(apperr.KindWaitTimeout, "wait condition not satisfied within %s", timeout).
				WithContext(map[string]any{"session_id": p.SessionID})
		}
		time.Sleep(waitPollInterval)
	}
}

// --- sessions.list / sessions.kill / sessions.set_active ---

type SessionIDParams struct {
	SessionID string `json:"session_id"`
}

type SessionsListResult struct {
	Sessions []sessionmgr.Info `json:"sessions"`
}

func (s *Service) ListSessions() (*SessionsListResult, error) {
	return &SessionsListResult{Sessions: s.Manager.List()}, nil
}

func (s *Service) Kill(p SessionIDParams) (*WriteResult, error) {
	if err := s.Manager.Kill(p.SessionID); err != nil {
		return nil, err
	}
	s.Metrics.SetSessionCount(s.Manager.Count())
	return &WriteResult{OK: true}, nil
}

func (s *Service) SetActive(p SessionIDParams) (*WriteResult, error) {
	if err := s.Manager.SetActive(p.SessionID); err != nil {
		return nil, err
	}
	return &WriteResult{OK: true}, nil
}

// --- resize ---

type ResizeParams struct {
	SessionID string `json:"session_id,omitempty"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

func (s *Service) Resize(p ResizeParams) (*WriteResult, error) {
	err := s.Manager.WithSession(p.SessionID, func(sess *sessionmgr.Session) error {
		return sess.Resize(p.Cols, p.Rows)
	})
	if err != nil {
		return nil, err
	}
	return &WriteResult{OK: true}, nil
}

// --- health / version / metrics ---

type HealthResult struct {
	Status string `json:"status"`
}

func (s *Service) Health() (*HealthResult, error) {
	return &HealthResult{Status: "ok"}, nil
}

type VersionResult struct {
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

func (s *Service) VersionInfo() (*VersionResult, error) {
	return &VersionResult{Version: s.Version, GitSHA: s.GitSHA}, nil
}

func (s *Service) MetricsSnapshot() (*metrics.Snapshot, error) {
	snap := s.Metrics.Snapshot()
	return &snap, nil
}
