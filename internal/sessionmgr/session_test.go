package sessionmgr

import (
	"testing"
	"time"

	"agenttuid/internal/apperr"
	"agenttuid/internal/lockutil"
)

func waitForText(t *testing.T, m *Manager, id, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, release, err := m.AcquireSession(id)
		if err != nil {
			t.Fatalf("acquire session: %v", err)
		}
		sess.DrainPTY()
		text := sess.PlainText()
		release()
		if containsString(text, want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in screen", want)
}

func containsString(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestSpawnAndSnapshotSeesOutput(t *testing.T) {
	m := New(4)
	id, err := m.Spawn([]string{"/bin/echo", "hello-world"}, 80, 24, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitForText(t, m, id, "hello-world")
}

func TestCapacityLimitRejectsSpawn(t *testing.T) {
	m := New(1)
	id1, err := m.Spawn([]string{"/bin/cat"}, 80, 24, nil)
	if err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	defer m.Kill(id1)

	_, err = m.Spawn([]string{"/bin/cat"}, 80, 24, nil)
	if err == nil {
		t.Fatalf("expected second spawn to fail at capacity")
	}
	aerr, ok := err.(*apperr.Error)
	if !ok || aerr.Kind != apperr.KindLimitReached {
		t.Fatalf("expected LimitReached, got %v", err)
	}
}

func TestResolveWithoutIdUsesActive(t *testing.T) {
	m := New(4)
	id, err := m.Spawn([]string{"/bin/cat"}, 80, 24, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer m.Kill(id)

	sess, err := m.Resolve("")
	if err != nil {
		t.Fatalf("resolve active: %v", err)
	}
	if sess.ID != id {
		t.Fatalf("expected active session %q, got %q", id, sess.ID)
	}
}

func TestResolveWithNoActiveSessionFails(t *testing.T) {
	m := New(4)
	_, err := m.Resolve("")
	if err == nil {
		t.Fatalf("expected NoActiveSession error")
	}
	aerr, ok := err.(*apperr.Error)
	if !ok || aerr.Kind != apperr.KindNoActiveSession {
		t.Fatalf("expected NoActiveSession, got %v", err)
	}
}

func TestKillIsIdempotentAndClearsActive(t *testing.T) {
	m := New(4)
	id, err := m.Spawn([]string{"/bin/cat"}, 80, 24, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err := m.Kill(id); err != nil {
		t.Fatalf("first kill: %v", err)
	}
	err = m.Kill(id)
	if err == nil {
		t.Fatalf("expected second kill to return NotFound")
	}
	aerr, ok := err.(*apperr.Error)
	if !ok || aerr.Kind != apperr.KindNotFound {
		t.Fatalf("expected NotFound on double kill, got %v", err)
	}

	_, err = m.Resolve("")
	if err == nil {
		t.Fatalf("expected no active session after kill")
	}
}

func TestListOrderedByCreation(t *testing.T) {
	m := New(4)
	id1, _ := m.Spawn([]string{"/bin/cat"}, 80, 24, nil)
	id2, _ := m.Spawn([]string{"/bin/cat"}, 80, 24, nil)
	defer m.Kill(id1)
	defer m.Kill(id2)

	infos := m.List()
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].ID != id1 || infos[1].ID != id2 {
		t.Fatalf("expected creation order %s,%s got %s,%s", id1, id2, infos[0].ID, infos[1].ID)
	}
}

func TestWithSessionRecoversPanicAndCountsPoisonRecovery(t *testing.T) {
	m := New(4)
	id, err := m.Spawn([]string{"/bin/cat"}, 80, 24, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer m.Kill(id)

	before := lockutil.PoisonRecoveries()

	err = m.WithSession(id, func(sess *Session) error {
		panic("boom")
	})
	if err == nil {
		t.Fatalf("expected panic inside WithSession to surface as an error")
	}
	aerr, ok := err.(*apperr.Error)
	if !ok || aerr.Kind != apperr.KindInternal {
		t.Fatalf("expected Internal error, got %v", err)
	}
	if got := lockutil.PoisonRecoveries(); got != before+1 {
		t.Fatalf("expected poison recovery count to increment by 1, got %d -> %d", before, got)
	}

	// The session lock must still be usable afterward.
	if err := m.WithSession(id, func(sess *Session) error {
		sess.DrainPTY()
		return nil
	}); err != nil {
		t.Fatalf("expected session lock to remain usable after recovered panic: %v", err)
	}
}

func TestResizeRejectsOutOfBounds(t *testing.T) {
	m := New(4)
	id, err := m.Spawn([]string{"/bin/cat"}, 80, 24, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer m.Kill(id)

	sess, release, err := m.AcquireSession(id)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if err := sess.Resize(0, 0); err == nil {
		t.Fatalf("expected resize(0,0) to be rejected")
	}
	if err := sess.Resize(100, 40); err != nil {
		t.Fatalf("expected valid resize to succeed: %v", err)
	}
}
