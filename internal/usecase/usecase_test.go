package usecase

import (
	"strings"
	"testing"
	"time"

	"agenttuid/internal/apperr"
	"agenttuid/internal/metrics"
	"agenttuid/internal/sessionmgr"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return &Service{
		Manager: sessionmgr.New(4),
		Metrics: metrics.New(),
		Version: "test",
		GitSHA:  "deadbeef",
	}
}

func spawnEcho(t *testing.T, svc *Service, text string) string {
	t.Helper()
	res, err := svc.Spawn(SpawnParams{Command: []string{"/bin/echo", text}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return res.SessionID
}

func TestSpawnRejectsEmptyCommand(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Spawn(SpawnParams{Command: nil, Cols: 80, Rows: 24})
	if err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestSpawnSnapshotSeesEchoedText(t *testing.T) {
	svc := newTestService(t)
	id := spawnEcho(t, svc, "hello-usecase")
	defer svc.Manager.Kill(id)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := svc.Snapshot(SnapshotParams{SessionID: id})
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if strings.Contains(snap.Screenshot, "hello-usecase") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for echoed text, last screen: %q", snap.Screenshot)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWaitRejectsMultipleConditions(t *testing.T) {
	svc := newTestService(t)
	id := spawnEcho(t, svc, "x")
	defer svc.Manager.Kill(id)

	_, err := svc.Wait(WaitParams{SessionID: id, Contains: "x", Regex: "x"})
	if err == nil {
		t.Fatalf("expected InvalidParams for overspecified wait")
	}
	aerr, ok := err.(*apperr.Error)
	if !ok || aerr.Kind != apperr.KindInvalidParams {
		t.Fatalf("expected InvalidParams, got %v", err)
	}
}

func TestWaitContainsSucceeds(t *testing.T) {
	svc := newTestService(t)
	id := spawnEcho(t, svc, "waitable-text")
	defer svc.Manager.Kill(id)

	res, err := svc.Wait(WaitParams{SessionID: id, Contains: "waitable-text", TimeoutMs: 2000})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !res.Matched {
		t.Fatalf("expected wait to match")
	}
}

func TestWaitTimesOut(t *testing.T) {
	svc := newTestService(t)
	id, err := svc.Spawn(SpawnParams{Command: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer svc.Manager.Kill(id.SessionID)

	_, err = svc.Wait(WaitParams{SessionID: id.SessionID, Contains: "never-appears", TimeoutMs: 100})
	if err == nil {
		t.Fatalf("expected wait timeout")
	}
	aerr, ok := err.(*apperr.Error)
	if !ok || aerr.Kind != apperr.KindWaitTimeout {
		t.Fatalf("expected WaitTimeout, got %v", err)
	}
}

func TestKeystrokeNamedAndCtrl(t *testing.T) {
	if _, err := keyToBytes("enter"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	b, err := keyToBytes("ctrl+c")
	if err != nil {
		t.Fatalf("ctrl+c: %v", err)
	}
	if len(b) != 1 || b[0] != 3 {
		t.Fatalf("expected ctrl+c to be byte 3, got %v", b)
	}
	if _, err := keyToBytes("not-a-real-key-name"); err == nil {
		t.Fatalf("expected unrecognized key error")
	}
}

func TestResizeRejectsOutOfBoundsViaUsecase(t *testing.T) {
	svc := newTestService(t)
	id, err := svc.Spawn(SpawnParams{Command: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer svc.Manager.Kill(id.SessionID)

	_, err = svc.Resize(ResizeParams{SessionID: id.SessionID, Cols: 0, Rows: 0})
	if err == nil {
		t.Fatalf("expected resize rejection")
	}
}

func TestHealthAndVersionAndMetrics(t *testing.T) {
	svc := newTestService(t)
	h, err := svc.Health()
	if err != nil || h.Status != "ok" {
		t.Fatalf("unexpected health result: %+v err=%v", h, err)
	}
	v, err := svc.VersionInfo()
	if err != nil || v.Version != "test" {
		t.Fatalf("unexpected version result: %+v err=%v", v, err)
	}
	m, err := svc.MetricsSnapshot()
	if err != nil || m == nil {
		t.Fatalf("unexpected metrics result: %+v err=%v", m, err)
	}
}
