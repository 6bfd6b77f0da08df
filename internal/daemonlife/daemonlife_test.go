package daemonlife

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agenttuid/internal/apperr"
	"agenttuid/internal/transport"
)

func newTestLifecycle(t *testing.T) *Lifecycle {
	t.Helper()
	dir := t.TempDir()
	l := &Lifecycle{
		SocketPath: filepath.Join(dir, "agent-tui.sock"),
		LockPath:   filepath.Join(dir, "agent-tui.lock"),
		notify:     make(chan struct{}),
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return l
}

func TestStartBindsListenerAndLock(t *testing.T) {
	l := newTestLifecycle(t)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Close(time.Second)

	if _, err := os.Stat(l.SocketPath); err != nil {
		t.Fatalf("expected socket file to exist: %v", err)
	}
}

func TestSecondInstanceFailsAlreadyRunning(t *testing.T) {
	l1 := newTestLifecycle(t)
	if err := l1.Start(); err != nil {
		t.Fatalf("start first: %v", err)
	}
	defer l1.Close(time.Second)

	l2 := &Lifecycle{
		SocketPath: l1.SocketPath,
		LockPath:   l1.LockPath,
		notify:     make(chan struct{}),
		log:        l1.log,
	}
	err := l2.Start()
	if err == nil {
		t.Fatalf("expected second instance to fail to start")
	}
	aerr, ok := err.(*apperr.Error)
	if !ok || aerr.Kind != apperr.KindAlreadyRunning {
		t.Fatalf("expected AlreadyRunning, got %v", err)
	}
}

func TestStaleSocketIsCleared(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "agent-tui.sock")

	// Simulate a leftover socket file from a crashed daemon: bind and
	// close it without removing the path.
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("seed stale socket: %v", err)
	}
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close() // leaves sockPath on disk with nothing listening

	l := &Lifecycle{
		SocketPath: sockPath,
		LockPath:   filepath.Join(dir, "agent-tui.lock"),
		notify:     make(chan struct{}),
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := l.Start(); err != nil {
		t.Fatalf("expected stale socket to be cleared and daemon to start: %v", err)
	}
	defer l.Close(time.Second)
}

func TestShutdownClosesNotifyAndListener(t *testing.T) {
	l := newTestLifecycle(t)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	l.Shutdown()
	select {
	case <-l.Notify():
	default:
		t.Fatalf("expected notify channel to be closed after shutdown")
	}
	if !l.ShuttingDown() {
		t.Fatalf("expected ShuttingDown to report true")
	}
	if _, err := l.Listener().Accept(); err == nil {
		t.Fatalf("expected Accept to fail once the listener is closed")
	}

	// Idempotent: a second shutdown must not panic on double-close.
	l.Shutdown()
	l.Close(time.Second)
}

func TestAcceptLoopDispatchesToHandler(t *testing.T) {
	l := newTestLifecycle(t)
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	handled := make(chan struct{}, 1)
	go l.AcceptLoop(context.Background(), 2, func(c transport.Conn) {
		defer c.Close()
		handled <- struct{}{}
	})

	client, err := net.DialTimeout("unix", l.SocketPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for accept loop to dispatch connection")
	}

	l.Close(time.Second)
}
