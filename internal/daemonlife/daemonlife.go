// Package daemonlife implements the daemon process's startup and shutdown
// choreography: the single-instance advisory lock, stale-socket cleanup,
// the signal-driven shutdown flag, and a bounded-timeout worker pool that
// drains accepted connections. Follows the stale-socket detection and
// listener teardown shape of the teacher's daemon.Run, generalized from a
// per-agent named socket to the single well-known endpoint this daemon
// binds.
package daemonlife

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"agenttuid/internal/apperr"
	"agenttuid/internal/socketpath"
	"agenttuid/internal/transport"

	"github.com/gofrs/flock"
)

// Lifecycle owns the daemon's lock file, socket listener, shutdown flag,
// and worker pool.
type Lifecycle struct {
	SocketPath string
	LockPath   string

	lock     *flock.Flock
	listener transport.Listener
	shutdown atomic.Bool
	notify   chan struct{}
	wg       sync.WaitGroup
	log      *slog.Logger
}

// New resolves the socket path through socketpath.Resolve (which honours
// AGENT_TUI_SOCKET), derives the lock path from it, and prepares a
// Lifecycle. It performs no I/O yet; call Start.
func New(log *slog.Logger) *Lifecycle {
	sock := socketpath.Resolve()
	return &Lifecycle{
		SocketPath: sock,
		LockPath:   socketpath.LockPath(sock),
		notify:     make(chan struct{}),
		log:        log,
	}
}

// Start acquires the single-instance lock, clears a stale socket if one is
// found, binds the listener, and installs the signal handler. It returns a
// *apperr.Error with the matching lifecycle Kind on any hard failure so
// the caller can map it to the daemon's documented exit codes.
func (l *Lifecycle) Start() error {
	if err := os.MkdirAll(dirOf(l.SocketPath), 0o700); err != nil {
		return apperr.New(apperr.KindSocketBind, err.Error())
	}

	l.lock = flock.New(l.LockPath)
	locked, err := l.lock.TryLock()
	if err != nil {
		return apperr.New(apperr.KindLockFailed, err.Error())
	}
	if !locked {
		return apperr.New(apperr.KindAlreadyRunning, "another daemon instance is already running").
			WithSuggestion("stop the running daemon or remove " + l.LockPath + " if it's stale")
	}

	if err := l.clearStaleSocket(); err != nil {
		return err
	}

	ln, err := transport.ListenUnix(l.SocketPath)
	if err != nil {
		return apperr.New(apperr.KindSocketBind, err.Error())
	}
	l.listener = ln

	if err := l.installSignalHandler(); err != nil {
		return apperr.New(apperr.KindSignalSetup, err.Error())
	}

	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// clearStaleSocket dials the existing socket file, if any, to tell a live
// daemon from a leftover one; only the leftover case is removed.
func (l *Lifecycle) clearStaleSocket() error {
	if _, err := os.Stat(l.SocketPath); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", l.SocketPath, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return apperr.New(apperr.KindAlreadyRunning, "a daemon is already listening on "+l.SocketPath)
	}
	return os.Remove(l.SocketPath)
}

// Listener returns the bound socket listener.
func (l *Lifecycle) Listener() transport.Listener {
	return l.listener
}

// ShuttingDown reports whether shutdown has been requested.
func (l *Lifecycle) ShuttingDown() bool {
	return l.shutdown.Load()
}

// Notify returns a channel closed once when shutdown begins, for callers
// blocked in a select waiting on suspension points (wait polls, lock
// backoff) to abort promptly.
func (l *Lifecycle) Notify() <-chan struct{} {
	return l.notify
}

// installSignalHandler spawns the dedicated signal-handling goroutine
// described in the lifecycle contract: on SIGINT/SIGTERM it flips the
// shutdown flag and closes the notify channel exactly once.
func (l *Lifecycle) installSignalHandler() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		l.triggerShutdown()
	}()
	return nil
}

func (l *Lifecycle) triggerShutdown() {
	if l.shutdown.CompareAndSwap(false, true) {
		close(l.notify)
		if l.listener != nil {
			l.listener.Close()
		}
	}
}

// Shutdown requests shutdown programmatically (used by tests and by the
// daemon's own admin surface, as distinct from an OS signal).
func (l *Lifecycle) Shutdown() {
	l.triggerShutdown()
}

// Spawn runs fn in a tracked goroutine so Close can join it with a bounded
// timeout.
func (l *Lifecycle) Spawn(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// Close releases the lock file, unlinks the socket, and joins active
// workers with a bounded timeout, per the shutdown contract.
func (l *Lifecycle) Close(joinTimeout time.Duration) {
	l.triggerShutdown()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(joinTimeout):
		if l.log != nil {
			l.log.Warn("daemon shutdown: worker join timed out", "timeout", joinTimeout)
		}
	}

	if l.lock != nil {
		_ = l.lock.Unlock()
	}
}

// AcceptLoop runs the listener's accept loop, dispatching each connection
// to a bounded worker pool of the given size. It returns once shutdown has
// been triggered (normal shutdown path) or once the listener reports itself
// closed; any other accept error is logged and accepting continues.
func (l *Lifecycle) AcceptLoop(ctx context.Context, poolSize int, handle func(transport.Conn)) {
	sem := make(chan struct{}, poolSize)
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.ShuttingDown() {
				return
			}
			if l.log != nil {
				l.log.Warn("accept failed", "error", err)
			}
			if aerr, ok := err.(*apperr.Error); ok && aerr.Kind == apperr.KindConnectionClosed {
				return
			}
			continue
		}
		sem <- struct{}{}
		l.Spawn(func() {
			defer func() { <-sem }()
			handle(conn)
		})
	}
}
