// Package ptyproc spawns and manages a child process attached to a PTY,
// following the pattern in the teacher repo's virtualterminal.VT.StartPTY
// but split out as a standalone handle that needs no outer lock (it guards
// its own state with an internal mutex) so a Session can own the
// PTY lifecycle independently of screen parsing.
package ptyproc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Kind identifies a PTY-layer failure, matching the Terminal/PTY error
// taxonomy in the session runtime spec (§7): Spawn, Write, Read, Resize, Eof.
type Kind int

const (
	KindSpawn Kind = iota
	KindWrite
	KindRead
	KindResize
	KindEof
)

// Error wraps a PTY-layer failure with its Kind so callers can map it to an
// RPC error code without string matching.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pty: %s", e.Reason)
}

func newErr(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// ReadEvent is one frame of raw PTY output (or a terminal read error)
// pushed by the background reader goroutine.
type ReadEvent struct {
	Data []byte
	Err  error
}

// readChanCapacity bounds the background reader's channel; once full the
// reader keeps draining the PTY (so the kernel buffer doesn't back up) but
// drops the frame it just read and records a "fell behind" event instead
// of blocking or failing hard, per spec §4.2.
const readChanCapacity = 256

// Handle owns one PTY master/child pair.
type Handle struct {
	ptm *os.File
	cmd *exec.Cmd

	mu      sync.Mutex
	cols    int
	rows    int
	exited  bool
	waitErr error

	readCh      chan ReadEvent
	stopReader  chan struct{}
	closeOnce   sync.Once
	fellBehind  atomic.Int64
	OnFellBehind func() // optional hook, invoked (async-safe) when frames are dropped
}

// Spawn starts argv[0] with the rest as arguments, attached to a new PTY of
// the given size. extraEnv entries override the inherited environment by
// key, mirroring h2's VT.StartPTY env-filtering behavior.
func Spawn(argv []string, cols, rows int, extraEnv map[string]string) (*Handle, error) {
	if len(argv) == 0 {
		return nil, newErr(KindSpawn, "empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if len(extraEnv) > 0 {
		cmd.Env = mergeEnv(os.Environ(), extraEnv)
	}

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, newErr(KindSpawn, err.Error())
	}

	h := &Handle{
		ptm:        ptm,
		cmd:        cmd,
		cols:       cols,
		rows:       rows,
		readCh:     make(chan ReadEvent, readChanCapacity),
		stopReader: make(chan struct{}),
	}
	go h.reap()
	go h.readLoop()
	return h, nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		key := e
		if idx := strings.IndexByte(e, '='); idx >= 0 {
			key = e[:idx]
		}
		if _, override := overrides[key]; !override {
			env = append(env, e)
		}
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// reap waits for the child to exit and records the result, giving IsRunning
// a non-blocking flag to read instead of calling Wait repeatedly.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exited = true
	h.waitErr = err
	h.mu.Unlock()
}

// readLoop pumps master output into readCh using a short poll deadline so
// it notices stopReader promptly instead of blocking forever in Read.
func (h *Handle) readLoop() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-h.stopReader:
			return
		default:
		}
		h.ptm.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := h.ptm.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case h.readCh <- ReadEvent{Data: data}:
			default:
				h.fellBehind.Add(1)
				if h.OnFellBehind != nil {
					h.OnFellBehind()
				}
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case h.readCh <- ReadEvent{Err: newErr(KindEof, "pty closed")}:
			default:
			}
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ReadEvents returns the channel the background reader publishes frames on.
func (h *Handle) ReadEvents() <-chan ReadEvent {
	return h.readCh
}

// FellBehindCount returns how many frames the background reader has had to
// drop because the consumer wasn't keeping up.
func (h *Handle) FellBehindCount() int64 {
	return h.fellBehind.Load()
}

// TryRead performs a single non-blocking read with a deadline. It competes
// with the background reader goroutine for the same file descriptor, so
// callers that need ordered output should consume ReadEvents instead; this
// exists for callers that opt out of the push model entirely. It returns 0
// on timeout, n on data, and Kind=Eof once the master is closed.
func (h *Handle) TryRead(buf []byte, timeoutMs int) (int, error) {
	if timeoutMs <= 0 {
		timeoutMs = 1
	}
	h.ptm.SetReadDeadline(time.Now().Add(time.Duration(timeoutMs) * time.Millisecond))
	n, err := h.ptm.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		return n, newErr(KindEof, err.Error())
	}
	return n, nil
}

// Write pushes raw bytes to the master end. It fails with Kind=Write if the
// child has already exited.
func (h *Handle) Write(data []byte) error {
	if !h.IsRunning() {
		return newErr(KindWrite, "child has exited")
	}
	if _, err := h.ptm.Write(data); err != nil {
		return newErr(KindWrite, err.Error())
	}
	return nil
}

// Resize updates the PTY window size. Fails if the master is closed.
func (h *Handle) Resize(cols, rows int) error {
	h.mu.Lock()
	h.cols, h.rows = cols, rows
	h.mu.Unlock()
	if err := pty.Setsize(h.ptm, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return newErr(KindResize, err.Error())
	}
	return nil
}

// Pid returns the child's process id while it is known to be alive.
func (h *Handle) Pid() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited || h.cmd.Process == nil {
		return 0, false
	}
	return h.cmd.Process.Pid, true
}

// IsRunning performs a non-blocking reap check: once it returns false, it
// returns false permanently.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// ExitError returns the error cmd.Wait() completed with, if any, once the
// child has exited; (nil, false) while still running.
func (h *Handle) ExitError() (error, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return nil, false
	}
	return h.waitErr, true
}

// Kill sends SIGTERM, waits briefly for exit, then force-kills. It is
// idempotent: calling it after the child has already exited is a no-op.
func (h *Handle) Kill() error {
	var retErr error
	h.closeOnce.Do(func() {
		close(h.stopReader)
		if h.IsRunning() && h.cmd.Process != nil {
			_ = h.cmd.Process.Signal(syscall.SIGTERM)
			deadline := time.Now().Add(300 * time.Millisecond)
			for time.Now().Before(deadline) {
				if !h.IsRunning() {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			if h.IsRunning() {
				if err := h.cmd.Process.Kill(); err != nil {
					retErr = newErr(KindWrite, err.Error())
				}
			}
		}
		h.ptm.Close()
	})
	return retErr
}

