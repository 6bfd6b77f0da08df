// Package socketpath resolves the daemon's listening socket location,
// following the same override-then-fallback shape as the teacher's
// socketdir package but for a single well-known endpoint rather than a
// directory of per-agent sockets.
package socketpath

import (
	"os"
	"path/filepath"
)

const (
	// EnvOverride, when set, takes precedence over every other source.
	EnvOverride = "AGENT_TUI_SOCKET"

	socketFilename = "agent-tui.sock"
)

// Resolve returns the socket path the daemon should bind to and clients
// should dial, in priority order: AGENT_TUI_SOCKET, then
// $XDG_RUNTIME_DIR/agent-tui.sock, then /tmp/agent-tui.sock.
func Resolve() string {
	if v := os.Getenv(EnvOverride); v != "" {
		return v
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketFilename)
	}
	return filepath.Join("/tmp", socketFilename)
}

// LockPath returns the advisory single-instance lock file path that sits
// alongside the socket (same directory, ".lock" in place of ".sock").
func LockPath(socket string) string {
	dir := filepath.Dir(socket)
	base := filepath.Base(socket)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)] + ".lock"
	return filepath.Join(dir, name)
}
