package transport

import (
	"net"
	"os"
)

// unixListener binds a Unix-domain socket at path, the daemon's primary
// transport.
type unixListener struct {
	ln   net.Listener
	path string
}

// ListenUnix binds a Unix-domain socket at path. Any stale socket file left
// over from a previous run must be removed by the caller first (see the
// daemon lifecycle package's stale-socket detection).
func ListenUnix(path string) (Listener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, apperrSocketBind(err)
	}
	return &unixListener{ln: ln, path: path}, nil
}

func (l *unixListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, mapIOError(err)
	}
	return newNetConn(c), nil
}

func (l *unixListener) Close() error {
	err := l.ln.Close()
	_ = os.Remove(l.path)
	return err
}

func (l *unixListener) Addr() string {
	return l.path
}
