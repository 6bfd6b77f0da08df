package transport

import (
	"fmt"
	"net"
)

// tcpListener is the opt-in loopback-only transport used by tests and
// tooling that can't easily dial a Unix socket.
type tcpListener struct {
	ln net.Listener
}

// ListenTCPLoopback binds addr (e.g. "127.0.0.1:0") on TCP. Addresses whose
// host is not a loopback IP or "localhost" are rejected.
func ListenTCPLoopback(addr string) (Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, apperrSocketBind(err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, apperrSocketBind(fmt.Errorf("tcp transport accepts loopback addresses only, got %q", addr))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, apperrSocketBind(err)
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, mapIOError(err)
	}
	return newNetConn(c), nil
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

func (l *tcpListener) Addr() string {
	return l.ln.Addr().String()
}
