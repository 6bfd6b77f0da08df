package transport

import "net"

// memListener is an in-process test double: Dial creates a connected pair
// via net.Pipe and hands one end to a pending Accept call.
type memListener struct {
	pending chan net.Conn
	closed  chan struct{}
}

// NewMemListener creates an in-memory Listener. Call Dial on the returned
// *MemListener (not through the Listener interface) to connect a client.
func NewMemListener() *MemListener {
	return &MemListener{inner: &memListener{
		pending: make(chan net.Conn),
		closed:  make(chan struct{}),
	}}
}

// MemListener exposes Dial in addition to the standard Listener interface.
type MemListener struct {
	inner *memListener
}

func (m *MemListener) Accept() (Conn, error) { return m.inner.Accept() }
func (m *MemListener) Close() error          { return m.inner.Close() }
func (m *MemListener) Addr() string          { return m.inner.Addr() }

// Dial connects a new client to this listener and returns the client-side
// Conn; the server-side Conn surfaces from the next Accept call.
func (m *MemListener) Dial() (Conn, error) {
	client, server := net.Pipe()
	select {
	case m.inner.pending <- server:
		return newNetConn(client), nil
	case <-m.inner.closed:
		return nil, apperrConnectionClosed()
	}
}

func (l *memListener) Accept() (Conn, error) {
	select {
	case c := <-l.pending:
		return newNetConn(c), nil
	case <-l.closed:
		return nil, apperrConnectionClosed()
	}
}

func (l *memListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *memListener) Addr() string { return "mem" }
