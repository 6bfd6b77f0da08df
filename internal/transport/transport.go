// Package transport implements the daemon's wire framing and the
// listener/connection abstractions over which it runs: a Unix-domain
// socket for normal operation, a TCP loopback variant for tooling, and an
// in-memory pipe for tests. All three speak the same length-prefixed JSON
// frame, modeled on the accept-loop/connection split in the teacher's
// bridge service.
package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"agenttuid/internal/apperr"
)

// DefaultMaxRequestBytes is the default ceiling on a single request frame.
const DefaultMaxRequestBytes = 1 << 20 // 1 MiB

// Listener accepts incoming Conns.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// Conn is one accepted connection, framed for request/response exchange.
type Conn interface {
	ReadRequest(maxBytes int) ([]byte, error)
	WriteResponse(payload []byte) error
	SetReadTimeout(d time.Duration) error
	SetWriteTimeout(d time.Duration) error
	Close() error
}

// netConn adapts any net.Conn (Unix, TCP, or in-memory net.Pipe) to Conn.
type netConn struct {
	c net.Conn
	r *bufio.Reader
}

func newNetConn(c net.Conn) *netConn {
	return &netConn{c: c, r: bufio.NewReader(c)}
}

func (nc *netConn) ReadRequest(maxBytes int) ([]byte, error) {
	payload, err := readFrame(nc.r, maxBytes)
	if err != nil {
		return nil, mapIOError(err)
	}
	return payload, nil
}

func (nc *netConn) WriteResponse(payload []byte) error {
	if err := writeFrame(nc.c, payload); err != nil {
		return mapIOError(err)
	}
	return nil
}

func (nc *netConn) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return nc.c.SetReadDeadline(time.Time{})
	}
	return nc.c.SetReadDeadline(time.Now().Add(d))
}

func (nc *netConn) SetWriteTimeout(d time.Duration) error {
	if d <= 0 {
		return nc.c.SetWriteDeadline(time.Time{})
	}
	return nc.c.SetWriteDeadline(time.Now().Add(d))
}

func (nc *netConn) Close() error {
	return nc.c.Close()
}

func apperrSocketBind(err error) error {
	return apperr.New(apperr.KindSocketBind, err.Error())
}

func apperrConnectionClosed() error {
	return apperr.New(apperr.KindConnectionClosed, "listener closed")
}

// mapIOError turns raw net/io errors into the daemon's Timeout vs.
// ConnectionClosed distinction per the transport error-kind contract.
func mapIOError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.New(apperr.KindTimeout, err.Error())
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return apperr.New(apperr.KindConnectionClosed, err.Error())
	}
	if isBrokenPipe(err) {
		return apperr.New(apperr.KindConnectionClosed, err.Error())
	}
	if errors.Is(err, errFrameTooLarge) {
		return apperr.New(apperr.KindSizeLimit, err.Error())
	}
	return apperr.New(apperr.KindIo, err.Error())
}
