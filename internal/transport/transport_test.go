package transport

import (
	"fmt"
	"testing"
	"time"

	"agenttuid/internal/apperr"
)

func TestMemTransportRoundTrip(t *testing.T) {
	ln := NewMemListener()
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		req, err := conn.ReadRequest(DefaultMaxRequestBytes)
		if err != nil {
			serverDone <- err
			return
		}
		if string(req) != `{"hello":"world"}` {
			serverDone <- fmt.Errorf("unexpected request payload: %s", req)
			return
		}
		serverDone <- conn.WriteResponse([]byte(`{"ok":true}`))
	}()

	client, err := ln.Dial()
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteResponse([]byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := client.ReadRequest(DefaultMaxRequestBytes)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if string(resp) != `{"ok":true}` {
		t.Fatalf("unexpected response: %s", resp)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server side error: %v", err)
	}
}

func TestReadRequestRejectsOversizedFrame(t *testing.T) {
	ln := NewMemListener()
	defer ln.Close()

	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()
		_, err = conn.ReadRequest(4)
		serverErr <- err
	}()

	client, err := ln.Dial()
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	// The server rejects the frame from its length header alone and closes
	// the connection without reading the payload, so the payload write ends
	// with a closed-pipe error; only the server-side rejection is checked.
	_ = client.WriteResponse([]byte(`{"too":"big"}`))

	err = <-serverErr
	if err == nil {
		t.Fatalf("expected oversized frame to be rejected")
	}
	aerr, ok := err.(*apperr.Error)
	if !ok || aerr.Kind != apperr.KindSizeLimit {
		t.Fatalf("expected SizeLimit, got %v", err)
	}
}

func TestSetReadTimeoutExpires(t *testing.T) {
	ln := NewMemListener()
	defer ln.Close()

	go func() {
		_, _ = ln.Dial()
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadTimeout(20 * time.Millisecond); err != nil {
		t.Fatalf("set read timeout: %v", err)
	}
	_, err = conn.ReadRequest(DefaultMaxRequestBytes)
	if err == nil {
		t.Fatalf("expected read timeout with no data written")
	}
}
