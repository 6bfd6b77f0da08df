package transport

import (
	"errors"
	"syscall"
)

// isBrokenPipe reports whether err ultimately wraps EPIPE, distinguishing a
// client that closed its read side from a generic I/O failure.
func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE)
}
