package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
)

var (
	// ErrPeerClosed is returned when the remote side closed the
	// connection cleanly between PDUs, or reset it mid-stream.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrPayloadTooLarge is returned when a received PDU declares a
	// payload larger than the caller's buffer limit.
	ErrPayloadTooLarge = errors.New("payload exceeds buffer limit")
)

// ProtocolError reports a malformed PDU or payload. Flag is the first
// payload byte when one was available, zero otherwise.
type ProtocolError struct {
	Flag   Flag
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Flag == 0 {
		return fmt.Sprintf("protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("protocol error (flag %d): %s", e.Flag, e.Reason)
}

func protoErr(flag Flag, format string, args ...any) error {
	return &ProtocolError{Flag: flag, Reason: fmt.Sprintf(format, args...)}
}

// IsPeerClosed reports whether an error means the remote side is gone
// rather than misbehaving. Connection resets count as a close.
func IsPeerClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset by peer")
}
