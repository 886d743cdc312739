package wsrooms

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrConstruction is returned by Dial and NewConn when no connection can
	// be produced: no transport, or a malformed URL.
	ErrConstruction = errors.New("cannot construct connection")

	// ErrInvalidArgument is returned for an empty event name, or an empty or
	// reserved room name.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotOpen is returned by Join before the root connection is open.
	ErrNotOpen = errors.New("root connection is not open")

	// ErrClosed is returned when the connection has been closed.
	ErrClosed = errors.New("connection closed")

	// ErrRoomClosed is returned when sending on a room that has been left.
	ErrRoomClosed = errors.New("room closed")

	// ErrProtocolViolation is wrapped by ProtocolError.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrJoinTimedOut is wrapped by JoinTimeoutError.
	ErrJoinTimedOut = errors.New("join timed out")
)

// ProtocolError describes an inbound frame that could not be routed.
// The frame is dropped; the connection stays up.
type ProtocolError struct {
	Room   string
	Event  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %s (room %q, event %q)", e.Reason, e.Room, e.Event)
}

// Unwrap returns ErrProtocolViolation.
func (e *ProtocolError) Unwrap() error {
	return ErrProtocolViolation
}

// JoinTimeoutError is emitted on a room's "error" event when its join
// response did not arrive within Config.JoinTimeout.
type JoinTimeoutError struct {
	Room    string
	Timeout time.Duration
}

func (e *JoinTimeoutError) Error() string {
	return fmt.Sprintf("join %q: no response after %s", e.Room, e.Timeout)
}

// Unwrap returns ErrJoinTimedOut.
func (e *JoinTimeoutError) Unwrap() error {
	return ErrJoinTimedOut
}
