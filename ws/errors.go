package ws

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Tyrowin/hubchat/hub"
)

var (
	// ErrLoopRunning is returned by Run when a dispatch loop is already
	// running on the session.
	ErrLoopRunning = errors.New("ws: dispatch loop already running")

	// ErrLoopStopped is the cause carried by LoopClosedError when the
	// handler stopped the loop.
	ErrLoopStopped = errors.New("ws: dispatch loop stopped by handler")

	// ErrSessionClosed is returned by every operation after Close or after
	// a fatal transport, protocol or desynchronization error.
	ErrSessionClosed = errors.New("ws: session closed")
)

// ConnectionError reports a failure to open a session: dial failure,
// upgrade rejected by the server, or handshake rejected.
type ConnectionError struct {
	Endpoint   string
	StatusCode int          // HTTP status of a rejected upgrade, if any
	Code       hub.APIError // server code of a rejected handshake, if any
	Err        error
}

func (e *ConnectionError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("ws: connect %s: handshake rejected: %s", e.Endpoint, string(e.Code))
	case e.StatusCode > 0:
		return fmt.Sprintf("ws: connect %s failed with status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("ws: connect %s: %v", e.Endpoint, e.Err)
	}
}

func (e *ConnectionError) Unwrap() error {
	if e.Err == nil && e.Code != "" {
		return e.Code
	}
	return e.Err
}

// TransportError reports an I/O failure on an open session. It is fatal
// to the session.
type TransportError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ws: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports an inbound frame that could not be decoded. It is
// fatal to the session.
type ProtocolError struct {
	Frame []byte
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ws: protocol: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// DomainError is a server-reported failure of a single command. It is
// returned to the issuer and never stops the dispatch loop.
type DomainError struct {
	Command CommandKind
	Code    hub.APIError
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("ws: %s rejected: %s", e.Command, string(e.Code))
}

func (e *DomainError) Unwrap() error { return e.Code }

// DesyncError reports an acknowledgement that arrived while no command
// was waiting for one. Dropping it would hand the next caller someone
// else's reply, so it is fatal to the session.
type DesyncError struct {
	Frame Frame
}

func (e *DesyncError) Error() string {
	if e.Frame.Kind == FrameError {
		return fmt.Sprintf("ws: unsolicited error acknowledgement %q", string(e.Frame.Code))
	}
	return "ws: unsolicited success acknowledgement"
}

// LoopClosedError is returned to a command that was waiting for its
// acknowledgement when the dispatch loop terminated. Err is the loop's
// terminating error, or ErrLoopStopped if the handler stopped it.
type LoopClosedError struct {
	Err error
}

func (e *LoopClosedError) Error() string {
	return fmt.Sprintf("ws: dispatch loop closed: %v", e.Err)
}

func (e *LoopClosedError) Unwrap() error { return e.Err }
