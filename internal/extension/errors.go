package extension

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned by the Manager when no extension socket
// is current. The message is the single user-actionable string shown
// to agents; callers must not attempt a send after seeing it.
var ErrNotConnected = errors.New(
	"no browser connection: open the BrowserMCP extension and click 'Connect' on a tab")

// TimeoutError reports that no response with a matching correlation ID
// arrived within the call budget.
type TimeoutError struct {
	MessageType string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s response after %s", e.MessageType, e.Timeout)
}

// TransportError reports a socket failure: not open at send time, an
// error or close mid-call, or replacement by a newer connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport failure during %s", e.Op)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError reports a failure the extension itself sent back in the
// response envelope.
type RemoteError struct {
	MessageType string
	Message     string
}

func (e *RemoteError) Error() string {
	if e.MessageType == "" {
		return "extension reported error: " + e.Message
	}
	return fmt.Sprintf("%s failed in extension: %s", e.MessageType, e.Message)
}
