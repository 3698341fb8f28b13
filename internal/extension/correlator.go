package extension

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// messageResponseType is the reserved inbound envelope type carrying a
// correlated response. Inbound messages of any other type are ignored
// at this layer.
const messageResponseType = "messageResponse"

// envelope is the outbound wire format to the extension.
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// responsePayload is the body of a messageResponse envelope.
type responsePayload struct {
	RequestID string          `json:"requestId"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload responsePayload `json:"payload"`
}

type callOutcome struct {
	result json.RawMessage
	err    error
}

// pendingCall is one in-flight request awaiting its correlated
// response. It is removed from the pending set by exactly one of:
// matching response, timeout, socket close, socket error.
type pendingCall struct {
	id        string
	createdAt time.Time
	done      chan callOutcome
	timer     *time.Timer
}

// Correlator wraps one websocket to the extension, matching responses
// to requests by correlation ID. Concurrent in-flight calls on the one
// socket may complete in any order.
type Correlator struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex // serializes writes to conn

	mu       sync.Mutex
	pending  map[string]*pendingCall
	closed   bool
	closeErr error

	done chan struct{}
}

// newCorrelator wraps conn and starts the read loop. The caller owns
// the correlator's lifetime and must call Close to release the socket.
func newCorrelator(conn *websocket.Conn, log *zap.Logger) *Correlator {
	c := &Correlator{
		conn:    conn,
		log:     log,
		pending: make(map[string]*pendingCall),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends an envelope and waits for the correlated response, the
// timeout, or a transport failure, whichever fires first. Cleanup of
// the pending entry runs exactly once regardless of the exit path.
func (c *Correlator) Call(ctx context.Context, messageType string, payload any, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.NewString()

	pending := &pendingCall{
		id:        id,
		createdAt: time.Now(),
		done:      make(chan callOutcome, 1),
	}

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, &TransportError{Op: "send " + messageType, Err: err}
	}
	c.pending[id] = pending
	pending.timer = time.AfterFunc(timeout, func() {
		c.settle(id, callOutcome{err: &TimeoutError{MessageType: messageType, Timeout: timeout}})
	})
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(envelope{ID: id, Type: messageType, Payload: payload})
	c.writeMu.Unlock()
	if err != nil {
		c.settle(id, callOutcome{err: &TransportError{Op: "send " + messageType, Err: err}})
	}

	select {
	case outcome := <-pending.done:
		return outcome.result, outcome.err
	case <-ctx.Done():
		c.settle(id, callOutcome{err: ctx.Err()})
		outcome := <-pending.done
		return outcome.result, outcome.err
	}
}

// settle removes the pending entry for id and delivers the outcome.
// Removal is idempotent: only the first caller delivers, later calls
// for the same id are no-ops (covers late responses after a timeout).
func (c *Correlator) settle(id string, outcome callOutcome) {
	c.mu.Lock()
	pending, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	pending.timer.Stop()
	pending.done <- outcome
}

// readLoop pumps inbound messages until the socket errors or closes,
// then fails every remaining pending call with a transport error.
func (c *Correlator) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeWith(&TransportError{Op: "read", Err: err})
			return
		}

		var inbound inboundEnvelope
		if err := json.Unmarshal(data, &inbound); err != nil {
			c.log.Debug("discarding unparseable message from extension", zap.Error(err))
			continue
		}
		if inbound.Type != messageResponseType {
			c.log.Debug("ignoring non-response message", zap.String("type", inbound.Type))
			continue
		}

		outcome := callOutcome{result: inbound.Payload.Result}
		if inbound.Payload.Error != "" {
			outcome = callOutcome{err: &RemoteError{Message: inbound.Payload.Error}}
		}
		c.settle(inbound.Payload.RequestID, outcome)
	}
}

// closeWith marks the correlator closed and fails all pending calls.
// Safe to call from both the read loop and Close.
func (c *Correlator) closeWith(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	drained := make([]*pendingCall, 0, len(c.pending))
	for id, pending := range c.pending {
		delete(c.pending, id)
		drained = append(drained, pending)
	}
	c.mu.Unlock()

	for _, pending := range drained {
		pending.timer.Stop()
		pending.done <- callOutcome{err: cause}
	}
	close(c.done)
	_ = c.conn.Close()
}

// Close tears down the socket. Pending calls fail with a transport
// error before Close returns, so no caller is left awaiting a handle
// that can never respond.
func (c *Correlator) Close() {
	c.closeWith(&TransportError{Op: "call", Err: errConnectionClosed})
}

// Done is closed once the correlator has shut down.
func (c *Correlator) Done() <-chan struct{} { return c.done }

var errConnectionClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "connection closed" }
