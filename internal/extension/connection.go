package extension

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Manager owns at most one live socket to the browser extension and is
// the only component allowed to assign or replace it. Reads — checking
// for a connection, issuing a call — may happen concurrently from any
// number of tool invocations.
type Manager struct {
	log            *zap.Logger
	defaultTimeout time.Duration

	mu      sync.RWMutex
	current *Correlator
}

// NewManager creates a manager with no connection. defaultTimeout
// bounds calls that don't override it.
func NewManager(defaultTimeout time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		log:            log.Named("connection"),
		defaultTimeout: defaultTimeout,
	}
}

// HasConnection reports whether an extension socket is current.
func (m *Manager) HasConnection() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the default per-call timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// Call sends a tagged request to the current connection and awaits the
// correlated reply. With no connection it fails fast with
// ErrNotConnected and performs no write. Transport failures are not
// retried here: retry is a lifecycle concern, not a per-call one.
func (m *Manager) Call(ctx context.Context, messageType string, payload any, opts ...CallOption) (json.RawMessage, error) {
	options := callOptions{timeout: m.defaultTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	m.mu.RLock()
	correlator := m.current
	m.mu.RUnlock()

	if correlator == nil {
		return nil, ErrNotConnected
	}
	return correlator.Call(ctx, messageType, payload, options.timeout)
}

// Accept installs conn as the current connection, enforcing the
// singleton policy: the prior handle is closed first (its close errors
// swallowed, its pending calls failed), then the new one is assigned.
// Both happen under one lock so two near-simultaneous connections can
// never both believe they are current.
func (m *Manager) Accept(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.log.Info("replacing existing extension connection")
		m.current.Close()
	}
	m.current = newCorrelator(conn, m.log)
	m.log.Info("extension connected", zap.String("remote", conn.RemoteAddr().String()))
}

// CloseConnection drops the current connection, if any. Used on
// shutdown and when rebuilding the socket listener.
func (m *Manager) CloseConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}
