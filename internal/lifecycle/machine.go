package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Controller is the bridge the machine drives. CreateServer builds the
// socket listener and front door; Connect attaches the outward
// protocol transport; Check reports an error once the connected bridge
// has degraded; Teardown is best-effort cleanup used on reconnect,
// restart, and shutdown.
type Controller interface {
	CreateServer(ctx context.Context) error
	Connect(ctx context.Context) error
	Check() error
	Teardown(ctx context.Context) error
}

// Options tune the machine. Zero values fall back to the documented
// defaults (3 retries, 5s delay, 15s shutdown cap, 5s check interval,
// 100 history entries).
type Options struct {
	MaxRetries         int
	RetryDelay         time.Duration
	ShutdownTimeout    time.Duration
	StateCheckInterval time.Duration
	HistoryLimit       int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 15 * time.Second
	}
	if o.StateCheckInterval == 0 {
		o.StateCheckInterval = 5 * time.Second
	}
	if o.HistoryLimit == 0 {
		o.HistoryLimit = 100
	}
	return o
}

// ErrFailed is returned by Run when the machine reaches FAILED after
// exhausting its retry budget. Not recoverable in-process.
var ErrFailed = errors.New("bridge failed after exhausting retries")

// Machine runs the lifecycle loop. One machine drives one bridge for
// the life of the process.
type Machine struct {
	controller Controller
	opts       Options
	log        *zap.Logger

	mu      sync.Mutex
	state   State
	history []Transition
	retries int
}

// NewMachine creates a machine in INITIALIZING.
func NewMachine(controller Controller, opts Options, log *zap.Logger) *Machine {
	return &Machine{
		controller: controller,
		opts:       opts.withDefaults(),
		log:        log.Named("lifecycle"),
		state:      StateInitializing,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the recorded transitions, oldest first.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// transition moves to next, recording and logging the edge. Transitions
// outside the table are logged at warn level but still taken.
func (m *Machine) transition(next State, note string) {
	m.mu.Lock()
	prior := m.state
	m.state = next
	m.history = append(m.history, Transition{From: prior, To: next, At: time.Now(), Note: note})
	if len(m.history) > m.opts.HistoryLimit {
		m.history = m.history[len(m.history)-m.opts.HistoryLimit:]
	}
	retries := m.retries
	m.mu.Unlock()

	fields := []zap.Field{
		zap.String("from", string(prior)),
		zap.String("to", string(next)),
		zap.Int("retries", retries),
	}
	if note != "" {
		fields = append(fields, zap.String("note", note))
	}
	if !edgeAllowed(prior, next) {
		m.log.Warn("transition outside the defined edge table", fields...)
		return
	}
	m.log.Info("state transition", fields...)
}

// Run drives the machine until a terminal state. A cancelled context is
// the shutdown signal: the machine moves to SHUTTING_DOWN from any
// non-terminal state and performs bounded-time cleanup. Run returns nil
// on clean shutdown, the cleanup error on a dirty one, and ErrFailed
// from FAILED.
func (m *Machine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil && !m.State().IsTerminal() {
			return m.shutdown()
		}

		switch m.State() {
		case StateInitializing:
			m.transition(StateCreatingServer, "")

		case StateCreatingServer:
			if err := m.controller.CreateServer(ctx); err != nil {
				if m.budgetExhausted() {
					return m.fail(fmt.Sprintf("server creation: %v", err))
				}
				m.bumpRetries()
				m.transition(StateRetryingServerCreate, err.Error())
				continue
			}
			m.transition(StateConnecting, "")

		case StateRetryingServerCreate:
			if !m.sleep(ctx) {
				continue // cancelled; top of loop handles shutdown
			}
			m.transition(StateCreatingServer, "")

		case StateConnecting:
			if err := m.controller.Connect(ctx); err != nil {
				m.transition(StateRetryingConnection, err.Error())
				continue
			}
			m.resetRetries()
			m.transition(StateConnected, "")

		case StateRetryingConnection:
			// The server itself is known-good here, so exhausting the
			// budget rebuilds rather than fails.
			if m.budgetExhausted() {
				m.transition(StateRestarting, "connection retries exhausted")
				continue
			}
			m.bumpRetries()
			if !m.sleep(ctx) {
				continue
			}
			m.transition(StateConnecting, "")

		case StateConnected:
			if err := m.watchConnected(ctx); err != nil {
				// A fresh problem gets a fresh retry budget.
				m.resetRetries()
				m.transition(StateReconnecting, err.Error())
				continue
			}
			// Context cancelled; loop top drives shutdown.

		case StateReconnecting:
			m.teardownQuietly(ctx)
			m.transition(StateCreatingServer, "rebuilding after connection loss")

		case StateRestarting:
			m.teardownQuietly(ctx)
			m.resetRetries()
			m.transition(StateCreatingServer, "full rebuild")

		case StateShuttingDown, StateShutdown:
			return nil

		case StateFailed:
			return ErrFailed
		}
	}
}

// watchConnected holds the steady state, polling for degradation on a
// coarse interval rather than a tight loop. Returns the degradation
// error, or nil when the context was cancelled.
func (m *Machine) watchConnected(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.StateCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.controller.Check(); err != nil {
				return err
			}
		}
	}
}

// shutdown performs bounded-time cleanup and lands in SHUTDOWN.
// Cleanup errors still reach SHUTDOWN; they surface in the return.
func (m *Machine) shutdown() error {
	m.transition(StateShuttingDown, "termination signal")

	cleanupCtx, cancel := context.WithTimeout(context.Background(), m.opts.ShutdownTimeout)
	defer cancel()

	err := m.controller.Teardown(cleanupCtx)
	if err != nil {
		m.transition(StateShutdown, fmt.Sprintf("cleanup error: %v", err))
		return fmt.Errorf("shutdown cleanup: %w", err)
	}
	m.transition(StateShutdown, "")
	return nil
}

// fail does best-effort cleanup and lands in FAILED.
func (m *Machine) fail(note string) error {
	m.transition(StateFailed, note)
	cleanupCtx, cancel := context.WithTimeout(context.Background(), m.opts.ShutdownTimeout)
	defer cancel()
	m.teardownQuietly(cleanupCtx)
	return ErrFailed
}

func (m *Machine) teardownQuietly(ctx context.Context) {
	if err := m.controller.Teardown(ctx); err != nil {
		m.log.Warn("teardown error", zap.Error(err))
	}
}

// sleep waits out the retry delay. Returns false if the context was
// cancelled first.
func (m *Machine) sleep(ctx context.Context) bool {
	timer := time.NewTimer(m.opts.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Machine) budgetExhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries >= m.opts.MaxRetries
}

func (m *Machine) bumpRetries() {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

func (m *Machine) resetRetries() {
	m.mu.Lock()
	m.retries = 0
	m.mu.Unlock()
}

// Retries returns the current retry counter, for diagnostics.
func (m *Machine) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}
