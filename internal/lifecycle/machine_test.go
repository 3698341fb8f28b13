package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeController scripts the bridge's behavior per phase and counts
// every call.
type fakeController struct {
	createErr  func(attempt int64) error
	connectErr func(attempt int64) error
	checkErr   func(attempt int64) error
	teardown   func() error

	creates   atomic.Int64
	connects  atomic.Int64
	checks    atomic.Int64
	teardowns atomic.Int64
}

func (f *fakeController) CreateServer(context.Context) error {
	n := f.creates.Add(1)
	if f.createErr != nil {
		return f.createErr(n)
	}
	return nil
}

func (f *fakeController) Connect(context.Context) error {
	n := f.connects.Add(1)
	if f.connectErr != nil {
		return f.connectErr(n)
	}
	return nil
}

func (f *fakeController) Check() error {
	n := f.checks.Add(1)
	if f.checkErr != nil {
		return f.checkErr(n)
	}
	return nil
}

func (f *fakeController) Teardown(context.Context) error {
	f.teardowns.Add(1)
	if f.teardown != nil {
		return f.teardown()
	}
	return nil
}

func fastOptions() Options {
	return Options{
		MaxRetries:         2,
		RetryDelay:         time.Millisecond,
		ShutdownTimeout:    time.Second,
		StateCheckInterval: 5 * time.Millisecond,
		HistoryLimit:       100,
	}
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("machine never reached %s (currently %s)", want, m.State())
}

func TestRunReachesConnectedThenShutsDownCleanly(t *testing.T) {
	fc := &fakeController{}
	m := NewMachine(fc, fastOptions(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitForState(t, m, StateConnected)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, StateShutdown, m.State())
	assert.EqualValues(t, 1, fc.creates.Load())
	assert.EqualValues(t, 1, fc.connects.Load())
	assert.GreaterOrEqual(t, fc.teardowns.Load(), int64(1))

	// The happy path walks the documented sequence.
	var states []State
	for _, tr := range m.History() {
		states = append(states, tr.To)
	}
	assert.Equal(t, []State{
		StateCreatingServer, StateConnecting, StateConnected,
		StateShuttingDown, StateShutdown,
	}, states)
}

func TestRunFailsAfterExhaustingCreateRetries(t *testing.T) {
	bindErr := errors.New("bind 127.0.0.1:9009: address in use")
	fc := &fakeController{
		createErr: func(int64) error { return bindErr },
	}
	m := NewMachine(fc, fastOptions(), zap.NewNop())

	err := m.Run(context.Background())

	require.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, StateFailed, m.State())
	// maxRetries=2 allows exactly 3 attempts: initial plus two retries.
	assert.EqualValues(t, 3, fc.creates.Load())
	assert.GreaterOrEqual(t, fc.teardowns.Load(), int64(1), "failure still cleans up")
}

func TestRunRecoversWhenRetrySucceeds(t *testing.T) {
	fc := &fakeController{
		createErr: func(attempt int64) error {
			if attempt == 1 {
				return errors.New("transient bind failure")
			}
			return nil
		},
	}
	m := NewMachine(fc, fastOptions(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitForState(t, m, StateConnected)
	assert.Equal(t, 0, m.Retries(), "reaching CONNECTED resets the budget")
	cancel()
	require.NoError(t, <-done)

	sawRetry := false
	for _, tr := range m.History() {
		if tr.To == StateRetryingServerCreate {
			sawRetry = true
		}
	}
	assert.True(t, sawRetry)
}

func TestConnectFailureRetriesThenSucceeds(t *testing.T) {
	fc := &fakeController{
		connectErr: func(attempt int64) error {
			if attempt == 1 {
				return errors.New("stdio not ready")
			}
			return nil
		},
	}
	m := NewMachine(fc, fastOptions(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitForState(t, m, StateConnected)
	cancel()
	require.NoError(t, <-done)

	sawRetry := false
	for _, tr := range m.History() {
		if tr.To == StateRetryingConnection {
			sawRetry = true
		}
	}
	assert.True(t, sawRetry)
	assert.EqualValues(t, 2, fc.connects.Load())
}

func TestConnectRetriesExhaustedTriggersRestart(t *testing.T) {
	var restarted atomic.Bool
	fc := &fakeController{
		connectErr: func(attempt int64) error {
			// Fail until the machine has done a full rebuild.
			if restarted.Load() {
				return nil
			}
			return errors.New("stdio not ready")
		},
	}
	fc.teardown = func() error {
		restarted.Store(true)
		return nil
	}
	m := NewMachine(fc, fastOptions(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitForState(t, m, StateConnected)
	cancel()
	require.NoError(t, <-done)

	sawRestart := false
	for _, tr := range m.History() {
		if tr.To == StateRestarting {
			sawRestart = true
		}
	}
	assert.True(t, sawRestart, "exhausted connection retries rebuild rather than fail")
	assert.GreaterOrEqual(t, fc.creates.Load(), int64(2))
}

func TestDegradationTriggersReconnectWithFreshBudget(t *testing.T) {
	fc := &fakeController{
		checkErr: func(attempt int64) error {
			if attempt == 1 {
				return errors.New("socket listener is gone")
			}
			return nil
		},
	}
	m := NewMachine(fc, fastOptions(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Wait until the rebuild has happened and the machine is connected
	// again.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fc.creates.Load() >= 2 && m.State() == StateConnected {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, fc.creates.Load(), int64(2), "degradation must rebuild the server")
	assert.Equal(t, 0, m.Retries())

	cancel()
	require.NoError(t, <-done)

	sawReconnect := false
	for _, tr := range m.History() {
		if tr.To == StateReconnecting {
			sawReconnect = true
		}
	}
	assert.True(t, sawReconnect)
}

func TestShutdownSurfacesCleanupError(t *testing.T) {
	cleanupErr := errors.New("front door refused to close")
	fc := &fakeController{teardown: func() error { return cleanupErr }}
	m := NewMachine(fc, fastOptions(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitForState(t, m, StateConnected)
	cancel()

	err := <-done
	require.ErrorIs(t, err, cleanupErr)
	assert.Equal(t, StateShutdown, m.State(), "cleanup errors still land in SHUTDOWN")
}

func TestHistoryIsCapped(t *testing.T) {
	opts := fastOptions()
	opts.MaxRetries = 20
	opts.HistoryLimit = 5

	fc := &fakeController{
		createErr: func(int64) error { return errors.New("always fails") },
	}
	m := NewMachine(fc, opts, zap.NewNop())

	err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrFailed)

	history := m.History()
	assert.Len(t, history, 5)
	assert.Equal(t, StateFailed, history[len(history)-1].To)
}

func TestEdgeTable(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{StateInitializing, StateCreatingServer, true},
		{StateCreatingServer, StateConnecting, true},
		{StateCreatingServer, StateRetryingServerCreate, true},
		{StateConnecting, StateConnected, true},
		{StateConnected, StateReconnecting, true},
		{StateRetryingConnection, StateRestarting, true},
		{StateConnected, StateShuttingDown, true},  // implicit edge
		{StateConnecting, StateShuttingDown, true}, // implicit edge
		{StateShutdown, StateShuttingDown, false},  // terminal states stay terminal
		{StateFailed, StateCreatingServer, false},
		{StateInitializing, StateConnected, false},
	}
	for _, tt := range tests {
		if got := edgeAllowed(tt.from, tt.to); got != tt.allowed {
			t.Errorf("edgeAllowed(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StateShutdown.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateConnected.IsTerminal())
	assert.False(t, StateShuttingDown.IsTerminal())
}
