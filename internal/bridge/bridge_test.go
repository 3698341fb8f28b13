package bridge

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conradkoh/browsermcp/internal/config"
	"github.com/conradkoh/browsermcp/internal/lifecycle"
)

// testConfig binds both servers on ephemeral ports so tests never touch
// the well-known ones.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.WSPort = 0
	cfg.HTTPPort = 0
	cfg.EvictStalePortHolders = false
	return cfg
}

func newTestBridge(t *testing.T, input io.Reader) *Bridge {
	t.Helper()
	b, err := New(testConfig(), input, &bytes.Buffer{}, zap.NewNop())
	require.NoError(t, err)
	return b
}

func TestCreateServerCheckTeardown(t *testing.T) {
	b := newTestBridge(t, strings.NewReader(""))
	ctx := context.Background()

	require.Error(t, b.Check(), "no servers yet")

	require.NoError(t, b.CreateServer(ctx))
	require.NoError(t, b.Check())

	require.NoError(t, b.Teardown(ctx))
	require.Error(t, b.Check(), "teardown removes the listener")
}

func TestCreateServerIsRebuildSafe(t *testing.T) {
	b := newTestBridge(t, strings.NewReader(""))
	ctx := context.Background()

	require.NoError(t, b.CreateServer(ctx))
	// A second CreateServer (the reconnect path) tears down and rebinds
	// rather than fighting itself for the ports.
	require.NoError(t, b.CreateServer(ctx))
	require.NoError(t, b.Check())
	require.NoError(t, b.Teardown(ctx))
}

func TestCheckDetectsDeadListener(t *testing.T) {
	b := newTestBridge(t, strings.NewReader(""))
	ctx := context.Background()

	require.NoError(t, b.CreateServer(ctx))
	require.NoError(t, b.Check())

	// Close the socket listener behind the bridge's back; Check must
	// notice rather than trusting that CreateServer once succeeded.
	b.mu.Lock()
	wsServer := b.wsServer
	b.mu.Unlock()
	require.NoError(t, wsServer.Close(ctx))

	require.Error(t, b.Check())
	require.NoError(t, b.Teardown(ctx))
}

func TestConnectStartsStdioOnce(t *testing.T) {
	// Empty stdin: the session ends immediately and reports on StdioDone.
	b := newTestBridge(t, strings.NewReader(""))
	ctx := context.Background()

	require.NoError(t, b.Connect(ctx))
	require.NoError(t, b.Connect(ctx), "reconnects must not spawn a second session")

	select {
	case err := <-b.StdioDone():
		assert.NoError(t, err, "EOF is a clean session end")
	case <-time.After(2 * time.Second):
		t.Fatal("stdio session never ended")
	}
}

func TestStatusResource(t *testing.T) {
	b := newTestBridge(t, strings.NewReader(""))

	resource, ok := b.Resources().Get("browsermcp://status")
	require.True(t, ok)

	text, err := resource.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, `"state":"UNKNOWN"`, "no machine attached yet")
	assert.Contains(t, text, `"extensionConnected":false`)

	machine := lifecycle.NewMachine(b, lifecycle.Options{}, zap.NewNop())
	b.SetStateReporter(machine)

	text, err = resource.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, `"state":"INITIALIZING"`)
}

func TestExecutorServesListTools(t *testing.T) {
	b := newTestBridge(t, strings.NewReader(""))

	result := b.Executor().Execute(context.Background(), "list_tools", nil)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "browser_navigate")
}
