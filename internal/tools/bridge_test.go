package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conradkoh/browsermcp/internal/extension"
)

// fakeCaller scripts the extension connection: it records every wire
// call and replies with a canned result or error.
type fakeCaller struct {
	connected bool
	reply     json.RawMessage
	err       error

	calls []recordedCall
}

type recordedCall struct {
	messageType string
	payload     any
}

func (f *fakeCaller) HasConnection() bool { return f.connected }

func (f *fakeCaller) Call(_ context.Context, messageType string, payload any, _ ...extension.CallOption) (json.RawMessage, error) {
	f.calls = append(f.calls, recordedCall{messageType: messageType, payload: payload})
	return f.reply, f.err
}

func newTestBridge(t *testing.T, caller Caller, extra ...*Tool) *Bridge {
	t.Helper()
	registry, err := NewRegistry(append(DefaultTools(), extra...)...)
	require.NoError(t, err)
	return NewBridge(registry, caller, zap.NewNop())
}

func textOf(t *testing.T, result *Result) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return result.Content[0].Text
}

func TestExecutePassThrough(t *testing.T) {
	caller := &fakeCaller{connected: true, reply: json.RawMessage(`"done"`)}
	b := newTestBridge(t, caller)

	result := b.Execute(context.Background(), "browser_navigate", map[string]any{"url": "https://example.com"})

	require.False(t, result.IsError)
	assert.Equal(t, "done", textOf(t, result))
	require.Len(t, caller.calls, 1)
	assert.Equal(t, "browser_navigate", caller.calls[0].messageType)
}

func TestExecuteAliasUsesCanonicalMessageType(t *testing.T) {
	for _, spelling := range []string{"navigate", "browser_browser_navigate", "browsermcp_browser_navigate"} {
		caller := &fakeCaller{connected: true, reply: json.RawMessage(`"done"`)}
		b := newTestBridge(t, caller)

		result := b.Execute(context.Background(), spelling, map[string]any{"url": "https://example.com"})

		require.False(t, result.IsError, "spelling %q", spelling)
		require.Len(t, caller.calls, 1)
		assert.Equal(t, "browser_navigate", caller.calls[0].messageType,
			"spelling %q must map to the canonical wire type", spelling)
	}
}

func TestExecuteUnknownToolListsKnownNames(t *testing.T) {
	caller := &fakeCaller{connected: true}
	b := newTestBridge(t, caller)

	result := b.Execute(context.Background(), "browser_teleport", nil)

	require.True(t, result.IsError)
	text := textOf(t, result)
	assert.Contains(t, text, "browser_teleport")
	assert.Contains(t, text, "browser_navigate", "known names must be listed")
	assert.Empty(t, caller.calls, "unknown names never reach the wire")
}

func TestExecuteRejectsInvalidArguments(t *testing.T) {
	caller := &fakeCaller{connected: true}
	b := newTestBridge(t, caller)

	result := b.Execute(context.Background(), "browser_navigate", map[string]any{})

	require.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "url")
	assert.Empty(t, caller.calls, "invalid arguments never reach the wire")
}

func TestExecuteNotConnectedBecomesStructuredError(t *testing.T) {
	caller := &fakeCaller{connected: false, err: extension.ErrNotConnected}
	b := newTestBridge(t, caller)

	result := b.Execute(context.Background(), "browser_snapshot", nil)

	require.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "no browser connection")
}

func TestExecuteRecoversHandlerPanic(t *testing.T) {
	panicking := &Tool{
		Name:        "browser_explode",
		Description: "always panics",
		Handler: func(context.Context, Caller, map[string]any) (*Result, error) {
			panic("boom")
		},
	}
	b := newTestBridge(t, &fakeCaller{}, panicking)

	result := b.Execute(context.Background(), "browser_explode", nil)

	require.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "handler panic")
	assert.Contains(t, textOf(t, result), "boom")
}

func TestExecuteListToolsMeta(t *testing.T) {
	caller := &fakeCaller{}
	b := newTestBridge(t, caller)

	result := b.Execute(context.Background(), ListToolsName, nil)

	require.False(t, result.IsError)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &entries))
	assert.Len(t, entries, 13)
	assert.Empty(t, caller.calls, "the catalog never touches the connection")
}

func TestHandlerErrorWrapsToolName(t *testing.T) {
	caller := &fakeCaller{connected: true, err: errors.New("socket write failed")}
	b := newTestBridge(t, caller)

	result := b.Execute(context.Background(), "browser_go_back", nil)

	require.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "browser_go_back")
	assert.Contains(t, textOf(t, result), "socket write failed")
}
