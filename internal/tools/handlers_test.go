package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitHandlerSleepsAndReports(t *testing.T) {
	start := time.Now()
	result, err := waitHandler(context.Background(), nil, map[string]any{"time": 0.05})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, "Waited for 0.05 seconds", textOf(t, result))
}

func TestWaitHandlerWholeSecondsRenderWithoutDecimals(t *testing.T) {
	// JSON numbers decode as float64; a whole value must still read as
	// "1", not "1.000000".
	result, err := waitHandler(context.Background(), nil, map[string]any{"time": float64(0)})
	require.NoError(t, err)
	assert.Equal(t, "Waited for 0 seconds", textOf(t, result))
}

func TestWaitHandlerRejectsNonNumber(t *testing.T) {
	_, err := waitHandler(context.Background(), nil, map[string]any{"time": "soon"})
	require.Error(t, err)
}

func TestWaitHandlerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := waitHandler(ctx, nil, map[string]any{"time": 5.0})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestScreenshotHandler(t *testing.T) {
	caller := &fakeCaller{connected: true, reply: json.RawMessage(`"aGVsbG8="`)}
	result, err := screenshotHandler(context.Background(), caller, nil)

	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "image", result.Content[0].Type)
	assert.Equal(t, "aGVsbG8=", result.Content[0].Data)
	assert.Equal(t, "image/png", result.Content[0].MimeType)
}

func TestScreenshotHandlerRejectsEmptyReply(t *testing.T) {
	caller := &fakeCaller{connected: true, reply: json.RawMessage(`""`)}
	_, err := screenshotHandler(context.Background(), caller, nil)
	require.Error(t, err)
}

func TestRenderReply(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty reply acknowledges", "", "ok"},
		{"null reply acknowledges", "null", "ok"},
		{"bare string verbatim", `"- heading \"Example\""`, `- heading "Example"`},
		{"object pretty-printed", `{"a":1}`, "{\n  \"a\": 1\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := renderReply(json.RawMessage(tt.raw))
			assert.Equal(t, tt.want, textOf(t, result))
		})
	}
}
