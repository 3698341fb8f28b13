package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conradkoh/browsermcp/internal/tools"
)

// Forwarder relays tool calls to another instance's front door instead
// of a local tool bridge. A process that detected a healthy running
// bridge uses this as its Executor: it binds neither port itself.
type Forwarder struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// NewForwarder targets the detected instance's front-door base URL.
func NewForwarder(baseURL string, log *zap.Logger) *Forwarder {
	return &Forwarder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log.Named("forwarder"),
	}
}

// invokeResponse mirrors the front door's POST /tool body.
type invokeResponse struct {
	Success bool          `json:"success"`
	Tool    string        `json:"tool,omitempty"`
	Result  *tools.Result `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
	Message string        `json:"message,omitempty"`
}

// catalogResponse mirrors the front door's GET /tools body.
type catalogResponse struct {
	Success bool              `json:"success"`
	Tools   []toolDescription `json:"tools"`
}

// ListTools fetches the detected instance's tool catalog so a
// forwarder-mode server can answer tools/list in the protocol shape.
func (f *Forwarder) ListTools(ctx context.Context) ([]toolDescription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("bridge unreachable", zap.Error(err))
		return nil, fmt.Errorf("could not reach the running browsermcp bridge at %s: %w", f.baseURL, err)
	}
	defer resp.Body.Close()

	var decoded catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("bridge returned unparseable catalog (status %d)", resp.StatusCode)
	}
	if !decoded.Success {
		return nil, fmt.Errorf("bridge refused catalog request (status %d)", resp.StatusCode)
	}
	return decoded.Tools, nil
}

// Execute reissues the call as POST /tool against the detected
// instance and relays the result. A transport failure becomes a
// structured tool error rather than crashing the session.
func (f *Forwarder) Execute(ctx context.Context, name string, args map[string]any) *tools.Result {
	body, err := json.Marshal(map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("encode forwarded call: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/tool", bytes.NewReader(body))
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("build forwarded call: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("bridge unreachable", zap.String("tool", name), zap.Error(err))
		return tools.ErrorResult(fmt.Sprintf(
			"could not reach the running browsermcp bridge at %s: %v", f.baseURL, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("read bridge response: %v", err))
	}

	var decoded invokeResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return tools.ErrorResult(fmt.Sprintf("bridge returned unparseable response (status %d)", resp.StatusCode))
	}

	if !decoded.Success {
		message := decoded.Message
		if message == "" {
			message = decoded.Error
		}
		if message == "" {
			message = fmt.Sprintf("bridge returned status %d", resp.StatusCode)
		}
		return tools.ErrorResult(message)
	}
	if decoded.Result == nil {
		return tools.TextResult("ok")
	}
	return decoded.Result
}
