// Package mcpserver implements the outward protocol surface: MCP over
// JSON-RPC 2.0 on newline-delimited stdio. Tool calls delegate to the
// local tool bridge, or — when this process is a thin forwarder — to a
// detected instance's HTTP front door.
package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/conradkoh/browsermcp/internal/tools"
)

const serverName = "browsermcp"
const serverVersion = "1.2.0"

// Executor runs one tool call. Implemented by tools.Bridge for the
// active bridge and by Forwarder for a thin-forwarder process.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) *tools.Result
}

// toolLister is implemented by executors that can supply the tool
// catalog themselves. The forwarder implements it by asking the
// detected instance's front door; a registry-less server without it
// has no tools to report.
type toolLister interface {
	ListTools(ctx context.Context) ([]toolDescription, error)
}

// Server processes MCP requests from a reader and writes responses to
// a writer until EOF. Each message occupies a single line.
type Server struct {
	executor    Executor
	registry    *tools.Registry
	resources   *ResourceRegistry
	log         *zap.Logger
	initialized bool
}

// NewServer builds the stdio surface. registry may be nil in
// forwarder mode; tools/list then fetches the catalog through the
// executor's ListTools, if it has one.
func NewServer(executor Executor, registry *tools.Registry, resources *ResourceRegistry, log *zap.Logger) *Server {
	return &Server{
		executor:  executor,
		registry:  registry,
		resources: resources,
		log:       log.Named("mcp"),
	}
}

// Serve runs on os.Stdin/os.Stdout, the entry point for a live session.
func (s *Server) Serve(ctx context.Context) error {
	return s.Run(ctx, os.Stdin, os.Stdout)
}

// Run processes newline-delimited JSON-RPC until input reaches EOF or
// the context is cancelled. Every failure the protocol can express
// becomes a structured response rather than a session-ending crash.
func (s *Server) Run(ctx context.Context, input io.Reader, output io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	// Reads run in their own goroutine so cancellation takes effect
	// even while stdin is idle. A reader still blocked mid-Scan at
	// cancellation is abandoned; the process is exiting anyway.
	go func() {
		scanner := bufio.NewScanner(input)
		// Tool results can be large (snapshots, screenshots).
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	encoder := json.NewEncoder(output)

	for {
		var line []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line = <-lines:
		}
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if writeErr := writeError(encoder, json.RawMessage("null"), codeParseError, "parse error: "+err.Error()); writeErr != nil {
				return fmt.Errorf("writing parse error response: %w", writeErr)
			}
			continue
		}

		if req.JSONRPC != "2.0" {
			if !req.isNotification() {
				if writeErr := writeError(encoder, req.ID, codeInvalidRequest, "unsupported JSON-RPC version"); writeErr != nil {
					return fmt.Errorf("writing version error response: %w", writeErr)
				}
			}
			continue
		}

		if req.isNotification() {
			continue
		}

		if err := s.dispatch(ctx, encoder, &req); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(ctx context.Context, encoder *json.Encoder, req *request) error {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(encoder, req)
	case "ping":
		return writeResult(encoder, req.ID, map[string]any{})
	case "tools/list":
		if !s.initialized {
			return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		}
		return s.handleToolsList(ctx, encoder, req)
	case "tools/call":
		if !s.initialized {
			return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		}
		return s.handleToolsCall(ctx, encoder, req)
	case "resources/list":
		if !s.initialized {
			return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		}
		return s.handleResourcesList(encoder, req)
	case "resources/read":
		if !s.initialized {
			return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		}
		return s.handleResourcesRead(ctx, encoder, req)
	default:
		return writeError(encoder, req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) handleInitialize(encoder *json.Encoder, req *request) error {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return writeError(encoder, req.ID, codeInvalidParams, "invalid initialize params: "+err.Error())
		}
	}

	s.initialized = true
	s.log.Info("session initialized",
		zap.String("client", params.ClientInfo.Name),
		zap.String("clientVersion", params.ClientInfo.Version))

	return writeResult(encoder, req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: serverCapabilities{
			Tools:     &toolCapability{},
			Resources: &resourceCapability{},
		},
		ServerInfo: serverInfo{Name: serverName, Version: serverVersion},
	})
}

func (s *Server) handleToolsList(ctx context.Context, encoder *json.Encoder, req *request) error {
	if s.registry == nil {
		// Forwarder mode: the catalog lives in the remote instance and
		// must still come back in the protocol's {"tools":[...]} shape.
		lister, ok := s.executor.(toolLister)
		if !ok {
			return writeResult(encoder, req.ID, toolsListResult{Tools: []toolDescription{}})
		}
		descriptions, err := lister.ListTools(ctx)
		if err != nil {
			return writeError(encoder, req.ID, codeInternalError, "list tools: "+err.Error())
		}
		return writeResult(encoder, req.ID, toolsListResult{Tools: descriptions})
	}

	descriptions := make([]toolDescription, 0, s.registry.Count())
	for _, tool := range s.registry.All() {
		descriptions = append(descriptions, toolDescription{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return writeResult(encoder, req.ID, toolsListResult{Tools: descriptions})
}

func (s *Server) handleToolsCall(ctx context.Context, encoder *json.Encoder, req *request) error {
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for tools/call")
	}

	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	if params.Name == "" {
		return writeError(encoder, req.ID, codeInvalidParams, "tool name required")
	}

	args := map[string]any{}
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return writeError(encoder, req.ID, codeInvalidParams, "arguments must be an object")
		}
	}

	result := s.executor.Execute(ctx, params.Name, args)
	return writeResult(encoder, req.ID, result)
}

func (s *Server) handleResourcesList(encoder *json.Encoder, req *request) error {
	descriptions := make([]resourceDescription, 0)
	if s.resources != nil {
		for _, resource := range s.resources.All() {
			descriptions = append(descriptions, resourceDescription{
				URI:         resource.URI,
				Name:        resource.Name,
				Description: resource.Description,
				MimeType:    resource.MimeType,
			})
		}
	}
	return writeResult(encoder, req.ID, resourcesListResult{Resources: descriptions})
}

func (s *Server) handleResourcesRead(ctx context.Context, encoder *json.Encoder, req *request) error {
	var params resourcesReadParams
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for resources/read")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid resources/read params: "+err.Error())
	}

	if s.resources == nil {
		return writeError(encoder, req.ID, codeInvalidParams, "unknown resource: "+params.URI)
	}
	resource, ok := s.resources.Get(params.URI)
	if !ok {
		return writeError(encoder, req.ID, codeInvalidParams, "unknown resource: "+params.URI)
	}

	text, err := resource.Read(ctx)
	if err != nil {
		return writeError(encoder, req.ID, codeInternalError, "read resource: "+err.Error())
	}
	return writeResult(encoder, req.ID, resourcesReadResult{
		Contents: []resourceContents{{
			URI:      resource.URI,
			MimeType: resource.MimeType,
			Text:     text,
		}},
	})
}

func writeResult(encoder *json.Encoder, id json.RawMessage, result any) error {
	return encoder.Encode(response{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(encoder *json.Encoder, id json.RawMessage, code int, message string) error {
	return encoder.Encode(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}
