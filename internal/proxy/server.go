// Package proxy is the HTTP front door other local processes use to
// reach a running bridge: liveness, the tool catalog, and tool
// invocation. Localhost only; no auth boundary, so cross-origin
// requests are accepted permissively.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conradkoh/browsermcp/internal/tools"
)

// Executor runs one tool call. Implemented by tools.Bridge.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) *tools.Result
}

// InvalidRequestError reports a malformed invoke request, rejected
// before it reaches the tool bridge.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// Ports reported by the health endpoint.
type Ports struct {
	HTTP int `json:"http"`
	WS   int `json:"ws"`
}

// Server serves health / tools / tool on the front-door port.
type Server struct {
	executor      Executor
	registry      *tools.Registry
	resourceCount int
	ports         Ports
	log           *zap.Logger
	started       time.Time

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// NewServer builds the front door. resourceCount feeds the health
// report alongside the tool count.
func NewServer(ports Ports, executor Executor, registry *tools.Registry, resourceCount int, log *zap.Logger) *Server {
	return &Server{
		executor:      executor,
		registry:      registry,
		resourceCount: resourceCount,
		ports:         ports,
		log:           log.Named("proxy"),
		started:       time.Now(),
	}
}

// Start binds the front-door port and serves until Close.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.ports.HTTP)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind front door %s: %w", addr, err)
	}

	server := &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = server
	s.mu.Unlock()

	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.log.Error("front door stopped", zap.Error(serveErr))
		}
	}()

	s.log.Info("front door listening", zap.String("addr", addr))
	return nil
}

// Handler returns the front-door routes, CORS-wrapped.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/tool", s.handleTool)
	return withCORS(mux)
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the front door.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// handleHealth always succeeds while the process is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptimeSeconds": int(time.Since(s.started).Seconds()),
		"ports":         s.ports,
		"tools":         s.registry.Count(),
		"resources":     s.resourceCount,
	})
}

// handleTools delegates to the registry's catalog.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type entry struct {
		Name        string        `json:"name"`
		Description string        `json:"description"`
		InputSchema *tools.Schema `json:"inputSchema,omitempty"`
	}
	catalog := make([]entry, 0, s.registry.Count())
	for _, tool := range s.registry.All() {
		catalog = append(catalog, entry{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tools":   catalog,
	})
}

// invokeRequest is the POST /tool body. Arguments stays raw so a
// non-object can be rejected explicitly rather than half-decoded.
type invokeRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleTool validates the request, executes the tool, and reports the
// outcome. A tool that ran and failed is a 500 with the failure text;
// malformed input never reaches the bridge.
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.rejectInvoke(w, "body must be JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		s.rejectInvoke(w, "missing tool name")
		return
	}

	args := map[string]any{}
	if len(req.Arguments) > 0 && string(req.Arguments) != "null" {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			s.rejectInvoke(w, "arguments must be an object")
			return
		}
	}

	result := s.executor.Execute(r.Context(), req.Name, args)
	if result.IsError {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "tool execution failed",
			"message": resultText(result),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tool":    req.Name,
		"result":  result,
	})
}

func (s *Server) rejectInvoke(w http.ResponseWriter, reason string) {
	err := &InvalidRequestError{Reason: reason}
	s.log.Debug("rejected invoke", zap.String("reason", reason))
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

func resultText(result *tools.Result) string {
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text
		}
	}
	return "tool returned an error"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withCORS accepts cross-origin requests permissively: this is a local
// tool with no auth boundary.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
