package extension

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Evictor frees a port held by a stale process. Best-effort and
// time-bounded; it must never target the current process.
type Evictor func(ctx context.Context, port int) error

// Server is the socket listener the browser extension connects to. It
// binds the well-known port (clearing stale holders first) and hands
// every accepted websocket to the Manager, which enforces the
// singleton-connection policy.
type Server struct {
	port    int
	manager *Manager
	evict   Evictor
	log     *zap.Logger

	upgrader websocket.Upgrader

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a socket listener for the given port. evict may be
// nil to disable stale-holder eviction.
func NewServer(port int, manager *Manager, evict Evictor, log *zap.Logger) *Server {
	return &Server{
		port:    port,
		manager: manager,
		evict:   evict,
		log:     log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The extension connects from a chrome-extension:// origin;
			// direct local clients send no origin at all.
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || strings.HasPrefix(origin, "chrome-extension://")
			},
		},
	}
}

// Start binds the port and begins accepting extension connections. If
// the port is held, the stale holder is evicted and the bind retried
// once before giving up.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if s.evict == nil {
			return fmt.Errorf("bind %s: %w", addr, err)
		}
		s.log.Warn("port busy, evicting stale holder", zap.Int("port", s.port), zap.Error(err))
		if evictErr := s.evict(ctx, s.port); evictErr != nil {
			return fmt.Errorf("bind %s: %w", addr, evictErr)
		}
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("bind %s after eviction: %w", addr, err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	server := &http.Server{Handler: mux}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = server
	s.mu.Unlock()

	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.log.Error("socket listener stopped", zap.Error(serveErr))
		}
	}()

	s.log.Info("listening for extension", zap.String("addr", addr))
	return nil
}

// handleWS upgrades an inbound connection and installs it as the
// current extension socket. The assignment happens synchronously in
// the accept path — no suspension between upgrade and Accept — so a
// second connection arriving immediately after cannot race the first.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.manager.Accept(conn)
}

// Ping verifies the listener still accepts connections, by dialing it.
// Serve errors are only logged by the background goroutine; this is how
// the lifecycle check observes a listener that died underneath the
// server.
func (s *Server) Ping(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("listener not started")
	}

	dialer := net.Dialer{Timeout: time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", listener.Addr().String())
	if err != nil {
		return fmt.Errorf("listener unreachable: %w", err)
	}
	return conn.Close()
}

// Addr returns the bound listener address, or "" before Start.
// Useful when the server was started on port 0 in tests.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting connections. The active extension socket is
// owned by the Manager and is closed separately.
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
