// Package bridge composes the active-bridge stack — socket listener,
// connection manager, tool bridge, front door, stdio surface — and
// exposes it to the lifecycle machine as a Controller.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conradkoh/browsermcp/internal/config"
	"github.com/conradkoh/browsermcp/internal/extension"
	"github.com/conradkoh/browsermcp/internal/lifecycle"
	"github.com/conradkoh/browsermcp/internal/mcpserver"
	"github.com/conradkoh/browsermcp/internal/ports"
	"github.com/conradkoh/browsermcp/internal/proxy"
	"github.com/conradkoh/browsermcp/internal/tools"
)

// Bridge owns the full active-bridge stack. The lifecycle machine
// calls CreateServer / Connect / Check / Teardown; everything else is
// wiring built once in New.
type Bridge struct {
	cfg *config.Config
	log *zap.Logger

	manager    *extension.Manager
	registry   *tools.Registry
	toolBridge *tools.Bridge
	resources  *mcpserver.ResourceRegistry

	input  io.Reader
	output io.Writer

	mu        sync.Mutex
	wsServer  *extension.Server
	frontDoor *proxy.Server
	stdio     *mcpserver.Server
	stdioErr  chan error
	machine   StateReporter
}

// StateReporter is the slice of the lifecycle machine the status
// resource needs.
type StateReporter interface {
	State() lifecycle.State
}

// New assembles the stack. input/output carry the MCP stdio session
// (os.Stdin/os.Stdout in production).
func New(cfg *config.Config, input io.Reader, output io.Writer, log *zap.Logger) (*Bridge, error) {
	manager := extension.NewManager(cfg.CallTimeout(), log)

	registry, err := tools.NewRegistry(tools.DefaultTools()...)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	b := &Bridge{
		cfg:      cfg,
		log:      log.Named("bridge"),
		manager:  manager,
		registry: registry,
		input:    input,
		output:   output,
		stdioErr: make(chan error, 1),
	}
	b.toolBridge = tools.NewBridge(registry, manager, log)

	resources, err := mcpserver.NewResourceRegistry(b.statusResource())
	if err != nil {
		return nil, fmt.Errorf("build resource registry: %w", err)
	}
	b.resources = resources

	return b, nil
}

// Manager exposes the connection manager, for status reporting.
func (b *Bridge) Manager() *extension.Manager { return b.manager }

// Registry exposes the tool registry.
func (b *Bridge) Registry() *tools.Registry { return b.registry }

// Executor exposes the tool bridge as an executor.
func (b *Bridge) Executor() *tools.Bridge { return b.toolBridge }

// Resources exposes the resource registry.
func (b *Bridge) Resources() *mcpserver.ResourceRegistry { return b.resources }

// CreateServer binds the extension socket listener and the front door.
// Called by the lifecycle machine, including on every rebuild.
func (b *Bridge) CreateServer(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsServer != nil || b.frontDoor != nil {
		b.teardownServersLocked(ctx)
	}

	var evict extension.Evictor
	if b.cfg.EvictStalePortHolders {
		evict = func(ctx context.Context, port int) error {
			return ports.Evict(ctx, port, b.log)
		}
	}

	wsServer := extension.NewServer(b.cfg.WSPort, b.manager, evict, b.log)
	if err := wsServer.Start(ctx); err != nil {
		return err
	}

	frontDoor := proxy.NewServer(
		proxy.Ports{HTTP: b.cfg.HTTPPort, WS: b.cfg.WSPort},
		b.toolBridge, b.registry, b.resources.Count(), b.log)
	if err := frontDoor.Start(ctx); err != nil {
		closeErr := wsServer.Close(ctx)
		if closeErr != nil {
			b.log.Warn("closing socket listener after front door failure", zap.Error(closeErr))
		}
		return err
	}

	b.wsServer = wsServer
	b.frontDoor = frontDoor
	return nil
}

// Connect attaches the outward stdio transport. The stdio session
// survives socket rebuilds, so on reconnect this is a no-op.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stdio != nil {
		return nil
	}

	server := mcpserver.NewServer(b.toolBridge, b.registry, b.resources, b.log)
	go func() {
		b.stdioErr <- server.Run(ctx, b.input, b.output)
	}()

	b.stdio = server
	return nil
}

// StdioDone reports when the stdio session has ended (client EOF).
// The caller treats that as a shutdown signal for the whole process.
func (b *Bridge) StdioDone() <-chan error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stdioErr
}

// Check reports a degradation error while the machine is CONNECTED.
// A dead socket listener is degradation; a missing extension
// connection is not — the extension comes and goes freely. The probe
// dials the listener rather than trusting that Start once succeeded.
func (b *Bridge) Check() error {
	b.mu.Lock()
	wsServer := b.wsServer
	b.mu.Unlock()

	if wsServer == nil {
		return errors.New("socket listener is gone")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wsServer.Ping(ctx); err != nil {
		return fmt.Errorf("socket listener unhealthy: %w", err)
	}
	return nil
}

// Teardown closes the servers and the active extension connection.
// Used on reconnect, restart, and shutdown; best-effort throughout.
func (b *Bridge) Teardown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.teardownServersLocked(ctx)
}

func (b *Bridge) teardownServersLocked(ctx context.Context) error {
	var firstErr error

	if b.frontDoor != nil {
		if err := b.frontDoor.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close front door: %w", err)
		}
		b.frontDoor = nil
	}
	if b.wsServer != nil {
		if err := b.wsServer.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close socket listener: %w", err)
		}
		b.wsServer = nil
	}
	b.manager.CloseConnection()
	return firstErr
}

// SetStateReporter lets the status resource include the lifecycle
// state once the machine exists (the machine is built after the
// bridge, so this closes the loop).
func (b *Bridge) SetStateReporter(reporter StateReporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.machine = reporter
}

// statusResource reports the bridge's current state as JSON.
func (b *Bridge) statusResource() *mcpserver.Resource {
	return &mcpserver.Resource{
		URI:         "browsermcp://status",
		Name:        "Bridge status",
		Description: "Lifecycle state, extension connection flag, and configured ports",
		MimeType:    "application/json",
		Read: func(ctx context.Context) (string, error) {
			b.mu.Lock()
			machine := b.machine
			b.mu.Unlock()

			state := "UNKNOWN"
			if machine != nil {
				state = string(machine.State())
			}
			return fmt.Sprintf(
				`{"state":%q,"extensionConnected":%t,"wsPort":%d,"httpPort":%d}`,
				state, b.manager.HasConnection(), b.cfg.WSPort, b.cfg.HTTPPort), nil
		},
	}
}
