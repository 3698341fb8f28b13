// Command browsermcp bridges an MCP client (over stdio) to the
// BrowserMCP browser extension (over a local websocket), with an HTTP
// front door so multiple local processes can share one bridge.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conradkoh/browsermcp/internal/bridge"
	"github.com/conradkoh/browsermcp/internal/config"
	"github.com/conradkoh/browsermcp/internal/instance"
	"github.com/conradkoh/browsermcp/internal/lifecycle"
	"github.com/conradkoh/browsermcp/internal/logging"
	"github.com/conradkoh/browsermcp/internal/mcpserver"
	"github.com/conradkoh/browsermcp/internal/ports"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "browsermcp",
	Short: "BrowserMCP bridge between MCP clients and the browser extension",
	Long: `browsermcp lets an AI agent drive a browser through the BrowserMCP
extension without ever holding a direct connection to the browser.

The bridge owns a single websocket to the extension, correlates
concurrent tool calls by request ID, and exposes an HTTP front door so
additional local processes can share one running bridge instead of
fighting over the ports.

Run without arguments to start serving MCP on stdio.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP on stdio (the default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe for a running bridge and print the detection result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		coordinator := instance.NewCoordinator(cfg.HTTPPort, cfg.WSPort, logger)
		detection := coordinator.Detect(cmd.Context())

		out, err := json.MarshalIndent(detection, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var killPortCmd = &cobra.Command{
	Use:   "kill-port [port]",
	Short: "Evict whatever process is holding a local port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}

		_, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if err := ports.Evict(cmd.Context(), port, logger); err != nil {
			return err
		}
		fmt.Printf("port %d is free\n", port)
		return nil
	},
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// runServe decides the process role and runs it: a thin forwarder when
// a healthy bridge already exists, the active bridge otherwise.
func runServe() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coordinator := instance.NewCoordinator(cfg.HTTPPort, cfg.WSPort, logger)
	detection := coordinator.Detect(ctx)

	if detection.ShouldForward() {
		logger.Info("healthy bridge already running, forwarding",
			zap.Int("httpPort", cfg.HTTPPort))
		forwarder := mcpserver.NewForwarder(coordinator.FrontDoorURL(), logger)
		server := mcpserver.NewServer(forwarder, nil, nil, logger)
		// A termination signal cancels the context; that is a clean exit
		// for a forwarder, not an error.
		if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	logger.Info("becoming the active bridge",
		zap.Int("wsPort", cfg.WSPort), zap.Int("httpPort", cfg.HTTPPort))

	b, err := bridge.New(cfg, os.Stdin, os.Stdout, logger)
	if err != nil {
		return err
	}

	machine := lifecycle.NewMachine(b, lifecycle.Options{
		MaxRetries:         cfg.MaxRetries,
		RetryDelay:         cfg.RetryDelay(),
		ShutdownTimeout:    cfg.ShutdownTimeout(),
		StateCheckInterval: cfg.StateCheckInterval(),
		HistoryLimit:       cfg.HistoryLimit,
	}, logger)
	b.SetStateReporter(machine)

	// The stdio session ending means the MCP client is gone: treat it
	// as a shutdown signal for the whole bridge.
	go func() {
		select {
		case <-ctx.Done():
		case err := <-b.StdioDone():
			if err != nil {
				logger.Warn("stdio session ended", zap.Error(err))
			} else {
				logger.Info("stdio session ended")
			}
			stop()
		}
	}()

	if err := machine.Run(ctx); err != nil {
		logger.Error("bridge terminated", zap.Error(err))
		return fmt.Errorf("%w (diagnostics on stderr%s)", err, logFileHint(cfg))
	}
	return nil
}

func logFileHint(cfg *config.Config) string {
	if cfg.Logging.File == "" {
		return ""
	}
	return " and in " + cfg.Logging.File
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(killPortCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
