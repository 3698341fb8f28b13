// Package ports holds the OS-boundary collaborators: a connect-attempt
// probe that reports whether anything is listening on a local port, and
// a best-effort evictor that frees a port held by a stale process.
package ports

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// probeTimeout bounds a single connect attempt.
const probeTimeout = 500 * time.Millisecond

// graceWindow is how long an evicted process gets to exit after
// SIGTERM before survivors are killed.
const graceWindow = 2 * time.Second

// ConflictError reports that a port could not be freed within budget.
type ConflictError struct {
	Port int
	Err  error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("port %d is in use and could not be freed: %v", e.Port, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Probe reports whether a connect attempt on the local port succeeds.
// This intentionally probes by connecting, not by trying to listen: a
// listen attempt would race with the process we are probing for.
func Probe(ctx context.Context, port int) bool {
	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Evict frees a port best-effort: enumerate the holders, SIGTERM them,
// wait out a grace window, then SIGKILL survivors. The caller's own
// PID is never targeted. Returns a ConflictError if the port is still
// held afterwards.
func Evict(ctx context.Context, port int, log *zap.Logger) error {
	pids, err := listeningPIDs(ctx, port)
	if err != nil {
		return &ConflictError{Port: port, Err: err}
	}
	if len(pids) == 0 {
		return nil
	}

	self := os.Getpid()
	targets := pids[:0]
	for _, pid := range pids {
		if pid == self {
			log.Warn("refusing to evict own process from port", zap.Int("port", port))
			continue
		}
		targets = append(targets, pid)
	}
	if len(targets) == 0 {
		return &ConflictError{Port: port, Err: fmt.Errorf("held by this process")}
	}

	for _, pid := range targets {
		log.Info("terminating stale port holder", zap.Int("port", port), zap.Int("pid", pid))
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	deadline := time.Now().Add(graceWindow)
	for time.Now().Before(deadline) {
		if !Probe(ctx, port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return &ConflictError{Port: port, Err: ctx.Err()}
		case <-time.After(100 * time.Millisecond):
		}
	}

	// Grace window elapsed; force-kill whatever still holds the port.
	survivors, err := listeningPIDs(ctx, port)
	if err != nil {
		return &ConflictError{Port: port, Err: err}
	}
	for _, pid := range survivors {
		if pid == self {
			continue
		}
		log.Warn("force-killing port holder", zap.Int("port", port), zap.Int("pid", pid))
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	time.Sleep(100 * time.Millisecond)
	if Probe(ctx, port) {
		return &ConflictError{Port: port, Err: fmt.Errorf("still bound after SIGKILL")}
	}
	return nil
}

// listeningPIDs enumerates processes bound to the port via lsof.
func listeningPIDs(ctx context.Context, port int) ([]int, error) {
	cmd := exec.CommandContext(ctx, "lsof", "-ti", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN")
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when nothing matches; treat that as no holders.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof: %w", err)
	}
	return parsePIDs(string(output)), nil
}

// parsePIDs extracts PIDs from lsof -t output, one per line.
func parsePIDs(output string) []int {
	var pids []int
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
