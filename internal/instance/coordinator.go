// Package instance decides whether this process becomes the active
// bridge or a thin forwarder: it probes whether a bridge is already
// listening on the well-known ports and health-checks it.
package instance

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conradkoh/browsermcp/internal/ports"
)

// healthTimeout bounds the health request against a detected instance.
const healthTimeout = 1 * time.Second

// Detection is the outcome of one probe. Recomputed per call, never
// persisted.
type Detection struct {
	Exists  bool `json:"exists"`
	Healthy bool `json:"healthy"`
	Ports   struct {
		HTTP int `json:"http"`
		WS   int `json:"ws"`
	} `json:"ports"`
}

// ShouldForward reports whether this process should relay tool calls
// to the detected instance instead of owning its own bridge.
func (d Detection) ShouldForward() bool {
	return d.Exists && d.Healthy
}

// Coordinator probes for an existing bridge.
type Coordinator struct {
	httpPort int
	wsPort   int
	log      *zap.Logger
}

// NewCoordinator creates a coordinator for the given well-known ports.
func NewCoordinator(httpPort, wsPort int, log *zap.Logger) *Coordinator {
	return &Coordinator{
		httpPort: httpPort,
		wsPort:   wsPort,
		log:      log.Named("instance"),
	}
}

// Detect probes both ports concurrently by connect attempt, then
// health-checks the front door if it is bound. Any non-5xx health
// response counts as healthy.
func (c *Coordinator) Detect(ctx context.Context) Detection {
	var detection Detection
	detection.Ports.HTTP = c.httpPort
	detection.Ports.WS = c.wsPort

	var httpBound, wsBound bool
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		httpBound = ports.Probe(groupCtx, c.httpPort)
		return nil
	})
	group.Go(func() error {
		wsBound = ports.Probe(groupCtx, c.wsPort)
		return nil
	})
	_ = group.Wait()

	detection.Exists = httpBound
	if !httpBound {
		c.log.Debug("no existing instance detected",
			zap.Bool("wsBound", wsBound))
		return detection
	}

	detection.Healthy = c.healthCheck(ctx)
	c.log.Info("existing instance detected",
		zap.Bool("healthy", detection.Healthy),
		zap.Bool("wsBound", wsBound))
	return detection
}

// FrontDoorURL returns the base URL of the detected instance.
func (c *Coordinator) FrontDoorURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.httpPort)
}

func (c *Coordinator) healthCheck(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.FrontDoorURL()+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
