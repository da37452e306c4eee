package sdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/sdk/batch"
	"github.com/nicktill/tinybeacon/pkg/sdk/transport"
)

// DefaultEndpoint is the collector a zero ClientConfig talks to.
const DefaultEndpoint = "http://127.0.0.1:3000"

var (
	// ErrNotStarted is returned by the Track methods before Start or after Stop.
	ErrNotStarted = errors.New("client not started")

	// ErrMissingAppName is returned by TrackDownload for a download without an app.
	ErrMissingAppName = errors.New("app name is required")
)

// ClientConfig holds configuration for the TinyBeacon client
type ClientConfig struct {
	Endpoint     string        `json:"endpoint"`
	FlushEvery   time.Duration `json:"flush_every"`
	MaxBatchSize int           `json:"max_batch_size"`

	// OnError receives background delivery failures.
	OnError func(error) `json:"-"`
}

// Client queues beacons and delivers them to a TinyBeacon collector
type Client struct {
	config    ClientConfig
	transport transport.Transport
	batcher   *batch.Batcher

	mu      sync.RWMutex
	started bool
}

// New creates a new TinyBeacon client
func New(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}

	trans, err := transport.NewHTTP(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return newClient(cfg, trans), nil
}

func newClient(cfg ClientConfig, trans transport.Transport) *Client {
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 100
	}

	return &Client{
		config:    cfg,
		transport: trans,
		batcher: batch.New(trans, batch.Config{
			MaxBatchSize: cfg.MaxBatchSize,
			FlushEvery:   cfg.FlushEvery,
			OnError:      cfg.OnError,
		}),
	}
}

// Start begins periodic delivery
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("client already started")
	}
	if err := c.batcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start batcher: %w", err)
	}
	c.started = true
	return nil
}

// Stop stops the client and delivers queued events
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.mu.Unlock()

	if err := c.batcher.Stop(); err != nil {
		return fmt.Errorf("failed to flush events: %w", err)
	}
	return nil
}

// Flush delivers queued events now.
func (c *Client) Flush() error {
	return c.batcher.Flush()
}

// TrackPageView queues a page view. ID and CreatedAt are assigned by the
// collector and ignored here.
func (c *Client) TrackPageView(pv analytics.PageView) error {
	return c.enqueue(transport.PageViewEvent(pv))
}

// TrackDownload queues a download.
func (c *Client) TrackDownload(d analytics.Download) error {
	if d.AppName == "" {
		return ErrMissingAppName
	}
	return c.enqueue(transport.DownloadEvent(d))
}

func (c *Client) enqueue(ev transport.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.started {
		return ErrNotStarted
	}
	c.batcher.Add(ev)
	return nil
}
