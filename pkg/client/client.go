// Package client wires the streaming engine together: frames flow from the
// transport through the protocol codec into the reducer store and the
// session manager, and reconciliation runs on initial watch and after every
// reconnect.
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
	"github.com/codeready-toolchain/pipewatch/pkg/reconcile"
	"github.com/codeready-toolchain/pipewatch/pkg/session"
	"github.com/codeready-toolchain/pipewatch/pkg/stream"
	"github.com/codeready-toolchain/pipewatch/pkg/transport"
)

// reconcileTimeout bounds the snapshot fetches triggered by a reconnect.
const reconcileTimeout = 30 * time.Second

// EventObserver is notified of every decoded event after it was applied.
type EventObserver func(protocol.Event)

// StatusObserver is notified of connection status transitions.
type StatusObserver func(transport.Status)

// Options configures a Client.
type Options struct {
	SocketURL         string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	Logger            *slog.Logger
	OnEvent           EventObserver
	OnStatus          StatusObserver
}

// Client owns the socket lifecycle and routes decoded events to the reducer
// store and the session manager.
type Client struct {
	store       *stream.Store
	sessions    *session.Manager
	coordinator *reconcile.Coordinator
	transport   *transport.Transport
	logger      *slog.Logger
	onEvent     EventObserver
	onStatus    StatusObserver

	mu           sync.Mutex
	watched      map[string]bool
	disconnected bool
}

// New creates a Client. The transport is not connected until Start.
func New(store *stream.Store, sessions *session.Manager, coordinator *reconcile.Coordinator, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		store:       store,
		sessions:    sessions,
		coordinator: coordinator,
		logger:      logger,
		onEvent:     opts.OnEvent,
		onStatus:    opts.OnStatus,
		watched:     make(map[string]bool),
	}
	c.transport = transport.New(transport.Config{
		URL:               opts.SocketURL,
		HeartbeatInterval: opts.HeartbeatInterval,
		ReconnectDelay:    opts.ReconnectDelay,
		Logger:            logger,
	}, c.handleFrame, c.handleStatus)
	return c
}

// Start opens the socket. Connection failures are not fatal; the transport
// keeps retrying and REST-driven flows continue to work.
func (c *Client) Start() {
	c.transport.Connect()
}

// Wake connects immediately if disconnected (visibility/resume path).
func (c *Client) Wake() {
	c.transport.Wake()
}

// Close shuts the socket down with an intentional-disconnect notice.
func (c *Client) Close() {
	c.transport.Close()
}

// Status returns the current connection status.
func (c *Client) Status() transport.Status {
	return c.transport.Status()
}

// Watch starts following a pipeline: an initial reconciliation installs the
// authoritative snapshot, then live events keep the state current. The
// pipeline is re-reconciled after every reconnect until Unwatch.
func (c *Client) Watch(ctx context.Context, pipelineID string) error {
	c.mu.Lock()
	c.watched[pipelineID] = true
	c.mu.Unlock()

	return c.coordinator.Reconcile(ctx, pipelineID)
}

// Unwatch stops following a pipeline and drops its reducer state. In-flight
// snapshot fetches are invalidated so they cannot land on the wrong view.
func (c *Client) Unwatch(pipelineID string) {
	c.mu.Lock()
	delete(c.watched, pipelineID)
	c.mu.Unlock()

	c.coordinator.Invalidate()
	c.store.RemovePipeline(pipelineID)
}

// handleFrame decodes one inbound frame and applies it. Undecodable frames
// are dropped with a log — they must never tear down the socket.
func (c *Client) handleFrame(data []byte) {
	evt, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn("Dropping undecodable frame", "error", err)
		return
	}

	switch e := evt.(type) {
	case protocol.OfflineEventNotice:
		c.sessions.EnqueueNotice(e)
	default:
		c.store.Apply(evt)
	}

	if c.onEvent != nil {
		c.onEvent(evt)
	}
}

// handleStatus tracks drops and re-reconciles every watched pipeline once
// the connection comes back, closing the gap of events missed while offline.
func (c *Client) handleStatus(st transport.Status) {
	c.mu.Lock()
	reconnected := st == transport.StatusConnected && c.disconnected
	if st == transport.StatusDisconnected {
		c.disconnected = true
	} else if st == transport.StatusConnected {
		c.disconnected = false
	}
	var pipelines []string
	if reconnected {
		for id := range c.watched {
			pipelines = append(pipelines, id)
		}
	}
	c.mu.Unlock()

	if reconnected {
		go c.reconcileAll(pipelines)
	}
	if c.onStatus != nil {
		c.onStatus(st)
	}
}

func (c *Client) reconcileAll(pipelineIDs []string) {
	for _, id := range pipelineIDs {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		if err := c.coordinator.Reconcile(ctx, id); err != nil {
			c.logger.Warn("Reconciliation after reconnect failed",
				"pipeline_id", id, "error", err)
		}
		cancel()
	}
}
