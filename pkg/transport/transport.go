// Package transport owns the single WebSocket connection to the pipeline
// server: connect, heartbeat, reconnect after unintentional drops, and
// best-effort outbound sends.
//
// Frames are delivered to the frame handler from one goroutine in arrival
// order; the handler is the only ordering boundary downstream consumers get,
// and the only one they need.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
)

// Status is the connection state visible to observers.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

const (
	// DefaultHeartbeatInterval is how often a ping control frame is sent.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultReconnectDelay is the fixed wait before a reconnect attempt.
	// Deliberately not a backoff: the server team owns the retry policy and
	// the fixed delay is the agreed behavior.
	DefaultReconnectDelay = 3 * time.Second

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// FrameHandler receives each raw inbound frame in arrival order.
type FrameHandler func(data []byte)

// StatusHandler is notified of connection status transitions.
type StatusHandler func(Status)

// Config holds transport settings.
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	Logger            *slog.Logger
}

// Transport maintains at most one live socket. Connection failures are never
// fatal: the transport reports disconnected and keeps retrying until Close.
type Transport struct {
	cfg      Config
	onFrame  FrameHandler
	onStatus StatusHandler

	mu            sync.Mutex
	status        Status
	conn          *websocket.Conn
	connCancel    context.CancelFunc
	reconnect     *time.Timer
	heartbeatStop chan struct{}
	closed        bool
}

// New creates a Transport. Both handlers may be nil.
func New(cfg Config, onFrame FrameHandler, onStatus StatusHandler) *Transport {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:      cfg,
		onFrame:  onFrame,
		onStatus: onStatus,
		status:   StatusDisconnected,
	}
}

// Status returns the current connection status.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Connect opens the socket. It is a no-op while already connecting or
// connected. The dial happens asynchronously; failures schedule a reconnect
// after the fixed delay.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.closed || t.status != StatusDisconnected {
		t.mu.Unlock()
		return
	}
	t.cancelReconnectLocked()
	t.status = StatusConnecting
	t.mu.Unlock()
	t.notify(StatusConnecting)

	go t.dial()
}

func (t *Transport) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, _, err := websocket.Dial(ctx, t.cfg.URL, nil)
	cancel()
	if err != nil {
		t.cfg.Logger.Warn("WebSocket dial failed", "url", t.cfg.URL, "error", err)
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.status = StatusDisconnected
		t.scheduleReconnectLocked()
		t.mu.Unlock()
		t.notify(StatusDisconnected)
		return
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		connCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	t.conn = conn
	t.connCancel = connCancel
	t.status = StatusConnected
	stop := make(chan struct{})
	t.heartbeatStop = stop
	t.mu.Unlock()
	t.notify(StatusConnected)

	go t.heartbeatLoop(stop)
	go t.readLoop(connCtx, conn)
}

// readLoop delivers inbound frames in arrival order until the socket closes,
// then handles the drop.
func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.handleClose(conn)
			return
		}
		if t.onFrame != nil {
			t.onFrame(data)
		}
	}
}

// handleClose reacts to an unintentional socket drop: stop the heartbeat,
// report disconnected, and schedule a reconnect after the fixed delay.
func (t *Transport) handleClose(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn != conn {
		// A newer connection superseded this one; nothing to do.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.stopHeartbeatLocked()
	if t.connCancel != nil {
		t.connCancel()
		t.connCancel = nil
	}
	t.status = StatusDisconnected
	if !t.closed {
		t.scheduleReconnectLocked()
	}
	t.mu.Unlock()

	t.cfg.Logger.Warn("WebSocket connection lost", "url", t.cfg.URL)
	t.notify(StatusDisconnected)
}

// Send writes a message on the socket if currently connected. Outbound
// messages are best-effort by contract: when not connected the message is
// silently dropped, never queued.
func (t *Transport) Send(data []byte) {
	t.mu.Lock()
	conn := t.conn
	connected := t.status == StatusConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		t.cfg.Logger.Debug("Dropping outbound message, not connected")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.cfg.Logger.Warn("WebSocket send failed", "error", err)
	}
}

// Wake connects immediately if disconnected, without waiting for the pending
// reconnect timer. Called when the client becomes visible/resumes.
func (t *Transport) Wake() {
	t.mu.Lock()
	if t.closed || t.status != StatusDisconnected {
		t.mu.Unlock()
		return
	}
	t.cancelReconnectLocked()
	t.mu.Unlock()

	t.Connect()
}

// Close intentionally disconnects: best-effort notifies the server, stops
// the heartbeat, closes the socket, and cancels any pending reconnect. The
// transport cannot be reused afterwards.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.cancelReconnectLocked()
	t.stopHeartbeatLocked()
	conn := t.conn
	t.conn = nil
	if t.connCancel != nil {
		t.connCancel()
		t.connCancel = nil
	}
	wasConnected := t.status == StatusConnected
	t.status = StatusDisconnected
	t.mu.Unlock()

	if conn != nil {
		if wasConnected {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			_ = conn.Write(ctx, websocket.MessageText, protocol.EncodeDisconnecting())
			cancel()
		}
		_ = conn.Close(websocket.StatusNormalClosure, "client shutting down")
	}
	t.notify(StatusDisconnected)
}

func (t *Transport) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.Send(protocol.EncodePing())
		}
	}
}

// scheduleReconnectLocked arms the fixed-delay reconnect timer. Caller holds
// the lock. No backoff growth: see the transport contract.
func (t *Transport) scheduleReconnectLocked() {
	if t.reconnect != nil {
		return
	}
	t.reconnect = time.AfterFunc(t.cfg.ReconnectDelay, func() {
		t.mu.Lock()
		t.reconnect = nil
		t.mu.Unlock()
		t.Connect()
	})
}

func (t *Transport) cancelReconnectLocked() {
	if t.reconnect != nil {
		t.reconnect.Stop()
		t.reconnect = nil
	}
}

func (t *Transport) stopHeartbeatLocked() {
	if t.heartbeatStop != nil {
		close(t.heartbeatStop)
		t.heartbeatStop = nil
	}
}

func (t *Transport) notify(st Status) {
	if t.onStatus != nil {
		t.onStatus(st)
	}
}
