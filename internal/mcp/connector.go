// Package mcp relays selected hub events to an external collaborative
// analysis endpoint over a persistent WebSocket connection.
//
// The connector keeps one connection open, sends a periodic heartbeat, and
// reconnects with exponential backoff when the connection drops. After
// MaxReconnectAttempts consecutive failures it goes dormant and stops
// retrying; the rest of the process is unaffected.
//
// Delivery is best effort. Events published while disconnected are dropped,
// not queued, and messages larger than MaxMessageSize are rejected before
// they reach the wire.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/hub"
	"github.com/steveyegge/wsmon/internal/logging"
	"github.com/steveyegge/wsmon/internal/validate"
)

// ServiceName is the hub registration name of the connector.
const ServiceName = "mcp-connector"

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateReconnecting is a disconnected state with a reconnect scheduled.
	StateReconnecting State = "reconnecting"
	// StateDormant is a disconnected state with no attempts left.
	StateDormant State = "dormant"
)

// Conn is the subset of *websocket.Conn used by the connector.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to endpoint.
type Dialer func(ctx context.Context, endpoint string, opts *websocket.DialOptions) (Conn, error)

// Timer is a cancellable scheduled call.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// DialWebSocket returns a Dialer backed by websocket.Dial that limits
// incoming message size to readLimit bytes.
func DialWebSocket(readLimit int64) Dialer {
	return func(ctx context.Context, endpoint string, opts *websocket.DialOptions) (Conn, error) {
		conn, _, err := websocket.Dial(ctx, endpoint, opts)
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(readLimit)
		return conn, nil
	}
}

func timeAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config holds connector configuration.
type Config struct {
	// Enabled turns the connector on. A disabled connector ignores all events.
	Enabled bool

	// Endpoint is the ws://, wss://, http:// or https:// URL of the endpoint.
	Endpoint string

	HeartbeatInterval time.Duration

	// ReconnectBaseDelay is the first backoff delay. Each attempt doubles
	// it up to ReconnectMaxDelay.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	MaxReconnectAttempts int

	// MaxMessageSize is the largest serialized envelope sent, in bytes.
	MaxMessageSize int

	// Compression negotiates permessage-deflate for messages of at least
	// CompressionThreshold bytes.
	Compression          bool
	CompressionThreshold int

	// MaxOutstanding caps concurrent in-flight sends.
	MaxOutstanding int

	WriteTimeout time.Duration
	DialTimeout  time.Duration

	// Dialer opens connections (default: DialWebSocket).
	Dialer Dialer

	// AfterFunc schedules reconnect attempts (default: time.AfterFunc).
	AfterFunc AfterFunc

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	Logger logging.Logger
}

// DefaultConfig returns sensible defaults. The connector is disabled by default.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		MaxMessageSize:       1 << 20,
		Compression:          true,
		CompressionThreshold: 512,
		MaxOutstanding:       16,
		WriteTimeout:         5 * time.Second,
		DialTimeout:          10 * time.Second,
		Now:                  time.Now,
	}
}

// Status is a snapshot of connector state.
type Status struct {
	Enabled       bool      `json:"enabled"`
	Endpoint      string    `json:"endpoint,omitempty"`
	State         State     `json:"state"`
	Connected     bool      `json:"connected"`
	Attempts      int       `json:"reconnect_attempts"`
	Sent          int64     `json:"sent"`
	Received      int64     `json:"received"`
	Dropped       int64     `json:"dropped"`
	Oversized     int64     `json:"oversized"`
	Errors        int64     `json:"errors"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	ConnectedAt   time.Time `json:"connected_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Connector is the MCP relay service.
type Connector struct {
	config Config
	logger logging.Logger
	opts   *websocket.DialOptions
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	hub            *hub.Hub
	state          State
	conn           Conn
	connCancel     context.CancelFunc
	attempts       int
	reconnectTimer Timer
	lastHeartbeat  time.Time
	connectedAt    time.Time
	lastError      string
	closed         bool

	wg sync.WaitGroup

	sent      atomic.Int64
	received  atomic.Int64
	dropped   atomic.Int64
	oversized atomic.Int64
	errors    atomic.Int64
}

// New creates a connector, applying defaults for zero values.
func New(config Config) (*Connector, error) {
	defaults := DefaultConfig()
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.ReconnectBaseDelay == 0 {
		config.ReconnectBaseDelay = defaults.ReconnectBaseDelay
	}
	if config.ReconnectMaxDelay == 0 {
		config.ReconnectMaxDelay = defaults.ReconnectMaxDelay
	}
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if config.CompressionThreshold == 0 {
		config.CompressionThreshold = defaults.CompressionThreshold
	}
	if config.MaxOutstanding == 0 {
		config.MaxOutstanding = defaults.MaxOutstanding
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.AfterFunc == nil {
		config.AfterFunc = timeAfterFunc
	}
	if config.Dialer == nil {
		config.Dialer = DialWebSocket(int64(config.MaxMessageSize))
	}

	if config.Enabled {
		if err := validate.Endpoint(config.Endpoint); err != nil {
			return nil, err
		}
	}
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"heartbeat interval", config.HeartbeatInterval},
		{"reconnect base delay", config.ReconnectBaseDelay},
		{"reconnect max delay", config.ReconnectMaxDelay},
		{"write timeout", config.WriteTimeout},
		{"dial timeout", config.DialTimeout},
	}
	for _, c := range checks {
		if err := validate.PositiveDuration(c.name, c.d); err != nil {
			return nil, err
		}
	}
	if err := validate.PositiveInt("max reconnect attempts", config.MaxReconnectAttempts); err != nil {
		return nil, err
	}
	if err := validate.PositiveInt("max message size", config.MaxMessageSize); err != nil {
		return nil, err
	}
	if err := validate.PositiveInt("max outstanding", config.MaxOutstanding); err != nil {
		return nil, err
	}

	opts := &websocket.DialOptions{CompressionMode: websocket.CompressionDisabled}
	if config.Compression {
		opts.CompressionMode = websocket.CompressionContextTakeover
		opts.CompressionThreshold = config.CompressionThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		config: config,
		logger: logging.OrDefault(config.Logger, "mcp"),
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(config.MaxOutstanding)),
		ctx:    ctx,
		cancel: cancel,
		state:  StateDisconnected,
	}, nil
}

// Name implements hub.Service.
func (c *Connector) Name() string { return ServiceName }

// Attach implements hub.Service and subscribes to every relayed event.
func (c *Connector) Attach(h *hub.Hub) {
	c.mu.Lock()
	c.hub = h
	c.mu.Unlock()

	for _, event := range relayed {
		h.OnFor(ServiceName, event, func(p any) error {
			c.relay(event, p)
			return nil
		})
	}
}

// relay forwards one hub event. Send failures are local to the connector.
func (c *Connector) relay(event string, payload any) {
	if !c.config.Enabled {
		return
	}
	err := c.Send(c.ctx, Wrap(event, payload, c.config.Now()))
	switch {
	case err == nil:
	case errors.Is(err, ErrMessageTooLarge):
		c.logger.Warn("dropping oversized message", "event", event, "error", err)
	case IsRetryable(err), IsFatal(err):
		c.logger.Debug("dropping message", "event", event, "reason", err)
	default:
		c.logger.Warn("failed to relay event", "event", event, "error", err)
	}
}

// Initialize opens the connection. It is a no-op when disabled or already
// connecting. A failed dial schedules a reconnect and returns a
// *ConnectionError.
func (c *Connector) Initialize(ctx context.Context) error {
	if !c.config.Enabled {
		c.logger.Debug("connector disabled")
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		c.fail(err)
		c.scheduleReconnect()
		return err
	}
	return nil
}

func (c *Connector) connect(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	conn, err := c.config.Dialer(dctx, c.config.Endpoint, c.opts)
	if err != nil {
		return &ConnectionError{Op: "dial", Endpoint: c.config.Endpoint, Err: err}
	}
	return c.onConnected(conn)
}

func (c *Connector) onConnected(conn Conn) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return ErrClosed
	}
	connCtx, cancel := context.WithCancel(c.ctx)
	now := c.config.Now()
	c.conn = conn
	c.connCancel = cancel
	c.state = StateConnected
	c.attempts = 0
	c.connectedAt = now
	c.lastHeartbeat = now
	c.wg.Add(2)
	c.mu.Unlock()

	go c.readLoop(connCtx, conn)
	go c.heartbeatLoop(connCtx, conn)

	c.logger.Info("connected", "endpoint", c.config.Endpoint)
	return nil
}

// readLoop consumes endpoint messages until the connection fails.
func (c *Connector) readLoop(ctx context.Context, conn Conn) {
	defer c.wg.Done()

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			c.handleLoss(conn, &ConnectionError{Op: "read", Endpoint: c.config.Endpoint, Err: err})
			return
		}
		c.received.Add(1)
	}
}

func (c *Connector) heartbeatLoop(ctx context.Context, conn Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.heartbeat(ctx, conn); err != nil {
				c.handleLoss(conn, err)
				return
			}
		}
	}
}

func (c *Connector) heartbeat(ctx context.Context, conn Conn) error {
	now := c.config.Now()
	data, err := json.Marshal(Envelope{
		Type: TypeHeartbeat,
		Data: map[string]any{"timestamp": now},
		Metadata: Metadata{
			Source:    Source,
			Priority:  PriorityLow,
			Timestamp: now,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return &ConnectionError{Op: "heartbeat", Endpoint: c.config.Endpoint, Err: err}
	}

	c.mu.Lock()
	c.lastHeartbeat = now
	c.mu.Unlock()
	return nil
}

// handleLoss tears down conn if it is still current and schedules a reconnect.
func (c *Connector) handleLoss(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connCancel()
	c.state = StateDisconnected
	closed := c.closed
	c.mu.Unlock()

	_ = conn.Close(websocket.StatusGoingAway, "connection lost")
	if closed {
		return
	}

	c.logger.Warn("connection lost", "endpoint", c.config.Endpoint, "error", cause)
	c.fail(cause)
	c.scheduleReconnect()
}

// fail records and reports a connection error.
func (c *Connector) fail(err error) {
	c.errors.Add(1)

	c.mu.Lock()
	c.lastError = err.Error()
	target := c.hub
	c.mu.Unlock()

	if target != nil {
		target.Emit(events.Error, events.ErrorEvent{
			Type:    events.ErrorConnection,
			Source:  ServiceName,
			Message: err.Error(),
			At:      c.config.Now(),
		})
	}
}

// scheduleReconnect arms the next attempt or goes dormant.
func (c *Connector) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if attempt > c.config.MaxReconnectAttempts {
		c.state = StateDormant
		c.mu.Unlock()

		c.logger.Error("giving up on endpoint", "endpoint", c.config.Endpoint, "attempts", attempt-1)
		c.fail(fmt.Errorf("%w after %d attempts", ErrDormant, attempt-1))
		return
	}
	delay := Backoff(attempt, c.config.ReconnectBaseDelay, c.config.ReconnectMaxDelay)
	c.state = StateReconnecting
	c.reconnectTimer = c.config.AfterFunc(delay, c.reconnect)
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (c *Connector) reconnect() {
	c.mu.Lock()
	if c.closed || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.state = StateConnecting
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	if err := c.connect(c.ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		c.fail(err)
		c.scheduleReconnect()
	}
}

// Backoff returns min(base * 2^(attempt-1), limit) for attempt >= 1.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// Send serializes env and writes it to the endpoint. It never blocks on a
// full pipe: oversized messages, a missing connection, and a full
// outstanding-send budget all drop the message and return an error.
func (c *Connector) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		c.errors.Add(1)
		return fmt.Errorf("failed to marshal %s envelope: %w", env.Type, err)
	}
	if len(data) > c.config.MaxMessageSize {
		c.oversized.Add(1)
		c.errors.Add(1)
		return &MessageTooLargeError{Type: env.Type, Size: len(data), Limit: c.config.MaxMessageSize}
	}

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()

	if closed {
		c.dropped.Add(1)
		return ErrClosed
	}
	if conn == nil {
		c.dropped.Add(1)
		return ErrNotConnected
	}
	if !c.sem.TryAcquire(1) {
		c.dropped.Add(1)
		return ErrBackpressure
	}
	defer c.sem.Release(1)

	wctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		cerr := &ConnectionError{Op: "write", Endpoint: c.config.Endpoint, Err: err}
		c.handleLoss(conn, cerr)
		return cerr
	}
	c.sent.Add(1)
	return nil
}

// Status returns a snapshot of connector state.
func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Enabled:       c.config.Enabled,
		Endpoint:      c.config.Endpoint,
		State:         c.state,
		Connected:     c.state == StateConnected,
		Attempts:      c.attempts,
		Sent:          c.sent.Load(),
		Received:      c.received.Load(),
		Dropped:       c.dropped.Load(),
		Oversized:     c.oversized.Load(),
		Errors:        c.errors.Load(),
		LastHeartbeat: c.lastHeartbeat,
		ConnectedAt:   c.connectedAt,
		LastError:     c.lastError,
	}
}

// Shutdown cancels the reconnect timer and heartbeat, closes the
// connection, and waits for connector goroutines. It is idempotent.
func (c *Connector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.connCancel != nil {
		c.connCancel()
	}
	if c.state != StateDormant {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop connector: %w", ctx.Err())
	}
}
