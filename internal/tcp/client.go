// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tcp

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// ClientCallbacks mirrors spec §4.6's hooks, generalized from
// ControlChannel's fixed behavior to caller-supplied DidOpen/DidClose
// functions. The connection type itself is always *Connection.
type ClientCallbacks struct {
	// DidOpen is called after a successful dial, once the Connection has
	// transitioned to Opened.
	DidOpen func(c *Connection)
	// DidClose is called after the current connection closes, whether by
	// I/O error or Stop.
	DidClose func(c *Connection)
}

// Client is an auto-reconnecting TCP client: exactly one connection
// exists at any moment, grounded directly in
// internal/agent.ControlChannel.run()'s exponential-backoff reconnect
// loop, generalized from a fixed TLS+control-protocol handshake to a
// pluggable address and connection hooks.
type Client struct {
	logger *slog.Logger
	cb     ClientCallbacks

	connectTimeout  time.Duration
	autoReconnect   bool
	minReconnect    time.Duration
	maxReconnect    time.Duration

	mu      sync.Mutex
	conn    *Connection
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ClientOption configures optional Client parameters away from spec's
// defaults (connectTimeout=10s, automaticallyReconnects=true,
// minReconnectInterval=1s, maxReconnectInterval=300s).
type ClientOption func(*Client)

func WithConnectTimeout(d time.Duration) ClientOption { return func(c *Client) { c.connectTimeout = d } }
func WithAutoReconnect(v bool) ClientOption           { return func(c *Client) { c.autoReconnect = v } }
func WithReconnectInterval(min, max time.Duration) ClientOption {
	return func(c *Client) { c.minReconnect = min; c.maxReconnect = max }
}

// NewClient constructs a Client with spec-mandated defaults.
func NewClient(logger *slog.Logger, cb ClientCallbacks, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		logger:         logger,
		cb:             cb,
		connectTimeout: 10 * time.Second,
		autoReconnect:  true,
		minReconnect:   1 * time.Second,
		maxReconnect:   300 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start dials addr. If the first attempt fails and automatic reconnection
// is disabled, the failure is returned directly (spec §4.6, §7: "surfaced
// once via start return"). Otherwise Start returns nil immediately and
// reconnection continues in the background.
func (c *Client) Start(addr string) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	if !c.autoReconnect {
		closed := make(chan struct{})
		conn, err := c.dial(addr, closed)
		if err != nil {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return err
		}
		c.adopt(conn)
		c.wg.Add(1)
		go c.superviseOnce(conn, closed)
		return nil
	}

	c.wg.Add(1)
	go c.run(addr)
	return nil
}

// run is the reconnect loop: connect, wait for the connection to die,
// back off, retry — copied nearly verbatim from ControlChannel.run(),
// generalized away from its TLS handshake specifics.
func (c *Client) run(addr string) {
	defer c.wg.Done()

	delay := c.minReconnect
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		closed := make(chan struct{})
		conn, err := c.dial(addr, closed)
		if err != nil {
			c.logger.Warn("tcp client connect failed", "address", addr, "error", err, "retry_in", delay)
			select {
			case <-c.stopCh:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxReconnect {
				delay = c.maxReconnect
			}
			continue
		}

		delay = c.minReconnect
		c.adopt(conn)

		select {
		case <-c.stopCh:
			conn.Close()
			c.clearIfCurrent(conn)
			return
		case <-closed:
		}

		c.clearIfCurrent(conn)
	}
}

// superviseOnce waits for a single non-reconnecting connection to close.
func (c *Client) superviseOnce(conn *Connection, closed chan struct{}) {
	defer c.wg.Done()
	select {
	case <-c.stopCh:
		conn.Close()
	case <-closed:
	}
	c.clearIfCurrent(conn)
}

// dial connects to addr and wires closed to fire once the resulting
// connection's DidClose hook runs, alongside the client's own DidOpen/
// DidClose callbacks.
func (c *Client) dial(addr string, closed chan struct{}) (*Connection, error) {
	dialer := &net.Dialer{Timeout: c.connectTimeout}
	raw, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	id := newConnectionID()
	conn := NewConnection(raw, id, Hooks{
		DidOpen: func(conn *Connection) {
			if c.cb.DidOpen != nil {
				c.cb.DidOpen(conn)
			}
		},
		DidClose: func(conn *Connection) {
			if c.cb.DidClose != nil {
				c.cb.DidClose(conn)
			}
			close(closed)
		},
	})
	conn.Open()
	return conn, nil
}

func (c *Client) adopt(conn *Connection) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) clearIfCurrent(conn *Connection) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

// Stop cancels any pending reconnect and closes the current connection,
// blocking until the client's goroutines have exited.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
}

// Connection returns the current connection, or nil if disconnected.
func (c *Client) Connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}
