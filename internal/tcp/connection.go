// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tcp is the reusable TCP peer framework shared by every
// connection-oriented sink: a listening server, an auto-reconnecting
// client, and the per-connection read/write contract both build on.
package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// State is a Connection's lifecycle stage. Transitions are monotonic:
// Initialized -> Opened -> Closed, never backwards.
type State int

const (
	StateInitialized State = iota
	StateOpened
	StateClosed
)

// Hooks are called on the connection's own serial queue after the
// corresponding state transition completes (spec §4.4 "subclass hooks").
type Hooks struct {
	DidOpen  func(c *Connection)
	DidClose func(c *Connection)
}

// Connection wraps an already-connected net.Conn, adding the
// Initialized/Opened/Closed state machine and context-based read/write
// timeouts that substitute for the spec's raw-socket-timeout model: a
// nil/Background context blocks indefinitely, and context.WithTimeout
// encodes a positive deadline, exactly matching handler.go's
// SetReadDeadline/SetWriteDeadline discipline one layer up.
type Connection struct {
	conn net.Conn
	id   string

	hooks Hooks

	mu    sync.Mutex
	state State

	writeMu sync.Mutex

	queue *serialQueue

	localAddr  net.Addr
	remoteAddr net.Addr
}

// NewConnection constructs a Connection owning conn. The connection is
// not yet Opened; call Open to transition it and run DidOpen.
func NewConnection(conn net.Conn, id string, hooks Hooks) *Connection {
	return &Connection{
		conn:       conn,
		id:         id,
		hooks:      hooks,
		state:      StateInitialized,
		queue:      newSerialQueue(64),
		localAddr:  conn.LocalAddr(),
		remoteAddr: conn.RemoteAddr(),
	}
}

// ID returns the identifier assigned to this connection at construction
// (a v4 UUID, typically), used for log correlation.
func (c *Connection) ID() string { return c.id }

// LocalAddr / RemoteAddr return the addresses captured at construction
// (spec §3: "captured at construction").
func (c *Connection) LocalAddr() net.Addr  { return c.localAddr }
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open transitions Initialized -> Opened and runs DidOpen on the
// connection's serial queue. Calling Open more than once is a no-op after
// the first call.
func (c *Connection) Open() {
	c.mu.Lock()
	if c.state != StateInitialized {
		c.mu.Unlock()
		return
	}
	c.state = StateOpened
	c.mu.Unlock()

	c.queue.Enqueue(func() {
		if c.hooks.DidOpen != nil {
			c.hooks.DidOpen(c)
		}
	})
}

// Close transitions to Closed, closes the socket exactly once, and runs
// DidClose on the serial queue. Idempotent across redundant calls (spec
// §4.4, invariant 4 of spec §8).
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()

	_ = c.conn.Close()
	c.queue.Enqueue(func() {
		if c.hooks.DidClose != nil {
			c.hooks.DidClose(c)
		}
	})
	// Stop waits for the queue to drain, so it runs on its own goroutine:
	// Close may be called from a job running on this very queue.
	go c.queue.Stop()
}

// deadlineFromContext derives a time.Time deadline from ctx: the zero
// value (no deadline, block forever) if ctx is nil or carries no
// deadline, matching spec §4.4's "timeout 0 means block indefinitely".
func deadlineFromContext(ctx context.Context) time.Time {
	if ctx == nil {
		return time.Time{}
	}
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Time{}
}

// ReadData reads at most maxLen bytes, blocking according to ctx's
// deadline (no deadline blocks indefinitely). Returns an empty, non-nil
// slice at EOF. On any other error the connection is closed automatically
// and a nil slice is returned, matching spec §4.4.
func (c *Connection) ReadData(ctx context.Context, maxLen int) []byte {
	if c.State() != StateOpened {
		return nil
	}
	if err := c.conn.SetReadDeadline(deadlineFromContext(ctx)); err != nil {
		c.Close()
		return nil
	}

	buf := make([]byte, maxLen)
	n, err := c.conn.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return buf[:0]
		}
		c.Close()
		return nil
	}
	return buf[:n]
}

// ReadDataAsync reads in a new goroutine and delivers the result to cb,
// the asynchronous counterpart to ReadData.
func (c *Connection) ReadDataAsync(ctx context.Context, maxLen int, cb func(data []byte)) {
	go func() {
		cb(c.ReadData(ctx, maxLen))
	}()
}

// WriteData writes all of data, serialized against other writers on this
// connection, respecting ctx's deadline. Returns false (and closes the
// connection) on any write error or timeout.
func (c *Connection) WriteData(ctx context.Context, data []byte) bool {
	if c.State() != StateOpened {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadlineFromContext(ctx)); err != nil {
		c.Close()
		return false
	}
	if _, err := c.conn.Write(data); err != nil {
		c.Close()
		return false
	}
	return true
}

// WriteDataAsync dispatches a write without waiting for completion — the
// Go substitute for spec §4.4's "negative timeout is reserved ... to mean
// fire-and-forget". cb, if non-nil, is invoked with the result.
func (c *Connection) WriteDataAsync(data []byte, cb func(ok bool)) {
	go func() {
		ok := c.WriteData(context.Background(), data)
		if cb != nil {
			cb(ok)
		}
	}()
}

// Queue returns the connection's private serial queue, used by sinks that
// need to sequence additional work (e.g. formatting) relative to reads
// and writes on this connection.
func (c *Connection) Queue() *serialQueue {
	return c.queue
}
