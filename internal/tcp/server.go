// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tcp

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// acceptBacklog matches spec §4.5's "listens with backlog 16" — Go's
// net.Listen does not expose backlog directly, so this is documentary;
// the OS default backlog is used (platforms vary, but all comfortably
// exceed 16 for this facility's traffic shape).
const acceptBacklog = 16

// Server accepts TCP connections, registers each in a live-connection
// set, and hands them off via Callbacks. It generalizes
// internal/server.Run's accept loop (consecutive-error backoff,
// per-connection goroutine, graceful listener shutdown) from one fixed
// backup protocol handler to an injectable one.
type Server struct {
	logger *slog.Logger

	willOpen func(c *Connection)
	didClose func(c *Connection)

	mu      sync.Mutex
	ln      net.Listener
	running bool
	live    map[string]*Connection
	wg      sync.WaitGroup
}

// ServerCallbacks mirrors spec §4.5's willOpenConnection/didCloseConnection
// hooks.
type ServerCallbacks struct {
	WillOpenConnection func(c *Connection)
	DidCloseConnection func(c *Connection)
}

// NewServer constructs a Server. logger receives accept-loop diagnostics
// (transient accept errors logged at Warning, per SPEC_FULL §8).
func NewServer(logger *slog.Logger, cb ServerCallbacks) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		willOpen: cb.WillOpenConnection,
		didClose: cb.DidCloseConnection,
		live:     make(map[string]*Connection),
	}
}

// Start resolves and binds addr (port 0 = ephemeral), matching spec
// §4.5's AI_PASSIVE dual-stack resolution: Go's "tcp" network already
// prefers a dual-stack IPv6 listener (IPV6_V6ONLY=0 where the OS permits
// it) and falls back to IPv4-only automatically, so net.Listen("tcp", addr)
// provides the required behavior without extra syscalls. Spawns the accept
// loop in a new goroutine and returns immediately with the bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.running = true
	s.mu.Unlock()

	go s.acceptLoop(ln)

	return ln.Addr(), nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := !s.running
			s.mu.Unlock()
			if stopped {
				return
			}
			consecutiveErrors++
			s.logger.Warn("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
			if consecutiveErrors > 5 {
				delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
				if delay > 5*time.Second {
					delay = 5 * time.Second
				}
				time.Sleep(delay)
			}
			continue
		}
		consecutiveErrors = 0
		s.acceptOne(conn)
	}
}

func (s *Server) acceptOne(raw net.Conn) {
	id := newConnectionID()

	s.wg.Add(1)
	var c *Connection
	c = NewConnection(raw, id, Hooks{
		DidClose: func(conn *Connection) {
			s.mu.Lock()
			delete(s.live, conn.ID())
			s.mu.Unlock()
			if s.didClose != nil {
				s.didClose(conn)
			}
			s.wg.Done()
		},
	})

	s.mu.Lock()
	s.live[id] = c
	s.mu.Unlock()

	if s.willOpen != nil {
		s.willOpen(c)
	}
	c.Open()
}

// Stop closes the listener, then closes every live connection and blocks
// until the live set is empty (spec §4.5: "waits synchronously until the
// live-connections set is empty").
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ln := s.ln
	snapshot := make([]*Connection, 0, len(s.live))
	for _, c := range s.live {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range snapshot {
		c.Close()
	}
	s.wg.Wait()
}

// Connections returns a snapshot of the currently live connections.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.live))
	for _, c := range s.live {
		out = append(out, c)
	}
	return out
}

// newConnectionID returns a random v4 UUID string, following the
// teacher's own crypto/rand-based generateSessionID approach
// (internal/server/handler.go) rather than pulling in a UUID library.
func newConnectionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
