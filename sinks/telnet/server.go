// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package telnet

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/xlfacility"
	"github.com/nishisan-dev/xlfacility/history"
	"github.com/nishisan-dev/xlfacility/internal/tcp"
)

// CommandHandler receives a parsed command line (spec §4.8 step 4:
// "Invoke ... commandHandler after parsing") and returns the response
// text to write back before the prompt redraws.
type CommandHandler func(c *Conn, cmd string, args []string) string

// Sink is the Telnet server sink (spec §4.8): a TCP server base plus,
// per peer, a Conn driving the line editor. Grounded on
// sinks/tcpserver's accept/fan-out shape and spec §4.8's session
// startup/negotiation/line-editing/prompt-suppression/colorization
// contract.
type Sink struct {
	*xlfacility.BaseSink

	addr    string
	logger  *slog.Logger
	server  *tcp.Server
	history history.Store

	banner         string
	cmdHandler     CommandHandler
	maxHistorySize int
	shouldColorize bool
	sendRateLimit  int64

	mu    sync.Mutex
	peers map[string]*Conn
}

// New constructs a Sink that will listen on addr once Open is called.
// banner is sent once per connection, right after Telnet option
// negotiation (spec §4.8). hist may be nil to disable history replay.
func New(addr, banner string, cmdHandler CommandHandler, maxHistorySize int, shouldColorize bool, logger *slog.Logger, hist history.Store) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		BaseSink:       xlfacility.NewBaseSink(),
		addr:           addr,
		logger:         logger,
		history:        hist,
		banner:         banner,
		cmdHandler:     cmdHandler,
		maxHistorySize: maxHistorySize,
		shouldColorize: shouldColorize,
		peers:          make(map[string]*Conn),
	}
}

// SetSendRateLimit caps every peer's writes to bytesPerSec bytes/second,
// applied to each Conn as it is accepted. bytesPerSec <= 0 disables
// limiting (the default).
func (s *Sink) SetSendRateLimit(bytesPerSec int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendRateLimit = bytesPerSec
}

// Addr returns the bound listen address once Open has succeeded.
func (s *Sink) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Open starts listening. Each accepted connection spawns its own Conn
// running on the connection's read loop goroutine.
func (s *Sink) Open() bool {
	s.server = tcp.NewServer(s.logger, tcp.ServerCallbacks{
		WillOpenConnection: s.onPeerWillOpen,
		DidCloseConnection: s.onPeerClosed,
	})
	boundAddr, err := s.server.Start(s.addr)
	if err != nil {
		s.logger.Warn("telnet sink listen failed", "address", s.addr, "error", err)
		return false
	}
	s.addr = boundAddr.String()
	s.MarkOpen(true)
	return true
}

func (s *Sink) onPeerWillOpen(tcpConn *tcp.Connection) {
	conn := NewConn(tcpConn, s.handleLine)
	conn.SetMaxHistorySize(s.maxHistorySize)
	conn.SetShouldColorize(s.shouldColorize)

	s.mu.Lock()
	conn.SetSendRateLimit(s.sendRateLimit)
	s.peers[tcpConn.ID()] = conn
	s.mu.Unlock()

	go func() {
		if s.history != nil {
			// Enqueue (rather than call directly) so replay lands on the
			// same per-connection FIFO queue LogRecord's live fan-out
			// uses below, then wait for it to finish before the banner
			// and prompt print, preserving session startup ordering.
			done := make(chan struct{})
			conn.Enqueue(func() {
				s.replay(conn)
				close(done)
			})
			<-done
		}
		conn.Start(s.banner)
	}()
}

func (s *Sink) onPeerClosed(tcpConn *tcp.Connection) {
	s.mu.Lock()
	delete(s.peers, tcpConn.ID())
	s.mu.Unlock()
}

func (s *Sink) replay(conn *Conn) {
	records, err := s.history.EnumerateAfter(time.Unix(0, 0))
	if err != nil {
		s.logger.Warn("telnet history replay failed", "error", err)
		return
	}
	formatter := s.Formatter()
	for _, r := range records {
		plain := formatter.Format(r)
		colorized := Colorize(r.Level, plain)
		conn.WriteFanOut(plain, colorized)
	}
}

// handleLine parses line into a command and arguments and dispatches to
// cmdHandler (spec §4.8 step 4).
func (s *Sink) handleLine(c *Conn, line string) string {
	if s.cmdHandler == nil {
		return ""
	}
	cmd, args := ParseCommandLine(line)
	if cmd == "" {
		return ""
	}
	return s.cmdHandler(c, cmd, args)
}

// LogRecord formats r once, builds its colorized variant once, and fans
// both out to every connected peer; each peer decides whether to use the
// colorized variant based on its own negotiated terminal. Each peer's
// write is enqueued on that peer's own connection queue — the same queue
// history replay uses in onPeerWillOpen — so replay and live records form
// one FIFO sequence per peer (spec §4.7 step 4).
func (s *Sink) LogRecord(r *xlfacility.Record) {
	plain := s.Formatter().Format(r)
	colorized := Colorize(r.Level, plain)

	if s.history != nil {
		if err := s.history.AppendRecord(r); err != nil {
			s.logger.Warn("telnet history append failed", "error", err)
		}
	}

	s.mu.Lock()
	snapshot := make([]*Conn, 0, len(s.peers))
	for _, c := range s.peers {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	for _, c := range snapshot {
		c := c
		c.Enqueue(func() {
			c.WriteFanOut(plain, colorized)
		})
	}
}

// Close stops the server, closing every peer.
func (s *Sink) Close() {
	s.MarkOpen(false)
	if s.server != nil {
		s.server.Stop()
	}
}
