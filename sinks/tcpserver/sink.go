// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tcpserver implements the TCP server sink base (spec §4.7): a
// Sink that is also a TCP server, fanning formatted records out to every
// currently-open peer, with optional history replay on connect.
package tcpserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/xlfacility"
	"github.com/nishisan-dev/xlfacility/history"
	"github.com/nishisan-dev/xlfacility/internal/ratewriter"
	"github.com/nishisan-dev/xlfacility/internal/tcp"
)

// SendTimeout mirrors spec §4.7 step 3: negative is fire-and-forget, zero
// blocks indefinitely per peer, positive bounds the wait and closes any
// peer that times out.
type SendTimeout time.Duration

const (
	FireAndForget SendTimeout = -1
	BlockForever  SendTimeout = 0
)

// Peer is one accepted connection; records are fanned to it strictly in
// order via its own connection-level serial queue.
type Peer struct {
	conn *tcp.Connection
}

// Sink is a Sink and a TCP server: every LogRecord formats once and fans
// the bytes out to all currently-open peers, replaying history to each
// peer as it connects. Grounded on internal/server/server.go +
// internal/server/handler.go's fan-out-to-registered-peers shape
// (controlConns sync.Map), generalized from the backup control protocol
// to arbitrary formatted log bytes.
type Sink struct {
	*xlfacility.BaseSink

	addr        string
	logger      *slog.Logger
	server      *tcp.Server
	sendTimeout SendTimeout
	history     history.Store
	rateLimit   *ratewriter.Limiter

	mu    sync.Mutex
	peers map[string]*Peer
}

// New constructs a Sink that will listen on addr once Open is called.
// hist may be nil to disable history replay/append.
func New(addr string, logger *slog.Logger, sendTimeout SendTimeout, hist history.Store) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		BaseSink:    xlfacility.NewBaseSink(),
		addr:        addr,
		logger:      logger,
		sendTimeout: sendTimeout,
		history:     hist,
		peers:       make(map[string]*Peer),
	}
}

// SetSendRateLimit caps fan-out writes to bytesPerSec bytes/second per
// peer, token-bucketed, grounded on the teacher's
// internal/agent.ThrottledWriter. bytesPerSec <= 0 disables limiting
// (the default).
func (s *Sink) SetSendRateLimit(bytesPerSec int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimit = ratewriter.New(bytesPerSec)
}

// Addr returns the bound listen address once Open has succeeded.
func (s *Sink) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Open starts listening. Returning false leaves the sink unregistered
// (spec §4.1: "addSink returns false if open returned false").
func (s *Sink) Open() bool {
	s.server = tcp.NewServer(s.logger, tcp.ServerCallbacks{
		WillOpenConnection: s.onPeerWillOpen,
		DidCloseConnection: s.onPeerClosed,
	})
	boundAddr, err := s.server.Start(s.addr)
	if err != nil {
		s.logger.Warn("tcp server sink listen failed", "address", s.addr, "error", err)
		return false
	}
	s.addr = boundAddr.String()
	s.MarkOpen(true)
	return true
}

func (s *Sink) onPeerWillOpen(conn *tcp.Connection) {
	peer := &Peer{conn: conn}

	s.mu.Lock()
	s.peers[conn.ID()] = peer
	s.mu.Unlock()

	if s.history != nil {
		conn.Queue().Enqueue(func() {
			s.replay(peer)
		})
	}
}

func (s *Sink) onPeerClosed(conn *tcp.Connection) {
	s.mu.Lock()
	delete(s.peers, conn.ID())
	s.mu.Unlock()
}

// replay streams every stored history record to peer before any live
// record is allowed to interleave, by running on the peer connection's
// own serial queue — the same queue live LogRecord sends use, satisfying
// spec §4.7's "Replay and live streaming must be serialized per peer."
func (s *Sink) replay(peer *Peer) {
	records, err := s.history.EnumerateAfter(time.Unix(0, 0))
	if err != nil {
		s.logger.Warn("history replay failed", "error", err)
		return
	}
	formatter := s.Formatter()
	for _, r := range records {
		s.writeToPeer(peer, []byte(formatter.Format(r)))
	}
}

// LogRecord formats r once and fans it out to every currently open peer,
// honoring SendTimeout semantics per peer.
func (s *Sink) LogRecord(r *xlfacility.Record) {
	text := s.Formatter().Format(r)

	if s.history != nil {
		if err := s.history.AppendRecord(r); err != nil {
			s.logger.Warn("history append failed", "error", err)
		}
	}

	s.mu.Lock()
	snapshot := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		snapshot = append(snapshot, p)
	}
	s.mu.Unlock()

	data := []byte(text)
	for _, p := range snapshot {
		p := p
		p.conn.Queue().Enqueue(func() {
			s.writeToPeer(p, data)
		})
	}
}

func (s *Sink) writeToPeer(p *Peer, data []byte) {
	s.mu.Lock()
	limit := s.rateLimit
	s.mu.Unlock()

	switch {
	case s.sendTimeout < 0:
		p.conn.WriteDataAsync(data, nil)
	case s.sendTimeout == 0:
		limit.WriteChunked(context.Background(), data, func(chunk []byte) bool {
			return p.conn.WriteData(context.Background(), chunk)
		})
	default:
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.sendTimeout))
		defer cancel()
		if !limit.WriteChunked(ctx, data, func(chunk []byte) bool {
			return p.conn.WriteData(ctx, chunk)
		}) {
			p.conn.Close()
		}
	}
}

// Close stops the server, closing every peer and waiting for them to
// drain.
func (s *Sink) Close() {
	s.MarkOpen(false)
	if s.server != nil {
		s.server.Stop()
	}
}
