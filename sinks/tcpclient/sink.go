// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tcpclient implements the TCP client sink base (spec §4.9):
// symmetric to tcpserver, but wrapping a single auto-reconnecting client
// connection instead of a server accepting many peers.
package tcpclient

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

// SendTimeout mirrors tcpserver.SendTimeout's semantics, identical per
// spec §4.9 ("Respects sendTimeout semantics identical to §4.7").
type SendTimeout time.Duration

const (
	FireAndForget SendTimeout = -1
	BlockForever  SendTimeout = 0
)

// Sink wraps an internal/tcp.Client. On connect, it optionally replays
// history, then streams live records. While disconnected, live records
// are buffered only if a history Store is attached (they're simply
// appended there and will surface via the next connect's replay);
// without a Store they're silently dropped, exactly as spec §4.9
// specifies.
type Sink struct {
	*xlfacility.BaseSink

	addr        string
	logger      *slog.Logger
	client      *tcp.Client
	sendTimeout SendTimeout
	history     history.Store
	rateLimit   *ratewriter.Limiter

	mu   sync.Mutex
	conn *tcp.Connection
}

// New constructs a Sink that will dial addr once Open is called. hist may
// be nil.
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
	}
}

// SetSendRateLimit caps writes to bytesPerSec bytes/second, token-bucketed
// identically to tcpserver.Sink.SetSendRateLimit. bytesPerSec <= 0
// disables limiting (the default).
func (s *Sink) SetSendRateLimit(bytesPerSec int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimit = ratewriter.New(bytesPerSec)
}

// Open starts the auto-reconnecting client. The client is always created
// with automatic reconnection, so Open succeeds immediately and connection
// happens in the background, matching tcp.Client.Start's contract.
func (s *Sink) Open() bool {
	s.client = tcp.NewClient(s.logger, tcp.ClientCallbacks{
		DidOpen:  s.onOpen,
		DidClose: s.onClose,
	})
	if err := s.client.Start(s.addr); err != nil {
		s.logger.Warn("tcp client sink connect failed", "address", s.addr, "error", err)
		return false
	}
	s.MarkOpen(true)
	return true
}

func (s *Sink) onOpen(conn *tcp.Connection) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if s.history != nil {
		conn.Queue().Enqueue(func() {
			s.replay(conn)
		})
	}
}

func (s *Sink) onClose(conn *tcp.Connection) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

func (s *Sink) replay(conn *tcp.Connection) {
	records, err := s.history.EnumerateAfter(time.Unix(0, 0))
	if err != nil {
		s.logger.Warn("history replay failed", "error", err)
		return
	}
	formatter := s.Formatter()
	for _, r := range records {
		s.writeTo(conn, []byte(formatter.Format(r)))
	}
}

// LogRecord formats r and, if currently connected, fans it to the single
// live connection on that connection's own serial queue (preserving
// ordering relative to replay per spec §4.7's rule, reused here by §4.9).
func (s *Sink) LogRecord(r *xlfacility.Record) {
	if s.history != nil {
		if err := s.history.AppendRecord(r); err != nil {
			s.logger.Warn("history append failed", "error", err)
		}
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	text := []byte(s.Formatter().Format(r))
	conn.Queue().Enqueue(func() {
		s.writeTo(conn, text)
	})
}

func (s *Sink) writeTo(conn *tcp.Connection, data []byte) {
	s.mu.Lock()
	limit := s.rateLimit
	s.mu.Unlock()

	switch {
	case s.sendTimeout < 0:
		conn.WriteDataAsync(data, nil)
	case s.sendTimeout == 0:
		limit.WriteChunked(context.Background(), data, func(chunk []byte) bool {
			return conn.WriteData(context.Background(), chunk)
		})
	default:
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.sendTimeout))
		defer cancel()
		if !limit.WriteChunked(ctx, data, func(chunk []byte) bool {
			return conn.WriteData(ctx, chunk)
		}) {
			conn.Close()
		}
	}
}

// Close stops the client, closing any live connection.
func (s *Sink) Close() {
	s.MarkOpen(false)
	if s.client != nil {
		s.client.Stop()
	}
}
