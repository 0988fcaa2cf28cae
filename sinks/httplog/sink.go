// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package httplog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/xlfacility"
	"github.com/nishisan-dev/xlfacility/history"
	"github.com/nishisan-dev/xlfacility/internal/tcp"
)

// longPollTimeout bounds how long a /log?after= request blocks waiting
// for a new record before responding with an empty array (spec §4.10).
const longPollTimeout = 30 * time.Second

// htmlShell is the minimal browser page served at GET /, which polls
// /log?after=<t> in a loop. Kept intentionally small; this sink's job is
// the wire protocol, not a rich UI.
const htmlShell = `<!doctype html>
<html><head><title>xlfacility log</title></head>
<body><pre id="log"></pre>
<script>
var after = 0;
function poll() {
  fetch('/log?after=' + after).then(function(r) { return r.json(); }).then(function(records) {
    var el = document.getElementById('log');
    records.forEach(function(rec) {
      after = rec[0];
      el.textContent += '[' + rec[1] + '] ' + (rec[2] ? rec[2] + ': ' : '') + rec[3] + '\n';
    });
    poll();
  }).catch(function() { setTimeout(poll, 1000); });
}
poll();
</script>
</body></html>`

// Sink is the HTTP long-poll sink (spec §4.10): each accepted connection
// is treated as exactly one HTTP/1.1 request/response, after which the
// connection is closed ("Connection: close"), matching the grounding
// shape of internal/server/observability/http.go's small handler table
// but parsed by hand rather than via net/http.
type Sink struct {
	*xlfacility.BaseSink

	addr    string
	logger  *slog.Logger
	server  *tcp.Server
	history history.Store

	mu         sync.Mutex
	cond       *sync.Cond
	generation uint64
}

// New constructs a Sink. hist is required (spec §4.10: "Records
// delivered to this sink are both appended to the history sink").
func New(addr string, logger *slog.Logger, hist history.Store) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		BaseSink: xlfacility.NewBaseSink(),
		addr:     addr,
		logger:   logger,
		history:  hist,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Addr returns the bound listen address once Open has succeeded.
func (s *Sink) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Open starts listening.
func (s *Sink) Open() bool {
	if s.history == nil {
		s.logger.Warn("http long-poll sink requires a history store")
		return false
	}
	s.server = tcp.NewServer(s.logger, tcp.ServerCallbacks{
		WillOpenConnection: s.handleConnection,
	})
	boundAddr, err := s.server.Start(s.addr)
	if err != nil {
		s.logger.Warn("http long-poll sink listen failed", "address", s.addr, "error", err)
		return false
	}
	s.addr = boundAddr.String()
	s.MarkOpen(true)
	return true
}

func (s *Sink) handleConnection(conn *tcp.Connection) {
	go s.serveOne(conn)
}

func (s *Sink) serveOne(conn *tcp.Connection) {
	defer conn.Close()

	var buf []byte
	var req request
	for {
		chunk := conn.ReadData(context.Background(), 4096)
		if len(chunk) == 0 {
			return
		}
		buf = append(buf, chunk...)

		var ok bool
		var err error
		req, _, ok, err = parseRequest(buf)
		if err != nil {
			s.writeResponse(conn, 400, "text/plain", []byte("400 Bad Request"))
			return
		}
		if ok {
			break
		}
	}

	if req.method != "GET" {
		s.writeResponse(conn, 400, "text/plain", []byte("400 Bad Request"))
		return
	}

	switch req.path {
	case "/":
		s.writeResponse(conn, 200, "text/html", []byte(htmlShell))
	case "/log":
		s.serveLog(conn, req)
	default:
		s.writeResponse(conn, 400, "text/plain", []byte("400 Bad Request"))
	}
}

func (s *Sink) serveLog(conn *tcp.Connection, req request) {
	after := time.Unix(0, 0)
	if req.hasAfter {
		sec := int64(req.after)
		nsec := int64((req.after - float64(sec)) * 1e9)
		after = time.Unix(sec, nsec)
	}

	records, err := s.history.EnumerateAfter(after)
	if err != nil {
		s.writeResponse(conn, 400, "text/plain", []byte("400 Bad Request"))
		return
	}

	if req.hasAfter && len(records) == 0 {
		records = s.waitForNext(after)
	}

	body, err := json.Marshal(toTuples(records))
	if err != nil {
		s.writeResponse(conn, 400, "text/plain", []byte("400 Bad Request"))
		return
	}
	s.writeResponse(conn, 200, "application/json", body)
}

// waitForNext blocks up to longPollTimeout for a new record to be
// appended via LogRecord, signaled through s.cond.
func (s *Sink) waitForNext(after time.Time) []*xlfacility.Record {
	deadline := time.Now().Add(longPollTimeout)

	s.mu.Lock()
	gen := s.generation
	for s.generation == gen {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.mu.Unlock()
			return nil
		}
		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		s.cond.Wait()
		timer.Stop()
		if time.Now().After(deadline) {
			break
		}
	}
	s.mu.Unlock()

	records, err := s.history.EnumerateAfter(after)
	if err != nil {
		return nil
	}
	return records
}

func toTuples(records []*xlfacility.Record) [][4]any {
	out := make([][4]any, 0, len(records))
	for _, r := range records {
		out = append(out, [4]any{r.AbsoluteTime, r.Level.String(), r.Tag, r.Message})
	}
	return out
}

func (s *Sink) writeResponse(conn *tcp.Connection, status int, contentType string, body []byte) {
	statusText := "OK"
	if status == 400 {
		statusText = "Bad Request"
	}
	header := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, statusText, contentType, len(body),
	)
	conn.WriteData(context.Background(), append([]byte(header), body...))
}

// LogRecord appends r to history and wakes any long-polling peers.
func (s *Sink) LogRecord(r *xlfacility.Record) {
	if err := s.history.AppendRecord(r); err != nil {
		s.logger.Warn("http long-poll history append failed", "error", err)
	}

	s.mu.Lock()
	s.generation++
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Close stops the server.
func (s *Sink) Close() {
	s.MarkOpen(false)
	if s.server != nil {
		s.server.Stop()
	}
}
