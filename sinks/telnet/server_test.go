// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package telnet

import (
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/xlfacility"
	"github.com/nishisan-dev/xlfacility/history"
)

func newOpenSink(t *testing.T, banner string, handler CommandHandler, hist history.Store) *Sink {
	t.Helper()
	s := New("127.0.0.1:0", banner, handler, 1<<20, false, nil, hist)
	if !s.Open() {
		t.Fatal("Open failed")
	}
	t.Cleanup(s.Close)
	return s
}

func TestSink_SendsNegotiationBlockThenBanner(t *testing.T) {
	s := newOpenSink(t, "welcome", nil, nil)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	var got []byte
	want := append(append([]byte{}, negotiationBlock...), []byte("welcome\r\n> ")...)
	for len(got) < len(want) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read failed with %d/%d bytes: %v", len(got), len(want), err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != string(want) {
		t.Fatalf("startup bytes = %q, want %q", got, want)
	}
}

func TestSink_CommandHandlerReceivesParsedLine(t *testing.T) {
	var gotCmd string
	var gotArgs []string
	handler := func(c *Conn, cmd string, args []string) string {
		gotCmd, gotArgs = cmd, args
		return "ack"
	}
	s := newOpenSink(t, "", handler, nil)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let negotiation + prompt land
	conn.Write([]byte("set level debug\r"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	var got []byte
	for !containsSubstring(string(got), "ack") {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read failed before seeing the handler's response: %v (got %q)", err, got)
		}
		got = append(got, buf[:n]...)
	}

	if gotCmd != "set" {
		t.Fatalf("cmd = %q, want set", gotCmd)
	}
	if len(gotArgs) != 2 || gotArgs[0] != "level" || gotArgs[1] != "debug" {
		t.Fatalf("args = %v, want [level debug]", gotArgs)
	}
}

func containsSubstring(s, sub string) bool {
	if sub == "" {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestSink_LogRecordFansOutToConnectedPeer(t *testing.T) {
	s := newOpenSink(t, "", nil, nil)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	s.LogRecord(&xlfacility.Record{AbsoluteTime: 1, Level: xlfacility.LevelInfo, Message: "an event happened"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	var got []byte
	for !containsSubstring(string(got), "an event happened") {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read failed before seeing the fanned-out record: %v (got %q)", err, got)
		}
		got = append(got, buf[:n]...)
	}
}

func TestSink_ReplaysHistoryToNewPeer(t *testing.T) {
	path := t.TempDir() + "/hist.jsonl"
	hist, err := history.NewJSONLStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer hist.Close()
	hist.AppendRecord(&xlfacility.Record{AbsoluteTime: 1, Message: "earlier entry"})

	s := newOpenSink(t, "", nil, hist)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	var got []byte
	for !containsSubstring(string(got), "earlier entry") {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read failed before seeing the replayed record: %v (got %q)", err, got)
		}
		got = append(got, buf[:n]...)
	}
}

func TestSink_PeerRemovedFromRegistryOnDisconnect(t *testing.T) {
	s := newOpenSink(t, "", nil, nil)

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if s.peerCount() != 1 {
		t.Fatalf("peerCount = %d, want 1", s.peerCount())
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.peerCount() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if s.peerCount() != 0 {
		t.Fatal("expected the peer to be removed from the registry after disconnect")
	}
}

func (s *Sink) peerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
