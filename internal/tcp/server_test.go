// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tcp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

func TestServer_StartAcceptsOnEphemeralPort(t *testing.T) {
	var opened, closedCount int
	var mu sync.Mutex

	s := NewServer(nil, ServerCallbacks{
		WillOpenConnection: func(c *Connection) {
			mu.Lock()
			opened++
			mu.Unlock()
		},
		DidCloseConnection: func(c *Connection) {
			mu.Lock()
			closedCount++
			mu.Unlock()
		},
	})

	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := opened
		mu.Unlock()
		if got == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if opened != 1 {
		t.Fatalf("expected WillOpenConnection called once, got %d", opened)
	}
}

func TestServer_StopClosesAllConnectionsAndBlocks(t *testing.T) {
	s := NewServer(nil, ServerCallbacks{})
	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	const n = 3
	conns := make([]net.Conn, n)
	for i := 0; i < n; i++ {
		c, err := net.Dial("tcp", addr.String())
		if err != nil {
			t.Fatal(err)
		}
		conns[i] = c
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	time.Sleep(50 * time.Millisecond) // let the accept loop register all peers

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; expected it to block only until connections drain")
	}

	if len(s.Connections()) != 0 {
		t.Fatal("expected no live connections after Stop")
	}
}

func TestServer_EphemeralPortEachStartDiffers(t *testing.T) {
	s1 := NewServer(nil, ServerCallbacks{})
	a1, err := s1.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Stop()

	s2 := NewServer(nil, ServerCallbacks{})
	a2, err := s2.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Stop()

	if a1.String() == a2.String() {
		t.Fatal("expected two independent ephemeral ports")
	}
}

func TestServer_ConnectionRemovedFromLiveSetOnClose(t *testing.T) {
	s := NewServer(nil, ServerCallbacks{})
	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(s.Connections()) == 0 {
		time.Sleep(time.Millisecond)
	}
	if len(s.Connections()) != 1 {
		t.Fatal("expected exactly one live connection")
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(s.Connections()) != 0 {
		time.Sleep(time.Millisecond)
	}
	if len(s.Connections()) != 0 {
		t.Fatal("expected the live set to empty after the peer disconnects")
	}
}

func TestConnectionID_FormatsAsUUID(t *testing.T) {
	id := newConnectionID()
	if len(id) != 36 {
		t.Fatalf("expected a 36-char UUID string, got %q (%d chars)", id, len(id))
	}
}

// Ensure Connection.WriteData/ReadData with context.Background() blocks
// indefinitely rather than timing out immediately (spec §4.4: "timeout 0
// means block indefinitely").
func TestConnection_BackgroundContextBlocksUntilData(t *testing.T) {
	s := NewServer(nil, ServerCallbacks{})
	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	raw, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	result := make(chan []byte, 1)
	go func() {
		for _, c := range pollUntilConnections(s) {
			data := c.ReadData(context.Background(), 16)
			result <- data
			return
		}
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case <-result:
		t.Fatal("read should still be blocked with no data written")
	default:
	}

	raw.Write([]byte("x"))
	select {
	case got := <-result:
		if string(got) != "x" {
			t.Fatalf("got %q, want %q", got, "x")
		}
	case <-time.After(time.Second):
		t.Fatal("read never unblocked after data arrived")
	}
}

func pollUntilConnections(s *Server) []*Connection {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conns := s.Connections(); len(conns) > 0 {
			return conns
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
