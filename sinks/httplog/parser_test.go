// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package httplog

import (
	"bytes"
	"testing"
)

func TestParseRequest_Incomplete(t *testing.T) {
	_, _, ok, err := parseRequest([]byte("GET / HTTP/1.1\r\nHost: x"))
	if err != nil {
		t.Fatalf("unexpected error on incomplete request: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a request missing the terminator")
	}
}

func TestParseRequest_SimpleGet(t *testing.T) {
	req, consumed, ok, err := parseRequest([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	if err != nil || !ok {
		t.Fatalf("err=%v ok=%v", err, ok)
	}
	if req.method != "GET" || req.path != "/" {
		t.Fatalf("got method=%q path=%q", req.method, req.path)
	}
	if consumed != len("GET / HTTP/1.1\r\nHost: x\r\n\r\n") {
		t.Fatalf("consumed=%d, want full header length", consumed)
	}
}

func TestParseRequest_AfterQueryParam(t *testing.T) {
	req, _, ok, err := parseRequest([]byte("GET /log?after=12345.5 HTTP/1.1\r\n\r\n"))
	if err != nil || !ok {
		t.Fatalf("err=%v ok=%v", err, ok)
	}
	if req.path != "/log" {
		t.Fatalf("path=%q, want /log", req.path)
	}
	if !req.hasAfter || req.after != 12345.5 {
		t.Fatalf("after=%v hasAfter=%v, want 12345.5/true", req.after, req.hasAfter)
	}
}

func TestParseRequest_NoQueryParam(t *testing.T) {
	req, _, ok, err := parseRequest([]byte("GET /log HTTP/1.1\r\n\r\n"))
	if err != nil || !ok {
		t.Fatalf("err=%v ok=%v", err, ok)
	}
	if req.hasAfter {
		t.Fatal("expected hasAfter=false when no ?after= present")
	}
}

func TestParseRequest_MalformedRequestLine(t *testing.T) {
	_, _, _, err := parseRequest([]byte("GET\r\n\r\n"))
	if err == nil {
		t.Fatal("expected an error for a malformed request line")
	}
}

func TestParseRequest_NonHTTPProtocol(t *testing.T) {
	_, _, _, err := parseRequest([]byte("GET / GOPHER/1.0\r\n\r\n"))
	if err == nil {
		t.Fatal("expected an error for a non-HTTP protocol token")
	}
}

func TestParseRequest_BadAfterValue(t *testing.T) {
	_, _, _, err := parseRequest([]byte("GET /log?after=notanumber HTTP/1.1\r\n\r\n"))
	if err == nil {
		t.Fatal("expected an error for a non-numeric after value")
	}
}

func TestParseRequest_OversizedWithoutTerminatorIsMalformed(t *testing.T) {
	big := bytes.Repeat([]byte("a"), maxRequestBytes+1)
	_, _, _, err := parseRequest(big)
	if err == nil {
		t.Fatal("expected an error once the 8 KiB bound is exceeded without finding \\r\\n\\r\\n")
	}
}
