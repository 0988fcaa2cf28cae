// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package httplog implements the HTTP long-poll sink (spec §4.10): a
// minimal hand-rolled HTTP/1.1 parser sitting directly on the same
// internal/tcp.Connection transport the Telnet sink uses, rather than
// net/http, so the module's two hardest sinks share one transport story.
package httplog

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// maxRequestBytes bounds request-line + header parsing (spec §4.10:
// "bounded to 8 KiB").
const maxRequestBytes = 8 * 1024

// request is the minimal parsed shape this sink needs: method, path, and
// the query string's "after" parameter.
type request struct {
	method   string
	path     string
	after    float64
	hasAfter bool
}

// errMalformed is returned by parseRequest for anything that should map
// to a 400 response.
var errMalformed = fmt.Errorf("malformed HTTP request")

// parseRequest scans buf for a complete request (terminated by
// "\r\n\r\n"), returning the parsed request and the number of bytes
// consumed. ok is false if buf does not yet contain a complete request
// and is under the size bound (caller should keep reading); an error is
// returned once the bound is exceeded without finding the terminator, or
// the request line/headers are malformed.
func parseRequest(buf []byte) (req request, consumed int, ok bool, err error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(buf) > maxRequestBytes {
			return request{}, 0, false, errMalformed
		}
		return request{}, 0, false, nil
	}
	head := buf[:idx]
	consumed = idx + 4

	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 {
		return request{}, consumed, false, errMalformed
	}

	requestLine := strings.Fields(lines[0])
	if len(requestLine) != 3 {
		return request{}, consumed, false, errMalformed
	}
	method, target, proto := requestLine[0], requestLine[1], requestLine[2]
	if !strings.HasPrefix(proto, "HTTP/1.") {
		return request{}, consumed, false, errMalformed
	}

	path, query, _ := strings.Cut(target, "?")
	req = request{method: method, path: path}

	for _, kv := range strings.Split(query, "&") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		if k == "after" {
			t, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				return request{}, consumed, false, errMalformed
			}
			req.after = t
			req.hasAfter = true
		}
	}

	return req, consumed, true, nil
}
