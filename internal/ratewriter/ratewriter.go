// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ratewriter provides an optional per-sink byte-rate limiter for
// the TCP/Telnet server sinks' fan-out path, a token bucket over the
// connection's own WriteData rather than a plain io.Writer, since every
// write here already goes through internal/tcp.Connection.
package ratewriter

import (
	"context"

	"golang.org/x/time/rate"
)

// maxBurstSize caps how many bytes a single reservation may request,
// mirroring the teacher's ThrottledWriter: large writes are chunked so a
// burst never reserves an unreasonably long wait in one shot.
const maxBurstSize = 256 * 1024

// Limiter paces byte writes to at most bytesPerSec bytes/second.
type Limiter struct {
	limiter *rate.Limiter
}

// New constructs a Limiter capped at bytesPerSec bytes/second. Returns nil
// if bytesPerSec <= 0 (no limiting).
func New(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WriteChunked calls write once per rate-limited chunk of data, waiting on
// the token bucket before each chunk. A nil Limiter calls write once with
// the whole payload, unthrottled.
func (l *Limiter) WriteChunked(ctx context.Context, data []byte, write func([]byte) bool) bool {
	if l == nil {
		return write(data)
	}
	burst := l.limiter.Burst()
	for len(data) > 0 {
		chunk := len(data)
		if chunk > burst {
			chunk = burst
		}
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			return false
		}
		if !write(data[:chunk]) {
			return false
		}
		data = data[chunk:]
	}
	return true
}
