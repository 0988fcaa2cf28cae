// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xlfacility

import (
	"os"
	"syscall"
)

// capturedStderr is a dup() of fd 2 taken at process start, so that a
// later redirect of fd 2 (os.Stderr itself being swapped, or the
// underlying fd being dup2'd over) does not affect where this sink writes
// (spec §4.3: "captured at process start so that later fd redirection
// does not affect it").
var capturedStderr = dupStderr()

func dupStderr() *os.File {
	fd, err := syscall.Dup(int(os.Stderr.Fd()))
	if err != nil {
		return os.Stderr
	}
	return os.NewFile(uintptr(fd), "/dev/stderr")
}

// StdStreamSink writes formatted records to the process's captured
// standard error stream.
type StdStreamSink struct {
	*BaseSink
}

// NewStdStreamSink constructs a StdStreamSink.
func NewStdStreamSink() *StdStreamSink {
	return &StdStreamSink{BaseSink: NewBaseSink()}
}

// Open always succeeds.
func (s *StdStreamSink) Open() bool {
	s.setOpen(true)
	return true
}

// LogRecord writes the formatted record to the captured stderr stream.
func (s *StdStreamSink) LogRecord(r *Record) {
	_, _ = capturedStderr.WriteString(s.Formatter().Format(r))
}

// Close marks the sink closed and leaves the captured stream open; the
// stream outlives any single sink.
func (s *StdStreamSink) Close() {
	s.setOpen(false)
}
