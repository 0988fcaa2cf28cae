// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xlfacility

import (
	"os"
	"sync"
)

// FileSink writes each formatted record as one unbuffered write to a path
// on disk, opened in append mode (or truncated, if configured), matching
// spec §4.3: "performs no buffering (each record is one write)".
type FileSink struct {
	*BaseSink

	path     string
	truncate bool
	file     *os.File

	mu sync.Mutex
}

// NewFileSink returns a FileSink that will open path in append mode on
// Open. truncate, if true, discards any existing file content instead.
func NewFileSink(path string, truncate bool) *FileSink {
	return &FileSink{
		BaseSink: NewBaseSink(),
		path:     path,
		truncate: truncate,
	}
}

// NewFileSinkFromFile adopts an already-open file descriptor, matching
// spec §4.3's "or adopts a file descriptor" variant. The sink takes
// ownership: Close closes f.
func NewFileSinkFromFile(f *os.File) *FileSink {
	return &FileSink{
		BaseSink: NewBaseSink(),
		file:     f,
	}
}

// Open opens the backing file if one wasn't already adopted.
func (s *FileSink) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.setOpen(true)
		return true
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if s.truncate {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(s.path, flags, 0644)
	if err != nil {
		return false
	}
	s.file = f
	s.setOpen(true)
	return true
}

// LogRecord formats r and writes it to the file in a single call.
func (s *FileSink) LogRecord(r *Record) {
	text := s.Formatter().Format(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	_, _ = s.file.WriteString(text)
}

// Close closes the backing file.
func (s *FileSink) Close() {
	s.setOpen(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}
