// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nishisan-dev/xlfacility"
)

// jsonlRecord is the on-disk shape of a Record, grounded on
// observability.EventEntry's plain-struct JSON encoding.
type jsonlRecord struct {
	AbsoluteTime float64  `json:"absolute_time"`
	Tag          string   `json:"tag,omitempty"`
	Level        int      `json:"level"`
	Message      string   `json:"message"`
	Errno        int      `json:"errno,omitempty"`
	ThreadID     int64    `json:"thread_id,omitempty"`
	QueueLabel   string   `json:"queue_label,omitempty"`
	Callstack    []string `json:"callstack,omitempty"`
}

func toJSONL(r *xlfacility.Record) jsonlRecord {
	return jsonlRecord{
		AbsoluteTime: r.AbsoluteTime,
		Tag:          r.Tag,
		Level:        int(r.Level),
		Message:      r.Message,
		Errno:        r.Errno,
		ThreadID:     r.ThreadID,
		QueueLabel:   r.QueueLabel,
		Callstack:    r.Callstack,
	}
}

func (j jsonlRecord) toRecord() *xlfacility.Record {
	return &xlfacility.Record{
		AbsoluteTime: j.AbsoluteTime,
		Tag:          j.Tag,
		Level:        xlfacility.Level(j.Level),
		Message:      j.Message,
		Errno:        j.Errno,
		ThreadID:     j.ThreadID,
		QueueLabel:   j.QueueLabel,
		Callstack:    j.Callstack,
	}
}

// JSONLStore is a concrete, file-backed Store: one JSON object per line,
// appended on every record, loaded fully into memory on open, and
// rotated (keeping the newest half) once the file exceeds maxLines.
// Grounded directly on
// internal/server/observability/event_store.go's EventStore: same
// load-on-start, append-one-line, line-count-triggered rotation shape,
// adapted from EventRing's fixed-capacity ring to an in-memory slice
// pruned by PurgeBefore and trimmed to the newest half by rotate.
type JSONLStore struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	entries   []*xlfacility.Record
	lineCount int
	maxLines  int
}

// NewJSONLStore opens (or creates) path, loading any existing entries.
// maxLines <= 0 defaults to 10000, matching EventStore's default.
func NewJSONLStore(path string, maxLines int) (*JSONLStore, error) {
	if maxLines <= 0 {
		maxLines = 10000
	}

	entries, lineCount, err := loadJSONL(path)
	if err != nil {
		return nil, fmt.Errorf("loading history file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening history file for append: %w", err)
	}

	return &JSONLStore{
		path:      path,
		file:      f,
		entries:   entries,
		lineCount: lineCount,
		maxLines:  maxLines,
	}, nil
}

func loadJSONL(path string) ([]*xlfacility.Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	var out []*xlfacility.Record
	lineCount := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineCount++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var j jsonlRecord
		if err := json.Unmarshal(line, &j); err != nil {
			continue
		}
		out = append(out, j.toRecord())
	}
	return out, lineCount, scanner.Err()
}

// AppendRecord persists r as one JSON line, rotating if the file has
// grown past maxLines.
func (s *JSONLStore) AppendRecord(r *xlfacility.Record) error {
	data, err := json.Marshal(toJSONL(r))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, r)

	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return err
	}
	s.lineCount++
	if s.lineCount > s.maxLines {
		s.rotate()
	}
	return nil
}

// rotate keeps the newest maxLines/2 entries, rewriting the file. Caller
// must hold s.mu.
func (s *JSONLStore) rotate() {
	keep := s.maxLines / 2
	if len(s.entries) <= keep {
		return
	}
	s.entries = s.entries[len(s.entries)-keep:]

	_ = s.file.Close()

	f, err := os.Create(s.path)
	if err != nil {
		s.file, _ = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		return
	}

	w := bufio.NewWriter(f)
	for _, r := range s.entries {
		data, err := json.Marshal(toJSONL(r))
		if err != nil {
			continue
		}
		_, _ = w.Write(data)
		_ = w.WriteByte('\n')
	}
	_ = w.Flush()
	_ = f.Close()

	s.file, err = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	s.lineCount = len(s.entries)
}

// PurgeBefore discards every entry with AbsoluteTime strictly before t and
// rewrites the file to match.
func (s *JSONLStore) PurgeBefore(t time.Time) error {
	cutoff := float64(t.UnixNano()) / 1e9

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0:0]
	for _, r := range s.entries {
		if r.AbsoluteTime >= cutoff {
			kept = append(kept, r)
		}
	}
	s.entries = kept

	_ = s.file.Close()
	f, err := os.Create(s.path)
	if err != nil {
		s.file, _ = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		return err
	}
	w := bufio.NewWriter(f)
	for _, r := range s.entries {
		data, err := json.Marshal(toJSONL(r))
		if err != nil {
			continue
		}
		_, _ = w.Write(data)
		_ = w.WriteByte('\n')
	}
	_ = w.Flush()
	_ = f.Close()

	s.file, err = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	s.lineCount = len(s.entries)
	return err
}

// EnumerateAfter returns every stored record with AbsoluteTime strictly
// after t, in chronological order.
func (s *JSONLStore) EnumerateAfter(t time.Time) ([]*xlfacility.Record, error) {
	cutoff := float64(t.UnixNano()) / 1e9

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*xlfacility.Record, 0)
	for _, r := range s.entries {
		if r.AbsoluteTime > cutoff {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AbsoluteTime < out[j].AbsoluteTime
	})
	return out, nil
}

// Close closes the backing file handle.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
