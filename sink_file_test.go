// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xlfacility

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSink_AppendAndTruncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	s := NewFileSink(path, false)
	if !s.Open() {
		t.Fatal("Open failed")
	}
	s.Formatter().Template = "%m"
	s.LogRecord(&Record{Message: "one"})
	s.Close()

	s2 := NewFileSink(path, false)
	if !s2.Open() {
		t.Fatal("reopen in append mode failed")
	}
	s2.Formatter().Template = "%m"
	s2.LogRecord(&Record{Message: "two"})
	s2.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "one\ntwo\n" {
		t.Fatalf("append mode content = %q, want %q", got, "one\ntwo\n")
	}

	s3 := NewFileSink(path, true)
	if !s3.Open() {
		t.Fatal("truncate open failed")
	}
	s3.Formatter().Template = "%m"
	s3.LogRecord(&Record{Message: "three"})
	s3.Close()

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "three\n" {
		t.Fatalf("truncate mode content = %q, want %q", got, "three\n")
	}
}

func TestFileSink_OpenFailureOnBadPath(t *testing.T) {
	s := NewFileSink("/nonexistent-dir-xyz/out.log", false)
	if s.Open() {
		t.Fatal("expected Open to fail for an unwritable path")
	}
}

func TestFileSink_AdoptedDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adopted.log")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	s := NewFileSinkFromFile(f)
	if !s.Open() {
		t.Fatal("Open on adopted file failed")
	}
	s.Formatter().Template = "%m"
	s.LogRecord(&Record{Message: "adopted"})
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "adopted") {
		t.Fatalf("expected content to contain 'adopted', got %q", data)
	}
}
