// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xlfacility

import "testing"

func TestLevelOrdering(t *testing.T) {
	ordered := []Level{LevelDebug, LevelVerbose, LevelInfo, LevelWarning, LevelError, LevelException, LevelAbort}
	for i := 1; i < len(ordered); i++ {
		if !(ordered[i-1] < ordered[i]) {
			t.Fatalf("expected %v < %v", ordered[i-1], ordered[i])
		}
	}
	if LevelAbort >= LevelMute {
		t.Fatalf("expected LevelAbort < LevelMute, a sentinel disabling every gate")
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug:     "debug",
		LevelVerbose:   "verbose",
		LevelInfo:      "info",
		LevelWarning:   "warning",
		LevelError:     "error",
		LevelException: "exception",
		LevelAbort:     "abort",
		LevelMute:      "mute",
		Level(99):      "unknown",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestLevelPadded(t *testing.T) {
	if got := LevelInfo.Padded(); len(got) != levelPadWidth {
		t.Errorf("Padded() length = %d, want %d (got %q)", len(got), levelPadWidth, got)
	}
	if got := LevelException.Padded(); got != "EXCEPTION" {
		t.Errorf("Padded() for the longest name = %q, want %q", got, "EXCEPTION")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantOK  bool
	}{
		{"debug", LevelDebug, true},
		{"0", LevelDebug, true},
		{"WARNING", LevelWarning, true},
		{"warn", LevelWarning, true},
		{"3", LevelWarning, true},
		{"6", LevelAbort, true},
		{"mute", LevelMute, true},
		{"  error  ", LevelError, true},
		{"nonsense", LevelInfo, false},
		{"7", LevelInfo, false},
	}
	for _, c := range cases {
		got, ok := ParseLevel(c.in)
		if got != c.want || ok != c.wantOK {
			t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.wantOK)
		}
	}
}
