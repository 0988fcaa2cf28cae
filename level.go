// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xlfacility implements a structured logging facility with
// pluggable sinks: a process-wide dispatcher that fans log records out to
// an arbitrary set of concurrently-registered sinks (file, callback,
// stderr, TCP, Telnet, HTTP long-poll).
package xlfacility

import "strings"

// Level is the severity of a LogRecord. Levels form a total order; a
// Facility or Sink with a minimum level drops any record strictly below
// it.
type Level int

const (
	LevelDebug Level = iota
	LevelVerbose
	LevelInfo
	LevelWarning
	LevelError
	LevelException
	LevelAbort

	// LevelMute disables a level gate entirely: nothing is ever >= Mute.
	LevelMute Level = 1 << 30
)

// String returns the lowercase level name used by the "%l" formatter
// specifier.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelVerbose:
		return "verbose"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelException:
		return "exception"
	case LevelAbort:
		return "abort"
	case LevelMute:
		return "mute"
	default:
		return "unknown"
	}
}

// levelPadWidth is the fixed width used by the "%L" (padded) specifier:
// the length of the longest level name, "exception".
const levelPadWidth = 9

// Padded returns the level name uppercased and right-padded to
// levelPadWidth, used by the "%L" formatter specifier.
func (l Level) Padded() string {
	s := strings.ToUpper(l.String())
	if len(s) >= levelPadWidth {
		return s
	}
	return s + strings.Repeat(" ", levelPadWidth-len(s))
}

// ParseLevel parses a level name (case-insensitive) or decimal integer
// 0..6, mirroring the XLFacilityMinLogLevel environment variable contract
// in spec §6. Unrecognized input returns LevelInfo, false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "0":
		return LevelDebug, true
	case "verbose", "1":
		return LevelVerbose, true
	case "info", "2":
		return LevelInfo, true
	case "warning", "warn", "3":
		return LevelWarning, true
	case "error", "4":
		return LevelError, true
	case "exception", "5":
		return LevelException, true
	case "abort", "6":
		return LevelAbort, true
	case "mute":
		return LevelMute, true
	default:
		return LevelInfo, false
	}
}
