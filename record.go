// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xlfacility

import "time"

// Record is an immutable log event, fully populated at the instant the
// Facility constructs it — never mutated afterwards, and never reflecting
// state observed later by a sink (spec invariant: "every field reflects
// the state at the instant the record was constructed").
type Record struct {
	// AbsoluteTime is seconds since the Unix epoch.
	AbsoluteTime float64

	// Tag optionally namespaces the record; empty if unset.
	Tag string

	Level Level

	// Message is the already-interpolated message text.
	Message string

	// Errno is an errno value for the "%e"/"%E" specifiers. The Facility
	// captures no errno: records it builds always carry 0.
	Errno int

	// ThreadID is the logging goroutine's ID (see goroutineID), captured at
	// log time; it is not an OS thread identifier.
	ThreadID int64

	// QueueLabel is an optional executor/goroutine label. The Facility
	// captures none: records it builds always leave it empty.
	QueueLabel string

	// Callstack is present iff Level >= the Facility's
	// minCaptureCallstackLevel at the time the record was constructed.
	Callstack []string
}

// Time returns AbsoluteTime as a time.Time in the local zone.
func (r *Record) Time() time.Time {
	sec := int64(r.AbsoluteTime)
	nsec := int64((r.AbsoluteTime - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// InternalTag is reserved for diagnostics about the logging system itself
// (the Facility emits no such records on its own): records tagged
// InternalTag are gated by
// minInternalLogLevel in addition to minLogLevel, per spec §4.1 step 1.
const InternalTag = "Internal"
