// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package history defines the persistent-history collaborator that the
// TCP server sink, Telnet sink, and HTTP long-poll sink optionally
// replay to newly-connected peers, plus one concrete, file-backed
// implementation of it.
package history

import (
	"time"

	"github.com/nishisan-dev/xlfacility"
)

// Store is the external collaborator spec.md treats as already available
// (a SQLite-backed persistent history sink, out of scope for this
// module): append a record, purge everything before a time, and
// enumerate everything after a time. Any type satisfying this interface
// can be wired into the server-sink bases; JSONLStore is the one concrete
// implementation this module supplies.
type Store interface {
	AppendRecord(r *xlfacility.Record) error
	PurgeBefore(t time.Time) error
	EnumerateAfter(t time.Time) ([]*xlfacility.Record, error)
}
