// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xlfacility

import "sync"

// Sink consumes Records delivered by a Facility. Implementations must not
// block on external I/O beyond what their own serial queue can absorb as
// back-pressure.
type Sink interface {
	// Open is called once, on the sink's serial queue, when the sink is
	// registered with a Facility. Returning false prevents registration.
	Open() bool

	// LogRecord delivers one record that has already passed the
	// Facility's and this sink's level/filter gates. Called strictly
	// serially, in delivery order, relative to other calls on the same
	// sink.
	LogRecord(r *Record)

	// Close is called once, on the sink's serial queue, when the sink is
	// removed from a Facility.
	Close()
}

// Filter decides whether a record should reach a sink, after level
// gating. A nil Filter accepts everything.
type Filter func(r *Record) bool

// queueJob is one closure of work to be run, in order, on a sink's serial
// queue. Modeled as a single-worker channel, the idiomatic Go substitute
// for the serial-executor contract described in spec §5.
type queueJob func()

// serialQueue is a single-goroutine FIFO worker. It is the concrete
// implementation of the "serial queue" that spec §5 requires per sink and
// per connection.
type serialQueue struct {
	jobs chan queueJob
	done chan struct{}
	once sync.Once
}

func newSerialQueue(bufSize int) *serialQueue {
	q := &serialQueue{
		jobs: make(chan queueJob, bufSize),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *serialQueue) run() {
	for job := range q.jobs {
		job()
	}
	close(q.done)
}

// Enqueue submits work to run after everything already queued. It never
// blocks the caller beyond the channel buffer filling up.
func (q *serialQueue) Enqueue(job queueJob) {
	q.jobs <- job
}

// Drain blocks until every job enqueued before this call has completed,
// by enqueueing a sentinel and waiting for it to run.
func (q *serialQueue) Drain() {
	done := make(chan struct{})
	q.Enqueue(func() { close(done) })
	<-done
}

// Stop closes the queue after draining pending work. Safe to call more
// than once.
func (q *serialQueue) Stop() {
	q.once.Do(func() {
		q.Drain()
		close(q.jobs)
		<-q.done
	})
}

// BaseSink is an embeddable struct carrying the shared state every
// concrete sink needs: level gates, an optional Filter, and a private
// serial queue. Concrete sinks embed *BaseSink and implement Sink's three
// methods, calling BaseSink helpers to enforce gating, matching the
// teacher's composition-over-inheritance style (small structs embedding
// shared bookkeeping, e.g. ControlConnInfo).
type BaseSink struct {
	mu        sync.RWMutex
	open      bool
	minLevel  Level
	maxLevel  Level
	filter    Filter
	formatter *Formatter
	queue     *serialQueue
}

// NewBaseSink constructs a BaseSink with default level gates (Debug..
// Abort, i.e. everything) and the default Formatter.
func NewBaseSink() *BaseSink {
	return &BaseSink{
		minLevel:  LevelDebug,
		maxLevel:  LevelAbort,
		formatter: NewFormatter(),
		queue:     newSerialQueue(256),
	}
}

// SetLevels sets the inclusive [min, max] level gate for this sink.
func (b *BaseSink) SetLevels(min, max Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minLevel = min
	b.maxLevel = max
}

// SetFilter installs an additional predicate gate, applied after level
// gating.
func (b *BaseSink) SetFilter(f Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = f
}

// Formatter returns the sink's own formatter. Sinks never share
// formatters (spec §5: "Loggers do not share formatters").
func (b *BaseSink) Formatter() *Formatter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.formatter
}

// SetFormatter replaces the sink's formatter.
func (b *BaseSink) SetFormatter(f *Formatter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.formatter = f
}

// IsOpen reports whether Open has succeeded and Close has not yet run.
func (b *BaseSink) IsOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open
}

func (b *BaseSink) setOpen(v bool) {
	b.mu.Lock()
	b.open = v
	b.mu.Unlock()
}

// MarkOpen records whether this sink is currently open, for Sink
// implementations in other packages that embed *BaseSink and cannot reach
// the package-private setOpen (every concrete TCP/Telnet/HTTP sink base in
// this module calls this from its own Open/Close).
func (b *BaseSink) MarkOpen(v bool) {
	b.setOpen(v)
}

// Accepts reports whether a record passes this sink's level gate and
// filter. Callers (the Facility's delivery path) must also check IsOpen.
func (b *BaseSink) Accepts(r *Record) bool {
	b.mu.RLock()
	min, max, filter := b.minLevel, b.maxLevel, b.filter
	b.mu.RUnlock()
	if r.Level < min || r.Level > max {
		return false
	}
	if filter != nil && !filter(r) {
		return false
	}
	return true
}

// Queue returns the sink's private serial queue.
func (b *BaseSink) Queue() *serialQueue {
	return b.queue
}
