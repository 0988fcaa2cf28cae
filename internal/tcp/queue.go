// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tcp

import "sync"

// serialQueue is a single-goroutine FIFO worker, the same substitution
// used package-wide in xlfacility for spec §5's "serial queue per
// connection" requirement.
type serialQueue struct {
	jobs chan func()
	done chan struct{}
	once sync.Once
}

func newSerialQueue(bufSize int) *serialQueue {
	q := &serialQueue{
		jobs: make(chan func(), bufSize),
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

// Enqueue submits work to run after everything already queued.
func (q *serialQueue) Enqueue(job func()) {
	q.jobs <- job
}

// Drain blocks until every job enqueued before this call has completed.
func (q *serialQueue) Drain() {
	done := make(chan struct{})
	q.Enqueue(func() { close(done) })
	<-done
}

// Stop drains pending work then closes the queue. Safe to call more than
// once.
func (q *serialQueue) Stop() {
	q.once.Do(func() {
		q.Drain()
		close(q.jobs)
		<-q.done
	})
}
