// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xlfacility

// CallbackSink invokes user-supplied functions for each lifecycle event,
// all on the sink's own serial queue (spec §4.3). Callbacks must be safe
// to call concurrently across separate CallbackSink instances, since two
// sinks never share a queue.
type CallbackSink struct {
	*BaseSink

	OpenFunc      func() bool
	LogRecordFunc func(r *Record)
	CloseFunc     func()
}

// NewCallbackSink constructs a CallbackSink. A nil OpenFunc defaults to
// always succeeding; nil LogRecordFunc/CloseFunc are no-ops.
func NewCallbackSink(openFn func() bool, logFn func(r *Record), closeFn func()) *CallbackSink {
	return &CallbackSink{
		BaseSink:      NewBaseSink(),
		OpenFunc:      openFn,
		LogRecordFunc: logFn,
		CloseFunc:     closeFn,
	}
}

// Open invokes OpenFunc, defaulting to success.
func (s *CallbackSink) Open() bool {
	ok := true
	if s.OpenFunc != nil {
		ok = s.OpenFunc()
	}
	s.setOpen(ok)
	return ok
}

// LogRecord invokes LogRecordFunc with r, if set.
func (s *CallbackSink) LogRecord(r *Record) {
	if s.LogRecordFunc != nil {
		s.LogRecordFunc(r)
	}
}

// Close invokes CloseFunc, if set.
func (s *CallbackSink) Close() {
	s.setOpen(false)
	if s.CloseFunc != nil {
		s.CloseFunc()
	}
}
