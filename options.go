// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import "log"

// Option configures a flatMap operator. The type parameter is the
// element type of the merged output.
type Option[R any] func(*config[R])

type config[R any] struct {
	concurrency int
	prefetch    int
	delayError  bool
	mainQueue   QueueSupplier[R]
	innerQueue  QueueSupplier[R]

	// droppedError receives terminal-losing and post-terminal errors.
	droppedError func(error)
	// droppedNext receives upstream elements arriving after termination.
	droppedNext func(any)
	// discard receives buffered elements released without delivery.
	discard func(R)
	// errorContinue, when non-nil, selects skip-and-drop fault
	// tolerance: (error, offending element or nil).
	errorContinue func(err error, v any)
}

// defaultConfig centralizes operator defaults. The concurrency and
// prefetch values follow the reference operator family: 256 concurrent
// inners, 32-element inner buffers replenished at the 3/4 mark.
func defaultConfig[R any]() config[R] {
	return config[R]{
		concurrency:  256,
		prefetch:     32,
		mainQueue:    NewMPSCQueue[R],
		innerQueue:   NewSPSCQueue[R],
		droppedError: defaultDroppedError,
		droppedNext:  func(any) {},
		discard:      func(R) {},
	}
}

// defaultDroppedError keeps losing errors observable when no hook is
// installed. Terminal races must never swallow an error silently.
func defaultDroppedError(err error) {
	log.Printf("flow: dropped error: %v", err)
}

// WithConcurrency bounds the number of simultaneously subscribed inner
// publishers (must be >= 1), or removes the bound with Unbounded.
func WithConcurrency[R any](n int) Option[R] {
	if n < 1 {
		panic("flow: WithConcurrency requires n >= 1")
	}
	return func(c *config[R]) { c.concurrency = n }
}

// WithPrefetch sets the per-inner request batch (must be >= 1).
func WithPrefetch[R any](n int) Option[R] {
	if n < 1 {
		panic("flow: WithPrefetch requires n >= 1")
	}
	return func(c *config[R]) { c.prefetch = n }
}

// WithDelayError defers error delivery until all inner sequences have
// been drained; errors from multiple sources are composed.
func WithDelayError[R any]() Option[R] {
	return func(c *config[R]) { c.delayError = true }
}

// WithMainQueueSupplier replaces the scalar queue factory. The supplied
// queue must be MPSC-safe.
func WithMainQueueSupplier[R any](s QueueSupplier[R]) Option[R] {
	return func(c *config[R]) { c.mainQueue = s }
}

// WithInnerQueueSupplier replaces the inner queue factory. The supplied
// queue must be SPSC-safe.
func WithInnerQueueSupplier[R any](s QueueSupplier[R]) Option[R] {
	return func(c *config[R]) { c.innerQueue = s }
}

// WithDroppedErrorHook routes errors that lose a terminal race or
// arrive after termination to f instead of the default log line.
func WithDroppedErrorHook[R any](f func(error)) Option[R] {
	return func(c *config[R]) { c.droppedError = f }
}

// WithDroppedNextHook routes upstream elements arriving after
// termination to f.
func WithDroppedNextHook[R any](f func(any)) Option[R] {
	return func(c *config[R]) { c.droppedNext = f }
}

// WithDiscardHook routes buffered elements released on cancellation or
// error termination to f.
func WithDiscardHook[R any](f func(R)) Option[R] {
	return func(c *config[R]) { c.discard = f }
}

// WithErrorContinue selects skip-and-drop fault tolerance: a mapper or
// scalar failure is reported to f together with the offending element,
// the element is dropped, and one replacement is requested upstream.
// Inner-sequence failures carry no element and are reported with nil.
func WithErrorContinue[R any](f func(err error, v any)) Option[R] {
	return func(c *config[R]) { c.errorContinue = f }
}
