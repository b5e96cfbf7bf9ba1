// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import "math"

// Unbounded is the sentinel concurrency value: no limit on the number
// of simultaneously subscribed inner publishers.
const Unbounded = math.MaxInt32

// Subscription is the handle a publisher gives its subscriber for flow
// control. Request and Cancel may be called from any goroutine.
type Subscription interface {
	// Request signals demand for up to n additional elements.
	// n must be positive; math.MaxInt64 means unbounded demand.
	Request(n int64)
	// Cancel stops the subscription. Idempotent.
	Cancel()
}

// Subscriber receives the signals of a subscribed publisher.
//
// The contract follows reactive streams: OnSubscribe is called exactly
// once before any other signal; OnNext only up to the requested demand;
// OnError and OnComplete are terminal and mutually exclusive. A
// publisher delivers signals serially: no two signal methods run
// concurrently.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Publisher is an asynchronous sequence of elements of type T.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// Queue is the buffering contract used between a producer side and the
// single drain consumer. Offer may be called per the implementation's
// producer discipline (SPSC or MPSC); Poll, IsEmpty, and Clear are
// consumer-side only. Size is safe from any goroutine and may briefly
// be off by one while an Offer or Poll is in flight.
type Queue[T any] interface {
	// Offer enqueues v. Returns false when the queue is at capacity.
	Offer(v T) bool
	// Poll dequeues the next element, reporting whether one was present.
	Poll() (T, bool)
	IsEmpty() bool
	Size() int
	// Clear drains all buffered elements through discard.
	Clear(discard func(T))
}

// QueueSupplier builds a queue with at least the given logical capacity.
type QueueSupplier[T any] func(capacity int) Queue[T]

// noopSubscription is handed to subscribers of sources that never
// produce on demand (Empty, Fail, Never, empty Range and FromSlice, and
// FromCallable results without a value).
type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}

// isNil reports whether v boxes a nil interface value. Values of
// concrete non-interface type are never nil here.
func isNil[T any](v T) bool {
	return any(v) == nil
}
