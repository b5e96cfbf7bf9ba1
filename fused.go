// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

// Fusion modes negotiated through QueueSubscription.RequestFusion.
// A consumer requests the union of the modes it supports; the producer
// answers with the single mode it grants, or FusionNone.
const (
	// FusionNone rejects fusion; the producer signals element by element.
	FusionNone = 0
	// FusionSync grants synchronous fusion: the producer's queue is
	// fully populated (or computed on demand) at subscribe time and the
	// consumer polls it directly. The consumer must never issue a
	// request signal to a SYNC-fused producer.
	FusionSync = 1 << 0
	// FusionAsync grants asynchronous fusion: the producer enqueues
	// into its own queue and each OnNext is only a wake-up marker whose
	// value the consumer discards.
	FusionAsync = 1 << 1
	// FusionAny requests either mode.
	FusionAny = FusionSync | FusionAsync
)

// QueueSubscription is a subscription whose producer can expose its
// internal queue to the consumer, eliding per-element signaling.
// Poll, IsEmpty, Size, and Clear are consumer-side only and must not be
// used before RequestFusion has granted a mode.
type QueueSubscription[T any] interface {
	Subscription

	// RequestFusion negotiates a fusion mode. requested is a union of
	// Fusion* flags; the result is the granted mode or FusionNone.
	RequestFusion(requested int) int
	Poll() (T, bool)
	IsEmpty() bool
	Size() int
	Clear()
}

// Callable marks a publisher that produces its result synchronously at
// subscription time, without side effects before subscribe: zero or one
// value, or an error. Operators probe for it to skip the subscription
// handshake entirely.
type Callable[T any] interface {
	Call() (v T, ok bool, err error)
}

// fusedQueue adapts a granted QueueSubscription to the Queue contract
// so the drain can treat fused and buffered inners uniformly.
// Offer is producer-side and unused on a fused path.
type fusedQueue[T any] struct {
	qs QueueSubscription[T]
}

func (f fusedQueue[T]) Offer(T) bool    { return false }
func (f fusedQueue[T]) Poll() (T, bool) { return f.qs.Poll() }
func (f fusedQueue[T]) IsEmpty() bool   { return f.qs.IsEmpty() }
func (f fusedQueue[T]) Size() int       { return f.qs.Size() }
func (f fusedQueue[T]) Clear(discard func(T)) {
	for {
		v, ok := f.qs.Poll()
		if !ok {
			return
		}
		if discard != nil {
			discard(v)
		}
	}
}
