// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import (
	"sync/atomic"

	"code.hybscloud.com/atomix"
)

// innerParent is the coordinator surface an inner subscriber signals
// into. The drain side reaches back into inner fields directly; this
// interface only decouples the inner from the coordinator's upstream
// element type.
type innerParent[R any] interface {
	drain()
	innerError(in *flatMapInner[R], err error)
	discardValue(v R)
	downstream() any
}

// subscriptionRef boxes a Subscription for atomic once-publication.
type subscriptionRef struct {
	s Subscription
}

// queueRef boxes a Queue for atomic lazy creation.
type queueRef[R any] struct {
	q Queue[R]
}

// flatMapInner subscribes to one mapped inner publisher, buffers its
// elements, and wakes the coordinator drain. One value producer (the
// inner publisher's signal thread), one consumer (the drain).
type flatMapInner[R any] struct {
	parent   innerParent[R]
	prefetch int
	// limit is the replenish threshold: after limit emissions the drain
	// requests the next batch, keeping the producer pipeline warm while
	// the buffer stays within prefetch.
	limit    int64
	supplier QueueSupplier[R]

	s         atomic.Pointer[subscriptionRef]
	q         atomic.Pointer[queueRef[R]]
	mode      atomix.Uint32 // FusionNone, FusionSync, or FusionAsync
	done      atomix.Bool
	cancelled atomix.Uint32
	removed   atomix.Uint32

	// produced counts drain emissions since the last replenish.
	// Drain-confined.
	produced int64
	// idx is the slot index in the coordinator's inner set, assigned
	// before subscribe.
	idx int
}

func newFlatMapInner[R any](parent innerParent[R], prefetch int, supplier QueueSupplier[R]) *flatMapInner[R] {
	return &flatMapInner[R]{
		parent:   parent,
		prefetch: prefetch,
		limit:    int64(prefetch) - int64(prefetch)>>2,
		supplier: supplier,
	}
}

// OnSubscribe negotiates fusion before any demand is signaled.
// A SYNC-fused producer's queue becomes the inner queue itself and no
// request is ever issued to it; its sequence is complete at subscribe
// time, so the inner is immediately done.
func (in *flatMapInner[R]) OnSubscribe(s Subscription) {
	if !in.s.CompareAndSwap(nil, &subscriptionRef{s: s}) {
		s.Cancel()
		return
	}
	if in.cancelled.LoadAcquire() != 0 {
		s.Cancel()
		return
	}
	if qs, ok := s.(QueueSubscription[R]); ok {
		granted := qs.RequestFusion(FusionAny)
		if granted&FusionSync != 0 {
			in.mode.StoreRelease(FusionSync)
			in.q.Store(&queueRef[R]{q: fusedQueue[R]{qs: qs}})
			in.done.StoreRelease(true)
			in.parent.drain()
			return
		}
		if granted&FusionAsync != 0 {
			in.mode.StoreRelease(FusionAsync)
			in.q.Store(&queueRef[R]{q: fusedQueue[R]{qs: qs}})
		}
	}
	s.Request(int64(in.prefetch))
}

func (in *flatMapInner[R]) OnNext(v R) {
	if in.mode.LoadAcquire() == FusionAsync {
		// Wake-up marker; the value is already in the fused queue.
		in.parent.drain()
		return
	}
	if in.done.LoadAcquire() {
		in.parent.discardValue(v)
		return
	}
	if isNil(v) {
		in.cancel()
		in.parent.innerError(in, ErrNilValue)
		return
	}
	q := in.queueOrCreate()
	if !q.Offer(v) {
		in.cancel()
		in.parent.discardValue(v)
		in.parent.innerError(in, overflowError("inner"))
		return
	}
	in.parent.drain()
}

func (in *flatMapInner[R]) OnError(err error) {
	in.parent.innerError(in, err)
}

func (in *flatMapInner[R]) OnComplete() {
	in.done.StoreRelease(true)
	in.parent.drain()
}

// request forwards replenish demand to the producer. Never forwarded on
// a SYNC-fused producer.
func (in *flatMapInner[R]) request(n int64) {
	if in.mode.LoadAcquire() == FusionSync {
		return
	}
	if ref := in.s.Load(); ref != nil {
		ref.s.Request(n)
	}
}

// cancel cancels the producer subscription once. The buffered queue is
// left for the drain to discard.
func (in *flatMapInner[R]) cancel() {
	if !in.cancelled.CompareAndSwapAcqRel(0, 1) {
		return
	}
	if ref := in.s.Load(); ref != nil {
		ref.s.Cancel()
	}
}

func (in *flatMapInner[R]) queue() Queue[R] {
	ref := in.q.Load()
	if ref == nil {
		return nil
	}
	return ref.q
}

func (in *flatMapInner[R]) queueOrCreate() Queue[R] {
	for {
		if ref := in.q.Load(); ref != nil {
			return ref.q
		}
		nq := in.supplier(in.prefetch)
		if in.q.CompareAndSwap(nil, &queueRef[R]{q: nq}) {
			return nq
		}
	}
}

// producedOne records one drain emission from this inner and issues the
// batched replenish at the limit mark. Drain-confined.
func (in *flatMapInner[R]) producedOne() {
	p := in.produced + 1
	if p == in.limit {
		in.produced = 0
		in.request(in.limit)
		return
	}
	in.produced = p
}

// idle reports termination with an exhausted buffer.
func (in *flatMapInner[R]) idle() bool {
	if !in.done.LoadAcquire() {
		return false
	}
	q := in.queue()
	return q == nil || q.IsEmpty()
}
