// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import "code.hybscloud.com/atomix"

// Range returns a publisher of count consecutive integers starting at
// start. The sequence is SYNC-fuseable: a consumer granted FusionSync
// polls values on demand and never issues request signals.
func Range(start, count int) Publisher[int] {
	if count < 0 {
		panic("flow: Range requires count >= 0")
	}
	return &rangePublisher{start: start, count: count}
}

type rangePublisher struct {
	start, count int
}

func (p *rangePublisher) Subscribe(s Subscriber[int]) {
	if p.count == 0 {
		s.OnSubscribe(noopSubscription{})
		s.OnComplete()
		return
	}
	sub := &rangeSubscription{
		actual: s,
		index:  int64(p.start),
		end:    int64(p.start) + int64(p.count),
	}
	s.OnSubscribe(sub)
}

// rangeSubscription serves both the request-driven slow path and the
// SYNC-fused poll path. After fusion is granted, index is consumer
// confined; otherwise it is confined to the single emitting thread
// serialized by the requested counter.
type rangeSubscription struct {
	actual    Subscriber[int]
	index     int64
	end       int64
	requested atomix.Uint64
	cancelled atomix.Bool
	fused     atomix.Bool
}

func (s *rangeSubscription) Request(n int64) {
	if n <= 0 {
		s.actual.OnError(badRequestError(n))
		return
	}
	if s.fused.LoadAcquire() {
		return
	}
	if addCap(&s.requested, uint64(n)) == 0 {
		s.emit()
	}
}

func (s *rangeSubscription) emit() {
	e := uint64(0)
	r := s.requested.LoadAcquire()
	for {
		for e < r && s.index < s.end {
			if s.cancelled.LoadAcquire() {
				return
			}
			v := int(s.index)
			s.index++
			s.actual.OnNext(v)
			e++
		}
		if s.index == s.end {
			if !s.cancelled.LoadAcquire() {
				s.actual.OnComplete()
			}
			return
		}
		r = s.requested.LoadAcquire()
		if r == e {
			r = producedAndGet(&s.requested, e)
			if r == 0 {
				return
			}
			e = 0
		}
	}
}

func (s *rangeSubscription) Cancel() {
	s.cancelled.StoreRelease(true)
}

func (s *rangeSubscription) RequestFusion(requested int) int {
	if requested&FusionSync != 0 {
		s.fused.StoreRelease(true)
		return FusionSync
	}
	return FusionNone
}

func (s *rangeSubscription) Poll() (int, bool) {
	if s.index < s.end {
		v := int(s.index)
		s.index++
		return v, true
	}
	return 0, false
}

func (s *rangeSubscription) IsEmpty() bool {
	return s.index >= s.end
}

func (s *rangeSubscription) Size() int {
	return int(s.end - s.index)
}

func (s *rangeSubscription) Clear() {
	s.index = s.end
}

// FromSlice returns a publisher emitting the elements of vs in order.
// SYNC-fuseable, like Range.
func FromSlice[T any](vs []T) Publisher[T] {
	return &slicePublisher[T]{items: vs}
}

type slicePublisher[T any] struct {
	items []T
}

func (p *slicePublisher[T]) Subscribe(s Subscriber[T]) {
	if len(p.items) == 0 {
		s.OnSubscribe(noopSubscription{})
		s.OnComplete()
		return
	}
	s.OnSubscribe(&sliceSubscription[T]{actual: s, items: p.items})
}

type sliceSubscription[T any] struct {
	actual    Subscriber[T]
	items     []T
	index     int
	requested atomix.Uint64
	cancelled atomix.Bool
	fused     atomix.Bool
}

func (s *sliceSubscription[T]) Request(n int64) {
	if n <= 0 {
		s.actual.OnError(badRequestError(n))
		return
	}
	if s.fused.LoadAcquire() {
		return
	}
	if addCap(&s.requested, uint64(n)) == 0 {
		s.emit()
	}
}

func (s *sliceSubscription[T]) emit() {
	e := uint64(0)
	r := s.requested.LoadAcquire()
	for {
		for e < r && s.index < len(s.items) {
			if s.cancelled.LoadAcquire() {
				return
			}
			v := s.items[s.index]
			s.index++
			s.actual.OnNext(v)
			e++
		}
		if s.index == len(s.items) {
			if !s.cancelled.LoadAcquire() {
				s.actual.OnComplete()
			}
			return
		}
		r = s.requested.LoadAcquire()
		if r == e {
			r = producedAndGet(&s.requested, e)
			if r == 0 {
				return
			}
			e = 0
		}
	}
}

func (s *sliceSubscription[T]) Cancel() {
	s.cancelled.StoreRelease(true)
}

func (s *sliceSubscription[T]) RequestFusion(requested int) int {
	if requested&FusionSync != 0 {
		s.fused.StoreRelease(true)
		return FusionSync
	}
	return FusionNone
}

func (s *sliceSubscription[T]) Poll() (T, bool) {
	if s.index < len(s.items) {
		v := s.items[s.index]
		s.index++
		return v, true
	}
	var zero T
	return zero, false
}

func (s *sliceSubscription[T]) IsEmpty() bool {
	return s.index >= len(s.items)
}

func (s *sliceSubscription[T]) Size() int {
	return len(s.items) - s.index
}

func (s *sliceSubscription[T]) Clear() {
	s.index = len(s.items)
}

// Just returns a publisher of the single value v. It implements
// Callable, so flatMap-style operators take the scalar fast path.
func Just[T any](v T) Publisher[T] {
	return justPublisher[T]{v: v}
}

type justPublisher[T any] struct {
	v T
}

func (p justPublisher[T]) Call() (T, bool, error) {
	return p.v, true, nil
}

func (p justPublisher[T]) Subscribe(s Subscriber[T]) {
	s.OnSubscribe(&scalarSubscription[T]{actual: s, v: p.v})
}

// scalarSubscription emits a single value on first demand.
type scalarSubscription[T any] struct {
	actual Subscriber[T]
	v      T
	state  atomix.Uint32 // 0 ready, 1 emitted, 2 cancelled
}

func (s *scalarSubscription[T]) Request(n int64) {
	if n <= 0 {
		s.actual.OnError(badRequestError(n))
		return
	}
	if s.state.CompareAndSwapAcqRel(0, 1) {
		s.actual.OnNext(s.v)
		if s.state.LoadAcquire() != 2 {
			s.actual.OnComplete()
		}
	}
}

func (s *scalarSubscription[T]) Cancel() {
	s.state.StoreRelease(2)
}

// Empty returns a publisher that completes without emitting. It
// implements Callable with no value.
func Empty[T any]() Publisher[T] {
	return emptyPublisher[T]{}
}

type emptyPublisher[T any] struct{}

func (emptyPublisher[T]) Call() (T, bool, error) {
	var zero T
	return zero, false, nil
}

func (emptyPublisher[T]) Subscribe(s Subscriber[T]) {
	s.OnSubscribe(noopSubscription{})
	s.OnComplete()
}

// Fail returns a publisher that terminates with err. It implements
// Callable, so scalar probes observe the failure synchronously.
func Fail[T any](err error) Publisher[T] {
	return failPublisher[T]{err: err}
}

type failPublisher[T any] struct {
	err error
}

func (p failPublisher[T]) Call() (T, bool, error) {
	var zero T
	return zero, false, p.err
}

func (p failPublisher[T]) Subscribe(s Subscriber[T]) {
	s.OnSubscribe(noopSubscription{})
	s.OnError(p.err)
}

// Never returns a publisher that signals nothing after OnSubscribe.
func Never[T any]() Publisher[T] {
	return neverPublisher[T]{}
}

type neverPublisher[T any] struct{}

func (neverPublisher[T]) Subscribe(s Subscriber[T]) {
	s.OnSubscribe(noopSubscription{})
}

// FromCallable returns a publisher evaluating f once per subscriber:
// (v, true, nil) emits v then completes, (_, false, nil) completes
// empty, and a non-nil error terminates with that error.
func FromCallable[T any](f func() (T, bool, error)) Publisher[T] {
	return callablePublisher[T]{f: f}
}

type callablePublisher[T any] struct {
	f func() (T, bool, error)
}

func (p callablePublisher[T]) Call() (T, bool, error) {
	return p.f()
}

func (p callablePublisher[T]) Subscribe(s Subscriber[T]) {
	v, ok, err := p.f()
	if err != nil {
		s.OnSubscribe(noopSubscription{})
		s.OnError(err)
		return
	}
	if !ok {
		s.OnSubscribe(noopSubscription{})
		s.OnComplete()
		return
	}
	s.OnSubscribe(&scalarSubscription[T]{actual: s, v: v})
}
