// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
)

// lfq rounds physical capacity up to a power of two with a minimum of
// two slots; the logical capacity handed to a supplier is enforced by a
// size counter so overflow detection fires exactly at the configured
// bound. The counter is incremented before the enqueue completes, so
// IsEmpty may transiently report non-empty for a value still in flight;
// every producer schedules a drain after Offer, which re-observes.

// spscQueue is the per-inner buffer: one producing inner subscriber,
// the drain as single consumer.
type spscQueue[T any] struct {
	q    lfq.SPSC[T]
	size atomix.Int64
	cap  int64
}

// NewSPSCQueue returns a bounded single-producer single-consumer queue.
// This is the default inner queue supplier.
func NewSPSCQueue[T any](capacity int) Queue[T] {
	if capacity < 1 {
		panic("flow: queue capacity must be >= 1")
	}
	q := &spscQueue[T]{cap: int64(capacity)}
	physical := capacity
	if physical < 2 {
		physical = 2
	}
	q.q.Init(physical)
	return q
}

func (q *spscQueue[T]) Offer(v T) bool {
	if q.size.LoadAcquire() >= q.cap {
		return false
	}
	q.size.AddAcqRel(1)
	if err := q.q.Enqueue(&v); err != nil {
		q.size.AddAcqRel(-1)
		return false
	}
	return true
}

func (q *spscQueue[T]) Poll() (T, bool) {
	v, err := q.q.Dequeue()
	if err != nil {
		var zero T
		return zero, false
	}
	q.size.AddAcqRel(-1)
	return v, true
}

func (q *spscQueue[T]) IsEmpty() bool {
	return q.size.LoadAcquire() <= 0
}

func (q *spscQueue[T]) Size() int {
	n := q.size.LoadAcquire()
	if n < 0 {
		return 0
	}
	return int(n)
}

func (q *spscQueue[T]) Clear(discard func(T)) {
	clearQueue[T](q, discard)
}

// mpscQueue is the bounded scalar buffer: any goroutine hitting the
// scalar path produces, the drain is the single consumer. Producers
// reserve a slot on the size counter before enqueueing so the logical
// bound holds under contention.
type mpscQueue[T any] struct {
	q    *lfq.MPSC[T]
	size atomix.Int64
	cap  int64
}

// NewMPSCQueue returns a bounded multi-producer single-consumer queue.
// This is the default main (scalar) queue supplier.
func NewMPSCQueue[T any](capacity int) Queue[T] {
	if capacity < 1 {
		panic("flow: queue capacity must be >= 1")
	}
	physical := capacity
	if physical < 2 {
		physical = 2
	}
	return &mpscQueue[T]{q: lfq.NewMPSC[T](physical), cap: int64(capacity)}
}

func (q *mpscQueue[T]) Offer(v T) bool {
	if q.size.AddAcqRel(1) > q.cap {
		q.size.AddAcqRel(-1)
		return false
	}
	if err := q.q.Enqueue(&v); err != nil {
		q.size.AddAcqRel(-1)
		return false
	}
	return true
}

func (q *mpscQueue[T]) Poll() (T, bool) {
	v, err := q.q.Dequeue()
	if err != nil {
		var zero T
		return zero, false
	}
	q.size.AddAcqRel(-1)
	return v, true
}

func (q *mpscQueue[T]) IsEmpty() bool {
	return q.size.LoadAcquire() <= 0
}

func (q *mpscQueue[T]) Size() int {
	n := q.size.LoadAcquire()
	if n < 0 {
		return 0
	}
	return int(n)
}

func (q *mpscQueue[T]) Clear(discard func(T)) {
	clearQueue[T](q, discard)
}

// chunkSize balances per-chunk allocation against pointer chasing in
// the unbounded path; the unbounded queue only backs operators with
// unlimited concurrency, where the scalar backlog is expected to stay
// shallow.
const chunkSize = 64

type chunk[T any] struct {
	buf  [chunkSize]T
	next *chunk[T]
}

// chunkQueue is the unbounded multi-producer single-consumer queue used
// for the scalar buffer when concurrency is Unbounded. lfq offers
// bounded queues only; the chunk list grows under a short mutex.
type chunkQueue[T any] struct {
	mu   sync.Mutex
	head *chunk[T]
	tail *chunk[T]
	rd   int
	wr   int
	size atomix.Int64
}

// NewUnboundedQueue returns an unbounded MPSC queue built from linked
// chunks. The capacity argument is ignored.
func NewUnboundedQueue[T any](int) Queue[T] {
	c := &chunk[T]{}
	return &chunkQueue[T]{head: c, tail: c}
}

func (q *chunkQueue[T]) Offer(v T) bool {
	q.mu.Lock()
	if q.wr == chunkSize {
		next := &chunk[T]{}
		q.tail.next = next
		q.tail = next
		q.wr = 0
	}
	q.tail.buf[q.wr] = v
	q.wr++
	q.mu.Unlock()
	q.size.AddAcqRel(1)
	return true
}

func (q *chunkQueue[T]) Poll() (T, bool) {
	var zero T
	q.mu.Lock()
	if q.head == q.tail && q.rd == q.wr {
		q.mu.Unlock()
		return zero, false
	}
	if q.rd == chunkSize {
		q.head = q.head.next
		q.rd = 0
	}
	v := q.head.buf[q.rd]
	q.head.buf[q.rd] = zero
	q.rd++
	q.mu.Unlock()
	q.size.AddAcqRel(-1)
	return v, true
}

func (q *chunkQueue[T]) IsEmpty() bool {
	return q.size.LoadAcquire() <= 0
}

func (q *chunkQueue[T]) Size() int {
	n := q.size.LoadAcquire()
	if n < 0 {
		return 0
	}
	return int(n)
}

func (q *chunkQueue[T]) Clear(discard func(T)) {
	clearQueue[T](q, discard)
}

func clearQueue[T any](q Queue[T], discard func(T)) {
	for {
		v, ok := q.Poll()
		if !ok {
			return
		}
		if discard != nil {
			discard(v)
		}
	}
}
