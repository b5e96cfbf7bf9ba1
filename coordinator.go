// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import (
	"math"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
)

// innerSlots is the published inner set. Slots hold live inners, nil
// (never used), or the coordinator's tombstone (removed). Growth
// publishes a fresh slice; indices are stable across growth.
type innerSlots[R any] struct {
	slots []atomic.Pointer[flatMapInner[R]]
}

// flatMapMain coordinates one flatMap subscription: it subscribes to
// the upstream, dispatches mapped publishers to inners or the scalar
// path, and merges everything downstream through the drain loop.
//
// The drain is serialized by wip: whoever raises it from zero runs the
// loop; everyone else has already been observed or will be re-observed
// at the loop bottom. All drain-side state (lastIndex, inner.produced)
// rides on that happens-before edge.
type flatMapMain[T, R any] struct {
	actual Subscriber[R]
	mapper func(T) (Publisher[R], error)
	cfg    config[R]

	wip       atomix.Int64
	requested atomix.Uint64
	done      atomix.Bool
	cancelled atomix.Bool

	errs errorSlot

	upstream atomic.Pointer[subscriptionRef]
	scalar   atomic.Pointer[queueRef[R]]
	inners   atomic.Pointer[innerSlots[R]]
	addMu    sync.Mutex
	tomb     *flatMapInner[R]

	// lastIndex is the round-robin cursor over inner slots.
	// Drain-confined.
	lastIndex int
}

func newFlatMapMain[T, R any](actual Subscriber[R], mapper func(T) (Publisher[R], error), cfg config[R]) *flatMapMain[T, R] {
	m := &flatMapMain[T, R]{
		actual: actual,
		mapper: mapper,
		cfg:    cfg,
	}
	m.tomb = &flatMapInner[R]{}
	m.inners.Store(&innerSlots[R]{})
	return m
}

// OnSubscribe propagates the subscription downstream, then opens
// upstream demand: maxConcurrency elements, or everything when
// concurrency is Unbounded.
func (m *flatMapMain[T, R]) OnSubscribe(s Subscription) {
	if !m.upstream.CompareAndSwap(nil, &subscriptionRef{s: s}) {
		s.Cancel()
		return
	}
	m.actual.OnSubscribe(m)
	if m.cancelled.LoadAcquire() {
		s.Cancel()
		return
	}
	if m.cfg.concurrency == Unbounded {
		s.Request(math.MaxInt64)
	} else {
		s.Request(int64(m.cfg.concurrency))
	}
}

func (m *flatMapMain[T, R]) OnNext(t T) {
	if m.done.LoadAcquire() || m.cancelled.LoadAcquire() {
		m.cfg.droppedNext(t)
		return
	}
	p, err := m.mapper(t)
	if err == nil && p == nil {
		err = ErrNilPublisher
	}
	if err != nil {
		if m.cfg.errorContinue != nil {
			m.cfg.errorContinue(err, t)
			m.requestUpstream(1)
			return
		}
		m.failWith(err)
		return
	}
	if c, ok := p.(Callable[R]); ok {
		v, present, cerr := c.Call()
		if cerr == nil && present && isNil(v) {
			cerr = ErrNilValue
		}
		if cerr != nil {
			if m.cfg.errorContinue != nil {
				m.cfg.errorContinue(cerr, t)
				m.requestUpstream(1)
				return
			}
			m.failWith(cerr)
			return
		}
		if !present {
			m.requestUpstream(1)
			return
		}
		m.tryEmitScalar(v)
		return
	}
	in := newFlatMapInner[R](m, m.cfg.prefetch, m.cfg.innerQueue)
	if m.add(in) {
		p.Subscribe(in)
	}
}

func (m *flatMapMain[T, R]) OnError(err error) {
	if m.errs.add(err) {
		m.done.StoreRelease(true)
		m.drain()
		return
	}
	m.cfg.droppedError(err)
}

func (m *flatMapMain[T, R]) OnComplete() {
	if m.done.LoadAcquire() {
		return
	}
	m.done.StoreRelease(true)
	m.drain()
}

// Request implements the downstream subscription.
func (m *flatMapMain[T, R]) Request(n int64) {
	if n <= 0 {
		m.failWith(badRequestError(n))
		return
	}
	addCap(&m.requested, uint64(n))
	m.drain()
}

// Cancel implements the downstream subscription: cancel upstream and
// every inner, then schedule a drain so a running one discards and
// exits.
func (m *flatMapMain[T, R]) Cancel() {
	m.cancelled.StoreRelease(true)
	m.cancelUpstream()
	m.cancelInners()
	m.drain()
}

// failWith terminates on an operator-side fault: the upstream is
// cancelled before the error enters the terminal slot.
func (m *flatMapMain[T, R]) failWith(err error) {
	m.cancelUpstream()
	if m.errs.add(err) {
		m.done.StoreRelease(true)
		m.drain()
		return
	}
	m.cfg.droppedError(err)
}

// tryEmitScalar is the scalar fast path: when no drain is running and
// demand is available, the value goes straight downstream; otherwise it
// is staged on the scalar queue and a drain is scheduled.
func (m *flatMapMain[T, R]) tryEmitScalar(v R) {
	if m.cancelled.LoadAcquire() {
		m.cfg.discard(v)
		return
	}
	if m.wip.LoadAcquire() == 0 && m.wip.CompareAndSwapAcqRel(0, 1) {
		if m.requested.LoadAcquire() > 0 {
			m.actual.OnNext(v)
			producedCap(&m.requested, 1)
			m.requestUpstream(1)
		} else if !m.scalarQueueOrCreate().Offer(v) {
			m.cfg.discard(v)
			m.scalarOverflow()
		}
		m.drainLoop()
		return
	}
	if !m.scalarQueueOrCreate().Offer(v) {
		m.cfg.discard(v)
		m.scalarOverflow()
	}
	m.drain()
}

// scalarOverflow records a scalar queue overflow. The caller is
// responsible for (re)entering the drain, which surfaces the error.
func (m *flatMapMain[T, R]) scalarOverflow() {
	m.cancelUpstream()
	err := overflowError("scalar")
	if m.errs.add(err) {
		m.done.StoreRelease(true)
		return
	}
	m.cfg.droppedError(err)
}

// add inserts a new inner into the slot set, reusing tombstones and
// growing by doubling. Returns false when the operator is already
// terminated or cancelled; the caller must not subscribe the inner.
func (m *flatMapMain[T, R]) add(in *flatMapInner[R]) bool {
	m.addMu.Lock()
	if m.cancelled.LoadAcquire() || m.errs.terminated() {
		m.addMu.Unlock()
		return false
	}
	cur := m.inners.Load()
	for i := range cur.slots {
		p := cur.slots[i].Load()
		if p == nil || p == m.tomb {
			in.idx = i
			cur.slots[i].Store(in)
			m.addMu.Unlock()
			return true
		}
	}
	n := len(cur.slots)
	grown := n * 2
	if grown == 0 {
		grown = 4
	}
	next := &innerSlots[R]{slots: make([]atomic.Pointer[flatMapInner[R]], grown)}
	for i := range cur.slots {
		next.slots[i].Store(cur.slots[i].Load())
	}
	in.idx = n
	next.slots[n].Store(in)
	m.inners.Store(next)
	m.addMu.Unlock()
	return true
}

// removeInner tombstones a terminated inner's slot. The removed guard
// keeps the upstream replenish at exactly one per inner even if the
// slot set grew between observation and removal.
func (m *flatMapMain[T, R]) removeInner(in *flatMapInner[R]) bool {
	if !in.removed.CompareAndSwapAcqRel(0, 1) {
		return false
	}
	cur := m.inners.Load()
	cur.slots[in.idx].CompareAndSwap(in, m.tomb)
	return true
}

func (m *flatMapMain[T, R]) cancelInners() {
	cur := m.inners.Load()
	for i := range cur.slots {
		if in := cur.slots[i].Load(); in != nil && in != m.tomb {
			in.cancel()
		}
	}
}

func (m *flatMapMain[T, R]) requestUpstream(n int64) {
	if ref := m.upstream.Load(); ref != nil {
		ref.s.Request(n)
	}
}

func (m *flatMapMain[T, R]) cancelUpstream() {
	if ref := m.upstream.Load(); ref != nil {
		ref.s.Cancel()
	}
}

func (m *flatMapMain[T, R]) scalarQueue() Queue[R] {
	ref := m.scalar.Load()
	if ref == nil {
		return nil
	}
	return ref.q
}

func (m *flatMapMain[T, R]) scalarQueueOrCreate() Queue[R] {
	for {
		if ref := m.scalar.Load(); ref != nil {
			return ref.q
		}
		var q Queue[R]
		if m.cfg.concurrency == Unbounded {
			q = NewUnboundedQueue[R](0)
		} else {
			q = m.cfg.mainQueue(m.cfg.concurrency)
		}
		if m.scalar.CompareAndSwap(nil, &queueRef[R]{q: q}) {
			return q
		}
	}
}

// innerParent surface.

func (m *flatMapMain[T, R]) drain() {
	if m.wip.AddAcqRel(1) == 1 {
		m.drainLoop()
	}
}

func (m *flatMapMain[T, R]) innerError(in *flatMapInner[R], err error) {
	if m.cfg.errorContinue != nil {
		m.cfg.errorContinue(err, nil)
		in.done.StoreRelease(true)
		m.drain()
		return
	}
	if m.errs.add(err) {
		in.done.StoreRelease(true)
		m.drain()
		return
	}
	in.done.StoreRelease(true)
	m.cfg.droppedError(err)
}

func (m *flatMapMain[T, R]) discardValue(v R) {
	m.cfg.discard(v)
}

func (m *flatMapMain[T, R]) downstream() any {
	return m.actual
}

// drainLoop merges the scalar queue and all inner queues downstream,
// up to demand, until the wip counter confirms no signal arrived during
// the pass. Exactly one goroutine runs it at a time.
func (m *flatMapMain[T, R]) drainLoop() {
pass:
	for {
		if m.cancelled.LoadAcquire() {
			m.discardAll()
			return
		}
		if !m.cfg.delayError && m.errs.current() != nil {
			m.terminate()
			return
		}

		replenish := int64(0)
		r := m.requested.LoadAcquire()

		// Scalar phase: emit staged scalar results up to demand.
		if svq := m.scalarQueue(); svq != nil {
			e := uint64(0)
			for e < r {
				if m.cancelled.LoadAcquire() {
					break
				}
				v, ok := svq.Poll()
				if !ok {
					break
				}
				m.actual.OnNext(v)
				e++
			}
			if e > 0 {
				r = producedAndGet(&m.requested, e)
				replenish += int64(e)
			}
		}

		// Inner phase: round-robin from the cursor, draining each inner
		// while demand remains, retiring exhausted ones.
		slots := m.inners.Load()
		n := len(slots.slots)
		if n > 0 && r > 0 {
			j := m.lastIndex
			if j >= n {
				j = 0
			}
			for i := 0; i < n && r > 0; i++ {
				if m.cancelled.LoadAcquire() {
					break
				}
				in := slots.slots[j].Load()
				if in == nil || in == m.tomb {
					j++
					if j == n {
						j = 0
					}
					continue
				}
				q := in.queue()
				d := in.done.LoadAcquire()
				empty := q == nil || q.IsEmpty()
				if !empty {
					for r > 0 {
						if m.cancelled.LoadAcquire() {
							break
						}
						v, ok := q.Poll()
						if !ok {
							break
						}
						if isNil(v) {
							// A fused producer handed over a nil the
							// inner never saw in OnNext.
							in.cancel()
							m.innerError(in, ErrNilValue)
							if replenish > 0 {
								m.requestUpstream(replenish)
							}
							continue pass
						}
						m.actual.OnNext(v)
						r = producedAndGet(&m.requested, 1)
						in.producedOne()
					}
					d = in.done.LoadAcquire()
					empty = q.IsEmpty()
				}
				if d && empty {
					if m.removeInner(in) {
						replenish++
					}
				}
				j++
				if j == n {
					j = 0
				}
			}
			m.lastIndex = j
		} else if n > 0 {
			// No demand: still retire exhausted inners so upstream
			// slots are replenished and the stream keeps progressing.
			for i := 0; i < n; i++ {
				if m.cancelled.LoadAcquire() {
					break
				}
				in := slots.slots[i].Load()
				if in == nil || in == m.tomb {
					continue
				}
				if in.idle() && m.removeInner(in) {
					replenish++
				}
			}
		}

		// Terminal phase: reload shared state, since inners and the
		// scalar queue may have appeared during the pass.
		if m.done.LoadAcquire() && m.scalarIdle() && m.innersIdle() {
			m.terminate()
			return
		}

		if replenish > 0 {
			m.requestUpstream(replenish)
		}
		if m.wip.AddAcqRel(-1) == 0 {
			return
		}
	}
}

func (m *flatMapMain[T, R]) scalarIdle() bool {
	svq := m.scalarQueue()
	return svq == nil || svq.IsEmpty()
}

func (m *flatMapMain[T, R]) innersIdle() bool {
	cur := m.inners.Load()
	for i := range cur.slots {
		in := cur.slots[i].Load()
		if in == nil || in == m.tomb {
			continue
		}
		if !in.idle() {
			return false
		}
	}
	return true
}

// terminate claims the terminal signal once. A pending error cancels
// all sources and discards remaining buffers before surfacing; in
// delayed mode the buffers are empty by the time this runs.
func (m *flatMapMain[T, R]) terminate() {
	err, ok := m.errs.terminate()
	if !ok {
		return
	}
	if err != nil {
		m.cancelUpstream()
		m.cancelInners()
		m.discardAll()
		m.actual.OnError(err)
		return
	}
	m.actual.OnComplete()
}

func (m *flatMapMain[T, R]) discardAll() {
	if svq := m.scalarQueue(); svq != nil {
		svq.Clear(m.cfg.discard)
	}
	cur := m.inners.Load()
	for i := range cur.slots {
		in := cur.slots[i].Load()
		if in == nil || in == m.tomb {
			continue
		}
		if q := in.queue(); q != nil {
			q.Clear(m.cfg.discard)
		}
	}
}
