// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

// Attr identifies a queryable runtime attribute of an operator stage.
type Attr int

const (
	// AttrParent is the stage's upstream: the upstream subscription on a
	// coordinator (nil before OnSubscribe), the coordinator on an inner.
	AttrParent Attr = iota
	// AttrActual is the downstream subscriber being served.
	AttrActual
	// AttrRequestedFromDownstream is the outstanding downstream demand.
	AttrRequestedFromDownstream
	// AttrPrefetch is the stage's configured request batch: the
	// concurrency bound on a coordinator, the inner prefetch on an
	// inner.
	AttrPrefetch
	// AttrTerminated reports that the stage has seen its terminal signal.
	AttrTerminated
	// AttrCancelled reports downstream cancellation.
	AttrCancelled
	// AttrError is the composed pending error, or nil.
	AttrError
	// AttrBuffered is the stage's buffered element count as int; on a
	// coordinator it sums the scalar queue and all inner queues and
	// wraps for very large backlogs.
	AttrBuffered
	// AttrLargeBuffered is the buffered count as int64.
	AttrLargeBuffered
	// AttrDelayError reports delayed-error semantics.
	AttrDelayError
	// AttrRunStyle is how the stage delivers signals.
	AttrRunStyle
)

// RunStyle describes a stage's delivery discipline.
type RunStyle int

// RunStyleSync marks stages that deliver on the signaling goroutine,
// serialized by the drain.
const RunStyleSync RunStyle = 1

// Inspectable exposes runtime attributes for diagnostics.
type Inspectable interface {
	Inspect(a Attr) any
}

// Inspect implements Inspectable for the coordinator.
func (m *flatMapMain[T, R]) Inspect(a Attr) any {
	switch a {
	case AttrParent:
		if ref := m.upstream.Load(); ref != nil {
			return ref.s
		}
		return nil
	case AttrActual:
		return m.actual
	case AttrRequestedFromDownstream:
		return int64(m.requested.LoadAcquire())
	case AttrPrefetch:
		return m.cfg.concurrency
	case AttrTerminated:
		return m.done.LoadAcquire()
	case AttrCancelled:
		return m.cancelled.LoadAcquire()
	case AttrError:
		return m.errs.current()
	case AttrBuffered:
		return int(int32(m.buffered()))
	case AttrLargeBuffered:
		return m.buffered()
	case AttrDelayError:
		return m.cfg.delayError
	case AttrRunStyle:
		return RunStyleSync
	}
	return nil
}

func (m *flatMapMain[T, R]) buffered() int64 {
	total := int64(0)
	if svq := m.scalarQueue(); svq != nil {
		total += int64(svq.Size())
	}
	cur := m.inners.Load()
	for i := range cur.slots {
		in := cur.slots[i].Load()
		if in == nil || in == m.tomb {
			continue
		}
		if q := in.queue(); q != nil {
			total += int64(q.Size())
		}
	}
	return total
}

// Inspect implements Inspectable for an inner subscriber.
func (in *flatMapInner[R]) Inspect(a Attr) any {
	switch a {
	case AttrParent:
		return in.parent
	case AttrActual:
		return in.parent.downstream()
	case AttrPrefetch:
		return in.prefetch
	case AttrTerminated:
		return in.done.LoadAcquire()
	case AttrCancelled:
		return in.cancelled.LoadAcquire() != 0
	case AttrBuffered:
		if q := in.queue(); q != nil {
			return q.Size()
		}
		return 0
	case AttrLargeBuffered:
		if q := in.queue(); q != nil {
			return int64(q.Size())
		}
		return int64(0)
	case AttrRunStyle:
		return RunStyleSync
	}
	return nil
}
