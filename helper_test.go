// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/flow"
	"code.hybscloud.com/iox"
)

// testSubscriber collects every signal it receives. Signal methods are
// serialized by the publisher contract; the mutex publishes state to
// the test goroutine for awaits and assertions.
type testSubscriber[T any] struct {
	mu        sync.Mutex
	values    []T
	err       error
	completes int
	errors    int
	sub       flow.Subscription
	initial   int64
}

// newTestSubscriber creates a subscriber requesting initial demand at
// subscribe time. Zero means no demand until request is called.
func newTestSubscriber[T any](initial int64) *testSubscriber[T] {
	return &testSubscriber[T]{initial: initial}
}

func (ts *testSubscriber[T]) OnSubscribe(s flow.Subscription) {
	ts.mu.Lock()
	ts.sub = s
	ts.mu.Unlock()
	if ts.initial > 0 {
		s.Request(ts.initial)
	}
}

func (ts *testSubscriber[T]) OnNext(v T) {
	ts.mu.Lock()
	ts.values = append(ts.values, v)
	ts.mu.Unlock()
}

func (ts *testSubscriber[T]) OnError(err error) {
	ts.mu.Lock()
	ts.err = err
	ts.errors++
	ts.mu.Unlock()
}

func (ts *testSubscriber[T]) OnComplete() {
	ts.mu.Lock()
	ts.completes++
	ts.mu.Unlock()
}

func (ts *testSubscriber[T]) request(n int64) {
	ts.mu.Lock()
	s := ts.sub
	ts.mu.Unlock()
	s.Request(n)
}

func (ts *testSubscriber[T]) cancel() {
	ts.mu.Lock()
	s := ts.sub
	ts.mu.Unlock()
	s.Cancel()
}

func (ts *testSubscriber[T]) valueCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.values)
}

func (ts *testSubscriber[T]) snapshot() []T {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]T(nil), ts.values...)
}

func (ts *testSubscriber[T]) terminal() (completes, errors int, err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.completes, ts.errors, ts.err
}

func (ts *testSubscriber[T]) assertValueCount(tb testing.TB, want int) {
	tb.Helper()
	if got := ts.valueCount(); got != want {
		tb.Fatalf("value count got %d, want %d", got, want)
	}
}

func (ts *testSubscriber[T]) assertComplete(tb testing.TB) {
	tb.Helper()
	completes, errors, err := ts.terminal()
	if completes != 1 || errors != 0 {
		tb.Fatalf("terminal got %d completes, %d errors (%v), want one complete", completes, errors, err)
	}
}

func (ts *testSubscriber[T]) assertNotTerminated(tb testing.TB) {
	tb.Helper()
	completes, errors, err := ts.terminal()
	if completes != 0 || errors != 0 {
		tb.Fatalf("unexpected terminal: %d completes, %d errors (%v)", completes, errors, err)
	}
}

func (ts *testSubscriber[T]) assertError(tb testing.TB) error {
	tb.Helper()
	completes, errors, err := ts.terminal()
	if errors != 1 || completes != 0 {
		tb.Fatalf("terminal got %d completes, %d errors, want one error", completes, errors)
	}
	return err
}

// await spins with adaptive backoff until cond holds, failing after the
// timeout. For tests that cross goroutines.
func await(tb testing.TB, timeout time.Duration, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	var bo iox.Backoff
	for !cond() {
		if time.Now().After(deadline) {
			tb.Fatalf("condition not met within %v", timeout)
		}
		bo.Wait()
	}
}

// manualPublisher hands the test direct control over one subscriber:
// signals are pushed explicitly and demand/cancellation are observable.
type manualPublisher[T any] struct {
	mu        sync.Mutex
	sub       flow.Subscriber[T]
	requested atomix.Int64
	cancelled atomix.Bool
}

func (p *manualPublisher[T]) Subscribe(s flow.Subscriber[T]) {
	p.mu.Lock()
	p.sub = s
	p.mu.Unlock()
	s.OnSubscribe(&manualSubscription[T]{p: p})
}

func (p *manualPublisher[T]) subscriber() flow.Subscriber[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub
}

func (p *manualPublisher[T]) Next(vs ...T) {
	s := p.subscriber()
	for _, v := range vs {
		s.OnNext(v)
	}
}

func (p *manualPublisher[T]) Complete() {
	p.subscriber().OnComplete()
}

func (p *manualPublisher[T]) Error(err error) {
	p.subscriber().OnError(err)
}

type manualSubscription[T any] struct {
	p *manualPublisher[T]
}

func (s *manualSubscription[T]) Request(n int64) {
	s.p.requested.AddAcqRel(n)
}

func (s *manualSubscription[T]) Cancel() {
	s.p.cancelled.StoreRelease(true)
}

// fuseablePublisher exposes a QueueSubscription granting the configured
// fusion modes, with preloaded items and request tracking. In ASYNC
// mode the test appends items and wakes the consumer itself.
type fuseablePublisher[T any] struct {
	allow int
	items []T

	qs  *fusionQueueSubscription[T]
	sub flow.Subscriber[T]
}

func (p *fuseablePublisher[T]) Subscribe(s flow.Subscriber[T]) {
	p.qs = &fusionQueueSubscription[T]{allow: p.allow, items: p.items}
	p.sub = s
	s.OnSubscribe(p.qs)
}

type fusionQueueSubscription[T any] struct {
	allow   int
	granted int
	items   []T
	idx     int

	requested atomix.Int64
	cancelled atomix.Bool
}

func (s *fusionQueueSubscription[T]) Request(n int64) {
	s.requested.AddAcqRel(n)
}

func (s *fusionQueueSubscription[T]) Cancel() {
	s.cancelled.StoreRelease(true)
}

func (s *fusionQueueSubscription[T]) RequestFusion(requested int) int {
	if requested&s.allow&flow.FusionSync != 0 {
		s.granted = flow.FusionSync
	} else if requested&s.allow&flow.FusionAsync != 0 {
		s.granted = flow.FusionAsync
	} else {
		s.granted = flow.FusionNone
	}
	return s.granted
}

func (s *fusionQueueSubscription[T]) Poll() (T, bool) {
	if s.idx < len(s.items) {
		v := s.items[s.idx]
		s.idx++
		return v, true
	}
	var zero T
	return zero, false
}

func (s *fusionQueueSubscription[T]) IsEmpty() bool {
	return s.idx >= len(s.items)
}

func (s *fusionQueueSubscription[T]) Size() int {
	return len(s.items) - s.idx
}

func (s *fusionQueueSubscription[T]) Clear() {
	s.idx = len(s.items)
}

// plainFail terminates with err immediately after subscription, without
// implementing Callable, so operators exercise the inner error path
// rather than the scalar probe.
type plainFail[T any] struct {
	err error
}

func (p plainFail[T]) Subscribe(s flow.Subscriber[T]) {
	s.OnSubscribe(noop{})
	s.OnError(p.err)
}

type noop struct{}

func (noop) Request(int64) {}
func (noop) Cancel()       {}

// identity is the Merge-style mapper.
func identity[T any](p flow.Publisher[T]) (flow.Publisher[T], error) {
	return p, nil
}

func isErrBadRequest(err error) bool {
	return errors.Is(err, flow.ErrBadRequest)
}

// errForced is the shared injected failure for property tests.
var errForced = errors.New("forced")
