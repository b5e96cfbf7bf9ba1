// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/flow"
	"code.hybscloud.com/iox"
)

// TestCompleteVsErrorRace races one inner's completion against another
// inner's error. Under every interleaving exactly one terminal reaches
// the downstream, and a losing error surfaces through the dropped-error
// hook rather than disappearing.
func TestCompleteVsErrorRace(t *testing.T) {
	skipRace(t)
	if testing.Short() {
		t.Skip("skip: racing rounds")
	}

	const rounds = 2000
	boom := errors.New("expected")

	for round := 0; round < rounds; round++ {
		pa := &manualPublisher[int]{}
		pb := &manualPublisher[int]{}

		var mu sync.Mutex
		var droppedErrs []error
		ts := newTestSubscriber[int](math.MaxInt64)

		flow.FlatMap(flow.FromSlice([]flow.Publisher[int]{pa, pb}), identity[int],
			flow.WithConcurrency[int](2),
			flow.WithDroppedErrorHook[int](func(err error) {
				mu.Lock()
				droppedErrs = append(droppedErrs, err)
				mu.Unlock()
			}),
		).Subscribe(ts)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			pa.Complete()
		}()
		go func() {
			defer wg.Done()
			pb.Error(boom)
		}()
		wg.Wait()

		await(t, 5*time.Second, func() bool {
			completes, errs, _ := ts.terminal()
			return completes+errs > 0
		})

		completes, errs, err := ts.terminal()
		if completes+errs != 1 {
			t.Fatalf("round %d: %d completes, %d errors, want exactly one terminal", round, completes, errs)
		}
		if errs == 1 {
			if !errors.Is(err, boom) {
				t.Fatalf("round %d: terminal error got %v, want %v", round, err, boom)
			}
			continue
		}
		// Complete won the race: the error must have been dropped into
		// the hook, never lost.
		mu.Lock()
		lost := len(droppedErrs) != 1 || !errors.Is(droppedErrs[0], boom)
		mu.Unlock()
		if lost {
			t.Fatalf("round %d: complete won but error was not dropped to the hook", round)
		}
	}
}

// TestConcurrentInnerProducers drives two inners from separate
// goroutines under unbounded demand and checks conservation and
// per-inner order.
func TestConcurrentInnerProducers(t *testing.T) {
	skipRace(t)

	const perInner = 5000
	pa := &manualPublisher[int]{}
	pb := &manualPublisher[int]{}
	ts := newTestSubscriber[int](math.MaxInt64)

	flow.MergeConcurrent[int](2, pa, pb).Subscribe(ts)

	// Producers honor the demand their inner subscriber granted, waiting
	// with adaptive backoff for replenish batches.
	produce := func(p *manualPublisher[int], base int) {
		sent := int64(0)
		var bo iox.Backoff
		for sent < perInner {
			if p.requested.LoadAcquire() <= sent {
				bo.Wait()
				continue
			}
			p.Next(base + int(sent))
			sent++
			bo.Reset()
		}
		p.Complete()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		produce(pa, 0)
	}()
	go func() {
		defer wg.Done()
		produce(pb, 100000)
	}()
	wg.Wait()

	await(t, 10*time.Second, func() bool {
		completes, _, _ := ts.terminal()
		return completes > 0
	})

	ts.assertValueCount(t, 2*perInner)
	ts.assertComplete(t)

	lastA, lastB := -1, -1
	for _, v := range ts.snapshot() {
		if v < 100000 {
			if v <= lastA {
				t.Fatalf("inner a reordered: %d after %d", v, lastA)
			}
			lastA = v
		} else {
			if v <= lastB {
				t.Fatalf("inner b reordered: %d after %d", v, lastB)
			}
			lastB = v
		}
	}
}

// TestConcurrentRequestAndProduce races downstream requests against
// scalar production; delivered count must never exceed granted demand.
func TestConcurrentRequestAndProduce(t *testing.T) {
	skipRace(t)

	const n = 2000
	ts := newTestSubscriber[int](0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		flow.FlatMap(flow.Range(0, n), func(v int) (flow.Publisher[int], error) {
			return flow.Just(v), nil
		}).Subscribe(ts)
	}()

	var bo iox.Backoff
	granted := int64(0)
	for granted < n {
		ts.mu.Lock()
		ready := ts.sub != nil
		ts.mu.Unlock()
		if !ready {
			bo.Wait()
			continue
		}
		ts.request(7)
		granted += 7
		if int64(ts.valueCount()) > granted {
			t.Fatalf("delivered more than requested")
		}
	}
	<-done

	await(t, 10*time.Second, func() bool {
		completes, _, _ := ts.terminal()
		return completes > 0
	})
	ts.assertValueCount(t, n)
}
