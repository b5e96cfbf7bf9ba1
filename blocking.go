// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import (
	"math"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// BlockingCollect subscribes to p with unbounded demand and waits for
// the terminal signal using adaptive backoff (iox.Backoff), without
// spawning goroutines or creating channels. Returns the collected
// values and the terminal error, if any.
func BlockingCollect[T any](p Publisher[T]) ([]T, error) {
	c := &collectSubscriber[T]{demand: math.MaxInt64}
	p.Subscribe(c)
	var bo iox.Backoff
	for !c.terminated.LoadAcquire() {
		bo.Wait()
	}
	return c.values, c.err
}

// BlockingFirst subscribes to p with demand one, waits for the first
// value or the terminal signal, then cancels. ok reports whether a
// value arrived before termination.
func BlockingFirst[T any](p Publisher[T]) (v T, ok bool, err error) {
	c := &collectSubscriber[T]{demand: 1, cancelAfter: 1}
	p.Subscribe(c)
	var bo iox.Backoff
	for !c.terminated.LoadAcquire() {
		bo.Wait()
	}
	if len(c.values) > 0 {
		return c.values[0], true, nil
	}
	var zero T
	return zero, false, c.err
}

// collectSubscriber accumulates a sequence on whatever goroutine the
// publisher delivers from. Signal methods are serialized by the
// publisher contract; terminated publishes the result to the waiter.
type collectSubscriber[T any] struct {
	demand      int64
	cancelAfter int

	s          Subscription
	values     []T
	err        error
	terminated atomix.Bool
}

func (c *collectSubscriber[T]) OnSubscribe(s Subscription) {
	c.s = s
	s.Request(c.demand)
}

func (c *collectSubscriber[T]) OnNext(v T) {
	if c.terminated.LoadAcquire() {
		return
	}
	c.values = append(c.values, v)
	if c.cancelAfter > 0 && len(c.values) >= c.cancelAfter {
		c.s.Cancel()
		c.terminated.StoreRelease(true)
	}
}

func (c *collectSubscriber[T]) OnError(err error) {
	c.err = err
	c.terminated.StoreRelease(true)
}

func (c *collectSubscriber[T]) OnComplete() {
	c.terminated.StoreRelease(true)
}
