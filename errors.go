// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import (
	"errors"
	"fmt"
	"sync/atomic"

	"code.hybscloud.com/spin"
	"github.com/ygrebnov/errorc"
)

// Sentinel errors. User errors pass through OnError unwrapped; these
// cover the faults the operator itself synthesizes.
var (
	// ErrOverflow signals a value arriving with no free buffer slot and
	// no outstanding demand to absorb it.
	ErrOverflow = errors.New("flow: buffer overflow")
	// ErrNilPublisher signals a mapper returning a nil publisher.
	ErrNilPublisher = errors.New("flow: mapper returned nil publisher")
	// ErrNilValue signals a nil element where one must not appear.
	ErrNilValue = errors.New("flow: nil value")
	// ErrBadRequest signals a non-positive demand request.
	ErrBadRequest = errors.New("flow: non-positive request")
)

// IsOverflow reports whether err is an overflow signal.
func IsOverflow(err error) bool {
	return errors.Is(err, ErrOverflow)
}

func overflowError(queue string) error {
	return errorc.With(ErrOverflow, errorc.String("queue", queue))
}

func badRequestError(n int64) error {
	return errorc.With(ErrBadRequest, errorc.String("n", fmt.Sprintf("%d", n)))
}

// errTerminated marks the error slot after termination. Compared by
// slot identity, never surfaced downstream.
var errTerminated = errors.New("flow: terminated")

// terminatedSlot is the sentinel pointer stored into an errorSlot once
// a terminal signal has been taken.
var terminatedSlot = &errTerminated

// errorSlot accumulates errors from concurrent sources into a single
// composite until a terminal signal claims it. All transitions are CAS;
// the happens-before edge to the drain runs through the pointer swap.
type errorSlot struct {
	p atomic.Pointer[error]
}

// add composes err into the slot. Returns false if the slot is already
// terminated; the caller must route err to the dropped-error hook.
func (s *errorSlot) add(err error) bool {
	var sw spin.Wait
	for {
		cur := s.p.Load()
		if cur == terminatedSlot {
			return false
		}
		composed := err
		if cur != nil {
			composed = errors.Join(*cur, err)
		}
		if s.p.CompareAndSwap(cur, &composed) {
			return true
		}
		sw.Once()
	}
}

// current returns the composed error so far, or nil. After terminate it
// returns nil.
func (s *errorSlot) current() error {
	cur := s.p.Load()
	if cur == nil || cur == terminatedSlot {
		return nil
	}
	return *cur
}

// terminate claims the terminal signal, returning the composed error
// (nil for completion) exactly once. Subsequent calls return nil with
// ok=false.
func (s *errorSlot) terminate() (err error, ok bool) {
	var sw spin.Wait
	for {
		cur := s.p.Load()
		if cur == terminatedSlot {
			return nil, false
		}
		if s.p.CompareAndSwap(cur, terminatedSlot) {
			if cur == nil {
				return nil, true
			}
			return *cur, true
		}
		sw.Once()
	}
}

// terminated reports whether the terminal signal has been claimed.
func (s *errorSlot) terminated() bool {
	return s.p.Load() == terminatedSlot
}
