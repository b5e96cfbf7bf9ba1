// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import (
	"math"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// demandUnbounded is the saturation point for downstream demand.
// Once a counter reaches it, it never moves again.
const demandUnbounded = uint64(math.MaxInt64)

// addCap adds n to the demand counter, saturating at demandUnbounded.
// Returns the value before the addition.
func addCap(r *atomix.Uint64, n uint64) uint64 {
	var sw spin.Wait
	for {
		cur := r.LoadAcquire()
		if cur == demandUnbounded {
			return cur
		}
		next := cur + n
		if next < cur || next > demandUnbounded {
			next = demandUnbounded
		}
		if r.CompareAndSwapAcqRel(cur, next) {
			return cur
		}
		sw.Once()
	}
}

// producedCap subtracts n emissions from the demand counter, unless it
// is saturated. The counter never goes below zero.
func producedCap(r *atomix.Uint64, n uint64) {
	producedAndGet(r, n)
}

// producedAndGet subtracts n emissions and returns the remaining
// demand. A saturated counter stays saturated.
func producedAndGet(r *atomix.Uint64, n uint64) uint64 {
	var sw spin.Wait
	for {
		cur := r.LoadAcquire()
		if cur == demandUnbounded {
			return cur
		}
		next := uint64(0)
		if cur > n {
			next = cur - n
		}
		if r.CompareAndSwapAcqRel(cur, next) {
			return next
		}
		sw.Once()
	}
}
