// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package flow provides a reactive-streams flatMap core: a concurrency
// primitive that maps each upstream element to an inner publisher and
// merges all concurrently-active inner sequences into one downstream
// sequence under demand-based flow control.
//
// # Architecture
//
//   - Buffering: Lock-free bounded queues via [code.hybscloud.com/lfq].
//     SPSC per inner subscriber, MPSC for the shared scalar queue.
//   - Serialization: A work-in-progress counter gates a single logical
//     drain thread; all other signal sources increment it and return.
//     The drain never blocks and never spawns goroutines.
//   - Backpressure: Downstream demand is tracked in a saturating atomic
//     counter; upstream and per-inner requests are replenished in
//     batches as the drain consumes.
//   - Fusion: Inner publishers may negotiate SYNC or ASYNC queue fusion
//     through [QueueSubscription]; a SYNC-fused producer is polled
//     directly and never receives a request signal.
//   - Scalars: Publishers implementing [Callable] bypass inner
//     subscription entirely; their single value is emitted inline when
//     demand allows, or staged on the scalar queue.
//
// # API Topologies
//
//   - Operators: [FlatMap], [FlatMapDelayError], [Merge], [MergeConcurrent].
//   - Sources: [Range], [Just], [Empty], [Fail], [FromSlice],
//     [FromCallable], [Never].
//   - Blocking: [BlockingCollect] and [BlockingFirst] wait past
//     asynchronous boundaries using adaptive backoff, without spawning
//     goroutines or creating channels.
//
// # Error Semantics
//
// Errors from the upstream, the mapper, or any inner are CAS-composed
// into a single terminal slot. Immediate mode cancels everything and
// surfaces the first composite; [WithDelayError] delivers all buffered
// values first. [WithErrorContinue] opts into skip-and-drop fault
// tolerance. Late errors are routed to the dropped-error hook, never
// silently lost.
//
// # Example
//
//	out := flow.FlatMap(flow.Range(1, 1000), func(v int) (flow.Publisher[int], error) {
//		return flow.Range(v, 2), nil
//	})
//	values, err := flow.BlockingCollect(out)
package flow
