// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

// FlatMap maps each upstream element to an inner publisher and merges
// the outputs of all concurrently-active inners into one downstream
// sequence. Merging is unordered across inners; per-inner order is
// preserved. The mapper may fail by returning an error; a nil publisher
// with a nil error is reported as ErrNilPublisher.
func FlatMap[T, R any](source Publisher[T], mapper func(T) (Publisher[R], error), opts ...Option[R]) Publisher[R] {
	if source == nil {
		panic("flow: FlatMap requires a source")
	}
	if mapper == nil {
		panic("flow: FlatMap requires a mapper")
	}
	cfg := defaultConfig[R]()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &flatMapPublisher[T, R]{source: source, mapper: mapper, cfg: cfg}
}

// FlatMapDelayError is FlatMap with delayed error semantics: all inner
// sequences are drained before the composed error is surfaced.
func FlatMapDelayError[T, R any](source Publisher[T], mapper func(T) (Publisher[R], error), opts ...Option[R]) Publisher[R] {
	return FlatMap(source, mapper, append([]Option[R]{WithDelayError[R]()}, opts...)...)
}

// Merge merges the given publishers into one sequence with unlimited
// concurrency.
func Merge[T any](sources ...Publisher[T]) Publisher[T] {
	return MergeConcurrent(Unbounded, sources...)
}

// MergeConcurrent merges the given publishers, subscribing to at most
// concurrency of them simultaneously.
func MergeConcurrent[T any](concurrency int, sources ...Publisher[T]) Publisher[T] {
	return FlatMap(FromSlice(sources), func(p Publisher[T]) (Publisher[T], error) {
		return p, nil
	}, WithConcurrency[T](concurrency))
}

type flatMapPublisher[T, R any] struct {
	source Publisher[T]
	mapper func(T) (Publisher[R], error)
	cfg    config[R]
}

func (p *flatMapPublisher[T, R]) Subscribe(s Subscriber[R]) {
	p.source.Subscribe(newFlatMapMain[T, R](s, p.mapper, p.cfg))
}
