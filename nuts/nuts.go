// Package nuts implements lazy data pipelines over range-over-func iterators.
//
// A Stream yields values paired with an error. A stream stops after it yields
// a non-nil error, so the error travels downstream through every stage:
//
//	batches := nuts.Chunk(nuts.FromSlice(samples), 32)
//	losses, err := nuts.Collect(network.Train()(batches))
//
// Nothing is computed until the final stream is ranged over, and breaking out
// of the consuming loop stops all upstream stages.
package nuts

import (
	"iter"

	"github.com/pkg/errors"
)

// Stream is a lazily evaluated sequence of values. A stream yields at most one
// non-nil error, as its last element.
type Stream[T any] iter.Seq2[T, error]

// Processor transforms one stream into another.
type Processor[In, Out any] func(Stream[In]) Stream[Out]

// Sink consumes a stream and reduces it to a single result.
type Sink[In, R any] func(Stream[In]) (R, error)

// From creates a stream over the given items.
func From[T any](items ...T) Stream[T] {
	return FromSlice(items)
}

// FromSlice creates a stream over the slice items.
func FromSlice[T any](items []T) Stream[T] {
	return func(yield func(T, error) bool) {
		for _, v := range items {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// FromSeq wraps an iter.Seq which cannot fail.
func FromSeq[T any](seq iter.Seq[T]) Stream[T] {
	return func(yield func(T, error) bool) {
		for v := range seq {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Fail creates a stream which yields err and nothing else.
func Fail[T any](err error) Stream[T] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// Map applies f to every value of s.
func Map[In, Out any](s Stream[In], f func(In) Out) Stream[Out] {
	return MapErr(s, func(v In) (Out, error) {
		return f(v), nil
	})
}

// MapErr applies f to every value of s. The first error returned by f ends
// the stream.
func MapErr[In, Out any](s Stream[In], f func(In) (Out, error)) Stream[Out] {
	return func(yield func(Out, error) bool) {
		var zero Out
		for v, err := range s {
			if err != nil {
				yield(zero, err)
				return
			}
			out, err := f(v)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

// Filter keeps the values of s for which keep reports true.
func Filter[T any](s Stream[T], keep func(T) bool) Stream[T] {
	return func(yield func(T, error) bool) {
		for v, err := range s {
			if err != nil {
				yield(v, err)
				return
			}
			if keep(v) && !yield(v, nil) {
				return
			}
		}
	}
}

// Flatten yields the elements of every slice in s, in order.
func Flatten[T any](s Stream[[]T]) Stream[T] {
	return func(yield func(T, error) bool) {
		var zero T
		for vs, err := range s {
			if err != nil {
				yield(zero, err)
				return
			}
			for _, v := range vs {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

// Chunk groups consecutive values of s into slices of length n. The last
// chunk holds the remainder and may be shorter.
func Chunk[T any](s Stream[T], n int) Stream[[]T] {
	if n <= 0 {
		return Fail[[]T](errors.Errorf("chunk size must be positive, got %d", n))
	}
	return func(yield func([]T, error) bool) {
		chunk := make([]T, 0, n)
		for v, err := range s {
			if err != nil {
				yield(nil, err)
				return
			}
			chunk = append(chunk, v)
			if len(chunk) == n {
				if !yield(chunk, nil) {
					return
				}
				chunk = make([]T, 0, n)
			}
		}
		if len(chunk) > 0 {
			yield(chunk, nil)
		}
	}
}

// Take yields at most the first n values of s.
func Take[T any](s Stream[T], n int) Stream[T] {
	return func(yield func(T, error) bool) {
		if n <= 0 {
			return
		}
		var i int
		for v, err := range s {
			if !yield(v, err) || err != nil {
				return
			}
			i++
			if i >= n {
				return
			}
		}
	}
}

// Then composes two processors, p runs first.
func Then[A, B, C any](p Processor[A, B], q Processor[B, C]) Processor[A, C] {
	return func(s Stream[A]) Stream[C] {
		return q(p(s))
	}
}

// Collect gathers every value of s into a slice.
func Collect[T any](s Stream[T]) ([]T, error) {
	var out []T
	for v, err := range s {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Consume drains s, discarding the values.
func Consume[T any](s Stream[T]) error {
	for _, err := range s {
		if err != nil {
			return err
		}
	}
	return nil
}

// Count drains s and reports the number of values seen.
func Count[T any](s Stream[T]) (n int, err error) {
	for _, err = range s {
		if err != nil {
			return
		}
		n++
	}
	return
}
