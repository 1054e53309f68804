// Package datasets implements sample containers, random splitting,
// partitioning and batching for nuts pipelines.
package datasets

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dsuarezv/nuts-ml/network"
	"github.com/dsuarezv/nuts-ml/nuts"
)

// Sample is one labelled example.
type Sample struct {
	Features []float64
	Target   []float64
}

// BuildBatch groups samples into batches of size rows with two columns:
// the features and the targets. The last batch may be smaller.
func BuildBatch(s nuts.Stream[Sample], size int) nuts.Stream[network.Batch] {
	return nuts.MapErr(nuts.Chunk(s, size), func(chunk []Sample) (network.Batch, error) {
		x, err := stack(chunk, func(s Sample) []float64 { return s.Features })
		if err != nil {
			return nil, errors.Wrap(err, "features")
		}
		y, err := stack(chunk, func(s Sample) []float64 { return s.Target })
		if err != nil {
			return nil, errors.Wrap(err, "targets")
		}
		return network.Batch{x, y}, nil
	})
}

func stack(chunk []Sample, get func(Sample) []float64) (*mat.Dense, error) {
	width := len(get(chunk[0]))
	if width == 0 {
		return nil, errors.New("empty vector")
	}
	data := make([]float64, 0, width*len(chunk))
	for i, s := range chunk {
		v := get(s)
		if len(v) != width {
			return nil, errors.Errorf("sample %d has width %d, expected %d", i, len(v), width)
		}
		data = append(data, v...)
	}
	return mat.NewDense(len(chunk), width, data), nil
}

// Batches slices the aligned rows of x and y into batches of size rows.
func Batches(x, y *mat.Dense, size int) nuts.Stream[network.Batch] {
	rx, cx := x.Dims()
	ry, cy := y.Dims()
	if rx != ry {
		return nuts.Fail[network.Batch](errors.Errorf("%d feature rows but %d target rows", rx, ry))
	}
	if size <= 0 {
		return nuts.Fail[network.Batch](errors.Errorf("batch size must be positive, got %d", size))
	}
	return func(yield func(network.Batch, error) bool) {
		for i := 0; i < rx; i += size {
			j := min(i+size, rx)
			b := network.Batch{
				mat.DenseCopyOf(x.Slice(i, j, 0, cx)),
				mat.DenseCopyOf(y.Slice(i, j, 0, cy)),
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// Balance oversamples every class of samples, drawing random members with
// rng, until each class is as large as the largest one. label maps a sample
// to its class. Classes are kept in order of first appearance.
func Balance[T any](samples []T, label func(T) string, rng *rand.Rand) []T {
	classes := group(samples, label)
	var most int
	for _, c := range classes {
		most = max(most, len(c))
	}
	out := make([]T, 0, most*len(classes))
	for _, c := range classes {
		out = append(out, c...)
		for n := len(c); n < most; n++ {
			out = append(out, c[rng.Intn(len(c))])
		}
	}
	return out
}
