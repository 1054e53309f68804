// Package xor implements a noisy XOR dataset: two features near the corners
// of the unit square and a binary target which is 1 when exactly one feature
// is high.
package xor

import (
	"math/rand"

	"github.com/dsuarezv/nuts-ml/datasets"
)

// Inputs is the number of features per sample.
const Inputs = 2

// Outputs is the width of the target.
const Outputs = 1

// New draws n samples. Each feature is a corner coordinate (0 or 1) plus
// uniform noise in [-noise, noise].
func New(n int, noise float64, rng *rand.Rand) []datasets.Sample {
	samples := make([]datasets.Sample, n)
	for i := range samples {
		a, b := rng.Intn(2), rng.Intn(2)
		samples[i] = datasets.Sample{
			Features: []float64{
				float64(a) + noise*(2*rng.Float64()-1),
				float64(b) + noise*(2*rng.Float64()-1),
			},
			Target: []float64{float64(a ^ b)},
		}
	}
	return samples
}
