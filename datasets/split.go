package datasets

import (
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

type splitOptions[T any] struct {
	ratios     []float64
	constraint func(T) string
	rand       *rand.Rand
}

// SplitOption configures SplitRandom.
type SplitOption[T any] func(*splitOptions[T])

// Ratio splits into two parts of ratio r and 1-r.
func Ratio[T any](r float64) SplitOption[T] {
	return func(o *splitOptions[T]) {
		o.ratios = []float64{r, 1 - r}
	}
}

// Ratios splits into one part per ratio. The ratios must sum up to one.
func Ratios[T any](rs ...float64) SplitOption[T] {
	return func(o *splitOptions[T]) {
		o.ratios = append([]float64(nil), rs...)
	}
}

// Constraint keeps items with the same key in the same part.
func Constraint[T any](key func(T) string) SplitOption[T] {
	return func(o *splitOptions[T]) {
		o.constraint = key
	}
}

// Rand sets the random source, making the split reproducible.
func Rand[T any](r *rand.Rand) SplitOption[T] {
	return func(o *splitOptions[T]) {
		o.rand = r
	}
}

// SplitRandom partitions items randomly into parts sized by the ratios
// (default 0.7 and 0.3). Every part but the last receives whole groups until
// it holds at least its share of the items; the last part receives the rest.
// Without a constraint every item forms its own group.
func SplitRandom[T any](items []T, opts ...SplitOption[T]) ([][]T, error) {
	o := splitOptions[T]{ratios: []float64{0.7, 0.3}}
	for _, opt := range opts {
		opt(&o)
	}
	if err := CheckRatios(o.ratios); err != nil {
		return nil, err
	}
	if o.rand == nil {
		o.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	groups := group(items, o.constraint)
	o.rand.Shuffle(len(groups), func(i, j int) {
		groups[i], groups[j] = groups[j], groups[i]
	})

	parts := make([][]T, len(o.ratios))
	n := float64(len(items))
	var g int
	for p, r := range o.ratios[:len(o.ratios)-1] {
		want := int(math.Round(n * r))
		for g < len(groups) && len(parts[p]) < want {
			parts[p] = append(parts[p], groups[g]...)
			g++
		}
	}
	last := len(parts) - 1
	for ; g < len(groups); g++ {
		parts[last] = append(parts[last], groups[g]...)
	}
	return parts, nil
}

// CheckRatios reports whether ratios can split a collection: at least two
// positive values summing up to one.
func CheckRatios(ratios []float64) error {
	if len(ratios) < 2 {
		return errors.Errorf("need at least two ratios: %v", ratios)
	}
	var sum float64
	for _, r := range ratios {
		if r <= 0 {
			return errors.Errorf("ratios cannot be zero or negative: %v", ratios)
		}
		sum += r
	}
	if math.Abs(sum-1) > 1e-10 {
		return errors.Errorf("ratios must sum up to one: %v", ratios)
	}
	return nil
}

// group collects items by key in order of the first appearance of each key.
func group[T any](items []T, key func(T) string) [][]T {
	if key == nil {
		groups := make([][]T, len(items))
		for i, v := range items {
			groups[i] = []T{v}
		}
		return groups
	}
	var groups [][]T
	index := make(map[string]int)
	for _, v := range items {
		k := key(v)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], v)
	}
	return groups
}
