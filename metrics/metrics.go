// Package metrics implements evaluation measures computed over all targets
// and predictions of a dataset. Every function has the network.Metric
// signature: targets and predictions are matrices with one row per sample.
//
// Class labels are taken from the argmax of a row when a matrix has more than
// one column, and from a 0.5 threshold when it has a single column.
package metrics

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Epsilon clips probabilities away from 0 and 1 in the cross-entropy losses.
const Epsilon = 1e-7

// Func is the signature shared by every metric in this package.
type Func = func(targets, preds *mat.Dense) (float64, error)

var registry = map[string]struct {
	f      Func
	isLoss bool
}{
	"accuracy":     {Accuracy, false},
	"mse":          {MeanSquaredError, true},
	"mae":          {MeanAbsoluteError, true},
	"crossentropy": {CrossEntropy, true},
	"bce":          {BinaryCrossEntropy, true},
	"precision":    {Precision, false},
	"recall":       {Recall, false},
	"f1":           {F1, false},
	"kappa":        {CohenKappa, false},
}

// ByName returns the metric registered under name.
func ByName(name string) (Func, error) {
	m, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown metric %q", name)
	}
	return m.f, nil
}

// IsLoss reports whether lower values of the named metric are better.
func IsLoss(name string) bool {
	return registry[name].isLoss
}

// Names lists the registered metrics in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func rows(targets, preds *mat.Dense) (int, error) {
	if targets == nil || preds == nil {
		return 0, errors.New("nil targets or predictions")
	}
	rt, _ := targets.Dims()
	rp, _ := preds.Dims()
	if rt != rp {
		return 0, errors.Errorf("%d targets but %d predictions", rt, rp)
	}
	if rt == 0 {
		return 0, errors.New("no samples")
	}
	return rt, nil
}

func sameShape(targets, preds *mat.Dense) (r, c int, err error) {
	if r, err = rows(targets, preds); err != nil {
		return
	}
	_, ct := targets.Dims()
	_, c = preds.Dims()
	if ct != c {
		return 0, 0, errors.Errorf("targets have %d columns but predictions have %d", ct, c)
	}
	return
}

// Labels converts every row of m into a class label.
func Labels(m *mat.Dense) []int {
	r, c := m.Dims()
	out := make([]int, r)
	for i := range out {
		row := m.RawRowView(i)
		if c == 1 {
			if row[0] >= 0.5 {
				out[i] = 1
			}
			continue
		}
		out[i] = floats.MaxIdx(row)
	}
	return out
}

func labels(targets, preds *mat.Dense) (t, p []int, err error) {
	if _, err = rows(targets, preds); err != nil {
		return
	}
	return Labels(targets), Labels(preds), nil
}

// Accuracy is the fraction of samples whose predicted label matches the target label.
func Accuracy(targets, preds *mat.Dense) (float64, error) {
	t, p, err := labels(targets, preds)
	if err != nil {
		return 0, err
	}
	var correct float64
	for i := range t {
		if t[i] == p[i] {
			correct++
		}
	}
	return correct / float64(len(t)), nil
}

func elementwise(targets, preds *mat.Dense, f func(t, p float64) float64) ([]float64, error) {
	r, c, err := sameShape(targets, preds)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		tr, pr := targets.RawRowView(i), preds.RawRowView(i)
		for j := range tr {
			out = append(out, f(tr[j], pr[j]))
		}
	}
	return out, nil
}

// MeanSquaredError averages the squared differences over all elements.
func MeanSquaredError(targets, preds *mat.Dense) (float64, error) {
	d, err := elementwise(targets, preds, func(t, p float64) float64 {
		return (t - p) * (t - p)
	})
	if err != nil {
		return 0, err
	}
	return stat.Mean(d, nil), nil
}

// MeanAbsoluteError averages the absolute differences over all elements.
func MeanAbsoluteError(targets, preds *mat.Dense) (float64, error) {
	d, err := elementwise(targets, preds, func(t, p float64) float64 {
		return math.Abs(t - p)
	})
	if err != nil {
		return 0, err
	}
	return stat.Mean(d, nil), nil
}

func clip(p float64) float64 {
	return math.Min(math.Max(p, Epsilon), 1-Epsilon)
}

// CrossEntropy is the categorical cross-entropy averaged over samples.
// Targets are one-hot or class probabilities.
func CrossEntropy(targets, preds *mat.Dense) (float64, error) {
	r, c, err := sameShape(targets, preds)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i := 0; i < r; i++ {
		tr, pr := targets.RawRowView(i), preds.RawRowView(i)
		for j := 0; j < c; j++ {
			sum -= tr[j] * math.Log(clip(pr[j]))
		}
	}
	return sum / float64(r), nil
}

// BinaryCrossEntropy is the binary cross-entropy averaged over all elements.
func BinaryCrossEntropy(targets, preds *mat.Dense) (float64, error) {
	d, err := elementwise(targets, preds, func(t, p float64) float64 {
		p = clip(p)
		return -(t*math.Log(p) + (1-t)*math.Log(1-p))
	})
	if err != nil {
		return 0, err
	}
	return stat.Mean(d, nil), nil
}

// confusion counts binary outcomes with label 1 as the positive class.
func confusion(targets, preds *mat.Dense) (tp, fp, fn float64, err error) {
	t, p, err := labels(targets, preds)
	if err != nil {
		return
	}
	for i := range t {
		switch {
		case p[i] == 1 && t[i] == 1:
			tp++
		case p[i] == 1:
			fp++
		case t[i] == 1:
			fn++
		}
	}
	return
}

// Precision is tp / (tp + fp) for the positive class 1. It is 0 when
// nothing is predicted positive.
func Precision(targets, preds *mat.Dense) (float64, error) {
	tp, fp, _, err := confusion(targets, preds)
	if err != nil || tp+fp == 0 {
		return 0, err
	}
	return tp / (tp + fp), nil
}

// Recall is tp / (tp + fn) for the positive class 1. It is 0 when there
// are no positive targets.
func Recall(targets, preds *mat.Dense) (float64, error) {
	tp, _, fn, err := confusion(targets, preds)
	if err != nil || tp+fn == 0 {
		return 0, err
	}
	return tp / (tp + fn), nil
}

// F1 is the harmonic mean of Precision and Recall.
func F1(targets, preds *mat.Dense) (float64, error) {
	tp, fp, fn, err := confusion(targets, preds)
	if err != nil || tp == 0 {
		return 0, err
	}
	return 2 * tp / (2*tp + fp + fn), nil
}

// CohenKappa measures the agreement between target and predicted labels
// corrected for the agreement expected by chance.
func CohenKappa(targets, preds *mat.Dense) (float64, error) {
	t, p, err := labels(targets, preds)
	if err != nil {
		return 0, err
	}
	k := 0
	for i := range t {
		k = max(k, t[i]+1, p[i]+1)
	}
	rowSum := make([]float64, k)
	colSum := make([]float64, k)
	var agree float64
	for i := range t {
		rowSum[t[i]]++
		colSum[p[i]]++
		if t[i] == p[i] {
			agree++
		}
	}
	n := float64(len(t))
	po := agree / n
	pe := floats.Dot(rowSum, colSum) / (n * n)
	if pe == 1 {
		if po == 1 {
			return 1, nil
		}
		return 0, nil
	}
	return (po - pe) / (1 - pe), nil
}
