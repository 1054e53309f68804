// Package network wraps existing neural network implementations so they can
// be driven from nuts pipelines:
//
//	losses, err := nuts.Collect(net.Train()(batches))
//	scores, err := net.Evaluate([]network.Metric{metrics.Accuracy})(batches)
//
// Training, layers and gradients stay inside the wrapped framework. This
// package only moves batches in and results out.
package network

import (
	"io"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dsuarezv/nuts-ml/nuts"
)

// ErrNotImplemented is returned by every Base method a wrapper does not override.
var ErrNotImplemented = errors.New("not implemented")

// Batch is a set of aligned columns, one matrix per column with one row per
// sample. By convention the last column holds the targets.
type Batch []*mat.Dense

// Rows returns the number of samples in the batch.
func (b Batch) Rows() int {
	if len(b) == 0 || b[0] == nil {
		return 0
	}
	r, _ := b[0].Dims()
	return r
}

// Index resolves a column index; negative values count from the end.
func (b Batch) Index(col int) (int, error) {
	i := col
	if i < 0 {
		i += len(b)
	}
	if i < 0 || i >= len(b) {
		return 0, errors.Errorf("column %d out of range for batch with %d columns", col, len(b))
	}
	return i, nil
}

// Col returns the column at index col; negative values count from the end.
func (b Batch) Col(col int) (*mat.Dense, error) {
	i, err := b.Index(col)
	if err != nil {
		return nil, err
	}
	return b[i], nil
}

// Outputs holds one matrix per output head of a network.
type Outputs []*mat.Dense

// Metric computes a score over all targets and predictions at once. Metrics
// may run concurrently and must not modify their arguments.
type Metric func(targets, preds *mat.Dense) (float64, error)

// ComputeFunc applies a metric the way a given framework needs it applied.
type ComputeFunc func(m Metric, targets, preds *mat.Dense) (float64, error)

// BatchFunc trains or validates on the columns of one batch and returns the
// results, typically the loss followed by other measures.
type BatchFunc func(cols ...*mat.Dense) ([]float64, error)

// PredictFunc computes the outputs for the input columns of one batch.
type PredictFunc func(cols ...*mat.Dense) (Outputs, error)

// Network is a trainable model usable as a pipeline stage.
type Network interface {
	// Train returns a processor yielding the training results of every batch.
	Train() nuts.Processor[Batch, []float64]

	// Validate returns a processor yielding the validation results of every batch.
	Validate() nuts.Processor[Batch, []float64]

	// Predict returns a processor yielding predictions. With flatten set, one
	// Outputs per sample is yielded instead of one per batch.
	Predict(flatten bool) nuts.Processor[Batch, Outputs]

	// Evaluate returns a sink computing every metric over the whole stream.
	Evaluate(metrics []Metric, opts ...EvalOption) nuts.Sink[Batch, []float64]

	// SaveBest saves the weights when score improves on the best score so far.
	SaveBest(score float64, isLoss bool) (bool, error)

	// SaveWeights writes the weights to WeightsPath.
	SaveWeights() error

	// LoadWeights reads the weights from WeightsPath.
	LoadWeights() error

	// PrintLayers writes a description of the layers to w.
	PrintLayers(w io.Writer) error

	// WeightsPath returns the file the weights are saved to and loaded from.
	WeightsPath() string

	// BestScore returns the best score seen by SaveBest, if any.
	BestScore() (float64, bool)
}

// Base carries the state common to all wrappers: the weights file and the
// best score. Wrappers embed it and override the methods they support; the
// others report ErrNotImplemented.
type Base struct {
	path    string
	best    float64
	hasBest bool
	save    func() error
}

// NewBase creates a Base writing weights to path. save is called by SaveBest
// and is normally the wrapper's own SaveWeights method.
func NewBase(path string, save func() error) Base {
	return Base{path: path, save: save}
}

func notImplemented(method string) error {
	return errors.Wrapf(ErrNotImplemented, "implement %s()", method)
}

// WeightsPath returns the weights file.
func (b *Base) WeightsPath() string {
	return b.path
}

// BestScore returns the best score recorded by SaveBest.
func (b *Base) BestScore() (float64, bool) {
	return b.best, b.hasBest
}

// SaveBest records score and saves the weights when it is the first score or
// strictly better than the best one: lower when isLoss, higher otherwise.
// It reports whether the weights were written.
func (b *Base) SaveBest(score float64, isLoss bool) (bool, error) {
	if math.IsNaN(score) {
		return false, errors.New("cannot compare NaN score")
	}
	if b.hasBest {
		better := score > b.best
		if isLoss {
			better = score < b.best
		}
		if !better {
			return false, nil
		}
	}
	b.best, b.hasBest = score, true
	if b.save == nil {
		return false, notImplemented("SaveWeights")
	}
	if err := b.save(); err != nil {
		return false, errors.Wrap(err, "save best weights")
	}
	return true, nil
}

// Train reports ErrNotImplemented.
func (b *Base) Train() nuts.Processor[Batch, []float64] {
	return failing[[]float64](notImplemented("Train"))
}

// Validate reports ErrNotImplemented.
func (b *Base) Validate() nuts.Processor[Batch, []float64] {
	return failing[[]float64](notImplemented("Validate"))
}

// Predict reports ErrNotImplemented.
func (b *Base) Predict(flatten bool) nuts.Processor[Batch, Outputs] {
	return failing[Outputs](notImplemented("Predict"))
}

// Evaluate reports ErrNotImplemented.
func (b *Base) Evaluate(metrics []Metric, opts ...EvalOption) nuts.Sink[Batch, []float64] {
	return func(nuts.Stream[Batch]) ([]float64, error) {
		return nil, notImplemented("Evaluate")
	}
}

// SaveWeights reports ErrNotImplemented.
func (b *Base) SaveWeights() error {
	return notImplemented("SaveWeights")
}

// LoadWeights reports ErrNotImplemented.
func (b *Base) LoadWeights() error {
	return notImplemented("LoadWeights")
}

// PrintLayers reports ErrNotImplemented.
func (b *Base) PrintLayers(w io.Writer) error {
	return notImplemented("PrintLayers")
}

func failing[Out any](err error) nuts.Processor[Batch, Out] {
	return func(nuts.Stream[Batch]) nuts.Stream[Out] {
		return nuts.Fail[Out](err)
	}
}

var _ Network = (*Base)(nil)
