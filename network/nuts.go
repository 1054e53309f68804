package network

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dsuarezv/nuts-ml/nuts"
	"github.com/dsuarezv/nuts-ml/parallel"
)

// ErrNoSamples is returned when an evaluation sees no samples at all.
var ErrNoSamples = errors.New("no samples to evaluate")

// TrainVal creates a processor calling fn with the columns of every batch,
// used for both training and validation.
func TrainVal(fn BatchFunc) nuts.Processor[Batch, []float64] {
	return func(batches nuts.Stream[Batch]) nuts.Stream[[]float64] {
		return nuts.MapErr(batches, func(b Batch) ([]float64, error) {
			return fn(b...)
		})
	}
}

// PredictBatches creates a processor calling fn with the columns of every
// batch. With flatten set, the predictions are yielded per sample: every head
// of the yielded Outputs is a single row.
func PredictBatches(fn PredictFunc, flatten bool) nuts.Processor[Batch, Outputs] {
	return func(batches nuts.Stream[Batch]) nuts.Stream[Outputs] {
		preds := nuts.MapErr(batches, func(b Batch) (Outputs, error) {
			return fn(b...)
		})
		if !flatten {
			return preds
		}
		return nuts.Flatten(nuts.MapErr(preds, splitRows))
	}
}

func splitRows(out Outputs) ([]Outputs, error) {
	if len(out) == 0 {
		return nil, nil
	}
	rows, _ := out[0].Dims()
	for h, head := range out {
		if r, _ := head.Dims(); r != rows {
			return nil, errors.Errorf("output head %d has %d rows, head 0 has %d", h, r, rows)
		}
	}
	samples := make([]Outputs, rows)
	for i := range samples {
		sample := make(Outputs, len(out))
		for h, head := range out {
			_, c := head.Dims()
			sample[h] = mat.NewDense(1, c, append([]float64(nil), head.RawRowView(i)...))
		}
		samples[i] = sample
	}
	return samples, nil
}

type evalOptions struct {
	targetCol  int
	predCol    int
	hasPredCol bool
}

// EvalOption configures Eval.
type EvalOption func(*evalOptions)

// WithTargetCol selects the batch column holding the targets. Columns before
// it are the network inputs. Negative values count from the end; the default
// is -1, the last column.
func WithTargetCol(col int) EvalOption {
	return func(o *evalOptions) {
		o.targetCol = col
	}
}

// WithPredCol selects the output head to evaluate. Without it the network
// must have exactly one output head.
func WithPredCol(col int) EvalOption {
	return func(o *evalOptions) {
		o.predCol = col
		o.hasPredCol = true
	}
}

// Eval creates a sink which runs the batches through predict, stacks all
// targets and predictions and computes every metric over the stacked rows.
// The result holds one value per metric, in order.
func Eval(predict func(flatten bool) nuts.Processor[Batch, Outputs], metrics []Metric, compute ComputeFunc,
	opts ...EvalOption) nuts.Sink[Batch, []float64] {

	o := evalOptions{targetCol: -1}
	for _, opt := range opts {
		opt(&o)
	}
	return func(batches nuts.Stream[Batch]) ([]float64, error) {
		if len(metrics) == 0 {
			return nil, errors.New("no metrics to evaluate")
		}
		var targets, preds rowStack
		inputs := nuts.MapErr(batches, func(b Batch) (Batch, error) {
			i, err := b.Index(o.targetCol)
			if err != nil {
				return nil, err
			}
			if err := targets.push(b[i]); err != nil {
				return nil, errors.Wrap(err, "targets")
			}
			return b[:i], nil
		})
		for out, err := range predict(false)(inputs) {
			if err != nil {
				return nil, err
			}
			head, err := selectHead(out, o)
			if err != nil {
				return nil, err
			}
			if err := preds.push(head); err != nil {
				return nil, errors.Wrap(err, "predictions")
			}
		}
		if targets.rows == 0 {
			return nil, ErrNoSamples
		}
		if targets.rows != preds.rows {
			return nil, errors.Errorf("%d targets but %d predictions", targets.rows, preds.rows)
		}
		t, p := targets.dense(), preds.dense()

		results := make([]float64, len(metrics))
		err := parallel.ForEachErr(len(metrics), 0, func(i int) error {
			v, err := compute(metrics[i], t, p)
			if err != nil {
				return errors.Wrapf(err, "metric %d", i)
			}
			results[i] = v
			return nil
		})
		if err != nil {
			return nil, err
		}
		return results, nil
	}
}

func selectHead(out Outputs, o evalOptions) (*mat.Dense, error) {
	if !o.hasPredCol {
		if len(out) != 1 {
			return nil, errors.Errorf("network has %d output heads, select one with WithPredCol", len(out))
		}
		return out[0], nil
	}
	i := o.predCol
	if i < 0 {
		i += len(out)
	}
	if i < 0 || i >= len(out) {
		return nil, errors.Errorf("prediction column %d out of range for %d output heads", o.predCol, len(out))
	}
	return out[i], nil
}

// rowStack accumulates matrices with equal column counts, one below the other.
type rowStack struct {
	data []float64
	rows int
	cols int
	set  bool
}

func (s *rowStack) push(m *mat.Dense) error {
	if m == nil {
		return errors.New("nil matrix")
	}
	return s.add(m)
}

func (s *rowStack) add(m mat.Matrix) error {
	r, c := m.Dims()
	if c == 0 {
		return errors.New("matrix without columns")
	}
	if s.set && c != s.cols {
		return errors.Errorf("width %d differs from previous width %d", c, s.cols)
	}
	s.cols, s.set = c, true
	for i := 0; i < r; i++ {
		s.data = append(s.data, mat.Row(nil, i, m)...)
	}
	s.rows += r
	return nil
}

func (s *rowStack) dense() *mat.Dense {
	return mat.NewDense(s.rows, s.cols, s.data)
}
