// Package deepnet wraps a github.com/patrikeh/go-deep network. Each training
// batch is one backpropagation step driven by a go-deep solver.
//
// A Network is not safe for concurrent use; go-deep keeps activations inside
// the neurons.
package deepnet

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"text/tabwriter"

	deep "github.com/patrikeh/go-deep"
	"github.com/patrikeh/go-deep/training"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dsuarezv/nuts-ml/metrics"
	"github.com/dsuarezv/nuts-ml/network"
	"github.com/dsuarezv/nuts-ml/nuts"
)

// DefaultPath is the weights file used when New is given an empty path.
const DefaultPath = "weights_deep_net.json.z"

// Network adapts a go-deep network to network.Network. Batches have two
// columns, features and targets; prediction batches only the features.
type Network struct {
	network.Base
	neural *deep.Neural
	step   *step
}

// New wraps n. Training updates the weights with solver, for example
// training.NewSGD or training.NewAdam; a nil solver leaves training
// unimplemented.
func New(n *deep.Neural, solver training.Solver, path string) *Network {
	if path == "" {
		path = DefaultPath
	}
	d := &Network{neural: n}
	if solver != nil {
		d.step = newStep(n, solver)
	}
	d.Base = network.NewBase(path, d.SaveWeights)
	return d
}

// Neural returns the wrapped network.
func (d *Network) Neural() *deep.Neural {
	return d.neural
}

func (d *Network) inputs() int {
	return d.neural.Config.Inputs
}

func (d *Network) outputs() int {
	return d.neural.Config.Layout[len(d.neural.Config.Layout)-1]
}

func (d *Network) examples(x, y *mat.Dense) (training.Examples, error) {
	rx, cx := x.Dims()
	ry, cy := y.Dims()
	switch {
	case rx != ry:
		return nil, errors.Errorf("%d feature rows but %d target rows", rx, ry)
	case cx != d.inputs():
		return nil, errors.Errorf("network has %d inputs, batch has %d features", d.inputs(), cx)
	case cy != d.outputs():
		return nil, errors.Errorf("network has %d outputs, batch has %d targets", d.outputs(), cy)
	}
	examples := make(training.Examples, rx)
	for i := range examples {
		examples[i] = training.Example{
			Input:    slices.Clone(x.RawRowView(i)),
			Response: slices.Clone(y.RawRowView(i)),
		}
	}
	return examples, nil
}

// TrainOnBatch runs one gradient step over the batch and returns the loss and
// accuracy on the batch after the update.
func (d *Network) TrainOnBatch(cols ...*mat.Dense) ([]float64, error) {
	if d.step == nil {
		return nil, errors.Wrap(network.ErrNotImplemented, "TrainOnBatch without a solver")
	}
	if len(cols) != 2 {
		return nil, errors.Errorf("expected features and targets, got %d columns", len(cols))
	}
	examples, err := d.examples(cols[0], cols[1])
	if err != nil {
		return nil, err
	}
	if err := d.step.run(d.neural, examples); err != nil {
		return nil, err
	}
	return d.TestOnBatch(cols...)
}

// TestOnBatch returns the loss and accuracy on the batch without training.
// Regression networks report an accuracy of zero.
func (d *Network) TestOnBatch(cols ...*mat.Dense) ([]float64, error) {
	if len(cols) != 2 {
		return nil, errors.Errorf("expected features and targets, got %d columns", len(cols))
	}
	if _, err := d.examples(cols[0], cols[1]); err != nil {
		return nil, err
	}
	out, err := d.PredictOnBatch(cols[0])
	if err != nil {
		return nil, err
	}
	loss, err := lossFunc(d.neural.Config.Loss)(cols[1], out[0])
	if err != nil {
		return nil, errors.Wrap(err, "loss")
	}
	var acc float64
	if d.neural.Config.Mode != deep.ModeRegression {
		if acc, err = metrics.Accuracy(cols[1], out[0]); err != nil {
			return nil, errors.Wrap(err, "accuracy")
		}
	}
	return []float64{loss, acc}, nil
}

// PredictOnBatch returns the network outputs for every row of the features.
func (d *Network) PredictOnBatch(cols ...*mat.Dense) (network.Outputs, error) {
	if len(cols) != 1 {
		return nil, errors.Errorf("expected a single feature column, got %d columns", len(cols))
	}
	x := cols[0]
	r, c := x.Dims()
	if c != d.inputs() {
		return nil, errors.Errorf("network has %d inputs, batch has %d features", d.inputs(), c)
	}
	k := d.outputs()
	data := make([]float64, 0, r*k)
	for i := 0; i < r; i++ {
		data = append(data, d.neural.Predict(x.RawRowView(i))...)
	}
	return network.Outputs{mat.NewDense(r, k, data)}, nil
}

// lossFunc returns the metric matching the loss the network trains with.
func lossFunc(loss deep.LossType) metrics.Func {
	switch loss {
	case deep.LossCrossEntropy:
		return metrics.CrossEntropy
	case deep.LossBinaryCrossEntropy:
		return metrics.BinaryCrossEntropy
	default:
		return metrics.MeanSquaredError
	}
}

func (d *Network) Train() nuts.Processor[network.Batch, []float64] {
	if d.step == nil {
		return d.Base.Train()
	}
	return network.TrainVal(d.TrainOnBatch)
}

func (d *Network) Validate() nuts.Processor[network.Batch, []float64] {
	return network.TrainVal(d.TestOnBatch)
}

func (d *Network) Predict(flatten bool) nuts.Processor[network.Batch, network.Outputs] {
	return network.PredictBatches(d.PredictOnBatch, flatten)
}

func (d *Network) Evaluate(ms []network.Metric, opts ...network.EvalOption) nuts.Sink[network.Batch, []float64] {
	return network.Eval(d.Predict, ms, compute, opts...)
}

// compute applies m and reports diverged training as an error.
func compute(m network.Metric, targets, preds *mat.Dense) (float64, error) {
	r, c := preds.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := preds.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, errors.Errorf("prediction %d is %v", i, v)
			}
		}
	}
	v, err := m(targets, preds)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("metric is %v", v)
	}
	return v, nil
}

// SaveWeights writes the marshalled network, zlib compressed.
func (d *Network) SaveWeights() error {
	data, err := d.neural.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal network")
	}
	return network.WriteFileAtomic(d.WeightsPath(), func(w io.Writer) error {
		zw := zlib.NewWriter(w)
		if _, err := zw.Write(data); err != nil {
			return errors.Wrap(err, "compress weights")
		}
		return errors.Wrap(zw.Close(), "compress weights")
	})
}

// LoadWeights reads weights saved by SaveWeights into the wrapped network.
// The saved network must have the same layout.
func (d *Network) LoadWeights() error {
	raw, err := os.ReadFile(d.WeightsPath())
	if err != nil {
		return errors.Wrapf(err, "read %s", d.WeightsPath())
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return errors.Wrapf(err, "decompress %s", d.WeightsPath())
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return errors.Wrapf(err, "decompress %s", d.WeightsPath())
	}
	saved, err := deep.Unmarshal(data)
	if err != nil {
		return errors.Wrapf(err, "unmarshal %s", d.WeightsPath())
	}
	weights := saved.Weights()
	if err := sameShape(d.neural.Weights(), weights); err != nil {
		return errors.Wrapf(err, "%s does not fit the network", d.WeightsPath())
	}
	d.neural.ApplyWeights(weights)
	return nil
}

func sameShape(want, got [][][]float64) error {
	if len(want) != len(got) {
		return errors.Errorf("%d layers, expected %d", len(got), len(want))
	}
	for l := range want {
		if len(want[l]) != len(got[l]) {
			return errors.Errorf("layer %d has %d units, expected %d", l, len(got[l]), len(want[l]))
		}
		for u := range want[l] {
			if len(want[l][u]) != len(got[l][u]) {
				return errors.Errorf("layer %d unit %d has %d weights, expected %d", l, u, len(got[l][u]), len(want[l][u]))
			}
		}
	}
	return nil
}

// PrintLayers writes a summary table of the layers and the weight count.
func (d *Network) PrintLayers(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Layer\tUnits\tActivation\tWeights\n")
	for i, l := range d.neural.Layers {
		var n int
		for _, neuron := range l.Neurons {
			n += len(neuron.In)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\n", i, len(l.Neurons), activationName(l.A), n)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Inputs: %d, total weights: %d\n", d.inputs(), d.neural.NumWeights())
	return err
}

func activationName(a deep.ActivationType) string {
	switch a {
	case deep.ActivationSigmoid:
		return "sigmoid"
	case deep.ActivationTanh:
		return "tanh"
	case deep.ActivationReLU:
		return "relu"
	case deep.ActivationLinear:
		return "linear"
	case deep.ActivationSoftmax:
		return "softmax"
	}
	return fmt.Sprintf("activation(%d)", a)
}

var _ network.Network = (*Network)(nil)
