package deepnet

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	deep "github.com/patrikeh/go-deep"
	"github.com/patrikeh/go-deep/training"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dsuarezv/nuts-ml/metrics"
	"github.com/dsuarezv/nuts-ml/network"
	"github.com/dsuarezv/nuts-ml/nuts"
)

func newNeural(hidden int) *deep.Neural {
	return deep.NewNeural(&deep.Config{
		Inputs:     2,
		Layout:     []int{hidden, 1},
		Activation: deep.ActivationSigmoid,
		Mode:       deep.ModeBinary,
		Weight:     deep.NewNormal(1, 0),
		Bias:       true,
	})
}

// countingSolver applies plain gradient descent and records how it is driven.
type countingSolver struct {
	inits      int
	size       int
	iterations []int
}

func (c *countingSolver) Init(size int) {
	c.inits++
	c.size = size
}

func (c *countingSolver) Update(value, gradient float64, iteration, idx int) float64 {
	if idx == 0 {
		c.iterations = append(c.iterations, iteration)
	}
	return -0.5 * gradient
}

func xorBatch() network.Batch {
	return network.Batch{
		mat.NewDense(4, 2, []float64{0, 0, 0, 1, 1, 0, 1, 1}),
		mat.NewDense(4, 1, []float64{0, 1, 1, 0}),
	}
}

func TestTrainOnBatch(t *testing.T) {
	solver := &countingSolver{}
	d := New(newNeural(3), solver, "")
	results, err := nuts.Collect(d.Train()(nuts.From(xorBatch(), xorBatch(), xorBatch())))
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if solver.inits != 1 || solver.size != d.Neural().NumWeights() {
		t.Fatalf("solver initialised %d times with size %d", solver.inits, solver.size)
	}
	if !slices.Equal(solver.iterations, []int{1, 2, 3}) {
		t.Fatalf("unexpected iterations %v", solver.iterations)
	}
	if len(results) != 3 || len(results[0]) != 2 {
		t.Fatalf("unexpected results %v", results)
	}
	loss, acc := results[0][0], results[0][1]
	if math.IsNaN(loss) || loss < 0 || acc < 0 || acc > 1 {
		t.Fatalf("implausible loss %v accuracy %v", loss, acc)
	}
}

// line fits y = 2x + 1 with a single linear unit.
func line() (*deep.Neural, network.Batch) {
	n := deep.NewNeural(&deep.Config{
		Inputs:     1,
		Layout:     []int{1},
		Activation: deep.ActivationLinear,
		Mode:       deep.ModeRegression,
		Weight:     deep.NewNormal(1, 0),
		Bias:       true,
	})
	return n, network.Batch{
		mat.NewDense(3, 1, []float64{0, 1, 2}),
		mat.NewDense(3, 1, []float64{1, 3, 5}),
	}
}

func TestTrainWithMomentum(t *testing.T) {
	n, b := line()
	d := New(n, training.NewSGD(0.1, 0.9, 0, false), "")
	before, err := d.TestOnBatch(b...)
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	var after []float64
	for i := 0; i < 200; i++ {
		if after, err = d.TrainOnBatch(b...); err != nil {
			t.Fatalf("train step %d: %v", i, err)
		}
	}
	if after[0] >= before[0] || after[0] > 0.01 {
		t.Fatalf("loss went from %v to %v", before[0], after[0])
	}
	if after[1] != 0 {
		t.Fatalf("regression reported accuracy %v", after[1])
	}
}

func TestTrainWithAdam(t *testing.T) {
	d := New(newNeural(4), training.NewAdam(0.02, 0.9, 0.999, 1e-8), "")
	for i := 0; i < 5; i++ {
		if err := nuts.Consume(d.Train()(nuts.From(xorBatch()))); err != nil {
			t.Fatalf("train: %v", err)
		}
	}
}

func TestTrainWithoutSolver(t *testing.T) {
	d := New(newNeural(2), nil, "")
	if err := nuts.Consume(d.Train()(nuts.From(xorBatch()))); !errors.Is(err, network.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if _, err := d.TrainOnBatch(xorBatch()...); !errors.Is(err, network.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented from TrainOnBatch, got %v", err)
	}
	if err := nuts.Consume(d.Validate()(nuts.From(xorBatch()))); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestBatchShapeErrors(t *testing.T) {
	d := New(newNeural(2), &countingSolver{}, "")
	wide := network.Batch{mat.NewDense(1, 3, nil), mat.NewDense(1, 1, nil)}
	if _, err := d.TrainOnBatch(wide...); err == nil {
		t.Fatalf("expected error for wrong feature count")
	}
	short := network.Batch{mat.NewDense(2, 2, nil), mat.NewDense(1, 1, nil)}
	if _, err := d.TestOnBatch(short...); err == nil {
		t.Fatalf("expected error for mismatched rows")
	}
	if _, err := d.PredictOnBatch(xorBatch()...); err == nil {
		t.Fatalf("expected error when predicting with targets")
	}
}

func TestPredict(t *testing.T) {
	d := New(newNeural(3), nil, "")
	preds, err := nuts.Collect(d.Predict(true)(nuts.From(xorBatch()[:1])))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(preds) != 4 {
		t.Fatalf("expected 4 predictions, got %d", len(preds))
	}
	for _, p := range preds {
		if v := p[0].At(0, 0); v < 0 || v > 1 {
			t.Fatalf("sigmoid output out of range: %v", v)
		}
	}
}

func TestEvaluate(t *testing.T) {
	d := New(newNeural(3), nil, "")
	scores, err := d.Evaluate([]network.Metric{metrics.Accuracy, metrics.BinaryCrossEntropy})(nuts.From(xorBatch(), xorBatch()))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(scores) != 2 || scores[0] < 0 || scores[0] > 1 || scores[1] < 0 {
		t.Fatalf("unexpected scores %v", scores)
	}
}

func TestLossFollowsConfig(t *testing.T) {
	n := deep.NewNeural(&deep.Config{
		Inputs:     2,
		Layout:     []int{3, 1},
		Activation: deep.ActivationSigmoid,
		Mode:       deep.ModeBinary,
		Weight:     deep.NewNormal(1, 0),
		Loss:       deep.LossMeanSquared,
		Bias:       true,
	})
	d := New(n, nil, "")
	b := xorBatch()
	got, err := d.TestOnBatch(b...)
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	preds, err := d.PredictOnBatch(b[0])
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	want, err := metrics.MeanSquaredError(b[1], preds[0])
	if err != nil {
		t.Fatalf("mse: %v", err)
	}
	if math.Abs(got[0]-want) > 1e-12 {
		t.Fatalf("loss %v, expected mean squared error %v", got[0], want)
	}
}

func TestComputeRejectsNonFinite(t *testing.T) {
	targets := mat.NewDense(1, 1, []float64{1})
	if _, err := compute(metrics.MeanSquaredError, targets, mat.NewDense(1, 1, []float64{math.NaN()})); err == nil {
		t.Fatalf("expected error for NaN prediction")
	}
	inf := func(targets, preds *mat.Dense) (float64, error) { return math.Inf(1), nil }
	if _, err := compute(inf, targets, targets); err == nil {
		t.Fatalf("expected error for infinite metric")
	}
}

func TestSaveLoadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json.z")
	src := New(newNeural(3), nil, path)
	if err := src.SaveWeights(); err != nil {
		t.Fatalf("save: %v", err)
	}
	dst := New(newNeural(3), nil, path)
	if err := dst.LoadWeights(); err != nil {
		t.Fatalf("load: %v", err)
	}
	x := xorBatch()[0]
	want, _ := src.PredictOnBatch(x)
	got, _ := dst.PredictOnBatch(x)
	if !mat.EqualApprox(want[0], got[0], 1e-12) {
		t.Fatalf("predictions differ after load:\n%v\n%v", mat.Formatted(want[0]), mat.Formatted(got[0]))
	}

	if err := New(newNeural(5), nil, path).LoadWeights(); err == nil {
		t.Fatalf("expected error for different layout")
	}
	if err := New(newNeural(3), nil, filepath.Join(t.TempDir(), "missing")).LoadWeights(); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPrintLayers(t *testing.T) {
	var buf bytes.Buffer
	d := New(newNeural(3), nil, "")
	if err := d.PrintLayers(&buf); err != nil {
		t.Fatalf("print: %v", err)
	}
	s := buf.String()
	for _, want := range []string{"Layer", "sigmoid", fmt.Sprintf("total weights: %d", d.Neural().NumWeights())} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q in:\n%s", want, s)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	if p := New(newNeural(2), nil, "").WeightsPath(); p != DefaultPath {
		t.Fatalf("unexpected default path %s", p)
	}
}
