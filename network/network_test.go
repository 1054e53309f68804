package network

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dsuarezv/nuts-ml/nuts"
)

// echo predicts its first input column, scaled, as a single head.
type echo struct {
	Base
	scale float64
	heads int
	saved int
	// drop removes the last prediction row of multi-row batches
	drop bool
}

func newEcho(scale float64, heads int) *echo {
	e := &echo{scale: scale, heads: heads}
	e.Base = NewBase("echo.weights", e.SaveWeights)
	return e
}

func (e *echo) predict(cols ...*mat.Dense) (Outputs, error) {
	if len(cols) == 0 {
		return nil, errors.New("no inputs")
	}
	out := make(Outputs, e.heads)
	for h := range out {
		var m mat.Dense
		m.Scale(e.scale*float64(h+1), cols[0])
		out[h] = &m
		if r, c := m.Dims(); e.drop && r > 1 {
			out[h] = mat.DenseCopyOf(m.Slice(0, r-1, 0, c))
		}
	}
	return out, nil
}

func (e *echo) Predict(flatten bool) nuts.Processor[Batch, Outputs] {
	return PredictBatches(e.predict, flatten)
}

func (e *echo) Evaluate(metrics []Metric, opts ...EvalOption) nuts.Sink[Batch, []float64] {
	return Eval(e.Predict, metrics, func(m Metric, targets, preds *mat.Dense) (float64, error) {
		return m(targets, preds)
	}, opts...)
}

func (e *echo) SaveWeights() error {
	e.saved++
	return nil
}

func column(vs ...float64) *mat.Dense {
	return mat.NewDense(len(vs), 1, vs)
}

func sumAbsDiff(targets, preds *mat.Dense) (float64, error) {
	var d mat.Dense
	d.Sub(targets, preds)
	return mat.Norm(&d, 1), nil
}

func rowCount(targets, preds *mat.Dense) (float64, error) {
	r, _ := preds.Dims()
	return float64(r), nil
}

func TestBaseNotImplemented(t *testing.T) {
	var b Base
	_, err := nuts.Collect(b.Train()(nuts.From(Batch{column(1)})))
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "implement Train()") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	for name, err := range map[string]error{
		"SaveWeights": b.SaveWeights(),
		"LoadWeights": b.LoadWeights(),
		"PrintLayers": b.PrintLayers(io.Discard),
	} {
		if errors.Cause(err) != ErrNotImplemented {
			t.Errorf("%s: expected ErrNotImplemented, got %v", name, err)
		}
	}
	if _, err := b.Evaluate(nil)(nuts.From[Batch]()); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("evaluate: expected ErrNotImplemented, got %v", err)
	}
	if _, err := b.SaveBest(1, true); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("save best without saver: expected ErrNotImplemented, got %v", err)
	}
}

func TestSaveBestLoss(t *testing.T) {
	e := newEcho(1, 1)
	var saves []bool
	for _, score := range []float64{3, 2, 2.5, 2, 1} {
		saved, err := e.SaveBest(score, true)
		if err != nil {
			t.Fatalf("save best: %v", err)
		}
		saves = append(saves, saved)
	}
	want := []bool{true, true, false, false, true}
	for i := range want {
		if saves[i] != want[i] {
			t.Fatalf("saves %v want %v", saves, want)
		}
	}
	if e.saved != 3 {
		t.Fatalf("expected 3 saves, got %d", e.saved)
	}
	if best, ok := e.BestScore(); !ok || best != 1 {
		t.Fatalf("best score %v %v", best, ok)
	}
}

func TestSaveBestAccuracy(t *testing.T) {
	e := newEcho(1, 1)
	for _, score := range []float64{0, 0.5, 0.4, 0.9} {
		if _, err := e.SaveBest(score, false); err != nil {
			t.Fatalf("save best: %v", err)
		}
	}
	if e.saved != 3 {
		t.Fatalf("expected 3 saves (zero is a valid first score), got %d", e.saved)
	}
	if best, _ := e.BestScore(); best != 0.9 {
		t.Fatalf("best score %v", best)
	}
	if _, err := e.SaveBest(math.NaN(), false); err == nil {
		t.Fatalf("expected error for NaN score")
	}
}

func TestPredictFlatten(t *testing.T) {
	e := newEcho(2, 2)
	batches := nuts.From(Batch{column(1, 2)}, Batch{column(3)})

	perBatch, err := nuts.Collect(e.Predict(false)(batches))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(perBatch) != 2 || len(perBatch[0]) != 2 {
		t.Fatalf("unexpected batch predictions %v", perBatch)
	}

	perSample, err := nuts.Collect(e.Predict(true)(batches))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(perSample) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(perSample))
	}
	if got := perSample[2][1].At(0, 0); got != 12 {
		t.Fatalf("sample 2 head 1: got %v want 12", got)
	}
}

func TestEvaluateStacksAllBatches(t *testing.T) {
	e := newEcho(1, 1)
	batches := nuts.From(
		Batch{column(1, 2), column(1, 2)},
		Batch{column(3), column(5)},
	)
	scores, err := e.Evaluate([]Metric{sumAbsDiff, rowCount})(batches)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(scores) != 2 || scores[0] != 2 || scores[1] != 3 {
		t.Fatalf("unexpected scores %v", scores)
	}
}

func TestEvaluateColumns(t *testing.T) {
	e := newEcho(1, 2)
	// targets in column 1, column 2 is ignored
	batch := Batch{column(1, 2), column(2, 4), column(9, 9)}

	if _, err := e.Evaluate([]Metric{sumAbsDiff})(nuts.From(batch)); err == nil {
		t.Fatalf("expected error for two heads without a prediction column")
	}
	scores, err := e.Evaluate([]Metric{sumAbsDiff}, WithTargetCol(1), WithPredCol(-1))(nuts.From(batch))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if scores[0] != 0 {
		t.Fatalf("expected perfect second head, got %v", scores[0])
	}
	if _, err := e.Evaluate([]Metric{sumAbsDiff}, WithTargetCol(5))(nuts.From(batch)); err == nil {
		t.Fatalf("expected error for target column out of range")
	}
}

func TestEvaluateRowMismatch(t *testing.T) {
	e := newEcho(1, 1)
	e.drop = true
	batches := nuts.From(Batch{column(1, 2), column(1, 2)}, Batch{column(3), column(3)})
	_, err := e.Evaluate([]Metric{rowCount})(batches)
	if err == nil || !strings.Contains(err.Error(), "3 targets but 2 predictions") {
		t.Fatalf("expected row mismatch error, got %v", err)
	}
}

func TestEvaluateRaggedTargets(t *testing.T) {
	e := newEcho(1, 1)
	batches := nuts.From(
		Batch{column(1), column(1)},
		Batch{column(2), mat.NewDense(1, 2, []float64{2, 2})},
	)
	_, err := e.Evaluate([]Metric{rowCount})(batches)
	if err == nil || !strings.HasPrefix(err.Error(), "targets: width 2") {
		t.Fatalf("expected ragged targets error, got %v", err)
	}
}

// noRows is a matrix with columns but no rows.
type noRows struct{ cols int }

func (m noRows) Dims() (int, int)    { return 0, m.cols }
func (m noRows) At(i, j int) float64 { panic(mat.ErrIndexOutOfRange) }
func (m noRows) T() mat.Matrix       { return mat.Transpose{Matrix: m} }

func TestRowStackWidthAfterEmptyMatrix(t *testing.T) {
	var s rowStack
	if err := s.add(noRows{2}); err != nil {
		t.Fatalf("add empty: %v", err)
	}
	if err := s.push(mat.NewDense(1, 3, nil)); err == nil {
		t.Fatalf("expected width error after an empty 2 column matrix")
	}
	if err := s.push(mat.NewDense(1, 2, []float64{1, 2})); err != nil {
		t.Fatalf("push: %v", err)
	}
	if s.rows != 1 || s.dense().At(0, 1) != 2 {
		t.Fatalf("unexpected stack %v", s)
	}
	if err := s.push(nil); err == nil {
		t.Fatalf("expected error for nil matrix")
	}
}

func TestEvaluateEmpty(t *testing.T) {
	e := newEcho(1, 1)
	_, err := e.Evaluate([]Metric{rowCount})(nuts.From[Batch]())
	if !errors.Is(err, ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
}

func TestTrainVal(t *testing.T) {
	var calls int
	p := TrainVal(func(cols ...*mat.Dense) ([]float64, error) {
		calls++
		return []float64{float64(len(cols))}, nil
	})
	s := p(nuts.From(Batch{column(1), column(2)}, Batch{column(1), column(2), column(3)}))
	if calls != 0 {
		t.Fatalf("train called before consumption")
	}
	got, err := nuts.Collect(s)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(got) != 2 || got[0][0] != 2 || got[1][0] != 3 {
		t.Fatalf("unexpected results %v", got)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.bin")
	if err := WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write([]byte("first"))
		return err
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := WriteFileAtomic(path, func(w io.Writer) error {
		w.Write([]byte("partial"))
		return errors.New("disk on fire")
	})
	if err == nil {
		t.Fatalf("expected write error")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte("first")) {
		t.Fatalf("weights file clobbered: %q", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %d entries", len(entries))
	}
}
