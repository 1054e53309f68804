// Package funcnet wraps a network given as a graph of layers plus separate
// train, validation and prediction functions. The functions do all the work;
// the layer graph is only walked to save, load and print the parameters.
package funcnet

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dsuarezv/nuts-ml/network"
	"github.com/dsuarezv/nuts-ml/nuts"
)

// DefaultPath is the weights file used when New is given an empty path.
const DefaultPath = "weights_func_net.zip"

// Layer is a node of the layer graph. Params returns the live parameter
// matrices; loading weights copies into them. The input layer returns a nil
// Input and is not treated as a weight layer.
type Layer interface {
	Name() string
	Params() []*mat.Dense
	Input() Layer
}

// Network drives a layer graph through caller supplied functions.
type Network struct {
	network.Base
	out   Layer
	train network.BatchFunc
	val   network.BatchFunc
	pred  network.PredictFunc
}

// New wraps the graph ending in out. A nil function leaves the matching
// operation unimplemented.
func New(out Layer, train, val network.BatchFunc, pred network.PredictFunc, path string) *Network {
	if path == "" {
		path = DefaultPath
	}
	n := &Network{out: out, train: train, val: val, pred: pred}
	n.Base = network.NewBase(path, n.SaveWeights)
	return n
}

// weightLayers returns the layers from the output layer down, excluding the
// input layer.
func weightLayers(l Layer) []Layer {
	var layers []Layer
	for l != nil && l.Input() != nil {
		layers = append(layers, l)
		l = l.Input()
	}
	return layers
}

type namedParam struct {
	name  string
	param *mat.Dense
}

// namedParams names every parameter <layer>_<param>, counting layers from
// the output layer.
func namedParams(out Layer) []namedParam {
	var params []namedParam
	for i, l := range weightLayers(out) {
		for j, p := range l.Params() {
			params = append(params, namedParam{fmt.Sprintf("%d_%d", i, j), p})
		}
	}
	return params
}

func (n *Network) Train() nuts.Processor[network.Batch, []float64] {
	if n.train == nil {
		return n.Base.Train()
	}
	return network.TrainVal(n.train)
}

func (n *Network) Validate() nuts.Processor[network.Batch, []float64] {
	if n.val == nil {
		return n.Base.Validate()
	}
	return network.TrainVal(n.val)
}

func (n *Network) Predict(flatten bool) nuts.Processor[network.Batch, network.Outputs] {
	if n.pred == nil {
		return n.Base.Predict(flatten)
	}
	return network.PredictBatches(n.pred, flatten)
}

func (n *Network) Evaluate(metrics []network.Metric, opts ...network.EvalOption) nuts.Sink[network.Batch, []float64] {
	return network.Eval(n.Predict, metrics, compute, opts...)
}

func compute(m network.Metric, targets, preds *mat.Dense) (float64, error) {
	return m(targets, preds)
}

// SaveWeights writes every parameter as an entry of a deflate compressed zip
// archive.
func (n *Network) SaveWeights() error {
	params := namedParams(n.out)
	return network.WriteFileAtomic(n.WeightsPath(), func(w io.Writer) error {
		zw := zip.NewWriter(w)
		for _, p := range params {
			data, err := p.param.MarshalBinary()
			if err != nil {
				return errors.Wrapf(err, "marshal %s", p.name)
			}
			f, err := zw.CreateHeader(&zip.FileHeader{Name: p.name, Method: zip.Deflate})
			if err != nil {
				return errors.Wrapf(err, "create %s", p.name)
			}
			if _, err := f.Write(data); err != nil {
				return errors.Wrapf(err, "write %s", p.name)
			}
		}
		return errors.Wrap(zw.Close(), "close archive")
	})
}

// LoadWeights copies the archived parameters into the layer graph. Every
// parameter must be present with its current shape.
func (n *Network) LoadWeights() error {
	zr, err := zip.OpenReader(n.WeightsPath())
	if err != nil {
		return errors.Wrapf(err, "open %s", n.WeightsPath())
	}
	defer zr.Close()

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}
	for _, p := range namedParams(n.out) {
		f, ok := entries[p.name]
		if !ok {
			return errors.Errorf("%s: missing parameter %s", n.WeightsPath(), p.name)
		}
		m, err := readParam(f)
		if err != nil {
			return errors.Wrapf(err, "read %s", p.name)
		}
		r, c := m.Dims()
		pr, pc := p.param.Dims()
		if r != pr || c != pc {
			return errors.Errorf("parameter %s has shape (%d, %d), expected (%d, %d)", p.name, r, c, pr, pc)
		}
		p.param.Copy(m)
	}
	return nil
}

func readParam(f *zip.File) (*mat.Dense, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var m mat.Dense
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &m, nil
}

// PrintLayers writes a separator line and the name and parameter shapes of
// every weight layer, output layer first.
func (n *Network) PrintLayers(w io.Writer) error {
	for _, l := range weightLayers(n.out) {
		shapes := make([]string, 0, len(l.Params()))
		for _, p := range l.Params() {
			r, c := p.Dims()
			shapes = append(shapes, fmt.Sprintf("(%d, %d)", r, c))
		}
		_, err := fmt.Fprintf(w, "%s\n%s %s\n", strings.Repeat("_", 80), l.Name(), strings.Join(shapes, " "))
		if err != nil {
			return err
		}
	}
	return nil
}

var _ network.Network = (*Network)(nil)
