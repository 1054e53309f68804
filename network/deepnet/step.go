package deepnet

import (
	deep "github.com/patrikeh/go-deep"
	"github.com/patrikeh/go-deep/training"
	"github.com/pkg/errors"
)

// step runs one gradient update per batch. The solver is initialised once so
// momentum and the iteration count carry over from batch to batch.
type step struct {
	solver training.Solver
	it     int
	deltas [][]float64
	grads  []float64
}

func newStep(n *deep.Neural, solver training.Solver) *step {
	s := &step{solver: solver, grads: make([]float64, n.NumWeights())}
	s.deltas = make([][]float64, len(n.Layers))
	for i, l := range n.Layers {
		s.deltas[i] = make([]float64, len(l.Neurons))
	}
	solver.Init(len(s.grads))
	return s
}

// run averages the gradients of examples and applies them.
func (s *step) run(n *deep.Neural, examples training.Examples) error {
	if len(examples) == 0 {
		return nil
	}
	clear(s.grads)
	loss := deep.GetLoss(n.Config.Loss)
	last := len(n.Layers) - 1
	for e, ex := range examples {
		if err := n.Forward(ex.Input); err != nil {
			return errors.Wrapf(err, "forward example %d", e)
		}
		for i, neuron := range n.Layers[last].Neurons {
			s.deltas[last][i] = loss.Df(neuron.Value, ex.Response[i], neuron.DActivate(neuron.Value))
		}
		for l := last - 1; l >= 0; l-- {
			for i, neuron := range n.Layers[l].Neurons {
				var sum float64
				for k, syn := range neuron.Out {
					sum += syn.Weight * s.deltas[l+1][k]
				}
				s.deltas[l][i] = neuron.DActivate(neuron.Value) * sum
			}
		}
		var idx int
		for l, layer := range n.Layers {
			for i, neuron := range layer.Neurons {
				for _, syn := range neuron.In {
					s.grads[idx] += s.deltas[l][i] * syn.In
					idx++
				}
			}
		}
	}

	s.it++
	scale := 1 / float64(len(examples))
	var idx int
	for _, layer := range n.Layers {
		for _, neuron := range layer.Neurons {
			for _, syn := range neuron.In {
				syn.Weight += s.solver.Update(syn.Weight, s.grads[idx]*scale, s.it, idx)
				idx++
			}
		}
	}
	return nil
}
