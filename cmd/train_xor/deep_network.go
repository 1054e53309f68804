package main

import (
	"slices"

	deep "github.com/patrikeh/go-deep"

	"github.com/dsuarezv/nuts-ml/config"
	"github.com/dsuarezv/nuts-ml/datasets/xor"
)

func newNeural(c config.Config) *deep.Neural {
	return deep.NewNeural(&deep.Config{
		Inputs:     xor.Inputs,
		Layout:     append(slices.Clone(c.Hidden), xor.Outputs),
		Activation: deep.ActivationSigmoid,
		Mode:       deep.ModeBinary,
		Weight:     deep.NewNormal(1, 0),
		Bias:       true,
	})
}
