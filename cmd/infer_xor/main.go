package main

import (
	"fmt"
	"log"
	"math/rand"
	"slices"

	"github.com/alexflint/go-arg"
	deep "github.com/patrikeh/go-deep"

	"github.com/dsuarezv/nuts-ml/config"
	"github.com/dsuarezv/nuts-ml/datasets"
	"github.com/dsuarezv/nuts-ml/datasets/xor"
	"github.com/dsuarezv/nuts-ml/metrics"
	"github.com/dsuarezv/nuts-ml/network"
	"github.com/dsuarezv/nuts-ml/network/deepnet"
	"github.com/dsuarezv/nuts-ml/nuts"
)

type args struct {
	Config string `arg:"-c,--config" help:"properties file the network was trained with"`
	config.Overrides
	Show int `arg:"--show" default:"4" help:"number of predictions to print"`
}

func (args) Description() string {
	return "evaluate XOR weights written by train_xor"
}

func main() {
	var a args
	arg.MustParse(&a)

	c := config.Default()
	if a.Config != "" {
		var err error
		if c, err = config.Load(a.Config); err != nil {
			log.Fatal(err)
		}
	}
	c = c.ApplyOverrides(a.Overrides)
	if err := c.Validate(); err != nil {
		log.Fatal(err)
	}

	net := deepnet.New(deep.NewNeural(&deep.Config{
		Inputs:     xor.Inputs,
		Layout:     append(slices.Clone(c.Hidden), xor.Outputs),
		Activation: deep.ActivationSigmoid,
		Mode:       deep.ModeBinary,
		Weight:     deep.NewNormal(1, 0),
		Bias:       true,
	}), nil, c.Weights)
	if err := net.LoadWeights(); err != nil {
		log.Fatal(err)
	}

	// a different seed than training so the samples are fresh
	rng := rand.New(rand.NewSource(c.Seed + 1))
	samples := xor.New(c.Samples, c.Noise, rng)
	batches := func() nuts.Stream[network.Batch] {
		return datasets.BuildBatch(nuts.FromSlice(samples), c.BatchSize)
	}

	names := []string{"accuracy", "precision", "recall", "f1", "kappa", "bce"}
	ms := make([]network.Metric, len(names))
	for i, name := range names {
		m, err := metrics.ByName(name)
		if err != nil {
			log.Fatal(err)
		}
		ms[i] = m
	}
	scores, err := net.Evaluate(ms)(batches())
	if err != nil {
		log.Fatal(err)
	}
	for i, name := range names {
		fmt.Printf("%-10s %.4f\n", name, scores[i])
	}

	inputs := nuts.Map(batches(), func(b network.Batch) network.Batch { return b[:1] })
	preds := nuts.Take(net.Predict(true)(inputs), a.Show)
	var i int
	for p, err := range preds {
		if err != nil {
			log.Fatal(err)
		}
		s := samples[i]
		fmt.Printf("%.2f xor %.2f -> %.3f (target %v)\n", s.Features[0], s.Features[1], p[0].At(0, 0), s.Target[0])
		i++
	}
}
