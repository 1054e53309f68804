package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/patrikeh/go-deep/training"

	"github.com/dsuarezv/nuts-ml/config"
	"github.com/dsuarezv/nuts-ml/datasets"
	"github.com/dsuarezv/nuts-ml/datasets/xor"
	"github.com/dsuarezv/nuts-ml/metrics"
	"github.com/dsuarezv/nuts-ml/network"
	"github.com/dsuarezv/nuts-ml/network/deepnet"
	"github.com/dsuarezv/nuts-ml/nuts"
	"github.com/dsuarezv/nuts-ml/trainer"
)

type args struct {
	Config string `arg:"-c,--config" help:"properties file with the run settings"`
	config.Overrides
	PGO bool `arg:"--pgo" help:"write a CPU profile to default.pgo"`
}

func (args) Description() string {
	return "train a go-deep network on noisy XOR samples"
}

func loadConfig(a args) (config.Config, error) {
	c := config.Default()
	if a.Config != "" {
		var err error
		if c, err = config.Load(a.Config); err != nil {
			return c, err
		}
	}
	c = c.ApplyOverrides(a.Overrides)
	return c, c.Validate()
}

// source streams the samples as batches, reshuffled on every call when rng
// is set.
func source(samples []datasets.Sample, size int, rng *rand.Rand) trainer.BatchSource {
	return func() nuts.Stream[network.Batch] {
		s := samples
		if rng != nil {
			s = slices.Clone(samples)
			rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		}
		return datasets.CheckNaN(datasets.BuildBatch(nuts.FromSlice(s), size))
	}
}

func label(s datasets.Sample) string {
	return fmt.Sprint(s.Target[0])
}

func main() {
	var a args
	arg.MustParse(&a)

	c, err := loadConfig(a)
	if err != nil {
		log.Fatal(err)
	}
	if a.PGO {
		stop, err := startProfile("default.pgo")
		if err != nil {
			log.Fatal(err)
		}
		defer stop()
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rng := rand.New(rand.NewSource(c.Seed))
	samples := xor.New(c.Samples, c.Noise, rng)
	parts, err := datasets.SplitRandom(samples,
		datasets.Ratios[datasets.Sample](c.Split...),
		datasets.Rand[datasets.Sample](rng))
	if err != nil {
		log.Fatal(err)
	}
	train := datasets.Balance(parts[0], label, rng)
	val := parts[1]
	log.Printf("samples=%d train=%d val=%d", len(samples), len(train), len(val))

	sgd := training.NewSGD(c.LearningRate, c.Momentum, 0, false)
	net := deepnet.New(newNeural(c), sgd, c.Weights)
	if err := net.PrintLayers(os.Stdout); err != nil {
		log.Fatal(err)
	}

	metric, err := metrics.ByName(c.Metric)
	if err != nil {
		log.Fatal(err)
	}
	history, err := trainer.Fit(ctx, net, trainer.Config{
		Epochs:     c.Epochs,
		Metric:     metric,
		MetricName: c.Metric,
		IsLoss:     metrics.IsLoss(c.Metric),
		Resume:     c.Resume,
		Progress:   c.Progress,
		Steps:      (len(train) + c.BatchSize - 1) / c.BatchSize,
	}, source(train, c.BatchSize, rng), source(val, c.BatchSize, nil))
	if err != nil {
		log.Fatal(err)
	}
	if best, ok := history.Best(metrics.IsLoss(c.Metric)); ok {
		log.Printf("best epoch=%d %s=%.4f weights=%s", best.Epoch, c.Metric, best.Score, net.WeightsPath())
	}

	if len(parts) < 3 || len(parts[2]) == 0 {
		return
	}
	if err := net.LoadWeights(); err != nil {
		log.Fatal(err)
	}
	names := []string{"accuracy", "f1", "kappa"}
	ms := make([]network.Metric, len(names))
	for i, name := range names {
		m, err := metrics.ByName(name)
		if err != nil {
			log.Fatal(err)
		}
		ms[i] = m
	}
	scores, err := net.Evaluate(ms)(source(parts[2], c.BatchSize, nil)())
	if err != nil {
		log.Fatal(err)
	}
	for i, name := range names {
		log.Printf("test %s=%.4f", name, scores[i])
	}
}
