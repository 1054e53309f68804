package trainer

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/dsuarezv/nuts-ml/network"
	"github.com/dsuarezv/nuts-ml/nuts"
)

// BatchSource returns a fresh stream of batches. It is called once per epoch.
type BatchSource func() nuts.Stream[network.Batch]

// Config controls Fit.
type Config struct {
	Epochs int

	// Metric scores the validation batches after every epoch. When nil the
	// mean validation loss is used and lower scores are better.
	Metric     network.Metric
	MetricName string
	IsLoss     bool

	// Resume loads the saved weights before the first epoch.
	Resume bool

	// Progress shows a progress bar over Steps training batches per epoch.
	Progress bool
	Steps    int
	Writer   io.Writer
}

// Epoch records the outcome of one training epoch.
type Epoch struct {
	Epoch     int
	TrainLoss float64
	Score     float64
	Saved     bool
}

// History holds one entry per completed epoch.
type History []Epoch

// Best returns the epoch with the best score.
func (h History) Best(isLoss bool) (Epoch, bool) {
	if len(h) == 0 {
		return Epoch{}, false
	}
	best := h[0]
	for _, e := range h[1:] {
		if (isLoss && e.Score < best.Score) || (!isLoss && e.Score > best.Score) {
			best = e
		}
	}
	return best, true
}

// Fit trains net for cfg.Epochs epochs and saves its weights whenever the
// validation score improves. It stops between batches when ctx is done.
func Fit(ctx context.Context, net network.Network, cfg Config, train, val BatchSource) (History, error) {
	if cfg.Epochs <= 0 {
		return nil, errors.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	isLoss := cfg.IsLoss
	name := cfg.MetricName
	if cfg.Metric == nil {
		isLoss = true
		name = "val_loss"
	} else if name == "" {
		name = "score"
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	if cfg.Resume {
		err := net.LoadWeights()
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Printf("no weights to resume from at %s", net.WeightsPath())
		case err != nil:
			return nil, errors.Wrap(err, "resume")
		default:
			log.Printf("resumed weights from %s", net.WeightsPath())
		}
	}

	var history History
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		loss, err := trainEpoch(ctx, net, cfg, epoch, train())
		if err != nil {
			return history, errors.Wrapf(err, "epoch %d: train", epoch)
		}
		score, err := validate(ctx, net, cfg.Metric, val())
		if err != nil {
			return history, errors.Wrapf(err, "epoch %d: validate", epoch)
		}
		saved, err := net.SaveBest(score, isLoss)
		if err != nil {
			return history, errors.Wrapf(err, "epoch %d", epoch)
		}
		history = append(history, Epoch{Epoch: epoch, TrainLoss: loss, Score: score, Saved: saved})
		log.Printf("epoch=%d/%d train_loss=%.4f %s=%.4f saved=%v", epoch, cfg.Epochs, loss, name, score, saved)
	}
	return history, nil
}

func withContext(ctx context.Context, s nuts.Stream[network.Batch]) nuts.Stream[network.Batch] {
	return nuts.MapErr(s, func(b network.Batch) (network.Batch, error) {
		return b, ctx.Err()
	})
}

func trainEpoch(ctx context.Context, net network.Network, cfg Config, epoch int, batches nuts.Stream[network.Batch]) (float64, error) {
	var bar *pb.ProgressBar
	if cfg.Progress {
		bar = pb.New(cfg.Steps).SetWriter(cfg.Writer).Set("prefix", fmt.Sprintf("epoch %d ", epoch)).Start()
		defer bar.Finish()
	}
	var losses []float64
	for res, err := range net.Train()(withContext(ctx, batches)) {
		if err != nil {
			return 0, err
		}
		if len(res) == 0 {
			return 0, errors.New("training returned no loss")
		}
		losses = append(losses, res[0])
		if bar != nil {
			bar.Increment()
		}
	}
	if len(losses) == 0 {
		return 0, errors.New("no training batches")
	}
	return stat.Mean(losses, nil), nil
}

func validate(ctx context.Context, net network.Network, metric network.Metric, batches nuts.Stream[network.Batch]) (float64, error) {
	batches = withContext(ctx, batches)
	if metric != nil {
		scores, err := net.Evaluate([]network.Metric{metric})(batches)
		if err != nil {
			return 0, err
		}
		return scores[0], nil
	}
	var losses []float64
	for res, err := range net.Validate()(batches) {
		if err != nil {
			return 0, err
		}
		if len(res) == 0 {
			return 0, errors.New("validation returned no loss")
		}
		losses = append(losses, res[0])
	}
	if len(losses) == 0 {
		return 0, errors.New("no validation batches")
	}
	return stat.Mean(losses, nil), nil
}
