package config

// Overrides are command line flags taking precedence over the file values.
// Unset flags leave the file values alone.
type Overrides struct {
	Weights      *string  `arg:"--weights" help:"weights file"`
	Epochs       *int     `arg:"--epochs" help:"training epochs"`
	BatchSize    *int     `arg:"--batch-size" help:"samples per batch"`
	LearningRate *float64 `arg:"--lr" help:"learning rate"`
	Seed         *int64   `arg:"--seed" help:"random seed"`
	Metric       *string  `arg:"--metric" help:"validation metric"`
	Resume       *bool    `arg:"--resume" help:"continue from saved weights"`
	Progress     *bool    `arg:"--progress" help:"show progress bars"`
	Samples      *int     `arg:"--samples" help:"number of generated samples"`
}

// ApplyOverrides returns c with every set override applied.
func (c Config) ApplyOverrides(o Overrides) Config {
	set(&c.Weights, o.Weights)
	set(&c.Epochs, o.Epochs)
	set(&c.BatchSize, o.BatchSize)
	set(&c.LearningRate, o.LearningRate)
	set(&c.Seed, o.Seed)
	set(&c.Metric, o.Metric)
	set(&c.Resume, o.Resume)
	set(&c.Progress, o.Progress)
	set(&c.Samples, o.Samples)
	return c
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
