// Package config loads run settings from .properties files. Lists are
// separated by semicolons:
//
//	epochs = 200
//	hidden = 8;4
//	split = 0.8;0.2
package config

import (
	"github.com/magiconair/properties"
	"github.com/pkg/errors"

	"github.com/dsuarezv/nuts-ml/datasets"
	"github.com/dsuarezv/nuts-ml/metrics"
)

// Config holds the settings of a training or inference run.
type Config struct {
	Weights      string    `properties:"weights,default=weights_deep_net.json.z"`
	Epochs       int       `properties:"epochs,default=100"`
	BatchSize    int       `properties:"batch_size,default=16"`
	Hidden       []int     `properties:"hidden,default=4"`
	LearningRate float64   `properties:"learning_rate,default=0.5"`
	Momentum     float64   `properties:"momentum,default=0.1"`
	Seed         int64     `properties:"seed,default=1"`
	Split        []float64 `properties:"split,default=0.8;0.2"`
	Metric       string    `properties:"metric,default=accuracy"`
	Resume       bool      `properties:"resume,default=false"`
	Progress     bool      `properties:"progress,default=true"`
	Samples      int       `properties:"samples,default=1000"`
	Noise        float64   `properties:"noise,default=0.1"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c, err := Parse("")
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads the configuration from a .properties file. Missing keys keep
// their defaults.
func Load(path string) (Config, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load %s", path)
	}
	return decode(p)
}

// Parse reads the configuration from a string in .properties format.
func Parse(s string) (Config, error) {
	p, err := properties.LoadString(s)
	if err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	return decode(p)
}

func decode(p *properties.Properties) (Config, error) {
	var c Config
	if err := p.Decode(&c); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return c, nil
}

// Validate checks that the settings describe a runnable job.
func (c Config) Validate() error {
	switch {
	case c.Weights == "":
		return errors.New("weights path is empty")
	case c.Epochs <= 0:
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.Samples <= 0:
		return errors.Errorf("samples must be positive, got %d", c.Samples)
	case c.LearningRate <= 0:
		return errors.Errorf("learning_rate must be positive, got %v", c.LearningRate)
	case c.Noise < 0:
		return errors.Errorf("noise cannot be negative, got %v", c.Noise)
	case len(c.Hidden) == 0:
		return errors.New("hidden layout is empty")
	}
	for _, n := range c.Hidden {
		if n <= 0 {
			return errors.Errorf("hidden layer sizes must be positive: %v", c.Hidden)
		}
	}
	if err := datasets.CheckRatios(c.Split); err != nil {
		return errors.Wrap(err, "split")
	}
	if _, err := metrics.ByName(c.Metric); err != nil {
		return err
	}
	return nil
}
