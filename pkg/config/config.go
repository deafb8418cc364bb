// Package config provides configuration loading and management for bratsprep.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"bratsprep/pkg/interpolation"
	"bratsprep/pkg/transforms"
)

// Config represents the transform pipeline configuration loaded from YAML
type Config struct {
	// Keys names the sample entries the pipelines work on
	Keys struct {
		// Image is the key of the multi-modal MRI volume
		Image string `yaml:"image"`

		// Label is the key of the segmentation
		Label string `yaml:"label"`

		// Pred is the key of model predictions in post-processing
		Pred string `yaml:"pred"`
	} `yaml:"keys"`

	// Orientation parameters
	Orientation struct {
		// Axcodes is the target orientation, e.g. "RAS"
		Axcodes string `yaml:"axcodes"`
	} `yaml:"orientation"`

	// Spacing parameters
	Spacing struct {
		// Pixdim is the target voxel size in mm
		Pixdim [3]float64 `yaml:"pixdim"`

		// ImageMode is the interpolation used for images
		ImageMode string `yaml:"imageMode"`

		// LabelMode is the interpolation used for labels
		LabelMode string `yaml:"labelMode"`
	} `yaml:"spacing"`

	// Augmentation parameters, used by the training pipeline only
	Augmentation struct {
		// ROISize is the random crop size in voxels
		ROISize [3]int `yaml:"roiSize"`

		// FlipProb is the probability of flipping each spatial axis
		FlipProb float64 `yaml:"flipProb"`

		// ScaleFactors bounds the random intensity scale 1+f, f in [-ScaleFactors, ScaleFactors)
		ScaleFactors float64 `yaml:"scaleFactors"`

		// ShiftOffsets bounds the random intensity offset
		ShiftOffsets float64 `yaml:"shiftOffsets"`

		// IntensityProb is the probability of applying scale and shift
		IntensityProb float64 `yaml:"intensityProb"`
	} `yaml:"augmentation"`

	// Normalization parameters
	Normalization struct {
		Nonzero     bool `yaml:"nonzero"`
		ChannelWise bool `yaml:"channelWise"`
	} `yaml:"normalization"`

	// Post-processing parameters
	Post struct {
		// Sigmoid applies a sigmoid to raw model outputs
		Sigmoid bool `yaml:"sigmoid"`

		// Threshold binarises activated outputs
		Threshold float64 `yaml:"threshold"`
	} `yaml:"post"`

	// Processing parameters
	Processing struct {
		// Seed makes random transforms reproducible; 0 leaves them unseeded
		Seed uint64 `yaml:"seed"`

		// NumWorkers bounds concurrent sample processing
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Keys.Image = "image"
	cfg.Keys.Label = "label"
	cfg.Keys.Pred = "pred"

	cfg.Orientation.Axcodes = "RAS"

	cfg.Spacing.Pixdim = [3]float64{1.0, 1.0, 1.0}
	cfg.Spacing.ImageMode = "bilinear"
	cfg.Spacing.LabelMode = "nearest"

	cfg.Augmentation.ROISize = [3]int{224, 224, 144}
	cfg.Augmentation.FlipProb = 0.5
	cfg.Augmentation.ScaleFactors = 0.1
	cfg.Augmentation.ShiftOffsets = 0.1
	cfg.Augmentation.IntensityProb = 1.0

	cfg.Normalization.Nonzero = true
	cfg.Normalization.ChannelWise = true

	cfg.Post.Sigmoid = true
	cfg.Post.Threshold = 0.5

	cfg.Processing.NumWorkers = runtime.NumCPU() // Use all available cores by default

	return cfg
}

// Validate checks the configuration for values no pipeline can run with
func (c *Config) Validate() error {
	if c.Keys.Image == "" || c.Keys.Label == "" || c.Keys.Pred == "" {
		return errors.New("image, label and pred keys must be set")
	}
	if err := transforms.CheckAxcodes(c.Orientation.Axcodes); err != nil {
		return errors.Wrap(err, "orientation.axcodes")
	}
	for i, p := range c.Spacing.Pixdim {
		if !(p > 0) || math.IsInf(p, 1) {
			return errors.Errorf("spacing.pixdim[%d] must be positive, got %f", i, p)
		}
	}
	if _, err := interpolation.ParseMode(c.Spacing.ImageMode); err != nil {
		return errors.Wrap(err, "spacing.imageMode")
	}
	if _, err := interpolation.ParseMode(c.Spacing.LabelMode); err != nil {
		return errors.Wrap(err, "spacing.labelMode")
	}
	for i, n := range c.Augmentation.ROISize {
		if n <= 0 {
			return errors.Errorf("augmentation.roiSize[%d] must be positive, got %d", i, n)
		}
	}
	for _, p := range []float64{c.Augmentation.FlipProb, c.Augmentation.IntensityProb} {
		if !(p >= 0 && p <= 1) {
			return errors.Errorf("probability %f outside [0, 1]", p)
		}
	}
	if !(c.Augmentation.ScaleFactors >= 0) || !(c.Augmentation.ShiftOffsets >= 0) {
		return errors.New("augmentation ranges must not be negative")
	}
	if math.IsNaN(c.Post.Threshold) || math.IsInf(c.Post.Threshold, 0) {
		return errors.Errorf("post.threshold must be finite, got %f", c.Post.Threshold)
	}
	if c.Post.Sigmoid && (c.Post.Threshold < 0 || c.Post.Threshold > 1) {
		return errors.Errorf("post.threshold %f outside [0, 1] after a sigmoid", c.Post.Threshold)
	}
	if c.Processing.NumWorkers < 0 {
		return errors.Errorf("processing.numWorkers must not be negative, got %d", c.Processing.NumWorkers)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", configPath)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
