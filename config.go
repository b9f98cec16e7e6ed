package jda

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pigo "github.com/esimov/pigo/core"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for configuration values out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// maxConfigSize caps the size of a configuration file.
const maxConfigSize = 1 << 20

// Config is the root configuration of training and detection.
type Config struct {
	Cascade CascadeConfig `yaml:"cascade"`
	// Window is the side of the full resolution view; half and quarter views are Window/2 and Window/4.
	Window    int             `yaml:"window"`
	Training  TrainingConfig  `yaml:"training"`
	Cart      CartConfig      `yaml:"cart"`
	Detection DetectionConfig `yaml:"detection"`
}

// CascadeConfig holds the fixed parameters a model is trained with.
type CascadeConfig struct {
	Stages    int `yaml:"stages"`
	Carts     int `yaml:"carts"`
	Landmarks int `yaml:"landmarks"`
	TreeDepth int `yaml:"tree_depth"`
}

// TrainingConfig describes the training data and the mining budget.
type TrainingConfig struct {
	// Positives is a list file, one sample per line: image path followed by the landmark pixel coordinates.
	Positives string `yaml:"positives"`
	// Negatives is a list file of background images without faces.
	Negatives string `yaml:"negatives"`
	// NegRatio sizes the negative pool relative to the positive pool.
	NegRatio float64 `yaml:"neg_ratio"`
	// MaxScans is the number of candidate regions a mining round may draw per missing negative.
	MaxScans    int    `yaml:"max_scans"`
	SnapshotDir string `yaml:"snapshot_dir"`
	Seed        int64  `yaml:"seed"`
}

// CartConfig tunes the fitting of a single cart.
type CartConfig struct {
	// Recall is the fraction of positives every cart threshold keeps.
	Recall float64 `yaml:"recall"`
	// Features is the number of random pixel-difference features tried per split.
	Features int `yaml:"features"`
	// Shrinkage scales the shape increments of the leaves.
	Shrinkage float64 `yaml:"shrinkage"`
	Seed      int64   `yaml:"seed"`
}

// DetectionConfig holds the sliding window parameters.
type DetectionConfig struct {
	MinSize     int     `yaml:"min_size"`
	MaxSize     int     `yaml:"max_size"`
	ShiftFactor float64 `yaml:"shift_factor"`
	ScaleFactor float64 `yaml:"scale_factor"`
	Overlap     float64 `yaml:"overlap"`
	Workers     int     `yaml:"workers"`
}

// defaultScan follows the pigo face finder search.
var defaultScan = pigo.CascadeParams{
	MinSize:     40,
	MaxSize:     1000,
	ShiftFactor: 0.1,
	ScaleFactor: 1.1,
}

// DefaultConfig returns the configuration used for the values a file leaves out.
func DefaultConfig() *Config {
	return &Config{
		Cascade: CascadeConfig{
			Stages:    5,
			Carts:     100,
			Landmarks: 5,
			TreeDepth: 4,
		},
		Window: 40,
		Training: TrainingConfig{
			NegRatio:    1.0,
			MaxScans:    1000,
			SnapshotDir: "model",
			Seed:        1,
		},
		Cart: CartConfig{
			Recall:    0.99,
			Features:  500,
			Shrinkage: 0.1,
			Seed:      1,
		},
		Detection: DetectionConfig{
			MinSize:     defaultScan.MinSize,
			MaxSize:     defaultScan.MaxSize,
			ShiftFactor: defaultScan.ShiftFactor,
			ScaleFactor: defaultScan.ScaleFactor,
			Overlap:     0.3,
		},
	}
}

// LoadConfig loads a YAML configuration file over the defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml extension, got %q", ext)
	}
	fi, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fi.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	switch {
	case c.Window < 8 || c.Window%4 != 0:
		return fmt.Errorf("%w: window must be a multiple of 4 not below 8, got %d", ErrInvalidConfig, c.Window)
	case c.Training.NegRatio <= 0:
		return fmt.Errorf("%w: neg_ratio must be positive", ErrInvalidConfig)
	case c.Training.MaxScans <= 0:
		return fmt.Errorf("%w: max_scans must be positive", ErrInvalidConfig)
	case c.Cart.Recall <= 0 || c.Cart.Recall > 1:
		return fmt.Errorf("%w: recall must be in (0, 1], got %v", ErrInvalidConfig, c.Cart.Recall)
	case c.Cart.Features <= 0:
		return fmt.Errorf("%w: features must be positive", ErrInvalidConfig)
	case c.Cart.Shrinkage <= 0 || c.Cart.Shrinkage > 1:
		return fmt.Errorf("%w: shrinkage must be in (0, 1], got %v", ErrInvalidConfig, c.Cart.Shrinkage)
	case c.Detection.ScaleFactor <= 1:
		return fmt.Errorf("%w: scale_factor must be above 1, got %v", ErrInvalidConfig, c.Detection.ScaleFactor)
	case c.Detection.ShiftFactor <= 0 || c.Detection.ShiftFactor > 1:
		return fmt.Errorf("%w: shift_factor must be in (0, 1], got %v", ErrInvalidConfig, c.Detection.ShiftFactor)
	case c.Detection.Overlap < 0 || c.Detection.Overlap >= 1:
		return fmt.Errorf("%w: overlap must be in [0, 1), got %v", ErrInvalidConfig, c.Detection.Overlap)
	}
	return nil
}

// Params returns the fixed cascade parameters.
func (c *Config) Params() Params {
	return Params{
		Stages:    c.Cascade.Stages,
		Carts:     c.Cascade.Carts,
		Landmarks: c.Cascade.Landmarks,
		TreeDepth: c.Cascade.TreeDepth,
	}
}

// ScanParams returns the sliding window parameters of the detection section.
func (c *Config) ScanParams() ScanParams {
	return ScanParams{
		MinSize:     c.Detection.MinSize,
		MaxSize:     c.Detection.MaxSize,
		ShiftFactor: c.Detection.ShiftFactor,
		ScaleFactor: c.Detection.ScaleFactor,
		Window:      c.Window,
		Overlap:     c.Detection.Overlap,
		Workers:     c.Detection.Workers,
	}
}
