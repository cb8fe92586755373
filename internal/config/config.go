package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override config keys.
// PNEU_TRAIN__BATCH_SIZE maps to train.batch_size.
const EnvPrefix = "PNEU_"

// Split modes.
const (
	SplitPooled   = "pooled"
	SplitPreserve = "preserve"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Labels     []string      `koanf:"labels"`
	ImageSize  int           `koanf:"image_size"`
	NumWorkers int           `koanf:"num_workers"`
	Data       DataConfig    `koanf:"data"`
	Split      SplitConfig   `koanf:"split"`
	Augment    AugmentConfig `koanf:"augment"`
	Model      ModelConfig   `koanf:"model"`
	Train      TrainConfig   `koanf:"train"`
	Evaluate   EvalConfig    `koanf:"evaluate"`
	Explain    ExplainConfig `koanf:"explain"`
	Output     OutputConfig  `koanf:"output"`
	Log        LogConfig     `koanf:"log"`
}

type DataConfig struct {
	// Format is "folders" (one subdirectory per label) or "webdataset" (tar shards).
	Format   string `koanf:"format"`
	TrainDir string `koanf:"train_dir"`
	ValDir   string `koanf:"val_dir"`
	TestDir  string `koanf:"test_dir"`
}

type SplitConfig struct {
	Mode         string  `koanf:"mode"`
	TestFraction float64 `koanf:"test_fraction"`
	ValFraction  float64 `koanf:"val_fraction"`
	Seed         int64   `koanf:"seed"`
}

type AugmentConfig struct {
	ZoomRange                   float64 `koanf:"zoom_range"`
	HorizontalFlip              bool    `koanf:"horizontal_flip"`
	WidthShiftRange             float64 `koanf:"width_shift_range"`
	FeaturewiseCenter           bool    `koanf:"featurewise_center"`
	FeaturewiseStdNormalization bool    `koanf:"featurewise_std_normalization"`
}

type ModelConfig struct {
	BackboneWeights  string  `koanf:"backbone_weights"`
	BackboneChannels []int   `koanf:"backbone_channels"`
	HeadHidden       []int   `koanf:"head_hidden"`
	InputDropout     float64 `koanf:"input_dropout"`
	OutputDropout    float64 `koanf:"output_dropout"`
	Seed             int64   `koanf:"seed"`
}

type TrainConfig struct {
	BatchSize          int     `koanf:"batch_size"`
	Epochs             int     `koanf:"epochs"`
	LearningRate       float64 `koanf:"learning_rate"`
	Patience           int     `koanf:"patience"`
	RestoreBestWeights bool    `koanf:"restore_best_weights"`
	Seed               int64   `koanf:"seed"`
	LogEvery           int     `koanf:"log_every"`
}

type EvalConfig struct {
	MinPrecision      float64 `koanf:"min_precision"`
	FallbackThreshold float64 `koanf:"fallback_threshold"`
}

type ExplainConfig struct {
	Image    string  `koanf:"image"`
	Output   string  `koanf:"output"`
	Layer    string  `koanf:"layer"`
	Class    int     `koanf:"class"`
	Alpha    float64 `koanf:"alpha"`
	Colormap string  `koanf:"colormap"`
}

type OutputConfig struct {
	Dir string `koanf:"dir"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration of the reference experiment.
func Default() Config {
	return Config{
		Labels:     []string{"PNEUMONIA", "NORMAL"},
		ImageSize:  224,
		NumWorkers: 4,
		Data:       DataConfig{Format: "folders"},
		Split: SplitConfig{
			Mode:         SplitPooled,
			TestFraction: 0.2,
			ValFraction:  0.2,
			Seed:         30,
		},
		Augment: AugmentConfig{
			ZoomRange:       0.02,
			HorizontalFlip:  true,
			WidthShiftRange: 0.1,
		},
		Model: ModelConfig{
			BackboneChannels: []int{16, 32, 64, 128, 256},
			HeadHidden:       []int{512, 325},
			InputDropout:     0.6,
			OutputDropout:    0.7,
			Seed:             42,
		},
		Train: TrainConfig{
			BatchSize:          35,
			Epochs:             50,
			LearningRate:       1e-4,
			Patience:           5,
			RestoreBestWeights: true,
			Seed:               42,
			LogEvery:           20,
		},
		Evaluate: EvalConfig{
			MinPrecision:      0.80,
			FallbackThreshold: 0.5,
		},
		Explain: ExplainConfig{
			Class:    -1,
			Alpha:    0.4,
			Colormap: "jet",
		},
		Output: OutputConfig{Dir: "runs"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataFormat      string
	TrainDir        string
	ValDir          string
	TestDir         string
	Epochs          int
	BatchSize       int
	NumWorkers      int
	Seed            int64
	LogEvery        int
	BackboneWeights string
	ExplainImage    string
	ExplainOutput   string
	OutputDir       string
}

// Load reads and validates a Config from a YAML file layered over the defaults
// and under PNEU_ environment variables. An empty path uses defaults and env only.
func Load(path string) (*Config, error) {
	var provider koanf.Provider
	if path != "" {
		provider = file.Provider(path)
	}
	cfg, err := LoadFrom(provider)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom layers defaults, the YAML provider (if any) and the environment.
func LoadFrom(provider koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if provider != nil {
		if err := k.Load(provider, yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataFormat != "" {
		c.Data.Format = o.DataFormat
	}
	if o.TrainDir != "" {
		c.Data.TrainDir = o.TrainDir
	}
	if o.ValDir != "" {
		c.Data.ValDir = o.ValDir
	}
	if o.TestDir != "" {
		c.Data.TestDir = o.TestDir
	}
	if o.Epochs > 0 {
		c.Train.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Train.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Train.Seed = o.Seed
		c.Model.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.Train.LogEvery = o.LogEvery
	}
	if o.BackboneWeights != "" {
		c.Model.BackboneWeights = o.BackboneWeights
	}
	if o.ExplainImage != "" {
		c.Explain.Image = o.ExplainImage
	}
	if o.ExplainOutput != "" {
		c.Explain.Output = o.ExplainOutput
	}
	if o.OutputDir != "" {
		c.Output.Dir = o.OutputDir
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.Labels) != 2 {
		return fmt.Errorf("labels must name exactly 2 classes (got %d)", len(c.Labels))
	}
	if c.Labels[0] == c.Labels[1] {
		return fmt.Errorf("labels must be distinct (got %q twice)", c.Labels[0])
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be > 0 (got %d)", c.ImageSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	switch c.Data.Format {
	case "folders", "webdataset":
	default:
		return fmt.Errorf("data.format must be folders or webdataset (got %q)", c.Data.Format)
	}
	switch c.Split.Mode {
	case SplitPooled, SplitPreserve:
	default:
		return fmt.Errorf("split.mode must be %q or %q (got %q)", SplitPooled, SplitPreserve, c.Split.Mode)
	}
	if !fraction(c.Split.TestFraction) || !fraction(c.Split.ValFraction) {
		return fmt.Errorf("split fractions must be in (0,1) (got test=%v val=%v)", c.Split.TestFraction, c.Split.ValFraction)
	}
	if c.Augment.ZoomRange < 0 || c.Augment.ZoomRange >= 1 {
		return fmt.Errorf("augment.zoom_range must be in [0,1) (got %v)", c.Augment.ZoomRange)
	}
	if c.Augment.WidthShiftRange < 0 || c.Augment.WidthShiftRange >= 1 {
		return fmt.Errorf("augment.width_shift_range must be in [0,1) (got %v)", c.Augment.WidthShiftRange)
	}
	if len(c.Model.BackboneChannels) == 0 {
		return errors.New("model.backbone_channels must not be empty")
	}
	for _, ch := range c.Model.BackboneChannels {
		if ch <= 0 {
			return fmt.Errorf("model.backbone_channels entries must be > 0 (got %d)", ch)
		}
	}
	if len(c.Model.HeadHidden) != 2 || c.Model.HeadHidden[0] <= 0 || c.Model.HeadHidden[1] <= 0 {
		return fmt.Errorf("model.head_hidden must hold 2 positive widths (got %v)", c.Model.HeadHidden)
	}
	if c.Model.InputDropout < 0 || c.Model.InputDropout >= 1 || c.Model.OutputDropout < 0 || c.Model.OutputDropout >= 1 {
		return fmt.Errorf("model dropout rates must be in [0,1) (got %v, %v)", c.Model.InputDropout, c.Model.OutputDropout)
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("train.batch_size must be > 0 (got %d)", c.Train.BatchSize)
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("train.epochs must be > 0 (got %d)", c.Train.Epochs)
	}
	if c.Train.LearningRate <= 0 {
		return fmt.Errorf("train.learning_rate must be > 0 (got %v)", c.Train.LearningRate)
	}
	if c.Train.Patience <= 0 {
		return fmt.Errorf("train.patience must be > 0 (got %d)", c.Train.Patience)
	}
	if c.Train.LogEvery <= 0 {
		return fmt.Errorf("train.log_every must be > 0 (got %d)", c.Train.LogEvery)
	}
	if c.Evaluate.MinPrecision <= 0 || c.Evaluate.MinPrecision > 1 {
		return fmt.Errorf("evaluate.min_precision must be in (0,1] (got %v)", c.Evaluate.MinPrecision)
	}
	if c.Evaluate.FallbackThreshold < 0 || c.Evaluate.FallbackThreshold > 1 {
		return fmt.Errorf("evaluate.fallback_threshold must be in [0,1] (got %v)", c.Evaluate.FallbackThreshold)
	}
	if c.Explain.Alpha < 0 || c.Explain.Alpha > 1 {
		return fmt.Errorf("explain.alpha must be in [0,1] (got %v)", c.Explain.Alpha)
	}
	if c.Explain.Class < -1 || c.Explain.Class > 1 {
		return fmt.Errorf("explain.class must be -1, 0 or 1 (got %d)", c.Explain.Class)
	}
	switch c.Explain.Colormap {
	case "jet", "kindlmann", "rainbow":
	default:
		return fmt.Errorf("explain.colormap must be jet, kindlmann or rainbow (got %q)", c.Explain.Colormap)
	}
	if c.Explain.Image != "" && c.Explain.Output == "" {
		return errors.New("explain.output must be set when explain.image is set")
	}
	if c.Output.Dir == "" {
		return errors.New("output.dir must be set")
	}
	return nil
}

// ValidateData checks that every directory the configured split mode needs is set.
func (c *Config) ValidateData() error {
	if c.Data.TrainDir == "" {
		return errors.New("data.train_dir must be set")
	}
	if c.Split.Mode == SplitPreserve && (c.Data.ValDir == "" || c.Data.TestDir == "") {
		return errors.New("split.mode preserve needs data.val_dir and data.test_dir")
	}
	return nil
}

func fraction(v float64) bool {
	return v > 0 && v < 1
}
