// Package config loads the training, ensemble and extraction settings.
//
// Values come from defaults, an optional YAML file and MALCLEANSE_* environment
// variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
)

type Config struct {
	Train    TrainConfig    `mapstructure:"train"`
	Ensemble EnsembleConfig `mapstructure:"ensemble"`
	Feature  FeatureConfig  `mapstructure:"feature"`
	Log      LogConfig      `mapstructure:"log"`
	Tracking TrackingConfig `mapstructure:"tracking"`
}

// TrainConfig 学習ハイパーパラメータ
type TrainConfig struct {
	BatchSize    int     `mapstructure:"batch_size"`
	LearningRate float64 `mapstructure:"learning_rate"`
	ClipValue    float64 `mapstructure:"clip_value"`
	Epochs       int     `mapstructure:"n_epochs"`
	HiddenUnits  []int   `mapstructure:"hidden_units"`
	DropoutRate  float64 `mapstructure:"dropout_rate"`
	RandomSeed   int64   `mapstructure:"random_seed"`
	Interval     int     `mapstructure:"interval"` // 何エポックごとに検証結果をログ出力するか
}

// EnsembleConfig アンサンブル構成
type EnsembleConfig struct {
	Type         string  `mapstructure:"type"` // vanilla, deep_ensemble, weighted_ensemble, mc_dropout, bayesian
	Architecture string  `mapstructure:"architecture"`
	Members      int     `mapstructure:"n_members"`
	ModelDir     string  `mapstructure:"model_dir"`
	MCSamples    int     `mapstructure:"n_sampling"`
	KLScaler     float64 `mapstructure:"kl_scaler"`
}

// FeatureConfig 特徴量抽出の設定
type FeatureConfig struct {
	NaiveDir  string `mapstructure:"naive_dir"`
	MetaDir   string `mapstructure:"meta_dir"`
	FileExt   string `mapstructure:"file_ext"`
	Workers   int    `mapstructure:"workers"`
	VocabSize int    `mapstructure:"vocab_size"`
	Update    bool   `mapstructure:"update"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console, slog
	Output string `mapstructure:"output"` // stdout, stderr, file path
}

type TrackingConfig struct {
	DSN string `mapstructure:"dsn"` // sqlite file path
}

// Sink converts the log section for log.Open.
func (c LogConfig) Sink() log.Config {
	return log.Config{Level: c.Level, Format: c.Format, Output: c.Output}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("train.batch_size", 16)
	v.SetDefault("train.learning_rate", 0.001)
	v.SetDefault("train.clip_value", 100.0)
	v.SetDefault("train.n_epochs", 30)
	v.SetDefault("train.hidden_units", []int{200, 200})
	v.SetDefault("train.dropout_rate", 0.4)
	v.SetDefault("train.random_seed", 0)
	v.SetDefault("train.interval", 2)

	v.SetDefault("ensemble.type", "vanilla")
	v.SetDefault("ensemble.architecture", "dnn")
	v.SetDefault("ensemble.n_members", 1)
	v.SetDefault("ensemble.model_dir", "models")
	v.SetDefault("ensemble.n_sampling", 10)
	v.SetDefault("ensemble.kl_scaler", 1.0/50000.0)

	v.SetDefault("feature.naive_dir", "naive_data")
	v.SetDefault("feature.meta_dir", "meta_data")
	v.SetDefault("feature.file_ext", ".drebin")
	v.SetDefault("feature.workers", 2)
	v.SetDefault("feature.vocab_size", 10000)
	v.SetDefault("feature.update", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("tracking.dsn", "malcleanse.db")
}

// Load reads path (may be empty) and applies environment overrides such as
// MALCLEANSE_TRAIN_N_EPOCHS or MALCLEANSE_LOG_LEVEL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MALCLEANSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, errors.NewArtifactNotFoundError("config", path)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside training.
func (c *Config) Validate() error {
	if c.Train.BatchSize <= 0 {
		return errors.NewValidationError("train.batch_size", "must be positive", c.Train.BatchSize)
	}
	if c.Train.Epochs <= 0 {
		return errors.NewValidationError("train.n_epochs", "must be positive", c.Train.Epochs)
	}
	if c.Train.LearningRate <= 0 {
		return errors.NewValidationError("train.learning_rate", "must be positive", c.Train.LearningRate)
	}
	if c.Train.DropoutRate < 0 || c.Train.DropoutRate >= 1 {
		return errors.NewValidationError("train.dropout_rate", "must be in [0, 1)", c.Train.DropoutRate)
	}
	if c.Ensemble.Members <= 0 {
		return errors.NewValidationError("ensemble.n_members", "must be positive", c.Ensemble.Members)
	}
	if c.Feature.Workers <= 0 {
		return errors.NewValidationError("feature.workers", "must be positive", c.Feature.Workers)
	}
	return nil
}

var noiseTypePattern = regexp.MustCompile(`^thr_([0-9]+)_([0-9]+)$`)

// NoiseTag identifies a label-noise split, e.g. thr_1_18.
type NoiseTag struct {
	Index string
	Ratio string
}

// ParseNoiseType parses "thr_<index>_<ratio>".
func ParseNoiseType(s string) (NoiseTag, error) {
	m := noiseTypePattern.FindStringSubmatch(s)
	if m == nil {
		return NoiseTag{}, errors.NewValidationError("noise_type", "expected thr_<index>_<ratio>", s)
	}
	return NoiseTag{Index: m[1], Ratio: m[2]}, nil
}

func (n NoiseTag) String() string { return fmt.Sprintf("thr_%s_%s", n.Index, n.Ratio) }

// MWO is the name of the split cleaned by MalWhiteout.
func (n NoiseTag) MWO() string { return "mwo_" + n.String() }

// Robust is the name of the split cleaned by the robust baseline.
func (n NoiseTag) Robust() string { return "robust_" + n.String() }

// EvaluationFamilies are the malware families the evaluate command reports on.
var EvaluationFamilies = []string{"backdoorware", "adware", "smsware", "ransomware"}
