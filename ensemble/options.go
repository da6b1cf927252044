package ensemble

import (
	"github.com/malcleanse/malcleanse/pkg/config"
	"github.com/malcleanse/malcleanse/pkg/log"
)

// HyperParams は学習のハイパーパラメータ
type HyperParams struct {
	BatchSize    int
	LearningRate float64
	ClipValue    float64
	Epochs       int
	HiddenUnits  []int
	DropoutRate  float64
	Seed         int64
	// Interval エポックごとにエポック結果を Info で出力する（0 なら毎エポック）
	Interval int
}

// DefaultHyperParams は既定のハイパーパラメータを返す
func DefaultHyperParams() HyperParams {
	return HyperParams{
		BatchSize:    16,
		LearningRate: 0.001,
		ClipValue:    100,
		Epochs:       30,
		HiddenUnits:  []int{200, 200},
		DropoutRate:  0.4,
		Interval:     2,
	}
}

// HyperParamsFromConfig は設定ファイルの train セクションから HyperParams を作る
func HyperParamsFromConfig(cfg config.TrainConfig) HyperParams {
	return HyperParams{
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		ClipValue:    cfg.ClipValue,
		Epochs:       cfg.Epochs,
		HiddenUnits:  append([]int(nil), cfg.HiddenUnits...),
		DropoutRate:  cfg.DropoutRate,
		Seed:         cfg.RandomSeed,
		Interval:     cfg.Interval,
	}
}

// Option はアンサンブルの構成を変更する関数
type Option func(*Ensemble)

// WithMembers はメンバー数を設定する
func WithMembers(n int) Option {
	return func(e *Ensemble) {
		e.nMembers = n
	}
}

// WithModelDirectory は保存先のルートディレクトリを設定する
func WithModelDirectory(dir string) Option {
	return func(e *Ensemble) {
		e.modelDir = dir
	}
}

// WithName はアンサンブル名を設定する。保存ディレクトリは小文字化した名前になる。
func WithName(name string) Option {
	return func(e *Ensemble) {
		e.name = name
	}
}

// WithArchitecture はテンプレートのアーキテクチャタグを設定する
func WithArchitecture(arch string) Option {
	return func(e *Ensemble) {
		e.arch = arch
	}
}

// WithHyperParams はハイパーパラメータを設定する
func WithHyperParams(hp HyperParams) Option {
	return func(e *Ensemble) {
		e.hparams = hp
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger log.Logger) Option {
	return func(e *Ensemble) {
		e.logger = logger
	}
}

// WithMCSamples はメンバーあたりの確率的フォワードパス回数を設定する
func WithMCSamples(n int) Option {
	return func(e *Ensemble) {
		e.mcSamples = n
	}
}

// WithKLScaler は Bayesian テンプレートの KL 項の係数を設定する
func WithKLScaler(scaler float64) Option {
	return func(e *Ensemble) {
		e.klScaler = scaler
	}
}

// FromConfig は設定ファイルの内容からアンサンブルを作成する。
// opts は設定ファイルの値より優先される。
func FromConfig(cfg *config.Config, opts ...Option) (*Ensemble, error) {
	base := []Option{
		WithArchitecture(cfg.Ensemble.Architecture),
		WithModelDirectory(cfg.Ensemble.ModelDir),
		WithHyperParams(HyperParamsFromConfig(cfg.Train)),
	}
	if cfg.Ensemble.Members > 0 {
		base = append(base, WithMembers(cfg.Ensemble.Members))
	}
	if cfg.Ensemble.MCSamples > 0 {
		base = append(base, WithMCSamples(cfg.Ensemble.MCSamples))
	}
	if cfg.Ensemble.KLScaler > 0 {
		base = append(base, WithKLScaler(cfg.Ensemble.KLScaler))
	}
	return New(cfg.Ensemble.Type, append(base, opts...)...)
}
