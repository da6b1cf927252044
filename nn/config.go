// Package nn はアンサンブルのメンバーが共有するテンプレートモデルを提供します。
//
// テンプレートは ReLU 全結合層と sigmoid 出力を持つ二値分類器で、重みは
// model.Tensors として取り出し・差し替えが可能です。アンサンブルはメンバーごとに
// 重みとオプティマイザ状態を入れ替えて1つのインスタンスを使い回します。
package nn

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

// Variant はテンプレートの推論時の振る舞いを決める
type Variant string

const (
	// Plain は推論時にドロップアウトを無効にする（vanilla / deep ensemble）
	Plain Variant = "plain"
	// MCDropout は推論時もドロップアウトを有効にした確率的なフォワードパスを行う
	MCDropout Variant = "mc_dropout"
	// Bayesian は MCDropout に重みのKL正則化項を加えたもの
	Bayesian Variant = "bayesian"
)

// ConfigFile は保存ディレクトリ内のモデル設定ファイル名
const ConfigFile = "config.json"

// Config はテンプレートモデルの構成
type Config struct {
	Architecture string  `json:"architecture"`
	InputDim     int     `json:"input_dim"`
	HiddenUnits  []int   `json:"hidden_units"`
	DropoutRate  float64 `json:"dropout_rate"`
	Variant      Variant `json:"variant"`
	KLScaler     float64 `json:"kl_scaler,omitempty"`
	Seed         int64   `json:"seed"`
}

// DefaultConfig は dnn アーキテクチャの既定構成を返す
func DefaultConfig(inputDim int) Config {
	return Config{
		Architecture: "dnn",
		InputDim:     inputDim,
		HiddenUnits:  []int{200, 200},
		DropoutRate:  0.4,
		Variant:      Plain,
	}
}

// Stochastic は推論時にドロップアウトを使うかどうかを返す
func (c Config) Stochastic() bool {
	return c.Variant == MCDropout || c.Variant == Bayesian
}

// Validate は構築に必要なパラメータを検証する
func (c Config) Validate() error {
	if c.InputDim <= 0 {
		return errors.NewConfigurationError("BuildModel", "input_dim", "input dimension is required")
	}
	if len(c.HiddenUnits) == 0 {
		return errors.NewConfigurationError("BuildModel", "hidden_units", "at least one hidden layer is required")
	}
	for _, h := range c.HiddenUnits {
		if h <= 0 {
			return errors.NewConfigurationError("BuildModel", "hidden_units", fmt.Sprintf("non-positive width %d", h))
		}
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return errors.NewConfigurationError("BuildModel", "dropout_rate", "must be in [0, 1)")
	}
	switch c.Variant {
	case Plain, MCDropout, Bayesian:
	default:
		return errors.NewConfigurationError("BuildModel", "variant", fmt.Sprintf("unknown variant %q", c.Variant))
	}
	return nil
}

// Builder は Config からネットワークを構築する関数
type Builder func(cfg Config) (*Network, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{"dnn": buildDNN}
)

// Register はアーキテクチャを登録する。同名の登録は上書きされる。
func Register(architecture string, b Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[architecture] = b
}

// Architectures は登録済みアーキテクチャ名を返す
func Architectures() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build はアーキテクチャタグに従ってテンプレートモデルを構築する
func Build(cfg Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registryMu.RLock()
	b, ok := registry[cfg.Architecture]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.NewConfigurationError("BuildModel", "architecture", fmt.Sprintf("unknown architecture %q", cfg.Architecture))
	}
	return b(cfg)
}

// SaveConfig は dir/config.json に構成を保存する
func SaveConfig(cfg Config, dir string) error {
	return model.SaveJSON(cfg, filepath.Join(dir, ConfigFile))
}

// LoadConfig は dir/config.json から構成を読み込む。
// 存在しない場合は ArtifactNotFoundError を返す。
func LoadConfig(dir string) (Config, error) {
	var cfg Config
	if err := model.LoadJSON(&cfg, filepath.Join(dir, ConfigFile), "model config"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
