package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// BaseEstimator は前処理器が埋め込む学習状態
type BaseEstimator struct {
	fitted    bool
	nFeatures int
}

// IsFitted はモデルが学習済みかどうかを返す
func (e *BaseEstimator) IsFitted() bool {
	return e.fitted
}

// SetFitted は学習済み状態と学習時の特徴量数を記録する
func (e *BaseEstimator) SetFitted(nFeatures int) {
	e.fitted = true
	e.nFeatures = nFeatures
}

// NFeatures は学習時の特徴量数を返す
func (e *BaseEstimator) NFeatures() int {
	return e.nFeatures
}

// Reset はモデルを初期状態にリセットする
func (e *BaseEstimator) Reset() {
	e.fitted = false
	e.nFeatures = 0
}

// RequireFitted は未学習なら LifecycleError を返す
func (e *BaseEstimator) RequireFitted(op string) error {
	if !e.fitted {
		return errors.NewLifecycleError(op, "NotFitted")
	}
	return nil
}

// Transformer はデータ変換のインターフェース
type Transformer interface {
	Fit(X mat.Matrix) error
	Transform(X mat.Matrix) (mat.Matrix, error)
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}
