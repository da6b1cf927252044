// Package preprocessing は中心性特徴量など実数値の入力を学習前に整える
package preprocessing

import (
	"fmt"
	"math"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

// ScalerFile はモデルディレクトリ内のスケーラーのファイル名
const ScalerFile = "scaler.json"

// StandardScaler は各列を平均0、標準偏差1に変換する
//
// 標準偏差は母分散から求める。分散がほぼ0の列はスケール1として扱う。
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	xs, err := scaler.FitTransform(frame.X)
type StandardScaler struct {
	model.BaseEstimator

	// Mean は各特徴量の平均値
	Mean []float64 `json:"mean"`

	// Scale は各特徴量の標準偏差
	Scale []float64 `json:"scale"`

	WithMean bool `json:"with_mean"`
	WithStd  bool `json:"with_std"`
}

// NewStandardScaler は新しいStandardScalerを作成する
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// Fit は列ごとの平均と標準偏差を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, variance := stat.PopMeanVariance(col, nil)
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1
		if s.WithStd {
			if std := math.Sqrt(variance); std >= 1e-8 {
				s.Scale[j] = std
			}
		}
	}

	s.SetFitted(c)
	return nil
}

// Transform は学習済みの統計量でデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	return s.apply("StandardScaler.Transform", X, func(v float64, j int) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	})
}

// FitTransform は学習と変換を続けて行う
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	return s.apply("StandardScaler.InverseTransform", X, func(v float64, j int) float64 {
		return v*s.Scale[j] + s.Mean[j]
	})
}

func (s *StandardScaler) apply(op string, X mat.Matrix, f func(v float64, j int) float64) (*mat.Dense, error) {
	if err := s.RequireFitted(op); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != s.NFeatures() {
		return nil, errors.NewDimensionError(op, s.NFeatures(), c, 1)
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, _ float64) float64 {
		return f(X.At(i, j), j)
	}, result)
	return result, nil
}

// Save はスケーラーを dir/scaler.json に書き出す
func (s *StandardScaler) Save(dir string) error {
	if err := s.RequireFitted("StandardScaler.Save"); err != nil {
		return err
	}
	return model.SaveJSON(s, filepath.Join(dir, ScalerFile))
}

// LoadStandardScaler は Save で書き出したスケーラーを読み込む
func LoadStandardScaler(dir string) (*StandardScaler, error) {
	s := &StandardScaler{}
	if err := model.LoadJSON(s, filepath.Join(dir, ScalerFile), "scaler"); err != nil {
		return nil, err
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return nil, errors.NewValueError("LoadStandardScaler", "scaler has inconsistent statistics")
	}
	s.SetFitted(len(s.Mean))
	return s, nil
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, s.NFeatures())
}
