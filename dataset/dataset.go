// Package dataset は特徴量行列とラベルをミニバッチ学習用に保持します。
//
// 行がサンプル、列が選択済み語彙（または中心性API）に対応する2次元行列と、
// 0=benign, 1=malware のラベルベクトルを入力契約とします。
package dataset

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// DefaultBatchSize はバッチサイズ未指定時の値
const DefaultBatchSize = 16

// Batch は1つのミニバッチ
type Batch struct {
	X *mat.Dense
	Y []float64
}

// Dataset はラベル付き特徴量行列
type Dataset struct {
	x         *mat.Dense
	y         []float64
	batchSize int
	shuffle   bool
	seed      int64
}

// Option は Dataset の設定を変更する
type Option func(*Dataset)

// WithBatchSize はバッチサイズを設定する
func WithBatchSize(n int) Option {
	return func(d *Dataset) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithShuffle はエポックごとのシャッフルを有効にする
func WithShuffle(shuffle bool) Option {
	return func(d *Dataset) {
		d.shuffle = shuffle
	}
}

// WithSeed はシャッフルの乱数シードを設定する
func WithSeed(seed int64) Option {
	return func(d *Dataset) {
		d.seed = seed
	}
}

// New は X と y から Dataset を作成する。
// ラベルは 0 または 1 でなければならない。
func New(x *mat.Dense, y []float64, opts ...Option) (*Dataset, error) {
	if x == nil || len(y) == 0 {
		return nil, errors.ErrEmptyData
	}
	rows, _ := x.Dims()
	if rows != len(y) {
		return nil, errors.NewDimensionError("dataset.New", rows, len(y), 0)
	}
	for i, v := range y {
		if v != 0 && v != 1 {
			return nil, errors.NewValidationError("y", "labels must be 0 or 1", map[string]interface{}{"index": i, "value": v})
		}
	}

	d := &Dataset{
		x:         x,
		y:         append([]float64(nil), y...),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Len はサンプル数を返す
func (d *Dataset) Len() int { return len(d.y) }

// Dim は特徴量の次元を返す
func (d *Dataset) Dim() int {
	_, c := d.x.Dims()
	return c
}

// X は特徴量行列を返す（共有、変更不可）
func (d *Dataset) X() *mat.Dense { return d.x }

// Labels はラベルのコピーを返す
func (d *Dataset) Labels() []float64 {
	return append([]float64(nil), d.y...)
}

// BatchSize はバッチサイズを返す
func (d *Dataset) BatchSize() int { return d.batchSize }

// WithX は同じラベルとバッチ設定で特徴量だけを置き換えた Dataset を返す。
// 重み付きアンサンブルの結合器学習でメンバー予測を積み重ねた行列に使う。
func (d *Dataset) WithX(x *mat.Dense) (*Dataset, error) {
	return New(x, d.y, WithBatchSize(d.batchSize), WithShuffle(d.shuffle), WithSeed(d.seed))
}

// Batches は epoch 番目のミニバッチ列を返す。
// シャッフル順は (seed, epoch) から決定的に決まる。
func (d *Dataset) Batches(epoch int) []Batch {
	n := d.Len()
	_, c := d.x.Dims()

	if !d.shuffle {
		batches := make([]Batch, 0, (n+d.batchSize-1)/d.batchSize)
		for start := 0; start < n; start += d.batchSize {
			end := min(start+d.batchSize, n)
			batches = append(batches, Batch{
				X: d.x.Slice(start, end, 0, c).(*mat.Dense),
				Y: d.y[start:end],
			})
		}
		return batches
	}

	rng := rand.New(rand.NewSource(d.seed*1_000_003 + int64(epoch)))
	perm := rng.Perm(n)
	batches := make([]Batch, 0, (n+d.batchSize-1)/d.batchSize)
	for start := 0; start < n; start += d.batchSize {
		end := min(start+d.batchSize, n)
		bx := mat.NewDense(end-start, c, nil)
		by := make([]float64, end-start)
		for i, idx := range perm[start:end] {
			bx.SetRow(i, d.x.RawRowView(idx))
			by[i] = d.y[idx]
		}
		batches = append(batches, Batch{X: bx, Y: by})
	}
	return batches
}

// IsSingleClass はラベルが全て同じクラスかどうかを返す
func IsSingleClass(y []float64) bool {
	if len(y) == 0 {
		return false
	}
	for _, v := range y[1:] {
		if v != y[0] {
			return false
		}
	}
	return true
}
