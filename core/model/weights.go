package model

import (
	"fmt"
	"math"
)

// Tensor は1つの重みテンソル（カーネル・バイアス等）を表す。
// Name はレイヤ名とパラメータ名を "/" で連結したもの（例: "dense_1/kernel"）。
type Tensor struct {
	Name      string
	Shape     []int
	Data      []float64
	Trainable bool
}

// Size は要素数を返す
func (t Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Clone はテンソルのディープコピーを作成
func (t Tensor) Clone() Tensor {
	c := Tensor{
		Name:      t.Name,
		Shape:     make([]int, len(t.Shape)),
		Data:      make([]float64, len(t.Data)),
		Trainable: t.Trainable,
	}
	copy(c.Shape, t.Shape)
	copy(c.Data, t.Data)
	return c
}

// Tensors はモデル1つ分の重みリスト
type Tensors []Tensor

// Clone はリスト全体のディープコピーを作成
func (ts Tensors) Clone() Tensors {
	if ts == nil {
		return nil
	}
	out := make(Tensors, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}

// Equal は形状が一致し、全要素の差が tol 以下かどうかを返す
func (ts Tensors) Equal(other Tensors, tol float64) bool {
	if len(ts) != len(other) {
		return false
	}
	for i := range ts {
		a, b := ts[i], other[i]
		if a.Name != b.Name || len(a.Shape) != len(b.Shape) || len(a.Data) != len(b.Data) {
			return false
		}
		for j := range a.Shape {
			if a.Shape[j] != b.Shape[j] {
				return false
			}
		}
		for j := range a.Data {
			if math.Abs(a.Data[j]-b.Data[j]) > tol {
				return false
			}
		}
	}
	return true
}

// Validate はデータ長が形状と一致することを検証
func (ts Tensors) Validate() error {
	for _, t := range ts {
		if t.Name == "" {
			return fmt.Errorf("tensor name is required")
		}
		if len(t.Data) != t.Size() {
			return fmt.Errorf("tensor %s: %d values for shape %v", t.Name, len(t.Data), t.Shape)
		}
	}
	return nil
}

// Compatible は other と同じ名前・形状の並びかどうかを返す
func (ts Tensors) Compatible(other Tensors) bool {
	if len(ts) != len(other) {
		return false
	}
	for i := range ts {
		if ts[i].Name != other[i].Name || ts[i].Size() != other[i].Size() {
			return false
		}
	}
	return true
}
