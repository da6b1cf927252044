package nn

import (
	"math"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// OptimizerState は Adam のモーメント推定値。メンバーごとに保存される。
type OptimizerState struct {
	Step int
	M    [][]float64
	V    [][]float64
}

// Clone はディープコピーを返す
func (s *OptimizerState) Clone() *OptimizerState {
	if s == nil {
		return nil
	}
	c := &OptimizerState{Step: s.Step, M: make([][]float64, len(s.M)), V: make([][]float64, len(s.V))}
	for i := range s.M {
		c.M[i] = append([]float64(nil), s.M[i]...)
	}
	for i := range s.V {
		c.V[i] = append([]float64(nil), s.V[i]...)
	}
	return c
}

// Adam は勾配の要素ごとクリッピング付き Adam オプティマイザ
type Adam struct {
	LearningRate float64
	ClipValue    float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	state *OptimizerState
}

// NewAdam は既定のモーメント係数で Adam を作成する
func NewAdam(learningRate, clipValue float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		ClipValue:    clipValue,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// State は現在の状態のコピーを返す。一度も更新していなければ nil。
func (a *Adam) State() *OptimizerState {
	return a.state.Clone()
}

// SetState は保存済みの状態を復元する。nil は初期状態へのリセットを意味する。
func (a *Adam) SetState(s *OptimizerState) {
	a.state = s.Clone()
}

// Reset はモーメントを破棄する
func (a *Adam) Reset() {
	a.state = nil
}

// Step は params を grads で1ステップ更新する。grads はクリップされる。
func (a *Adam) Step(params, grads [][]float64) error {
	if len(params) != len(grads) {
		return errors.NewDimensionError("Adam.Step", len(params), len(grads), 0)
	}
	if a.state == nil || !a.matches(params) {
		a.state = &OptimizerState{M: make([][]float64, len(params)), V: make([][]float64, len(params))}
		for i, p := range params {
			a.state.M[i] = make([]float64, len(p))
			a.state.V[i] = make([]float64, len(p))
		}
	}

	a.state.Step++
	t := float64(a.state.Step)
	lrT := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for i, p := range params {
		g := grads[i]
		errors.ClipElements(g, a.ClipValue)
		m, v := a.state.M[i], a.state.V[i]
		for j := range p {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			p[j] -= lrT * m[j] / (math.Sqrt(v[j]) + a.Epsilon)
		}
	}
	return nil
}

func (a *Adam) matches(params [][]float64) bool {
	if len(a.state.M) != len(params) {
		return false
	}
	for i, p := range params {
		if len(a.state.M[i]) != len(p) {
			return false
		}
	}
	return true
}
