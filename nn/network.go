package nn

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/core/parallel"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

// parallelThreshold 以下の行数では推論を逐次実行する
const parallelThreshold = 256

type dense struct {
	name   string
	kernel *mat.Dense // (in, out)
	bias   []float64
	relu   bool
}

// Network は全結合の二値分類ネットワーク
type Network struct {
	cfg    Config
	layers []*dense
	rng    *rand.Rand
}

func layerName(i int) string {
	if i == 0 {
		return "dense"
	}
	return fmt.Sprintf("dense_%d", i)
}

func buildDNN(cfg Config) (*Network, error) {
	n := &Network{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	in := cfg.InputDim
	widths := append(append([]int(nil), cfg.HiddenUnits...), 1)
	for i, out := range widths {
		shape := []int{in, out}
		n.layers = append(n.layers, &dense{
			name:   layerName(i),
			kernel: mat.NewDense(in, out, GlorotUniform(shape, n.rng)),
			bias:   make([]float64, out),
			relu:   i < len(widths)-1,
		})
		in = out
	}
	return n, nil
}

// Config はネットワークの構成を返す
func (n *Network) Config() Config {
	cfg := n.cfg
	cfg.HiddenUnits = append([]int(nil), n.cfg.HiddenUnits...)
	return cfg
}

// InputDim は入力次元を返す
func (n *Network) InputDim() int { return n.cfg.InputDim }

// Weights は全テンソルのコピーを層順に返す
func (n *Network) Weights() model.Tensors {
	ts := make(model.Tensors, 0, 2*len(n.layers))
	for _, l := range n.layers {
		r, c := l.kernel.Dims()
		ts = append(ts,
			model.Tensor{Name: l.name + "/kernel", Shape: []int{r, c}, Data: append([]float64(nil), l.kernel.RawMatrix().Data...), Trainable: true},
			model.Tensor{Name: l.name + "/bias", Shape: []int{c}, Data: append([]float64(nil), l.bias...), Trainable: true},
		)
	}
	return ts
}

// SetWeights はテンソルを差し替える。名前と形状が一致しなければエラー。
func (n *Network) SetWeights(ts model.Tensors) error {
	current := n.Weights()
	if !current.Compatible(ts) {
		return errors.NewValueError("SetWeights", fmt.Sprintf("weights do not match the %s template (%d tensors expected, got %d)", n.cfg.Architecture, len(current), len(ts)))
	}
	for i, l := range n.layers {
		copy(l.kernel.RawMatrix().Data, ts[2*i].Data)
		copy(l.bias, ts[2*i+1].Data)
	}
	return nil
}

// Reinitialize は学習可能なテンソルを初期化し直す。再帰カーネルは直交初期化、
// それ以外（バイアスを含む）は glorot-uniform。学習不可のテンソルは保持する。
func (n *Network) Reinitialize(rng *rand.Rand) {
	if rng == nil {
		rng = n.rng
	}
	ts := n.Weights()
	for i, t := range ts {
		if !t.Trainable {
			continue
		}
		if strings.Contains(t.Name, "/recurrent_kernel") {
			ts[i].Data = Orthogonal(t.Shape, rng)
		} else {
			ts[i].Data = GlorotUniform(t.Shape, rng)
		}
	}
	// 形状は自身から取っているので失敗しない
	_ = n.SetWeights(ts)
}

type forwardPass struct {
	inputs []mat.Matrix
	pre    []*mat.Dense
	masks  []*mat.Dense
	out    []float64
}

// forward は rng が nil でなければドロップアウトを適用する
func (n *Network) forward(x mat.Matrix, rng *rand.Rand) *forwardPass {
	p := &forwardPass{}
	a := x
	rows, _ := x.Dims()
	for _, l := range n.layers {
		_, c := l.kernel.Dims()
		z := mat.NewDense(rows, c, nil)
		z.Mul(a, l.kernel)
		raw := z.RawMatrix()
		for r := 0; r < rows; r++ {
			row := raw.Data[r*raw.Stride : r*raw.Stride+c]
			for j := range row {
				row[j] += l.bias[j]
			}
		}
		p.inputs = append(p.inputs, a)
		p.pre = append(p.pre, z)

		if !l.relu {
			p.out = make([]float64, rows)
			for r := range p.out {
				p.out[r] = sigmoid(z.At(r, 0))
			}
			break
		}

		act := mat.NewDense(rows, c, nil)
		act.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
		var mask *mat.Dense
		if rng != nil && n.cfg.DropoutRate > 0 {
			keep := 1 - n.cfg.DropoutRate
			mask = mat.NewDense(rows, c, nil)
			md := mask.RawMatrix().Data
			for k := range md {
				if rng.Float64() < keep {
					md[k] = 1 / keep
				}
			}
			act.MulElem(act, mask)
		}
		p.masks = append(p.masks, mask)
		a = act
	}
	return p
}

type layerGrad struct {
	kernel *mat.Dense
	bias   []float64
}

// backward は dL/dz_out = (p - y) * scale から各層の勾配を求める。
// wantInput が true なら入力に対する勾配も返す。
func (n *Network) backward(p *forwardPass, y []float64, scale float64, wantInput bool) ([]layerGrad, *mat.Dense) {
	rows := len(p.out)
	dz := mat.NewDense(rows, 1, nil)
	for i := range p.out {
		dz.Set(i, 0, (p.out[i]-y[i])*scale)
	}

	grads := make([]layerGrad, len(n.layers))
	var dx *mat.Dense
	for li := len(n.layers) - 1; li >= 0; li-- {
		l := n.layers[li]
		kr, kc := l.kernel.Dims()

		gw := mat.NewDense(kr, kc, nil)
		gw.Mul(p.inputs[li].T(), dz)
		gb := make([]float64, kc)
		for r := 0; r < rows; r++ {
			for j := 0; j < kc; j++ {
				gb[j] += dz.At(r, j)
			}
		}
		grads[li] = layerGrad{kernel: gw, bias: gb}

		if li == 0 && !wantInput {
			break
		}
		da := mat.NewDense(rows, kr, nil)
		da.Mul(dz, l.kernel.T())
		if li == 0 {
			dx = da
			break
		}
		pre, mask := p.pre[li-1], p.masks[li-1]
		da.Apply(func(i, j int, v float64) float64 {
			if pre.At(i, j) <= 0 {
				return 0
			}
			if mask != nil {
				return v * mask.At(i, j)
			}
			return v
		}, da)
		dz = da
	}
	return grads, dx
}

func (n *Network) params() [][]float64 {
	ps := make([][]float64, 0, 2*len(n.layers))
	for _, l := range n.layers {
		ps = append(ps, l.kernel.RawMatrix().Data, l.bias)
	}
	return ps
}

func (n *Network) checkInput(op string, x mat.Matrix) error {
	if x == nil {
		return errors.ErrEmptyData
	}
	r, c := x.Dims()
	if r == 0 {
		return errors.ErrEmptyData
	}
	if c != n.cfg.InputDim {
		return errors.NewDimensionError(op, n.cfg.InputDim, c, 1)
	}
	return nil
}

// Predict はドロップアウトなしで各行の malware 確率を返す
func (n *Network) Predict(x mat.Matrix) ([]float64, error) {
	if err := n.checkInput("Predict", x); err != nil {
		return nil, err
	}
	xd := asDense(x)
	rows, cols := xd.Dims()
	out := make([]float64, rows)
	parallel.ParallelizeWithThreshold(rows, parallelThreshold, func(start, end int) {
		p := n.forward(xd.Slice(start, end, 0, cols), nil)
		copy(out[start:end], p.out)
	})
	return out, nil
}

// PredictStochastic はドロップアウトを有効にした1回のフォワードパスの結果を返す
func (n *Network) PredictStochastic(x mat.Matrix, rng *rand.Rand) ([]float64, error) {
	if err := n.checkInput("PredictStochastic", x); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = n.rng
	}
	return n.forward(x, rng).out, nil
}

// InputGradient は BCE 損失の入力に対する勾配を返す（サンプルごと、平均しない）
func (n *Network) InputGradient(x mat.Matrix, y []float64) (*mat.Dense, error) {
	if err := n.checkInput("InputGradient", x); err != nil {
		return nil, err
	}
	if r, _ := x.Dims(); r != len(y) {
		return nil, errors.NewDimensionError("InputGradient", r, len(y), 0)
	}
	p := n.forward(x, nil)
	_, dx := n.backward(p, y, 1, true)
	return dx, nil
}

func asDense(x mat.Matrix) *mat.Dense {
	if d, ok := x.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(x)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
