package ensemble

import (
	"math"
	"math/rand"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/dataset"
	"github.com/malcleanse/malcleanse/nn"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

// CombinerFile は <arch>_weight_modular/ 内の結合器ファイル名
const CombinerFile = "weights.json"

// Combiner はメンバー出力を重み付きで結合するバイアスなしの全結合層 (n_members -> 1)。
// 重みは各更新の直後に softmax(w - max(w)) で単体上へ射影される。
type Combiner struct {
	weights []float64
	opt     *nn.Adam
}

type combinerFile struct {
	Weights   []float64          `json:"weights"`
	Optimizer *nn.OptimizerState `json:"optimizer,omitempty"`
}

// NewCombiner は glorot-uniform で初期化し、射影済みの Combiner を作成する
func NewCombiner(nMembers int, learningRate, clipValue float64, rng *rand.Rand) *Combiner {
	c := &Combiner{
		weights: nn.GlorotUniform([]int{nMembers, 1}, rng),
		opt:     nn.NewAdam(learningRate, clipValue),
	}
	c.project()
	return c
}

// Weights は単体上の重みのコピーを返す
func (c *Combiner) Weights() []float64 {
	return append([]float64(nil), c.weights...)
}

// Len は入力数（メンバー数）を返す
func (c *Combiner) Len() int { return len(c.weights) }

// project は重みを softmax(w - max(w)) に置き換える
func (c *Combiner) project() {
	copy(c.weights, errors.StableSoftmax(c.weights))
}

// Forward は積み重ねたメンバー予測 (サンプル数, n_members) の加重和を返す
func (c *Combiner) Forward(stack *mat.Dense) ([]float64, error) {
	if stack == nil || stack.IsEmpty() {
		return nil, errors.ErrEmptyData
	}
	if _, cols := stack.Dims(); cols != len(c.weights) {
		return nil, errors.NewDimensionError("Combiner.Forward", len(c.weights), cols, 1)
	}
	return weightedRows(stack, c.weights), nil
}

// TrainEpoch は積み重ね予測の Dataset で1エポック学習する
func (c *Combiner) TrainEpoch(train, val *dataset.Dataset, epoch int) (nn.History, error) {
	if train == nil || train.Len() == 0 {
		return nn.History{}, errors.ErrEmptyData
	}
	if train.Dim() != len(c.weights) {
		return nn.History{}, errors.NewDimensionError("Combiner.TrainEpoch", len(c.weights), train.Dim(), 1)
	}

	h := nn.History{Epoch: epoch}
	var lossSum, accSum float64
	for _, b := range train.Batches(epoch) {
		loss, acc, err := c.step(b)
		if err != nil {
			return nn.History{}, err
		}
		w := float64(len(b.Y))
		lossSum += loss * w
		accSum += acc * w
	}
	h.Loss = lossSum / float64(train.Len())
	h.Accuracy = accSum / float64(train.Len())

	if val != nil && val.Len() > 0 {
		out := weightedRows(val.X(), c.weights)
		labels := val.Labels()
		h.ValLoss = nn.BinaryCrossEntropy(labels, out)
		h.ValAccuracy = nn.BinaryAccuracy(labels, out)
		h.HasValidation = true
	}
	return h, nil
}

// step は1バッチ分の更新と射影を行う。出力は活性化なしの線形結合で、
// BCE はクリップ範囲内でのみ勾配を持つ。
func (c *Combiner) step(b dataset.Batch) (float64, float64, error) {
	const eps = 1e-7
	out := weightedRows(b.X, c.weights)
	loss := nn.BinaryCrossEntropy(b.Y, out)
	acc := nn.BinaryAccuracy(b.Y, out)

	n := float64(len(b.Y))
	grad := make([]float64, len(c.weights))
	for i, o := range out {
		if o <= eps || o >= 1-eps {
			continue
		}
		g := (-(b.Y[i] / o) + (1-b.Y[i])/(1-o)) / n
		row := b.X.RawRowView(i)
		for j := range grad {
			grad[j] += g * row[j]
		}
	}
	if err := c.opt.Step([][]float64{c.weights}, [][]float64{grad}); err != nil {
		return 0, 0, err
	}
	c.project()
	if math.IsNaN(loss) {
		return 0, 0, errors.NewNumericalInstabilityError("Combiner.step", c.weights, 0)
	}
	return loss, acc, nil
}

// Save は dir/weights.json に重みとオプティマイザ状態を書き出す
func (c *Combiner) Save(dir string) error {
	return model.SaveJSON(combinerFile{Weights: c.weights, Optimizer: c.opt.State()}, filepath.Join(dir, CombinerFile))
}

// LoadCombiner は dir/weights.json から Combiner を復元する
func LoadCombiner(dir string, learningRate, clipValue float64) (*Combiner, error) {
	var f combinerFile
	if err := model.LoadJSON(&f, filepath.Join(dir, CombinerFile), "combiner"); err != nil {
		return nil, err
	}
	if len(f.Weights) == 0 {
		return nil, errors.NewValueError("LoadCombiner", "combiner has no weights")
	}
	c := &Combiner{weights: f.Weights, opt: nn.NewAdam(learningRate, clipValue)}
	c.opt.SetState(f.Optimizer)
	return c, nil
}
