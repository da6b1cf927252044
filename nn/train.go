package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/dataset"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

// History は1エポック分の学習結果
type History struct {
	Epoch         int
	Loss          float64
	Accuracy      float64
	ValLoss       float64
	ValAccuracy   float64
	HasValidation bool
}

// BinaryCrossEntropy は確率 p に対する平均 BCE を返す（p は [eps, 1-eps] にクリップ）
func BinaryCrossEntropy(y, p []float64) float64 {
	const eps = 1e-7
	sum := 0.0
	for i := range y {
		q := errors.ClipValue(p[i], eps, 1-eps)
		sum += -(y[i]*math.Log(q) + (1-y[i])*math.Log(1-q))
	}
	return sum / float64(len(y))
}

// BinaryAccuracy は閾値 0.5 での正解率を返す
func BinaryAccuracy(y, p []float64) float64 {
	correct := 0
	for i := range y {
		pred := 0.0
		if p[i] > 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y))
}

// TrainEpoch はエポック区間 [epoch, epoch+1) の学習を行う。
// ネットワークの重みと opt の状態は更新される。
func TrainEpoch(net *Network, opt *Adam, train, val *dataset.Dataset, epoch int) (History, error) {
	if train == nil || train.Len() == 0 {
		return History{}, errors.ErrEmptyData
	}
	if train.Dim() != net.InputDim() {
		return History{}, errors.NewDimensionError("TrainEpoch", net.InputDim(), train.Dim(), 1)
	}

	h := History{Epoch: epoch}
	var lossSum, accSum float64
	for i, b := range train.Batches(epoch) {
		loss, acc, err := net.trainStep(opt, b)
		if err != nil {
			return History{}, err
		}
		if err := errors.CheckScalar("loss_calculation", loss, i); err != nil {
			return History{}, err
		}
		w := float64(len(b.Y))
		lossSum += loss * w
		accSum += acc * w
	}
	h.Loss = lossSum / float64(train.Len())
	h.Accuracy = accSum / float64(train.Len())

	if val != nil && val.Len() > 0 {
		probs, err := net.Predict(val.X())
		if err != nil {
			return History{}, err
		}
		labels := val.Labels()
		h.ValLoss = BinaryCrossEntropy(labels, probs)
		h.ValAccuracy = BinaryAccuracy(labels, probs)
		h.HasValidation = true
	}
	return h, nil
}

// trainStep はドロップアウト付きで1バッチ分の勾配降下を行い、更新前の損失と正解率を返す
func (n *Network) trainStep(opt *Adam, b dataset.Batch) (float64, float64, error) {
	p := n.forward(b.X, n.rng)
	loss := BinaryCrossEntropy(b.Y, p.out)
	acc := BinaryAccuracy(b.Y, p.out)

	grads, _ := n.backward(p, b.Y, 1/float64(len(b.Y)), false)
	flat := make([][]float64, 0, 2*len(grads))
	for i, g := range grads {
		kg := g.kernel.RawMatrix().Data
		if n.cfg.Variant == Bayesian && n.cfg.KLScaler > 0 {
			loss += n.klPenalty(i)
			kd := n.layers[i].kernel.RawMatrix().Data
			for j := range kg {
				kg[j] += n.cfg.KLScaler * kd[j]
			}
		}
		flat = append(flat, kg, g.bias)
	}
	if err := opt.Step(n.params(), flat); err != nil {
		return 0, 0, err
	}
	return loss, acc, nil
}

// klPenalty は標準正規事前分布に対するKL項の近似 scaler * 0.5 * ||W||^2
func (n *Network) klPenalty(layer int) float64 {
	kd := n.layers[layer].kernel.RawMatrix().Data
	return n.cfg.KLScaler * 0.5 * mat.Dot(mat.NewVecDense(len(kd), kd), mat.NewVecDense(len(kd), kd))
}
