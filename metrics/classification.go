// Package metrics は二値分類（benign=0 / malware=1）の評価指標を提供します。
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// checkPair は2つのベクトルが空でなく、長さが一致することを確認する
func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func checkBinary(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, "labels must be 0 or 1")
		}
	}
	return nil
}

// Accuracy は正解率を計算する（多クラスラベルも可）
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率 1 - Accuracy を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// Confusion は二値分類の混同行列
type Confusion struct {
	TN, FP, FN, TP int
}

// ConfusionMatrix は二値ラベルの混同行列を計算する
func ConfusionMatrix(yTrue, yPred *mat.VecDense) (Confusion, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return Confusion{}, err
	}
	if err := checkBinary("ConfusionMatrix", yTrue); err != nil {
		return Confusion{}, err
	}
	if err := checkBinary("ConfusionMatrix", yPred); err != nil {
		return Confusion{}, err
	}
	var c Confusion
	for i := 0; i < n; i++ {
		switch t, p := yTrue.AtVec(i), yPred.AtVec(i); {
		case t == 0 && p == 0:
			c.TN++
		case t == 0 && p == 1:
			c.FP++
		case t == 1 && p == 0:
			c.FN++
		default:
			c.TP++
		}
	}
	return c, nil
}

// IsSingleClass は正解ラベルが単一クラスのみかどうかを返す
func IsSingleClass(yTrue *mat.VecDense) bool {
	if yTrue == nil || yTrue.Len() == 0 {
		return false
	}
	first := yTrue.AtVec(0)
	for i := 1; i < yTrue.Len(); i++ {
		if yTrue.AtVec(i) != first {
			return false
		}
	}
	return true
}

// BalancedAccuracy は各クラスの再現率の平均を計算する。
// 単一クラスの場合は存在するクラスの再現率のみを平均する。
func BalancedAccuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	c, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	var recalls []float64
	if c.TP+c.FN > 0 {
		recalls = append(recalls, float64(c.TP)/float64(c.TP+c.FN))
	}
	if c.TN+c.FP > 0 {
		recalls = append(recalls, float64(c.TN)/float64(c.TN+c.FP))
	}
	sum := 0.0
	for _, r := range recalls {
		sum += r
	}
	return sum / float64(len(recalls)), nil
}

// FPR は偽陽性率 FP / (TN + FP) を計算する。負例がない場合は ErrSingleClass。
func FPR(yTrue, yPred *mat.VecDense) (float64, error) {
	c, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if c.TN+c.FP == 0 {
		return 0, errors.Wrap(errors.ErrSingleClass, "FPR")
	}
	return float64(c.FP) / float64(c.TN+c.FP), nil
}

// FNR は偽陰性率 FN / (TP + FN) を計算する。正例がない場合は ErrSingleClass。
func FNR(yTrue, yPred *mat.VecDense) (float64, error) {
	c, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if c.TP+c.FN == 0 {
		return 0, errors.Wrap(errors.ErrSingleClass, "FNR")
	}
	return float64(c.FN) / float64(c.TP+c.FN), nil
}

// F1Score は正例(malware)に対するF1値を計算する。
// 適合率・再現率がともに定義できない場合は 0 を返し、警告を出す。
func F1Score(yTrue, yPred *mat.VecDense) (float64, error) {
	c, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	denom := 2*c.TP + c.FP + c.FN
	if denom == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("F1Score", "no positive samples in either labels or predictions", 0))
		return 0, nil
	}
	return float64(2*c.TP) / float64(denom), nil
}

// AUC はROC曲線下面積を計算する。同順位は 0.5 として数える。
// 正解ラベルが単一クラスの場合、AUCは定義できないため 0.5 を返す。
func AUC(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	type scored struct {
		score float64
		label float64
	}
	items := make([]scored, n)
	nPos := 0
	for i := 0; i < n; i++ {
		items[i] = scored{yPred.AtVec(i), yTrue.AtVec(i)}
		if items[i].label == 1 {
			nPos++
		}
	}
	nNeg := n - nPos
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("AUC", "only one class present in y_true", 0.5))
		return 0.5, nil
	}

	// 順位和（Mann-Whitney U）による計算
	sort.Slice(items, func(i, j int) bool { return items[i].score < items[j].score })
	rankSumPos := 0.0
	for i := 0; i < n; {
		j := i
		for j < n && items[j].score == items[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // 1始まりの平均順位
		for k := i; k < j; k++ {
			if items[k].label == 1 {
				rankSumPos += avgRank
			}
		}
		i = j
	}
	u := rankSumPos - float64(nPos*(nPos+1))/2
	return u / float64(nPos*nNeg), nil
}

// AUCMatrix は行列形式の入力に対してAUCを計算する（先頭列を使用）
func AUCMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError("AUCMatrix", "nil matrix")
	}
	if d, ok := yTrue.(*mat.Dense); ok && d.IsEmpty() {
		return 0, errors.NewValueError("AUCMatrix", "empty matrix")
	}
	if d, ok := yPred.(*mat.Dense); ok && d.IsEmpty() {
		return 0, errors.NewValueError("AUCMatrix", "empty matrix")
	}
	rTrue, _ := yTrue.Dims()
	rPred, _ := yPred.Dims()
	if rTrue != rPred {
		return 0, errors.NewDimensionError("AUCMatrix", rTrue, rPred, 0)
	}
	return AUC(firstColumn(yTrue), firstColumn(yPred))
}

func firstColumn(m mat.Matrix) *mat.VecDense {
	r, _ := m.Dims()
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v
}

// BinaryLogLoss は二値交差エントロピーを計算する。予測値は [1e-15, 1-1e-15] にクリップされる。
func BinaryLogLoss(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}
	const eps = 1e-15
	sum := 0.0
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yPred.AtVec(i), eps, 1-eps)
		y := yTrue.AtVec(i)
		sum += y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return -sum / float64(n), nil
}

// Threshold は確率を閾値で 0/1 ラベルに変換する（p >= threshold を malware とする）
func Threshold(probs []float64, threshold float64) *mat.VecDense {
	out := mat.NewVecDense(len(probs), nil)
	for i, p := range probs {
		if p >= threshold {
			out.SetVec(i, 1)
		}
	}
	return out
}

// Report は評価時にログ出力する指標のまとめ。
// SingleClass の場合、FNR/FPR/F1 は計算されない。
type Report struct {
	Accuracy         float64
	BalancedAccuracy float64
	FNR              float64
	FPR              float64
	F1               float64
	SingleClass      bool
}

// Evaluate は確率と正解ラベルから Report を作成する
func Evaluate(yTrue []float64, probs []float64, threshold float64) (Report, error) {
	if len(yTrue) == 0 {
		return Report{}, errors.NewValueError("Evaluate", "empty vector")
	}
	truth := mat.NewVecDense(len(yTrue), append([]float64(nil), yTrue...))
	if len(probs) != len(yTrue) {
		return Report{}, errors.NewDimensionError("Evaluate", len(yTrue), len(probs), 0)
	}
	pred := Threshold(probs, threshold)

	var r Report
	var err error
	if r.Accuracy, err = Accuracy(truth, pred); err != nil {
		return Report{}, err
	}
	if r.BalancedAccuracy, err = BalancedAccuracy(truth, pred); err != nil {
		return Report{}, err
	}
	if IsSingleClass(truth) {
		r.SingleClass = true
		errors.Warn(errors.NewUndefinedMetricWarning("FNR/FPR/F1", "single class labels", math.NaN()))
		return r, nil
	}
	if r.FNR, err = FNR(truth, pred); err != nil {
		return Report{}, err
	}
	if r.FPR, err = FPR(truth, pred); err != nil {
		return Report{}, err
	}
	if r.F1, err = F1Score(truth, pred); err != nil {
		return Report{}, err
	}
	return r, nil
}
