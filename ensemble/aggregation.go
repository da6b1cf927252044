package ensemble

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Aggregation はメンバー出力の集約方法
type Aggregation int

const (
	// Mean はメンバー出力の単純平均（Vanilla, DeepEnsemble）
	Mean Aggregation = iota
	// LearnedWeighted は Combiner が学習した単体上の重みによる加重和
	LearnedWeighted
	// StochasticPass はドロップアウトを有効にした複数回のフォワードパスの平均
	StochasticPass
)

func (a Aggregation) String() string {
	switch a {
	case Mean:
		return "mean"
	case LearnedWeighted:
		return "learned_weighted"
	case StochasticPass:
		return "stochastic_pass"
	default:
		return "unknown"
	}
}

// rowMeans は (サンプル数, 列数) の積み重ね行列の行平均を返す
func rowMeans(stack *mat.Dense) []float64 {
	r, _ := stack.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = stat.Mean(stack.RawRowView(i), nil)
	}
	return out
}

// weightedRows は各行と weights の内積を返す
func weightedRows(stack *mat.Dense, weights []float64) []float64 {
	r, _ := stack.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(stack, mat.NewVecDense(len(weights), weights))
	return out.RawVector().Data
}

// columnsToDense はメンバーごとの予測列を (サンプル数, 列数) の行列に並べる
func columnsToDense(cols [][]float64) *mat.Dense {
	if len(cols) == 0 {
		return nil
	}
	rows := len(cols[0])
	m := mat.NewDense(rows, len(cols), nil)
	for j, col := range cols {
		m.SetCol(j, col)
	}
	return m
}
