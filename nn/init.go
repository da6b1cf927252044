package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// fans は重み形状から fan_in / fan_out を求める
func fans(shape []int) (float64, float64) {
	switch len(shape) {
	case 0:
		return 1, 1
	case 1:
		return float64(shape[0]), float64(shape[0])
	case 2:
		return float64(shape[0]), float64(shape[1])
	default:
		receptive := 1
		for _, d := range shape[:len(shape)-2] {
			receptive *= d
		}
		return float64(shape[len(shape)-2] * receptive), float64(shape[len(shape)-1] * receptive)
	}
}

// GlorotUniform は U(-limit, limit), limit = sqrt(6 / (fan_in + fan_out)) で初期化した値を返す
func GlorotUniform(shape []int, rng *rand.Rand) []float64 {
	fanIn, fanOut := fans(shape)
	limit := math.Sqrt(6 / (fanIn + fanOut))
	out := make([]float64, sizeOf(shape))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * limit
	}
	return out
}

// Orthogonal は直交行列で初期化した値を返す（再帰カーネル用）。
// 形状は (prod(shape[:-1]), shape[-1]) の行列とみなす。
func Orthogonal(shape []int, rng *rand.Rand) []float64 {
	if len(shape) < 2 {
		return GlorotUniform(shape, rng)
	}
	rows := 1
	for _, d := range shape[:len(shape)-1] {
		rows *= d
	}
	cols := shape[len(shape)-1]
	m, k := max(rows, cols), min(rows, cols)

	normal := make([]float64, m*k)
	for i := range normal {
		normal[i] = rng.NormFloat64()
	}
	var qr mat.QR
	qr.Factorize(mat.NewDense(m, k, normal))
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	out := make([]float64, rows*cols)
	for i := 0; i < m; i++ {
		for j := 0; j < k; j++ {
			v := q.At(i, j)
			// QR分解の符号の任意性を取り除く
			if r.At(j, j) < 0 {
				v = -v
			}
			if rows >= cols {
				out[i*cols+j] = v
			} else {
				out[j*cols+i] = v
			}
		}
	}
	return out
}

func sizeOf(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
