package ensemble

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/dataset"
)

func assertSimplex(t *testing.T, w []float64, when string) {
	t.Helper()
	sum := 0.0
	for i, v := range w {
		if v < 0 {
			t.Fatalf("%s: weight %d = %v is negative", when, i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("%s: weights sum to %v", when, sum)
	}
}

// stackedData は3メンバー分の予測を模した行列。列0が最も正確。
func stackedData(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	x := mat.NewDense(n, 3, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		y[i] = float64(i % 2)
		x.Set(i, 0, 0.1+0.8*y[i])
		x.Set(i, 1, rng.Float64())
		x.Set(i, 2, 0.5)
	}
	ds, err := dataset.New(x, y, dataset.WithBatchSize(4), dataset.WithShuffle(true), dataset.WithSeed(1))
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestCombinerSimplexAfterEveryStep(t *testing.T) {
	c := NewCombiner(3, 0.05, 100, rand.New(rand.NewSource(0)))
	assertSimplex(t, c.Weights(), "init")

	ds := stackedData(t, 40)
	for epoch := 0; epoch < 5; epoch++ {
		for i, b := range ds.Batches(epoch) {
			if _, _, err := c.step(b); err != nil {
				t.Fatal(err)
			}
			assertSimplex(t, c.Weights(), fmt.Sprintf("epoch %d step %d", epoch, i))
		}
	}
	w := c.Weights()
	if w[0] <= w[2] {
		t.Errorf("accurate member should gain weight over the constant one: %v", w)
	}
}

func TestCombinerTrainEpoch(t *testing.T) {
	c := NewCombiner(3, 0.01, 100, rand.New(rand.NewSource(0)))
	ds := stackedData(t, 20)
	h, err := c.TrainEpoch(ds, ds, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !h.HasValidation || h.Loss <= 0 {
		t.Errorf("history = %+v", h)
	}

	bad, _ := dataset.New(mat.NewDense(2, 2, []float64{0, 1, 1, 0}), []float64{0, 1})
	if _, err := c.TrainEpoch(bad, nil, 0); err == nil {
		t.Error("width mismatch should fail")
	}
}

func TestCombinerForwardAndPersistence(t *testing.T) {
	c := NewCombiner(2, 0.01, 100, rand.New(rand.NewSource(4)))
	stack := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	out, err := c.Forward(stack)
	if err != nil {
		t.Fatal(err)
	}
	w := c.Weights()
	if math.Abs(out[0]-w[0]) > 1e-12 || math.Abs(out[1]-w[1]) > 1e-12 {
		t.Errorf("Forward = %v, weights %v", out, w)
	}
	if _, err := c.Forward(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("column mismatch should fail")
	}

	dir := t.TempDir()
	if err := c.Save(dir); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadCombiner(dir, 0.01, 100)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range loaded.Weights() {
		if v != w[i] {
			t.Errorf("weight %d = %v, want %v", i, v, w[i])
		}
	}
	if _, err := LoadCombiner(t.TempDir(), 0.01, 100); err == nil {
		t.Error("missing combiner should fail")
	}
}
