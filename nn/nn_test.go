package nn

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/dataset"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

func smallConfig(inputDim int) Config {
	cfg := DefaultConfig(inputDim)
	cfg.HiddenUnits = []int{8}
	cfg.DropoutRate = 0
	cfg.Seed = 42
	return cfg
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		param string
	}{
		{"missing input dim", DefaultConfig(0), "input_dim"},
		{"unknown architecture", func() Config { c := DefaultConfig(4); c.Architecture = "lstm"; return c }(), "architecture"},
		{"bad dropout", func() Config { c := DefaultConfig(4); c.DropoutRate = 1; return c }(), "dropout_rate"},
		{"bad variant", func() Config { c := DefaultConfig(4); c.Variant = "x"; return c }(), "variant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.cfg)
			var ce *errors.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if ce.Param != tt.param {
				t.Errorf("Param = %s, want %s", ce.Param, tt.param)
			}
		})
	}

	found := false
	for _, a := range Architectures() {
		if a == "dnn" {
			found = true
		}
	}
	if !found {
		t.Error("dnn should be registered")
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	a, err := Build(smallConfig(3))
	if err != nil {
		t.Fatal(err)
	}
	cfgB := smallConfig(3)
	cfgB.Seed = 7
	b, _ := Build(cfgB)

	if a.Weights().Equal(b.Weights(), 0) {
		t.Fatal("different seeds should give different initial weights")
	}
	if err := b.SetWeights(a.Weights()); err != nil {
		t.Fatal(err)
	}
	if !a.Weights().Equal(b.Weights(), 0) {
		t.Error("SetWeights should copy every tensor")
	}

	names := []string{"dense/kernel", "dense/bias", "dense_1/kernel", "dense_1/bias"}
	for i, ts := range a.Weights() {
		if ts.Name != names[i] {
			t.Errorf("tensor %d name = %s, want %s", i, ts.Name, names[i])
		}
	}

	other, _ := Build(smallConfig(5))
	if err := a.SetWeights(other.Weights()); err == nil {
		t.Error("incompatible weights should be rejected")
	}
}

func TestReinitialize(t *testing.T) {
	net, _ := Build(smallConfig(3))
	before := net.Weights()
	net.Reinitialize(rand.New(rand.NewSource(1)))
	after := net.Weights()

	if before.Equal(after, 0) {
		t.Error("Reinitialize should change the weights")
	}
	if !before.Compatible(after) {
		t.Error("Reinitialize must keep shapes")
	}
	// バイアスも glorot-uniform で初期化される
	bias := after[1].Data
	nonZero := false
	for _, v := range bias {
		if v != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Error("bias should be reinitialized")
	}
}

func TestOrthogonal(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, shape := range [][]int{{4, 4}, {5, 3}, {3, 5}} {
		data := Orthogonal(shape, rng)
		q := mat.NewDense(shape[0], shape[1], data)

		var g mat.Dense
		if shape[0] >= shape[1] {
			g.Mul(q.T(), q)
		} else {
			g.Mul(q, q.T())
		}
		n, _ := g.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				if math.Abs(g.At(i, j)-want) > 1e-9 {
					t.Fatalf("shape %v: gram[%d][%d] = %v", shape, i, j, g.At(i, j))
				}
			}
		}
	}
}

func TestInputGradientMatchesFiniteDifference(t *testing.T) {
	net, _ := Build(smallConfig(3))
	x := mat.NewDense(1, 3, []float64{0.3, -0.2, 0.5})
	y := []float64{1}

	grad, err := net.InputGradient(x, y)
	if err != nil {
		t.Fatal(err)
	}

	loss := func(v []float64) float64 {
		p, _ := net.Predict(mat.NewDense(1, 3, v))
		return BinaryCrossEntropy(y, p)
	}
	const h = 1e-5
	for j := 0; j < 3; j++ {
		plus := []float64{0.3, -0.2, 0.5}
		minus := []float64{0.3, -0.2, 0.5}
		plus[j] += h
		minus[j] -= h
		numeric := (loss(plus) - loss(minus)) / (2 * h)
		if math.Abs(numeric-grad.At(0, j)) > 1e-5 {
			t.Errorf("d/dx%d = %v, finite difference %v", j, grad.At(0, j), numeric)
		}
	}
}

func TestTrainEpochLearnsSeparableData(t *testing.T) {
	n := 64
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < n; i++ {
		sign := 1.0
		if i%2 == 0 {
			sign = -1
		}
		x.Set(i, 0, sign*(0.5+rng.Float64()))
		x.Set(i, 1, rng.Float64()-0.5)
		if sign > 0 {
			y[i] = 1
		}
	}
	train, err := dataset.New(x, y, dataset.WithBatchSize(8), dataset.WithShuffle(true), dataset.WithSeed(1))
	if err != nil {
		t.Fatal(err)
	}

	net, _ := Build(smallConfig(2))
	opt := NewAdam(0.05, 100)

	var first, last History
	for epoch := 0; epoch < 20; epoch++ {
		h, err := TrainEpoch(net, opt, train, train, epoch)
		if err != nil {
			t.Fatalf("epoch %d: %v", epoch, err)
		}
		if epoch == 0 {
			first = h
		}
		last = h
	}
	if !last.HasValidation {
		t.Fatal("validation metrics should be reported")
	}
	if last.Loss >= first.Loss {
		t.Errorf("loss did not decrease: %v -> %v", first.Loss, last.Loss)
	}
	if last.ValAccuracy < 0.95 {
		t.Errorf("val accuracy = %v, want >= 0.95", last.ValAccuracy)
	}
	if st := opt.State(); st == nil || st.Step != 20*8 {
		t.Errorf("optimizer should have taken 160 steps, state = %+v", st)
	}
}

func TestTrainEpochDimensionMismatch(t *testing.T) {
	net, _ := Build(smallConfig(3))
	train, _ := dataset.New(mat.NewDense(2, 2, nil), []float64{0, 1})
	_, err := TrainEpoch(net, NewAdam(0.001, 100), train, nil, 0)
	var de *errors.DimensionError
	if !errors.As(err, &de) {
		t.Errorf("expected DimensionError, got %v", err)
	}
}

func TestAdamState(t *testing.T) {
	opt := NewAdam(0.1, 1)
	if opt.State() != nil {
		t.Fatal("fresh optimizer has no state")
	}
	p := [][]float64{{1, 2}}
	if err := opt.Step(p, [][]float64{{1000, -1000}}); err != nil {
		t.Fatal(err)
	}
	st := opt.State()
	if st.Step != 1 || math.Abs(st.M[0][0]-0.1) > 1e-12 {
		t.Errorf("gradient should be clipped to 1 before the moment update, M = %v", st.M)
	}
	st.M[0][0] = 99
	if opt.State().M[0][0] == 99 {
		t.Error("State must return a copy")
	}

	opt.SetState(nil)
	if opt.State() != nil {
		t.Error("SetState(nil) should reset")
	}
}

func TestPredictStochastic(t *testing.T) {
	cfg := DefaultConfig(4)
	cfg.HiddenUnits = []int{16}
	cfg.Variant = MCDropout
	cfg.DropoutRate = 0.5
	net, _ := Build(cfg)
	x := mat.NewDense(3, 4, []float64{1, 0, 1, 0, 0, 1, 0, 1, 1, 1, 1, 1})

	a, _ := net.PredictStochastic(x, rand.New(rand.NewSource(9)))
	b, _ := net.PredictStochastic(x, rand.New(rand.NewSource(9)))
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same seed should give the same stochastic pass")
		}
	}
	if !cfg.Stochastic() {
		t.Error("mc_dropout is stochastic")
	}

	if _, err := net.Predict(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("Predict should check the input width")
	}
}

func TestConfigPersistence(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(10)
	cfg.Variant = Bayesian
	cfg.KLScaler = 1.0 / 50000

	if err := SaveConfig(cfg, dir); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.InputDim != 10 || got.Variant != Bayesian || got.KLScaler != cfg.KLScaler {
		t.Errorf("LoadConfig = %+v", got)
	}

	_, err = LoadConfig(t.TempDir())
	var nf *errors.ArtifactNotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected ArtifactNotFoundError, got %v", err)
	}
}
