package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// vec は空スライスを nil ベクトルとして扱う
func vec(v []float64) *mat.VecDense {
	if len(v) == 0 {
		return nil
	}
	return mat.NewVecDense(len(v), v)
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{"perfect", []float64{0, 0, 0, 1, 1, 1}, []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9}, 1.0, false},
		{"inverted", []float64{0, 0, 0, 1, 1, 1}, []float64{0.9, 0.8, 0.7, 0.3, 0.2, 0.1}, 0.0, false},
		{"all ties", []float64{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5, false},
		{"typical", []float64{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8}, 0.75, false},
		{"malware only", []float64{1, 1, 1}, []float64{0.1, 0.4, 0.8}, 0.5, false},
		{"benign only", []float64{0, 0, 0}, []float64{0.1, 0.4, 0.8}, 0.5, false},
		{"non-binary labels", []float64{0, 0.5, 1}, []float64{0.1, 0.5, 0.9}, 0, true},
		{"length mismatch", []float64{0, 1}, []float64{0.5}, 0, true},
		{"empty", nil, nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(vec(tt.yTrue), vec(tt.yPred))
			if (err != nil) != tt.wantErr {
				t.Fatalf("AUC() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AUC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAUCMatrix(t *testing.T) {
	// アンサンブルの予測は (n, 1) 行列で返る
	got, err := AUCMatrix(
		mat.NewDense(4, 2, []float64{0, 9, 0, 9, 1, 9, 1, 9}),
		mat.NewDense(4, 1, []float64{0.1, 0.4, 0.35, 0.8}),
	)
	if err != nil || math.Abs(got-0.75) > 1e-9 {
		t.Errorf("AUCMatrix() = %v, %v", got, err)
	}

	if _, err := AUCMatrix(nil, mat.NewDense(1, 1, nil)); err == nil {
		t.Error("nil matrix should fail")
	}
	if _, err := AUCMatrix(&mat.Dense{}, &mat.Dense{}); err == nil {
		t.Error("empty matrix should fail")
	}
	if _, err := AUCMatrix(mat.NewDense(2, 1, nil), mat.NewDense(3, 1, nil)); err == nil {
		t.Error("row mismatch should fail")
	}
}

func TestBinaryLogLoss(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []float64
		yPred []float64
		want  float64
	}{
		{"clipped perfect", []float64{0, 1}, []float64{0, 1}, 0},
		{"typical", []float64{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 0.164252},
		{"confidently wrong", []float64{0, 0, 1, 1}, []float64{0.9, 0.9, 0.1, 0.1}, 2.302585},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BinaryLogLoss(vec(tt.yTrue), vec(tt.yPred))
			if err != nil {
				t.Fatal(err)
			}
			if math.IsInf(got, 0) || math.Abs(got-tt.want) > 1e-5 {
				t.Errorf("BinaryLogLoss() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := BinaryLogLoss(vec([]float64{0, 2}), vec([]float64{0.1, 0.2})); err == nil {
		t.Error("non-binary labels should fail")
	}
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{"perfect", []float64{0, 1, 1, 0}, []float64{0, 1, 1, 0}, 1, false},
		{"one miss", []float64{0, 1, 1, 1, 0}, []float64{0, 1, 0, 1, 0}, 0.8, false},
		{"all wrong", []float64{0, 0, 0}, []float64{1, 1, 1}, 0, false},
		{"empty", nil, nil, 0, true},
		{"length mismatch", []float64{0, 1}, []float64{0}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := Accuracy(vec(tt.yTrue), vec(tt.yPred))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Accuracy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if math.Abs(acc-tt.want) > 1e-9 {
				t.Errorf("Accuracy() = %v, want %v", acc, tt.want)
			}
			ce, _ := ClassificationError(vec(tt.yTrue), vec(tt.yPred))
			if math.Abs(ce-(1-tt.want)) > 1e-9 {
				t.Errorf("ClassificationError() = %v, want %v", ce, 1-tt.want)
			}
		})
	}
}

func TestConfusionRates(t *testing.T) {
	yTrue := vec([]float64{0, 0, 0, 0, 1, 1, 1, 1})
	yPred := vec([]float64{0, 0, 0, 1, 1, 1, 0, 0})

	c, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		t.Fatal(err)
	}
	if c != (Confusion{TN: 3, FP: 1, FN: 2, TP: 2}) {
		t.Errorf("ConfusionMatrix() = %+v", c)
	}

	checks := []struct {
		name string
		fn   func(a, b *mat.VecDense) (float64, error)
		want float64
	}{
		{"FPR", FPR, 0.25},
		{"FNR", FNR, 0.5},
		{"F1", F1Score, 4.0 / 7.0},
		{"BalancedAccuracy", BalancedAccuracy, (0.75 + 0.5) / 2},
	}
	for _, ck := range checks {
		got, err := ck.fn(yTrue, yPred)
		if err != nil {
			t.Errorf("%s: %v", ck.name, err)
			continue
		}
		if math.Abs(got-ck.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", ck.name, got, ck.want)
		}
	}

	if _, err := ConfusionMatrix(yTrue, vec([]float64{0, 0, 0, 0, 1, 1, 1, 0.5})); err == nil {
		t.Error("non-binary predictions should fail")
	}
}

func TestSingleClassRates(t *testing.T) {
	malware := vec([]float64{1, 1, 1, 1})
	pred := vec([]float64{1, 0, 1, 1})

	if !IsSingleClass(malware) || IsSingleClass(vec([]float64{0, 1})) || IsSingleClass(nil) {
		t.Error("IsSingleClass mismatch")
	}
	if _, err := FPR(malware, pred); !errors.Is(err, errors.ErrSingleClass) {
		t.Errorf("FPR on malware-only labels: %v", err)
	}
	if fnr, err := FNR(malware, pred); err != nil || fnr != 0.25 {
		t.Errorf("FNR = %v, %v", fnr, err)
	}
	if _, err := FNR(vec([]float64{0, 0}), vec([]float64{0, 1})); !errors.Is(err, errors.ErrSingleClass) {
		t.Errorf("FNR on benign-only labels: %v", err)
	}
	// 存在するクラスの再現率だけを平均する
	if ba, err := BalancedAccuracy(malware, pred); err != nil || ba != 0.75 {
		t.Errorf("BalancedAccuracy = %v, %v", ba, err)
	}
	// 正例が一つもなければ F1 は 0
	if f1, err := F1Score(vec([]float64{0, 0}), vec([]float64{0, 0})); err != nil || f1 != 0 {
		t.Errorf("F1Score = %v, %v", f1, err)
	}
}

func TestThreshold(t *testing.T) {
	got := Threshold([]float64{0.2, 0.5, 0.7, 0.49}, 0.5)
	want := []float64{0, 1, 1, 0}
	for i, w := range want {
		if got.AtVec(i) != w {
			t.Errorf("Threshold()[%d] = %v, want %v", i, got.AtVec(i), w)
		}
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		yTrue  []float64
		probs  []float64
		want   Report
		wantOK bool
	}{
		{
			name:   "mixed",
			yTrue:  []float64{0, 0, 1, 1},
			probs:  []float64{0.1, 0.6, 0.8, 0.3},
			want:   Report{Accuracy: 0.5, BalancedAccuracy: 0.5, FNR: 0.5, FPR: 0.5, F1: 0.5},
			wantOK: true,
		},
		{
			name:   "malware family only",
			yTrue:  []float64{1, 1, 1, 1},
			probs:  []float64{0.9, 0.8, 0.4, 0.7},
			want:   Report{Accuracy: 0.75, BalancedAccuracy: 0.75, SingleClass: true},
			wantOK: true,
		},
		{name: "empty", wantOK: false},
		{name: "length mismatch", yTrue: []float64{0, 1}, probs: []float64{0.5}, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.yTrue, tt.probs, 0.5)
			if (err == nil) != tt.wantOK {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if !tt.wantOK {
				return
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func BenchmarkAUC(b *testing.B) {
	n := 1000
	yTrue := mat.NewVecDense(n, nil)
	yPred := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yTrue.SetVec(i, float64(i%2))
		yPred.SetVec(i, float64(i)/float64(n))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = AUC(yTrue, yPred)
	}
}
