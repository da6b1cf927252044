package ensemble

import (
	"os"
	"testing"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/nn"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

func tensors(values ...float64) model.Tensors {
	return model.Tensors{{Name: "dense/kernel", Shape: []int{len(values)}, Data: values, Trainable: true}}
}

func TestWeightStoreUpdateOrAppend(t *testing.T) {
	s := NewWeightStore()
	for i := 0; i < 4; i++ {
		if err := s.UpdateOrAppend(i, tensors(float64(i)), nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := s.UpdateOrAppend(2, tensors(20), &nn.OptimizerState{Step: 5}); err != nil {
		t.Fatal(err)
	}

	if s.Count() != 4 {
		t.Fatalf("Count() = %d, want 4", s.Count())
	}
	want := []float64{0, 1, 20, 3}
	for i, v := range want {
		w, opt, err := s.Get(i)
		if err != nil {
			t.Fatal(err)
		}
		if w[0].Data[0] != v {
			t.Errorf("member %d = %v, want %v", i, w[0].Data[0], v)
		}
		if (i == 2) != (opt != nil) {
			t.Errorf("member %d optimizer state = %v", i, opt)
		}
	}
}

func TestWeightStoreRejectsGaps(t *testing.T) {
	s := NewWeightStore()
	_ = s.UpdateOrAppend(0, tensors(1), nil)

	for _, idx := range []int{2, 5, -1} {
		err := s.UpdateOrAppend(idx, tensors(1), nil)
		var oor *errors.OutOfRangeError
		if !errors.As(err, &oor) {
			t.Errorf("index %d: expected OutOfRangeError, got %v", idx, err)
		}
	}
	if s.Count() != 1 {
		t.Errorf("failed writes must not change Count(), got %d", s.Count())
	}

	_, _, err := s.Get(1)
	var nf *errors.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestWeightStoreCopies(t *testing.T) {
	s := NewWeightStore()
	w := tensors(1, 2)
	_ = s.UpdateOrAppend(0, w, nil)
	w[0].Data[0] = 100

	got, _, _ := s.Get(0)
	if got[0].Data[0] != 1 {
		t.Error("store must not alias the caller's tensors")
	}
	got[0].Data[1] = 100
	again, _, _ := s.Get(0)
	if again[0].Data[1] != 2 {
		t.Error("Get must return a copy")
	}
}

func TestWeightStoreTruncate(t *testing.T) {
	s := NewWeightStore()
	for i := 0; i < 5; i++ {
		_ = s.UpdateOrAppend(i, tensors(float64(i)), nil)
	}
	if removed := s.Truncate(2); removed != 3 {
		t.Errorf("Truncate removed %d, want 3", removed)
	}
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}
	if removed := s.Truncate(10); removed != 0 {
		t.Errorf("growing Truncate removed %d", removed)
	}
	if err := s.UpdateOrAppend(2, tensors(9), nil); err != nil {
		t.Errorf("append after truncate: %v", err)
	}
}

func TestWeightStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewWeightStore()
	_ = s.UpdateOrAppend(0, tensors(0.1, 0.2), &nn.OptimizerState{Step: 3, M: [][]float64{{1, 2}}, V: [][]float64{{3, 4}}})
	_ = s.UpdateOrAppend(1, tensors(0.3, 0.4), nil)

	if err := s.Save(dir, "dnn"); err != nil {
		t.Fatal(err)
	}

	loaded := NewWeightStore()
	if err := loaded.Load(dir, "dnn"); err != nil {
		t.Fatal(err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", loaded.Count())
	}
	for i := 0; i < 2; i++ {
		a, aopt, _ := s.Get(i)
		b, bopt, _ := loaded.Get(i)
		if !a.Equal(b, 0) {
			t.Errorf("member %d weights differ after round trip", i)
		}
		if (aopt == nil) != (bopt == nil) {
			t.Errorf("member %d optimizer presence differs", i)
		}
	}
	_, opt, _ := loaded.Get(0)
	if opt.Step != 3 || opt.V[0][1] != 4 {
		t.Errorf("optimizer state = %+v", opt)
	}
}

func TestWeightStoreMissingArtifacts(t *testing.T) {
	dir := t.TempDir()

	err := NewWeightStore().Load(dir, "dnn")
	var nf *errors.ArtifactNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ArtifactNotFoundError, got %v", err)
	}

	s := NewWeightStore()
	_ = s.UpdateOrAppend(0, tensors(1), &nn.OptimizerState{Step: 1})
	_ = s.UpdateOrAppend(1, tensors(2), &nn.OptimizerState{Step: 1})
	if err := s.Save(dir, "dnn"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(MetadataPath(dir, "dnn")); err != nil {
		t.Fatal(err)
	}

	loaded := NewWeightStore()
	if err := loaded.Load(dir, "dnn"); err != nil {
		t.Fatalf("missing metadata should be tolerated: %v", err)
	}
	for i := 0; i < loaded.Count(); i++ {
		if _, opt, _ := loaded.Get(i); opt != nil {
			t.Errorf("member %d optimizer state should be nil", i)
		}
	}
}
