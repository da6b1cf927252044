package errors

import (
	"errors"
	"testing"
)

// TestRecover_WithPanic tests the Recover function when a panic occurs
func TestRecover_WithPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "ExtractFeatures")
		panic("malformed manifest")
	}

	err := testFunc()
	if err == nil {
		t.Fatal("Expected error from recovered panic, got nil")
	}

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}
	if panicErr.Operation != "ExtractFeatures" {
		t.Errorf("Expected operation 'ExtractFeatures', got '%s'", panicErr.Operation)
	}
	if panicErr.StackTrace == "" {
		t.Error("Expected non-empty stack trace")
	}

	expectedMsg := "panic in ExtractFeatures: malformed manifest"
	if panicErr.Error() != expectedMsg {
		t.Errorf("Expected error message '%s', got '%s'", expectedMsg, panicErr.Error())
	}
}

// TestRecover_WithoutPanic tests the Recover function when no panic occurs
func TestRecover_WithoutPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "ExtractFeatures")
		return nil
	}

	if err := testFunc(); err != nil {
		t.Fatalf("Expected no error when no panic occurs, got: %v", err)
	}
}

func TestSafeExecute(t *testing.T) {
	tests := []struct {
		name      string
		fn        func() error
		wantErr   bool
		wantPanic bool
	}{
		{name: "success", fn: func() error { return nil }},
		{name: "returned error", fn: func() error { return errors.New("boom") }, wantErr: true},
		{name: "panic", fn: func() error {
			var m map[string]int
			m["x"]++
			return nil
		}, wantErr: true, wantPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SafeExecute("callgraph", tt.fn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SafeExecute() error = %v, wantErr %v", err, tt.wantErr)
			}
			var panicErr *PanicError
			if got := errors.As(err, &panicErr); got != tt.wantPanic {
				t.Errorf("PanicError = %v, want %v", got, tt.wantPanic)
			}
		})
	}
}
