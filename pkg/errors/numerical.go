package errors

import (
	"math"
)

// CheckNumericalStability checks if values contain NaN or Inf
// and returns an error if numerical instability is detected.
func CheckNumericalStability(operation string, values []float64, iteration int) error {
	var unstable []float64
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			unstable = append(unstable, v)
			if len(unstable) >= 10 {
				break
			}
		}
	}
	if len(unstable) > 0 {
		return NewNumericalInstabilityError(operation, unstable, iteration)
	}
	return nil
}

// CheckScalar checks a single scalar value for numerical instability.
func CheckScalar(operation string, value float64, iteration int) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NewNumericalInstabilityError(operation, []float64{value}, iteration)
	}
	return nil
}

// SafeDivide performs division with protection against division by zero.
// Returns 0 if denominator is zero or close to zero.
func SafeDivide(numerator, denominator float64) float64 {
	if math.Abs(denominator) < 1e-10 {
		return 0
	}
	return numerator / denominator
}

// ClipValue clips a value to the range [min, max].
func ClipValue(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// ClipElements clips every element of a gradient to [-limit, limit] in place.
// A non-positive limit disables clipping.
func ClipElements(gradient []float64, limit float64) {
	if limit <= 0 {
		return
	}
	for i, g := range gradient {
		gradient[i] = ClipValue(g, -limit, limit)
	}
}

// StabilizeLog computes log with protection against log(0).
func StabilizeLog(value float64) float64 {
	const epsilon = 1e-7
	if value < epsilon {
		return math.Log(epsilon)
	}
	return math.Log(value)
}

// StableSoftmax returns softmax(values - max(values)).
func StableSoftmax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	for i, v := range values {
		out[i] = math.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
