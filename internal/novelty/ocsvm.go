package novelty

import (
	"fmt"
	"math"
)

// OneClassSVM is a trained one-class SVM with an RBF kernel
// K(x, y) = exp(-Gamma * ||x - y||^2).
//
// The decision function is sum_i Coef[i] * K(SupportVectors[i], x) - Rho.
// Positive values are inliers.
type OneClassSVM struct {
	Nu             float64     `json:"nu"`
	Gamma          float64     `json:"gamma"`
	SupportVectors [][]float64 `json:"support_vectors"`
	Coef           []float64   `json:"dual_coef"`
	Rho            float64     `json:"rho"`
}

// Width returns the input dimension, or 0 for a model with no support vectors.
func (m *OneClassSVM) Width() int {
	if len(m.SupportVectors) == 0 {
		return 0
	}
	return len(m.SupportVectors[0])
}

// Validate checks structural consistency of a deserialized model.
func (m *OneClassSVM) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil svm", ErrInvalidModel)
	}
	if !(m.Gamma > 0) || math.IsInf(m.Gamma, 0) {
		return fmt.Errorf("%w: gamma %v", ErrInvalidModel, m.Gamma)
	}
	if len(m.SupportVectors) == 0 {
		return fmt.Errorf("%w: no support vectors", ErrInvalidModel)
	}
	if len(m.SupportVectors) != len(m.Coef) {
		return fmt.Errorf("%w: %d support vectors, %d coefficients", ErrInvalidModel, len(m.SupportVectors), len(m.Coef))
	}
	d := len(m.SupportVectors[0])
	if d == 0 {
		return fmt.Errorf("%w: zero-width support vectors", ErrInvalidModel)
	}
	for i, sv := range m.SupportVectors {
		if len(sv) != d {
			return fmt.Errorf("%w: support vector %d has width %d, want %d", ErrInvalidModel, i, len(sv), d)
		}
	}
	if math.IsNaN(m.Rho) || math.IsInf(m.Rho, 0) {
		return fmt.Errorf("%w: rho %v", ErrInvalidModel, m.Rho)
	}
	return nil
}

// Decision returns the signed distance-like score of x.
func (m *OneClassSVM) Decision(x []float64) (float64, error) {
	if w := m.Width(); len(x) != w {
		return 0, fmt.Errorf("%w: got %d features, svm expects %d", ErrDimensionMismatch, len(x), w)
	}
	sum := 0.0
	for i, sv := range m.SupportVectors {
		sum += m.Coef[i] * rbf(m.Gamma, sv, x)
	}
	return sum - m.Rho, nil
}

// Predict returns +1 when x is an inlier (Decision > 0) and -1 otherwise.
func (m *OneClassSVM) Predict(x []float64) (int, error) {
	d, err := m.Decision(x)
	if err != nil {
		return 0, err
	}
	return Label(d), nil
}

// Label maps a decision value to +1 / -1.
func Label(d float64) int {
	if d > 0 {
		return 1
	}
	return -1
}

func rbf(gamma float64, a, b []float64) float64 {
	sq := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sq += diff * diff
	}
	return math.Exp(-gamma * sq)
}
