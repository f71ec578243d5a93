// Package novelty implements the numeric core of per-user verification:
// feature standardization and a one-class support vector machine with an
// RBF kernel, trained by sequential minimal optimization.
package novelty

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by the package.
var (
	ErrEmptyTrainingSet  = errors.New("novelty: empty training set")
	ErrDimensionMismatch = errors.New("novelty: dimension mismatch")
	ErrInvalidNu         = errors.New("novelty: nu must be in (0, 1]")
	ErrInvalidGamma      = errors.New("novelty: gamma must be positive")
	ErrInvalidModel      = errors.New("novelty: invalid model")
)

// Scaler standardizes vectors per dimension: (x - Mean) / Scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes the per-dimension mean and population standard
// deviation of X. Dimensions with zero deviation get scale 1.
func FitScaler(X [][]float64) (*Scaler, error) {
	if len(X) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	d := len(X[0])
	if d == 0 {
		return nil, fmt.Errorf("%w: zero-width rows", ErrDimensionMismatch)
	}
	for i, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("%w: row %d has width %d, want %d", ErrDimensionMismatch, i, len(row), d)
		}
	}

	n := float64(len(X))
	s := &Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	for _, row := range X {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			diff := v - s.Mean[j]
			s.Scale[j] += diff * diff
		}
	}
	for j := range s.Scale {
		std := math.Sqrt(s.Scale[j] / n)
		if std == 0 {
			std = 1
		}
		s.Scale[j] = std
	}
	return s, nil
}

// Width returns the input dimension the scaler was fitted on.
func (s *Scaler) Width() int { return len(s.Mean) }

// Validate checks that Mean and Scale agree and every scale is usable.
func (s *Scaler) Validate() error {
	if s == nil || len(s.Mean) == 0 {
		return fmt.Errorf("%w: empty scaler", ErrInvalidModel)
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("%w: scaler mean/scale widths %d/%d", ErrInvalidModel, len(s.Mean), len(s.Scale))
	}
	for j, sc := range s.Scale {
		if sc == 0 || math.IsNaN(sc) || math.IsInf(sc, 0) {
			return fmt.Errorf("%w: scale[%d] = %v", ErrInvalidModel, j, sc)
		}
		if math.IsNaN(s.Mean[j]) || math.IsInf(s.Mean[j], 0) {
			return fmt.Errorf("%w: mean[%d] = %v", ErrInvalidModel, j, s.Mean[j])
		}
	}
	return nil
}

// Transform standardizes a single vector.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("%w: got %d features, scaler expects %d", ErrDimensionMismatch, len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll standardizes every row of X.
func (s *Scaler) TransformAll(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		t, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}
