// Package model holds trained per-user verifiers and the fail-closed bank
// that groups them across the hyperparameter grid.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"styleauth/internal/features"
	"styleauth/internal/novelty"
)

var (
	// ErrModelNotFound means a required (user, nu, gamma) bundle is absent.
	ErrModelNotFound = errors.New("model: not found")
	// ErrInvalidGrid means stored bundles and the configured grid disagree.
	ErrInvalidGrid = errors.New("model: invalid hyperparameter grid")
	// ErrSchemaMismatch means bundles of one bank were trained on different feature schemas.
	ErrSchemaMismatch = errors.New("model: feature schema mismatch")
	// ErrAnalyzerMismatch means a bank was trained with a different text
	// analyzer than the one in use. It matches ErrSchemaMismatch.
	ErrAnalyzerMismatch = fmt.Errorf("%w: analyzer", ErrSchemaMismatch)
	// ErrInvalidModel means a bundle is structurally unusable.
	ErrInvalidModel = errors.New("model: invalid model")
	// ErrDimensionMismatch aliases the novelty sentinel so either can be matched.
	ErrDimensionMismatch = novelty.ErrDimensionMismatch
)

// saturationEpsilon is the smallest calibration distance treated as non-zero.
const saturationEpsilon = 1e-12

// UserModel is one trained verifier for one (user, nu, gamma). It is
// immutable once built and safe to share across goroutines.
type UserModel struct {
	UserID              string               `json:"user_id"`
	Nu                  float64              `json:"nu"`
	Gamma               float64              `json:"gamma"`
	SchemaVersion       features.Version     `json:"schema_version"`
	Analyzer            string               `json:"analyzer,omitempty"`
	Scaler              *novelty.Scaler      `json:"scaler"`
	SVM                 *novelty.OneClassSVM `json:"svm"`
	MaxDecisionDistance float64              `json:"max_decision_distance"`
	TrainedAt           time.Time            `json:"trained_at"`
}

// Key returns the grid point of the model.
func (m *UserModel) Key() Key { return Key{Nu: m.Nu, Gamma: m.Gamma} }

// Width returns the feature width the model expects.
func (m *UserModel) Width() int { return m.Scaler.Width() }

// Validate checks internal consistency of a loaded bundle.
func (m *UserModel) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil", ErrInvalidModel)
	}
	if m.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidModel)
	}
	if _, err := features.Lookup(m.SchemaVersion); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if err := m.Scaler.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if err := m.SVM.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if m.SVM.Width() != m.Scaler.Width() {
		return fmt.Errorf("%w: scaler width %d, svm width %d", ErrDimensionMismatch, m.Scaler.Width(), m.SVM.Width())
	}
	if m.SVM.Nu != m.Nu || m.SVM.Gamma != m.Gamma {
		return fmt.Errorf("%w: bundle key %s disagrees with svm nu=%v gamma=%v", ErrInvalidModel, m.Key(), m.SVM.Nu, m.SVM.Gamma)
	}
	if m.MaxDecisionDistance < 0 || math.IsNaN(m.MaxDecisionDistance) || math.IsInf(m.MaxDecisionDistance, 0) {
		return fmt.Errorf("%w: max decision distance %v", ErrInvalidModel, m.MaxDecisionDistance)
	}
	return nil
}

// Scale standardizes a raw feature vector with the model's own scaler.
func (m *UserModel) Scale(x features.Vector) ([]float64, error) {
	return m.Scaler.Transform(x)
}

// Score returns the signed decision value of an already scaled vector.
func (m *UserModel) Score(scaled []float64) (float64, error) {
	return m.SVM.Decision(scaled)
}

// Certainty returns the calibrated certainty of an already scaled vector.
func (m *UserModel) Certainty(scaled []float64) (float64, error) {
	d, err := m.Score(scaled)
	if err != nil {
		return 0, err
	}
	return Certainty(d, m.MaxDecisionDistance), nil
}

// Predict returns +1 (inlier) or -1 for an already scaled vector.
func (m *UserModel) Predict(scaled []float64) (int, error) {
	return m.SVM.Predict(scaled)
}

// Assessment is one model's view of one feature vector.
type Assessment struct {
	Score      float64
	Certainty  float64
	Prediction int
}

// Assess scales x and computes score, certainty and prediction in one pass.
func (m *UserModel) Assess(x features.Vector) (Assessment, error) {
	scaled, err := m.Scale(x)
	if err != nil {
		return Assessment{}, err
	}
	d, err := m.Score(scaled)
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{
		Score:      d,
		Certainty:  Certainty(d, m.MaxDecisionDistance),
		Prediction: novelty.Label(d),
	}, nil
}

// Certainty normalizes a decision value into [-1, 1]: sign(d) * min(|d|, max) / max.
// A non-positive calibration distance saturates every non-zero d to +-1.
func Certainty(d, maxDistance float64) float64 {
	if d == 0 || math.IsNaN(d) {
		return 0
	}
	sign := 1.0
	if d < 0 {
		sign = -1
	}
	if !(maxDistance > saturationEpsilon) {
		return sign
	}
	a := math.Abs(d)
	if a >= maxDistance {
		return sign
	}
	return sign * a / maxDistance
}

// CalibrationDistance returns the largest |decision| over the model's
// support vectors, falling back to the training rows when every support
// vector sits on the boundary.
func CalibrationDistance(svm *novelty.OneClassSVM, scaledTrain [][]float64) (float64, error) {
	best, err := maxAbsDecision(svm, svm.SupportVectors)
	if err != nil {
		return 0, err
	}
	if best > saturationEpsilon {
		return best, nil
	}
	return maxAbsDecision(svm, scaledTrain)
}

func maxAbsDecision(svm *novelty.OneClassSVM, rows [][]float64) (float64, error) {
	best := 0.0
	for _, x := range rows {
		d, err := svm.Decision(x)
		if err != nil {
			return 0, err
		}
		if a := math.Abs(d); a > best {
			best = a
		}
	}
	return best, nil
}
