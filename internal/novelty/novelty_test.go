package novelty

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridPoints(n int) [][]float64 {
	var X [][]float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			X = append(X, []float64{float64(i) / float64(n-1), float64(j) / float64(n-1)})
		}
	}
	return X
}

func TestFitScaler(t *testing.T) {
	s, err := FitScaler([][]float64{{1, 2}, {3, 2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale)
	require.NoError(t, s.Validate())

	out, err := s.Transform([]float64{3, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, out)
}

func TestFitScalerPopulationStd(t *testing.T) {
	s, err := FitScaler([][]float64{{0}, {2}, {4}, {6}})
	require.NoError(t, err)
	assert.InDelta(t, 3, s.Mean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(5), s.Scale[0], 1e-12)
}

func TestFitScalerErrors(t *testing.T) {
	_, err := FitScaler(nil)
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)

	_, err = FitScaler([][]float64{{1, 2}, {1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestScalerTransformMismatch(t *testing.T) {
	s := &Scaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}}
	_, err := s.Transform([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.TransformAll([][]float64{{1, 2}, {1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestScalerValidate(t *testing.T) {
	tests := []struct {
		name string
		s    *Scaler
	}{
		{"nil", nil},
		{"empty", &Scaler{}},
		{"widths", &Scaler{Mean: []float64{0}, Scale: []float64{1, 1}}},
		{"zero scale", &Scaler{Mean: []float64{0}, Scale: []float64{0}}},
		{"nan mean", &Scaler{Mean: []float64{math.NaN()}, Scale: []float64{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.s.Validate(), ErrInvalidModel)
		})
	}
}

func TestDecisionHandBuilt(t *testing.T) {
	m := &OneClassSVM{
		Nu:             0.5,
		Gamma:          1,
		SupportVectors: [][]float64{{0, 0}},
		Coef:           []float64{1},
		Rho:            0.5,
	}
	require.NoError(t, m.Validate())

	d, err := m.Decision([]float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, d, 1e-12)

	p, err := m.Predict([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, p)

	d, err = m.Decision([]float64{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-1)-0.5, d, 1e-12)

	p, err = m.Predict([]float64{10, 10})
	require.NoError(t, err)
	assert.Equal(t, -1, p)

	_, err = m.Decision([]float64{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestLabelBoundary(t *testing.T) {
	assert.Equal(t, -1, Label(0))
	assert.Equal(t, 1, Label(1e-12))
	assert.Equal(t, -1, Label(-3))
}

func TestValidateRejectsMalformed(t *testing.T) {
	good := func() *OneClassSVM {
		return &OneClassSVM{Gamma: 0.1, SupportVectors: [][]float64{{1, 2}}, Coef: []float64{1}, Rho: 0.1}
	}
	tests := []struct {
		name   string
		mutate func(m *OneClassSVM)
	}{
		{"gamma", func(m *OneClassSVM) { m.Gamma = 0 }},
		{"no svs", func(m *OneClassSVM) { m.SupportVectors = nil; m.Coef = nil }},
		{"coef count", func(m *OneClassSVM) { m.Coef = []float64{1, 1} }},
		{"ragged", func(m *OneClassSVM) {
			m.SupportVectors = append(m.SupportVectors, []float64{1})
			m.Coef = append(m.Coef, 1)
		}},
		{"rho", func(m *OneClassSVM) { m.Rho = math.Inf(1) }},
	}
	require.NoError(t, good().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := good()
			tt.mutate(m)
			assert.ErrorIs(t, m.Validate(), ErrInvalidModel)
		})
	}
}

func TestTrainDualConstraints(t *testing.T) {
	X := gridPoints(6)
	for _, nu := range []float64{0.05, 0.1, 0.35, 0.5} {
		m, info, err := Train(context.Background(), X, nu, 0.5, TrainOptions{})
		require.NoError(t, err)
		assert.True(t, info.Converged)

		sum := 0.0
		for _, c := range m.Coef {
			assert.Greater(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0+1e-12)
			sum += c
		}
		assert.InDelta(t, nu*float64(len(X)), sum, 1e-9, "nu=%v", nu)
		assert.Len(t, m.SupportVectors, len(m.Coef))
		require.NoError(t, m.Validate())
	}
}

func TestTrainSeparatesFarPoints(t *testing.T) {
	X := gridPoints(6)
	m, _, err := Train(context.Background(), X, 0.1, 0.5, TrainOptions{})
	require.NoError(t, err)

	p, err := m.Predict([]float64{25, -25})
	require.NoError(t, err)
	assert.Equal(t, -1, p)

	inliers := 0
	for _, x := range X {
		if p, _ := m.Predict(x); p == 1 {
			inliers++
		}
	}
	assert.GreaterOrEqual(t, inliers, len(X)/2)
}

func TestTrainDeterministic(t *testing.T) {
	X := gridPoints(5)
	a, _, err := Train(context.Background(), X, 0.2, 0.15, TrainOptions{})
	require.NoError(t, err)
	b, _, err := Train(context.Background(), X, 0.2, 0.15, TrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTrainSmallCache(t *testing.T) {
	X := gridPoints(5)
	full, _, err := Train(context.Background(), X, 0.2, 0.5, TrainOptions{})
	require.NoError(t, err)
	tiny, _, err := Train(context.Background(), X, 0.2, 0.5, TrainOptions{CacheRows: 2})
	require.NoError(t, err)
	assert.Equal(t, full, tiny)
}

func TestTrainSingleSample(t *testing.T) {
	m, _, err := Train(context.Background(), [][]float64{{1, 1}}, 0.5, 0.1, TrainOptions{})
	require.NoError(t, err)
	require.Len(t, m.Coef, 1)
	assert.InDelta(t, 0.5, m.Coef[0], 1e-12)
	assert.InDelta(t, 0.5, m.Rho, 1e-12)
}

func TestTrainNuOne(t *testing.T) {
	X := gridPoints(3)
	m, _, err := Train(context.Background(), X, 1, 0.1, TrainOptions{})
	require.NoError(t, err)
	assert.Len(t, m.Coef, len(X))
	assert.False(t, math.IsInf(m.Rho, 0))
}

func TestTrainErrors(t *testing.T) {
	ctx := context.Background()
	X := gridPoints(3)

	_, _, err := Train(ctx, nil, 0.1, 0.1, TrainOptions{})
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)

	for _, nu := range []float64{0, -0.1, 1.5, math.NaN()} {
		_, _, err = Train(ctx, X, nu, 0.1, TrainOptions{})
		assert.ErrorIs(t, err, ErrInvalidNu, "nu=%v", nu)
	}
	for _, g := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, _, err = Train(ctx, X, 0.1, g, TrainOptions{})
		assert.ErrorIs(t, err, ErrInvalidGamma, "gamma=%v", g)
	}

	_, _, err = Train(ctx, [][]float64{{1, 2}, {3}}, 0.1, 0.1, TrainOptions{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Train(ctx, gridPoints(4), 0.3, 0.1, TrainOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
