package trust

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"styleauth/internal/ensemble"
)

const lowCertainty = 0.5

func newMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(DefaultParams())
	require.NoError(t, err)
	return m
}

func TestThreePlainAccepts(t *testing.T) {
	m := newMachine(t)
	for i := 0; i < 3; i++ {
		step := m.Observe(ensemble.Genuine, lowCertainty)
		assert.Equal(t, Active, step.Status)
	}
	assert.InDelta(t, 0.82, m.State().Confidence, 1e-9)
	assert.Equal(t, 3, m.State().ConsecutiveGenuine)
	assert.Zero(t, m.State().ConsecutiveImpostor)
}

func TestAcceptRunMonotonic(t *testing.T) {
	p := DefaultParams()
	m := newMachine(t)
	for n := 1; n <= 12; n++ {
		m.Observe(ensemble.Genuine, lowCertainty)
		want := p.Baseline + float64(n)*p.BaseIncrease + math.Floor(float64(n)/3)*p.GenuineStreakBonus
		assert.InDelta(t, want, m.State().Confidence, 1e-9, "after %d accepts", n)
	}
}

func TestHighCertaintyAccept(t *testing.T) {
	m := newMachine(t)
	m.Observe(ensemble.Genuine, 0.9)
	assert.InDelta(t, 0.6+0.06+0.024, m.State().Confidence, 1e-9)

	// The threshold itself is not "high".
	m.Reset()
	m.Observe(ensemble.Genuine, 0.7)
	assert.InDelta(t, 0.66, m.State().Confidence, 1e-9)
}

func TestLockoutAfterThreePlainRejects(t *testing.T) {
	m := newMachine(t)

	s1 := m.Observe(ensemble.Impostor, lowCertainty)
	assert.Equal(t, Active, s1.Status)
	assert.InDelta(t, 0.48, s1.State.Confidence, 1e-9)

	// Second reject also pays the streak penalty.
	s2 := m.Observe(ensemble.Impostor, lowCertainty)
	assert.Equal(t, Active, s2.Status)
	assert.InDelta(t, 0.31, s2.State.Confidence, 1e-9)
	assert.Equal(t, 2, s2.State.ConsecutiveImpostor)

	s3 := m.Observe(ensemble.Impostor, lowCertainty)
	assert.True(t, s3.Locked())
	assert.InDelta(t, 0.19, s3.Reached, 1e-9)
	assert.Equal(t, State{Confidence: 0.6}, s3.State)
	assert.Equal(t, State{Confidence: 0.6}, m.State())
	assert.Equal(t, 1, m.Lockouts())
	assert.Equal(t, 3, m.Prompts())
}

func TestLockoutFasterWithHighCertainty(t *testing.T) {
	m := newMachine(t)
	s1 := m.Observe(ensemble.Impostor, 0.95)
	assert.InDelta(t, 0.432, s1.State.Confidence, 1e-9)

	s2 := m.Observe(ensemble.Impostor, 0.95)
	assert.Equal(t, Locked, s2.Status)
	assert.InDelta(t, 0.214, s2.Reached, 1e-9)
}

func TestLockoutWithinCeilBound(t *testing.T) {
	p := DefaultParams()
	bound := int(math.Ceil((p.Baseline - p.LockoutFloor) / p.BaseDecrease))
	for _, certainty := range []float64{0, 0.3, 0.7, 0.71, 1} {
		m := newMachine(t)
		locked := 0
		for i := 1; i <= bound; i++ {
			if m.Observe(ensemble.Impostor, certainty).Locked() {
				locked = i
				break
			}
		}
		assert.NotZero(t, locked, "certainty %v", certainty)
	}
}

func TestAcceptResetsImpostorStreak(t *testing.T) {
	m := newMachine(t)
	m.Observe(ensemble.Impostor, lowCertainty) // 0.48
	m.Observe(ensemble.Genuine, lowCertainty)  // 0.54
	s := m.Observe(ensemble.Impostor, lowCertainty)

	// Streak restarted, so no penalty on this reject.
	assert.Equal(t, 1, s.State.ConsecutiveImpostor)
	assert.InDelta(t, 0.42, s.State.Confidence, 1e-9)
}

func TestRejectResetsGenuineStreak(t *testing.T) {
	m := newMachine(t)
	m.Observe(ensemble.Genuine, lowCertainty)
	m.Observe(ensemble.Genuine, lowCertainty)
	m.Observe(ensemble.Impostor, lowCertainty)
	s := m.Observe(ensemble.Genuine, lowCertainty)
	assert.Equal(t, 1, s.State.ConsecutiveGenuine)
	assert.InDelta(t, 0.6+0.06+0.06-0.12+0.06, s.State.Confidence, 1e-9)
}

func TestTransitionPure(t *testing.T) {
	p := DefaultParams()
	start := State{Confidence: 0.5, ConsecutiveGenuine: 2}
	next, reached, status := p.Transition(start, ensemble.Genuine, lowCertainty)
	assert.Equal(t, State{Confidence: 0.5, ConsecutiveGenuine: 2}, start)
	assert.Equal(t, Active, status)
	assert.InDelta(t, 0.6, reached, 1e-9)
	assert.Equal(t, 3, next.ConsecutiveGenuine)
}

func TestStreakRulesDisabled(t *testing.T) {
	p := DefaultParams()
	p.GenuineStreakEvery = 0
	p.ImpostorStreakEvery = 0
	m, err := NewMachine(p)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		m.Observe(ensemble.Genuine, lowCertainty)
	}
	assert.InDelta(t, 0.78, m.State().Confidence, 1e-9)
}

func TestReset(t *testing.T) {
	m := newMachine(t)
	m.Observe(ensemble.Impostor, 1)
	m.Observe(ensemble.Impostor, 1)
	m.Reset()
	assert.Equal(t, m.Params().Initial(), m.State())
	assert.Zero(t, m.Prompts())
	assert.Zero(t, m.Lockouts())
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"nan baseline", func(p *Params) { p.Baseline = math.NaN() }},
		{"negative increase", func(p *Params) { p.BaseIncrease = -0.1 }},
		{"zero decrease", func(p *Params) { p.BaseDecrease = 0 }},
		{"baseline below floor", func(p *Params) { p.LockoutFloor = 0.7 }},
		{"threshold above one", func(p *Params) { p.HighCertaintyThreshold = 1.2 }},
		{"negative streak", func(p *Params) { p.ImpostorStreakEvery = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
			_, err := NewMachine(p)
			assert.Error(t, err)
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ACTIVE", Active.String())
	assert.Equal(t, "LOCKED", Locked.String())
}
