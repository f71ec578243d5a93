// Package trust accumulates authentication evidence across a session's
// prompts and signals lockout when confidence falls below a floor.
package trust

import (
	"errors"
	"fmt"
	"math"

	"styleauth/internal/ensemble"
)

// Params tunes the trust machine.
type Params struct {
	Baseline                 float64 `toml:"baseline" json:"baseline" yaml:"baseline"`
	BaseIncrease             float64 `toml:"base_increase" json:"base_increase" yaml:"base_increase"`
	BaseDecrease             float64 `toml:"base_decrease" json:"base_decrease" yaml:"base_decrease"`
	HighCertaintyThreshold   float64 `toml:"high_certainty_threshold" json:"high_certainty_threshold" yaml:"high_certainty_threshold"`
	HighCertaintyBoostFactor float64 `toml:"high_certainty_boost_factor" json:"high_certainty_boost_factor" yaml:"high_certainty_boost_factor"`
	GenuineStreakEvery       int     `toml:"genuine_streak_every" json:"genuine_streak_every" yaml:"genuine_streak_every"`
	GenuineStreakBonus       float64 `toml:"genuine_streak_bonus" json:"genuine_streak_bonus" yaml:"genuine_streak_bonus"`
	ImpostorStreakEvery      int     `toml:"impostor_streak_every" json:"impostor_streak_every" yaml:"impostor_streak_every"`
	ImpostorStreakPenalty    float64 `toml:"impostor_streak_penalty" json:"impostor_streak_penalty" yaml:"impostor_streak_penalty"`
	LockoutFloor             float64 `toml:"lockout_floor" json:"lockout_floor" yaml:"lockout_floor"`
}

// DefaultParams returns the production tuning. Rejections weigh twice as
// much as acceptances.
func DefaultParams() Params {
	return Params{
		Baseline:                 0.6,
		BaseIncrease:             0.06,
		BaseDecrease:             0.12,
		HighCertaintyThreshold:   0.7,
		HighCertaintyBoostFactor: 0.4,
		GenuineStreakEvery:       3,
		GenuineStreakBonus:       0.04,
		ImpostorStreakEvery:      2,
		ImpostorStreakPenalty:    0.05,
		LockoutFloor:             0.3,
	}
}

// Validate checks parameter ranges. A streak interval of 0 disables that streak rule.
func (p Params) Validate() error {
	finite := []struct {
		name string
		v    float64
	}{
		{"baseline", p.Baseline},
		{"base_increase", p.BaseIncrease},
		{"base_decrease", p.BaseDecrease},
		{"high_certainty_threshold", p.HighCertaintyThreshold},
		{"high_certainty_boost_factor", p.HighCertaintyBoostFactor},
		{"genuine_streak_bonus", p.GenuineStreakBonus},
		{"impostor_streak_penalty", p.ImpostorStreakPenalty},
		{"lockout_floor", p.LockoutFloor},
	}
	for _, f := range finite {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("trust: %s must be finite", f.name)
		}
		if f.v < 0 {
			return fmt.Errorf("trust: %s must not be negative", f.name)
		}
	}
	switch {
	case p.BaseDecrease == 0:
		return errors.New("trust: base_decrease must be positive")
	case p.Baseline < p.LockoutFloor:
		return fmt.Errorf("trust: baseline %.3f below lockout_floor %.3f", p.Baseline, p.LockoutFloor)
	case p.HighCertaintyThreshold > 1:
		return fmt.Errorf("trust: high_certainty_threshold %.3f above 1", p.HighCertaintyThreshold)
	case p.GenuineStreakEvery < 0 || p.ImpostorStreakEvery < 0:
		return errors.New("trust: streak intervals must not be negative")
	}
	return nil
}

// State is the per-session trust state.
type State struct {
	Confidence          float64 `json:"confidence"`
	ConsecutiveGenuine  int     `json:"consecutive_genuine"`
	ConsecutiveImpostor int     `json:"consecutive_impostor"`
}

// Initial returns the state a new session starts in.
func (p Params) Initial() State {
	return State{Confidence: p.Baseline}
}

// Status is the outcome of one transition.
type Status int

const (
	// Active means confidence stayed at or above the lockout floor.
	Active Status = iota
	// Locked means confidence fell below the floor on this prompt. The
	// state has already been reset to baseline.
	Locked
)

func (s Status) String() string {
	if s == Locked {
		return "LOCKED"
	}
	return "ACTIVE"
}

// Transition applies one (decision, certainty) observation to s. It returns
// the next state, the confidence reached before any lockout reset, and the
// status. certainty is the ensemble's mean absolute certainty.
func (p Params) Transition(s State, d ensemble.Decision, certainty float64) (next State, reached float64, status Status) {
	next = s
	high := certainty > p.HighCertaintyThreshold

	if d == ensemble.Genuine {
		next.ConsecutiveGenuine++
		next.ConsecutiveImpostor = 0
		next.Confidence += p.BaseIncrease
		if high {
			next.Confidence += p.BaseIncrease * p.HighCertaintyBoostFactor
		}
		if p.GenuineStreakEvery > 0 && next.ConsecutiveGenuine%p.GenuineStreakEvery == 0 {
			next.Confidence += p.GenuineStreakBonus
		}
	} else {
		next.ConsecutiveImpostor++
		next.ConsecutiveGenuine = 0
		next.Confidence -= p.BaseDecrease
		if high {
			next.Confidence -= p.BaseDecrease * p.HighCertaintyBoostFactor
		}
		if p.ImpostorStreakEvery > 0 && next.ConsecutiveImpostor%p.ImpostorStreakEvery == 0 {
			next.Confidence -= p.ImpostorStreakPenalty
		}
	}

	reached = next.Confidence
	if next.Confidence < p.LockoutFloor {
		return p.Initial(), reached, Locked
	}
	return next, reached, Active
}
