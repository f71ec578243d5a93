// Package ensemble combines the models of a bank into one decision using
// certainty-weighted voting.
package ensemble

import (
	"fmt"

	"styleauth/internal/features"
	"styleauth/internal/model"
)

// Decision is the outcome of a vote. Genuine means the text was classified
// as written by the claimed user.
type Decision int

const (
	Impostor Decision = -1
	Genuine  Decision = 1
)

func (d Decision) String() string {
	switch d {
	case Genuine:
		return "genuine"
	case Impostor:
		return "impostor"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Ballot is one model's contribution to a vote.
type Ballot struct {
	Key        model.Key
	Score      float64
	Certainty  float64
	Prediction int
	Weight     float64 // Prediction * |Certainty|
}

// Result is the outcome of a vote over a bank.
type Result struct {
	Decision Decision
	// Certainty is the mean |certainty| across models, 0 for an empty bank.
	Certainty float64
	// Total is the sum of weighted ballots.
	Total   float64
	Ballots []Ballot
}

// Vote scores x against every model in bank. Each model scales x with its
// own scaler; its vote counts prediction * |certainty|. The decision is
// Genuine iff the weighted total is strictly positive.
//
// Any model error, including a width mismatch, aborts the whole vote.
func Vote(bank *model.Bank, x features.Vector) (Result, error) {
	res := Result{Decision: Impostor}
	if bank == nil || bank.Len() == 0 {
		return res, nil
	}
	if len(x) != bank.Width() {
		return Result{}, fmt.Errorf("%w: vector has %d features, bank %q expects %d",
			model.ErrDimensionMismatch, len(x), bank.UserID(), bank.Width())
	}

	models := bank.Models()
	res.Ballots = make([]Ballot, 0, len(models))
	sumAbs := 0.0
	for _, m := range models {
		a, err := m.Assess(x)
		if err != nil {
			return Result{}, &model.BankError{UserID: bank.UserID(), Key: m.Key(), Err: err}
		}
		abs := a.Certainty
		if abs < 0 {
			abs = -abs
		}
		b := Ballot{
			Key:        m.Key(),
			Score:      a.Score,
			Certainty:  a.Certainty,
			Prediction: a.Prediction,
			Weight:     float64(a.Prediction) * abs,
		}
		res.Ballots = append(res.Ballots, b)
		res.Total += b.Weight
		sumAbs += abs
	}

	if res.Total > 0 {
		res.Decision = Genuine
	}
	res.Certainty = sumAbs / float64(len(models))
	return res, nil
}

// Agreement returns the fraction of ballots whose prediction matches the
// final decision.
func (r Result) Agreement() float64 {
	if len(r.Ballots) == 0 {
		return 0
	}
	n := 0
	for _, b := range r.Ballots {
		if Decision(b.Prediction) == r.Decision {
			n++
		}
	}
	return float64(n) / float64(len(r.Ballots))
}
