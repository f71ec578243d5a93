// Package evaluation measures false rejection and false acceptance rates by
// replaying held-out genuine texts and sampled impostor texts through the
// ensemble and a fresh trust machine per user.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"styleauth/internal/corpus"
	"styleauth/internal/ensemble"
	"styleauth/internal/features"
	"styleauth/internal/model"
	"styleauth/internal/trainer"
	"styleauth/internal/trust"
)

// Input is everything needed to evaluate one user.
type Input struct {
	UserID string
	Bank   *model.Bank
	// Genuine are held-out texts by the user.
	Genuine []string
	// ImpostorPool holds texts by other users; a seeded sample of the same
	// size as Genuine is drawn from it.
	ImpostorPool []string
}

// UserResult reports one user's simulated sessions.
type UserResult struct {
	UserID           string
	GenuinePrompts   int
	ImpostorPrompts  int
	FalseRejections  int
	FalseAcceptances int
	// FRR and FAR are percentages.
	FRR float64
	FAR float64
	// MeanRejectedBeforeLock is the mean number of genuine prompts rejected
	// per lockout window; MeanAcceptedBeforeLock is the impostor analogue.
	MeanRejectedBeforeLock float64
	MeanAcceptedBeforeLock float64
	GenuineLockouts        int
	ImpostorLockouts       int
}

// Summary aggregates per-user results with unweighted means.
type Summary struct {
	Users                  []UserResult
	Skipped                []string
	MeanFRR                float64
	MeanFAR                float64
	MeanRejectedBeforeLock float64
	MeanAcceptedBeforeLock float64
}

// Evaluator replays texts against model banks.
type Evaluator struct {
	extractor *features.Extractor
	params    trust.Params
	seed      int64
	workers   int
}

// New returns an Evaluator. seed drives impostor sampling.
func New(extractor *features.Extractor, params trust.Params, seed int64, workers int) (*Evaluator, error) {
	if extractor == nil {
		return nil, errors.New("evaluation: nil extractor")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Evaluator{extractor: extractor, params: params, seed: seed, workers: workers}, nil
}

// SampleImpostors draws min(n, len(pool)) texts from pool without
// replacement, deterministically for a given seed.
func SampleImpostors(pool []string, n int, seed int64) []string {
	if n > len(pool) {
		n = len(pool)
	}
	if n <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(pool))
	out := make([]string, n)
	for i := range out {
		out[i] = pool[perm[i]]
	}
	return out
}

// replay runs texts through a fresh machine. misses counts prompts whose
// decision differs from want; windows holds that count per lockout window.
type replay struct {
	misses   int
	lockouts int
	windows  []int
}

func (e *Evaluator) replay(bank *model.Bank, texts []string, want ensemble.Decision) (replay, error) {
	var r replay
	m, err := trust.NewMachine(e.params)
	if err != nil {
		return r, err
	}
	window := 0
	for _, text := range texts {
		res, err := ensemble.Vote(bank, e.extractor.Extract(text))
		if err != nil {
			return r, err
		}
		step := m.Observe(res.Decision, res.Certainty)
		if res.Decision != want {
			r.misses++
			window++
		}
		if step.Locked() {
			r.lockouts++
			r.windows = append(r.windows, window)
			window = 0
		}
	}
	if window > 0 {
		r.windows = append(r.windows, window)
	}
	return r, nil
}

// EvaluateUser simulates one genuine and one impostor session for in.
func (e *Evaluator) EvaluateUser(in Input) (UserResult, error) {
	res := UserResult{UserID: in.UserID}
	if in.Bank == nil {
		return res, fmt.Errorf("evaluate %q: nil bank", in.UserID)
	}
	if err := in.Bank.CheckExtractor(e.extractor); err != nil {
		return res, fmt.Errorf("evaluate %q: %w", in.UserID, err)
	}
	impostors := SampleImpostors(in.ImpostorPool, len(in.Genuine), e.seed)

	genuine, err := e.replay(in.Bank, in.Genuine, ensemble.Genuine)
	if err != nil {
		return res, fmt.Errorf("evaluate %q genuine: %w", in.UserID, err)
	}
	impostor, err := e.replay(in.Bank, impostors, ensemble.Impostor)
	if err != nil {
		return res, fmt.Errorf("evaluate %q impostor: %w", in.UserID, err)
	}

	res.GenuinePrompts = len(in.Genuine)
	res.ImpostorPrompts = len(impostors)
	res.FalseRejections = genuine.misses
	res.FalseAcceptances = impostor.misses
	res.FRR = percent(genuine.misses, len(in.Genuine))
	res.FAR = percent(impostor.misses, len(impostors))
	res.MeanRejectedBeforeLock = meanInts(genuine.windows)
	res.MeanAcceptedBeforeLock = meanInts(impostor.windows)
	res.GenuineLockouts = genuine.lockouts
	res.ImpostorLockouts = impostor.lockouts
	return res, nil
}

// Evaluate runs every input in parallel. Inputs without genuine texts are
// skipped. Results keep input order.
func (e *Evaluator) Evaluate(ctx context.Context, inputs []Input) (*Summary, error) {
	results := make([]*UserResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, in := range inputs {
		i, in := i, in
		if len(in.Genuine) == 0 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := e.EvaluateUser(in)
			if err != nil {
				return err
			}
			results[i] = &r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Summary{}
	for i, r := range results {
		if r == nil {
			s.Skipped = append(s.Skipped, inputs[i].UserID)
			continue
		}
		s.Users = append(s.Users, *r)
	}
	if n := float64(len(s.Users)); n > 0 {
		for _, u := range s.Users {
			s.MeanFRR += u.FRR
			s.MeanFAR += u.FAR
			s.MeanRejectedBeforeLock += u.MeanRejectedBeforeLock
			s.MeanAcceptedBeforeLock += u.MeanAcceptedBeforeLock
		}
		s.MeanFRR /= n
		s.MeanFAR /= n
		s.MeanRejectedBeforeLock /= n
		s.MeanAcceptedBeforeLock /= n
	}
	return s, nil
}

// InputsFromReports pairs trainer reports with the other users' texts in c.
func InputsFromReports(reports []*trainer.Report, c *corpus.Corpus) []Input {
	inputs := make([]Input, 0, len(reports))
	for _, r := range reports {
		inputs = append(inputs, Input{
			UserID:       r.UserID,
			Bank:         r.Bank,
			Genuine:      r.TestTexts,
			ImpostorPool: c.Others(r.UserID),
		})
	}
	return inputs
}

func percent(k, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(k) / float64(n) * 100
}

func meanInts(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}
