package novelty

import (
	"context"
	"fmt"
	"math"
)

const (
	// DefaultTolerance is the KKT stopping tolerance.
	DefaultTolerance = 1e-3

	// tau replaces non-positive curvature in the pair update.
	tau = 1e-12

	defaultCacheRows = 1024
)

// TrainOptions tunes the solver. Zero values select defaults.
type TrainOptions struct {
	// Tolerance is the maximal KKT violation accepted at convergence.
	Tolerance float64
	// MaxIterations bounds the solver; 0 means max(10_000_000, 100*l).
	MaxIterations int
	// CacheRows bounds the number of kernel rows kept in memory.
	CacheRows int
}

func (o TrainOptions) withDefaults(l int) TrainOptions {
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 10_000_000
		if 100*l > o.MaxIterations {
			o.MaxIterations = 100 * l
		}
	}
	if o.CacheRows <= 0 {
		o.CacheRows = defaultCacheRows
	}
	return o
}

// TrainInfo reports solver statistics.
type TrainInfo struct {
	Iterations int
	Converged  bool
	Objective  float64
}

// Train fits a one-class SVM to X by solving
//
//	min 1/2 a'Qa  s.t.  0 <= a_i <= 1,  sum a_i = nu*l
//
// with maximal-violating-pair SMO. Training is deterministic: the same
// inputs always yield the same model.
func Train(ctx context.Context, X [][]float64, nu, gamma float64, opts TrainOptions) (*OneClassSVM, TrainInfo, error) {
	var info TrainInfo
	l := len(X)
	if l == 0 {
		return nil, info, ErrEmptyTrainingSet
	}
	if !(nu > 0 && nu <= 1) {
		return nil, info, fmt.Errorf("%w: %v", ErrInvalidNu, nu)
	}
	if !(gamma > 0) || math.IsInf(gamma, 0) {
		return nil, info, fmt.Errorf("%w: %v", ErrInvalidGamma, gamma)
	}
	d := len(X[0])
	if d == 0 {
		return nil, info, fmt.Errorf("%w: zero-width rows", ErrDimensionMismatch)
	}
	for i, row := range X {
		if len(row) != d {
			return nil, info, fmt.Errorf("%w: row %d has width %d, want %d", ErrDimensionMismatch, i, len(row), d)
		}
	}
	opts = opts.withDefaults(l)

	s := newSolver(X, gamma, opts.CacheRows)
	s.initAlpha(nu)

	for info.Iterations < opts.MaxIterations {
		if info.Iterations%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, info, err
			}
		}
		i, j, ok := s.selectWorkingSet(opts.Tolerance)
		if !ok {
			info.Converged = true
			break
		}
		s.update(i, j)
		info.Iterations++
	}

	info.Objective = s.objective()
	m := &OneClassSVM{Nu: nu, Gamma: gamma, Rho: s.rho()}
	for i, a := range s.alpha {
		if a > 0 {
			sv := make([]float64, d)
			copy(sv, X[i])
			m.SupportVectors = append(m.SupportVectors, sv)
			m.Coef = append(m.Coef, a)
		}
	}
	return m, info, nil
}

type solver struct {
	x     [][]float64
	gamma float64
	alpha []float64
	grad  []float64
	diag  []float64
	cache *rowCache
}

func newSolver(X [][]float64, gamma float64, cacheRows int) *solver {
	l := len(X)
	s := &solver{
		x:     X,
		gamma: gamma,
		alpha: make([]float64, l),
		grad:  make([]float64, l),
		diag:  make([]float64, l),
		cache: newRowCache(cacheRows),
	}
	for i := range s.diag {
		s.diag[i] = 1 // K(x, x) for the RBF kernel
	}
	return s
}

// initAlpha sets the first floor(nu*l) coefficients to 1 and the next one to
// the fractional remainder, then computes the gradient Qa.
func (s *solver) initAlpha(nu float64) {
	l := len(s.alpha)
	total := nu * float64(l)
	n := int(total)
	for i := 0; i < n && i < l; i++ {
		s.alpha[i] = 1
	}
	if n < l {
		s.alpha[n] = total - float64(n)
	}
	for i, a := range s.alpha {
		if a == 0 {
			continue
		}
		row := s.row(i)
		for k := range s.grad {
			s.grad[k] += a * row[k]
		}
	}
}

func (s *solver) row(i int) []float64 {
	if r, ok := s.cache.get(i); ok {
		return r
	}
	r := make([]float64, len(s.x))
	for k := range s.x {
		r[k] = rbf(s.gamma, s.x[i], s.x[k])
	}
	s.cache.put(i, r)
	return r
}

// selectWorkingSet picks i as the maximal violator and j by second-order
// gain. It reports false once the violation is within tol.
func (s *solver) selectWorkingSet(tol float64) (int, int, bool) {
	gmax := math.Inf(-1)
	gmax2 := math.Inf(-1)
	i := -1
	for t, a := range s.alpha {
		if a < 1 && -s.grad[t] >= gmax {
			gmax = -s.grad[t]
			i = t
		}
	}
	if i == -1 {
		return 0, 0, false
	}

	qi := s.row(i)
	j := -1
	best := math.Inf(1)
	for t, a := range s.alpha {
		if a <= 0 {
			continue
		}
		if s.grad[t] >= gmax2 {
			gmax2 = s.grad[t]
		}
		diff := gmax + s.grad[t]
		if diff <= 0 {
			continue
		}
		quad := s.diag[i] + s.diag[t] - 2*qi[t]
		if quad <= 0 {
			quad = tau
		}
		if obj := -(diff * diff) / quad; obj <= best {
			best = obj
			j = t
		}
	}
	if gmax+gmax2 < tol || j == -1 {
		return 0, 0, false
	}
	return i, j, true
}

// update moves alpha[i] and alpha[j] along the equality constraint, clips to
// the box, and refreshes the gradient.
func (s *solver) update(i, j int) {
	qi := s.row(i)
	qj := s.row(j)
	oldI, oldJ := s.alpha[i], s.alpha[j]

	quad := s.diag[i] + s.diag[j] - 2*qi[j]
	if quad <= 0 {
		quad = tau
	}
	delta := (s.grad[i] - s.grad[j]) / quad
	sum := oldI + oldJ
	ai := oldI - delta
	aj := oldJ + delta

	if sum > 1 {
		if ai > 1 {
			ai = 1
			aj = sum - 1
		}
	} else if aj < 0 {
		aj = 0
		ai = sum
	}
	if sum > 1 {
		if aj > 1 {
			aj = 1
			ai = sum - 1
		}
	} else if ai < 0 {
		ai = 0
		aj = sum
	}
	s.alpha[i], s.alpha[j] = ai, aj

	di, dj := ai-oldI, aj-oldJ
	for k := range s.grad {
		s.grad[k] += qi[k]*di + qj[k]*dj
	}
}

// rho averages the gradient over free coefficients, falling back to the
// midpoint of the feasible interval when every coefficient is at a bound.
func (s *solver) rho() float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	sumFree, nFree := 0.0, 0
	for t, a := range s.alpha {
		g := s.grad[t]
		switch {
		case a >= 1:
			lb = math.Max(lb, g)
		case a <= 0:
			ub = math.Min(ub, g)
		default:
			nFree++
			sumFree += g
		}
	}
	switch {
	case nFree > 0:
		return sumFree / float64(nFree)
	case math.IsInf(ub, 1):
		return lb
	case math.IsInf(lb, -1):
		return ub
	}
	return (ub + lb) / 2
}

func (s *solver) objective() float64 {
	v := 0.0
	for i, a := range s.alpha {
		v += a * s.grad[i]
	}
	return v / 2
}

// rowCache keeps up to size kernel rows, evicting in insertion order.
type rowCache struct {
	size  int
	rows  map[int][]float64
	order []int
}

func newRowCache(size int) *rowCache {
	return &rowCache{size: size, rows: make(map[int][]float64, size)}
}

func (c *rowCache) get(i int) ([]float64, bool) {
	r, ok := c.rows[i]
	return r, ok
}

func (c *rowCache) put(i int, r []float64) {
	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.rows, oldest)
	}
	c.rows[i] = r
	c.order = append(c.order, i)
}
