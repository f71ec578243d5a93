package model

import (
	"fmt"
	"math"
	"strconv"
)

// Key identifies one grid point.
type Key struct {
	Nu    float64 `json:"nu"`
	Gamma float64 `json:"gamma"`
}

func (k Key) String() string {
	return "nu=" + strconv.FormatFloat(k.Nu, 'g', -1, 64) + ",gamma=" + strconv.FormatFloat(k.Gamma, 'g', -1, 64)
}

// Grid is the hyperparameter grid that defines the shape of a Bank. Trainer
// and serving path must be configured with the same grid.
type Grid struct {
	Nus    []float64 `toml:"nus" json:"nus" yaml:"nus"`
	Gammas []float64 `toml:"gammas" json:"gammas" yaml:"gammas"`
}

// DefaultGrid returns the 3 x 6 production grid.
func DefaultGrid() Grid {
	return Grid{
		Nus:    []float64{0.001, 0.005, 0.01},
		Gammas: []float64{0.05, 0.07, 0.1, 0.15, 0.2, 0.5},
	}
}

// Keys returns every grid point, nu-major.
func (g Grid) Keys() []Key {
	keys := make([]Key, 0, g.Size())
	for _, nu := range g.Nus {
		for _, gamma := range g.Gammas {
			keys = append(keys, Key{Nu: nu, Gamma: gamma})
		}
	}
	return keys
}

// Size returns the number of grid points.
func (g Grid) Size() int { return len(g.Nus) * len(g.Gammas) }

// Contains reports whether k is a grid point.
func (g Grid) Contains(k Key) bool {
	return indexOf(g.Nus, k.Nu) >= 0 && indexOf(g.Gammas, k.Gamma) >= 0
}

// Validate checks that the grid is non-empty, duplicate-free and in range.
func (g Grid) Validate() error {
	if len(g.Nus) == 0 || len(g.Gammas) == 0 {
		return fmt.Errorf("%w: grid needs at least one nu and one gamma", ErrInvalidGrid)
	}
	for i, nu := range g.Nus {
		if !(nu > 0 && nu <= 1) {
			return fmt.Errorf("%w: nu %v outside (0, 1]", ErrInvalidGrid, nu)
		}
		if indexOf(g.Nus[:i], nu) >= 0 {
			return fmt.Errorf("%w: duplicate nu %v", ErrInvalidGrid, nu)
		}
	}
	for i, gamma := range g.Gammas {
		if !(gamma > 0) || math.IsInf(gamma, 0) {
			return fmt.Errorf("%w: gamma %v must be positive", ErrInvalidGrid, gamma)
		}
		if indexOf(g.Gammas[:i], gamma) >= 0 {
			return fmt.Errorf("%w: duplicate gamma %v", ErrInvalidGrid, gamma)
		}
	}
	return nil
}

func indexOf(xs []float64, v float64) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
