package opt

import (
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minPopulation is the smallest swarm mayfly v0.1.0 accepts
const minPopulation = 20

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	if popSize < minPopulation {
		popSize = minPopulation
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// MayflyFactory returns a Factory producing adapters with fixed budgets
func MayflyFactory(maxIters, popSize int) Factory {
	return func(seed int64) Optimizer {
		return NewMayfly(maxIters, popSize, seed)
	}
}

// Run executes the Mayfly optimization using the external library.
//
// Mayfly only knows one scalar range for all dimensions, so the search runs
// in the unit cube and every position is mapped onto [lower[i], upper[i]]
// before it reaches eval.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	scale := func(unit []float64) []float64 {
		out := make([]float64, dim)
		for i := 0; i < dim; i++ {
			u := unit[i]
			if u < 0 {
				u = 0
			} else if u > 1 {
				u = 1
			}
			out[i] = lower[i] + u*(upper[i]-lower[i])
		}
		return out
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(unit []float64) float64 {
		return eval(scale(unit))
	}
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1

	// Set random seed for reproducibility
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		// Fall back to the centre of the box
		slog.Warn("Mayfly optimization failed", "error", err, "dim", dim)
		centre := make([]float64, dim)
		for i := range centre {
			centre[i] = 0.5
		}
		params := scale(centre)
		return params, eval(params)
	}

	return scale(result.GlobalBest.Position), result.GlobalBest.Cost
}
