package opt

// Optimizer defines a bounded continuous minimiser
type Optimizer interface {
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: per-dimension parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// Factory creates an optimizer for one seeded run
type Factory func(seed int64) Optimizer
