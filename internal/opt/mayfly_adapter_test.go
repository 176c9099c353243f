package opt

import (
	"math"
	"testing"
)

// Sphere function: f(x) = sum(x_i^2), minimum at origin
func sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func TestMayflyAdapterOnSphere(t *testing.T) {
	optimizer := NewMayfly(100, 20, 42) // maxIters, popSize, seed

	dim := 3
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = -10
		upper[i] = 10
	}

	best, cost := optimizer.Run(sphere, lower, upper, dim)

	if len(best) != dim {
		t.Fatalf("Expected %d parameters, got %d", dim, len(best))
	}

	// Should converge close to zero
	if cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}

	// Check that best params are near origin
	for i, v := range best {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
}

func TestMayflyAdapterHonoursPerDimensionBounds(t *testing.T) {
	// Minimum at (30, -2, 0.5) inside very different ranges
	target := []float64{30, -2, 0.5}
	eval := func(x []float64) float64 {
		var sum float64
		for i, v := range x {
			d := v - target[i]
			sum += d * d
		}
		return sum
	}
	lower := []float64{0, -5, 0}
	upper := []float64{100, 5, 1}

	var seen int
	bounded := func(x []float64) float64 {
		for i, v := range x {
			if v < lower[i] || v > upper[i] {
				t.Fatalf("Parameter %d = %f escaped [%f, %f]", i, v, lower[i], upper[i])
			}
		}
		seen++
		return eval(x)
	}

	best, cost := NewMayfly(150, 30, 7).Run(bounded, lower, upper, 3)
	if seen == 0 {
		t.Fatal("Objective never evaluated")
	}
	if math.Abs(cost-eval(best)) > 1e-9 {
		t.Errorf("Reported cost %f does not match position cost %f", cost, eval(best))
	}
	if math.Abs(best[0]-30) > 2 || math.Abs(best[1]+2) > 0.5 {
		t.Errorf("Expected best near %v, got %v", target, best)
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	dim := 2
	lower := []float64{-5, -5}
	upper := []float64{5, 5}

	// Run twice with same seed
	factory := MayflyFactory(50, 20)
	_, cost1 := factory(123).Run(sphere, lower, upper, dim)
	_, cost2 := factory(123).Run(sphere, lower, upper, dim)

	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestNewMayflyRaisesSmallPopulations(t *testing.T) {
	m := NewMayfly(10, 3, 1).(*MayflyAdapter)
	if m.popSize != minPopulation {
		t.Errorf("Expected population %d, got %d", minPopulation, m.popSize)
	}
}
