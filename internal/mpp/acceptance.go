package mpp

import "math"

// Direction says whether higher or lower energy totals are preferred
type Direction int

const (
	Maximize Direction = iota
	Minimize
)

func (d Direction) String() string {
	if d == Minimize {
		return "minimize"
	}
	return "maximize"
}

// Score maps an energy total to a value where larger is always better
func (d Direction) Score(e EnergyBreakdown) float64 {
	if d == Minimize {
		return -e.Total
	}
	return e.Total
}

// Improvement returns the signed gain of proposed over current
func (d Direction) Improvement(current, proposed EnergyBreakdown) float64 {
	return d.Score(proposed) - d.Score(current)
}

// AcceptanceCriterion turns a signed improvement and a temperature into an
// acceptance probability in [0, 1].
type AcceptanceCriterion interface {
	Probability(improvement, temperature float64) float64
}

// Metropolis is the classic exp(delta/T) rule
type Metropolis struct{}

func (Metropolis) Probability(improvement, temperature float64) float64 {
	if math.IsNaN(improvement) {
		return 0
	}
	if improvement >= 0 {
		return 1
	}
	if temperature <= 0 || math.IsNaN(temperature) {
		return 0
	}
	p := math.Exp(improvement / temperature)
	return clamp01(p)
}

// Decide applies a criterion. With no best yet the proposal is always
// accepted so the chain can leave an empty start. Otherwise one uniform
// draw r is taken and the step is accepted when r <= p.
func Decide(c AcceptanceCriterion, improvement, temperature float64, hasBest bool, rng *Rand) (accepted bool, p float64) {
	p = clamp01(c.Probability(improvement, temperature))
	if !hasBest {
		return true, p
	}
	r := rng.Float64()
	if p <= 0 {
		return false, p
	}
	return r <= p, p
}

func clamp01(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
