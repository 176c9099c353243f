package mpp

import "math"

// AnnealingSchedule maps an iteration index to a temperature. Schedules are
// pure functions of the index; by convention they do not increase.
type AnnealingSchedule interface {
	Temperature(iteration int) float64
}

// ScheduleFunc adapts a function to AnnealingSchedule
type ScheduleFunc func(iteration int) float64

func (f ScheduleFunc) Temperature(iteration int) float64 {
	return f(iteration)
}

// Constant keeps the same temperature for the whole run
type Constant float64

func (c Constant) Temperature(int) float64 {
	return float64(c)
}

// Exponential cools as Start * Decay^iteration, never below Floor
type Exponential struct {
	Start float64
	Decay float64
	Floor float64
}

func (e Exponential) Temperature(iteration int) float64 {
	t := e.Start * math.Pow(e.Decay, float64(iteration))
	if t < e.Floor {
		return e.Floor
	}
	return t
}

// Geometric cools from Start to End across Iterations steps
type Geometric struct {
	Start      float64
	End        float64
	Iterations int
}

func (g Geometric) Temperature(iteration int) float64 {
	if g.Iterations <= 1 || iteration >= g.Iterations-1 {
		return g.End
	}
	if g.Start <= 0 || g.End <= 0 {
		// Avoid log of non-positive values
		return 1e-9
	}
	frac := float64(iteration) / float64(g.Iterations-1)
	return g.Start * math.Pow(g.End/g.Start, frac)
}

// Linear cools linearly from Start to End across Iterations steps
type Linear struct {
	Start      float64
	End        float64
	Iterations int
}

func (l Linear) Temperature(iteration int) float64 {
	if l.Iterations <= 1 || iteration >= l.Iterations-1 {
		return l.End
	}
	frac := float64(iteration) / float64(l.Iterations-1)
	return l.Start + frac*(l.End-l.Start)
}
