// Package kernels holds the proposal kernels that grow, shrink and reshape a
// configuration of circles.
package kernels

import (
	"math"

	"github.com/cwbudde/markfit/internal/mpp"
)

// Kernel names as they appear in logs, traces and configuration
const (
	NameBirth  = "birth"
	NameDeath  = "death"
	NameMove   = "move"
	NameSplit  = "split"
	NameMerge  = "merge"
	NameRefine = "refine"
)

// Bounds limits where circles may live
type Bounds struct {
	Width, Height        float64
	MinRadius, MaxRadius float64
}

// Valid reports whether c has its centre inside the image and an allowed radius
func (b Bounds) Valid(c mpp.Circle) bool {
	return c.X >= 0 && c.X < b.Width &&
		c.Y >= 0 && c.Y < b.Height &&
		c.R >= b.MinRadius && c.R <= b.MaxRadius
}

// Clamp moves c into bounds
func (b Bounds) Clamp(c mpp.Circle) mpp.Circle {
	return mpp.Circle{
		X: clamp(c.X, 0, math.Nextafter(b.Width, 0)),
		Y: clamp(c.Y, 0, math.Nextafter(b.Height, 0)),
		R: clamp(c.R, b.MinRadius, b.MaxRadius),
	}
}

// RandomRadius draws a radius uniformly from the allowed range
func (b Bounds) RandomRadius(rng *mpp.Rand) float64 {
	return rng.Uniform(b.MinRadius, b.MaxRadius)
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}

// pick returns a uniformly chosen mark
func pick(c *mpp.Configuration, rng *mpp.Rand) mpp.Mark {
	return c.At(rng.Intn(c.Len()))
}

// replace swaps one mark for new shapes and wraps the result
func replace(name string, c *mpp.Configuration, remove []mpp.MarkID, shapes ...mpp.Circle) mpp.Proposal {
	next, _, err := c.Replace(remove, shapes...)
	if err != nil {
		return mpp.Failed(name, mpp.ReasonConstraintViolated, err.Error())
	}
	return mpp.Candidate(next)
}
