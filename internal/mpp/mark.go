package mpp

import (
	"fmt"
	"math"
)

// MarkID identifies a mark within a configuration lineage
type MarkID uint64

// Circle is the geometric primitive of a mark
type Circle struct {
	X, Y, R float64 // Centre and radius in pixels
}

// Area returns the disc area
func (c Circle) Area() float64 {
	return math.Pi * c.R * c.R
}

// Contains reports whether the point (x,y) lies inside the disc
func (c Circle) Contains(x, y float64) bool {
	dx := x - c.X
	dy := y - c.Y
	return dx*dx+dy*dy <= c.R*c.R
}

// IntersectionArea returns the area shared by two discs
func (c Circle) IntersectionArea(o Circle) float64 {
	d := math.Hypot(c.X-o.X, c.Y-o.Y)
	if d >= c.R+o.R {
		return 0
	}

	// One disc fully inside the other
	if d <= math.Abs(c.R-o.R) {
		r := math.Min(c.R, o.R)
		return math.Pi * r * r
	}

	r1, r2 := c.R, o.R
	a1 := r1 * r1 * math.Acos((d*d+r1*r1-r2*r2)/(2*d*r1))
	a2 := r2 * r2 * math.Acos((d*d+r2*r2-r1*r1)/(2*d*r2))
	a3 := 0.5 * math.Sqrt((-d+r1+r2)*(d+r1-r2)*(d-r1+r2)*(d+r1+r2))
	return a1 + a2 - a3
}

func (c Circle) String() string {
	return fmt.Sprintf("(%.2f,%.2f r=%.2f)", c.X, c.Y, c.R)
}

// RegionSet is a bitmask of the image regions a mark is scored on
type RegionSet uint8

const (
	// RegionInterior is the disc itself
	RegionInterior RegionSet = 1 << iota
	// RegionShell is the ring just outside the disc
	RegionShell

	// RegionsAll scores a mark on every region
	RegionsAll = RegionInterior | RegionShell
)

// Has reports whether r contains every region in other
func (r RegionSet) Has(other RegionSet) bool {
	return r&other == other
}

// Mark is an identified circle. Marks are immutable: kernels create new
// marks (with new ids) instead of changing existing ones.
type Mark struct {
	ID      MarkID    `json:"id"`
	Shape   Circle    `json:"shape"`
	Regions RegionSet `json:"regions"`
}
