package fit

import (
	"math"

	"github.com/cwbudde/markfit/internal/mpp"
)

// Polarity says whether objects are brighter or darker than their surroundings
type Polarity int

const (
	Bright Polarity = iota
	Dark
)

// ParsePolarity maps "bright" / "dark"
func ParsePolarity(s string) Polarity {
	if s == "dark" {
		return Dark
	}
	return Bright
}

// RegionStats are the mean luminances of a circle's interior and of the ring
// of width shell just outside it.
type RegionStats struct {
	Interior, Shell   float64
	NInterior, NShell int
}

// Contrast returns interior minus shell mean, signed by polarity. Circles
// without pixels in either region score zero.
func (s RegionStats) Contrast(p Polarity) float64 {
	if s.NInterior == 0 || s.NShell == 0 {
		return 0
	}
	d := s.Interior - s.Shell
	if p == Dark {
		return -d
	}
	return d
}

// MeasureRegions scans the bounding box of the circle plus its shell
func MeasureRegions(l *Luminance, c mpp.Circle, shell float64, regions mpp.RegionSet) RegionStats {
	outer := c.R + shell
	minX := int(math.Max(0, math.Floor(c.X-outer)))
	maxX := int(math.Min(float64(l.Width-1), math.Ceil(c.X+outer)))
	minY := int(math.Max(0, math.Floor(c.Y-outer)))
	maxY := int(math.Min(float64(l.Height-1), math.Ceil(c.Y+outer)))

	r2 := c.R * c.R
	o2 := outer * outer

	var s RegionStats
	var sumIn, sumShell float64
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			// Sample at pixel centres
			dx := float64(x) + 0.5 - c.X
			dy := float64(y) + 0.5 - c.Y
			d2 := dx*dx + dy*dy
			switch {
			case d2 <= r2:
				if regions.Has(mpp.RegionInterior) {
					sumIn += l.At(x, y)
					s.NInterior++
				}
			case d2 <= o2:
				if regions.Has(mpp.RegionShell) {
					sumShell += l.At(x, y)
					s.NShell++
				}
			}
		}
	}

	if s.NInterior > 0 {
		s.Interior = sumIn / float64(s.NInterior)
	}
	if s.NShell > 0 {
		s.Shell = sumShell / float64(s.NShell)
	}
	return s
}

// OverlapPenalty sums, over every pair, the shared area relative to the
// smaller disc. Two identical circles contribute 1.
func OverlapPenalty(marks []mpp.Mark) float64 {
	var total float64
	for i := 0; i < len(marks); i++ {
		a := marks[i].Shape
		for j := i + 1; j < len(marks); j++ {
			b := marks[j].Shape
			if math.Abs(a.X-b.X) >= a.R+b.R || math.Abs(a.Y-b.Y) >= a.R+b.R {
				continue
			}
			shared := a.IntersectionArea(b)
			if shared == 0 {
				continue
			}
			total += shared / math.Min(a.Area(), b.Area())
		}
	}
	return total
}
