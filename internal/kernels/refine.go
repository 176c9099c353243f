package kernels

import (
	"fmt"
	"math"

	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/cwbudde/markfit/internal/opt"
)

// MarkCost scores a single circle on its own, lower is better
type MarkCost interface {
	MarkCost(c mpp.Circle) float64
}

// Refine runs a short continuous optimization of one circle's centre and
// radius inside a local window and proposes the refined circle.
type Refine struct {
	Bounds     Bounds
	Cost       MarkCost
	Optimizers opt.Factory

	// Window is how far the centre may travel, in radii
	Window float64
	// RadiusRange is the allowed relative change of the radius
	RadiusRange float64
}

func (Refine) Name() string { return NameRefine }

func (k Refine) Propose(current *mpp.Configuration, rng *mpp.Rand) mpp.Proposal {
	if current.Len() == 0 {
		return mpp.Failed(NameRefine, mpp.ReasonEmptyConfiguration, "")
	}
	if k.Cost == nil || k.Optimizers == nil {
		return mpp.Failed(NameRefine, mpp.ReasonRefinementFailed, "no cost or optimizer configured")
	}

	m := pick(current, rng)
	seed := rng.Int63()

	window := math.Max(1, k.windowOrDefault()*m.Shape.R)
	rr := k.radiusRangeOrDefault()
	lower := []float64{
		math.Max(0, m.Shape.X-window),
		math.Max(0, m.Shape.Y-window),
		math.Max(k.Bounds.MinRadius, m.Shape.R*(1-rr)),
	}
	upper := []float64{
		math.Min(k.Bounds.Width, m.Shape.X+window),
		math.Min(k.Bounds.Height, m.Shape.Y+window),
		math.Min(k.Bounds.MaxRadius, m.Shape.R*(1+rr)),
	}

	eval := func(p []float64) float64 {
		return k.Cost.MarkCost(mpp.Circle{X: p[0], Y: p[1], R: p[2]})
	}
	best, cost := k.Optimizers(seed).Run(eval, lower, upper, 3)
	if len(best) != 3 {
		return mpp.Failed(NameRefine, mpp.ReasonRefinementFailed, fmt.Sprintf("optimizer returned %d parameters", len(best)))
	}

	base := k.Cost.MarkCost(m.Shape)
	if !(cost < base) {
		return mpp.Failed(NameRefine, mpp.ReasonRefinementFailed, fmt.Sprintf("no local improvement for mark %d", m.ID))
	}

	refined := k.Bounds.Clamp(mpp.Circle{X: best[0], Y: best[1], R: best[2]})
	return replace(NameRefine, current, []mpp.MarkID{m.ID}, refined)
}

func (k Refine) windowOrDefault() float64 {
	if k.Window <= 0 {
		return 0.5
	}
	return k.Window
}

func (k Refine) radiusRangeOrDefault() float64 {
	if k.RadiusRange <= 0 || k.RadiusRange >= 1 {
		return 0.5
	}
	return k.RadiusRange
}
