package kernels

import (
	"fmt"
	"math"

	"github.com/cwbudde/markfit/internal/mpp"
)

// SiteSampler draws candidate birth sites. sitemap.Map implements it.
type SiteSampler interface {
	Sample(rng *mpp.Rand) (x, y float64, ok bool)
}

// Birth adds one circle at a sampled site
type Birth struct {
	Bounds Bounds
	Sites  SiteSampler // Uniform over the image when nil
}

func (Birth) Name() string { return NameBirth }

func (k Birth) Propose(current *mpp.Configuration, rng *mpp.Rand) mpp.Proposal {
	var x, y float64
	if k.Sites != nil {
		var ok bool
		x, y, ok = k.Sites.Sample(rng)
		if !ok {
			return mpp.Failed(NameBirth, mpp.ReasonNoValidSite, "site map has no weight left")
		}
	} else {
		x = rng.Uniform(0, k.Bounds.Width)
		y = rng.Uniform(0, k.Bounds.Height)
	}

	c := mpp.Circle{X: x, Y: y, R: k.Bounds.RandomRadius(rng)}
	if !k.Bounds.Valid(c) {
		return mpp.Failed(NameBirth, mpp.ReasonConstraintViolated, "sampled circle "+c.String()+" out of bounds")
	}
	next, _ := current.WithMarks(c)
	return mpp.Candidate(next)
}

// Death removes a uniformly chosen circle
type Death struct{}

func (Death) Name() string { return NameDeath }

func (Death) Propose(current *mpp.Configuration, rng *mpp.Rand) mpp.Proposal {
	if current.Len() == 0 {
		return mpp.Failed(NameDeath, mpp.ReasonEmptyConfiguration, "")
	}
	return mpp.Candidate(current.Without(pick(current, rng).ID))
}

// Move jitters the centre and radius of one circle. The moved circle is a
// new mark.
type Move struct {
	Bounds      Bounds
	Sigma       float64 // Centre jitter in pixels
	RadiusSigma float64
}

func (Move) Name() string { return NameMove }

func (k Move) Propose(current *mpp.Configuration, rng *mpp.Rand) mpp.Proposal {
	if current.Len() == 0 {
		return mpp.Failed(NameMove, mpp.ReasonEmptyConfiguration, "")
	}
	m := pick(current, rng)
	moved := mpp.Circle{
		X: rng.NormFloat64(m.Shape.X, k.Sigma),
		Y: rng.NormFloat64(m.Shape.Y, k.Sigma),
		R: rng.NormFloat64(m.Shape.R, k.RadiusSigma),
	}
	if !k.Bounds.Valid(moved) {
		return mpp.Failed(NameMove, mpp.ReasonConstraintViolated, fmt.Sprintf("moved circle %s out of bounds", moved))
	}
	return replace(NameMove, current, []mpp.MarkID{m.ID}, moved)
}

// Split replaces one circle by two half-area circles placed side by side
// along a random axis.
type Split struct {
	Bounds Bounds
}

func (Split) Name() string { return NameSplit }

func (k Split) Propose(current *mpp.Configuration, rng *mpp.Rand) mpp.Proposal {
	if current.Len() == 0 {
		return mpp.Failed(NameSplit, mpp.ReasonEmptyConfiguration, "")
	}
	m := pick(current, rng)
	r := m.Shape.R / math.Sqrt2
	if r < k.Bounds.MinRadius {
		return mpp.Failed(NameSplit, mpp.ReasonConstraintViolated, fmt.Sprintf("mark %d too small to split", m.ID))
	}

	angle := rng.Uniform(0, 2*math.Pi)
	dx, dy := r*math.Cos(angle), r*math.Sin(angle)
	a := mpp.Circle{X: m.Shape.X + dx, Y: m.Shape.Y + dy, R: r}
	b := mpp.Circle{X: m.Shape.X - dx, Y: m.Shape.Y - dy, R: r}
	if !k.Bounds.Valid(a) || !k.Bounds.Valid(b) {
		return mpp.Failed(NameSplit, mpp.ReasonConstraintViolated, fmt.Sprintf("split of mark %d leaves the image", m.ID))
	}
	return replace(NameSplit, current, []mpp.MarkID{m.ID}, a, b)
}

// Merge joins a circle with its nearest neighbour into one circle of the
// combined area at the area-weighted centroid. Neighbours further apart
// than Reach times the sum of their radii are not merged.
type Merge struct {
	Bounds Bounds
	Reach  float64
}

func (Merge) Name() string { return NameMerge }

func (k Merge) Propose(current *mpp.Configuration, rng *mpp.Rand) mpp.Proposal {
	switch current.Len() {
	case 0:
		return mpp.Failed(NameMerge, mpp.ReasonEmptyConfiguration, "")
	case 1:
		return mpp.Failed(NameMerge, mpp.ReasonConstraintViolated, "need two marks to merge")
	}

	reach := k.Reach
	if reach <= 0 {
		reach = 1
	}

	m := pick(current, rng)
	var (
		partner mpp.Mark
		found   bool
		bestD   = math.Inf(1)
	)
	for _, o := range current.Marks() {
		if o.ID == m.ID {
			continue
		}
		d := math.Hypot(o.Shape.X-m.Shape.X, o.Shape.Y-m.Shape.Y)
		if d <= reach*(o.Shape.R+m.Shape.R) && d < bestD {
			partner, found, bestD = o, true, d
		}
	}
	if !found {
		return mpp.Failed(NameMerge, mpp.ReasonNoValidSite, fmt.Sprintf("mark %d has no neighbour in reach", m.ID))
	}

	a1, a2 := m.Shape.Area(), partner.Shape.Area()
	merged := mpp.Circle{
		X: (m.Shape.X*a1 + partner.Shape.X*a2) / (a1 + a2),
		Y: (m.Shape.Y*a1 + partner.Shape.Y*a2) / (a1 + a2),
		R: math.Hypot(m.Shape.R, partner.Shape.R),
	}
	if !k.Bounds.Valid(merged) {
		return mpp.Failed(NameMerge, mpp.ReasonConstraintViolated, fmt.Sprintf("merged circle %s out of bounds", merged))
	}
	return replace(NameMerge, current, []mpp.MarkID{m.ID, partner.ID}, merged)
}
