package fit

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/markfit/internal/mpp"
)

// Energy term names
const (
	TermContrast = "contrast"
	TermOverlap  = "overlap"
	TermCount    = "count"
)

// EnergyOptions weights the terms of the segmentation energy
type EnergyOptions struct {
	ContrastWeight float64
	OverlapWeight  float64
	CountPenalty   float64
	ShellWidth     float64
	Polarity       Polarity
	CacheSize      int // Per-mark contrast cache entries, 0 disables caching
	Workers        int // 0 uses GOMAXPROCS
}

type cacheKey struct {
	shape   mpp.Circle
	regions mpp.RegionSet
}

// Evaluator scores configurations of circles against a reference image.
// Higher is better:
//
//	total = contrast_weight * sum(contrast) - overlap_weight * overlap - count_penalty * n
//
// Per-mark contrast only depends on the circle geometry and is cached.
// Evaluator is safe for concurrent use.
type Evaluator struct {
	lum   *Luminance
	opts  EnergyOptions
	cache *lru.Cache[cacheKey, float64]

	hits, misses atomic.Int64
}

// NewEvaluator creates an evaluator for a reference image
func NewEvaluator(lum *Luminance, opts EnergyOptions) (*Evaluator, error) {
	if lum == nil || lum.Width == 0 || lum.Height == 0 {
		return nil, fmt.Errorf("reference image is empty")
	}
	if opts.ShellWidth <= 0 {
		return nil, fmt.Errorf("shell width must be positive")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	e := &Evaluator{lum: lum, opts: opts}
	if opts.CacheSize > 0 {
		cache, err := lru.New[cacheKey, float64](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create contrast cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Evaluate implements mpp.Evaluator
func (e *Evaluator) Evaluate(ctx context.Context, c *mpp.Configuration) (mpp.EnergyBreakdown, error) {
	marks := c.Marks()
	for _, m := range marks {
		s := m.Shape
		if !finite(s.X) || !finite(s.Y) || !finite(s.R) || s.R <= 0 {
			return mpp.EnergyBreakdown{}, fmt.Errorf("mark %d has invalid geometry %s", m.ID, s)
		}
	}

	contrasts := make([]float64, len(marks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, m := range marks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			contrasts[i] = e.contrast(m.Shape, m.Regions)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return mpp.EnergyBreakdown{}, fmt.Errorf("failed to measure marks: %w", err)
	}

	var contrast float64
	for _, v := range contrasts {
		contrast += v
	}

	terms := map[string]float64{
		TermContrast: e.opts.ContrastWeight * contrast,
		TermOverlap:  -e.opts.OverlapWeight * OverlapPenalty(marks),
		TermCount:    -e.opts.CountPenalty * float64(len(marks)),
	}
	return mpp.EnergyBreakdown{
		Total: terms[TermContrast] + terms[TermOverlap] + terms[TermCount],
		Terms: terms,
	}, nil
}

// MarkCost scores one circle on its own for local refinement, lower is
// better. Implements kernels.MarkCost.
func (e *Evaluator) MarkCost(c mpp.Circle) float64 {
	if !finite(c.X) || !finite(c.Y) || !finite(c.R) || c.R <= 0 {
		return math.Inf(1)
	}
	return -e.opts.ContrastWeight*e.contrast(c, mpp.RegionsAll) + e.opts.CountPenalty
}

// CacheStats returns cache hits and misses so far
func (e *Evaluator) CacheStats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

func (e *Evaluator) contrast(c mpp.Circle, regions mpp.RegionSet) float64 {
	key := cacheKey{shape: c, regions: regions}
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			e.hits.Add(1)
			return v
		}
	}
	e.misses.Add(1)

	v := MeasureRegions(e.lum, c, e.opts.ShellWidth, regions).Contrast(e.opts.Polarity)
	if e.cache != nil {
		e.cache.Add(key, v)
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
