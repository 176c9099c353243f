package fit

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/cwbudde/markfit/internal/config"
	"github.com/cwbudde/markfit/internal/kernels"
	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/cwbudde/markfit/internal/opt"
	"github.com/cwbudde/markfit/internal/sitemap"
)

// Pipeline wires a run configuration and a reference image into an
// optimizer. Callers attach receivers to Bus before calling Execute and
// may fire Trigger from any goroutine to stop the run early.
type Pipeline struct {
	Run       config.Run
	Reference *image.NRGBA
	Luminance *Luminance
	Evaluator *Evaluator
	Sites     *sitemap.Map
	Kernels   *mpp.KernelSet
	Bounds    kernels.Bounds
	Trigger   *mpp.Trigger
	Bus       *mpp.FeedbackBus
	Logger    *slog.Logger
}

// NewPipeline builds every component of a run
func NewPipeline(run config.Run, reference *image.NRGBA) (*Pipeline, error) {
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run configuration: %w", err)
	}

	lum := NewLuminance(reference)
	polarity := ParsePolarity(run.Energy.Polarity)

	evaluator, err := NewEvaluator(lum, EnergyOptions{
		ContrastWeight: run.Energy.ContrastWeight,
		OverlapWeight:  run.Energy.OverlapWeight,
		CountPenalty:   run.Energy.CountPenalty,
		ShellWidth:     run.Energy.ShellWidth,
		Polarity:       polarity,
		CacheSize:      run.Energy.CacheSize,
		Workers:        run.Energy.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}

	sites, err := sitemap.New(sitemap.Options{
		Width:       lum.Width,
		Height:      lum.Height,
		CellSize:    run.SiteMap.CellSize,
		Suppression: run.SiteMap.Suppression,
		Prior:       brightnessPrior(lum, polarity),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create site map: %w", err)
	}

	bounds := kernels.Bounds{
		Width:     float64(lum.Width),
		Height:    float64(lum.Height),
		MinRadius: run.Radius.Min,
		MaxRadius: run.Radius.Max,
	}

	ks, err := buildKernels(run.Kernels, bounds, sites, evaluator)
	if err != nil {
		return nil, fmt.Errorf("failed to build kernels: %w", err)
	}

	slog.Debug("Pipeline ready",
		"width", lum.Width,
		"height", lum.Height,
		"polarity", run.Energy.Polarity,
		"schedule", run.Schedule.Kind)

	return &Pipeline{
		Run:       run,
		Reference: reference,
		Luminance: lum,
		Evaluator: evaluator,
		Sites:     sites,
		Kernels:   ks,
		Bounds:    bounds,
		Trigger:   mpp.NewTrigger(),
		Bus:       mpp.NewFeedbackBus(),
	}, nil
}

// Execute runs the optimizer from initial (nil starts empty). Cancelling
// ctx stops the chain at the next iteration boundary.
func (p *Pipeline) Execute(ctx context.Context, initial *mpp.Configuration) (*mpp.Result, error) {
	for _, m := range initial.Marks() {
		if !p.Bounds.Valid(m.Shape) {
			return nil, fmt.Errorf("initial mark %d %s is outside the image or radius bounds", m.ID, m.Shape)
		}
	}

	o, err := mpp.New(mpp.Options{
		Kernels:       p.Kernels,
		Schedule:      Schedule(p.Run),
		Acceptance:    mpp.Metropolis{},
		Termination:   p.termination(ctx),
		Evaluator:     p.Evaluator,
		MarkSet:       p.Sites,
		Bus:           p.Bus,
		Direction:     p.Direction(),
		SeedBest:      initial.Len() > 0,
		Seed:          p.Run.Seed,
		WallClockSeed: p.Run.WallClockSeed,
		Logger:        p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}
	return o.Run(ctx, initial)
}

// Direction returns the optimization direction of the run
func (p *Pipeline) Direction() mpp.Direction {
	if p.Run.Direction == "minimize" {
		return mpp.Minimize
	}
	return mpp.Maximize
}

func (p *Pipeline) termination(ctx context.Context) mpp.TerminationCondition {
	conds := mpp.AnyOf{p.Trigger, mpp.ContextDone{Ctx: ctx}}
	if p.Run.Iterations > 0 {
		conds = append(conds, mpp.MaxIterations(p.Run.Iterations))
	}
	if p.Run.TimeLimit > 0 {
		conds = append(conds, mpp.WallClock(time.Duration(p.Run.TimeLimit*float64(time.Second))))
	}
	if p.Run.Plateau.Patience > 0 {
		conds = append(conds, mpp.NewPlateau(p.Run.Plateau.Patience, p.Run.Plateau.Tolerance))
	}
	return conds
}

// Schedule builds the annealing schedule of a run. Geometric and linear
// cooling span the iteration budget.
func Schedule(run config.Run) mpp.AnnealingSchedule {
	s := run.Schedule
	switch s.Kind {
	case "constant":
		return mpp.Constant(s.Start)
	case "exponential":
		return mpp.Exponential{Start: s.Start, Decay: s.Decay, Floor: s.End}
	case "linear":
		return mpp.Linear{Start: s.Start, End: s.End, Iterations: run.Iterations}
	default:
		return mpp.Geometric{Start: s.Start, End: s.End, Iterations: run.Iterations}
	}
}

func buildKernels(cfg config.KernelConfig, bounds kernels.Bounds, sites *sitemap.Map, cost kernels.MarkCost) (*mpp.KernelSet, error) {
	catalogue := map[string]mpp.Kernel{
		kernels.NameBirth: kernels.Birth{Bounds: bounds, Sites: sites},
		kernels.NameDeath: kernels.Death{},
		kernels.NameMove:  kernels.Move{Bounds: bounds, Sigma: cfg.MoveSigma, RadiusSigma: cfg.MoveRadiusSigma},
		kernels.NameSplit: kernels.Split{Bounds: bounds},
		kernels.NameMerge: kernels.Merge{Bounds: bounds, Reach: cfg.MergeReach},
		kernels.NameRefine: kernels.Refine{
			Bounds:      bounds,
			Cost:        cost,
			Optimizers:  opt.MayflyFactory(cfg.RefineIterations, cfg.RefinePopulation),
			Window:      cfg.RefineWindow,
			RadiusRange: cfg.RefineRadiusRange,
		},
	}

	// Fixed order keeps selection reproducible
	weighted := []struct {
		name   string
		weight float64
	}{
		{kernels.NameBirth, cfg.Birth},
		{kernels.NameDeath, cfg.Death},
		{kernels.NameMove, cfg.Move},
		{kernels.NameSplit, cfg.Split},
		{kernels.NameMerge, cfg.Merge},
		{kernels.NameRefine, cfg.Refine},
	}

	var set []mpp.KernelWithWeight
	for _, w := range weighted {
		if w.weight > 0 {
			set = append(set, mpp.KernelWithWeight{Kernel: catalogue[w.name], Weight: w.weight})
		}
	}

	var initial mpp.Kernel
	if cfg.Initial != "" {
		k, ok := catalogue[cfg.Initial]
		if !ok {
			return nil, fmt.Errorf("unknown initial kernel %q", cfg.Initial)
		}
		initial = k
	}
	return mpp.NewKernelSet(initial, set...)
}

// brightnessPrior weights birth sites by how much they look like an object
func brightnessPrior(lum *Luminance, polarity Polarity) sitemap.PriorFunc {
	return func(x, y float64) float64 {
		px := min(int(x), lum.Width-1)
		py := min(int(y), lum.Height-1)
		v := lum.At(px, py)
		if polarity == Dark {
			v = 1 - v
		}
		// Keep every cell reachable
		return v + 1e-3
	}
}
