package mpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Evaluator scores a configuration. It must be deterministic and free of
// side effects; it may parallelize internally.
type Evaluator interface {
	Evaluate(ctx context.Context, c *Configuration) (EnergyBreakdown, error)
}

// EvaluatorFunc adapts a function to Evaluator
type EvaluatorFunc func(ctx context.Context, c *Configuration) (EnergyBreakdown, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, c *Configuration) (EnergyBreakdown, error) {
	return f(ctx, c)
}

// Phase is the lifecycle state of an Optimizer
type Phase int32

const (
	PhaseBootstrapping Phase = iota
	PhaseIterating
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseIterating:
		return "iterating"
	case PhaseTerminated:
		return "terminated"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Outcome tells a normal stop from an abort
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeEarlyAbort Outcome = "early_abort"
)

// Abort stages
const (
	StageBootstrap = "bootstrap"
	StageEvaluate  = "evaluate"
	StageMarkSet   = "mark_set"
)

// ErrAborted matches every AbortError via errors.Is
var ErrAborted = errors.New("optimization aborted")

// AbortError reports a fatal failure that terminated a run early
type AbortError struct {
	Stage     string
	Iteration int
	Err       error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("optimization aborted at iteration %d (%s): %v", e.Iteration, e.Stage, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is
func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}

// Result is what a run returns and what RunObservers receive at the end
type Result struct {
	Best       *Configuration
	Energy     EnergyBreakdown
	Iterations int
	Elapsed    time.Duration
	Outcome    Outcome
	Reason     string
	Accepted   int
	Rejected   int
	Failed     int
	Seed       int64
}

// Options configures an Optimizer
type Options struct {
	Kernels     *KernelSet
	Schedule    AnnealingSchedule
	Acceptance  AcceptanceCriterion // Metropolis when nil
	Termination TerminationCondition
	Evaluator   Evaluator
	MarkSet     UpdatableMarkSet // optional
	Bus         *FeedbackBus     // optional
	Direction   Direction

	// SeedBest makes a non-empty evaluated initial configuration the best
	// to beat, so a resumed chain never reports a worse best. An empty
	// initial still bootstraps through unconditional acceptance.
	SeedBest bool

	// Rand takes precedence over Seed. WallClockSeed ignores Seed.
	Rand          *Rand
	Seed          int64
	WallClockSeed bool

	Logger *slog.Logger
}

// Optimizer runs one simulated-annealing chain over configurations
type Optimizer struct {
	opts  Options
	rng   *Rand
	log   *slog.Logger
	phase atomic.Int32
	used  atomic.Bool
}

// New validates options and creates an optimizer
func New(opts Options) (*Optimizer, error) {
	if opts.Kernels == nil {
		return nil, fmt.Errorf("kernel set is required")
	}
	if opts.Schedule == nil {
		return nil, fmt.Errorf("annealing schedule is required")
	}
	if opts.Termination == nil {
		return nil, fmt.Errorf("termination condition is required")
	}
	if opts.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if opts.Acceptance == nil {
		opts.Acceptance = Metropolis{}
	}
	if opts.Bus == nil {
		opts.Bus = NewFeedbackBus()
	}

	rng := opts.Rand
	switch {
	case rng != nil:
	case opts.WallClockSeed:
		rng = NewWallClockRand()
	default:
		rng = NewRand(opts.Seed)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Optimizer{opts: opts, rng: rng, log: log}, nil
}

// Phase returns the current lifecycle phase. Safe to call from any goroutine.
func (o *Optimizer) Phase() Phase {
	return Phase(o.phase.Load())
}

// Seed returns the seed of the run's random stream
func (o *Optimizer) Seed() int64 {
	return o.rng.Seed()
}

// Run executes the chain from initial until the termination condition
// fires. A nil initial configuration starts from an empty one.
//
// On a fatal evaluator or mark set failure Run returns the partial result
// (outcome EarlyAbort, best so far preserved) together with an *AbortError.
// ctx is only handed to the evaluator; use a Trigger or ContextDone to stop
// the chain itself.
func (o *Optimizer) Run(ctx context.Context, initial *Configuration) (*Result, error) {
	if !o.used.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("optimizer has already been run")
	}

	start := time.Now()
	o.phase.Store(int32(PhaseBootstrapping))
	if initial == nil {
		initial = Empty()
	}

	dir := o.opts.Direction
	bus := o.opts.Bus
	res := &Result{Seed: o.rng.Seed()}

	var current, best *Configuration
	iterations := 0

	finish := func(outcome Outcome, reason string) *Result {
		res.Outcome = outcome
		res.Reason = reason
		res.Iterations = iterations
		res.Elapsed = time.Since(start)
		res.Best = best
		if res.Best == nil {
			res.Best = current
		}
		if res.Best == nil {
			res.Best = initial
		}
		res.Energy = res.Best.Energy()
		o.phase.Store(int32(PhaseTerminated))
		return res
	}
	abort := func(stage string, err error) (*Result, error) {
		abortErr := &AbortError{Stage: stage, Iteration: iterations, Err: err}
		o.log.Error("Optimization aborted", "stage", stage, "iteration", iterations, "error", err)
		r := finish(OutcomeEarlyAbort, abortErr.Error())
		bus.runEnded(r)
		return r, abortErr
	}

	energy, err := o.opts.Evaluator.Evaluate(ctx, initial)
	if err != nil {
		return abort(StageBootstrap, fmt.Errorf("failed to evaluate initial configuration: %w", err))
	}
	current = initial.WithEnergy(energy)
	if o.opts.SeedBest && current.Len() > 0 {
		best = current
	}

	if ms := o.opts.MarkSet; ms != nil {
		if err := ms.Reset(current); err != nil {
			return abort(StageMarkSet, fmt.Errorf("failed to reset mark set: %w", err))
		}
	}

	names := make([]string, 0, len(o.opts.Kernels.kernels))
	for _, kw := range o.opts.Kernels.kernels {
		names = append(names, kw.Kernel.Name())
	}
	o.log.Info("Starting optimization",
		"seed", o.rng.Seed(),
		"direction", dir.String(),
		"initial_marks", current.Len(),
		"initial_energy", energy.Total,
		"kernels", names)
	bus.runStarted(RunInfo{
		Seed:      o.rng.Seed(),
		Direction: dir,
		Initial:   current,
		Kernels:   names,
		StartedAt: start,
	})

	var last *Step
	status := func() Status {
		s := Status{
			Iterations:   iterations,
			Elapsed:      time.Since(start),
			HasBest:      best != nil,
			CurrentScore: dir.Score(current.Energy()),
			CurrentSize:  current.Len(),
			LastStep:     last,
		}
		if best != nil {
			s.BestScore = dir.Score(best.Energy())
		}
		return s
	}

	o.phase.Store(int32(PhaseIterating))
	stop, reason := o.opts.Termination.ShouldStop(status())
	for !stop {
		step, err := o.iterate(ctx, iterations, current, best)
		if err != nil {
			return abort(err.Stage, err.Err)
		}

		switch {
		case step.Failed():
			res.Failed++
		case step.Accepted:
			res.Accepted++
			current = step.Proposed
			best = step.Best
		default:
			res.Rejected++
		}
		iterations++

		if step.NewBest {
			bus.newBest(step)
		}
		bus.step(step)

		last = &step
		stop, reason = o.opts.Termination.ShouldStop(status())
	}

	r := finish(OutcomeSuccess, reason)
	o.log.Info("Optimization finished",
		"reason", reason,
		"iterations", r.Iterations,
		"accepted", r.Accepted,
		"rejected", r.Rejected,
		"failed", r.Failed,
		"best_energy", r.Energy.Total,
		"marks", r.Best.Len(),
		"elapsed", r.Elapsed)
	bus.runEnded(r)
	return r, nil
}

// iterate performs one proposal and decision. It returns the step record;
// on accept the mark set has already been brought up to date.
func (o *Optimizer) iterate(ctx context.Context, i int, current, best *Configuration) (Step, *AbortError) {
	began := time.Now()
	dir := o.opts.Direction

	temperature := o.opts.Schedule.Temperature(i)
	kernel := o.opts.Kernels.ForIteration(i, o.rng)
	step := Step{
		Iteration:   i,
		Kernel:      kernel.Name(),
		Temperature: temperature,
		Current:     current,
		Best:        best,
	}

	proposal := kernel.Propose(current, o.rng)
	candidate, ok := proposal.Candidate()
	if !ok {
		failure, _ := proposal.Failure()
		f := *failure
		if f.Kernel == "" {
			f.Kernel = kernel.Name()
		}
		step.Failure = &f
		step.Duration = time.Since(began)
		o.log.Debug("Proposal failed", "iteration", i, "kernel", f.Kernel, "reason", f.Reason, "detail", f.Detail)
		return step, nil
	}

	energy, err := o.opts.Evaluator.Evaluate(ctx, candidate)
	if err != nil {
		return step, &AbortError{
			Stage:     StageEvaluate,
			Iteration: i,
			Err:       fmt.Errorf("failed to evaluate proposal from %s: %w", kernel.Name(), err),
		}
	}
	candidate = candidate.WithEnergy(energy)
	step.Proposed = candidate

	improvement := dir.Improvement(current.Energy(), energy)
	step.Accepted, step.Probability = Decide(o.opts.Acceptance, improvement, temperature, best != nil, o.rng)

	if step.Accepted {
		if best == nil || dir.Score(energy) > dir.Score(best.Energy()) {
			step.Best = candidate
			step.NewBest = true
		}
		if ms := o.opts.MarkSet; ms != nil {
			if err := ms.Apply(Diff(current, candidate)); err != nil {
				return step, &AbortError{
					Stage:     StageMarkSet,
					Iteration: i,
					Err:       fmt.Errorf("failed to update mark set: %w", err),
				}
			}
		}
	}

	step.Duration = time.Since(began)
	return step, nil
}
