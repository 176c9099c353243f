package mpp

import (
	"fmt"
	"log/slog"
	"math"
	"time"
)

// RunInfo is handed to run observers when a run starts
type RunInfo struct {
	Seed      int64
	Direction Direction
	Initial   *Configuration
	Kernels   []string
	StartedAt time.Time
}

// StepObserver receives the step record from a periodic trigger
type StepObserver interface {
	ObserveStep(step Step) error
}

// StepObserverFunc adapts a function to StepObserver
type StepObserverFunc func(step Step) error

func (f StepObserverFunc) ObserveStep(step Step) error {
	return f(step)
}

// Aggregator accumulates a statistic over every step and is flushed at its
// trigger boundaries and once more at the end of the run.
type Aggregator interface {
	Add(step Step)
	Flush(iteration int, final bool) error
}

// BestObserver is told immediately when the best configuration is replaced
type BestObserver interface {
	NewBest(step Step) error
}

// RunObserver is told when a run starts and ends
type RunObserver interface {
	RunStarted(info RunInfo) error
	RunEnded(result *Result) error
}

// ErrorSink receives feedback failures. Feedback is best effort, so errors
// are reported here and the run carries on.
type ErrorSink func(hook string, err error)

type periodicTrigger struct {
	every    int
	observer StepObserver
}

type aggregateTrigger struct {
	flushEvery int
	aggregator Aggregator
}

// FeedbackBus holds the ordered observer hooks a run reports to. It is
// driven synchronously from the optimization loop and is not safe for
// concurrent use.
type FeedbackBus struct {
	periodic   []periodicTrigger
	aggregates []aggregateTrigger
	best       []BestObserver
	runs       []RunObserver
	sink       ErrorSink
}

// NewFeedbackBus creates an empty bus that logs receiver failures
func NewFeedbackBus() *FeedbackBus {
	return &FeedbackBus{
		sink: func(hook string, err error) {
			slog.Warn("Feedback receiver failed", "hook", hook, "error", err)
		},
	}
}

// WithErrorSink replaces the error sink
func (b *FeedbackBus) WithErrorSink(sink ErrorSink) *FeedbackBus {
	if sink != nil {
		b.sink = sink
	}
	return b
}

// AddPeriodic fires o after every `every` iterations
func (b *FeedbackBus) AddPeriodic(every int, o StepObserver) *FeedbackBus {
	if every <= 0 {
		every = 1
	}
	b.periodic = append(b.periodic, periodicTrigger{every: every, observer: o})
	return b
}

// AddAggregate feeds a every step and flushes it after every flushEvery
// iterations. flushEvery <= 0 flushes only at the end of the run.
func (b *FeedbackBus) AddAggregate(flushEvery int, a Aggregator) *FeedbackBus {
	b.aggregates = append(b.aggregates, aggregateTrigger{flushEvery: flushEvery, aggregator: a})
	return b
}

// AddReceiver registers the lifecycle hooks r implements (BestObserver,
// RunObserver). Returns an error if it implements neither.
func (b *FeedbackBus) AddReceiver(r any) error {
	registered := false
	if o, ok := r.(BestObserver); ok {
		b.best = append(b.best, o)
		registered = true
	}
	if o, ok := r.(RunObserver); ok {
		b.runs = append(b.runs, o)
		registered = true
	}
	if !registered {
		return fmt.Errorf("receiver %T implements no feedback hook", r)
	}
	return nil
}

func (b *FeedbackBus) runStarted(info RunInfo) {
	for _, o := range b.runs {
		b.call("run_started", func() error { return o.RunStarted(info) })
	}
}

func (b *FeedbackBus) newBest(step Step) {
	for _, o := range b.best {
		b.call("new_best", func() error { return o.NewBest(step) })
	}
}

func (b *FeedbackBus) step(step Step) {
	completed := step.Iteration + 1

	for _, a := range b.aggregates {
		b.call("aggregate_add", func() error {
			a.aggregator.Add(step)
			return nil
		})
	}

	for _, p := range b.periodic {
		if completed%p.every == 0 {
			b.call("periodic", func() error { return p.observer.ObserveStep(step) })
		}
	}

	for _, a := range b.aggregates {
		if a.flushEvery > 0 && completed%a.flushEvery == 0 {
			b.call("aggregate_flush", func() error { return a.aggregator.Flush(completed, false) })
		}
	}
}

func (b *FeedbackBus) runEnded(result *Result) {
	for _, a := range b.aggregates {
		b.call("aggregate_flush", func() error { return a.aggregator.Flush(result.Iterations, true) })
	}
	for _, o := range b.runs {
		b.call("run_ended", func() error { return o.RunEnded(result) })
	}
}

// call runs one hook, turning errors and panics into sink reports
func (b *FeedbackBus) call(hook string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.sink(hook, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		b.sink(hook, err)
	}
}

// StatsSnapshot is the state of RunningStats at a flush
type StatsSnapshot struct {
	Iteration       int            `json:"iteration"`
	Final           bool           `json:"final"`
	Steps           int            `json:"steps"`
	Accepted        int            `json:"accepted"`
	Rejected        int            `json:"rejected"`
	Failed          int            `json:"failed"`
	MeanScore       float64        `json:"meanScore"`
	StdDevScore     float64        `json:"stdDevScore"`
	BestScore       float64        `json:"bestScore"`
	MeanTemperature float64        `json:"meanTemperature"`
	MeanMarks       float64        `json:"meanMarks"`
	KernelCounts    map[string]int `json:"kernelCounts"`
	KernelAccepted  map[string]int `json:"kernelAccepted"`
}

// AcceptanceRate returns accepted / steps
func (s StatsSnapshot) AcceptanceRate() float64 {
	if s.Steps == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Steps)
}

// StatsSink receives RunningStats flushes
type StatsSink func(snapshot StatsSnapshot) error

// RunningStats aggregates acceptance counts and a running mean of the chain
// score over the whole run.
type RunningStats struct {
	direction Direction
	sink      StatsSink

	steps, accepted, rejected, failed int
	mean, m2                          float64
	scored                            int
	best                              float64
	tempSum, marksSum                 float64
	kernelCounts, kernelAccepted      map[string]int
}

// NewRunningStats creates an aggregator that reports to sink
func NewRunningStats(direction Direction, sink StatsSink) *RunningStats {
	return &RunningStats{
		direction:      direction,
		sink:           sink,
		best:           math.Inf(-1),
		kernelCounts:   make(map[string]int),
		kernelAccepted: make(map[string]int),
	}
}

func (r *RunningStats) Add(step Step) {
	r.steps++
	r.kernelCounts[step.Kernel]++
	r.tempSum += step.Temperature

	switch {
	case step.Failed():
		r.failed++
	case step.Accepted:
		r.accepted++
		r.kernelAccepted[step.Kernel]++
	default:
		r.rejected++
	}

	chain := step.Result()
	r.marksSum += float64(chain.Len())
	if chain.Evaluated() {
		// Welford update
		score := r.direction.Score(chain.Energy())
		r.scored++
		delta := score - r.mean
		r.mean += delta / float64(r.scored)
		r.m2 += delta * (score - r.mean)
	}
	if step.Best != nil && step.Best.Evaluated() {
		if s := r.direction.Score(step.Best.Energy()); s > r.best {
			r.best = s
		}
	}
}

func (r *RunningStats) Flush(iteration int, final bool) error {
	if r.sink == nil {
		return nil
	}
	return r.sink(r.Snapshot(iteration, final))
}

// Snapshot returns the current statistics
func (r *RunningStats) Snapshot(iteration int, final bool) StatsSnapshot {
	s := StatsSnapshot{
		Iteration:      iteration,
		Final:          final,
		Steps:          r.steps,
		Accepted:       r.accepted,
		Rejected:       r.rejected,
		Failed:         r.failed,
		MeanScore:      r.mean,
		BestScore:      r.best,
		KernelCounts:   make(map[string]int, len(r.kernelCounts)),
		KernelAccepted: make(map[string]int, len(r.kernelAccepted)),
	}
	if r.scored > 1 {
		s.StdDevScore = math.Sqrt(r.m2 / float64(r.scored-1))
	}
	if r.steps > 0 {
		s.MeanTemperature = r.tempSum / float64(r.steps)
		s.MeanMarks = r.marksSum / float64(r.steps)
	}
	for k, v := range r.kernelCounts {
		s.KernelCounts[k] = v
	}
	for k, v := range r.kernelAccepted {
		s.KernelAccepted[k] = v
	}
	return s
}
