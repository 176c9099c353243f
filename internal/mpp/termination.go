package mpp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

// Status is the read-only view a termination condition gets at an
// iteration boundary.
type Status struct {
	Iterations   int // Completed iterations
	Elapsed      time.Duration
	HasBest      bool
	BestScore    float64
	CurrentScore float64
	CurrentSize  int
	LastStep     *Step // nil before the first iteration
}

// TerminationCondition decides whether the run stops. Implementations must
// not touch optimization state; they may keep their own bookkeeping.
type TerminationCondition interface {
	ShouldStop(s Status) (stop bool, reason string)
}

// MaxIterations stops once n iterations have completed
type MaxIterations int

func (m MaxIterations) ShouldStop(s Status) (bool, string) {
	if s.Iterations >= int(m) {
		return true, fmt.Sprintf("max iterations reached (%d)", int(m))
	}
	return false, ""
}

// WallClock stops once the run has taken at least d
type WallClock time.Duration

func (w WallClock) ShouldStop(s Status) (bool, string) {
	if s.Elapsed >= time.Duration(w) {
		return true, fmt.Sprintf("wall clock budget exhausted (%s)", time.Duration(w))
	}
	return false, ""
}

// Plateau stops when neither the best score nor the configuration size has
// moved for Patience consecutive iterations. Score changes within Tolerance
// (relative to the last significant score) count as no movement.
type Plateau struct {
	Patience  int
	Tolerance float64

	seeded    bool
	lastScore float64
	lastSize  int
	stale     int
}

// NewPlateau creates a plateau detector
func NewPlateau(patience int, tolerance float64) *Plateau {
	return &Plateau{Patience: patience, Tolerance: tolerance}
}

func (p *Plateau) ShouldStop(s Status) (bool, string) {
	if p.Patience <= 0 || s.LastStep == nil {
		return false, ""
	}

	score := s.CurrentScore
	if s.HasBest {
		score = s.BestScore
	}

	if !p.seeded {
		p.seeded = true
		p.lastScore = score
		p.lastSize = s.CurrentSize
		return false, ""
	}

	scale := math.Max(math.Abs(p.lastScore), 1e-12)
	moved := math.Abs(score-p.lastScore)/scale > p.Tolerance || s.CurrentSize != p.lastSize
	if moved {
		p.lastScore = score
		p.lastSize = s.CurrentSize
		p.stale = 0
		return false, ""
	}

	p.stale++
	if p.stale >= p.Patience {
		slog.Debug("Plateau detected", "stale", p.stale, "patience", p.Patience, "score", score, "size", s.CurrentSize)
		return true, fmt.Sprintf("score and size plateaued for %d iterations", p.stale)
	}
	return false, ""
}

// Trigger is an early-stop flag that can be fired from any goroutine. The
// loop reads it once per iteration boundary.
type Trigger struct {
	fired  atomic.Bool
	reason atomic.Value
}

// NewTrigger creates an unfired trigger
func NewTrigger() *Trigger {
	return &Trigger{}
}

// Fire requests the run to stop at the next boundary
func (t *Trigger) Fire(reason string) {
	if reason == "" {
		reason = "external stop requested"
	}
	t.reason.Store(reason)
	t.fired.Store(true)
}

// Fired reports whether Fire was called
func (t *Trigger) Fired() bool {
	return t.fired.Load()
}

func (t *Trigger) ShouldStop(Status) (bool, string) {
	if !t.fired.Load() {
		return false, ""
	}
	reason, _ := t.reason.Load().(string)
	return true, reason
}

// ContextDone stops once ctx is cancelled
type ContextDone struct {
	Ctx context.Context
}

func (c ContextDone) ShouldStop(Status) (bool, string) {
	select {
	case <-c.Ctx.Done():
		return true, "context done: " + c.Ctx.Err().Error()
	default:
		return false, ""
	}
}

// AnyOf stops as soon as one of its conditions does. Every condition is
// evaluated so stateful detectors see each boundary.
type AnyOf []TerminationCondition

func (a AnyOf) ShouldStop(s Status) (bool, string) {
	var reasons []string
	for _, c := range a {
		if c == nil {
			continue
		}
		if stop, reason := c.ShouldStop(s); stop {
			reasons = append(reasons, reason)
		}
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}
