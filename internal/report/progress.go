package report

import (
	"time"

	"github.com/cwbudde/markfit/internal/mpp"
)

// Snapshot is the live state of a run
type Snapshot struct {
	Iteration           int
	Final               bool
	Temperature         float64
	Energy              float64
	Marks               int
	Best                *mpp.Configuration // nil until something was accepted
	Accepted            int
	Rejected            int
	Failed              int
	IterationsPerSecond float64
	Timestamp           time.Time
}

// BestEnergy returns the best total, zero without a best
func (s Snapshot) BestEnergy() float64 {
	if s.Best == nil {
		return 0
	}
	return s.Best.Energy().Total
}

// Progress counts every step and hands a Snapshot to fn on each flush.
// It is driven from the optimization goroutine; fn must not block.
type Progress struct {
	fn    func(Snapshot)
	start time.Time

	last                       mpp.Step
	seen                       bool
	accepted, rejected, failed int
}

// NewProgress creates a progress aggregator
func NewProgress(fn func(Snapshot)) *Progress {
	return &Progress{fn: fn}
}

func (p *Progress) Add(step mpp.Step) {
	if !p.seen {
		p.start = time.Now()
		p.seen = true
	}
	p.last = step

	switch {
	case step.Failed():
		p.failed++
	case step.Accepted:
		p.accepted++
	default:
		p.rejected++
	}
}

func (p *Progress) Flush(iteration int, final bool) error {
	if !p.seen {
		p.fn(Snapshot{Iteration: iteration, Final: final, Timestamp: time.Now()})
		return nil
	}

	chain := p.last.Result()
	s := Snapshot{
		Iteration:   iteration,
		Final:       final,
		Temperature: p.last.Temperature,
		Energy:      chain.Energy().Total,
		Marks:       chain.Len(),
		Best:        p.last.Best,
		Accepted:    p.accepted,
		Rejected:    p.rejected,
		Failed:      p.failed,
		Timestamp:   time.Now(),
	}
	if secs := s.Timestamp.Sub(p.start).Seconds(); secs > 0 {
		s.IterationsPerSecond = float64(p.accepted+p.rejected+p.failed) / secs
	}
	p.fn(s)
	return nil
}
