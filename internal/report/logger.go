// Package report holds the feedback receivers a run reports to: progress
// logging, JSONL traces, checkpoints, run history and live progress
// snapshots.
package report

import (
	"log/slog"

	"github.com/cwbudde/markfit/internal/mpp"
)

// Logger writes periodic progress lines, new-best debug lines and a
// summary when the run ends.
type Logger struct {
	log *slog.Logger
}

// NewLogger creates a logger receiver. A nil logger uses slog.Default().
func NewLogger(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{log: log}
}

func (l *Logger) ObserveStep(step mpp.Step) error {
	chain := step.Result()
	args := []any{
		"iteration", step.Iteration + 1,
		"kernel", step.Kernel,
		"temperature", step.Temperature,
		"energy", chain.Energy().Total,
		"marks", chain.Len(),
	}
	if step.Best != nil {
		args = append(args, "best_energy", step.Best.Energy().Total, "best_marks", step.Best.Len())
	}
	l.log.Info("Optimization progress", args...)
	return nil
}

func (l *Logger) NewBest(step mpp.Step) error {
	l.log.Debug("New best configuration",
		"iteration", step.Iteration,
		"kernel", step.Kernel,
		"best_energy", step.Best.Energy().Total,
		"marks", step.Best.Len())
	return nil
}

func (l *Logger) RunStarted(info mpp.RunInfo) error {
	l.log.Debug("Run started",
		"seed", info.Seed,
		"direction", info.Direction.String(),
		"initial_marks", info.Initial.Len(),
		"kernels", info.Kernels)
	return nil
}

func (l *Logger) RunEnded(r *mpp.Result) error {
	var rate float64
	if r.Iterations > 0 {
		rate = float64(r.Accepted) / float64(r.Iterations)
	}
	var ips float64
	if secs := r.Elapsed.Seconds(); secs > 0 {
		ips = float64(r.Iterations) / secs
	}

	args := []any{
		"outcome", string(r.Outcome),
		"reason", r.Reason,
		"iterations", r.Iterations,
		"acceptance_rate", rate,
		"iterations_per_second", ips,
		"best_energy", r.Energy.Total,
		"marks", r.Best.Len(),
	}
	for _, name := range r.Energy.TermNames() {
		args = append(args, "term_"+name, r.Energy.Term(name))
	}
	l.log.Info("Run summary", args...)
	return nil
}
