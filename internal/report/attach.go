package report

import (
	"fmt"
	"log/slog"

	"github.com/cwbudde/markfit/internal/config"
	"github.com/cwbudde/markfit/internal/fit"
	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/cwbudde/markfit/internal/store"
)

// Options selects the receivers Attach wires. Nil or empty fields disable
// the matching receiver.
type Options struct {
	JobID  string
	Config store.JobConfig
	Logger *slog.Logger

	Store     store.Store // checkpoints and artifacts
	Artifacts map[string]fit.Renderer

	TraceDir    string // base directory of trace.jsonl
	TraceMarks  bool
	ResumeTrace bool

	History *store.History

	Progress      func(Snapshot)
	ProgressEvery int
}

// Receivers are the receivers Attach registered
type Receivers struct {
	Logger       *Logger
	Checkpointer *Checkpointer
	Trace        *store.TraceWriter
	History      *History
	Progress     *Progress
}

// Close releases the trace file
func (r *Receivers) Close() error {
	if r.Trace == nil {
		return nil
	}
	return r.Trace.Close()
}

// Attach registers the receivers of a run on bus. Periods come from fb;
// a zero period disables the periodic part of a receiver but keeps its
// lifecycle hooks.
func Attach(bus *mpp.FeedbackBus, fb config.FeedbackConfig, direction mpp.Direction, opts Options) (*Receivers, error) {
	r := &Receivers{Logger: NewLogger(opts.Logger)}
	if fb.LogEvery > 0 {
		bus.AddPeriodic(fb.LogEvery, r.Logger)
	}
	if err := bus.AddReceiver(r.Logger); err != nil {
		return nil, err
	}

	if opts.Store != nil {
		r.Checkpointer = NewCheckpointer(opts.Store, opts.JobID, opts.Config)
		r.Checkpointer.Artifacts = opts.Artifacts
		if fb.CheckpointEvery > 0 {
			bus.AddPeriodic(fb.CheckpointEvery, r.Checkpointer)
		}
		if err := bus.AddReceiver(r.Checkpointer); err != nil {
			return nil, err
		}
	}

	if opts.TraceDir != "" && fb.TraceEvery > 0 {
		w, err := store.NewTraceWriter(opts.TraceDir, opts.JobID, opts.ResumeTrace)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		r.Trace = w
		t := NewTrace(w, opts.TraceMarks)
		bus.AddPeriodic(fb.TraceEvery, t)
		if err := bus.AddReceiver(t); err != nil {
			w.Close()
			return nil, err
		}
	}

	if opts.History != nil {
		r.History = NewHistory(opts.History, opts.JobID, opts.Config.RefPath)
		if err := bus.AddReceiver(r.History); err != nil {
			r.Close()
			return nil, err
		}
		bus.AddAggregate(fb.StatsEvery, r.History.Stats(direction))
	}

	if opts.Progress != nil {
		r.Progress = NewProgress(opts.Progress)
		bus.AddAggregate(opts.ProgressEvery, r.Progress)
	}
	return r, nil
}
