package report

import (
	"log/slog"

	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/cwbudde/markfit/internal/store"
)

// Trace samples steps into a JSONL trace file. The owner of the writer
// closes it; Trace only flushes when the run ends.
type Trace struct {
	w         *store.TraceWriter
	withMarks bool
}

// NewTrace creates a trace receiver. withMarks stores the best marks in
// every sampled entry.
func NewTrace(w *store.TraceWriter, withMarks bool) *Trace {
	return &Trace{w: w, withMarks: withMarks}
}

func (t *Trace) ObserveStep(step mpp.Step) error {
	return t.w.Write(store.TraceEntryFromStep(step, t.withMarks))
}

func (t *Trace) RunStarted(mpp.RunInfo) error {
	return nil
}

func (t *Trace) RunEnded(*mpp.Result) error {
	if err := t.w.Flush(); err != nil {
		return err
	}
	slog.Debug("Trace flushed", "path", t.w.Path(), "entries", t.w.Written())
	return nil
}
