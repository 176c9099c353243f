package report

import (
	"fmt"
	"sync"

	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/cwbudde/markfit/internal/store"
)

// History records a run row when the run starts, RunningStats snapshots
// while it runs and the outcome when it ends.
type History struct {
	db      *store.History
	jobID   string
	refPath string

	mu    sync.Mutex
	runID string
}

// NewHistory creates a history receiver for one job
func NewHistory(db *store.History, jobID, refPath string) *History {
	return &History{db: db, jobID: jobID, refPath: refPath}
}

// Stats returns an aggregator whose flushes are recorded by h
func (h *History) Stats(direction mpp.Direction) *mpp.RunningStats {
	return mpp.NewRunningStats(direction, h.Record)
}

// RunID returns the id of the current run, empty before RunStarted
func (h *History) RunID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runID
}

func (h *History) RunStarted(info mpp.RunInfo) error {
	id, err := h.db.StartRun(store.RunRecord{
		JobID:     h.jobID,
		RefPath:   h.refPath,
		Seed:      info.Seed,
		StartedAt: info.StartedAt,
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.runID = id
	h.mu.Unlock()
	return nil
}

// Record stores one statistics snapshot
func (h *History) Record(s mpp.StatsSnapshot) error {
	id := h.RunID()
	if id == "" {
		return fmt.Errorf("run was not started")
	}
	return h.db.RecordStats(id, s)
}

func (h *History) RunEnded(r *mpp.Result) error {
	id := h.RunID()
	if id == "" {
		return fmt.Errorf("run was not started")
	}
	return h.db.FinishRun(id, r)
}
