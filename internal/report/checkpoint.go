package report

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cwbudde/markfit/internal/fit"
	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/cwbudde/markfit/internal/store"
)

// Checkpointer tracks the best configuration and saves it periodically and
// when the run ends, aborted runs included. Artifacts are rendered from
// the final best marks only.
type Checkpointer struct {
	store  store.Store
	jobID  string
	config store.JobConfig

	// Artifacts maps file names (overlay.png) to the renderer that draws them
	Artifacts map[string]fit.Renderer

	mu      sync.Mutex
	initial float64
	best    *mpp.Configuration
	dirty   bool
	saves   int
}

// NewCheckpointer creates a checkpoint receiver for one job
func NewCheckpointer(s store.Store, jobID string, config store.JobConfig) *Checkpointer {
	return &Checkpointer{store: s, jobID: jobID, config: config}
}

func (c *Checkpointer) RunStarted(info mpp.RunInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initial = info.Initial.Energy().Total
	return nil
}

func (c *Checkpointer) NewBest(step mpp.Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.best = step.Best
	c.dirty = true
	return nil
}

// ObserveStep saves when the best changed since the last save
func (c *Checkpointer) ObserveStep(step mpp.Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	return c.save(c.best, step.Iteration+1, false)
}

func (c *Checkpointer) RunEnded(r *mpp.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	best := r.Best
	if best == nil || !best.Evaluated() {
		return nil
	}
	if err := c.save(best, r.Iterations, true); err != nil {
		return err
	}
	return c.renderArtifacts(best)
}

// Saves returns how many checkpoints were written
func (c *Checkpointer) Saves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func (c *Checkpointer) save(best *mpp.Configuration, iteration int, final bool) error {
	cp := store.NewCheckpoint(c.jobID, best, c.initial, iteration, c.config)
	cp.Final = final
	if err := c.store.SaveCheckpoint(c.jobID, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	c.dirty = false
	c.saves++

	slog.Debug("Checkpoint saved",
		"job_id", c.jobID,
		"iteration", iteration,
		"best_energy", cp.Energy.Total,
		"marks", len(cp.Marks),
		"final", final)
	return nil
}

func (c *Checkpointer) renderArtifacts(best *mpp.Configuration) error {
	names := make([]string, 0, len(c.Artifacts))
	for name := range c.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	marks := best.Marks()
	for _, name := range names {
		path, err := c.store.ArtifactPath(c.jobID, name)
		if err != nil {
			return err
		}
		if err := fit.SavePNG(path, c.Artifacts[name].Render(marks)); err != nil {
			return fmt.Errorf("failed to save %s: %w", name, err)
		}
	}
	return nil
}
