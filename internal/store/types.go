package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/markfit/internal/config"
	"github.com/cwbudde/markfit/internal/mpp"
)

// JobConfig holds the configuration of a segmentation job (checkpoint copy).
// This avoids import cycles with server package.
type JobConfig struct {
	RefPath string     `json:"refPath"`
	Run     config.Run `json:"run"`
}

// Checkpoint is the best configuration of a run so far, plus enough of the
// job configuration to resume it.
//
// Only the best marks are saved. The chain state (current configuration,
// RNG position, schedule temperature) is not: a resumed run starts a fresh
// chain from the saved marks at iteration zero of a new budget. The best
// energy therefore never gets worse across a resume, but the trajectory
// diverges from an uninterrupted run.
type Checkpoint struct {
	// JobID is the unique identifier for this job
	JobID string `json:"jobId"`

	// Marks are the circles of the best configuration
	Marks []mpp.Mark `json:"marks"`

	// Energy is the breakdown achieved by Marks
	Energy mpp.EnergyBreakdown `json:"energy"`

	// InitialEnergy is the total energy of the starting configuration
	InitialEnergy float64 `json:"initialEnergy"`

	// Iteration is the number of completed iterations when this checkpoint was created
	Iteration int `json:"iteration"`

	// Final is set on the checkpoint written when the run ended
	Final bool `json:"final,omitempty"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config holds the job configuration, needed for validation during resume
	Config JobConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the marks.
type CheckpointInfo struct {
	JobID     string    `json:"jobId"`
	Energy    float64   `json:"energy"`
	Marks     int       `json:"marks"`
	Iteration int       `json:"iteration"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
	RefPath   string    `json:"refPath"`
}

// NewCheckpoint creates a checkpoint from an evaluated configuration
func NewCheckpoint(jobID string, best *mpp.Configuration, initialEnergy float64, iteration int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:         jobID,
		Marks:         best.Marks(),
		Energy:        best.Energy(),
		InitialEnergy: initialEnergy,
		Iteration:     iteration,
		Timestamp:     time.Now(),
		Config:        config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		Energy:    c.Energy.Total,
		Marks:     len(c.Marks),
		Iteration: c.Iteration,
		Final:     c.Final,
		Timestamp: c.Timestamp,
		RefPath:   c.Config.RefPath,
	}
}

// Configuration rebuilds the saved marks as an unevaluated configuration
func (c *Checkpoint) Configuration() (*mpp.Configuration, error) {
	cfg, err := mpp.NewConfiguration(c.Marks...)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint marks: %w", err)
	}
	return cfg, nil
}

// Validate checks if the checkpoint has valid data.
// Returns an error if any required field is missing or invalid.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.RefPath == "" {
		return &ValidationError{Field: "Config.RefPath", Reason: "cannot be empty"}
	}
	if math.IsNaN(c.Energy.Total) || math.IsInf(c.Energy.Total, 0) {
		return &ValidationError{Field: "Energy", Reason: "must be finite"}
	}

	seen := make(map[mpp.MarkID]bool, len(c.Marks))
	for i, m := range c.Marks {
		if seen[m.ID] {
			return &ValidationError{Field: "Marks", Reason: fmt.Sprintf("duplicate id %d", m.ID)}
		}
		seen[m.ID] = true

		s := m.Shape
		if math.IsNaN(s.X+s.Y+s.R) || math.IsInf(s.X+s.Y+s.R, 0) || s.R <= 0 {
			return &ValidationError{Field: "Marks", Reason: fmt.Sprintf("mark %d has invalid geometry", i)}
		}
	}

	if err := c.Config.Run.Validate(); err != nil {
		return &ValidationError{Field: "Config.Run", Reason: err.Error()}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
// Energies are only comparable when the image, the energy terms and the
// direction match.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.RefPath != config.RefPath {
		return &CompatibilityError{
			Field:    "RefPath",
			Expected: c.Config.RefPath,
			Actual:   config.RefPath,
		}
	}
	if c.Config.Run.Direction != config.Run.Direction {
		return &CompatibilityError{
			Field:    "Direction",
			Expected: c.Config.Run.Direction,
			Actual:   config.Run.Direction,
		}
	}
	if want, got := scoring(c.Config.Run.Energy), scoring(config.Run.Energy); want != got {
		return &CompatibilityError{
			Field:    "Energy",
			Expected: fmt.Sprintf("%+v", want),
			Actual:   fmt.Sprintf("%+v", got),
		}
	}
	return nil
}

// scoring drops the energy settings that do not change scores
func scoring(e config.EnergyConfig) config.EnergyConfig {
	e.CacheSize = 0
	e.Workers = 0
	return e
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
