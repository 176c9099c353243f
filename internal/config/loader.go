// Package config loads run configurations from YAML and process settings
// from the environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ValidationError reports an invalid field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Load reads and parses a run file. Overrides are applied before the
// result is validated.
func Load(path string, overrides ...func(*Run)) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	run, err := Parse(data, overrides...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return run, nil
}

// Parse decodes YAML on top of Default, applies overrides and validates
// the result
func Parse(data []byte, overrides ...func(*Run)) (*Run, error) {
	run := Default()
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	for _, override := range overrides {
		override(&run)
	}
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &run, nil
}

// Marshal encodes a run as YAML
func Marshal(run Run) ([]byte, error) {
	return yaml.Marshal(run)
}

// Validate checks that the run can be executed
func (r Run) Validate() error {
	if r.Image == "" {
		return invalid("image", "reference image is required")
	}
	if r.Iterations < 0 {
		return invalid("iterations", "cannot be negative")
	}
	if r.Iterations == 0 && r.TimeLimit <= 0 && r.Plateau.Patience <= 0 {
		return invalid("iterations", "at least one of iterations, time_limit_seconds or plateau.patience must be set")
	}
	if r.TimeLimit < 0 {
		return invalid("time_limit_seconds", "cannot be negative")
	}
	switch r.Direction {
	case "maximize", "minimize":
	default:
		return invalid("direction", "must be maximize or minimize, got %q", r.Direction)
	}

	if r.Plateau.Patience < 0 || r.Plateau.Tolerance < 0 {
		return invalid("plateau", "patience and tolerance cannot be negative")
	}

	switch r.Schedule.Kind {
	case "constant", "linear":
	case "exponential":
		if r.Schedule.Decay <= 0 || r.Schedule.Decay > 1 {
			return invalid("schedule.decay", "must be in (0,1], got %g", r.Schedule.Decay)
		}
	case "geometric":
		if r.Schedule.Start <= 0 || r.Schedule.End <= 0 {
			return invalid("schedule", "geometric cooling needs positive start and end")
		}
	default:
		return invalid("schedule.kind", "unknown schedule %q", r.Schedule.Kind)
	}
	if r.Schedule.Start < 0 || r.Schedule.End < 0 {
		return invalid("schedule", "temperatures cannot be negative")
	}

	if r.Radius.Min <= 0 || r.Radius.Max < r.Radius.Min {
		return invalid("radius", "need 0 < min <= max, got min=%g max=%g", r.Radius.Min, r.Radius.Max)
	}

	k := r.Kernels
	weights := map[string]float64{
		"birth": k.Birth, "death": k.Death, "move": k.Move,
		"split": k.Split, "merge": k.Merge, "refine": k.Refine,
	}
	var total float64
	for name, w := range weights {
		if w < 0 {
			return invalid("kernels."+name, "weight cannot be negative")
		}
		total += w
	}
	if total <= 0 {
		return invalid("kernels", "weights must sum to a positive value")
	}
	if _, ok := weights[k.Initial]; k.Initial != "" && !ok {
		return invalid("kernels.initial", "unknown kernel %q", k.Initial)
	}
	if k.Refine > 0 && (k.RefineIterations <= 0 || k.RefinePopulation <= 0) {
		return invalid("kernels.refine_iterations", "refine needs positive iterations and population")
	}

	e := r.Energy
	if e.ShellWidth <= 0 {
		return invalid("energy.shell_width", "must be positive")
	}
	if e.OverlapWeight < 0 || e.CountPenalty < 0 {
		return invalid("energy", "overlap_weight and count_penalty cannot be negative")
	}
	switch e.Polarity {
	case "bright", "dark":
	default:
		return invalid("energy.polarity", "must be bright or dark, got %q", e.Polarity)
	}
	if e.CacheSize < 0 || e.Workers < 0 {
		return invalid("energy", "cache_size and workers cannot be negative")
	}

	if r.SiteMap.CellSize <= 0 {
		return invalid("sitemap.cell_size", "must be positive")
	}
	if r.SiteMap.Suppression < 0 || r.SiteMap.Suppression > 1 {
		return invalid("sitemap.suppression", "must be in [0,1]")
	}

	f := r.Feedback
	if f.LogEvery < 0 || f.TraceEvery < 0 || f.CheckpointEvery < 0 || f.StatsEvery < 0 {
		return invalid("feedback", "intervals cannot be negative")
	}
	return nil
}
