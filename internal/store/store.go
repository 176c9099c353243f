// Package store persists segmentation runs: best-configuration checkpoints,
// sampled traces, rendered artifacts and the SQLite run history.
//
// Everything belonging to one job lives under <baseDir>/jobs/<jobID>/:
//
//	checkpoint.json  best marks, energy and the run configuration
//	trace.jsonl      sampled iterations
//	overlay.png      reference with the best circles drawn on top
//	mask.png         binary segmentation mask
package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	jobsDirName    = "jobs"
	checkpointFile = "checkpoint.json"
	traceFile      = "trace.jsonl"
)

// Store keeps the best configuration of each job so that a run can be
// resumed or inspected later. Implementations are safe for concurrent use.
type Store interface {
	// SaveCheckpoint replaces the job's checkpoint. Readers never observe
	// a partially written file.
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	// LoadCheckpoint returns ErrNotFound when the job has no checkpoint.
	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints summarizes every readable checkpoint, newest first.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint drops the whole job directory including trace and
	// artifacts.
	DeleteCheckpoint(jobID string) error

	// ArtifactPath returns where a named artifact of the job is written.
	ArtifactPath(jobID, name string) (string, error)
}

// ErrNotFound matches every NotFoundError via errors.Is.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a missing checkpoint, trace or history run.
type NotFoundError struct {
	Kind string // "checkpoint", "trace" or "run"; empty means checkpoint
	ID   string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "checkpoint"
	}
	if e.ID != "" {
		return kind + " not found: " + e.ID
	}
	return kind + " not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// checkJobID rejects ids that would escape the jobs directory.
func checkJobID(jobID string) error {
	switch {
	case jobID == "":
		return fmt.Errorf("jobID cannot be empty")
	case jobID == "." || jobID == "..", strings.ContainsAny(jobID, `/\`):
		return fmt.Errorf("invalid jobID %q", jobID)
	}
	return nil
}

func jobPath(baseDir, jobID string, elem ...string) string {
	return filepath.Join(append([]string{baseDir, jobsDirName, jobID}, elem...)...)
}
