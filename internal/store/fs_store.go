package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore keeps checkpoints as JSON files below a base directory. Writes
// go through a temp file and rename, so no locking is needed.
type FSStore struct {
	baseDir string
}

// NewFSStore creates baseDir if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store
func (s *FSStore) BaseDir() string {
	return s.baseDir
}

// ArtifactPath returns the path of a named file in the job directory,
// creating the directory.
func (s *FSStore) ArtifactPath(jobID, name string) (string, error) {
	if err := checkJobID(jobID); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) || name == checkpointFile || name == traceFile {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	path := jobPath(s.baseDir, jobID, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return path, nil
}

func (s *FSStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if err := checkJobID(jobID); err != nil {
		return err
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	path := jobPath(s.baseDir, jobID, checkpointFile)
	if err := writeJSONAtomic(path, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", jobID, err)
	}
	slog.Debug("Checkpoint saved",
		"job_id", jobID,
		"iteration", checkpoint.Iteration,
		"best_energy", checkpoint.Energy.Total,
		"final", checkpoint.Final)
	return nil
}

func (s *FSStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if err := checkJobID(jobID); err != nil {
		return nil, err
	}

	var cp Checkpoint
	data, err := os.ReadFile(jobPath(s.baseDir, jobID, checkpointFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Kind: "checkpoint", ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", jobID, err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", jobID, err)
	}
	return &cp, nil
}

// ListCheckpoints skips job directories without a readable checkpoint.
func (s *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	matches, err := filepath.Glob(jobPath(s.baseDir, "*", checkpointFile))
	if err != nil {
		return nil, err
	}

	infos := make([]CheckpointInfo, 0, len(matches))
	for _, m := range matches {
		jobID := filepath.Base(filepath.Dir(m))
		cp, err := s.LoadCheckpoint(jobID)
		if err != nil {
			slog.Warn("Skipping unreadable checkpoint", "job_id", jobID, "error", err)
			continue
		}
		infos = append(infos, cp.ToInfo())
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})
	return infos, nil
}

func (s *FSStore) DeleteCheckpoint(jobID string) error {
	if err := checkJobID(jobID); err != nil {
		return err
	}

	dir := jobPath(s.baseDir, jobID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return &NotFoundError{Kind: "checkpoint", ID: jobID}
	} else if err != nil {
		return fmt.Errorf("failed to stat job directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}
	slog.Debug("Job directory removed", "job_id", jobID)
	return nil
}

// writeJSONAtomic writes v next to path and renames it into place.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
