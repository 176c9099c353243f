package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cwbudde/markfit/internal/mpp"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL,
	ref_path     TEXT NOT NULL,
	seed         INTEGER NOT NULL,
	started_at   TEXT NOT NULL,
	ended_at     TEXT,
	outcome      TEXT,
	reason       TEXT,
	iterations   INTEGER NOT NULL DEFAULT 0,
	accepted     INTEGER NOT NULL DEFAULT 0,
	rejected     INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	best_energy  REAL,
	marks        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_stats (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL,
	iteration        INTEGER NOT NULL,
	final            INTEGER NOT NULL,
	steps            INTEGER NOT NULL,
	accepted         INTEGER NOT NULL,
	rejected         INTEGER NOT NULL,
	failed           INTEGER NOT NULL,
	mean_score       REAL NOT NULL,
	stddev_score     REAL NOT NULL,
	best_score       REAL,
	mean_temperature REAL NOT NULL,
	mean_marks       REAL NOT NULL,
	kernel_counts    TEXT NOT NULL,
	kernel_accepted  TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id);
CREATE INDEX IF NOT EXISTS idx_run_stats_run ON run_stats(run_id, iteration);
`

// Fixed width so that text order is time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunRecord is one row of the run history
type RunRecord struct {
	RunID      string     `json:"runId"`
	JobID      string     `json:"jobId"`
	RefPath    string     `json:"refPath"`
	Seed       int64      `json:"seed"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Iterations int        `json:"iterations"`
	Accepted   int        `json:"accepted"`
	Rejected   int        `json:"rejected"`
	Failed     int        `json:"failed"`
	BestEnergy *float64   `json:"bestEnergy,omitempty"`
	Marks      int        `json:"marks"`
}

// History keeps run summaries and periodic chain statistics in SQLite.
// It is safe for concurrent use.
type History struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the history database at path.
// ":memory:" gives a private in-memory database.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	// A second pooled connection would see a different in-memory database
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=10000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the database
func (h *History) Close() error {
	return h.db.Close()
}

// StartRun inserts a run row and returns its id. A run id is generated
// when rec.RunID is empty.
func (h *History) StartRun(rec RunRecord) (string, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	_, err := h.db.Exec(
		`INSERT INTO runs (run_id, job_id, ref_path, seed, started_at) VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.JobID, rec.RefPath, rec.Seed, rec.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return rec.RunID, nil
}

// FinishRun stores the outcome of a run
func (h *History) FinishRun(runID string, result *mpp.Result) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	var best sql.NullFloat64
	if result.Best != nil && result.Best.Evaluated() {
		best = sql.NullFloat64{Float64: result.Energy.Total, Valid: true}
	}

	res, err := h.db.Exec(
		`UPDATE runs SET ended_at = ?, outcome = ?, reason = ?, iterations = ?, accepted = ?,
		 rejected = ?, failed = ?, best_energy = ?, marks = ? WHERE run_id = ?`,
		time.Now().UTC().Format(timeLayout), string(result.Outcome), result.Reason,
		result.Iterations, result.Accepted, result.Rejected, result.Failed,
		best, result.Best.Len(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Kind: "run", ID: runID}
	}
	return nil
}

// RecordStats appends a statistics snapshot of a run
func (h *History) RecordStats(runID string, s mpp.StatsSnapshot) error {
	counts, err := json.Marshal(s.KernelCounts)
	if err != nil {
		return fmt.Errorf("failed to encode kernel counts: %w", err)
	}
	accepted, err := json.Marshal(s.KernelAccepted)
	if err != nil {
		return fmt.Errorf("failed to encode kernel acceptances: %w", err)
	}

	// No best yet is stored as NULL
	var best sql.NullFloat64
	if !math.IsInf(s.BestScore, -1) {
		best = sql.NullFloat64{Float64: s.BestScore, Valid: true}
	}

	_, err = h.db.Exec(
		`INSERT INTO run_stats (run_id, iteration, final, steps, accepted, rejected, failed,
		 mean_score, stddev_score, best_score, mean_temperature, mean_marks, kernel_counts, kernel_accepted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.Iteration, s.Final, s.Steps, s.Accepted, s.Rejected, s.Failed,
		s.MeanScore, s.StdDevScore, best, s.MeanTemperature, s.MeanMarks, string(counts), string(accepted),
	)
	if err != nil {
		return fmt.Errorf("failed to insert stats: %w", err)
	}
	return nil
}

// Runs lists runs newest first. An empty jobID lists every job; limit <= 0
// means no limit.
func (h *History) Runs(jobID string, limit int) ([]RunRecord, error) {
	query := `SELECT run_id, job_id, ref_path, seed, started_at, ended_at, outcome, reason,
		iterations, accepted, rejected, failed, best_energy, marks FROM runs`
	var args []any
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Run returns one run
func (h *History) Run(runID string) (RunRecord, error) {
	row := h.db.QueryRow(`SELECT run_id, job_id, ref_path, seed, started_at, ended_at, outcome, reason,
		iterations, accepted, rejected, failed, best_energy, marks FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, &NotFoundError{Kind: "run", ID: runID}
	}
	return rec, err
}

// Stats returns the snapshots of a run in iteration order
func (h *History) Stats(runID string) ([]mpp.StatsSnapshot, error) {
	rows, err := h.db.Query(`SELECT iteration, final, steps, accepted, rejected, failed, mean_score,
		stddev_score, best_score, mean_temperature, mean_marks, kernel_counts, kernel_accepted
		FROM run_stats WHERE run_id = ? ORDER BY iteration, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var out []mpp.StatsSnapshot
	for rows.Next() {
		var (
			s                mpp.StatsSnapshot
			best             sql.NullFloat64
			counts, accepted string
		)
		if err := rows.Scan(&s.Iteration, &s.Final, &s.Steps, &s.Accepted, &s.Rejected, &s.Failed,
			&s.MeanScore, &s.StdDevScore, &best, &s.MeanTemperature, &s.MeanMarks, &counts, &accepted); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		s.BestScore = math.Inf(-1)
		if best.Valid {
			s.BestScore = best.Float64
		}
		if err := json.Unmarshal([]byte(counts), &s.KernelCounts); err != nil {
			return nil, fmt.Errorf("failed to decode kernel counts: %w", err)
		}
		if err := json.Unmarshal([]byte(accepted), &s.KernelAccepted); err != nil {
			return nil, fmt.Errorf("failed to decode kernel acceptances: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		rec             RunRecord
		started         string
		ended           sql.NullString
		outcome, reason sql.NullString
		best            sql.NullFloat64
	)
	err := row.Scan(&rec.RunID, &rec.JobID, &rec.RefPath, &rec.Seed, &started, &ended, &outcome, &reason,
		&rec.Iterations, &rec.Accepted, &rec.Rejected, &rec.Failed, &best, &rec.Marks)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("failed to scan run: %w", err)
	}

	if rec.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return RunRecord{}, fmt.Errorf("failed to parse start time: %w", err)
	}
	if ended.Valid {
		t, err := time.Parse(timeLayout, ended.String)
		if err != nil {
			return RunRecord{}, fmt.Errorf("failed to parse end time: %w", err)
		}
		rec.EndedAt = &t
	}
	rec.Outcome = outcome.String
	rec.Reason = reason.String
	if best.Valid {
		rec.BestEnergy = &best.Float64
	}
	return rec, nil
}
