package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/cwbudde/markfit/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job can no longer change
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobConfig is an alias to avoid duplication with store.JobConfig
type JobConfig = store.JobConfig

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// Job represents a segmentation job
type Job struct {
	ID                  string     `json:"id"`
	State               JobState   `json:"state"`
	Config              JobConfig  `json:"config"`
	RunID               string     `json:"runId,omitempty"`
	ResumedFrom         string     `json:"resumedFrom,omitempty"`
	BestEnergy          *float64   `json:"bestEnergy,omitempty"`
	BestMarks           int        `json:"bestMarks"`
	Iterations          int        `json:"iterations"`
	Temperature         float64    `json:"temperature"`
	Accepted            int        `json:"accepted"`
	Rejected            int        `json:"rejected"`
	Failed              int        `json:"failed"`
	IterationsPerSecond float64    `json:"iterationsPerSecond"`
	Reason              string     `json:"reason,omitempty"`
	StartTime           time.Time  `json:"startTime"`
	EndTime             *time.Time `json:"endTime,omitempty"`
	Error               string     `json:"error,omitempty"`

	marks           []mpp.Mark
	trigger         *mpp.Trigger
	cancelRequested bool
}

// Marks returns the best marks seen so far
func (j Job) Marks() []mpp.Mark {
	return j.marks
}

// Elapsed returns the run time so far, or the total once finished
func (j Job) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// ManagerOptions selects where jobs persist their results. Zero values
// disable the matching persistence.
type ManagerOptions struct {
	Store   store.Store
	DataDir string // base directory of the trace files
	History *store.History
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
	opts        ManagerOptions

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewJobManager creates a new JobManager
func NewJobManager(opts ManagerOptions) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return *job
}

// Start runs the job on its own goroutine
func (jm *JobManager) Start(id string) {
	jm.workers.Add(1)
	go func() {
		defer jm.workers.Done()
		if err := runJob(jm.ctx, jm, id); err != nil {
			jm.logger(id).Debug("Job worker returned", "error", err)
		}
	}()
}

// GetJob returns a copy of the job
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns copies of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].StartTime.Equal(jobs[b].StartTime) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].StartTime.Before(jobs[b].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	running := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			running = append(running, *job)
		}
	}
	return running
}

// Cancel asks a job to stop. A running job stops at its next iteration
// boundary and keeps its best marks; a pending job never starts iterating.
func (jm *JobManager) Cancel(id string) (Job, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.State.Terminal() {
		return *job, fmt.Errorf("%w: %s is %s", ErrJobFinished, id, job.State)
	}

	job.cancelRequested = true
	if job.trigger != nil {
		job.trigger.Fire("cancelled by request")
	}
	return *job, nil
}

// bindTrigger hands the run's trigger to the job, firing it right away
// when a cancel arrived before the run was built.
func (jm *JobManager) bindTrigger(id string, trigger *mpp.Trigger) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return
	}
	job.trigger = trigger
	if job.cancelRequested {
		trigger.Fire("cancelled by request")
	}
}

// Wait blocks until every started job has finished
func (jm *JobManager) Wait() {
	jm.workers.Wait()
}

// Shutdown stops all jobs and waits for their workers until ctx expires
func (jm *JobManager) Shutdown(ctx context.Context) error {
	jm.cancel()

	done := make(chan struct{})
	go func() {
		jm.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
