package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/markfit/internal/fit"
	"github.com/cwbudde/markfit/internal/mpp"
	"github.com/cwbudde/markfit/internal/report"
)

// defaultProgressEvery is used when the run disables stats snapshots
const defaultProgressEvery = 100

// runJob executes a segmentation job. Progress snapshots update the job
// and are broadcast to SSE clients; checkpoints, traces and run history are
// written when the manager was given a store, data directory or history.
func runJob(ctx context.Context, jm *JobManager, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if err := jm.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}

	log := jm.logger(jobID)
	log.Info("Starting job", "ref", job.Config.RefPath, "iterations", job.Config.Run.Iterations)

	ref, err := fit.LoadImage(job.Config.RefPath)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	bounds := ref.Bounds()
	log.Info("Loaded reference image", "width", bounds.Dx(), "height", bounds.Dy())

	p, err := fit.NewPipeline(job.Config.Run, ref)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	p.Logger = log
	jm.bindTrigger(jobID, p.Trigger)

	initial, err := jm.initialConfiguration(job)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	opts := report.Options{
		JobID:         jobID,
		Config:        job.Config,
		Logger:        log,
		TraceDir:      jm.opts.DataDir,
		History:       jm.opts.History,
		Progress:      func(s report.Snapshot) { jm.progress(jobID, s) },
		ProgressEvery: job.Config.Run.Feedback.StatsEvery,
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = defaultProgressEvery
	}
	if jm.opts.Store != nil {
		opts.Store = jm.opts.Store
		opts.Artifacts = map[string]fit.Renderer{
			"overlay.png": fit.NewOverlayRenderer(ref),
			"mask.png":    fit.MaskRenderer{Width: bounds.Dx(), Height: bounds.Dy()},
		}
	}
	p.Bus.WithErrorSink(func(hook string, err error) {
		log.Warn("Receiver failed", "hook", hook, "error", err)
	})

	receivers, err := report.Attach(p.Bus, job.Config.Run.Feedback, p.Direction(), opts)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	defer receivers.Close()

	start := time.Now()
	result, err := p.Execute(ctx, initial)
	if err != nil {
		// An evaluation interrupted by shutdown still leaves a usable result
		if result == nil || ctx.Err() == nil || !errors.Is(err, context.Canceled) {
			markJobFailed(jm, jobID, err)
			return err
		}
		log.Info("Job interrupted", "error", err)
	}
	elapsed := time.Since(start)

	var runID string
	if receivers.History != nil {
		runID = receivers.History.RunID()
	}

	endTime := time.Now()
	var final Job
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		if j.cancelRequested || ctx.Err() != nil {
			j.State = StateCancelled
		}
		j.RunID = runID
		j.Iterations = result.Iterations
		j.Accepted = result.Accepted
		j.Rejected = result.Rejected
		j.Failed = result.Failed
		j.Reason = result.Reason
		if result.Best != nil && result.Best.Evaluated() {
			energy := result.Energy.Total
			j.BestEnergy = &energy
			j.BestMarks = result.Best.Len()
			j.marks = result.Best.Marks()
		}
		if secs := elapsed.Seconds(); secs > 0 {
			j.IterationsPerSecond = float64(result.Iterations) / secs
		}
		j.EndTime = &endTime
		final = *j
	})
	if err != nil {
		return err
	}

	log.Info("Job finished",
		"state", final.State,
		"elapsed", elapsed,
		"iterations", result.Iterations,
		"best_energy", result.Energy.Total,
		"marks", final.BestMarks,
		"reason", result.Reason)

	jm.broadcaster.Broadcast(eventFromJob(final, true))
	return nil
}

// initialConfiguration loads the marks of the checkpoint the job resumes
// from; a fresh job starts empty.
func (jm *JobManager) initialConfiguration(job Job) (*mpp.Configuration, error) {
	if job.ResumedFrom == "" {
		return nil, nil
	}
	if jm.opts.Store == nil {
		return nil, fmt.Errorf("cannot resume %s: no checkpoint store configured", job.ResumedFrom)
	}

	cp, err := jm.opts.Store.LoadCheckpoint(job.ResumedFrom)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := cp.IsCompatible(job.Config); err != nil {
		return nil, err
	}
	return cp.Configuration()
}

// progress applies a snapshot to the job and broadcasts it
func (jm *JobManager) progress(jobID string, s report.Snapshot) {
	var updated Job
	err := jm.UpdateJob(jobID, func(j *Job) {
		j.Iterations = s.Iteration
		j.Temperature = s.Temperature
		j.Accepted = s.Accepted
		j.Rejected = s.Rejected
		j.Failed = s.Failed
		j.IterationsPerSecond = s.IterationsPerSecond
		if s.Best != nil {
			energy := s.BestEnergy()
			j.BestEnergy = &energy
			j.BestMarks = s.Best.Len()
			j.marks = s.Best.Marks()
		}
		updated = *j
	})
	if err != nil {
		return
	}

	// The final snapshot is followed by the terminal event from runJob
	if !s.Final {
		jm.broadcaster.Broadcast(eventFromJob(updated, false))
	}
}

func (jm *JobManager) logger(jobID string) *slog.Logger {
	return slog.Default().With("job_id", jobID)
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	var failed Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		failed = *j
	})
	jm.logger(jobID).Error("Job failed", "error", err)
	jm.broadcaster.Broadcast(eventFromJob(failed, true))
}
