package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cwbudde/markfit/internal/mpp"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})

	job := jm.CreateJob(testJobConfig("test.png", 100))

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if job.Config.RefPath != "test.png" || job.Config.Run.Iterations != 100 {
		t.Errorf("Config not set correctly: %+v", job.Config)
	}
	if job.BestEnergy != nil {
		t.Error("A new job has no best energy")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})
	job := jm.CreateJob(testJobConfig("test.png", 10))

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	if _, exists := jm.GetJob("nonexistent"); exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_GetJobReturnsCopy(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})
	job := jm.CreateJob(testJobConfig("test.png", 10))

	copied, _ := jm.GetJob(job.ID)
	copied.State = StateFailed

	again, _ := jm.GetJob(job.ID)
	if again.State != StatePending {
		t.Errorf("Mutating a copy changed the job: %s", again.State)
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(testJobConfig("test1.png", 10))
	time.Sleep(time.Millisecond)
	second := jm.CreateJob(testJobConfig("test2.png", 10))

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})
	job := jm.CreateJob(testJobConfig("test.png", 10))

	energy := 1.5
	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Iterations = 10
		j.BestEnergy = &energy
	})
	if err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning || updated.Iterations != 10 || *updated.BestEnergy != 1.5 {
		t.Errorf("Update not applied: %+v", updated)
	}

	if err := jm.UpdateJob("nonexistent", func(*Job) {}); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestJobManager_GetRunningJobs(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})
	a := jm.CreateJob(testJobConfig("a.png", 10))
	jm.CreateJob(testJobConfig("b.png", 10))

	jm.UpdateJob(a.ID, func(j *Job) { j.State = StateRunning })

	running := jm.GetRunningJobs()
	if len(running) != 1 || running[0].ID != a.ID {
		t.Errorf("Expected only %s running, got %+v", a.ID, running)
	}
}

func TestJobManager_CancelFiresTrigger(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})
	job := jm.CreateJob(testJobConfig("test.png", 10))

	trigger := mpp.NewTrigger()
	jm.bindTrigger(job.ID, trigger)

	if _, err := jm.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !trigger.Fired() {
		t.Error("Cancel should fire the run trigger")
	}
}

func TestJobManager_CancelBeforeTriggerBound(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})
	job := jm.CreateJob(testJobConfig("test.png", 10))

	if _, err := jm.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	trigger := mpp.NewTrigger()
	jm.bindTrigger(job.ID, trigger)
	if !trigger.Fired() {
		t.Error("A trigger bound after cancel should fire immediately")
	}
}

func TestJobManager_CancelErrors(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})

	if _, err := jm.Cancel("nonexistent"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}

	job := jm.CreateJob(testJobConfig("test.png", 10))
	jm.UpdateJob(job.ID, func(j *Job) { j.State = StateCompleted })
	if _, err := jm.Cancel(job.ID); !errors.Is(err, ErrJobFinished) {
		t.Errorf("Expected ErrJobFinished, got %v", err)
	}
}

func TestJobManager_StartAndWait(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})
	job := jm.CreateJob(testJobConfig(testImagePath(t), 50))

	jm.Start(job.ID)
	jm.Wait()

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s (%s)", updated.State, updated.Error)
	}
}

func TestJobManager_ShutdownCancelsJobs(t *testing.T) {
	jm := NewJobManager(ManagerOptions{})
	job := jm.CreateJob(testJobConfig(testImagePath(t), 1_000_000))
	jm.Start(job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := jm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled by shutdown, got %s", updated.State)
	}
}

func TestJobState_Terminal(t *testing.T) {
	tests := []struct {
		state    JobState
		terminal bool
	}{
		{StatePending, false},
		{StateRunning, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}
