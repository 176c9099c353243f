package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/markfit/internal/store"
)

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

// runCompletedJob creates a job through the API and waits for it
func runCompletedJob(t *testing.T, s *Server, iterations int) Job {
	t.Helper()
	w := doRequest(t, s, http.MethodPost, "/api/v1/jobs", map[string]any{
		"refPath": testImagePath(t),
		"config": map[string]any{
			"iterations": iterations,
			"radius":     map[string]any{"min": 3, "max": 10},
			"kernels":    map[string]any{"refine": 0},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	job := decode[Job](t, w)
	s.jobManager.Wait()

	done, _ := s.jobManager.GetJob(job.ID)
	if done.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s (%s)", done.State, done.Error)
	}
	return done
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	imgPath := testImagePath(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/jobs", map[string]any{
		"refPath": imgPath,
		"config": map[string]any{
			"iterations": 50,
			"kernels":    map[string]any{"refine": 0},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	job := decode[Job](t, w)
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.Config.Run.Image != imgPath {
		t.Errorf("Run image should follow refPath, got %q", job.Config.Run.Image)
	}
	if job.Config.Run.Iterations != 50 {
		t.Errorf("Iterations override not applied: %d", job.Config.Run.Iterations)
	}
	// Fields missing from the override keep their defaults
	if job.Config.Run.Kernels.Birth != 3 || job.Config.Run.Schedule.Kind != "geometric" {
		t.Errorf("Defaults lost: %+v", job.Config.Run)
	}

	s.jobManager.Wait()
}

func TestServer_CreateJob_BadRequests(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing refPath", `{}`},
		{"invalid config", `{"refPath":"x.png","config":{"radius":{"min":10,"max":2}}}`},
		{"wrong config type", `{"refPath":"x.png","config":{"iterations":"many"}}`},
		{"resume without store", `{"refPath":"x.png","resumeFrom":"abc"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
	if len(s.jobManager.ListJobs()) != 0 {
		t.Error("Rejected requests should not create jobs")
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	s.jobManager.CreateJob(testJobConfig("a.png", 10))
	s.jobManager.CreateJob(testJobConfig("b.png", 10))

	w := doRequest(t, s, http.MethodGet, "/api/v1/jobs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if jobs := decode[[]Job](t, w); len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJob(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	job := runCompletedJob(t, s, 100)

	w := doRequest(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	got := decode[jobResponse](t, w)
	if got.ID != job.ID || got.State != StateCompleted {
		t.Errorf("Unexpected job: %+v", got.Job)
	}
	if got.Iterations != 100 {
		t.Errorf("Expected 100 iterations, got %d", got.Iterations)
	}
	if got.BestEnergy == nil {
		t.Error("bestEnergy should be reported")
	}
	if got.Elapsed <= 0 {
		t.Error("elapsed should be positive")
	}
}

func TestServer_GetJob_NotFound(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})

	for _, path := range []string{
		"/api/v1/jobs/nonexistent",
		"/api/v1/jobs/nonexistent/marks",
		"/api/v1/jobs/nonexistent/overlay.png",
		"/api/v1/jobs/nonexistent/stream",
	} {
		if w := doRequest(t, s, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, w.Code)
		}
	}
}

func TestServer_GetMarks(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	job := runCompletedJob(t, s, 150)

	w := doRequest(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID+"/marks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	got := decode[marksResponse](t, w)
	if len(got.Marks) != job.BestMarks {
		t.Errorf("Expected %d marks, got %d", job.BestMarks, len(got.Marks))
	}
	for _, m := range got.Marks {
		if m.Shape.R < 3 || m.Shape.R > 10 {
			t.Errorf("Mark %d radius %.2f outside bounds", m.ID, m.Shape.R)
		}
	}
}

func TestServer_GetMarks_BeforeResults(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	job := s.jobManager.CreateJob(testJobConfig("a.png", 10))

	w := doRequest(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID+"/marks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"marks":[]`) {
		t.Errorf("Expected an empty mark list, got %s", w.Body.String())
	}
}

func TestServer_RenderImages(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	job := runCompletedJob(t, s, 100)

	for _, name := range []string{"overlay.png", "mask.png"} {
		w := doRequest(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID+"/"+name, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", name, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("%s: expected image/png, got %s", name, ct)
		}
		img, err := png.Decode(w.Body)
		if err != nil {
			t.Fatalf("%s: failed to decode: %v", name, err)
		}
		if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 40 {
			t.Errorf("%s: expected 40x40, got %dx%d", name, b.Dx(), b.Dy())
		}
	}
}

func TestServer_RenderImages_NoResults(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	job := s.jobManager.CreateJob(testJobConfig("a.png", 10))

	if w := doRequest(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID+"/overlay.png", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	pending := s.jobManager.CreateJob(testJobConfig("a.png", 10))

	w := doRequest(t, s, http.MethodPost, "/api/v1/jobs/"+pending.ID+"/cancel", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}

	if w := doRequest(t, s, http.MethodPost, "/api/v1/jobs/nonexistent/cancel", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	finished := runCompletedJob(t, s, 20)
	if w := doRequest(t, s, http.MethodPost, "/api/v1/jobs/"+finished.ID+"/cancel", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestServer_CancelRunningJob(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	job := s.jobManager.CreateJob(testJobConfig(testImagePath(t), 1_000_000))
	s.jobManager.Start(job.ID)

	if w := doRequest(t, s, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil); w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}
	s.jobManager.Wait()

	updated, _ := s.jobManager.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
	if updated.Iterations >= 1_000_000 {
		t.Error("Cancelled job should stop early")
	}
}

func TestServer_StreamFinishedJob(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	job := runCompletedJob(t, s, 30)

	w := doRequest(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID+"/stream", nil)
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %s", ct)
	}

	events := parseSSE(t, bufio.NewScanner(w.Body))
	if len(events) != 1 {
		t.Fatalf("Expected one event for a finished job, got %d", len(events))
	}
	if !events[0].Final || events[0].State != StateCompleted || events[0].Iterations != 30 {
		t.Errorf("Unexpected event: %+v", events[0])
	}
}

func TestServer_StreamRunningJob(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	cfg := testJobConfig(testImagePath(t), 300)
	cfg.Run.Feedback.StatsEvery = 100
	job := s.jobManager.CreateJob(cfg)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	first := nextSSE(t, scanner)
	if first.State != StatePending {
		t.Fatalf("First event should show the pending job, got %s", first.State)
	}

	// Subscribed before the job starts, so every event arrives
	s.jobManager.Start(job.ID)
	events := parseSSE(t, scanner)
	s.jobManager.Wait()

	if len(events) != 4 {
		t.Fatalf("Expected progress at 100, 200, 300 and a final event, got %d", len(events))
	}
	for i, want := range []int{100, 200, 300} {
		if events[i].Iterations != want || events[i].Final {
			t.Errorf("Event %d: %+v", i, events[i])
		}
	}
	last := events[3]
	if !last.Final || last.State != StateCompleted || last.BestEnergy == nil {
		t.Errorf("Unexpected final event: %+v", last)
	}
}

func TestServer_Index(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	job := s.jobManager.CreateJob(testJobConfig("cells.png", 10))

	w := doRequest(t, s, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), job.ID) || !strings.Contains(w.Body.String(), "cells.png") {
		t.Error("Index should list the job")
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})

	w := doRequest(t, s, http.MethodOptions, "/api/v1/jobs", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestServer_ResumeThroughAPI(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	s := NewServer(":8080", ManagerOptions{Store: fs})
	first := runCompletedJob(t, s, 60)

	w := doRequest(t, s, http.MethodPost, "/api/v1/jobs", map[string]any{
		"refPath":    first.Config.RefPath,
		"resumeFrom": first.ID,
		"config": map[string]any{
			"iterations": 60,
			"radius":     map[string]any{"min": 3, "max": 10},
			"kernels":    map[string]any{"refine": 0},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	resumed := decode[Job](t, w)
	if resumed.ResumedFrom != first.ID {
		t.Errorf("Expected resumedFrom %s, got %q", first.ID, resumed.ResumedFrom)
	}
	s.jobManager.Wait()

	done, _ := s.jobManager.GetJob(resumed.ID)
	if done.State != StateCompleted {
		t.Errorf("Resumed job should complete, got %s (%s)", done.State, done.Error)
	}
}

func TestServer_Shutdown(t *testing.T) {
	s := NewServer(":8080", ManagerOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown without a listener should succeed: %v", err)
	}
}

// nextSSE reads the next data line of an event stream
func nextSSE(t *testing.T, scanner *bufio.Scanner) ProgressEvent {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("Invalid event %q: %v", line, err)
		}
		return event
	}
	t.Fatalf("Stream ended early: %v", scanner.Err())
	return ProgressEvent{}
}

// parseSSE reads events until the final one
func parseSSE(t *testing.T, scanner *bufio.Scanner) []ProgressEvent {
	t.Helper()
	var events []ProgressEvent
	for {
		event := nextSSE(t, scanner)
		events = append(events, event)
		if event.Final {
			return events
		}
	}
}
