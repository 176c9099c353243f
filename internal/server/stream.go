package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// pingInterval keeps idle SSE connections open through proxies
const pingInterval = 30 * time.Second

// ProgressEvent represents a progress update event
type ProgressEvent struct {
	JobID               string    `json:"jobId"`
	State               JobState  `json:"state"`
	Iterations          int       `json:"iterations"`
	Temperature         float64   `json:"temperature"`
	BestEnergy          *float64  `json:"bestEnergy,omitempty"`
	BestMarks           int       `json:"bestMarks"`
	Accepted            int       `json:"accepted"`
	Rejected            int       `json:"rejected"`
	Failed              int       `json:"failed"`
	IterationsPerSecond float64   `json:"iterationsPerSecond"`
	Final               bool      `json:"final"`
	Error               string    `json:"error,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

func eventFromJob(job Job, final bool) ProgressEvent {
	return ProgressEvent{
		JobID:               job.ID,
		State:               job.State,
		Iterations:          job.Iterations,
		Temperature:         job.Temperature,
		BestEnergy:          job.BestEnergy,
		BestMarks:           job.BestMarks,
		Accepted:            job.Accepted,
		Rejected:            job.Rejected,
		Failed:              job.Failed,
		IterationsPerSecond: job.IterationsPerSecond,
		Final:               final,
		Error:               job.Error,
		Timestamp:           time.Now(),
	}
}

// EventBroadcaster manages SSE connections for a job
type EventBroadcaster struct {
	mu        sync.Mutex
	clients   map[string]map[chan ProgressEvent]bool // jobID -> set of client channels
	lastEvent map[string]ProgressEvent               // jobID -> last event for new clients
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan ProgressEvent]bool),
		lastEvent: make(map[string]ProgressEvent),
	}
}

// Subscribe adds a client to receive events for a job
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, 16)

	if eb.clients[jobID] == nil {
		eb.clients[jobID] = make(map[chan ProgressEvent]bool)
	}
	eb.clients[jobID][ch] = true

	// Replay the last event for reconnecting clients
	if last, ok := eb.lastEvent[jobID]; ok {
		ch <- last
	}

	slog.Debug("SSE client subscribed", "job_id", jobID, "total_clients", len(eb.clients[jobID]))
	return ch
}

// Unsubscribe removes a client from receiving events
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[jobID]; ok {
		if clients[ch] {
			delete(clients, ch)
			close(ch)
		}
		if len(clients) == 0 {
			delete(eb.clients, jobID)
		}
	}

	slog.Debug("SSE client unsubscribed", "job_id", jobID)
}

// Broadcast sends an event to all subscribed clients for a job. Slow
// clients miss intermediate events; final events are never dropped.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[event.JobID] = event

	for ch := range eb.clients[event.JobID] {
		if event.Final {
			deliverFinal(ch, event)
			continue
		}
		select {
		case ch <- event:
		default:
			slog.Warn("SSE channel full, skipping event", "job_id", event.JobID)
		}
	}
}

// deliverFinal drops the oldest buffered events until the terminal event
// fits. Only broadcasters holding eb.mu send, so the loop ends; the
// receives never block because the subscriber may drain concurrently.
func deliverFinal(ch chan ProgressEvent, event ProgressEvent) {
	for {
		select {
		case ch <- event:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// handleJobStream handles GET /api/v1/jobs/{id}/stream. The stream ends
// after the job's terminal event.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	jobID := jobIDParam(r)

	// Subscribe first so no event slips between the snapshot and the loop
	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := writeSSEEvent(w, eventFromJob(job, job.State.Terminal())); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if job.State.Terminal() {
		return
	}

	// Events already covered by the snapshot, replayed or raced, are skipped
	sent := job.Iterations

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "job_id", jobID)
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if !event.Final && event.Iterations <= sent {
				continue
			}
			sent = event.Iterations
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
			if event.Final {
				return
			}

		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
	return err
}
