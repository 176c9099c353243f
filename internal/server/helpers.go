package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cwbudde/markfit/internal/fit"
	"github.com/cwbudde/markfit/internal/mpp"
)

func jobIDParam(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// marksResponse is the body of GET /api/v1/jobs/{id}/marks
type marksResponse struct {
	JobID      string     `json:"jobId"`
	State      JobState   `json:"state"`
	Iterations int        `json:"iterations"`
	BestEnergy *float64   `json:"bestEnergy,omitempty"`
	Marks      []mpp.Mark `json:"marks"`
}

func newMarksResponse(job Job) marksResponse {
	marks := job.Marks()
	if marks == nil {
		marks = []mpp.Mark{}
	}
	return marksResponse{
		JobID:      job.ID,
		State:      job.State,
		Iterations: job.Iterations,
		BestEnergy: job.BestEnergy,
		Marks:      marks,
	}
}

// overlayImage draws the marks over the job's reference image
func overlayImage(job Job) (fit.Renderer, error) {
	ref, err := fit.LoadImage(job.Config.RefPath)
	if err != nil {
		return nil, err
	}
	return fit.NewOverlayRenderer(ref), nil
}

// maskImage draws the binary segmentation mask at the reference size
func maskImage(job Job) (fit.Renderer, error) {
	ref, err := fit.LoadImage(job.Config.RefPath)
	if err != nil {
		return nil, err
	}
	b := ref.Bounds()
	return fit.MaskRenderer{Width: b.Dx(), Height: b.Dy()}, nil
}
