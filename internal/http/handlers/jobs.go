package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"styleforge/internal/domain"
	"styleforge/internal/infra"
)

type jobStatusResponse struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	OutputImageURL string `json:"outputImageUrl,omitempty"`
	OutputVideoURL string `json:"outputVideoUrl,omitempty"`
	FailureReason  string `json:"failureReason,omitempty"`
}

// JobStatus reconciles a job against the provider's live status on demand
// and returns the merged view.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "job_id required")
		return
	}

	res, err := a.Poller.PollAndReconcile(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, infra.CodeNotFound, "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, infra.CodeInternal, "failed to resolve job")
		return
	}

	a.json(w, http.StatusOK, jobStatusResponse{
		OrderID:        res.OrderID,
		Status:         string(res.Status),
		OutputImageURL: res.ImageURL,
		OutputVideoURL: res.VideoURL,
		FailureReason:  res.FailureReason,
	})
}
