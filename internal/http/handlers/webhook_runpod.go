package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"styleforge/internal/commerce"
	"styleforge/internal/domain"
	"styleforge/internal/infra"
	"styleforge/internal/providers/runpod"
	"styleforge/internal/telemetry"
)

// maxWebhookBody caps an inbound callback payload.
const maxWebhookBody = 1 << 20

type webhookAck struct {
	OK      bool   `json:"ok"`
	Ignored bool   `json:"ignored,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// RunpodWebhook ingests provider completion callbacks. Authentication is a
// shared-secret token in a query parameter, compared in constant time.
// Replays are harmless: terminal order states absorb and output URLs only
// fill, so the second delivery of the same payload changes nothing.
func (a *App) RunpodWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get(a.Config.WebhookTokenParam)
	secret := a.Config.WebhookSecret
	if len(token) != len(secret) || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		telemetry.WebhooksRejected.Inc()
		a.error(w, http.StatusUnauthorized, infra.CodeUnauthorized, "invalid webhook token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "unreadable body")
		return
	}
	env, err := runpod.ParseEnvelope(body)
	if err != nil {
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "malformed callback payload")
		return
	}
	jobID, err := env.JobID()
	if err != nil {
		if errors.Is(err, domain.ErrMissingJobID) {
			a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "callback carries no job id")
			return
		}
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "malformed callback payload")
		return
	}

	job, order, err := a.Store.JobWithOrder(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The callback can race ahead of our own submission write.
			a.Logger.Warn().Str("job_id", jobID).Msg("webhook: callback for unknown job")
			a.json(w, http.StatusOK, webhookAck{OK: true, Warning: "unknown job"})
			return
		}
		a.error(w, http.StatusInternalServerError, infra.CodeInternal, "failed to resolve job")
		return
	}

	mapped, mappable := runpod.MapStatus(env.Status())
	if !mappable {
		a.json(w, http.StatusOK, webhookAck{OK: true, Ignored: true})
		return
	}
	telemetry.WebhooksAccepted.Inc()

	switch mapped {
	case domain.StatusFailed:
		changed, err := a.Store.MarkOrderStatus(r.Context(), order.ID, domain.StatusFailed, "")
		if err != nil {
			a.error(w, http.StatusInternalServerError, infra.CodeInternal, "failed to record job failure")
			return
		}
		if changed {
			telemetry.JobsFailed.Inc()
			a.Dispatcher.Dispatch(commerce.Notification{
				ExternalRef: order.ExternalRef,
				Status:      domain.StatusFailed,
				JobID:       jobID,
			})
		}
		a.json(w, http.StatusOK, webhookAck{OK: true})

	case domain.StatusSucceeded:
		imageURL, videoURL := runpod.ExtractAssets(env.Output())
		if imageURL != "" || videoURL != "" {
			if err := a.Store.FillJobOutputs(r.Context(), jobID, imageURL, videoURL); err != nil {
				a.error(w, http.StatusInternalServerError, infra.CodeInternal, "failed to record job outputs")
				return
			}
		}
		changed, err := a.Store.MarkOrderStatus(r.Context(), order.ID, domain.StatusSucceeded, "")
		if err != nil {
			a.error(w, http.StatusInternalServerError, infra.CodeInternal, "failed to record job success")
			return
		}
		if changed {
			telemetry.JobsSucceeded.Inc()
			if imageURL == "" {
				imageURL = job.OutputImageURL
			}
			if videoURL == "" {
				videoURL = job.OutputVideoURL
			}
			a.Dispatcher.Dispatch(commerce.Notification{
				ExternalRef: order.ExternalRef,
				Status:      domain.StatusSucceeded,
				JobID:       jobID,
				ImageURL:    imageURL,
				VideoURL:    videoURL,
			})
		}
		a.json(w, http.StatusOK, webhookAck{OK: true})
	}
}
