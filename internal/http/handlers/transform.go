package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"styleforge/internal/domain"
	"styleforge/internal/infra"
	"styleforge/internal/providers/runpod"
	"styleforge/internal/telemetry"
	"styleforge/internal/workflow"
)

// submitTimeout bounds build+submit work kicked off outside a live request,
// i.e. the asynchronous path behind the commerce webhook.
const submitTimeout = 60 * time.Second

type transformRequest struct {
	ImageURL string `json:"imageUrl"`
	Style    string `json:"style"`
	Seed     *int64 `json:"seed"`
}

type transformResponse struct {
	OrderID       string `json:"orderId"`
	ProviderJobID string `json:"providerJobId"`
	Seed          int64  `json:"seed"`
	Status        string `json:"status"`
	Provider      string `json:"provider"`
	Mode          string `json:"mode"`
}

func (a *App) Transform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "invalid payload")
		return
	}
	if req.ImageURL == "" {
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "imageUrl required")
		return
	}
	if u, err := url.Parse(req.ImageURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "imageUrl must be an absolute http(s) URL")
		return
	}
	if req.Seed != nil && *req.Seed < 0 {
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "seed must be non-negative")
		return
	}

	if a.Objects != nil {
		info, err := a.Objects.Head(r.Context(), req.ImageURL)
		if err != nil {
			a.Logger.Warn().Err(err).Str("image_url", req.ImageURL).Msg("transform: source head failed")
			a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "source image is not reachable")
			return
		}
		if !strings.HasPrefix(info.MIME, "image/") {
			a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "source object is not an image: "+info.MIME)
			return
		}
		if info.Size > a.Config.MaxRequestBytes {
			a.error(w, http.StatusBadRequest, infra.CodePayloadTooLarge, "source image exceeds the request-size ceiling")
			return
		}
	}

	order, err := a.Store.UpsertOrder(r.Context(), &domain.Order{
		ID:             domain.NewOrderID(time.Now()),
		ExternalRef:    domain.NewManualRef(),
		SourceImageURL: req.ImageURL,
		Style:          req.Style,
	})
	if err != nil {
		a.error(w, http.StatusInternalServerError, infra.CodeInternal, "failed to create order")
		return
	}

	result, payload, err := a.buildAndSubmit(r.Context(), order, req.Seed)
	if err != nil {
		a.renderSubmitError(w, err)
		return
	}

	a.json(w, http.StatusAccepted, transformResponse{
		OrderID:       order.ID,
		ProviderJobID: result.JobID,
		Seed:          payload.Seed,
		Status:        string(domain.StatusProcessing),
		Provider:      a.providerName(),
		Mode:          string(payload.Mode),
	})
}

// buildAndSubmit runs the payload builder and the provider submission for an
// already-persisted order, attaching the returned job id. Any failure marks
// the order FAILED before the error surfaces; the caller decides how to
// render it.
func (a *App) buildAndSubmit(ctx context.Context, order *domain.Order, seed *int64) (*runpod.SubmitResult, *workflow.Payload, error) {
	payload, err := a.Builder.Build(ctx, order.SourceImageURL, order.Style, seed)
	if err != nil {
		a.failOrder(ctx, order.ID, err)
		return nil, nil, err
	}

	result, err := a.Provider.Submit(ctx, payload)
	if err != nil {
		a.failOrder(ctx, order.ID, err)
		return nil, nil, err
	}

	if err := a.Store.AttachJob(ctx, order.ID, result.JobID); err != nil {
		a.Logger.Error().
			Err(err).
			Str("order_id", order.ID).
			Str("job_id", result.JobID).
			Msg("transform: job attach failed after submission")
		return nil, nil, err
	}
	telemetry.JobsSubmitted.Inc()
	return result, payload, nil
}

func (a *App) failOrder(ctx context.Context, orderID string, cause error) {
	if _, err := a.Store.MarkOrderStatus(ctx, orderID, domain.StatusFailed, ""); err != nil {
		a.Logger.Error().
			Err(err).
			Str("order_id", orderID).
			Msg("transform: failed-state write failed")
		return
	}
	a.Logger.Warn().
		Err(cause).
		Str("order_id", orderID).
		Msg("transform: order marked failed")
}

func (a *App) renderSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPayloadTooLarge):
		a.error(w, http.StatusRequestEntityTooLarge, infra.CodePayloadTooLarge,
			"serialized submission exceeds the size ceiling; set RUNPOD_IMAGE_MODE=url to pass the image by reference")
	case errors.Is(err, domain.ErrInvalidImage):
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "source object is not a supported image type")
	case errors.Is(err, domain.ErrNoImageSlot),
		errors.Is(err, domain.ErrNoSeedSlot),
		errors.Is(err, domain.ErrBadCheckpoint):
		a.error(w, http.StatusInternalServerError, infra.CodeInternal, err.Error())
	case errors.Is(err, domain.ErrLoopbackCallback):
		a.error(w, http.StatusInternalServerError, infra.CodeInternal,
			"PUBLIC_BASE_URL points at a loopback address; the provider cannot call it back")
	default:
		code, msg := infra.ClassifyConnectivity(err)
		if code == infra.CodeInternal {
			a.error(w, http.StatusBadGateway, infra.CodeUpstream, err.Error())
			return
		}
		a.error(w, http.StatusBadGateway, code, msg)
	}
}

func (a *App) providerName() string {
	if a.Config != nil && a.Config.MockMode {
		return "mock"
	}
	return "runpod"
}
