package poll

import (
	"context"

	"styleforge/internal/adapter/repo"
	"styleforge/internal/commerce"
	"styleforge/internal/domain"
	"styleforge/internal/infra"
	"styleforge/internal/notify"
	"styleforge/internal/providers/runpod"
	"styleforge/internal/telemetry"
)

// Result is the reconciled view of one job, merged from the store and the
// provider's live status endpoint.
type Result struct {
	OrderID       string
	Status        domain.Status
	ImageURL      string
	VideoURL      string
	FailureReason string
}

// Poller pulls live job status on demand and self-heals the stored record.
// Both the job status endpoint and the reconciler sweep run through it, so
// the transition rules live in one place: SUCCEEDED short-circuits without
// a provider call, a mapped status only lands on an order still in
// PROCESSING, and store writes are best-effort.
type Poller struct {
	store      repo.Store
	provider   runpod.Provider
	dispatcher *notify.Dispatcher
	logger     infra.Logger
}

func New(store repo.Store, provider runpod.Provider, dispatcher *notify.Dispatcher, logger infra.Logger) *Poller {
	return &Poller{store: store, provider: provider, dispatcher: dispatcher, logger: logger}
}

// PollAndReconcile resolves the job, refreshes it from the provider when the
// order is not yet done, persists whatever changed, and returns the merged
// view. Provider outages degrade to the stored values instead of erroring.
func (p *Poller) PollAndReconcile(ctx context.Context, providerJobID string) (*Result, error) {
	job, order, err := p.store.JobWithOrder(ctx, providerJobID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		OrderID:  order.ID,
		Status:   order.Status,
		ImageURL: job.OutputImageURL,
		VideoURL: job.OutputVideoURL,
	}
	if order.Status == domain.StatusSucceeded {
		return res, nil
	}

	env, err := p.provider.Status(ctx, providerJobID)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("job_id", providerJobID).
			Msg("poll: live status unavailable, returning stored state")
		return res, nil
	}
	telemetry.PollRefreshes.Inc()

	imageURL, videoURL := runpod.ExtractAssets(env.Output())
	if imageURL != "" {
		res.ImageURL = imageURL
	}
	if videoURL != "" {
		res.VideoURL = videoURL
	}

	mapped, mappable := runpod.MapStatus(env.Status())
	if mappable && order.Status == domain.StatusProcessing {
		res.Status = mapped
	}
	if res.Status == domain.StatusFailed {
		res.FailureReason = runpod.FailureReason(env)
	}

	p.persist(ctx, job, order, res, mapped, mappable)
	return res, nil
}

// persist writes the reconciled fields back. Failures are logged and
// swallowed; the caller still gets the live-observed values.
func (p *Poller) persist(ctx context.Context, job *domain.Job, order *domain.Order, res *Result, mapped domain.Status, mappable bool) {
	if res.ImageURL != job.OutputImageURL || res.VideoURL != job.OutputVideoURL {
		if err := p.store.FillJobOutputs(ctx, job.ProviderJobID, res.ImageURL, res.VideoURL); err != nil {
			p.logger.Warn().
				Err(err).
				Str("job_id", job.ProviderJobID).
				Msg("poll: output write failed")
		}
	}

	if !mappable {
		return
	}
	changed, err := p.store.MarkOrderStatus(ctx, order.ID, mapped, domain.StatusProcessing)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("order_id", order.ID).
			Str("status", string(mapped)).
			Msg("poll: status write failed")
		return
	}
	if !changed {
		return
	}

	switch mapped {
	case domain.StatusSucceeded:
		telemetry.JobsSucceeded.Inc()
	case domain.StatusFailed:
		telemetry.JobsFailed.Inc()
	}
	n := commerce.Notification{
		ExternalRef: order.ExternalRef,
		Status:      mapped,
		JobID:       job.ProviderJobID,
	}
	if mapped == domain.StatusSucceeded {
		n.ImageURL = res.ImageURL
		n.VideoURL = res.VideoURL
	}
	p.dispatcher.Dispatch(n)
}
