package repo

import (
	"context"

	"styleforge/internal/domain"
)

// Store is the order/job persistence capability handed to handlers and the
// poller. Production backs it with Postgres; mock mode and tests back it
// with the in-memory TTL store. Both enforce the same transition rules:
// terminal statuses are absorbing and job output URLs fill, never clear.
type Store interface {
	// UpsertOrder creates or refreshes the order keyed by its external
	// reference and returns the stored row. An existing order keeps its
	// status and id.
	UpsertOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// OrderByID fetches one order; domain.ErrNotFound when absent.
	OrderByID(ctx context.Context, id string) (*domain.Order, error)

	// AttachJob records the provider job id against the order and promotes
	// the order to PROCESSING, atomically where the backend allows.
	AttachJob(ctx context.Context, orderID, providerJobID string) error

	// JobWithOrder resolves a provider job id to the job row and its
	// owning order; domain.ErrNotFound when the job is unknown.
	JobWithOrder(ctx context.Context, providerJobID string) (*domain.Job, *domain.Order, error)

	// MarkOrderStatus applies a status transition. onlyFrom narrows the
	// allowed prior state ("" means any non-terminal); it reports whether
	// a row actually changed.
	MarkOrderStatus(ctx context.Context, orderID string, status domain.Status, onlyFrom domain.Status) (bool, error)

	// FillJobOutputs sets output URLs that are still empty. Empty incoming
	// values never clear stored ones.
	FillJobOutputs(ctx context.Context, providerJobID, imageURL, videoURL string) error

	// InsertWebhookEvent records a delivery id; false means duplicate.
	InsertWebhookEvent(ctx context.Context, eventID, topic string) (bool, error)

	// StaleProcessingJobs lists provider job ids whose order has sat in
	// PROCESSING for at least minAgeSeconds.
	StaleProcessingJobs(ctx context.Context, minAgeSeconds float64, limit int) ([]string, error)
}
