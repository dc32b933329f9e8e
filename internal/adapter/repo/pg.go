package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"styleforge/internal/domain"
	"styleforge/internal/infra"
	"styleforge/internal/sqlinline"
)

// PGStore implements Store over Postgres. Single-statement operations go
// through the marker-logging SQL runner; the one multi-statement sequence
// (insert job + promote order) runs in an explicit transaction on the pool.
type PGStore struct {
	runner infra.SQLExecutor
	pool   *pgxpool.Pool
}

func NewPGStore(runner infra.SQLExecutor, pool *pgxpool.Pool) *PGStore {
	return &PGStore{runner: runner, pool: pool}
}

func (s *PGStore) UpsertOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	row := s.runner.QueryRow(ctx, sqlinline.QUpsertOrder,
		order.ID, order.ExternalRef, order.SourceImageURL, order.Style, string(domain.StatusPending))
	stored, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("repo: upsert order: %w", err)
	}
	return stored, nil
}

func (s *PGStore) OrderByID(ctx context.Context, id string) (*domain.Order, error) {
	stored, err := scanOrder(s.runner.QueryRow(ctx, sqlinline.QOrderByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: order by id: %w", err)
	}
	return stored, nil
}

func (s *PGStore) AttachJob(ctx context.Context, orderID, providerJobID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repo: begin attach job: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
insert into jobs (provider_job_id, order_id)
values ($1, $2)
on conflict (provider_job_id) do nothing;
`, providerJobID, orderID); err != nil {
		return fmt.Errorf("repo: insert job: %w", err)
	}
	if _, err := tx.Exec(ctx, `
update orders
set status = $2, updated_at = now()
where id = $1
  and status not in ('SUCCEEDED', 'FAILED');
`, orderID, string(domain.StatusProcessing)); err != nil {
		return fmt.Errorf("repo: promote order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repo: commit attach job: %w", err)
	}
	return nil
}

func (s *PGStore) JobWithOrder(ctx context.Context, providerJobID string) (*domain.Job, *domain.Order, error) {
	row := s.runner.QueryRow(ctx, sqlinline.QJobWithOrder, providerJobID)
	var job domain.Job
	var order domain.Order
	var status string
	if err := row.Scan(
		&job.ProviderJobID,
		&job.OrderID,
		&job.OutputImageURL,
		&job.OutputVideoURL,
		&order.ExternalRef,
		&order.SourceImageURL,
		&order.Style,
		&status,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, fmt.Errorf("repo: job with order: %w", err)
	}
	order.ID = job.OrderID
	order.Status = domain.Status(status)
	return &job, &order, nil
}

func (s *PGStore) MarkOrderStatus(ctx context.Context, orderID string, status domain.Status, onlyFrom domain.Status) (bool, error) {
	query := sqlinline.QMarkOrderStatus
	if onlyFrom == domain.StatusProcessing {
		query = sqlinline.QMarkOrderStatusFromProcessing
	}
	tag, err := s.runner.Exec(ctx, query, orderID, string(status))
	if err != nil {
		return false, fmt.Errorf("repo: mark order status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) FillJobOutputs(ctx context.Context, providerJobID, imageURL, videoURL string) error {
	if _, err := s.runner.Exec(ctx, sqlinline.QFillJobOutputs, providerJobID, imageURL, videoURL); err != nil {
		return fmt.Errorf("repo: fill job outputs: %w", err)
	}
	return nil
}

func (s *PGStore) InsertWebhookEvent(ctx context.Context, eventID, topic string) (bool, error) {
	tag, err := s.runner.Exec(ctx, sqlinline.QInsertWebhookEvent, eventID, topic)
	if err != nil {
		return false, fmt.Errorf("repo: insert webhook event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) StaleProcessingJobs(ctx context.Context, minAgeSeconds float64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.runner.Query(ctx, sqlinline.QStaleProcessingJobs, minAgeSeconds, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: stale processing jobs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repo: scan stale job: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	var status string
	if err := row.Scan(
		&order.ID,
		&order.ExternalRef,
		&order.SourceImageURL,
		&order.Style,
		&status,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	order.Status = domain.Status(status)
	return &order, nil
}

var _ Store = (*PGStore)(nil)
