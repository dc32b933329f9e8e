package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"styleforge/internal/domain"
)

// MemStore is the single-process Store used in mock mode and tests. It
// mirrors the relational semantics (upsert by external ref, absorbing
// terminal states, fill-never-clear outputs) in one mutex-guarded map per
// table, and evicts TTL-expired records on every access.
type MemStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	orders map[string]*memOrder // by order id
	byRef  map[string]string    // external ref -> order id
	jobs   map[string]*memJob   // by provider job id
	events map[string]time.Time // webhook event id -> received
}

type memOrder struct {
	order     domain.Order
	expiresAt time.Time
}

type memJob struct {
	job       domain.Job
	expiresAt time.Time
}

func NewMemStore(ttl time.Duration) *MemStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemStore{
		ttl:    ttl,
		now:    time.Now,
		orders: make(map[string]*memOrder),
		byRef:  make(map[string]string),
		jobs:   make(map[string]*memJob),
		events: make(map[string]time.Time),
	}
}

func (s *MemStore) UpsertOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if id, ok := s.byRef[order.ExternalRef]; ok {
		existing := s.orders[id]
		existing.order.SourceImageURL = order.SourceImageURL
		existing.order.Style = order.Style
		existing.order.UpdatedAt = s.now()
		existing.expiresAt = s.now().Add(s.ttl)
		stored := existing.order
		return &stored, nil
	}

	stored := *order
	stored.Status = domain.StatusPending
	stored.CreatedAt = s.now()
	stored.UpdatedAt = s.now()
	s.orders[stored.ID] = &memOrder{order: stored, expiresAt: s.now().Add(s.ttl)}
	s.byRef[stored.ExternalRef] = stored.ID
	out := stored
	return &out, nil
}

func (s *MemStore) OrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	rec, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := rec.order
	return &out, nil
}

func (s *MemStore) AttachJob(_ context.Context, orderID, providerJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if _, ok := s.jobs[providerJobID]; !ok {
		s.jobs[providerJobID] = &memJob{
			job:       domain.Job{ProviderJobID: providerJobID, OrderID: orderID, CreatedAt: s.now(), UpdatedAt: s.now()},
			expiresAt: s.now().Add(s.ttl),
		}
	}
	if rec, ok := s.orders[orderID]; ok && !rec.order.Status.Terminal() {
		rec.order.Status = domain.StatusProcessing
		rec.order.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemStore) JobWithOrder(_ context.Context, providerJobID string) (*domain.Job, *domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	jobRec, ok := s.jobs[providerJobID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	orderRec, ok := s.orders[jobRec.job.OrderID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	job := jobRec.job
	order := orderRec.order
	return &job, &order, nil
}

func (s *MemStore) MarkOrderStatus(_ context.Context, orderID string, status domain.Status, onlyFrom domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	rec, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	current := rec.order.Status
	if current == status || current.Terminal() {
		return false, nil
	}
	if onlyFrom != "" && current != onlyFrom {
		return false, nil
	}
	rec.order.Status = status
	rec.order.UpdatedAt = s.now()
	return true, nil
}

func (s *MemStore) FillJobOutputs(_ context.Context, providerJobID, imageURL, videoURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	rec, ok := s.jobs[providerJobID]
	if !ok {
		return nil
	}
	if rec.job.OutputImageURL == "" && imageURL != "" {
		rec.job.OutputImageURL = imageURL
	}
	if rec.job.OutputVideoURL == "" && videoURL != "" {
		rec.job.OutputVideoURL = videoURL
	}
	rec.job.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) InsertWebhookEvent(_ context.Context, eventID, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if _, ok := s.events[eventID]; ok {
		return false, nil
	}
	s.events[eventID] = s.now()
	return true, nil
}

func (s *MemStore) StaleProcessingJobs(_ context.Context, minAgeSeconds float64, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	cutoff := s.now().Add(-time.Duration(minAgeSeconds * float64(time.Second)))
	var ids []string
	for id, jobRec := range s.jobs {
		orderRec, ok := s.orders[jobRec.job.OrderID]
		if !ok || orderRec.order.Status != domain.StatusProcessing {
			continue
		}
		if orderRec.order.UpdatedAt.After(cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// sweepLocked evicts expired rows; callers hold s.mu. Event ids use the
// same TTL so the ledger cannot grow without bound in long dev sessions.
func (s *MemStore) sweepLocked() {
	now := s.now()
	for id, rec := range s.orders {
		if rec.expiresAt.Before(now) {
			delete(s.byRef, rec.order.ExternalRef)
			delete(s.orders, id)
		}
	}
	for id, rec := range s.jobs {
		if rec.expiresAt.Before(now) {
			delete(s.jobs, id)
			continue
		}
		// Cascade with the owning order, matching the relational schema.
		if _, ok := s.orders[rec.job.OrderID]; !ok {
			delete(s.jobs, id)
		}
	}
	for id, received := range s.events {
		if received.Add(s.ttl).Before(now) {
			delete(s.events, id)
		}
	}
}

var _ Store = (*MemStore)(nil)
