package runpod

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"styleforge/internal/workflow"
)

// sampleOutputImage is returned by completed mock jobs so downstream
// consumers always have a dereferenceable asset.
const sampleOutputImage = "https://picsum.photos/seed/styleforge/1024/1024.jpg"

// Mock satisfies Provider without any network traffic: submissions get a
// synthesized job id and an IN_QUEUE status, and the job reports COMPLETED
// once the configured delay has elapsed. Records expire after the TTL so a
// long-lived dev process does not accumulate them.
type Mock struct {
	delay time.Duration
	ttl   time.Duration
	now   func() time.Time

	mu   sync.Mutex
	jobs map[string]mockJob
}

type mockJob struct {
	submittedAt time.Time
	style       string
}

// NewMock builds a mock provider completing jobs after delay.
func NewMock(delay, ttl time.Duration) *Mock {
	if delay < 0 {
		delay = 0
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Mock{
		delay: delay,
		ttl:   ttl,
		now:   time.Now,
		jobs:  make(map[string]mockJob),
	}
}

func (m *Mock) Submit(_ context.Context, payload *workflow.Payload) (*SubmitResult, error) {
	id := "mock-" + uuid.NewString()
	m.mu.Lock()
	m.sweepLocked()
	m.jobs[id] = mockJob{submittedAt: m.now(), style: payload.StyleKey}
	m.mu.Unlock()
	return &SubmitResult{
		JobID:  id,
		Status: "IN_QUEUE",
		Raw:    []byte(fmt.Sprintf(`{"id":%q,"status":"IN_QUEUE"}`, id)),
	}, nil
}

func (m *Mock) Status(_ context.Context, jobID string) (*Envelope, error) {
	m.mu.Lock()
	m.sweepLocked()
	job, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("runpod: mock job %s not found", jobID)
	}
	status := "IN_PROGRESS"
	raw := map[string]any{"id": jobID, "status": status}
	if m.now().Sub(job.submittedAt) >= m.delay {
		raw["status"] = "COMPLETED"
		raw["output"] = map[string]any{"message": sampleOutputImage}
	}
	return EnvelopeFrom(raw), nil
}

// sweepLocked drops expired records; callers hold m.mu.
func (m *Mock) sweepLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, job := range m.jobs {
		if job.submittedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}

var _ Provider = (*Mock)(nil)
