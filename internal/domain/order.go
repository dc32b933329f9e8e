package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status enumerates order lifecycle states. SUCCEEDED and FAILED are
// absorbing: once the webhook ingestor or the poller writes one of them,
// no later observation may change it.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Order is one user-initiated transform request: one source image, one
// style, at most one provider job.
type Order struct {
	ID             string
	ExternalRef    string // commerce order id, or a manual-* ref when detached
	SourceImageURL string
	Style          string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Job is the provider-side unit of work, keyed by the provider's job id.
// Output fields fill in monotonically: a set URL is never cleared.
type Job struct {
	ProviderJobID  string
	OrderID        string
	OutputImageURL string
	OutputVideoURL string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WebhookEvent is the dedup ledger row for inbound commerce callbacks.
// Insert-if-absent; a second delivery with the same id is a replay.
type WebhookEvent struct {
	EventID    string
	Topic      string
	ReceivedAt time.Time
}

const manualRefPrefix = "manual-"

// NewManualRef synthesizes an external reference for orders that did not
// originate from the commerce system. The write-back notifier skips these.
func NewManualRef() string {
	return manualRefPrefix + uuid.NewString()
}

// IsManualRef reports whether ref was synthesized by NewManualRef.
func IsManualRef(ref string) bool {
	return strings.HasPrefix(ref, manualRefPrefix)
}

const orderSuffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewOrderID returns an id of the form ORD-<YYYYMMDD>-<4-char suffix>.
func NewOrderID(now time.Time) string {
	u := uuid.New()
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = orderSuffixAlphabet[int(u[i])%len(orderSuffixAlphabet)]
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
