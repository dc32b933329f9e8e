package runpod

import (
	"encoding/json"
	"fmt"
	"strings"

	"styleforge/internal/domain"
)

// Envelope is a schema-loose view over a provider payload. Webhook bodies
// and status responses share the same loose shape, so both paths parse into
// this and read fields through accessors that report absence instead of
// panicking on shape drift.
type Envelope struct {
	raw map[string]any
}

// ParseEnvelope decodes a provider payload. Non-object JSON is an error;
// unknown fields are retained and reachable through the accessors.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("runpod: decode payload: %w", err)
	}
	return &Envelope{raw: raw}, nil
}

// EnvelopeFrom wraps an already-decoded object.
func EnvelopeFrom(raw map[string]any) *Envelope {
	return &Envelope{raw: raw}
}

// jobIDFields is the ordered search list for the provider-assigned job id,
// tried at the top level first and then one level under "output".
var jobIDFields = []string{"id", "jobId", "job_id", "requestId"}

// JobID returns the first non-empty job id field, or an error when the
// payload carries none.
func (e *Envelope) JobID() (string, error) {
	for _, field := range jobIDFields {
		if s, ok := e.str(field); ok {
			return s, nil
		}
	}
	if out, ok := e.raw["output"].(map[string]any); ok {
		nested := &Envelope{raw: out}
		for _, field := range jobIDFields {
			if s, ok := nested.str(field); ok {
				return s, nil
			}
		}
	}
	return "", domain.ErrMissingJobID
}

// Status returns the provider status, uppercased, or "" when absent.
func (e *Envelope) Status() string {
	if s, ok := e.str("status"); ok {
		return strings.ToUpper(s)
	}
	return ""
}

// Output returns the raw output value, which may be any JSON shape.
func (e *Envelope) Output() any {
	if e == nil || e.raw == nil {
		return nil
	}
	return e.raw["output"]
}

// Field exposes an arbitrary top-level value from the unknown bag.
func (e *Envelope) Field(name string) (any, bool) {
	if e == nil || e.raw == nil {
		return nil, false
	}
	v, ok := e.raw[name]
	return v, ok
}

func (e *Envelope) str(field string) (string, bool) {
	if e == nil || e.raw == nil {
		return "", false
	}
	s, ok := e.raw[field].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// MapStatus translates a provider status into the local state machine.
// COMPLETED succeeds; the provider's failure family fails; anything else
// (IN_QUEUE, IN_PROGRESS, unknown strings) is reported as not mapped and
// must be ignored by callers.
func MapStatus(providerStatus string) (domain.Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "COMPLETED":
		return domain.StatusSucceeded, true
	case "FAILED", "CANCELLED", "TIMED_OUT":
		return domain.StatusFailed, true
	}
	return "", false
}
