package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"styleforge/internal/domain"
	"styleforge/internal/workflow"
)

type captureTransport struct {
	status   int
	body     string
	lastReq  *http.Request
	lastBody []byte
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.lastReq = req
	if req.Body != nil {
		t.lastBody, _ = io.ReadAll(req.Body)
	}
	status := t.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(t.body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func newTestClient(t *testing.T, transport *captureTransport, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		EndpointID:    "ep-123",
		APIKey:        "rp-key",
		PublicBaseURL: "https://styleforge.example",
		WebhookSecret: "s3cret",
		HTTPClient:    &http.Client{Transport: transport},
	}
	if mutate != nil {
		mutate(&opts)
	}
	client, err := NewClient(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func testPayload() *workflow.Payload {
	return &workflow.Payload{
		Workflow: map[string]any{"1": map[string]any{"class_type": "KSampler", "inputs": map[string]any{"seed": int64(7)}}},
		Seed:     7,
		StyleKey: "sketch",
		Mode:     workflow.ModeURL,
	}
}

func TestSubmitSuccess(t *testing.T) {
	transport := &captureTransport{body: `{"id": "job-1", "status": "IN_QUEUE"}`}
	client := newTestClient(t, transport, nil)

	res, err := client.Submit(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.JobID != "job-1" {
		t.Fatalf("job id = %q, want job-1", res.JobID)
	}
	if res.Status != "IN_QUEUE" {
		t.Fatalf("status = %q", res.Status)
	}
	if got := transport.lastReq.Header.Get("Authorization"); got != "Bearer rp-key" {
		t.Fatalf("authorization = %q", got)
	}
	if transport.lastReq.URL.Path != "/ep-123/run" {
		t.Fatalf("path = %q", transport.lastReq.URL.Path)
	}
	var sent map[string]any
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	webhook, _ := sent["webhook"].(string)
	if !strings.HasPrefix(webhook, "https://styleforge.example/webhooks/runpod?token=s3cret") {
		t.Fatalf("webhook = %q", webhook)
	}
	if _, ok := sent["input"].(map[string]any)["workflow"]; !ok {
		t.Fatalf("submitted body missing workflow: %s", transport.lastBody)
	}
}

func TestSubmitJobIDNestedUnderOutput(t *testing.T) {
	transport := &captureTransport{body: `{"output": {"jobId": "job-9"}}`}
	client := newTestClient(t, transport, nil)
	res, err := client.Submit(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.JobID != "job-9" {
		t.Fatalf("job id = %q, want job-9", res.JobID)
	}
}

func TestSubmitMissingJobID(t *testing.T) {
	transport := &captureTransport{body: `{"status": "IN_QUEUE"}`}
	client := newTestClient(t, transport, nil)
	_, err := client.Submit(context.Background(), testPayload())
	if !errors.Is(err, domain.ErrMissingJobID) {
		t.Fatalf("err = %v, want ErrMissingJobID", err)
	}
}

func TestSubmitUpstreamError(t *testing.T) {
	transport := &captureTransport{status: http.StatusBadGateway, body: `{"error": "worker exploded"}`}
	client := newTestClient(t, transport, nil)
	_, err := client.Submit(context.Background(), testPayload())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "worker exploded") {
		t.Fatalf("error should embed status and body: %v", err)
	}
}

func TestCallbackURLRefusesLoopback(t *testing.T) {
	client := newTestClient(t, &captureTransport{}, func(o *Options) {
		o.PublicBaseURL = "http://127.0.0.1:8080"
	})
	_, err := client.CallbackURL()
	if !errors.Is(err, domain.ErrLoopbackCallback) {
		t.Fatalf("err = %v, want ErrLoopbackCallback", err)
	}

	allowed := newTestClient(t, &captureTransport{}, func(o *Options) {
		o.PublicBaseURL = "http://localhost:8080"
		o.AllowLoopback = true
	})
	if _, err := allowed.CallbackURL(); err != nil {
		t.Fatalf("loopback should be allowed in local mode: %v", err)
	}
}

func TestStatusRequest(t *testing.T) {
	transport := &captureTransport{body: `{"id": "job-1", "status": "IN_PROGRESS"}`}
	client := newTestClient(t, transport, nil)
	env, err := client.Status(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if env.Status() != "IN_PROGRESS" {
		t.Fatalf("status = %q", env.Status())
	}
	if transport.lastReq.URL.Path != "/ep-123/status/job-1" {
		t.Fatalf("path = %q", transport.lastReq.URL.Path)
	}
	if transport.lastReq.Method != http.MethodGet {
		t.Fatalf("method = %q", transport.lastReq.Method)
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		in     string
		want   domain.Status
		mapped bool
	}{
		{"COMPLETED", domain.StatusSucceeded, true},
		{"completed", domain.StatusSucceeded, true},
		{"FAILED", domain.StatusFailed, true},
		{"CANCELLED", domain.StatusFailed, true},
		{"TIMED_OUT", domain.StatusFailed, true},
		{"IN_QUEUE", "", false},
		{"IN_PROGRESS", "", false},
		{"", "", false},
		{"SOMETHING_NEW", "", false},
	}
	for _, tc := range cases {
		got, mapped := MapStatus(tc.in)
		if got != tc.want || mapped != tc.mapped {
			t.Errorf("MapStatus(%q) = (%s, %v), want (%s, %v)", tc.in, got, mapped, tc.want, tc.mapped)
		}
	}
}

func TestMockLifecycle(t *testing.T) {
	mock := NewMock(5*time.Second, time.Hour)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	now := base
	mock.now = func() time.Time { return now }

	res, err := mock.Submit(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("mock submit: %v", err)
	}
	if res.Status != "IN_QUEUE" || !strings.HasPrefix(res.JobID, "mock-") {
		t.Fatalf("unexpected submit result: %+v", res)
	}

	env, err := mock.Status(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("mock status: %v", err)
	}
	if env.Status() != "IN_PROGRESS" {
		t.Fatalf("status before delay = %q", env.Status())
	}

	now = base.Add(6 * time.Second)
	env, err = mock.Status(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("mock status: %v", err)
	}
	if env.Status() != "COMPLETED" {
		t.Fatalf("status after delay = %q", env.Status())
	}
	img, _ := ExtractAssets(env.Output())
	if img == "" {
		t.Fatalf("completed mock job should expose an image url")
	}

	now = base.Add(2 * time.Hour)
	if _, err := mock.Status(context.Background(), res.JobID); err == nil {
		t.Fatalf("expected expired mock job to be gone")
	}
}

func TestEnvelopeRejectsNonObject(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`"just a string"`)); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
	if _, err := ParseEnvelope(bytes.TrimSpace([]byte(` {"id":"a"} `))); err != nil {
		t.Fatalf("object payload should parse: %v", err)
	}
}
