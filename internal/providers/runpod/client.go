package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"styleforge/internal/domain"
	"styleforge/internal/infra"
	"styleforge/internal/workflow"
)

// ErrMissingCredentials indicates the client was configured without an
// endpoint id or API key.
var ErrMissingCredentials = errors.New("runpod: endpoint id and api key are required")

// WebhookPath is the route the provider calls back on completion.
const WebhookPath = "/webhooks/runpod"

// Provider is the submission/status contract the handlers depend on; the
// live Client and the mock both implement it.
type Provider interface {
	Submit(ctx context.Context, payload *workflow.Payload) (*SubmitResult, error)
	Status(ctx context.Context, jobID string) (*Envelope, error)
}

// SubmitResult is the normalized outcome of a job submission.
type SubmitResult struct {
	JobID       string
	Status      string
	CallbackURL string
	Raw         json.RawMessage
}

// Options configures the RunPod serverless client.
type Options struct {
	EndpointID     string
	APIKey         string
	BaseURL        string
	PublicBaseURL  string
	WebhookSecret  string
	TokenParam     string
	AllowLoopback  bool // permitted only under mock/local execution
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against a RunPod-style serverless endpoint.
type Client struct {
	endpointID    string
	apiKey        string
	baseURL       string
	publicBaseURL string
	webhookSecret string
	tokenParam    string
	allowLoopback bool
	httpClient    *http.Client
	logger        *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.EndpointID) == "" || strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingCredentials
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.runpod.ai/v2"
	}
	tokenParam := strings.TrimSpace(opts.TokenParam)
	if tokenParam == "" {
		tokenParam = "token"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		endpointID:    strings.TrimSpace(opts.EndpointID),
		apiKey:        strings.TrimSpace(opts.APIKey),
		baseURL:       baseURL,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"),
		webhookSecret: opts.WebhookSecret,
		tokenParam:    tokenParam,
		allowLoopback: opts.AllowLoopback,
		httpClient:    httpClient,
		logger:        logger,
	}, nil
}

type submitBody struct {
	Input   submitInput `json:"input"`
	Webhook string      `json:"webhook,omitempty"`
}

type submitInput struct {
	Workflow map[string]any             `json:"workflow"`
	Images   []workflow.ImageAttachment `json:"images,omitempty"`
}

// Submit sends the prepared payload to the provider's async run endpoint
// and returns the assigned job id.
func (c *Client) Submit(ctx context.Context, payload *workflow.Payload) (*SubmitResult, error) {
	callback, err := c.CallbackURL()
	if err != nil {
		return nil, err
	}
	body := submitBody{
		Input:   submitInput{Workflow: payload.Workflow, Images: payload.Images},
		Webhook: callback,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("runpod: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/run", c.baseURL, c.endpointID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("runpod: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runpod: submit: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("runpod: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("runpod: submit status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	env, err := ParseEnvelope(respBody)
	if err != nil {
		return nil, err
	}
	jobID, err := env.JobID()
	if err != nil {
		return nil, fmt.Errorf("runpod: submit response: %w", err)
	}
	c.logger.Info().
		Str("job_id", jobID).
		Str("style", payload.StyleKey).
		Str("mode", string(payload.Mode)).
		Msg("runpod: job submitted")
	return &SubmitResult{
		JobID:       jobID,
		Status:      env.Status(),
		CallbackURL: callback,
		Raw:         respBody,
	}, nil
}

// Status pulls the live job state from the provider.
func (c *Client) Status(ctx context.Context, jobID string) (*Envelope, error) {
	endpoint := fmt.Sprintf("%s/%s/status/%s", c.baseURL, c.endpointID, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("runpod: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runpod: status: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("runpod: read status response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("runpod: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return ParseEnvelope(respBody)
}

// CallbackURL assembles the completion webhook address with the shared
// secret attached. A loopback public base is refused outside mock mode
// because the provider could never deliver to it.
func (c *Client) CallbackURL() (string, error) {
	if c.publicBaseURL == "" {
		return "", fmt.Errorf("runpod: PUBLIC_BASE_URL is required to build the callback url")
	}
	parsed, err := url.Parse(c.publicBaseURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("runpod: invalid public base url %q", c.publicBaseURL)
	}
	if !c.allowLoopback && isLoopbackHost(parsed.Hostname()) {
		return "", fmt.Errorf("runpod: %w", domain.ErrLoopbackCallback)
	}
	q := url.Values{}
	q.Set(c.tokenParam, c.webhookSecret)
	return c.publicBaseURL + WebhookPath + "?" + q.Encode(), nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

var _ Provider = (*Client)(nil)
