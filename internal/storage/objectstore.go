package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"styleforge/internal/infra"
)

// headTimeout bounds metadata checks that sit on webhook-acknowledgement
// paths; the commerce system drops callbacks that are not answered within
// a few seconds.
const headTimeout = 2500 * time.Millisecond

// maxFetchBytes caps a single source-image download.
const maxFetchBytes = 50 << 20

// ObjectInfo is the metadata subset validation needs.
type ObjectInfo struct {
	MIME string
	Size int64
}

// Options configures the object store client.
type Options struct {
	BaseURL    string // storage service root, e.g. https://xyz.supabase.co
	ServiceKey string // service-role bearer token
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to a bucket-per-path REST storage service. Reads prefer the
// authenticated object endpoint and fall back to the public URL, so the
// service keeps working against buckets in either visibility mode.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
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
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		serviceKey: strings.TrimSpace(opts.ServiceKey),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Head fetches object metadata with a short deadline.
func (c *Client) Head(ctx context.Context, publicURL string) (*ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, publicURL, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build head request: %w", err)
	}
	c.authorize(req, publicURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: head %s: %w", publicURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("storage: head %s: status %d", publicURL, resp.StatusCode)
	}
	return &ObjectInfo{
		MIME: strings.TrimSpace(resp.Header.Get("Content-Type")),
		Size: resp.ContentLength,
	}, nil
}

// Fetch downloads the object bytes, trying the authenticated endpoint
// first and degrading to the plain public URL. When both fail the error
// carries both causes.
func (c *Client) Fetch(ctx context.Context, publicURL string) ([]byte, string, error) {
	var authedErr error
	if authed := c.authenticatedURL(publicURL); authed != "" {
		data, mime, err := c.get(ctx, authed, true)
		if err == nil {
			return data, mime, nil
		}
		authedErr = err
		c.logger.Debug().Err(err).Str("url", authed).Msg("storage: authenticated fetch failed, trying public url")
	}
	data, mime, publicErr := c.get(ctx, publicURL, false)
	if publicErr == nil {
		return data, mime, nil
	}
	if authedErr != nil {
		return nil, "", fmt.Errorf("storage: authenticated fetch failed (%v); public fetch failed: %w", authedErr, publicErr)
	}
	return nil, "", fmt.Errorf("storage: fetch %s: %w", publicURL, publicErr)
}

func (c *Client) get(ctx context.Context, rawURL string, authed bool) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if authed {
		c.authorize(req, rawURL)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxFetchBytes {
		return nil, "", errors.New("object exceeds fetch limit")
	}
	mime := strings.TrimSpace(resp.Header.Get("Content-Type"))
	return data, mime, nil
}

// authenticatedURL maps a public object URL onto the service-role object
// endpoint. It returns "" when the URL is foreign to the configured store
// or no service key is present, which skips the authenticated attempt.
func (c *Client) authenticatedURL(publicURL string) string {
	if c.baseURL == "" || c.serviceKey == "" {
		return ""
	}
	if !strings.HasPrefix(publicURL, c.baseURL) {
		return ""
	}
	const publicSegment = "/storage/v1/object/public/"
	if !strings.Contains(publicURL, publicSegment) {
		return ""
	}
	return strings.Replace(publicURL, publicSegment, "/storage/v1/object/", 1)
}

func (c *Client) authorize(req *http.Request, rawURL string) {
	if c.serviceKey == "" || c.baseURL == "" || !strings.HasPrefix(rawURL, c.baseURL) {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
}
