package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"styleforge/internal/domain"
	"styleforge/internal/infra"
)

// MetafieldNamespace groups every field the service writes onto an order.
const MetafieldNamespace = "styleforge"

// Notification carries terminal job state destined for the commerce order.
type Notification struct {
	ExternalRef string
	Status      domain.Status
	JobID       string
	ImageURL    string
	VideoURL    string
}

// Notifier is what handlers depend on for write-back; the Client and test
// fakes implement it.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Options configures the commerce admin client.
type Options struct {
	Enabled     bool
	StoreDomain string
	AdminToken  string
	APIVersion  string
	HTTPClient  *http.Client
	Logger      *infra.Logger
}

// Client writes job results onto commerce orders through the admin GraphQL
// API. Calls are best effort by contract; the dispatcher logs failures and
// nothing retries them.
type Client struct {
	enabled     bool
	storeDomain string
	adminToken  string
	apiVersion  string
	httpClient  *http.Client
	logger      *infra.Logger
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2024-10"
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
		enabled:     opts.Enabled,
		storeDomain: strings.TrimSpace(opts.StoreDomain),
		adminToken:  strings.TrimSpace(opts.AdminToken),
		apiVersion:  apiVersion,
		httpClient:  httpClient,
		logger:      logger,
	}
}

const metafieldsSetMutation = `mutation metafieldsSet($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { id }
    userErrors { field message }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type metafieldInput struct {
	OwnerID   string `json:"ownerId"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

type metafieldsSetResponse struct {
	Data struct {
		MetafieldsSet struct {
			UserErrors []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"metafieldsSet"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Notify writes status, job id and asset URLs under one namespace on the
// referenced order. Disabled integration and manual references are no-ops.
func (c *Client) Notify(ctx context.Context, n Notification) error {
	if !c.enabled {
		return nil
	}
	if n.ExternalRef == "" || domain.IsManualRef(n.ExternalRef) {
		c.logger.Debug().Str("ref", n.ExternalRef).Msg("commerce: skipping write-back for manual order")
		return nil
	}
	ownerID := orderGID(n.ExternalRef)
	fields := []metafieldInput{
		{OwnerID: ownerID, Namespace: MetafieldNamespace, Key: "status", Type: "single_line_text_field", Value: string(n.Status)},
		{OwnerID: ownerID, Namespace: MetafieldNamespace, Key: "job_id", Type: "single_line_text_field", Value: n.JobID},
		{OwnerID: ownerID, Namespace: MetafieldNamespace, Key: "output_image_url", Type: "single_line_text_field", Value: n.ImageURL},
		{OwnerID: ownerID, Namespace: MetafieldNamespace, Key: "output_video_url", Type: "single_line_text_field", Value: n.VideoURL},
	}
	body, err := json.Marshal(graphqlRequest{
		Query:     metafieldsSetMutation,
		Variables: map[string]any{"metafields": fields},
	})
	if err != nil {
		return fmt.Errorf("commerce: encode mutation: %w", err)
	}
	endpoint := fmt.Sprintf("https://%s/admin/api/%s/graphql.json", c.storeDomain, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("commerce: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.adminToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("commerce: metafields write: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("commerce: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("commerce: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded metafieldsSetResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("commerce: decode response: %w", err)
	}
	var messages []string
	for _, e := range decoded.Errors {
		messages = append(messages, e.Message)
	}
	for _, e := range decoded.Data.MetafieldsSet.UserErrors {
		messages = append(messages, e.Message)
	}
	if len(messages) > 0 {
		return errors.New("commerce: metafields write rejected: " + strings.Join(messages, "; "))
	}
	c.logger.Info().Str("order", ownerID).Str("status", string(n.Status)).Msg("commerce: order metafields updated")
	return nil
}

// orderGID maps a numeric order id onto the admin API's global id form;
// already-global ids pass through.
func orderGID(ref string) string {
	if strings.HasPrefix(ref, "gid://") {
		return ref
	}
	return "gid://shopify/Order/" + ref
}

var _ Notifier = (*Client)(nil)
