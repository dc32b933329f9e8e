package commerce

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"styleforge/internal/domain"
)

type rewriteTransport struct {
	handler  http.HandlerFunc
	lastBody []byte
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		t.lastBody, _ = io.ReadAll(req.Body)
	}
	rec := newRecorder()
	t.handler(rec, req)
	return rec.result(), nil
}

type recorder struct {
	status int
	header http.Header
	body   strings.Builder
}

func newRecorder() *recorder {
	return &recorder{status: http.StatusOK, header: http.Header{}}
}

func (r *recorder) Header() http.Header        { return r.header }
func (r *recorder) WriteHeader(code int)       { r.status = code }
func (r *recorder) Write(b []byte) (int, error) { return r.body.Write(b) }

func (r *recorder) result() *http.Response {
	return &http.Response{
		StatusCode: r.status,
		Header:     r.header,
		Body:       io.NopCloser(strings.NewReader(r.body.String())),
	}
}

func TestNotifyWritesFourMetafields(t *testing.T) {
	transport := &rewriteTransport{handler: func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Shopify-Access-Token") != "admin-token" {
			t.Errorf("missing admin token header")
		}
		if !strings.Contains(r.URL.Path, "/admin/api/2024-10/graphql.json") {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"metafieldsSet":{"metafields":[{"id":"m1"}],"userErrors":[]}}}`))
	}}
	client := NewClient(Options{
		Enabled:     true,
		StoreDomain: "demo.myshopify.com",
		AdminToken:  "admin-token",
		HTTPClient:  &http.Client{Transport: transport},
	})

	err := client.Notify(context.Background(), Notification{
		ExternalRef: "5551212",
		Status:      domain.StatusSucceeded,
		JobID:       "job-1",
		ImageURL:    "https://cdn.example/out.png",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	var sent graphqlRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	fields, _ := sent.Variables["metafields"].([]any)
	if len(fields) != 4 {
		t.Fatalf("metafields = %d, want 4", len(fields))
	}
	first := fields[0].(map[string]any)
	if first["ownerId"] != "gid://shopify/Order/5551212" {
		t.Fatalf("ownerId = %v", first["ownerId"])
	}
	if first["namespace"] != MetafieldNamespace {
		t.Fatalf("namespace = %v", first["namespace"])
	}
	// Video URL absent from the notification must still ship as "".
	last := fields[3].(map[string]any)
	if last["key"] != "output_video_url" || last["value"] != "" {
		t.Fatalf("video metafield = %v", last)
	}
}

func TestNotifyAggregatesUserErrors(t *testing.T) {
	transport := &rewriteTransport{handler: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"metafieldsSet":{"userErrors":[{"message":"bad key"},{"message":"bad owner"}]}}}`))
	}}
	client := NewClient(Options{
		Enabled:     true,
		StoreDomain: "demo.myshopify.com",
		AdminToken:  "t",
		HTTPClient:  &http.Client{Transport: transport},
	})
	err := client.Notify(context.Background(), Notification{ExternalRef: "1", Status: domain.StatusFailed})
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if !strings.Contains(err.Error(), "bad key") || !strings.Contains(err.Error(), "bad owner") {
		t.Fatalf("error should join all messages: %v", err)
	}
}

func TestNotifySkipsManualAndDisabled(t *testing.T) {
	transport := &rewriteTransport{handler: func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no HTTP call expected")
	}}
	disabled := NewClient(Options{Enabled: false, HTTPClient: &http.Client{Transport: transport}})
	if err := disabled.Notify(context.Background(), Notification{ExternalRef: "1"}); err != nil {
		t.Fatalf("disabled notify: %v", err)
	}
	enabled := NewClient(Options{Enabled: true, StoreDomain: "d", AdminToken: "t", HTTPClient: &http.Client{Transport: transport}})
	if err := enabled.Notify(context.Background(), Notification{ExternalRef: domain.NewManualRef()}); err != nil {
		t.Fatalf("manual notify: %v", err)
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"id": 123}`)
	if !VerifyHMAC("secret", body, sign("secret", body)) {
		t.Fatalf("valid signature rejected")
	}
	if VerifyHMAC("secret", body, sign("other", body)) {
		t.Fatalf("signature under wrong key accepted")
	}
	if VerifyHMAC("secret", body, "") {
		t.Fatalf("empty signature accepted")
	}
	if VerifyHMAC("", body, sign("secret", body)) {
		t.Fatalf("missing secret accepted")
	}
}

func TestParseOrderEvent(t *testing.T) {
	body := []byte(`{
		"id": 820982911946154500,
		"line_items": [{
			"properties": [
				{"name": "_image_url", "value": "https://store.example/uploads/a.png"},
				{"name": "Style", "value": "sketch"}
			]
		}]
	}`)
	event, err := ParseOrderEvent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.OrderID != "820982911946154500" {
		t.Fatalf("order id = %q", event.OrderID)
	}
	if event.ImageURL != "https://store.example/uploads/a.png" {
		t.Fatalf("image url = %q", event.ImageURL)
	}
	if event.Style != "sketch" {
		t.Fatalf("style = %q", event.Style)
	}
}

func TestParseOrderEventDefaultsStyle(t *testing.T) {
	body := []byte(`{
		"id": 1,
		"line_items": [{"properties": [{"name": "image", "value": "https://x/a.png"}]}]
	}`)
	event, err := ParseOrderEvent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Style != "default" {
		t.Fatalf("style = %q, want default", event.Style)
	}
}

func TestParseOrderEventMissingImage(t *testing.T) {
	if _, err := ParseOrderEvent([]byte(`{"id": 1, "line_items": []}`)); err == nil {
		t.Fatalf("expected error when no image property present")
	}
}
