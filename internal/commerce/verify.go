package commerce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VerifyHMAC checks a commerce webhook signature: HMAC-SHA256 over the raw
// body, base64-encoded, compared in constant time.
func VerifyHMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// OrderEvent is the subset of an order-creation webhook the service acts on.
type OrderEvent struct {
	OrderID  string
	ImageURL string
	Style    string
}

type orderWebhookPayload struct {
	ID        json.Number `json:"id"`
	AdminGID  string      `json:"admin_graphql_api_id"`
	LineItems []struct {
		Properties []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"properties"`
	} `json:"line_items"`
}

// ParseOrderEvent extracts the order reference plus the image URL and style
// carried in line-item properties. Property names are matched loosely since
// storefront themes disagree on exact casing and underscore prefixes.
func ParseOrderEvent(body []byte) (*OrderEvent, error) {
	var payload orderWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("commerce: decode order webhook: %w", err)
	}
	event := &OrderEvent{OrderID: payload.ID.String()}
	if event.OrderID == "" || event.OrderID == "0" {
		if payload.AdminGID == "" {
			return nil, fmt.Errorf("commerce: order webhook carries no order id")
		}
		event.OrderID = payload.AdminGID
	}
	for _, item := range payload.LineItems {
		for _, prop := range item.Properties {
			name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(prop.Name), "_"))
			value := strings.TrimSpace(prop.Value)
			if value == "" {
				continue
			}
			switch {
			case event.ImageURL == "" && strings.Contains(name, "image"):
				event.ImageURL = value
			case event.Style == "" && strings.Contains(name, "style"):
				event.Style = value
			}
		}
	}
	if event.ImageURL == "" {
		return nil, fmt.Errorf("commerce: order webhook carries no image url property")
	}
	if event.Style == "" {
		event.Style = "default"
	}
	// Numeric ids arrive as json numbers on some topics; normalize.
	if i, err := payload.ID.Int64(); err == nil && i > 0 {
		event.OrderID = strconv.FormatInt(i, 10)
	}
	return event, nil
}
