package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"styleforge/internal/commerce"
	"styleforge/internal/domain"
	"styleforge/internal/infra"
	"styleforge/internal/telemetry"
)

const (
	headerShopifyHMAC    = "X-Shopify-Hmac-Sha256"
	headerShopifyEventID = "X-Shopify-Webhook-Id"
	headerShopifyTopic   = "X-Shopify-Topic"
)

// ShopifyWebhook ingests signed order-creation callbacks from the commerce
// system. The delivery is acknowledged as soon as the order row exists; the
// provider submission runs on its own goroutine so the commerce side never
// waits on the compute provider.
func (a *App) ShopifyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, infra.CodeBadRequest, "unreadable body")
		return
	}
	if !commerce.VerifyHMAC(a.Config.ShopifyWebhookSecret, body, r.Header.Get(headerShopifyHMAC)) {
		telemetry.WebhooksRejected.Inc()
		a.error(w, http.StatusUnauthorized, infra.CodeUnauthorized, "invalid webhook signature")
		return
	}

	if eventID := r.Header.Get(headerShopifyEventID); eventID != "" {
		fresh, err := a.Store.InsertWebhookEvent(r.Context(), eventID, r.Header.Get(headerShopifyTopic))
		if err != nil {
			a.error(w, http.StatusInternalServerError, infra.CodeInternal, "failed to record delivery")
			return
		}
		if !fresh {
			telemetry.WebhooksDuplicate.Inc()
			a.json(w, http.StatusOK, webhookAck{OK: true, Ignored: true, Warning: "duplicate delivery"})
			return
		}
	}
	telemetry.WebhooksAccepted.Inc()

	event, err := commerce.ParseOrderEvent(body)
	if err != nil {
		// Orders without a source image property are not ours to process.
		a.Logger.Info().Err(err).Msg("webhook: commerce order skipped")
		a.json(w, http.StatusOK, webhookAck{OK: true, Ignored: true})
		return
	}

	order, err := a.Store.UpsertOrder(r.Context(), &domain.Order{
		ID:             domain.NewOrderID(time.Now()),
		ExternalRef:    event.OrderID,
		SourceImageURL: event.ImageURL,
		Style:          event.Style,
	})
	if err != nil {
		a.error(w, http.StatusInternalServerError, infra.CodeInternal, "failed to create order")
		return
	}
	if order.Status.Terminal() || order.Status == domain.StatusProcessing {
		// A redelivery after the job already started; nothing to submit.
		a.json(w, http.StatusOK, webhookAck{OK: true, Ignored: true})
		return
	}

	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		if _, _, err := a.buildAndSubmit(ctx, order, nil); err != nil {
			a.Logger.Error().
				Err(err).
				Str("order_id", order.ID).
				Str("order_ref", order.ExternalRef).
				Msg("webhook: deferred submission failed")
		}
	}()

	a.json(w, http.StatusOK, webhookAck{OK: true})
}
