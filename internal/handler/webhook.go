package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/payment"
	"github.com/iliyamo/seat-reservation-core/internal/service"
)

// maxWebhookBytes bounds the provider payload read into memory.
const maxWebhookBytes = 64 << 10

// WebhookHandler receives asynchronous payment notifications.  A
// succeeded payment is routed into the same confirmation path the client
// uses, so whichever arrives first creates the booking.
type WebhookHandler struct {
	Parser   payment.WebhookParser
	Bookings Reservations
	Log      *zap.Logger
	Header   string // signature header, "Stripe-Signature" for Stripe
}

// Webhook handles POST /v1/payments/webhook.  It answers 400 on a bad
// signature so the provider does not retry forged calls, and 500 on
// failures the provider should retry.
func (h *WebhookHandler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return badRequest(c, "unreadable body")
	}
	ev, err := h.Parser.ParseWebhook(payload, c.Request().Header.Get(h.Header))
	if err != nil {
		h.Log.Warn("webhook rejected", zap.Error(err))
		return badRequest(c, "invalid signature or payload")
	}

	_, err = h.Bookings.HandlePaymentEvent(c.Request().Context(), ev, time.Now())
	switch {
	case err == nil:
	case service.IsRetryable(err) && !service.NeedsReconciliation(err):
		h.Log.Warn("webhook processing failed, provider will retry",
			zap.String("payment_ref", ev.Ref), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"received": false})
	default:
		// Final outcomes, including reconciliation cases, are acknowledged
		// so the provider stops redelivering.
		h.Log.Warn("webhook event not applied",
			zap.String("payment_ref", ev.Ref), zap.String("kind", string(service.KindOf(err))), zap.Error(err))
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
