package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const succeededEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "payment_intent.succeeded",
  "api_version": "2025-03-31.basil",
  "data": {"object": {
    "id": "pi_1",
    "object": "payment_intent",
    "amount": 300,
    "currency": "inr",
    "status": "succeeded",
    "metadata": {"user_id": "5", "show_id": "2", "seat_ids": "[1,2,3]"}
  }}
}`

func TestParseWebhookSucceeded(t *testing.T) {
	g := &StripeGateway{cfg: StripeConfig{WebhookSecret: "whsec_test"}}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(succeededEvent),
		Secret:  "whsec_test",
	})

	ev, err := g.ParseWebhook(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, EventSucceeded, ev.Type)
	assert.Equal(t, "pi_1", ev.Ref)
	assert.Equal(t, StatusSucceeded, ev.Status)
	assert.Equal(t, Metadata{UserID: 5, ShowID: 2, SeatIDs: []uint64{1, 2, 3}}, ev.Metadata)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	g := &StripeGateway{cfg: StripeConfig{WebhookSecret: "whsec_test"}}
	_, err := g.ParseWebhook([]byte(succeededEvent), "t=1,v1=deadbeef")
	assert.Error(t, err)
}

func TestIntentStatus(t *testing.T) {
	assert.Equal(t, StatusSucceeded, intentStatus(stripe.PaymentIntentStatusSucceeded))
	assert.Equal(t, StatusSucceeded, intentStatus(stripe.PaymentIntentStatusRequiresCapture))
	assert.Equal(t, StatusFailed, intentStatus(stripe.PaymentIntentStatusCanceled))
	assert.Equal(t, StatusPending, intentStatus(stripe.PaymentIntentStatusRequiresPaymentMethod))
	assert.Equal(t, StatusPending, intentStatus(stripe.PaymentIntentStatusProcessing))
}

func TestStripeErrClassification(t *testing.T) {
	card := &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "card declined", HTTPStatusCode: 402}
	assert.ErrorIs(t, stripeErr("op", card), ErrDeclined)

	missing := &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: 404}
	assert.ErrorIs(t, stripeErr("op", missing), ErrNotFound)

	outage := &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 503}
	assert.ErrorIs(t, stripeErr("op", outage), ErrUnavailable)
}

func TestRefundParamsAreIdempotent(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	p := refundParams(ctx, "pi_1")
	require.NotNil(t, p.IdempotencyKey)
	assert.Equal(t, "refund-pi_1", *p.IdempotencyKey)
	assert.Equal(t, "pi_1", *p.PaymentIntent)
	assert.Equal(t, "v", p.Context.Value(key{}))
	assert.Equal(t, *p.IdempotencyKey, *refundParams(context.Background(), "pi_1").IdempotencyKey)
}

func TestAlreadyRefunded(t *testing.T) {
	done := &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeChargeAlreadyRefunded, HTTPStatusCode: 400}
	assert.True(t, alreadyRefunded(done))
	assert.True(t, alreadyRefunded(fmt.Errorf("wrapped: %w", done)))

	assert.False(t, alreadyRefunded(&stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: 400}))
	assert.False(t, alreadyRefunded(errors.New("timeout")))
}
