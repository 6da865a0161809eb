package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	Timeout       time.Duration
}

// StripeGateway implements Capability with Stripe PaymentIntents.
type StripeGateway struct {
	cfg StripeConfig
}

// NewStripeGateway sets the Stripe API key and an HTTP client with the
// configured timeout.  Both are process-wide in stripe-go.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	stripe.Key = cfg.SecretKey
	retries := int64(1)
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: &retries,
	}))
	return &StripeGateway{cfg: cfg}, nil
}

// Authorize creates a PaymentIntent carrying the booking metadata.
func (g *StripeGateway) Authorize(ctx context.Context, amount int64, md Metadata) (*Authorization, error) {
	meta, err := md.toMap()
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(g.cfg.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: meta,
	}
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, stripeErr("create payment intent", err)
	}
	return &Authorization{
		Ref:          pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// RetrieveStatus reads the PaymentIntent back from Stripe.
func (g *StripeGateway) RetrieveStatus(ctx context.Context, ref string) (*Info, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(ref, params)
	if err != nil {
		return nil, stripeErr("get payment intent", err)
	}
	return intentInfo(pi)
}

// Refund refunds the full amount of a PaymentIntent.  Repeating it for
// the same ref succeeds: the idempotency key replays the first refund and
// an already refunded charge counts as done.
func (g *StripeGateway) Refund(ctx context.Context, ref string) error {
	params := refundParams(ctx, ref)
	if _, err := refund.New(params); err != nil {
		if alreadyRefunded(err) {
			return nil
		}
		return stripeErr("create refund", err)
	}
	return nil
}

func refundParams(ctx context.Context, ref string) *stripe.RefundParams {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(ref)}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + ref)
	return params
}

func alreadyRefunded(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodeChargeAlreadyRefunded
}

// ParseWebhook verifies the Stripe-Signature header and decodes payment
// intent events.  Other event types come back as EventOther.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}
	out := &Event{Type: EventOther}
	switch ev.Type {
	case "payment_intent.succeeded":
		out.Type = EventSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		out.Type = EventFailed
	default:
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	info, err := intentInfo(&pi)
	if err != nil {
		return nil, err
	}
	out.Ref = info.Ref
	out.Status = info.Status
	out.Metadata = info.Metadata
	return out, nil
}

func intentInfo(pi *stripe.PaymentIntent) (*Info, error) {
	md, err := metadataFromMap(pi.Metadata)
	if err != nil {
		return nil, err
	}
	return &Info{
		Ref:      pi.ID,
		Status:   intentStatus(pi.Status),
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Metadata: md,
	}, nil
}

// intentStatus maps Stripe's states.  requires_capture means the funds
// are held for us, which is as good as succeeded for booking purposes.
func intentStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

// stripeErr classifies a stripe-go error into the package sentinels.
func stripeErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Type == stripe.ErrorTypeCard:
			return fmt.Errorf("%s: %w: %s", op, ErrDeclined, se.Msg)
		case se.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500:
			return fmt.Errorf("%s: %s", op, se.Msg)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
