// Package payment defines the capability the reservation core needs from
// a payment provider: authorize an amount, read back its status, refund
// it.  Adapters exist for Stripe and for an in-process offline provider,
// and WithBreaker adds per-call timeouts and a circuit breaker in front of
// either.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// Status is the provider-neutral state of a payment.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

var (
	// ErrDeclined means the provider refused the charge.
	ErrDeclined = errors.New("payment declined")
	// ErrNotFound means the provider has no payment with that reference.
	ErrNotFound = errors.New("payment not found")
	// ErrUnavailable means the provider could not be reached or the
	// circuit is open.
	ErrUnavailable = errors.New("payment provider unavailable")
)

// Metadata travels with a payment so the booking can be rebuilt from the
// provider's record alone.
type Metadata struct {
	UserID  uint64   `json:"user_id"`
	ShowID  uint64   `json:"show_id"`
	SeatIDs []uint64 `json:"seat_ids"`
}

// Authorization is returned by Authorize.  ClientSecret is handed to the
// client to complete the payment with the provider.
type Authorization struct {
	Ref          string `json:"payment_ref"`
	ClientSecret string `json:"client_secret,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Info is the provider's view of a payment.
type Info struct {
	Ref      string
	Status   Status
	Amount   int64
	Currency string
	Metadata Metadata
}

// Capability is implemented by payment providers.  Amounts are in minor
// units of the configured currency.
type Capability interface {
	Authorize(ctx context.Context, amount int64, md Metadata) (*Authorization, error)
	RetrieveStatus(ctx context.Context, ref string) (*Info, error)
	Refund(ctx context.Context, ref string) error
}

// Event is an asynchronous provider notification.
type Event struct {
	Type     string
	Ref      string
	Status   Status
	Metadata Metadata
}

// Event types delivered through webhooks.
const (
	EventSucceeded = "payment.succeeded"
	EventFailed    = "payment.failed"
	EventOther     = "payment.other"
)

// WebhookParser verifies and decodes provider notifications.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

const (
	metaUserID  = "user_id"
	metaShowID  = "show_id"
	metaSeatIDs = "seat_ids"
)

// toMap flattens metadata into the string map providers store.
func (m Metadata) toMap() (map[string]string, error) {
	seats, err := json.Marshal(m.SeatIDs)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		metaUserID:  strconv.FormatUint(m.UserID, 10),
		metaShowID:  strconv.FormatUint(m.ShowID, 10),
		metaSeatIDs: string(seats),
	}, nil
}

// metadataFromMap is the inverse of toMap.
func metadataFromMap(raw map[string]string) (Metadata, error) {
	var m Metadata
	var err error
	if m.UserID, err = strconv.ParseUint(raw[metaUserID], 10, 64); err != nil {
		return Metadata{}, fmt.Errorf("metadata %s: %w", metaUserID, err)
	}
	if m.ShowID, err = strconv.ParseUint(raw[metaShowID], 10, 64); err != nil {
		return Metadata{}, fmt.Errorf("metadata %s: %w", metaShowID, err)
	}
	if err := json.Unmarshal([]byte(raw[metaSeatIDs]), &m.SeatIDs); err != nil {
		return Metadata{}, fmt.Errorf("metadata %s: %w", metaSeatIDs, err)
	}
	return m, nil
}
