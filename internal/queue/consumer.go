package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AuditConsumer appends one line per reservation event to a log file.
type AuditConsumer struct {
	url  string
	path string
	log  *zap.Logger

	mu sync.Mutex
}

// NewAuditConsumer returns a consumer writing to path (for example
// logs/booking.log).
func NewAuditConsumer(url, path string, log *zap.Logger) *AuditConsumer {
	return &AuditConsumer{url: url, path: path, log: log.Named("audit")}
}

// Run connects to RabbitMQ, declares the events queue and consumes until
// ctx is cancelled, reconnecting with backoff when the broker goes away.
// Messages that cannot be handled are rejected without requeue so a bad
// payload cannot loop forever.
func (a *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(a.url)
		if err != nil {
			a.log.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = a.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("consume loop ended; reconnecting", zap.Error(err))
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (a *AuditConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		a.log.Warn("set QoS failed", zap.Error(err))
	}
	if err := declare(ch); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(EventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := a.handle(d.Body); err != nil {
				a.log.Error("handle message failed", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (a *AuditConsumer) handle(body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	return writeAuditLine(f, body)
}

// writeAuditLine decodes one event and writes it in a single-line,
// human-friendly format.
func writeAuditLine(w io.Writer, body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" {
		return errors.New("event without type")
	}

	parts := []string{fmt.Sprintf("[%s] %s", ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type)}
	if ev.BookingID != 0 {
		parts = append(parts, fmt.Sprintf("booking_id=%d", ev.BookingID))
	}
	if ev.UserID != 0 {
		parts = append(parts, fmt.Sprintf("user_id=%d", ev.UserID))
	}
	if ev.ShowID != 0 {
		parts = append(parts, fmt.Sprintf("show_id=%d", ev.ShowID))
	}
	if len(ev.SeatIDs) > 0 {
		ids := make([]string, len(ev.SeatIDs))
		for i, id := range ev.SeatIDs {
			ids[i] = fmt.Sprint(id)
		}
		parts = append(parts, fmt.Sprintf("seats=[%s]", strings.Join(ids, ",")))
	}
	if ev.PaymentRef != "" {
		parts = append(parts, "payment_ref="+ev.PaymentRef)
	}
	if ev.AmountCents != 0 {
		parts = append(parts, fmt.Sprintf("total=%d cents", ev.AmountCents))
	}
	if ev.Type == TypeReaperSweep {
		parts = append(parts, fmt.Sprintf("released=%d", ev.Released))
	}
	if ev.Reason != "" {
		parts = append(parts, fmt.Sprintf("reason=%q", ev.Reason))
	}
	_, err := io.WriteString(w, strings.Join(parts, " | ")+"\n")
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
