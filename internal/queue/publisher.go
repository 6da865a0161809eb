package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventsQueue is the durable queue all reservation events go to.
const EventsQueue = "booking.events"

// Publisher is an asynchronous Notifier backed by RabbitMQ.  Notify puts
// the event on a bounded buffer; one goroutine drains it, dialing and
// redialing the broker with backoff.  When the buffer is full the event
// is dropped and a warning logged.
type Publisher struct {
	url  string
	log  *zap.Logger
	buf  chan Event
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewPublisher starts the drain goroutine.  Call Close on shutdown.
func NewPublisher(url string, bufSize int, log *zap.Logger) *Publisher {
	if bufSize <= 0 {
		bufSize = 1024
	}
	p := &Publisher{
		url:  url,
		log:  log.Named("publisher"),
		buf:  make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Notify enqueues ev without blocking.
func (p *Publisher) Notify(_ context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.buf <- ev:
	default:
		p.log.Warn("event buffer full; dropping event", zap.String("type", ev.Type))
	}
}

// Close stops accepting events, flushes what is buffered (bounded by
// ctx) and closes the broker connection.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.done) })
	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	var (
		conn    *amqp.Connection
		ch      *amqp.Channel
		backoff = time.Second
	)
	defer func() {
		if ch != nil {
			_ = ch.Close()
		}
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		var ev Event
		select {
		case ev = <-p.buf:
		case <-p.done:
			// drain what is already buffered, then stop
			select {
			case ev = <-p.buf:
			default:
				return
			}
		}

		for attempt := 0; attempt < 3; attempt++ {
			if ch == nil || ch.IsClosed() {
				var err error
				conn, ch, err = p.dial(conn)
				if err != nil {
					p.log.Warn("broker dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
					if !p.sleep(backoff) {
						break
					}
					if backoff < 30*time.Second {
						backoff *= 2
					}
					continue
				}
				backoff = time.Second
			}
			if err := publish(ch, ev); err != nil {
				p.log.Warn("publish failed", zap.String("type", ev.Type), zap.Error(err))
				_ = ch.Close()
				ch = nil
				continue
			}
			break
		}
	}
}

// sleep waits d unless the publisher is closing.  It reports whether the
// full duration elapsed.
func (p *Publisher) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.done:
		return false
	}
}

func (p *Publisher) dial(old *amqp.Connection) (*amqp.Connection, *amqp.Channel, error) {
	if old != nil && !old.IsClosed() {
		ch, err := old.Channel()
		if err == nil {
			return old, ch, declare(ch)
		}
		_ = old.Close()
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// declare ensures the queue exists (idempotent).  Durable so messages
// survive broker restarts.
func declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(EventsQueue, true, false, false, false, nil)
	return err
}

func publish(ch *amqp.Channel, ev Event) error {
	if ch == nil {
		return errors.New("no channel")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(ctx,
		"",          // default exchange
		EventsQueue, // routing key = queue name
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Type:         ev.Type,
			Body:         body,
		})
}

// LogNotifier writes events to a zap logger.  It is used when no broker
// is configured and in tests.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) {
	n.Log.Info("event",
		zap.String("type", ev.Type),
		zap.Uint64("user_id", ev.UserID),
		zap.Uint64("show_id", ev.ShowID),
		zap.Uint64s("seat_ids", ev.SeatIDs),
		zap.Uint64("booking_id", ev.BookingID),
		zap.String("payment_ref", ev.PaymentRef),
		zap.Int64("released", ev.Released),
		zap.String("reason", ev.Reason))
}
