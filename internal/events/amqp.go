package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeKind = "fanout"

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func dial(rawURL string) (*amqp.Connection, *amqp.Channel, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// AMQPPublisher publishes rate events to a durable fanout exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

func NewAMQPPublisher(rawURL string, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, ch, err := dial(rawURL)
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger.With("component", "rate_events_publisher"),
	}, nil
}

func (p *AMQPPublisher) PublishRateChanged(ctx context.Context, event RateChanged) error {
	body, err := EncodeRateChanged(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.ChangedAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, "", false, false, msg)
	if err == nil {
		return nil
	}

	// The channel dies on any channel-level error; reopen once and retry.
	p.logger.Warn("publish failed; reopening channel", "exchange", p.exchange, "error", err)
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("publish rate event: %w", err)
	}
	p.ch.Close()
	p.ch = ch
	return p.ch.PublishWithContext(ctx, p.exchange, "", false, false, msg)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// AMQPConsumer receives rate events through an exclusive, auto-deleted queue
// bound to the fanout exchange, so every instance sees every event.
type AMQPConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	source   string
	logger   *slog.Logger
}

// NewAMQPConsumer connects to the broker. Events whose source equals source
// are acknowledged without being handled.
func NewAMQPConsumer(rawURL string, exchange string, source string, logger *slog.Logger) (*AMQPConsumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, ch, err := dial(rawURL)
	if err != nil {
		return nil, err
	}
	return &AMQPConsumer{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		source:   source,
		logger:   logger.With("component", "rate_events_consumer"),
	}, nil
}

// Consume declares the topology and dispatches deliveries to handler until
// ctx is cancelled or the channel closes.
func (c *AMQPConsumer) Consume(ctx context.Context, handler RateChangedHandler) error {
	if handler == nil {
		return errors.New("rate event handler is required")
	}
	if err := c.ch.ExchangeDeclare(c.exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(q.Name, "", c.exchange, false, nil); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warn("delivery channel closed")
					return
				}
				c.dispatch(ctx, d, handler)
			}
		}
	}()

	c.logger.Info("consuming rate events", "exchange", c.exchange, "queue", q.Name)
	return nil
}

func (c *AMQPConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler RateChangedHandler) {
	event, err := DecodeRateChanged(d.Body)
	if err != nil {
		c.logger.Warn("dropping malformed rate event", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}
	if c.source != "" && event.Source == c.source {
		_ = d.Ack(false)
		return
	}

	if err := handler(ctx, event); err != nil {
		requeue := !d.Redelivered
		c.logger.Warn("rate event handler failed", "event_id", event.EventID, "requeue", requeue, "error", err)
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

func (c *AMQPConsumer) Close() error {
	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}
