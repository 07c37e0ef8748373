// Package events publishes domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/credits-report-go/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("events")

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends plan events to a durable topic exchange.
type Publisher struct {
	conn       *amqp.Connection
	ch         channel
	exchange   string
	routingKey string
	logger     *zap.Logger

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	logger.Info("amqp publisher ready",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
	)

	p := newPublisher(ch, exchange, routingKey, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange, routingKey string, logger *zap.Logger) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, routingKey: routingKey, logger: logger}
}

// PublishPlansIngested publishes the event as a persistent JSON message.
func (p *Publisher) PublishPlansIngested(ctx context.Context, event domain.PlansIngestedEvent) error {
	ctx, span := tracer.Start(ctx, "Publisher.PublishPlansIngested")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", event.BatchID),
		attribute.String("messaging.destination", p.exchange),
	)

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(
		ctx,
		p.exchange,   // exchange
		p.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.BatchID,
			Timestamp:    event.IngestedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.routingKey, err)
	}

	p.logger.Debug("published plans event",
		zap.String("batch_id", event.BatchID),
		zap.Int("count", event.Count),
	)
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishPlansIngested(context.Context, domain.PlansIngestedEvent) error { return nil }
