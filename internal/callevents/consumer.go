// internal/callevents/consumer.go
package callevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
)

type Config struct {
	URL      string
	Exchange string
	Queue    string
	Prefetch int
}

// EventHandler applies one decoded event. *Handler implements it.
type EventHandler interface {
	Handle(ctx context.Context, ev Event) error
}

// Consumer reads call events from a durable RabbitMQ queue bound to the
// call engine's topic exchange. Deliveries are acked manually.
type Consumer struct {
	cfg     Config
	handler EventHandler
	log     zerolog.Logger
}

func NewConsumer(cfg Config, h EventHandler, log zerolog.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	return &Consumer{cfg: cfg, handler: h, log: log.With().Str("comp", "callevents").Logger()}
}

// Run consumes until ctx is cancelled or the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		c.cfg.Exchange, // name
		"topic",        // kind
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range []string{EventAnswered, EventEnded} {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.log.Info().Str("queue", q.Name).Str("exchange", c.cfg.Exchange).Msg("consuming call events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return nil
			}
			return fmt.Errorf("rabbitmq connection closed: %w", amqpErr)
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.Deliver(ctx, d)
		}
	}
}

// Deliver decodes, handles and settles one delivery. Malformed or
// non-retryable messages are acked and dropped; other failures are requeued
// once and dropped on the second failure.
func (c *Consumer) Deliver(ctx context.Context, d amqp.Delivery) {
	log := c.log.With().Str("routing_key", d.RoutingKey).Uint64("tag", d.DeliveryTag).Logger()

	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		log.Warn().Err(err).Msg("invalid call event")
		c.settle(log, d.Ack(false))
		return
	}
	if ev.Type == "" {
		ev.Type = d.RoutingKey
	}

	err := c.handler.Handle(ctx, ev)
	switch {
	case err == nil:
		c.settle(log, d.Ack(false))
	case !appErrors.IsRetryable(err):
		log.Warn().Err(err).Str("call", ev.CallID).Msg("call event dropped")
		c.settle(log, d.Ack(false))
	case d.Redelivered:
		log.Error().Err(err).Str("call", ev.CallID).Msg("call event failed twice, dropped")
		c.settle(log, d.Nack(false, false))
	default:
		log.Warn().Err(err).Str("call", ev.CallID).Msg("call event failed, requeued")
		c.settle(log, d.Nack(false, true))
	}
}

func (c *Consumer) settle(log zerolog.Logger, err error) {
	if err != nil {
		log.Error().Err(err).Msg("settle delivery")
	}
}
