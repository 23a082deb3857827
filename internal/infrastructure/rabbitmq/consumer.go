package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/config"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/metrics"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
)

// Handler processes one delivery body. Return values map to broker
// actions: nil acks, an error wrapping domain.ErrDiscard acks and drops
// (the handler has already routed the message to the dead-letter store),
// anything else nacks with requeue.
type Handler func(ctx context.Context, body []byte) error

// Consumer pulls deliveries off a queue with manual acks.
type Consumer struct {
	conn *amqp.Connection
	log  zerolog.Logger
}

// NewConsumer dials the broker and declares the pipeline queues.
func NewConsumer(cfg config.MQConfig) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, domain.NewConnectionError("dial broker", err)
	}

	setup, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, domain.NewConnectionError("open setup channel", err)
	}
	if err := declareTopology(setup, cfg); err != nil {
		_ = setup.Close()
		_ = conn.Close()
		return nil, domain.NewConnectionError("declare topology", err)
	}
	_ = setup.Close()

	return &Consumer{conn: conn, log: logger.Component("consumer")}, nil
}

// Process consumes queue until ctx is canceled (returns nil) or the
// delivery channel dies (returns the connection error; the caller owns
// the exit-and-restart policy). concurrency <= 1 processes strictly in
// order; above that, up to concurrency handlers run at once.
func (c *Consumer) Process(ctx context.Context, queue string, concurrency, prefetch int, h Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return domain.NewConnectionError("open consume channel", err)
	}
	defer func() { _ = ch.Close() }()

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return domain.NewConnectionError("set qos", err)
		}
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return domain.NewConnectionError("start consume", err)
	}

	c.log.Info().
		Str("queue", queue).
		Int("concurrency", concurrency).
		Int("prefetch", prefetch).
		Msg("consumer started")

	if concurrency <= 1 {
		return c.processSequential(ctx, queue, deliveries, h)
	}
	return c.processConcurrent(ctx, queue, concurrency, deliveries, h)
}

func (c *Consumer) processSequential(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Str("queue", queue).Msg("consumer shutting down")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return domain.NewConnectionError("delivery channel closed for "+queue, nil)
			}
			c.handle(ctx, queue, d, h)
		}
	}
}

func (c *Consumer) processConcurrent(ctx context.Context, queue string, concurrency int, deliveries <-chan amqp.Delivery, h Handler) error {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			c.log.Info().Str("queue", queue).Msg("consumer shutting down")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				wg.Wait()
				return domain.NewConnectionError("delivery channel closed for "+queue, nil)
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Undispatched delivery is requeued when the channel closes.
				wg.Wait()
				c.log.Info().Str("queue", queue).Msg("consumer shutting down")
				return nil
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				c.handle(ctx, queue, d, h)
			}(d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, queue string, d amqp.Delivery, h Handler) {
	start := time.Now()
	err := h(ctx, d.Body)

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Warn().Err(ackErr).Str("queue", queue).Msg("ack failed")
		}
		metrics.RecordMessageProcessed(queue, "ok", time.Since(start))

	case errors.Is(err, domain.ErrDiscard):
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Warn().Err(ackErr).Str("queue", queue).Msg("ack failed")
		}
		c.log.Debug().
			Str("queue", queue).
			Str("message_id", d.MessageId).
			Msg("message discarded")
		metrics.RecordMessageProcessed(queue, "discarded", time.Since(start))

	default:
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.log.Warn().Err(nackErr).Str("queue", queue).Msg("nack failed")
		}
		c.log.Error().
			Err(err).
			Str("queue", queue).
			Str("message_id", d.MessageId).
			Msg("handler failed, message redelivered")
		metrics.RecordMessageProcessed(queue, "redelivered", time.Since(start))
	}
}

// Close closes the broker connection. In-flight deliveries that were not
// acked are requeued by the broker.
func (c *Consumer) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
