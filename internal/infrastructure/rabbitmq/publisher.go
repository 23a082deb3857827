package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/config"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/contracts/message"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/metrics"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
)

// pubChannel is one confirm-mode channel plus its notification streams.
type pubChannel struct {
	ch       *amqp.Channel
	confirms <-chan amqp.Confirmation
	returns  <-chan amqp.Return
}

// drain discards notifications left over from an earlier publish so the
// next select only sees events for its own message.
func (pc *pubChannel) drain() {
	for {
		select {
		case <-pc.confirms:
		case <-pc.returns:
		default:
			return
		}
	}
}

// Publisher publishes envelopes with publisher confirms and mandatory
// routing. Channels live in a fixed-size pool; a channel that errors is
// closed and its slot reopened lazily on the next acquire.
type Publisher struct {
	conn    *amqp.Connection
	pool    chan *pubChannel
	timeout time.Duration
	log     zerolog.Logger
}

// NewPublisher dials the broker and declares the pipeline queues. Pool
// slots start empty; channels are opened on first use.
func NewPublisher(cfg config.MQConfig) (*Publisher, error) {
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

	size := cfg.PoolSize
	if size < 1 {
		size = 1
	}
	pool := make(chan *pubChannel, size)
	for i := 0; i < size; i++ {
		pool <- nil
	}

	return &Publisher{
		conn:    conn,
		pool:    pool,
		timeout: cfg.PublishTimeout(),
		log:     logger.Component("publisher"),
	}, nil
}

func newPubChannel(conn *amqp.Connection) (*pubChannel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &pubChannel{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		returns:  ch.NotifyReturn(make(chan amqp.Return, 1)),
	}, nil
}

func (p *Publisher) acquire(ctx context.Context) (*pubChannel, error) {
	select {
	case pc := <-p.pool:
		if pc != nil {
			return pc, nil
		}
		fresh, err := newPubChannel(p.conn)
		if err != nil {
			p.pool <- nil
			return nil, domain.NewConnectionError("open publish channel", err)
		}
		return fresh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns the channel to the pool, or retires it when the
// publish hit a channel-level error.
func (p *Publisher) release(pc *pubChannel, healthy bool) {
	if healthy {
		p.pool <- pc
		return
	}
	_ = pc.ch.Close()
	p.pool <- nil
}

// Publish sends one envelope to the default exchange and blocks until the
// broker returns, confirms, or the publish timeout passes. An empty
// routingKey targets the queue directly. Every non-nil error means the
// message must be treated as not delivered.
func (p *Publisher) Publish(ctx context.Context, queue, routingKey string, env *message.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}
	if routingKey == "" {
		routingKey = queue
	}

	pc, err := p.acquire(ctx)
	if err != nil {
		metrics.RecordPublish(queue, "failed")
		return err
	}
	healthy := true
	defer func() { p.release(pc, healthy) }()

	pc.drain()

	err = pc.ch.PublishWithContext(
		ctx,
		"", // default exchange
		routingKey,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    env.MessageID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     env.Metadata.Priority,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		healthy = false
		metrics.RecordPublish(queue, "failed")
		return domain.NewConnectionError(fmt.Sprintf("publish to %s", routingKey), err)
	}

	select {
	case ret := <-pc.returns:
		metrics.RecordPublish(queue, "returned")
		return domain.NewConnectionError(
			fmt.Sprintf("no route for %q (reply: %s)", ret.RoutingKey, ret.ReplyText), nil)
	case conf := <-pc.confirms:
		if !conf.Ack {
			metrics.RecordPublish(queue, "nacked")
			return domain.NewConnectionError(fmt.Sprintf("broker nacked publish to %s", routingKey), nil)
		}
		metrics.RecordPublish(queue, "ok")
		return nil
	case <-time.After(p.timeout):
		// No confirm in time counts as a failure: callers mark the
		// submission instead of guessing. The channel's confirm state
		// is now ambiguous, so retire it.
		healthy = false
		metrics.RecordPublish(queue, "timeout")
		return domain.NewConnectionError(
			fmt.Sprintf("publish confirm timed out after %s", p.timeout), nil)
	case <-ctx.Done():
		healthy = false
		return ctx.Err()
	}
}

// Ready reports whether the broker connection is still open. Readiness
// probes use it; it does not touch the channel pool.
func (p *Publisher) Ready() error {
	if p.conn == nil || p.conn.IsClosed() {
		return domain.NewConnectionError("broker connection closed", nil)
	}
	return nil
}

// Close releases every pooled channel and the connection.
func (p *Publisher) Close() error {
	for i := 0; i < cap(p.pool); i++ {
		if pc := <-p.pool; pc != nil {
			_ = pc.ch.Close()
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
