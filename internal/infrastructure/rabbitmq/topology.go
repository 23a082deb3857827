// Package rabbitmq adapts the pipeline to the broker: a confirm-mode
// publisher with a small channel pool and a manual-ack consumer whose
// handler result decides ack, drop, or redelivery.
package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/config"
)

// declareTopology declares the three pipeline queues. Declarations are
// idempotent, so publisher and consumer can each run this on startup in
// any order. The jobs queue dead-letters into the DLQ queue: a worker
// that rejects a job without requeue lands it there with no extra
// plumbing on the worker side.
func declareTopology(ch *amqp.Channel, cfg config.MQConfig) error {
	if _, err := ch.QueueDeclare(
		cfg.DLQQueueName, true, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.DLQQueueName, err)
	}

	jobArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.DLQQueueName,
	}
	if _, err := ch.QueueDeclare(
		cfg.QueueName, true, false, false, false, jobArgs,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}

	if _, err := ch.QueueDeclare(
		cfg.ResultQueueName, true, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.ResultQueueName, err)
	}

	return nil
}
