// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/google/uuid"

	"github.com/kbpipeline/pdfconvert/messages"
	"github.com/kbpipeline/pdfconvert/metrics"
)

// Handler processes one delivery's raw JSON body. Returning nil acks the
// message; returning a non-nil error nacks it without requeue, sending it
// to the dead-letter exchange unless the handler itself already republished
// a retry (spec.md §4.1 Consume contract, §7 Propagation policy: handlers
// never rethrow into the adapter's consume loop).
type Handler func(ctx context.Context, eventType messages.EventType, body []byte) error

// Consume registers a manual-ack consumer on queue and runs handler for
// every delivery until ctx is canceled. noAck consumers are never used for
// request queues (spec.md §4.1). Consume returns once the consumer is
// registered; deliveries are handled on a background goroutine until ctx is
// done or the delivery channel closes (e.g. on a yet-unrecovered
// disconnect).
func (a *Adapter) Consume(ctx context.Context, queue string, handler Handler) error {
	consumerTag := fmt.Sprintf("%s-%s", queue, randomTag())
	if err := a.consumeWithTag(ctx, queue, consumerTag, handler); err != nil {
		return err
	}

	a.consumersMu.Lock()
	a.consumers = append(a.consumers, consumerReg{queue: queue, consumerTag: consumerTag, handler: handler})
	a.consumersMu.Unlock()

	return nil
}

func (a *Adapter) consumeWithTag(ctx context.Context, queue, consumerTag string, handler Handler) error {
	a.mu.Lock()
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("broker: not connected")
	}

	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		return fmt.Errorf("broker: set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	go a.runConsumeLoop(ctx, queue, deliveries, handler)
	return nil
}

// defaultPrefetch is the per-channel prefetch of spec.md §5: one in-flight
// message per worker for fairness. Replicas, not a higher prefetch, are how
// a worker type scales.
const defaultPrefetch = 1

func (a *Adapter) runConsumeLoop(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			a.handleDelivery(ctx, queue, d, handler)
		}
	}
}

func (a *Adapter) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	env, err := messages.PeekEnvelope(d.Body)
	if err != nil {
		// Poison message: unparseable JSON or unknown eventType. Never
		// retried; nack without requeue routes it to the DLX.
		a.log.Errorf("poison message on %s: %v", queue, err)
		metrics.MessagesConsumed.WithLabelValues("unknown", "poison").Inc()
		metrics.DeadLettered.WithLabelValues(queue).Inc()
		_ = d.Nack(false, false)
		return
	}

	if herr := handler(ctx, env.EventType, d.Body); herr != nil {
		a.log.Errorf("handler failed for %s on %s: %v", env.EventType, queue, herr)
		metrics.MessagesConsumed.WithLabelValues(string(env.EventType), "failed").Inc()
		metrics.DeadLettered.WithLabelValues(queue).Inc()
		_ = d.Nack(false, false)
		return
	}

	metrics.MessagesConsumed.WithLabelValues(string(env.EventType), "ack").Inc()
	_ = d.Ack(false)
}

func randomTag() string {
	return uuid.NewString()
}
