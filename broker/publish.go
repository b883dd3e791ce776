// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kbpipeline/pdfconvert/messages"
	"github.com/kbpipeline/pdfconvert/metrics"
)

// PublishOptions configures one publish call beyond the message body
// itself. Requests default to persistent; progress messages should set
// Persistent to false and TTL to 300s per spec.md §4.1.
type PublishOptions struct {
	Persistent bool
	Priority   messages.Priority
	TTLMillis  int32 // 0 = no TTL override
}

// Publish serializes body as UTF-8 JSON — the caller passes an already-
// json.Marshal-able envelope-embedding struct — to ExchangeName under
// routingKey, with the x-message-type header set to eventType (spec.md
// §4.1 Publish contract). Publish failures are raised to the caller, which
// decides whether to retry (spec.md §4.1 Failure semantics).
func (a *Adapter) Publish(ctx context.Context, routingKey string, eventType messages.EventType, body []byte, opts PublishOptions) error {
	a.mu.Lock()
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("broker: not connected")
	}

	deliveryMode := amqp.Transient
	if opts.Persistent {
		deliveryMode = amqp.Persistent
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		Priority:     opts.Priority.AMQPPriority(),
		Body:         body,
		Headers:      amqp.Table{"x-message-type": string(eventType)},
	}
	if opts.TTLMillis > 0 {
		pub.Expiration = fmt.Sprintf("%d", opts.TTLMillis)
	}

	// The channel is single-threaded by the AMQP protocol; serialize
	// publishes from concurrent callers behind the adapter's mutex
	// (spec.md §5 Shared-resource policy).
	a.mu.Lock()
	err := ch.PublishWithContext(ctx, ExchangeName, routingKey, false, false, pub)
	a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("broker: publish %s to %s: %w", eventType, routingKey, err)
	}
	metrics.MessagesPublished.WithLabelValues(string(eventType)).Inc()
	return nil
}

// PublishRequest is a convenience wrapper for persistent request-shaped
// messages (analysis/splitting/conversion/part-conversion/merging/storage
// requests), which spec.md §4.1 says are always persistent.
func (a *Adapter) PublishRequest(ctx context.Context, routingKey string, eventType messages.EventType, body []byte, priority messages.Priority) error {
	return a.Publish(ctx, routingKey, eventType, body, PublishOptions{Persistent: true, Priority: priority})
}

// PublishProgress is a convenience wrapper for transient progress messages
// with the 300s TTL of spec.md §6.1.
func (a *Adapter) PublishProgress(ctx context.Context, routingKey string, eventType messages.EventType, body []byte) error {
	return a.Publish(ctx, routingKey, eventType, body, PublishOptions{Persistent: false, TTLMillis: 300_000})
}
