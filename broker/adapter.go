// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package broker implements the Broker Adapter (spec.md §4.1): connection,
// channel, and topology lifecycle over AMQP 0-9-1, typed publish/consume,
// reconnect with exponential backoff, and a passive heartbeat.
//
// Grounded in _examples/other_examples/74da6096_sadewadee-google-scraper__internal-mq-consumer.go.go
// for the amqp091-go connect/channel/QoS/consume idiom and
// _examples/other_examples/d9c6ac50_oriys-nova__internal-mq-mq.go.go for the
// abstract publish/consume/ack/nack/dead-letter contract shape.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/kbpipeline/pdfconvert/clog"
	"github.com/kbpipeline/pdfconvert/metrics"
)

// ErrUnhealthy is returned once reconnection has exhausted its attempts.
var ErrUnhealthy = fmt.Errorf("broker: unhealthy: reconnect attempts exhausted")

const (
	reconnectBaseDelay = 5 * time.Second
	reconnectMaxTries  = 5
	heartbeatInterval  = 30 * time.Second
)

// ErrPreconditionFailed reports that a queue already exists with arguments
// different from what the adapter would declare, along with its current
// depth, so the caller can decide whether to intervene rather than silently
// adopting mismatched arguments (spec.md §4.1 "Queue declaration edge case").
type ErrPreconditionFailed struct {
	Queue    string
	Messages int
	Cause    error
}

func (e *ErrPreconditionFailed) Error() string {
	return fmt.Sprintf("broker: queue %q exists with different arguments (depth=%d): %v", e.Queue, e.Messages, e.Cause)
}

func (e *ErrPreconditionFailed) Unwrap() error { return e.Cause }

// consumerReg records one active consumer so it can be re-registered with
// its original consumer tag after a reconnect.
type consumerReg struct {
	queue       string
	consumerTag string
	handler     Handler
}

// Adapter owns one logical AMQP connection and one channel, shared by every
// publish and consume call in the owning process (spec.md §5: "the channel
// is single-threaded by the broker's protocol — publishes from multiple
// tasks must be serialized by a mutex inside the adapter").
type Adapter struct {
	url string
	log *clog.CLogger

	mu        sync.Mutex // serializes publishes and channel (re)assignment
	conn      *amqp.Connection
	ch        *amqp.Channel
	closed    bool
	unhealthy bool

	consumersMu sync.Mutex
	consumers   []consumerReg

	notifyClose chan *amqp.Error
}

// New creates an Adapter for the given AMQP URL. Call Connect to establish
// the connection and declare topology before publishing or consuming.
func New(url string) *Adapter {
	return &Adapter{
		url: url,
		log: clog.New("broker-adapter", url),
	}
}

// Connect dials the broker, declares topology (idempotent — safe to call
// again on every reconnect), and starts the background heartbeat and
// reconnect-watcher goroutines. ctx governs the watcher goroutines'
// lifetime; the initial dial does not observe it, and neither do individual
// publish/consume calls.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.dialAndDeclare(); err != nil {
		return err
	}
	go a.watch(ctx)
	go a.heartbeat(ctx)
	return nil
}

func (a *Adapter) dialAndDeclare() error {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.ch = ch
	a.unhealthy = false
	a.notifyClose = make(chan *amqp.Error, 1)
	ch.NotifyClose(a.notifyClose)
	a.mu.Unlock()

	a.log.Printf("connected and topology declared")
	return nil
}

// declareTopology declares the exchange, the dead-letter exchange, and
// every queue of spec.md §6.1, bound to ExchangeName with its fixed routing
// key. It is idempotent: redeclaring identical topology on the same channel
// is a no-op to the broker.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare exchange %s: %w", ExchangeName, err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare exchange %s: %w", DeadLetterExchangeName, err)
	}

	for _, q := range Queues {
		args := amqp.Table{"x-dead-letter-exchange": DeadLetterExchangeName}
		if q.TTL > 0 {
			args["x-message-ttl"] = int32(q.TTL)
		}
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, args); err != nil {
			return preconditionOrErr(ch, q.Name, err)
		}
		if err := ch.QueueBind(q.Name, q.RoutingKey, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("broker: bind queue %s: %w", q.Name, err)
		}
	}

	// Dead-letter queue itself: durable, bound to the DLX with its own
	// routing key so rejected messages land somewhere inspectable.
	if _, err := ch.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil); err != nil {
		return preconditionOrErr(ch, DeadLetterQueueName, err)
	}
	if err := ch.QueueBind(DeadLetterQueueName, "dead.letter", DeadLetterExchangeName, false, nil); err != nil {
		return fmt.Errorf("broker: bind queue %s: %w", DeadLetterQueueName, err)
	}

	return nil
}

// preconditionOrErr classifies a QueueDeclare failure: if the broker
// reports PRECONDITION_FAILED (code 406), the queue already exists with
// different arguments. Rather than silently adopting the mismatch, report
// the existing queue's depth via a passive declare and refuse to start.
func preconditionOrErr(ch *amqp.Channel, name string, cause error) error {
	if amqpErr, ok := cause.(*amqp.Error); ok && amqpErr.Code == amqp.PreconditionFailed {
		depth := -1
		if q, err := ch.QueueInspect(name); err == nil {
			depth = q.Messages
		}
		return &ErrPreconditionFailed{Queue: name, Messages: depth, Cause: cause}
	}
	return fmt.Errorf("broker: declare queue %s: %w", name, cause)
}

// watch observes the channel's close notifications and drives reconnection
// with exponential backoff, capped at reconnectMaxTries attempts, starting
// at reconnectBaseDelay. On exhaustion it marks the adapter Unhealthy and
// stops watching; the caller decides what to do with an unhealthy adapter
// (spec.md §4.1).
func (a *Adapter) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-a.notifyClose:
			if !ok {
				return
			}
			a.log.Errorf("connection closed: %v", err)
			if a.reconnect(ctx) {
				metrics.BrokerReconnects.WithLabelValues("success").Inc()
				continue
			}
			metrics.BrokerReconnects.WithLabelValues("exhausted").Inc()
			a.mu.Lock()
			a.unhealthy = true
			a.mu.Unlock()
			a.log.Errorf("reconnect attempts exhausted, adapter is unhealthy")
			return
		}
	}
}

// reconnect retries dialAndDeclare with exponential backoff (5s base,
// capped at reconnectMaxTries attempts), then re-registers every consumer
// that was active before the disconnect, with its original consumer tag.
func (a *Adapter) reconnect(ctx context.Context) bool {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectBaseDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by tries, not elapsed time

	for attempt := 1; attempt <= reconnectMaxTries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(bo.NextBackOff()):
			}
		}
		if err := a.dialAndDeclare(); err != nil {
			a.log.Errorf("reconnect attempt %d/%d failed: %v", attempt, reconnectMaxTries, err)
			continue
		}
		a.reregisterConsumers(ctx)
		return true
	}
	return false
}

func (a *Adapter) reregisterConsumers(ctx context.Context) {
	a.consumersMu.Lock()
	regs := append([]consumerReg(nil), a.consumers...)
	a.consumersMu.Unlock()

	for _, r := range regs {
		if err := a.consumeWithTag(ctx, r.queue, r.consumerTag, r.handler); err != nil {
			a.log.Errorf("failed re-registering consumer %s on queue %s: %v", r.consumerTag, r.queue, err)
		}
	}
}

// heartbeat issues a passive queue check every heartbeatInterval. Failure
// is logged but never itself triggers reconnect (spec.md §4.1): the
// connection's own NotifyClose is the sole reconnect trigger.
func (a *Adapter) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			ch := a.ch
			a.mu.Unlock()
			if ch == nil {
				continue
			}
			if _, err := ch.QueueInspect(DeadLetterQueueName); err != nil {
				a.log.Errorf("heartbeat check failed: %v", err)
			}
		}
	}
}

// Healthy reports whether the adapter believes its connection is usable.
func (a *Adapter) Healthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.unhealthy && !a.closed
}

// Close gracefully shuts the channel and connection down.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	var errCh, errConn error
	if a.ch != nil {
		errCh = a.ch.Close()
	}
	if a.conn != nil {
		errConn = a.conn.Close()
	}
	if errCh != nil {
		return errCh
	}
	return errConn
}
