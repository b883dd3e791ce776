// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package metrics registers the Prometheus collectors shared by every
// pipeline component: messages published/consumed per event type, retries,
// dead-letter hits, and merge duration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublished counts messages successfully published, labeled by
	// eventType.
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdfpipeline_messages_published_total",
		Help: "Total number of messages published to the broker, by event type.",
	}, []string{"event_type"})

	// MessagesConsumed counts messages delivered to a handler, labeled by
	// eventType and outcome ("ack", "failed", "poison").
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdfpipeline_messages_consumed_total",
		Help: "Total number of messages consumed from the broker, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// RetriesPublished counts retry republications, labeled by eventType.
	RetriesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdfpipeline_retries_published_total",
		Help: "Total number of retry messages republished, by event type.",
	}, []string{"event_type"})

	// DeadLettered counts messages that were nack'd without requeue and
	// routed to the dead-letter exchange, labeled by queue.
	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdfpipeline_dead_lettered_total",
		Help: "Total number of messages routed to the dead-letter exchange, by queue.",
	}, []string{"queue"})

	// MergeDuration observes wall-clock time spent in the Merger's merge
	// algorithm (§4.7 steps 2-6), excluding I/O.
	MergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pdfpipeline_merge_duration_seconds",
		Help:    "Time spent parsing, filtering, sorting, and normalizing parts during a merge.",
		Buckets: prometheus.DefBuckets,
	})

	// BrokerReconnects counts reconnect attempts by the Broker Adapter,
	// labeled by outcome ("success", "exhausted").
	BrokerReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdfpipeline_broker_reconnects_total",
		Help: "Total number of broker reconnect attempts, by outcome.",
	}, []string{"outcome"})
)
