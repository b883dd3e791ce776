// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package messages defines the durable message envelope and the closed set
// of event payloads exchanged between pipeline components over the broker.
package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the shape of a message's event-specific fields. The
// set is closed; any other value is a poison message.
type EventType string

const (
	PdfAnalysisRequest          EventType = "PdfAnalysisRequest"
	PdfAnalysisCompleted        EventType = "PdfAnalysisCompleted"
	PdfAnalysisFailed           EventType = "PdfAnalysisFailed"
	PdfSplittingRequest         EventType = "PdfSplittingRequest"
	PdfConversionRequest        EventType = "PdfConversionRequest"
	PdfConversionProgress       EventType = "PdfConversionProgress"
	PdfConversionCompleted      EventType = "PdfConversionCompleted"
	PdfConversionFailed         EventType = "PdfConversionFailed"
	PdfPartConversionRequest    EventType = "PdfPartConversionRequest"
	PdfPartConversionCompleted  EventType = "PdfPartConversionCompleted"
	PdfPartConversionFailed     EventType = "PdfPartConversionFailed"
	PdfMergingRequest           EventType = "PdfMergingRequest"
	PdfMergingProgress          EventType = "PdfMergingProgress"
	MarkdownStorageRequest      EventType = "MarkdownStorageRequest"
	MarkdownStorageCompleted    EventType = "MarkdownStorageCompleted"
	MarkdownStorageFailed       EventType = "MarkdownStorageFailed"
)

// knownEventTypes backs IsKnown; kept separate from the const block so a new
// event type can't be added without also closing it into the validated set.
var knownEventTypes = map[EventType]struct{}{
	PdfAnalysisRequest:         {},
	PdfAnalysisCompleted:       {},
	PdfAnalysisFailed:          {},
	PdfSplittingRequest:        {},
	PdfConversionRequest:       {},
	PdfConversionProgress:      {},
	PdfConversionCompleted:     {},
	PdfConversionFailed:        {},
	PdfPartConversionRequest:   {},
	PdfPartConversionCompleted: {},
	PdfPartConversionFailed:    {},
	PdfMergingRequest:          {},
	PdfMergingProgress:         {},
	MarkdownStorageRequest:     {},
	MarkdownStorageCompleted:   {},
	MarkdownStorageFailed:      {},
}

// IsKnown reports whether t belongs to the closed set of event types.
func (t EventType) IsKnown() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Priority maps to AMQP publish priority per §4.1: low→1, normal→5, high→10.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// AMQPPriority returns the numeric publish priority for p, defaulting to
// normal (5) for an empty or unrecognized value.
func (p Priority) AMQPPriority() uint8 {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 10
	default:
		return 5
	}
}

// DefaultMaxRetries is the default maxRetries carried by a message that
// doesn't set one explicitly.
const DefaultMaxRetries = 3

// Envelope is the header shared by every message on the broker. Event-
// specific fields are carried in the embedding struct (see events.go);
// Envelope is always embedded by value so json.Marshal flattens both into a
// single object.
type Envelope struct {
	MessageID  string    `json:"messageId"`
	Timestamp  int64     `json:"timestamp"` // epoch milliseconds
	EventType  EventType `json:"eventType"`
	ItemID     string    `json:"itemId"`
	RetryCount int       `json:"retryCount"`
	MaxRetries int       `json:"maxRetries"`
	Priority   Priority  `json:"priority,omitempty"`
}

// NewEnvelope returns an Envelope with a fresh messageId, the current
// timestamp, and maxRetries defaulted to DefaultMaxRetries.
func NewEnvelope(eventType EventType, itemID string) Envelope {
	return Envelope{
		MessageID:  uuid.NewString(),
		Timestamp:  nowMillis(),
		EventType:  eventType,
		ItemID:     itemID,
		MaxRetries: DefaultMaxRetries,
	}
}

// Retried returns a copy of e with a regenerated messageId, an updated
// timestamp, and retryCount incremented by one. Every other field is left
// unchanged, matching §4.8's "no other field changes" rule.
func (e Envelope) Retried() Envelope {
	e.MessageID = uuid.NewString()
	e.Timestamp = nowMillis()
	e.RetryCount++
	return e
}

// CanRetry reports whether e.RetryCount is still below e.MaxRetries.
func (e Envelope) CanRetry() bool {
	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return e.RetryCount < maxRetries
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ErrUnknownEventType is returned by PeekEnvelope when the envelope's
// eventType is not in the closed set.
type ErrUnknownEventType struct {
	EventType EventType
}

func (e *ErrUnknownEventType) Error() string {
	return fmt.Sprintf("messages: unknown event type %q", e.EventType)
}

// PeekEnvelope decodes only the envelope header from a raw message body, so
// a consumer can branch on EventType before decoding the full payload. It is
// the first line of defense against poison messages: unparseable JSON or an
// unknown event type is reported here rather than deeper in a typed decode.
func PeekEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("messages: decode envelope: %w", err)
	}
	if !env.EventType.IsKnown() {
		return Envelope{}, &ErrUnknownEventType{EventType: env.EventType}
	}
	return env, nil
}
