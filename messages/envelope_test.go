// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeDefaults(t *testing.T) {
	env := NewEnvelope(PdfAnalysisRequest, "item-1")

	assert.NotEmpty(t, env.MessageID)
	assert.Equal(t, PdfAnalysisRequest, env.EventType)
	assert.Equal(t, "item-1", env.ItemID)
	assert.Equal(t, 0, env.RetryCount)
	assert.Equal(t, DefaultMaxRetries, env.MaxRetries)
	assert.NotZero(t, env.Timestamp)
}

func TestEnvelopeRetriedRegeneratesIdentityFields(t *testing.T) {
	orig := NewEnvelope(PdfConversionRequest, "item-2")
	orig.RetryCount = 1

	retried := orig.Retried()

	assert.NotEqual(t, orig.MessageID, retried.MessageID)
	assert.Equal(t, 2, retried.RetryCount)
	assert.Equal(t, orig.ItemID, retried.ItemID)
	assert.Equal(t, orig.EventType, retried.EventType)
	assert.Equal(t, orig.MaxRetries, retried.MaxRetries)
}

func TestEnvelopeCanRetry(t *testing.T) {
	env := NewEnvelope(PdfConversionRequest, "item-3")
	env.MaxRetries = 2

	env.RetryCount = 0
	assert.True(t, env.CanRetry())
	env.RetryCount = 1
	assert.True(t, env.CanRetry())
	env.RetryCount = 2
	assert.False(t, env.CanRetry())
}

func TestEnvelopeCanRetryZeroMaxRetriesDefaults(t *testing.T) {
	env := Envelope{RetryCount: 1, MaxRetries: 0}
	assert.True(t, env.CanRetry())
}

func TestPeekEnvelopeDecodesKnownEventType(t *testing.T) {
	env := NewEnvelope(PdfMergingRequest, "item-4")
	body, err := json.Marshal(env)
	require.NoError(t, err)

	peeked, err := PeekEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, peeked.MessageID)
	assert.Equal(t, PdfMergingRequest, peeked.EventType)
}

func TestPeekEnvelopeRejectsUnknownEventType(t *testing.T) {
	body := []byte(`{"messageId":"x","eventType":"NotARealEvent","itemId":"i"}`)

	_, err := PeekEnvelope(body)
	require.Error(t, err)

	var unknown *ErrUnknownEventType
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, EventType("NotARealEvent"), unknown.EventType)
}

func TestPeekEnvelopeRejectsMalformedJSON(t *testing.T) {
	_, err := PeekEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestPriorityAMQPPriority(t *testing.T) {
	assert.EqualValues(t, 1, PriorityLow.AMQPPriority())
	assert.EqualValues(t, 5, PriorityNormal.AMQPPriority())
	assert.EqualValues(t, 10, PriorityHigh.AMQPPriority())
	assert.EqualValues(t, 5, Priority("").AMQPPriority())
}

func TestEventTypeIsKnown(t *testing.T) {
	assert.True(t, PdfAnalysisRequest.IsKnown())
	assert.False(t, EventType("bogus").IsKnown())
}
