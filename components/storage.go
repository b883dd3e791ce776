// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kbpipeline/pdfconvert/clog"
	"github.com/kbpipeline/pdfconvert/item"
	"github.com/kbpipeline/pdfconvert/messages"
	"github.com/kbpipeline/pdfconvert/metrics"
)

// MarkdownStorage is the Markdown Storage Worker: it persists converted
// markdown via item.Store, idempotently appending part content and
// overwriting whole-document content, and reports completion or failure.
type MarkdownStorage struct {
	id  string
	log *clog.CLogger
	dep Deps
}

// NewMarkdownStorage constructs a MarkdownStorage worker ready for Run.
func NewMarkdownStorage(dep Deps) *MarkdownStorage {
	id := newID()
	return &MarkdownStorage{id: id, log: newLogger(RoleMarkdownStorage, id), dep: dep}
}

// Run consumes markdown-storage-request until ctx is canceled.
func (m *MarkdownStorage) Run(ctx context.Context) error {
	if err := m.dep.Broker.Consume(ctx, "markdown-storage-request", m.handle); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MarkdownStorage) handle(ctx context.Context, eventType messages.EventType, body []byte) error {
	if eventType != messages.MarkdownStorageRequest {
		return fmt.Errorf("markdown-storage: unexpected event type %s", eventType)
	}

	var req messages.MarkdownStorageRequestMsg
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("markdown-storage: decode request: %w", err)
	}

	if err := m.save(ctx, req); err != nil {
		return m.fail(ctx, req, err)
	}

	return m.complete(ctx, req)
}

// save persists req's content. Part content is appended to whatever is
// already stored (the Merger's eventual merge supersedes ordering), and
// whole-document content replaces the stored value outright. Whole-document
// saves are naturally idempotent since SaveMarkdown just overwrites; the
// part-append path additionally checks for its own "--- PART N ---" block
// before appending, so a redelivered or retried write doesn't double-append
// the same part (spec.md §4.6.3/§4.8 idempotency requirement on
// (itemId, partIndex)).
func (m *MarkdownStorage) save(ctx context.Context, req messages.MarkdownStorageRequestMsg) error {
	if !req.Metadata.IsPart {
		return m.dep.Items.SaveMarkdown(ctx, req.ItemID, req.MarkdownContent)
	}

	existing, _, err := m.dep.Items.GetMarkdown(ctx, req.ItemID)
	if err != nil {
		return fmt.Errorf("markdown-storage: read existing markdown for %s: %w", req.ItemID, err)
	}

	if partAlreadyStored(existing, req.Metadata.PartIndex) {
		return nil
	}

	return m.dep.Items.SaveMarkdown(ctx, req.ItemID, existing+req.MarkdownContent)
}

// partAlreadyStored reports whether existing already carries the "--- PART
// N ---" block for partIndex (0-based; markers themselves are 1-based,
// matching conversion.go's labeling of each part's markdown).
func partAlreadyStored(existing string, partIndex int) bool {
	if !partMarker.MatchString(existing) {
		return false
	}
	label := partIndex + 1
	for _, c := range parsePartChunks(existing) {
		if c.label == label {
			return true
		}
	}
	return false
}

func (m *MarkdownStorage) complete(ctx context.Context, req messages.MarkdownStorageRequestMsg) error {
	msg := messages.MarkdownStorageCompletedMsg{
		Envelope: messages.NewEnvelope(messages.MarkdownStorageCompleted, req.ItemID),
		Metadata: req.Metadata,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("markdown-storage: encode completed: %w", err)
	}
	return m.dep.Broker.PublishRequest(ctx, "markdown.storage.completed", messages.MarkdownStorageCompleted, body, messages.PriorityNormal)
}

func (m *MarkdownStorage) fail(ctx context.Context, req messages.MarkdownStorageRequestMsg, cause error) error {
	m.log.Errorf("markdown storage failed for item %s: %v", req.ItemID, cause)

	retry, _ := decideRetry(req.RetryCount, req.MaxRetries, ErrTransient)
	if retry {
		retried := req
		retried.Envelope = req.Envelope.Retried()
		retried.Envelope.EventType = messages.MarkdownStorageRequest
		body, err := json.Marshal(retried)
		if err != nil {
			return fmt.Errorf("markdown-storage: encode retry: %w", err)
		}
		metrics.RetriesPublished.WithLabelValues(string(messages.MarkdownStorageRequest)).Inc()
		return m.dep.Broker.PublishRequest(ctx, "markdown.storage.request", messages.MarkdownStorageRequest, body, messages.PriorityNormal)
	}

	if _, err := m.dep.Items.UpdateMetadata(ctx, req.ItemID, func(it *item.Item) {
		it.ProcessingStatus = item.StatusFailed
		it.ProcessingError = cause.Error()
	}); err != nil {
		m.log.Errorf("update item %s to failed: %v", req.ItemID, err)
	}

	msg := messages.MarkdownStorageFailedMsg{
		Envelope: messages.NewEnvelope(messages.MarkdownStorageFailed, req.ItemID),
		Error:    cause.Error(),
		CanRetry: false,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("markdown-storage: encode failed: %w", err)
	}
	return m.dep.Broker.PublishRequest(ctx, "markdown.storage.failed", messages.MarkdownStorageFailed, body, messages.PriorityNormal)
}
