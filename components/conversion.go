// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbpipeline/pdfconvert/clog"
	"github.com/kbpipeline/pdfconvert/item"
	"github.com/kbpipeline/pdfconvert/messages"
	"github.com/kbpipeline/pdfconvert/metrics"
	"github.com/kbpipeline/pdfconvert/tracker"
)

// partDownloadURLTTLSeconds mirrors downloadURLTTLSeconds for part/whole
// conversion requests, kept as a distinct name since the two workers are
// expected to diverge (e.g. longer TTL for larger whole documents) even
// though they share a value today.
const partDownloadURLTTLSeconds = downloadURLTTLSeconds

// Conversion is the Conversion Worker of spec.md §4.6: it converts either a
// whole PDF (§4.6.1) or a single page-range part (§4.6.2) to markdown via
// the external converter.
type Conversion struct {
	id  string
	log *clog.CLogger
	dep Deps
}

// NewConversion constructs a Conversion worker ready for Run.
func NewConversion(dep Deps) *Conversion {
	id := newID()
	return &Conversion{id: id, log: newLogger(RoleConversion, id), dep: dep}
}

// Run consumes both pdf-conversion-request (whole-PDF path) and
// pdf-part-conversion-request (part path) until ctx is canceled.
func (c *Conversion) Run(ctx context.Context) error {
	if err := c.dep.Broker.Consume(ctx, "pdf-conversion-request", c.handleWhole); err != nil {
		return err
	}
	if err := c.dep.Broker.Consume(ctx, "pdf-part-conversion-request", c.handlePart); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

// handleWhole implements spec.md §4.6.1: convert the whole PDF, store the
// markdown, and report completion, with progress notifications at 0/10/30/
// 60/80.
func (c *Conversion) handleWhole(ctx context.Context, eventType messages.EventType, body []byte) error {
	if eventType != messages.PdfConversionRequest {
		return fmt.Errorf("conversion: unexpected event type %s", eventType)
	}

	var req messages.PdfConversionRequestMsg
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("conversion: decode request: %w", err)
	}

	c.publishProgress(ctx, req.ItemID, 0, "starting conversion")
	start := time.Now()

	url, err := c.dep.Objects.GetPdfDownloadUrl(ctx, req.ObjectKey, partDownloadURLTTLSeconds)
	if err != nil {
		return c.failWhole(ctx, req, classifyObjectErr(err), fmt.Errorf("conversion: presign %s: %w", req.ObjectKey, err))
	}
	c.publishProgress(ctx, req.ItemID, 10, "fetched download url")

	convertCtx, cancel := context.WithTimeout(ctx, c.dep.Cfg.ConverterTimeout)
	defer cancel()

	c.publishProgress(ctx, req.ItemID, 30, "converting")
	result, err := c.dep.Converter.ConvertFromUrl(convertCtx, url)
	if err != nil {
		return c.failWhole(ctx, req, ErrTransient, fmt.Errorf("conversion: convert %s: %w", req.ObjectKey, err))
	}
	if !result.Success {
		return c.failWhole(ctx, req, ErrBadInput, fmt.Errorf("conversion: converter reported failure: %s", result.Error))
	}
	c.publishProgress(ctx, req.ItemID, 60, "conversion complete, storing markdown")

	storeMsg := messages.MarkdownStorageRequestMsg{
		Envelope:        messages.NewEnvelope(messages.MarkdownStorageRequest, req.ItemID),
		MarkdownContent: result.Data,
		Metadata:        messages.MarkdownStorageMetadata{ProcessingTime: time.Since(start).Milliseconds()},
	}
	storeBody, err := json.Marshal(storeMsg)
	if err != nil {
		return fmt.Errorf("conversion: encode storage request: %w", err)
	}
	if err := c.dep.Broker.PublishRequest(ctx, "markdown.storage.request", messages.MarkdownStorageRequest, storeBody, messages.PriorityNormal); err != nil {
		return fmt.Errorf("conversion: publish storage request: %w", err)
	}
	c.publishProgress(ctx, req.ItemID, 80, "markdown queued for storage")

	if _, err := c.dep.Items.UpdateMetadata(ctx, req.ItemID, func(it *item.Item) {
		it.ProcessingProgress = 90
	}); err != nil {
		c.log.Errorf("update item %s after conversion: %v", req.ItemID, err)
	}

	completedMsg := messages.PdfConversionCompletedMsg{
		Envelope:       messages.NewEnvelope(messages.PdfConversionCompleted, req.ItemID),
		Status:         "completed",
		ProcessingTime: time.Since(start).Milliseconds(),
	}
	completedBody, err := json.Marshal(completedMsg)
	if err != nil {
		return fmt.Errorf("conversion: encode completed: %w", err)
	}
	return c.dep.Broker.PublishRequest(ctx, "pdf.conversion.completed", messages.PdfConversionCompleted, completedBody, messages.PriorityNormal)
}

func (c *Conversion) publishProgress(ctx context.Context, itemID string, progress int, message string) {
	msg := messages.PdfConversionProgressMsg{
		Envelope: messages.NewEnvelope(messages.PdfConversionProgress, itemID),
		Progress: progress,
		Message:  message,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorf("encode progress for %s: %v", itemID, err)
		return
	}
	if err := c.dep.Broker.PublishProgress(ctx, "pdf.conversion.progress", messages.PdfConversionProgress, body); err != nil {
		c.log.Errorf("publish progress for %s: %v", itemID, err)
	}
}

func (c *Conversion) failWhole(ctx context.Context, req messages.PdfConversionRequestMsg, kind ErrorKind, cause error) error {
	c.log.Errorf("whole-pdf conversion failed for item %s: %v", req.ItemID, cause)

	retry, _ := decideRetry(req.RetryCount, req.MaxRetries, kind)
	if retry {
		retried := req
		retried.Envelope = req.Envelope.Retried()
		retried.Envelope.EventType = messages.PdfConversionRequest
		body, err := json.Marshal(retried)
		if err != nil {
			return fmt.Errorf("conversion: encode retry: %w", err)
		}
		metrics.RetriesPublished.WithLabelValues(string(messages.PdfConversionRequest)).Inc()
		return c.dep.Broker.PublishRequest(ctx, "pdf.conversion.request", messages.PdfConversionRequest, body, messages.PriorityNormal)
	}

	if _, err := c.dep.Items.UpdateMetadata(ctx, req.ItemID, func(it *item.Item) {
		it.ProcessingStatus = item.StatusFailed
		it.ProcessingError = cause.Error()
	}); err != nil {
		c.log.Errorf("update item %s to failed: %v", req.ItemID, err)
	}

	msg := messages.PdfConversionFailedMsg{
		Envelope: messages.NewEnvelope(messages.PdfConversionFailed, req.ItemID),
		Error:    cause.Error(),
		CanRetry: false,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("conversion: encode failed: %w", err)
	}
	return c.dep.Broker.PublishRequest(ctx, "pdf.conversion.failed", messages.PdfConversionFailed, body, messages.PriorityNormal)
}

// handlePart implements spec.md §4.6.2: convert one page-range part,
// prefix it with its part marker, record the result in the Part Tracker,
// and trigger merging once every part has completed.
func (c *Conversion) handlePart(ctx context.Context, eventType messages.EventType, body []byte) error {
	if eventType != messages.PdfPartConversionRequest {
		return fmt.Errorf("conversion: unexpected event type %s", eventType)
	}

	var req messages.PdfPartConversionRequestMsg
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("conversion: decode part request: %w", err)
	}

	if err := c.ensureInitialized(ctx, req.ItemID, req.TotalParts); err != nil {
		return fmt.Errorf("conversion: ensure tracker initialized: %w", err)
	}
	if err := c.dep.Tracker.UpdatePartStatus(ctx, req.ItemID, req.PartIndex, tracker.PartProcessing, ""); err != nil {
		c.log.Errorf("mark part %d processing for %s: %v", req.PartIndex, req.ItemID, err)
	}

	url, err := c.dep.Objects.GetPdfDownloadUrl(ctx, req.ObjectKey, partDownloadURLTTLSeconds)
	if err != nil {
		return c.failPart(ctx, req, classifyObjectErr(err), fmt.Errorf("conversion: presign %s: %w", req.ObjectKey, err))
	}

	convertCtx, cancel := context.WithTimeout(ctx, c.dep.Cfg.ConverterTimeout)
	defer cancel()

	result, err := c.dep.Converter.ConvertFromUrl(convertCtx, url)
	if err != nil {
		return c.failPart(ctx, req, ErrTransient, fmt.Errorf("conversion: convert part %d: %w", req.PartIndex, err))
	}
	if !result.Success {
		return c.failPart(ctx, req, ErrBadInput, fmt.Errorf("conversion: converter reported failure for part %d: %s", req.PartIndex, result.Error))
	}

	markdown := fmt.Sprintf("\n\n--- PART %d ---\n\n%s", req.PartIndex+1, result.Data)

	storeMsg := messages.MarkdownStorageRequestMsg{
		Envelope:        messages.NewEnvelope(messages.MarkdownStorageRequest, req.ItemID),
		MarkdownContent: markdown,
		Metadata:        messages.MarkdownStorageMetadata{PartIndex: req.PartIndex, IsPart: true},
	}
	storeBody, err := json.Marshal(storeMsg)
	if err != nil {
		return fmt.Errorf("conversion: encode part storage request: %w", err)
	}
	if err := c.dep.Broker.PublishRequest(ctx, "markdown.storage.request", messages.MarkdownStorageRequest, storeBody, messages.PriorityNormal); err != nil {
		return fmt.Errorf("conversion: publish part storage request: %w", err)
	}

	if err := c.dep.Tracker.UpdatePartStatus(ctx, req.ItemID, req.PartIndex, tracker.PartCompleted, ""); err != nil {
		c.log.Errorf("mark part %d completed for %s: %v", req.PartIndex, req.ItemID, err)
	}

	completedMsg := messages.PdfPartConversionCompletedMsg{
		Envelope:   messages.NewEnvelope(messages.PdfPartConversionCompleted, req.ItemID),
		PartIndex:  req.PartIndex,
		TotalParts: req.TotalParts,
	}
	completedBody, err := json.Marshal(completedMsg)
	if err != nil {
		return fmt.Errorf("conversion: encode part completed: %w", err)
	}
	if err := c.dep.Broker.PublishRequest(ctx, "pdf.part.conversion.completed", messages.PdfPartConversionCompleted, completedBody, messages.PriorityNormal); err != nil {
		return fmt.Errorf("conversion: publish part completed: %w", err)
	}

	return c.maybeTriggerMerge(ctx, req.ItemID, req.TotalParts)
}

// ensureInitialized initializes the tracker entry for itemID if no entry
// exists yet. The existence check and Initialize are not one atomic step,
// and Initialize replaces any existing entry (resetting every part to
// PartPending); the Splitting Worker initializes the entry before it
// dispatches any part request, so on that path the entry already exists
// and Initialize is not called here.
func (c *Conversion) ensureInitialized(ctx context.Context, itemID string, totalParts int) error {
	if _, err := c.dep.Tracker.GetAllPartStatuses(ctx, itemID); err == nil {
		return nil
	}
	return c.dep.Tracker.Initialize(ctx, itemID, totalParts)
}

// maybeTriggerMerge publishes a merging request once every part has
// completed (spec.md §4.6.2 step 6). The merge is idempotent downstream, so
// this check racing with another part's completion at most triggers an
// extra, harmless merge request (spec.md §9 Open Question #1 resolution).
func (c *Conversion) maybeTriggerMerge(ctx context.Context, itemID string, totalParts int) error {
	allCompleted, err := c.dep.Tracker.AreAllPartsCompleted(ctx, itemID)
	if err != nil {
		return fmt.Errorf("conversion: check completion for %s: %w", itemID, err)
	}
	if !allCompleted {
		return nil
	}

	completed, err := c.dep.Tracker.GetCompletedParts(ctx, itemID)
	if err != nil {
		return fmt.Errorf("conversion: get completed parts for %s: %w", itemID, err)
	}

	msg := messages.PdfMergingRequestMsg{
		Envelope:       messages.NewEnvelope(messages.PdfMergingRequest, itemID),
		TotalParts:     totalParts,
		CompletedParts: len(completed),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("conversion: encode merging request: %w", err)
	}
	return c.dep.Broker.PublishRequest(ctx, "pdf.merging.request", messages.PdfMergingRequest, body, messages.PriorityNormal)
}

func (c *Conversion) failPart(ctx context.Context, req messages.PdfPartConversionRequestMsg, kind ErrorKind, cause error) error {
	c.log.Errorf("part %d conversion failed for item %s: %v", req.PartIndex, req.ItemID, cause)

	retry, _ := decideRetry(req.RetryCount, req.MaxRetries, kind)
	if retry {
		retried := req
		retried.Envelope = req.Envelope.Retried()
		retried.Envelope.EventType = messages.PdfPartConversionRequest
		body, err := json.Marshal(retried)
		if err != nil {
			return fmt.Errorf("conversion: encode part retry: %w", err)
		}
		metrics.RetriesPublished.WithLabelValues(string(messages.PdfPartConversionRequest)).Inc()
		return c.dep.Broker.PublishRequest(ctx, "pdf.part.conversion.request", messages.PdfPartConversionRequest, body, messages.PriorityNormal)
	}

	if err := c.dep.Tracker.UpdatePartStatus(ctx, req.ItemID, req.PartIndex, tracker.PartFailed, cause.Error()); err != nil {
		c.log.Errorf("mark part %d failed for %s: %v", req.PartIndex, req.ItemID, err)
	}

	msg := messages.PdfPartConversionFailedMsg{
		Envelope:  messages.NewEnvelope(messages.PdfPartConversionFailed, req.ItemID),
		PartIndex: req.PartIndex,
		Error:     cause.Error(),
		CanRetry:  false,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("conversion: encode part failed: %w", err)
	}
	if err := c.dep.Broker.PublishRequest(ctx, "pdf.part.conversion.failed", messages.PdfPartConversionFailed, body, messages.PriorityNormal); err != nil {
		return fmt.Errorf("conversion: publish part failed: %w", err)
	}

	if _, err := c.dep.Items.UpdateMetadata(ctx, req.ItemID, func(it *item.Item) {
		it.ProcessingStatus = item.StatusFailed
		it.ProcessingError = cause.Error()
	}); err != nil {
		c.log.Errorf("update item %s to failed: %v", req.ItemID, err)
	}

	return nil
}
