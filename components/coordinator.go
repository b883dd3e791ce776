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
)

// Coordinator is the Coordinator Worker of spec.md §4.4: it consumes
// analysis outcomes and dispatches exactly one of a splitting or a
// whole-PDF conversion request, and is the sole writer of the item's
// Processing transition (spec.md §4.4 step 1).
//
// Grounded on the teacher's components/coordinator.go: that Coordinator
// consumed one upstream signal (worker/coordinator announcements) and
// produced exactly one downstream action per input, the same one-in/
// one-out dispatch shape this Coordinator uses for analysis outcomes.
type Coordinator struct {
	id  string
	log *clog.CLogger
	dep Deps
}

// NewCoordinator constructs a Coordinator ready for Run.
func NewCoordinator(dep Deps) *Coordinator {
	id := newID()
	return &Coordinator{id: id, log: newLogger(RoleCoordinator, id), dep: dep}
}

// Run consumes pdf-analysis-completed and pdf-analysis-failed until ctx is
// canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.dep.Broker.Consume(ctx, "pdf-analysis-completed", c.handleCompleted); err != nil {
		return err
	}
	if err := c.dep.Broker.Consume(ctx, "pdf-analysis-failed", c.handleFailed); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *Coordinator) handleCompleted(ctx context.Context, eventType messages.EventType, body []byte) error {
	if eventType != messages.PdfAnalysisCompleted {
		return fmt.Errorf("coordinator: unexpected event type %s", eventType)
	}

	var evt messages.PdfAnalysisCompletedMsg
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("coordinator: decode analysis completed: %w", err)
	}

	if _, err := c.dep.Items.UpdateMetadata(ctx, evt.ItemID, func(it *item.Item) {
		it.ProcessingStatus = item.StatusProcessing
		it.ProcessingProgress = 20
	}); err != nil {
		c.log.Errorf("update item %s to processing: %v", evt.ItemID, err)
	}

	if evt.RequiresSplitting {
		return c.dispatchSplitting(ctx, evt)
	}
	return c.dispatchConversion(ctx, evt)
}

func (c *Coordinator) dispatchSplitting(ctx context.Context, evt messages.PdfAnalysisCompletedMsg) error {
	if _, err := c.dep.Items.UpdateMetadata(ctx, evt.ItemID, func(it *item.Item) {
		it.ProcessingStatus = item.StatusSplitting
	}); err != nil {
		c.log.Errorf("update item %s to splitting: %v", evt.ItemID, err)
	}

	msg := messages.PdfSplittingRequestMsg{
		Envelope:  messages.NewEnvelope(messages.PdfSplittingRequest, evt.ItemID),
		ObjectKey: evt.ObjectKey,
		PageCount: evt.PageCount,
		SplitSize: evt.SuggestedSplitSize,
		Metadata:  evt.PdfMetadata,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("coordinator: encode splitting request: %w", err)
	}
	c.log.Printf("item %s requires splitting (%d pages): dispatching splitting request", evt.ItemID, evt.PageCount)
	return c.dep.Broker.PublishRequest(ctx, "pdf.splitting.request", messages.PdfSplittingRequest, body, messages.PriorityNormal)
}

func (c *Coordinator) dispatchConversion(ctx context.Context, evt messages.PdfAnalysisCompletedMsg) error {
	msg := messages.PdfConversionRequestMsg{
		Envelope:  messages.NewEnvelope(messages.PdfConversionRequest, evt.ItemID),
		ObjectKey: evt.ObjectKey,
		Metadata:  evt.PdfMetadata,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("coordinator: encode conversion request: %w", err)
	}
	c.log.Printf("item %s does not require splitting (%d pages): dispatching conversion request", evt.ItemID, evt.PageCount)
	return c.dep.Broker.PublishRequest(ctx, "pdf.conversion.request", messages.PdfConversionRequest, body, messages.PriorityNormal)
}

func (c *Coordinator) handleFailed(ctx context.Context, eventType messages.EventType, body []byte) error {
	if eventType != messages.PdfAnalysisFailed {
		return fmt.Errorf("coordinator: unexpected event type %s", eventType)
	}

	var evt messages.PdfAnalysisFailedMsg
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("coordinator: decode analysis failed: %w", err)
	}

	if _, err := c.dep.Items.UpdateMetadata(ctx, evt.ItemID, func(it *item.Item) {
		it.ProcessingStatus = item.StatusFailed
		it.ProcessingError = evt.Error
	}); err != nil {
		c.log.Errorf("update item %s to failed: %v", evt.ItemID, err)
	}
	c.log.Printf("item %s analysis failed terminally: %s", evt.ItemID, evt.Error)
	return nil
}
