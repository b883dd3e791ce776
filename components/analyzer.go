// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/kbpipeline/pdfconvert/clog"
	"github.com/kbpipeline/pdfconvert/item"
	"github.com/kbpipeline/pdfconvert/messages"
	"github.com/kbpipeline/pdfconvert/metrics"
)

// downloadURLTTLSeconds is how long the presigned URL the Analyzer Worker
// requests from the object store stays valid, comfortably longer than the
// fetch-and-analyze timeout below.
const downloadURLTTLSeconds = 120

// analyzeTimeout bounds fetching and analyzing one PDF (spec.md §4.3 step
// 2: "60s timeout").
const analyzeTimeout = 60 * time.Second

// Analyzer is the Analyzer Worker of spec.md §4.3: it resolves the item,
// fetches the PDF, extracts pageCount/metadata, and decides whether
// splitting is required.
type Analyzer struct {
	id  string
	log *clog.CLogger
	dep Deps
}

// NewAnalyzer constructs an Analyzer ready for Run.
func NewAnalyzer(dep Deps) *Analyzer {
	id := newID()
	return &Analyzer{id: id, log: newLogger(RoleAnalyzer, id), dep: dep}
}

// Run consumes pdf-analysis-request until ctx is canceled.
func (a *Analyzer) Run(ctx context.Context) error {
	if err := a.dep.Broker.Consume(ctx, "pdf-analysis-request", a.handle); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *Analyzer) handle(ctx context.Context, eventType messages.EventType, body []byte) error {
	if eventType != messages.PdfAnalysisRequest {
		return fmt.Errorf("analyzer: unexpected event type %s", eventType)
	}

	var req messages.PdfAnalysisRequestMsg
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("analyzer: decode request: %w", err)
	}

	if _, err := a.dep.Items.GetMetadata(ctx, req.ItemID); err != nil {
		var notFound *item.ErrNotFound
		if errors.As(err, &notFound) {
			return a.failNotFound(ctx, req)
		}
		return fmt.Errorf("analyzer: resolve item %s: %w", req.ItemID, err)
	}

	if _, err := a.dep.Items.UpdateMetadata(ctx, req.ItemID, func(it *item.Item) {
		it.ProcessingStatus = item.StatusAnalyzing
		it.ObjectKey = req.ObjectKey
	}); err != nil {
		a.log.Errorf("update item %s to analyzing: %v", req.ItemID, err)
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	pageCount, sizeBytes, kind, err := a.analyze(analyzeCtx, req.ObjectKey)
	if err != nil {
		return a.fail(ctx, req, kind, err)
	}

	return a.complete(ctx, req, pageCount, sizeBytes)
}

// analyze requests a presigned download URL (which is only logged), reads
// the PDF bytes through the object store's GetPdf, and returns its page
// count and size, the two facts downstream workers need (spec.md §4.3
// steps 2-4). Header metadata such as title or author is not extracted.
// Alongside any error it returns the ErrorKind the failure
// should be retried as: a missing object or an unreadable page count is
// Bad Input, local scratch-file I/O failures are transient.
func (a *Analyzer) analyze(ctx context.Context, objectKey string) (pageCount int, sizeBytes int64, kind ErrorKind, err error) {
	url, err := a.dep.Objects.GetPdfDownloadUrl(ctx, objectKey, downloadURLTTLSeconds)
	if err != nil {
		return 0, 0, classifyObjectErr(err), fmt.Errorf("analyzer: presign %s: %w", objectKey, err)
	}
	a.log.Printf("fetching %s via %s", objectKey, url)

	data, err := a.dep.Objects.GetPdf(ctx, objectKey)
	if err != nil {
		return 0, 0, classifyObjectErr(err), fmt.Errorf("analyzer: fetch %s: %w", objectKey, err)
	}

	tmp, err := os.CreateTemp("", "pdfconvert-analyze-*.pdf")
	if err != nil {
		return 0, 0, ErrTransient, fmt.Errorf("analyzer: create scratch file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return 0, 0, ErrTransient, fmt.Errorf("analyzer: write scratch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, 0, ErrTransient, fmt.Errorf("analyzer: close scratch file: %w", err)
	}

	pageCount, err = api.PageCountFile(tmp.Name())
	if err != nil {
		return 0, 0, ErrBadInput, fmt.Errorf("analyzer: read page count of %s: %w", objectKey, err)
	}

	return pageCount, int64(len(data)), ErrTransient, nil
}

func (a *Analyzer) complete(ctx context.Context, req messages.PdfAnalysisRequestMsg, pageCount int, sizeBytes int64) error {
	requiresSplitting := pageCount > a.dep.Cfg.SplitThreshold

	metadata := messages.PdfMetadata{PageCount: pageCount, FileSize: sizeBytes}

	if _, err := a.dep.Items.UpdateMetadata(ctx, req.ItemID, func(it *item.Item) {
		it.PdfMetadata = &item.PdfMetadata{PageCount: pageCount, SizeBytes: sizeBytes}
		it.ProcessingProgress = 10
	}); err != nil {
		a.log.Errorf("update item %s after analysis: %v", req.ItemID, err)
	}

	msg := messages.PdfAnalysisCompletedMsg{
		Envelope:           messages.NewEnvelope(messages.PdfAnalysisCompleted, req.ItemID),
		ObjectKey:          req.ObjectKey,
		PageCount:          pageCount,
		RequiresSplitting:  requiresSplitting,
		SuggestedSplitSize: a.dep.Cfg.SuggestedSplitSize,
		PdfMetadata:        metadata,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("analyzer: encode completed: %w", err)
	}
	return a.dep.Broker.PublishRequest(ctx, "pdf.analysis.completed", messages.PdfAnalysisCompleted, body, messages.PriorityNormal)
}

// failNotFound implements spec.md §4.3 step 1: an itemId with no resolvable
// item is a permanent precondition failure, not a transient error, so it
// fails terminally without a retry attempt and without touching an item
// record that doesn't exist.
func (a *Analyzer) failNotFound(ctx context.Context, req messages.PdfAnalysisRequestMsg) error {
	cause := fmt.Errorf("analyzer: no item %s", req.ItemID)
	a.log.Errorf("analysis failed for item %s: %v", req.ItemID, cause)

	msg := messages.PdfAnalysisFailedMsg{
		Envelope: messages.NewEnvelope(messages.PdfAnalysisFailed, req.ItemID),
		Error:    cause.Error(),
		CanRetry: false,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("analyzer: encode failed: %w", err)
	}
	return a.dep.Broker.PublishRequest(ctx, "pdf.analysis.failed", messages.PdfAnalysisFailed, body, messages.PriorityNormal)
}

func (a *Analyzer) fail(ctx context.Context, req messages.PdfAnalysisRequestMsg, kind ErrorKind, cause error) error {
	a.log.Errorf("analysis failed for item %s: %v", req.ItemID, cause)

	retry, _ := decideRetry(req.RetryCount, req.MaxRetries, kind)
	if retry {
		retried := req.Envelope.Retried()
		retried.EventType = messages.PdfAnalysisRequest
		next := messages.PdfAnalysisRequestMsg{Envelope: retried, ObjectKey: req.ObjectKey}
		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("analyzer: encode retry: %w", err)
		}
		metrics.RetriesPublished.WithLabelValues(string(messages.PdfAnalysisRequest)).Inc()
		return a.dep.Broker.PublishRequest(ctx, "pdf.analysis.request", messages.PdfAnalysisRequest, body, messages.PriorityNormal)
	}

	if _, err := a.dep.Items.UpdateMetadata(ctx, req.ItemID, func(it *item.Item) {
		it.ProcessingStatus = item.StatusFailed
		it.ProcessingError = cause.Error()
	}); err != nil {
		a.log.Errorf("update item %s to failed: %v", req.ItemID, err)
	}

	msg := messages.PdfAnalysisFailedMsg{
		Envelope: messages.NewEnvelope(messages.PdfAnalysisFailed, req.ItemID),
		Error:    cause.Error(),
		CanRetry: false,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("analyzer: encode failed: %w", err)
	}
	return a.dep.Broker.PublishRequest(ctx, "pdf.analysis.failed", messages.PdfAnalysisFailed, body, messages.PriorityNormal)
}
