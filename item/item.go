// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package item models the conversion Item (spec.md §3/§6.3): the
// user-facing record of one PDF's journey through the pipeline, as
// distinct from the internal per-part bookkeeping in package tracker.
package item

import (
	"context"
	"time"
)

// ProcessingStatus is the coarse lifecycle status surfaced to clients of
// the pipeline, independent of the part-level detail tracker.Tracker holds.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusAnalyzing  ProcessingStatus = "analyzing"
	StatusSplitting  ProcessingStatus = "splitting"
	StatusProcessing ProcessingStatus = "processing"
	StatusMerging    ProcessingStatus = "merging"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// PdfMetadata is the subset of PDF properties the Analyzer Worker extracts
// (spec.md §4.3). The Analyzer Worker sets PageCount and SizeBytes; it does
// not set Title.
type PdfMetadata struct {
	PageCount int     `json:"pageCount"`
	SizeBytes int64   `json:"sizeBytes"`
	Title     *string `json:"title,omitempty"`
}

// Item is the persisted per-document record (spec.md §3).
type Item struct {
	ItemID              string           `json:"itemId"`
	ObjectKey           string           `json:"objectKey"`
	ProcessingStatus    ProcessingStatus `json:"processingStatus"`
	ProcessingMessage   string           `json:"processingMessage,omitempty"`
	ProcessingError     string           `json:"processingError,omitempty"`
	ProcessingProgress  int              `json:"processingProgress"`
	RetryCount          int              `json:"retryCount"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
	PdfMetadata         *PdfMetadata     `json:"pdfMetadata,omitempty"`
}

// Store is the persistence contract for Items and their resulting
// markdown, satisfied by a database-backed implementation in production
// and an in-memory one in tests (spec.md §6.3).
type Store interface {
	// GetMetadata returns the Item for itemID.
	GetMetadata(ctx context.Context, itemID string) (Item, error)

	// UpdateMetadata applies mutate to the current Item for itemID and
	// persists the result, bumping UpdatedAt. It creates the Item first if
	// none exists yet.
	UpdateMetadata(ctx context.Context, itemID string, mutate func(*Item)) (Item, error)

	// GetMarkdown returns the stored markdown for itemID, if any.
	GetMarkdown(ctx context.Context, itemID string) (string, bool, error)

	// SaveMarkdown persists markdown for itemID, overwriting any prior
	// value. It is idempotent: saving the same content twice is a no-op.
	SaveMarkdown(ctx context.Context, itemID string, markdown string) error
}

// ErrNotFound is returned for an itemID with no stored Item.
type ErrNotFound struct{ ItemID string }

func (e *ErrNotFound) Error() string { return "item: no entry for item " + e.ItemID }
