// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package tracker implements the Part Tracker (spec.md §4.2): the
// persistent, concurrency-safe per-item record of every part's status and
// the single source of truth for "is this item done?".
//
// Grounded on components/tracker.go (teacher): the set/map-plus-mutex shape
// generalizes from a flat alive-id set to the full per-item part state
// machine spec.md §3/§4.2 requires.
package tracker

import (
	"context"
	"time"
)

// PartStatus is the status of a single part (spec.md §3).
type PartStatus string

const (
	PartPending    PartStatus = "pending"
	PartProcessing PartStatus = "processing"
	PartCompleted  PartStatus = "completed"
	PartFailed     PartStatus = "failed"
)

// AggregateStatus is the per-item status computed deterministically from
// its parts (spec.md §3).
type AggregateStatus string

const (
	AggregatePending    AggregateStatus = "pending"
	AggregateProcessing AggregateStatus = "processing"
	AggregateCompleted  AggregateStatus = "completed"
	AggregateFailed     AggregateStatus = "failed"
)

// Part is the persisted state of one part.
type Part struct {
	Index      int
	Status     PartStatus
	StartTime  *time.Time
	EndTime    *time.Time
	Error      string
	RetryCount int
}

// State is the persisted per-item record: all parts plus the derived
// aggregate.
type State struct {
	ItemID     string
	TotalParts int
	Parts      []Part
	Aggregate  AggregateStatus
	EndTime    *time.Time // set when Aggregate becomes completed
}

// FailedPartDetail is one entry of getFailedPartsDetails.
type FailedPartDetail struct {
	Index      int
	Error      string
	RetryCount int
}

// Tracker is the Part Tracker interface of spec.md §4.2. Implementations
// must make updatePartStatus linearizable across distinct part indices of
// the same itemId (spec.md §4.2 Concurrency contract).
type Tracker interface {
	// Initialize atomically replaces any prior entry for itemID, creating
	// total parts in PartPending with aggregate AggregatePending.
	Initialize(ctx context.Context, itemID string, total int) error

	// UpdatePartStatus atomically transitions part index of itemID,
	// setting StartTime on the first transition to PartProcessing and
	// EndTime on any terminal status, then recomputes the aggregate
	// (setting the item's EndTime when the aggregate becomes completed).
	UpdatePartStatus(ctx context.Context, itemID string, index int, status PartStatus, errMsg string) error

	// AreAllPartsCompleted reports whether every part of itemID is
	// PartCompleted.
	AreAllPartsCompleted(ctx context.Context, itemID string) (bool, error)

	// HasAnyPartFailed reports whether at least one part of itemID is
	// PartFailed.
	HasAnyPartFailed(ctx context.Context, itemID string) (bool, error)

	// GetCompletedParts returns the indices of completed parts.
	GetCompletedParts(ctx context.Context, itemID string) ([]int, error)

	// GetFailedParts returns the indices of failed parts.
	GetFailedParts(ctx context.Context, itemID string) ([]int, error)

	// GetFailedPartsDetails returns failed parts with their error and
	// retry count.
	GetFailedPartsDetails(ctx context.Context, itemID string) ([]FailedPartDetail, error)

	// GetAllPartStatuses returns the full per-item state.
	GetAllPartStatuses(ctx context.Context, itemID string) (State, error)

	// RetryFailedParts sets every PartFailed part back to PartPending,
	// increments its RetryCount, clears its error, and recomputes the
	// aggregate. It returns the indices reset.
	RetryFailedParts(ctx context.Context, itemID string) ([]int, error)

	// CleanupPdfProcessing deletes the entry for itemID.
	CleanupPdfProcessing(ctx context.Context, itemID string) error
}

// ErrNotFound is returned by read/update operations for an itemID with no
// tracked entry.
type ErrNotFound struct{ ItemID string }

func (e *ErrNotFound) Error() string { return "tracker: no entry for item " + e.ItemID }

// ErrPartIndexOutOfRange is returned by UpdatePartStatus for an index
// outside [0, totalParts).
type ErrPartIndexOutOfRange struct {
	ItemID string
	Index  int
	Total  int
}

func (e *ErrPartIndexOutOfRange) Error() string {
	return "tracker: part index out of range for item " + e.ItemID
}

// computeAggregate implements spec.md §3's aggregate rule:
//   - completed iff every part is Completed.
//   - failed iff at least one part is Failed AND no part is Processing or
//     Pending.
//   - otherwise processing if anything non-terminal exists and at least one
//     part has started (is Processing, Completed, or Failed).
//   - otherwise pending.
func computeAggregate(parts []Part) AggregateStatus {
	completed, failed, processing, pending := 0, 0, 0, 0
	for _, p := range parts {
		switch p.Status {
		case PartCompleted:
			completed++
		case PartFailed:
			failed++
		case PartProcessing:
			processing++
		default:
			pending++
		}
	}

	total := len(parts)
	if completed == total {
		return AggregateCompleted
	}
	if failed > 0 && processing == 0 && pending == 0 {
		return AggregateFailed
	}
	if processing > 0 || completed > 0 || failed > 0 {
		return AggregateProcessing
	}
	return AggregatePending
}
