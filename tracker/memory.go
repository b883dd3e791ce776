// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package tracker

import (
	"context"
	"sync"
	"time"
)

// memoryBackend is a process-local Tracker backed by a map guarded by a
// single mutex. It is not one of the two startup-selectable production
// backends (see sqliteDocumentBackend / sqliteSearchIndexBackend) but
// satisfies the same interface and backs unit tests and local/dev runs,
// mirroring the teacher's components/tracker.go Tracker, which guards a
// flat id set the same way.
type memoryBackend struct {
	mu      sync.Mutex
	entries map[string]*State
}

// NewMemory returns an in-memory Tracker.
func NewMemory() Tracker {
	return &memoryBackend{entries: make(map[string]*State)}
}

func (m *memoryBackend) Initialize(ctx context.Context, itemID string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := make([]Part, total)
	for i := range parts {
		parts[i] = Part{Index: i, Status: PartPending}
	}
	m.entries[itemID] = &State{
		ItemID:     itemID,
		TotalParts: total,
		Parts:      parts,
		Aggregate:  AggregatePending,
	}
	return nil
}

func (m *memoryBackend) UpdatePartStatus(ctx context.Context, itemID string, index int, status PartStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.entries[itemID]
	if !ok {
		return &ErrNotFound{ItemID: itemID}
	}
	if index < 0 || index >= st.TotalParts {
		return &ErrPartIndexOutOfRange{ItemID: itemID, Index: index, Total: st.TotalParts}
	}

	now := time.Now()
	p := &st.Parts[index]
	if status == PartProcessing && p.StartTime == nil {
		p.StartTime = &now
	}
	if isTerminal(status) {
		p.EndTime = &now
	}
	p.Status = status
	p.Error = errMsg

	st.Aggregate = computeAggregate(st.Parts)
	if st.Aggregate == AggregateCompleted && st.EndTime == nil {
		st.EndTime = &now
	}
	return nil
}

func isTerminal(s PartStatus) bool {
	return s == PartCompleted || s == PartFailed
}

func (m *memoryBackend) AreAllPartsCompleted(ctx context.Context, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entries[itemID]
	if !ok {
		return false, &ErrNotFound{ItemID: itemID}
	}
	return st.Aggregate == AggregateCompleted, nil
}

func (m *memoryBackend) HasAnyPartFailed(ctx context.Context, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entries[itemID]
	if !ok {
		return false, &ErrNotFound{ItemID: itemID}
	}
	for _, p := range st.Parts {
		if p.Status == PartFailed {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryBackend) GetCompletedParts(ctx context.Context, itemID string) ([]int, error) {
	return m.indicesWithStatus(itemID, PartCompleted)
}

func (m *memoryBackend) GetFailedParts(ctx context.Context, itemID string) ([]int, error) {
	return m.indicesWithStatus(itemID, PartFailed)
}

func (m *memoryBackend) indicesWithStatus(itemID string, status PartStatus) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entries[itemID]
	if !ok {
		return nil, &ErrNotFound{ItemID: itemID}
	}
	var out []int
	for _, p := range st.Parts {
		if p.Status == status {
			out = append(out, p.Index)
		}
	}
	return out, nil
}

func (m *memoryBackend) GetFailedPartsDetails(ctx context.Context, itemID string) ([]FailedPartDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entries[itemID]
	if !ok {
		return nil, &ErrNotFound{ItemID: itemID}
	}
	var out []FailedPartDetail
	for _, p := range st.Parts {
		if p.Status == PartFailed {
			out = append(out, FailedPartDetail{Index: p.Index, Error: p.Error, RetryCount: p.RetryCount})
		}
	}
	return out, nil
}

func (m *memoryBackend) GetAllPartStatuses(ctx context.Context, itemID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entries[itemID]
	if !ok {
		return State{}, &ErrNotFound{ItemID: itemID}
	}
	return cloneState(st), nil
}

func (m *memoryBackend) RetryFailedParts(ctx context.Context, itemID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entries[itemID]
	if !ok {
		return nil, &ErrNotFound{ItemID: itemID}
	}
	var reset []int
	for i := range st.Parts {
		p := &st.Parts[i]
		if p.Status == PartFailed {
			p.Status = PartPending
			p.RetryCount++
			p.Error = ""
			p.StartTime = nil
			p.EndTime = nil
			reset = append(reset, p.Index)
		}
	}
	st.Aggregate = computeAggregate(st.Parts)
	return reset, nil
}

func (m *memoryBackend) CleanupPdfProcessing(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, itemID)
	return nil
}

func cloneState(st *State) State {
	parts := make([]Part, len(st.Parts))
	copy(parts, st.Parts)
	return State{
		ItemID:     st.ItemID,
		TotalParts: st.TotalParts,
		Parts:      parts,
		Aggregate:  st.Aggregate,
		EndTime:    st.EndTime,
	}
}
