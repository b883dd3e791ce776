// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// sqliteDocumentBackend is the "document database" Part Tracker backend:
// one row per item holding the whole per-item state as a single JSON
// document column, the selector value "document" in spec.md §6.4.
type sqliteDocumentBackend struct {
	db *sql.DB
	txGuard
}

// NewSQLiteDocument opens (creating if necessary) a document-style Tracker
// backend at dsn.
func NewSQLiteDocument(dsn string) (Tracker, error) {
	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS tracker_items (
	item_id     TEXT PRIMARY KEY,
	total_parts INTEGER NOT NULL,
	aggregate   TEXT NOT NULL,
	end_time    INTEGER,
	document    TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker: create schema: %w", err)
	}
	return &sqliteDocumentBackend{db: db}, nil
}

func (b *sqliteDocumentBackend) Initialize(ctx context.Context, itemID string, total int) error {
	parts := make([]Part, total)
	for i := range parts {
		parts[i] = Part{Index: i, Status: PartPending}
	}
	doc, err := partsJSON(parts)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
INSERT INTO tracker_items (item_id, total_parts, aggregate, end_time, document)
VALUES (?, ?, ?, NULL, ?)
ON CONFLICT(item_id) DO UPDATE SET total_parts=excluded.total_parts, aggregate=excluded.aggregate, end_time=NULL, document=excluded.document`,
		itemID, total, string(AggregatePending), doc)
	return err
}

func (b *sqliteDocumentBackend) loadState(ctx context.Context, tx *sql.Tx, itemID string) (*State, error) {
	row := tx.QueryRowContext(ctx, `SELECT total_parts, aggregate, end_time, document FROM tracker_items WHERE item_id = ?`, itemID)
	var total int
	var aggregate string
	var endTime sql.NullInt64
	var doc string
	if err := row.Scan(&total, &aggregate, &endTime, &doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{ItemID: itemID}
		}
		return nil, err
	}
	parts, err := parseParts(doc)
	if err != nil {
		return nil, err
	}
	return &State{ItemID: itemID, TotalParts: total, Parts: parts, Aggregate: AggregateStatus(aggregate), EndTime: fromMillis(endTime)}, nil
}

func (b *sqliteDocumentBackend) saveState(ctx context.Context, tx *sql.Tx, st *State) error {
	doc, err := partsJSON(st.Parts)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tracker_items SET aggregate=?, end_time=?, document=? WHERE item_id=?`,
		string(st.Aggregate), millis(st.EndTime), doc, st.ItemID)
	return err
}

func (b *sqliteDocumentBackend) UpdatePartStatus(ctx context.Context, itemID string, index int, status PartStatus, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	st, err := b.loadState(ctx, tx, itemID)
	if err != nil {
		return err
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

	if err := b.saveState(ctx, tx, st); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *sqliteDocumentBackend) AreAllPartsCompleted(ctx context.Context, itemID string) (bool, error) {
	st, err := b.readState(ctx, itemID)
	if err != nil {
		return false, err
	}
	return st.Aggregate == AggregateCompleted, nil
}

func (b *sqliteDocumentBackend) HasAnyPartFailed(ctx context.Context, itemID string) (bool, error) {
	st, err := b.readState(ctx, itemID)
	if err != nil {
		return false, err
	}
	for _, p := range st.Parts {
		if p.Status == PartFailed {
			return true, nil
		}
	}
	return false, nil
}

func (b *sqliteDocumentBackend) readState(ctx context.Context, itemID string) (*State, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return b.loadState(ctx, tx, itemID)
}

func (b *sqliteDocumentBackend) GetCompletedParts(ctx context.Context, itemID string) ([]int, error) {
	return indicesWithStatus(ctx, b, itemID, PartCompleted)
}

func (b *sqliteDocumentBackend) GetFailedParts(ctx context.Context, itemID string) ([]int, error) {
	return indicesWithStatus(ctx, b, itemID, PartFailed)
}

func indicesWithStatus(ctx context.Context, b *sqliteDocumentBackend, itemID string, status PartStatus) ([]int, error) {
	st, err := b.readState(ctx, itemID)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, p := range st.Parts {
		if p.Status == status {
			out = append(out, p.Index)
		}
	}
	return out, nil
}

func (b *sqliteDocumentBackend) GetFailedPartsDetails(ctx context.Context, itemID string) ([]FailedPartDetail, error) {
	st, err := b.readState(ctx, itemID)
	if err != nil {
		return nil, err
	}
	var out []FailedPartDetail
	for _, p := range st.Parts {
		if p.Status == PartFailed {
			out = append(out, FailedPartDetail{Index: p.Index, Error: p.Error, RetryCount: p.RetryCount})
		}
	}
	return out, nil
}

func (b *sqliteDocumentBackend) GetAllPartStatuses(ctx context.Context, itemID string) (State, error) {
	st, err := b.readState(ctx, itemID)
	if err != nil {
		return State{}, err
	}
	return *st, nil
}

func (b *sqliteDocumentBackend) RetryFailedParts(ctx context.Context, itemID string) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	st, err := b.loadState(ctx, tx, itemID)
	if err != nil {
		return nil, err
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

	if err := b.saveState(ctx, tx, st); err != nil {
		return nil, err
	}
	return reset, tx.Commit()
}

func (b *sqliteDocumentBackend) CleanupPdfProcessing(ctx context.Context, itemID string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM tracker_items WHERE item_id = ?`, itemID)
	return err
}
