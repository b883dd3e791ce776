// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package item

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteStore is the production Store, grounded on the same
// mattn/go-sqlite3 usage as package tracker's backends.
type sqliteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if necessary) a Store at dsn.
func NewSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("item: open sqlite %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	const schema = `
CREATE TABLE IF NOT EXISTS items (
	item_id   TEXT PRIMARY KEY,
	document  TEXT NOT NULL,
	markdown  TEXT
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("item: create schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

type wireMetadata struct {
	PageCount int     `json:"pageCount"`
	SizeBytes int64   `json:"sizeBytes"`
	Title     *string `json:"title,omitempty"`
}

type wireItem struct {
	ItemID             string        `json:"itemId"`
	ObjectKey          string        `json:"objectKey"`
	ProcessingStatus   string        `json:"processingStatus"`
	ProcessingMessage  string        `json:"processingMessage,omitempty"`
	ProcessingError    string        `json:"processingError,omitempty"`
	ProcessingProgress int           `json:"processingProgress"`
	RetryCount         int           `json:"retryCount"`
	CreatedAt          int64         `json:"createdAt"`
	UpdatedAt          int64         `json:"updatedAt"`
	PdfMetadata        *wireMetadata `json:"pdfMetadata,omitempty"`
}

func toWire(it Item) wireItem {
	w := wireItem{
		ItemID:             it.ItemID,
		ObjectKey:          it.ObjectKey,
		ProcessingStatus:   string(it.ProcessingStatus),
		ProcessingMessage:  it.ProcessingMessage,
		ProcessingError:    it.ProcessingError,
		ProcessingProgress: it.ProcessingProgress,
		RetryCount:         it.RetryCount,
		CreatedAt:          it.CreatedAt.UnixMilli(),
		UpdatedAt:          it.UpdatedAt.UnixMilli(),
	}
	if it.PdfMetadata != nil {
		w.PdfMetadata = &wireMetadata{PageCount: it.PdfMetadata.PageCount, SizeBytes: it.PdfMetadata.SizeBytes, Title: it.PdfMetadata.Title}
	}
	return w
}

func fromWire(w wireItem) Item {
	it := Item{
		ItemID:             w.ItemID,
		ObjectKey:          w.ObjectKey,
		ProcessingStatus:   ProcessingStatus(w.ProcessingStatus),
		ProcessingMessage:  w.ProcessingMessage,
		ProcessingError:    w.ProcessingError,
		ProcessingProgress: w.ProcessingProgress,
		RetryCount:         w.RetryCount,
		CreatedAt:          time.UnixMilli(w.CreatedAt),
		UpdatedAt:          time.UnixMilli(w.UpdatedAt),
	}
	if w.PdfMetadata != nil {
		it.PdfMetadata = &PdfMetadata{PageCount: w.PdfMetadata.PageCount, SizeBytes: w.PdfMetadata.SizeBytes, Title: w.PdfMetadata.Title}
	}
	return it
}

func (s *sqliteStore) GetMetadata(ctx context.Context, itemID string) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM items WHERE item_id = ?`, itemID)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return Item{}, &ErrNotFound{ItemID: itemID}
		}
		return Item{}, err
	}
	var w wireItem
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return Item{}, err
	}
	return fromWire(w), nil
}

func (s *sqliteStore) UpdateMetadata(ctx context.Context, itemID string, mutate func(*Item)) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, err
	}
	defer tx.Rollback()

	var it Item
	row := tx.QueryRowContext(ctx, `SELECT document FROM items WHERE item_id = ?`, itemID)
	var doc string
	switch err := row.Scan(&doc); err {
	case nil:
		var w wireItem
		if err := json.Unmarshal([]byte(doc), &w); err != nil {
			return Item{}, err
		}
		it = fromWire(w)
	case sql.ErrNoRows:
		now := time.Now()
		it = Item{ItemID: itemID, ProcessingStatus: StatusPending, CreatedAt: now}
	default:
		return Item{}, err
	}

	mutate(&it)
	it.UpdatedAt = time.Now()

	out, err := json.Marshal(toWire(it))
	if err != nil {
		return Item{}, err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO items (item_id, document) VALUES (?, ?)
ON CONFLICT(item_id) DO UPDATE SET document=excluded.document`, itemID, string(out)); err != nil {
		return Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return Item{}, err
	}
	// Return the item as persisted (millisecond timestamps), so it equals
	// what a later GetMetadata reads back.
	return fromWire(toWire(it)), nil
}

func (s *sqliteStore) GetMarkdown(ctx context.Context, itemID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT markdown FROM items WHERE item_id = ?`, itemID)
	var md sql.NullString
	if err := row.Scan(&md); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return md.String, md.Valid, nil
}

func (s *sqliteStore) SaveMarkdown(ctx context.Context, itemID string, markdown string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO items (item_id, document, markdown) VALUES (?, '{}', ?)
ON CONFLICT(item_id) DO UPDATE SET markdown=excluded.markdown`, itemID, markdown)
	return err
}
