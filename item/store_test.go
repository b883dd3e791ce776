// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package item

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runConformance exercises the Store interface identically against any
// backend, so the SQLite and in-memory implementations are held to the
// same contract.
func runConformance(t *testing.T, newStore func() Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("update metadata creates an item on first use", func(t *testing.T) {
		s := newStore()
		got, err := s.UpdateMetadata(ctx, "item-1", func(it *Item) {
			it.ObjectKey = "uploads/item-1.pdf"
		})
		require.NoError(t, err)
		assert.Equal(t, "item-1", got.ItemID)
		assert.Equal(t, "uploads/item-1.pdf", got.ObjectKey)
		assert.Equal(t, StatusPending, got.ProcessingStatus)
		assert.NotZero(t, got.CreatedAt)
		assert.NotZero(t, got.UpdatedAt)
	})

	t.Run("get metadata returns an unknown item as an error", func(t *testing.T) {
		s := newStore()
		_, err := s.GetMetadata(ctx, "missing")
		require.Error(t, err)
		var notFound *ErrNotFound
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("update metadata mutates an existing item", func(t *testing.T) {
		s := newStore()
		_, err := s.UpdateMetadata(ctx, "item-2", func(it *Item) {
			it.ObjectKey = "uploads/item-2.pdf"
		})
		require.NoError(t, err)

		got, err := s.UpdateMetadata(ctx, "item-2", func(it *Item) {
			it.ProcessingStatus = StatusAnalyzing
			it.ProcessingProgress = 10
		})
		require.NoError(t, err)
		assert.Equal(t, "uploads/item-2.pdf", got.ObjectKey)
		assert.Equal(t, StatusAnalyzing, got.ProcessingStatus)
		assert.Equal(t, 10, got.ProcessingProgress)

		reread, err := s.GetMetadata(ctx, "item-2")
		require.NoError(t, err)
		assert.Equal(t, got, reread)
	})

	t.Run("markdown round trips and reports absence", func(t *testing.T) {
		s := newStore()
		_, ok, err := s.GetMarkdown(ctx, "item-3")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SaveMarkdown(ctx, "item-3", "# Hello\n\nworld"))

		md, ok, err := s.GetMarkdown(ctx, "item-3")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "# Hello\n\nworld", md)

		require.NoError(t, s.SaveMarkdown(ctx, "item-3", "# Replaced"))
		md, ok, err = s.GetMarkdown(ctx, "item-3")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "# Replaced", md)
	})

	t.Run("pdf metadata survives a round trip", func(t *testing.T) {
		s := newStore()
		title := "Annual Report"
		got, err := s.UpdateMetadata(ctx, "item-4", func(it *Item) {
			it.PdfMetadata = &PdfMetadata{PageCount: 42, SizeBytes: 1024, Title: &title}
		})
		require.NoError(t, err)
		require.NotNil(t, got.PdfMetadata)
		assert.Equal(t, 42, got.PdfMetadata.PageCount)
		assert.Equal(t, int64(1024), got.PdfMetadata.SizeBytes)
		require.NotNil(t, got.PdfMetadata.Title)
		assert.Equal(t, "Annual Report", *got.PdfMetadata.Title)
	})
}

func TestMemoryStoreConformance(t *testing.T) {
	runConformance(t, func() Store { return NewMemoryStore() })
}
