// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFilesystemStoreUploadAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key, err := s.UploadPdf(ctx, "item-1/source.pdf", []byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	assert.Equal(t, "item-1/source.pdf", key)

	data, err := s.GetPdf(ctx, "item-1/source.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 fake"), data)
}

func TestFilesystemStoreGetMissingKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetPdf(ctx, "never/uploaded.pdf")
	require.Error(t, err)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestFilesystemStoreDownloadUrlRejectsMissingKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetPdfDownloadUrl(ctx, "missing.pdf", 60)
	require.Error(t, err)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestFilesystemStoreDownloadUrlIncludesExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.UploadPdf(ctx, "item-2/source.pdf", []byte("data"))
	require.NoError(t, err)

	url, err := s.GetPdfDownloadUrl(ctx, "item-2/source.pdf", 120)
	require.NoError(t, err)
	assert.Contains(t, url, "file://")
	assert.Contains(t, url, "expires=")
}

func TestFilesystemStoreRejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UploadPdf(ctx, "../../etc/passwd", []byte("nope"))
	require.Error(t, err)
}
