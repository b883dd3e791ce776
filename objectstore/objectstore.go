// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package objectstore abstracts the blob store that holds source PDFs and
// split parts (spec.md §6.3); markdown is stored through package item. Production deployments
// point it at an S3-compatible bucket; a filesystem-backed implementation
// serves local/dev runs and tests.
package objectstore

import "context"

// Store is the object storage contract the pipeline's workers use to move
// PDF bytes and presigned URLs around without depending on a specific
// backend.
type Store interface {
	// UploadPdf stores data under key and returns the key it was stored
	// under (callers pass the key they want; implementations that shard or
	// namespace keys may return a different one).
	UploadPdf(ctx context.Context, key string, data []byte) (string, error)

	// GetPdf retrieves the bytes stored under key.
	GetPdf(ctx context.Context, key string) ([]byte, error)

	// GetPdfDownloadUrl returns a time-limited URL the Analyzer/Splitting/
	// Conversion workers can use to fetch the object without holding
	// store credentials themselves (spec.md §4.3/§4.6).
	GetPdfDownloadUrl(ctx context.Context, key string, ttlSeconds int) (string, error)
}

// ErrNotFound is returned by GetPdf/GetPdfDownloadUrl for an unknown key.
type ErrNotFound struct{ Key string }

func (e *ErrNotFound) Error() string { return "objectstore: no object " + e.Key }
