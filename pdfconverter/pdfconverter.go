// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package pdfconverter abstracts the external PDF-to-markdown converter
// the Conversion Worker calls out to (spec.md §4.6.1/§9).
package pdfconverter

import "context"

// Result is the normalized outcome of a conversion call. Data holds the
// extracted markdown regardless of which shape the underlying converter
// returned it in.
type Result struct {
	Success bool
	Data    string
	TaskID  string
	Error   string
}

// Converter calls out to an external PDF-to-markdown conversion service.
type Converter interface {
	// ConvertFromUrl submits presignedURL, a time-limited URL to the PDF
	// bytes, for conversion and returns the normalized Result.
	ConvertFromUrl(ctx context.Context, presignedURL string) (Result, error)
}
