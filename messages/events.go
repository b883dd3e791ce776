// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package messages

// PdfMetadata is extracted once during analysis (§3 Item.pdfMetadata) and
// carried downstream so workers never need to re-analyze the source PDF.
// The Analyzer Worker fills PageCount and FileSize; Title, Author and
// CreationDate are left empty.
type PdfMetadata struct {
	PageCount    int    `json:"pageCount"`
	FileSize     int64  `json:"fileSize"`
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	CreationDate string `json:"creationDate,omitempty"`
}

// PdfAnalysisRequestMsg requests analysis of objectKey.
type PdfAnalysisRequestMsg struct {
	Envelope
	ObjectKey string `json:"objectKey"`
}

// PdfAnalysisCompletedMsg reports the outcome of analysis (§4.3 step 5).
type PdfAnalysisCompletedMsg struct {
	Envelope
	ObjectKey          string      `json:"objectKey"`
	PageCount          int         `json:"pageCount"`
	RequiresSplitting  bool        `json:"requiresSplitting"`
	SuggestedSplitSize int         `json:"suggestedSplitSize"`
	PdfMetadata        PdfMetadata `json:"pdfMetadata"`
}

// PdfAnalysisFailedMsg reports that analysis could not complete.
type PdfAnalysisFailedMsg struct {
	Envelope
	Error     string `json:"error"`
	CanRetry  bool   `json:"canRetry"`
}

// PdfSplittingRequestMsg requests that objectKey be split into page-range
// parts (§4.4, §4.5).
type PdfSplittingRequestMsg struct {
	Envelope
	ObjectKey string      `json:"objectKey"`
	PageCount int         `json:"pageCount"`
	SplitSize int         `json:"splitSize"`
	Metadata  PdfMetadata `json:"metadata"`
}

// PdfConversionRequestMsg requests whole-PDF conversion (§4.6.1).
type PdfConversionRequestMsg struct {
	Envelope
	ObjectKey string      `json:"objectKey"`
	Metadata  PdfMetadata `json:"metadata"`
}

// PdfConversionProgressMsg is a transient progress notification. A
// progress of 0 is the status-only sentinel described in spec.md §9.
type PdfConversionProgressMsg struct {
	Envelope
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// PdfConversionCompletedMsg reports a successful conversion or, for the
// Merger (§4.7 step 9), a successful merge.
type PdfConversionCompletedMsg struct {
	Envelope
	Status          string `json:"status"`
	MarkdownContent string `json:"markdownContent,omitempty"`
	ProcessingTime  int64  `json:"processingTimeMs"`
}

// PdfConversionFailedMsg reports that conversion exhausted its retries.
type PdfConversionFailedMsg struct {
	Envelope
	Error    string `json:"error"`
	CanRetry bool   `json:"canRetry"`
}

// PdfPartConversionRequestMsg requests conversion of one page-range part
// (§4.5 step 5, §4.6.2).
type PdfPartConversionRequestMsg struct {
	Envelope
	ObjectKey   string      `json:"objectKey"`
	PartIndex   int         `json:"partIndex"`
	TotalParts  int         `json:"totalParts"`
	StartPage   int         `json:"startPage"` // 1-based inclusive
	EndPage     int         `json:"endPage"`   // 1-based inclusive
	Metadata    PdfMetadata `json:"metadata"`
}

// PdfPartConversionCompletedMsg reports successful conversion of one part.
type PdfPartConversionCompletedMsg struct {
	Envelope
	PartIndex  int `json:"partIndex"`
	TotalParts int `json:"totalParts"`
}

// PdfPartConversionFailedMsg reports that one part exhausted its retries.
type PdfPartConversionFailedMsg struct {
	Envelope
	PartIndex int    `json:"partIndex"`
	Error     string `json:"error"`
	CanRetry  bool   `json:"canRetry"`
}

// PdfMergingRequestMsg requests merging of all completed parts (§4.6.2 step
// 6, §4.7).
type PdfMergingRequestMsg struct {
	Envelope
	TotalParts     int `json:"totalParts"`
	CompletedParts int `json:"completedParts"`
}

// PdfMergingProgressMsg is a transient merge-progress notification (§4.7
// step 8: 80%, then 95%).
type PdfMergingProgressMsg struct {
	Envelope
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// MarkdownStorageMetadata carries the storage-specific fields of §4.6.1 step
// 4 and §4.6.2 step 4.
type MarkdownStorageMetadata struct {
	ProcessingTime int64 `json:"processingTimeMs,omitempty"`
	PartIndex      int   `json:"partIndex,omitempty"`
	IsPart         bool  `json:"isPart,omitempty"`
}

// MarkdownStorageRequestMsg requests that markdownContent be persisted for
// itemId (§4.6.1 step 4, §4.6.2 step 4, §4.7 step 7).
type MarkdownStorageRequestMsg struct {
	Envelope
	MarkdownContent string                  `json:"markdownContent"`
	Metadata        MarkdownStorageMetadata `json:"metadata"`
}

// MarkdownStorageCompletedMsg reports that Markdown was persisted
// successfully; this is the pipeline's handoff point to chunking/embedding
// (out of scope per spec.md §1, not implemented here).
type MarkdownStorageCompletedMsg struct {
	Envelope
	Metadata MarkdownStorageMetadata `json:"metadata"`
}

// MarkdownStorageFailedMsg reports that a storage write exhausted its
// retries.
type MarkdownStorageFailedMsg struct {
	Envelope
	Error    string `json:"error"`
	CanRetry bool   `json:"canRetry"`
}
