// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergePartsOrdersByNumericLabelNotTextOrder(t *testing.T) {
	content := "--- PART 2 ---\nsecond\n--- PART 1 ---\nfirst"
	got := mergeParts(content)
	assert.Equal(t, "# Merged PDF Document\n\nThis document was produced by merging 2 PDF parts.\n\nfirst\nsecond", got)
}

func TestMergePartsDropsEmptyChunks(t *testing.T) {
	content := "--- PART 1 ---\nfirst\n--- PART 2 ---\n   \n--- PART 3 ---\nthird"
	got := mergeParts(content)
	assert.Equal(t, "# Merged PDF Document\n\nThis document was produced by merging 2 PDF parts.\n\nfirst\nthird", got)
}

func TestMergePartsNoMarkersPassesThroughUnchanged(t *testing.T) {
	content := "just a single document with no markers at all"
	got := mergeParts(content)
	assert.Equal(t, content, got)
}

func TestMergePartsZeroNonEmptyPartsStillGetsHeader(t *testing.T) {
	content := "--- PART 1 ---\n   \n--- PART 2 ---\n\t\n"
	got := mergeParts(content)
	assert.Equal(t, "# Merged PDF Document\n\nThis document was produced by merging 0 PDF parts.", got)
}

func TestMergePartsJoinsLongChunksWithBlankLine(t *testing.T) {
	long1 := strings.Repeat("a", 150)
	long2 := strings.Repeat("b", 150)
	content := "--- PART 1 ---\n" + long1 + "\n--- PART 2 ---\n" + long2
	got := mergeParts(content)
	assert.Equal(t, "# Merged PDF Document\n\nThis document was produced by merging 2 PDF parts.\n\n"+long1+"\n\n"+long2, got)
}

func TestMergePartsJoinsShortChunksWithSingleNewline(t *testing.T) {
	content := "--- PART 1 ---\nshort one\n--- PART 2 ---\nshort two"
	got := mergeParts(content)
	assert.Equal(t, "# Merged PDF Document\n\nThis document was produced by merging 2 PDF parts.\n\nshort one\nshort two", got)
}

func TestMergePartsCollapsesExcessNewlines(t *testing.T) {
	content := "--- PART 1 ---\nfirst\n\n\n\n--- PART 2 ---\nsecond"
	got := mergeParts(content)
	assert.NotContains(t, got, "\n\n\n")
}

func TestMergePartsIsIdempotent(t *testing.T) {
	content := "--- PART 1 ---\nfirst\n--- PART 2 ---\nsecond"
	first := mergeParts(content)
	second := mergeParts(content)
	assert.Equal(t, first, second)
}

func TestMergePartsUnlabeledLeadingContentSortsFirst(t *testing.T) {
	content := "preamble text\n--- PART 5 ---\nlater part"
	got := mergeParts(content)
	assert.True(t, strings.Index(got, "preamble") < strings.Index(got, "later part"))
}

func TestGraphemeLenCountsClustersNotBytes(t *testing.T) {
	assert.Equal(t, 1, graphemeLen("é"))
	assert.Equal(t, 5, graphemeLen("hello"))
}
