// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartAlreadyStoredDetectsExistingBlock(t *testing.T) {
	existing := "\n\n--- PART 1 ---\n\nfirst part\n\n--- PART 2 ---\n\nsecond part"
	assert.True(t, partAlreadyStored(existing, 0))
	assert.True(t, partAlreadyStored(existing, 1))
	assert.False(t, partAlreadyStored(existing, 2))
}

func TestPartAlreadyStoredEmptyExisting(t *testing.T) {
	assert.False(t, partAlreadyStored("", 0))
}

func TestPartAlreadyStoredNoMarkersYet(t *testing.T) {
	assert.False(t, partAlreadyStored("some prior whole-document content", 0))
}
