// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteDocumentBackendConformance(t *testing.T) {
	runConformance(t, func() Tracker {
		tr, err := NewSQLiteDocument(":memory:")
		require.NoError(t, err)
		return tr
	})
}
