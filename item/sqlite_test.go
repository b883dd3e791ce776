// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package item

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreConformance(t *testing.T) {
	runConformance(t, func() Store {
		s, err := NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return s
	})
}
