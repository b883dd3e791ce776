// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSearchIndexBackendConformance(t *testing.T) {
	runConformance(t, func() Tracker {
		tr, err := NewSQLiteSearchIndex(":memory:")
		require.NoError(t, err)
		return tr
	})
}

func TestSQLiteSearchIndexFailedPartsDetailsJoinsFTSIndex(t *testing.T) {
	ctx := context.Background()
	tr, err := NewSQLiteSearchIndex(":memory:")
	require.NoError(t, err)

	require.NoError(t, tr.Initialize(ctx, "item-fts", 3))
	require.NoError(t, tr.UpdatePartStatus(ctx, "item-fts", 0, PartFailed, "checksum mismatch"))
	require.NoError(t, tr.UpdatePartStatus(ctx, "item-fts", 1, PartFailed, "timeout contacting converter"))
	require.NoError(t, tr.UpdatePartStatus(ctx, "item-fts", 2, PartCompleted, ""))

	details, err := tr.GetFailedPartsDetails(ctx, "item-fts")
	require.NoError(t, err)
	require.Len(t, details, 2)

	byIndex := map[int]FailedPartDetail{}
	for _, d := range details {
		byIndex[d.Index] = d
	}
	assert.Equal(t, "checksum mismatch", byIndex[0].Error)
	assert.Equal(t, "timeout contacting converter", byIndex[1].Error)
}
