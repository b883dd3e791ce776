// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runConformance exercises the Tracker interface identically against any
// backend, so the document, search-index, and in-memory implementations are
// held to the same contract (spec.md §4.2).
func runConformance(t *testing.T, newTracker func() Tracker) {
	t.Helper()
	ctx := context.Background()

	t.Run("initialize creates pending parts", func(t *testing.T) {
		tr := newTracker()
		require.NoError(t, tr.Initialize(ctx, "item-1", 3))

		st, err := tr.GetAllPartStatuses(ctx, "item-1")
		require.NoError(t, err)
		assert.Equal(t, 3, st.TotalParts)
		assert.Equal(t, AggregatePending, st.Aggregate)
		for _, p := range st.Parts {
			assert.Equal(t, PartPending, p.Status)
		}
	})

	t.Run("aggregate transitions as parts complete", func(t *testing.T) {
		tr := newTracker()
		require.NoError(t, tr.Initialize(ctx, "item-2", 2))

		require.NoError(t, tr.UpdatePartStatus(ctx, "item-2", 0, PartProcessing, ""))
		st, err := tr.GetAllPartStatuses(ctx, "item-2")
		require.NoError(t, err)
		assert.Equal(t, AggregateProcessing, st.Aggregate)
		assert.NotNil(t, st.Parts[0].StartTime)

		require.NoError(t, tr.UpdatePartStatus(ctx, "item-2", 0, PartCompleted, ""))
		require.NoError(t, tr.UpdatePartStatus(ctx, "item-2", 1, PartCompleted, ""))

		all, err := tr.AreAllPartsCompleted(ctx, "item-2")
		require.NoError(t, err)
		assert.True(t, all)

		st, err = tr.GetAllPartStatuses(ctx, "item-2")
		require.NoError(t, err)
		assert.Equal(t, AggregateCompleted, st.Aggregate)
		assert.NotNil(t, st.EndTime)
	})

	t.Run("aggregate is failed only once nothing is pending or processing", func(t *testing.T) {
		tr := newTracker()
		require.NoError(t, tr.Initialize(ctx, "item-3", 2))

		require.NoError(t, tr.UpdatePartStatus(ctx, "item-3", 0, PartFailed, "boom"))
		st, err := tr.GetAllPartStatuses(ctx, "item-3")
		require.NoError(t, err)
		assert.Equal(t, AggregateProcessing, st.Aggregate, "part 1 is still pending")

		require.NoError(t, tr.UpdatePartStatus(ctx, "item-3", 1, PartFailed, "boom2"))
		st, err = tr.GetAllPartStatuses(ctx, "item-3")
		require.NoError(t, err)
		assert.Equal(t, AggregateFailed, st.Aggregate)

		failed, err := tr.HasAnyPartFailed(ctx, "item-3")
		require.NoError(t, err)
		assert.True(t, failed)
	})

	t.Run("get completed and failed part indices", func(t *testing.T) {
		tr := newTracker()
		require.NoError(t, tr.Initialize(ctx, "item-4", 3))
		require.NoError(t, tr.UpdatePartStatus(ctx, "item-4", 0, PartCompleted, ""))
		require.NoError(t, tr.UpdatePartStatus(ctx, "item-4", 1, PartFailed, "nope"))

		completed, err := tr.GetCompletedParts(ctx, "item-4")
		require.NoError(t, err)
		assert.Equal(t, []int{0}, completed)

		failed, err := tr.GetFailedParts(ctx, "item-4")
		require.NoError(t, err)
		assert.Equal(t, []int{1}, failed)

		details, err := tr.GetFailedPartsDetails(ctx, "item-4")
		require.NoError(t, err)
		require.Len(t, details, 1)
		assert.Equal(t, 1, details[0].Index)
		assert.Equal(t, "nope", details[0].Error)
	})

	t.Run("retry failed parts resets to pending and bumps retry count", func(t *testing.T) {
		tr := newTracker()
		require.NoError(t, tr.Initialize(ctx, "item-5", 2))
		require.NoError(t, tr.UpdatePartStatus(ctx, "item-5", 0, PartFailed, "bad"))
		require.NoError(t, tr.UpdatePartStatus(ctx, "item-5", 1, PartCompleted, ""))

		reset, err := tr.RetryFailedParts(ctx, "item-5")
		require.NoError(t, err)
		assert.Equal(t, []int{0}, reset)

		st, err := tr.GetAllPartStatuses(ctx, "item-5")
		require.NoError(t, err)
		assert.Equal(t, PartPending, st.Parts[0].Status)
		assert.Equal(t, 1, st.Parts[0].RetryCount)
		assert.Empty(t, st.Parts[0].Error)
		assert.Equal(t, AggregateProcessing, st.Aggregate)
	})

	t.Run("cleanup removes the entry", func(t *testing.T) {
		tr := newTracker()
		require.NoError(t, tr.Initialize(ctx, "item-6", 1))
		require.NoError(t, tr.CleanupPdfProcessing(ctx, "item-6"))

		_, err := tr.GetAllPartStatuses(ctx, "item-6")
		require.Error(t, err)
		var notFound *ErrNotFound
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("operations on an unknown item return ErrNotFound", func(t *testing.T) {
		tr := newTracker()
		_, err := tr.AreAllPartsCompleted(ctx, "never-initialized")
		var notFound *ErrNotFound
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("update part status rejects an out-of-range index", func(t *testing.T) {
		tr := newTracker()
		require.NoError(t, tr.Initialize(ctx, "item-7", 1))

		err := tr.UpdatePartStatus(ctx, "item-7", 5, PartCompleted, "")
		var outOfRange *ErrPartIndexOutOfRange
		assert.ErrorAs(t, err, &outOfRange)
	})

	t.Run("reinitializing an item resets its state", func(t *testing.T) {
		tr := newTracker()
		require.NoError(t, tr.Initialize(ctx, "item-8", 2))
		require.NoError(t, tr.UpdatePartStatus(ctx, "item-8", 0, PartCompleted, ""))

		require.NoError(t, tr.Initialize(ctx, "item-8", 4))
		st, err := tr.GetAllPartStatuses(ctx, "item-8")
		require.NoError(t, err)
		assert.Equal(t, 4, st.TotalParts)
		assert.Equal(t, AggregatePending, st.Aggregate)
		for _, p := range st.Parts {
			assert.Equal(t, PartPending, p.Status)
		}
	})
}

func TestComputeAggregate(t *testing.T) {
	cases := []struct {
		name  string
		parts []Part
		want  AggregateStatus
	}{
		{"all pending", []Part{{Status: PartPending}, {Status: PartPending}}, AggregatePending},
		{"all completed", []Part{{Status: PartCompleted}, {Status: PartCompleted}}, AggregateCompleted},
		{"all failed", []Part{{Status: PartFailed}, {Status: PartFailed}}, AggregateFailed},
		{"mixed completed and pending", []Part{{Status: PartCompleted}, {Status: PartPending}}, AggregateProcessing},
		{"mixed failed and processing", []Part{{Status: PartFailed}, {Status: PartProcessing}}, AggregateProcessing},
		{"mixed failed and pending", []Part{{Status: PartFailed}, {Status: PartPending}}, AggregateProcessing},
		{"failed with nothing pending or processing", []Part{{Status: PartFailed}, {Status: PartCompleted}}, AggregateFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, computeAggregate(c.parts))
		})
	}
}
