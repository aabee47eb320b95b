package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/espalier/pkg/domain"
)

// RunArchiveContract runs a suite of tests verifying that an ArchiveStore
// implementation adheres to the interface contract.
func RunArchiveContract(t *testing.T, store ArchiveStore) {
	ctx := context.Background()
	runID := "contract-run-" + time.Now().Format("20060102150405")

	newRecord := func(id string) *domain.RunRecord {
		return &domain.RunRecord{
			ID:          id,
			Goal:        "contract goal",
			Status:      domain.StatusDone,
			StartedAt:   time.Now().Add(-time.Minute).UTC().Truncate(time.Second),
			FinishedAt:  time.Now().UTC().Truncate(time.Second),
			TaskCount:   2,
			Invocations: 9,
			Plan:        domain.FallbackPlan(),
			Results:     map[string]string{"t1": "result text"},
			Decisions: []domain.RoutingDecision{{
				Timestamp: time.Now().UTC().Truncate(time.Second),
				Step:      3,
				Planned:   domain.AgentTaskLoop,
				Chosen:    domain.AgentResearch,
				Reason:    "contract decision",
				TaskID:    "t1",
			}},
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		rec := newRecord(runID)
		require.NoError(t, store.Save(ctx, rec), "Save should not return error")

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, rec.Goal, loaded.Goal)
		assert.Equal(t, rec.Invocations, loaded.Invocations)
		assert.Equal(t, "result text", loaded.Results["t1"])
		require.Len(t, loaded.Decisions, 1)
		assert.Equal(t, domain.AgentResearch, loaded.Decisions[0].Chosen)
		require.Equal(t, 4, loaded.Plan.Len())
		step, ok := loaded.Plan.Step(3)
		require.True(t, ok)
		assert.Equal(t, domain.AgentTaskLoop, step.Agent)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newRecord(runID)))
		require.NoError(t, store.Delete(ctx, runID))

		_, err := store.Load(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound, "Load after Delete should return ErrRunNotFound")

		assert.NoError(t, store.Delete(ctx, runID), "deleting a missing record is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := runID + "-1"
		id2 := runID + "-2"
		require.NoError(t, store.Save(ctx, newRecord(id1)))
		require.NoError(t, store.Save(ctx, newRecord(id2)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
