package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/run"
)

func TestFlowCreateGetRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	spec := flow.FlowSpec{Nodes: []flow.Node{{ID: "a", Type: "transform.execute"}}}
	f, err := store.Flows().Create(ctx, flow.Flow{Name: "demo", Version: "1.0.0", Spec: spec})
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)

	got, err := store.Flows().Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
}

func TestFlowCreateDuplicateNameVersionRejected(t *testing.T) {
	store := New()
	ctx := context.Background()
	spec := flow.FlowSpec{Nodes: []flow.Node{{ID: "a", Type: "transform.execute"}}}

	_, err := store.Flows().Create(ctx, flow.Flow{Name: "dup", Version: "1.0.0", Spec: spec})
	require.NoError(t, err)
	_, err = store.Flows().Create(ctx, flow.Flow{Name: "dup", Version: "1.0.0", Spec: spec})
	assert.Error(t, err)
}

func TestFlowUpdateSnapshotsPriorVersion(t *testing.T) {
	store := New()
	ctx := context.Background()
	spec := flow.FlowSpec{Nodes: []flow.Node{{ID: "a", Type: "transform.execute"}}}

	f, err := store.Flows().Create(ctx, flow.Flow{Name: "demo", Version: "1.0.0", Spec: spec})
	require.NoError(t, err)

	f.Version = "1.1.0"
	f.Spec.Nodes = append(f.Spec.Nodes, flow.Node{ID: "b", Type: "condition.execute"})
	_, err = store.Flows().Update(ctx, f)
	require.NoError(t, err)

	versions, err := store.Flows().ListVersions(ctx, f.ID, 10)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
	assert.Len(t, versions[0].Spec.Nodes, 1)
}

func TestFlowRollbackWritesTwoVersionsAndRestoresSpec(t *testing.T) {
	store := New()
	ctx := context.Background()
	spec := flow.FlowSpec{Nodes: []flow.Node{{ID: "a", Type: "transform.execute"}}}

	f, err := store.Flows().Create(ctx, flow.Flow{Name: "demo", Version: "1.0.0", Spec: spec})
	require.NoError(t, err)

	f.Version = "1.1.0"
	f.Spec.Nodes = append(f.Spec.Nodes, flow.Node{ID: "b", Type: "condition.execute"})
	_, err = store.Flows().Update(ctx, f)
	require.NoError(t, err)

	versions, err := store.Flows().ListVersions(ctx, f.ID, 10)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	rolled, err := store.Flows().Rollback(ctx, f.ID, versions[0].ID)
	require.NoError(t, err)
	assert.Len(t, rolled.Spec.Nodes, 1)

	versionsAfter, err := store.Flows().ListVersions(ctx, f.ID, 10)
	require.NoError(t, err)
	assert.Len(t, versionsAfter, 3)
}

func TestRunMarkCompletedThenMarkFailedIsNoOp(t *testing.T) {
	store := New()
	ctx := context.Background()

	r, err := store.Runs().Create(ctx, run.Run{FlowID: "flow-1", FlowVersion: "1.0.0"})
	require.NoError(t, err)

	completed, err := store.Runs().MarkCompleted(ctx, r.ID, map[string]any{"n": 1.0})
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, completed.Status)

	_, err = store.Runs().MarkFailed(ctx, r.ID, "late")
	require.NoError(t, err)

	reloaded, err := store.Runs().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, reloaded.Status)
	assert.Empty(t, reloaded.Error)
}

func TestRunDeleteCompletedBeforeRespectsBatchSize(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r, err := store.Runs().Create(ctx, run.Run{FlowID: "flow-1", FlowVersion: "1.0.0"})
		require.NoError(t, err)
		_, err = store.Runs().MarkCompleted(ctx, r.ID, nil)
		require.NoError(t, err)
	}

	deleted, err := store.Runs().DeleteCompletedBefore(ctx, time.Now().Add(time.Hour), 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	remaining, err := store.Runs().CountCompletedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, remaining)
}

func TestAdvisoryLockMutualExclusion(t *testing.T) {
	store := New()
	ctx := context.Background()

	acquired, release, err := store.Lock().TryAcquire(ctx, 42)
	require.NoError(t, err)
	assert.True(t, acquired)

	again, _, err := store.Lock().TryAcquire(ctx, 42)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, release(ctx))

	third, release2, err := store.Lock().TryAcquire(ctx, 42)
	require.NoError(t, err)
	assert.True(t, third)
	require.NoError(t, release2(ctx))
}

func TestRunLogAppendAndDeleteByLevel(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.RunLogs().AppendBatch(ctx, []run.Log{
		{RunID: "r1", Level: run.LevelDebug, Timestamp: time.Now().Add(-2 * time.Hour)},
		{RunID: "r1", Level: run.LevelInfo, Timestamp: time.Now().Add(-2 * time.Hour)},
	})
	require.NoError(t, err)

	deleted, err := store.RunLogs().DeleteByLevelBefore(ctx, run.LevelDebug, time.Now(), 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	remaining, err := store.RunLogs().ListByRun(ctx, "r1", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.Equal(t, run.LevelInfo, remaining[0].Level)
}
