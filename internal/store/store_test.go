package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "megaval.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "megaval.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	rec := RunRecord{
		ID:        uuid.NewString(),
		Kind:      "reference",
		WorkDir:   "/work/run_ref",
		State:     "idle",
		StartedAt: started,
	}
	require.NoError(t, s.BeginRun(ctx, rec))

	finished := started.Add(42 * time.Second)
	require.NoError(t, s.FinishRun(ctx, rec.ID, "done", finished))

	got, err := s.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "reference", got.Kind)
	assert.Equal(t, "done", got.State)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.FinishedAt.Equal(finished))
}

func TestFinishRun_UnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := s.FinishRun(context.Background(), "no-such-run", "done", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown run")
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStageEvents_OrderedBySeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID := uuid.NewString()
	require.NoError(t, s.BeginRun(ctx, RunRecord{
		ID: runID, Kind: "test", WorkDir: "/work/run_test", State: "idle", StartedAt: time.Now(),
	}))

	// Insert out of order; reads come back sorted.
	for _, seq := range []int{3, 1, 2} {
		require.NoError(t, s.WriteStageEvent(ctx, StageEventRecord{
			RunID: runID, Seq: seq, Stage: "simulating", Status: "started", DurationMS: int64(seq * 10),
		}))
	}

	events, err := s.StageEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq)
	}
}

func TestWriteStageEvent_DuplicateSeqIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	runID := uuid.NewString()
	require.NoError(t, s.BeginRun(ctx, RunRecord{
		ID: runID, Kind: "test", WorkDir: "/w", State: "idle", StartedAt: time.Now(),
	}))

	first := StageEventRecord{RunID: runID, Seq: 1, Stage: "simulating", Status: "started", Message: "first"}
	require.NoError(t, s.WriteStageEvent(ctx, first))
	require.NoError(t, s.WriteStageEvent(ctx, StageEventRecord{
		RunID: runID, Seq: 1, Stage: "simulating", Status: "started", Message: "duplicate",
	}))

	events, err := s.StageEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "first", events[0].Message)
}

func TestComparisons_RoundTripAndOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	refID, testID := uuid.NewString(), uuid.NewString()
	for _, r := range []RunRecord{
		{ID: refID, Kind: "reference", WorkDir: "/w/run_ref", State: "done", StartedAt: time.Now()},
		{ID: testID, Kind: "test", WorkDir: "/w/run_test", State: "done", StartedAt: time.Now()},
	} {
		require.NoError(t, s.BeginRun(ctx, r))
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	older := ComparisonRecord{
		ID: uuid.NewString(), RefRunID: refID, TestRunID: testID,
		Pass: true, KSStatistic: 0.02, KSPValue: 0.91, SigmaDiff: 0.4, RelativeSigma: 0.01,
		Details: "Spectra consistent.", CreatedAt: base,
	}
	newer := ComparisonRecord{
		ID: uuid.NewString(), RefRunID: refID, TestRunID: testID,
		Pass: false, KSStatistic: 0.6, KSPValue: 0.001, SigmaDiff: 12.0, RelativeSigma: 4.2,
		Details: "Significant difference detected.", CreatedAt: base.Add(time.Minute),
	}
	require.NoError(t, s.WriteComparison(ctx, older))
	require.NoError(t, s.WriteComparison(ctx, newer))

	recs, err := s.RecentComparisons(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, newer.ID, recs[0].ID)
	assert.False(t, recs[0].Pass)
	assert.Equal(t, older.ID, recs[1].ID)
	assert.True(t, recs[1].Pass)
	assert.Equal(t, 0.91, recs[1].KSPValue)

	limited, err := s.RecentComparisons(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer.ID, limited[0].ID)
}
