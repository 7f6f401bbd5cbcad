package history_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/history"
	"github.com/decivue/core/pkg/store"
)

var histNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newDecision() contracts.Decision {
	return contracts.Decision{
		ID:             "d-1",
		OrganizationID: "org-1",
		Title:          "Adopt managed Postgres",
		Description:    "Move primary storage to a managed offering",
		Category:       "infrastructure",
		Parameters:     map[string]any{"budget": 50000.0},
		Lifecycle:      contracts.LifecycleStable,
		HealthSignal:   100,
		CreatedAt:      histNow,
	}
}

func seeded(t *testing.T) (store.Store, *history.Recorder) {
	t.Helper()
	s := store.NewMemory()
	require.NoError(t, s.CreateDecision(context.Background(), newDecision()))
	rec := history.NewRecorder().WithClock(func() time.Time { return histNow })
	return s, rec
}

func TestRecordVersion(t *testing.T) {
	s, rec := seeded(t)
	ctx := context.Background()
	d := newDecision()

	v1, err := rec.RecordVersion(ctx, s, d, history.Change{
		Type: contracts.ChangeCreated, Summary: "decision created", Actor: "user-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, v1.VersionNumber)
	require.True(t, strings.HasPrefix(v1.SnapshotHash, "sha256:"))
	require.Equal(t, "Adopt managed Postgres", v1.Snapshot.Title)
	require.Equal(t, histNow, v1.CreatedAt)

	d.Title = "Adopt managed Postgres (revised)"
	v2, err := rec.RecordVersion(ctx, s, d, history.Change{
		Type:    contracts.ChangeFieldUpdated,
		Summary: "title updated",
		Fields: map[string]contracts.FieldChange{
			"title": {Old: "Adopt managed Postgres", New: "Adopt managed Postgres (revised)"},
		},
		Actor: "user-1",
	})
	require.NoError(t, err)
	require.Equal(t, 2, v2.VersionNumber)
	require.NotEqual(t, v1.SnapshotHash, v2.SnapshotHash)

	// Same editable state hashes the same regardless of when or why
	// it was recorded.
	v3, err := rec.RecordVersion(ctx, s, d, history.Change{
		Type: contracts.ChangeManualReview, Actor: "user-2",
	})
	require.NoError(t, err)
	require.Equal(t, v2.SnapshotHash, v3.SnapshotHash)
}

func TestSnapshotOwnsItsMaps(t *testing.T) {
	d := newDecision()
	snap := history.SnapshotOf(d)

	d.Parameters["budget"] = 99999.0
	require.Equal(t, 50000.0, snap.Parameters["budget"])
}

func TestReplayReconstructsEditableState(t *testing.T) {
	s, rec := seeded(t)
	ctx := context.Background()
	d := newDecision()

	_, err := rec.RecordVersion(ctx, s, d, history.Change{Type: contracts.ChangeCreated})
	require.NoError(t, err)

	d.Title = "Adopt managed Postgres (revised)"
	_, err = rec.RecordVersion(ctx, s, d, history.Change{Type: contracts.ChangeFieldUpdated})
	require.NoError(t, err)

	d.Category = "platform"
	_, err = rec.RecordVersion(ctx, s, d, history.Change{Type: contracts.ChangeFieldUpdated})
	require.NoError(t, err)

	versions, err := s.ListVersions(ctx, "org-1", "d-1")
	require.NoError(t, err)

	replayed, err := history.Replay(versions)
	require.NoError(t, err)
	require.Equal(t, history.SnapshotOf(d), replayed)
}

func TestReplayRejectsGaps(t *testing.T) {
	_, err := history.Replay(nil)
	require.Error(t, err)

	_, err = history.Replay([]contracts.DecisionVersion{
		{VersionNumber: 1},
		{VersionNumber: 3},
	})
	require.ErrorContains(t, err, "expected version 2")
}

func TestRecordRelation(t *testing.T) {
	s, rec := seeded(t)

	rc, err := rec.RecordRelation(context.Background(), s, contracts.RelationChange{
		DecisionID:     "d-1",
		OrganizationID: "org-1",
		RelationType:   contracts.RelationAssumption,
		RelationID:     "a-1",
		Action:         contracts.RelationLinked,
		ChangedBy:      "user-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rc.ID)
	require.Equal(t, histNow, rc.ChangedAt)

	listed, err := s.ListRelationChanges(context.Background(), "org-1", "d-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestTimeline(t *testing.T) {
	s, _ := seeded(t)
	ctx := context.Background()

	at := func(offset time.Duration) time.Time { return histNow.Add(offset) }

	_, err := s.AppendVersion(ctx, contracts.DecisionVersion{
		ID: "v-1", DecisionID: "d-1", OrganizationID: "org-1",
		ChangeType: contracts.ChangeCreated, CreatedAt: at(0),
	})
	require.NoError(t, err)
	require.NoError(t, s.AppendRelationChange(ctx, contracts.RelationChange{
		ID: "rc-1", DecisionID: "d-1", OrganizationID: "org-1",
		RelationType: contracts.RelationAssumption, RelationID: "a-1",
		Action: contracts.RelationLinked, ChangedAt: at(time.Minute),
	}))
	require.NoError(t, s.AppendEvaluation(ctx, contracts.EvaluationRecord{
		ID: "e-1", DecisionID: "d-1", OrganizationID: "org-1",
		OldLifecycle: contracts.LifecycleStable, NewLifecycle: contracts.LifecycleAtRisk,
		TriggeredBy: contracts.TriggerAutomatic, EvaluatedAt: at(2 * time.Minute),
	}))
	require.NoError(t, s.AppendReview(ctx, contracts.DecisionReview{
		ID: "r-1", DecisionID: "d-1", OrganizationID: "org-1",
		ReviewType: contracts.ReviewRoutine, Outcome: contracts.OutcomeReaffirmed,
		PreLifecycle: contracts.LifecycleAtRisk, PostLifecycle: contracts.LifecycleAtRisk,
		ReviewedAt: at(3 * time.Minute),
	}))

	entries, err := history.Timeline(ctx, s, "org-1", "d-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, history.EntryReview, entries[0].Type)
	require.Equal(t, history.EntryEvaluation, entries[1].Type)
	require.Equal(t, history.EntryRelation, entries[2].Type)
	require.Equal(t, history.EntryVersion, entries[3].Type)
	require.NotNil(t, entries[0].Review)
	require.NotNil(t, entries[3].Version)

	capped, err := history.Timeline(ctx, s, "org-1", "d-1", 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	require.Equal(t, history.EntryReview, capped[0].Type)
}
