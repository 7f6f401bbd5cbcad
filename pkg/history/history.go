// Package history writes the append-only record of what happened to a
// decision: version snapshots, relation changes, reviews. Reads come
// back either as single streams or as the merged timeline.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/decivue/core/pkg/canonicalize"
	"github.com/decivue/core/pkg/contracts"
)

// VersionStore appends version snapshots and assigns their numbers.
type VersionStore interface {
	AppendVersion(ctx context.Context, v contracts.DecisionVersion) (int, error)
}

// RelationStore appends link/unlink records.
type RelationStore interface {
	AppendRelationChange(ctx context.Context, rc contracts.RelationChange) error
}

// ReviewStore appends review records.
type ReviewStore interface {
	AppendReview(ctx context.Context, r contracts.DecisionReview) error
}

// Recorder stamps and persists history entries. Store handles are
// passed per call so a recording can join the caller's transaction.
type Recorder struct {
	clock func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (r *Recorder) WithClock(clock func() time.Time) *Recorder {
	r.clock = clock
	return r
}

// SnapshotOf freezes the editable surface of a decision. The returned
// snapshot owns its maps, so later edits to the decision cannot reach
// back into recorded history.
func SnapshotOf(d contracts.Decision) contracts.VersionSnapshot {
	snap := contracts.VersionSnapshot{
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		Lifecycle:   d.Lifecycle,
	}
	if len(d.Parameters) > 0 {
		snap.Parameters = make(map[string]any, len(d.Parameters))
		for k, v := range d.Parameters {
			snap.Parameters[k] = v
		}
	}
	if d.ExpiryDate != nil {
		t := *d.ExpiryDate
		snap.ExpiryDate = &t
	}
	return snap
}

// Change describes why a version is being recorded.
type Change struct {
	Type            contracts.ChangeType
	Summary         string
	Fields          map[string]contracts.FieldChange
	ReviewerComment string
	Metadata        map[string]any
	Actor           string
}

// RecordVersion snapshots d and appends it. The store assigns the
// version number; the returned value carries it.
func (r *Recorder) RecordVersion(ctx context.Context, st VersionStore, d contracts.Decision, ch Change) (contracts.DecisionVersion, error) {
	snap := SnapshotOf(d)
	hash, err := canonicalize.CanonicalHash(snap)
	if err != nil {
		return contracts.DecisionVersion{}, fmt.Errorf("hash snapshot: %w", err)
	}
	v := contracts.DecisionVersion{
		ID:              uuid.New().String(),
		DecisionID:      d.ID,
		OrganizationID:  d.OrganizationID,
		Snapshot:        snap,
		SnapshotHash:    hash,
		ChangeType:      ch.Type,
		ChangeSummary:   ch.Summary,
		ChangedFields:   ch.Fields,
		ReviewerComment: ch.ReviewerComment,
		Metadata:        ch.Metadata,
		CreatedBy:       ch.Actor,
		CreatedAt:       r.clock(),
	}
	n, err := st.AppendVersion(ctx, v)
	if err != nil {
		return contracts.DecisionVersion{}, fmt.Errorf("append version: %w", err)
	}
	v.VersionNumber = n
	return v, nil
}

// RecordRelation stamps and appends a relation change.
func (r *Recorder) RecordRelation(ctx context.Context, st RelationStore, rc contracts.RelationChange) (contracts.RelationChange, error) {
	rc.ID = uuid.New().String()
	rc.ChangedAt = r.clock()
	if err := st.AppendRelationChange(ctx, rc); err != nil {
		return contracts.RelationChange{}, fmt.Errorf("append relation change: %w", err)
	}
	return rc, nil
}

// RecordReview stamps and appends a review record.
func (r *Recorder) RecordReview(ctx context.Context, st ReviewStore, rev contracts.DecisionReview) (contracts.DecisionReview, error) {
	rev.ID = uuid.New().String()
	rev.ReviewedAt = r.clock()
	if err := st.AppendReview(ctx, rev); err != nil {
		return contracts.DecisionReview{}, fmt.Errorf("append review: %w", err)
	}
	return rev, nil
}

// Replay folds a decision's versions oldest-first and returns the
// final editable state. Snapshots are full copies, so replay validates
// the sequence and hands back the last one.
func Replay(versions []contracts.DecisionVersion) (contracts.VersionSnapshot, error) {
	if len(versions) == 0 {
		return contracts.VersionSnapshot{}, fmt.Errorf("replay: no versions")
	}
	for i, v := range versions {
		if v.VersionNumber != i+1 {
			return contracts.VersionSnapshot{}, fmt.Errorf("replay: expected version %d, got %d", i+1, v.VersionNumber)
		}
	}
	return versions[len(versions)-1].Snapshot, nil
}
