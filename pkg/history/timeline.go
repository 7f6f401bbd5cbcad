package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/decivue/core/pkg/contracts"
)

// EntryType tags which stream a timeline entry came from.
type EntryType string

const (
	EntryVersion    EntryType = "VERSION"
	EntryRelation   EntryType = "RELATION_CHANGE"
	EntryEvaluation EntryType = "EVALUATION"
	EntryReview     EntryType = "REVIEW"
)

// Entry is one event in the merged per-decision timeline. Exactly one
// of the payload fields is set, matching Type.
type Entry struct {
	Type EntryType `json:"type"`
	At   time.Time `json:"at"`

	Version    *contracts.DecisionVersion  `json:"version,omitempty"`
	Relation   *contracts.RelationChange   `json:"relation,omitempty"`
	Evaluation *contracts.EvaluationRecord `json:"evaluation,omitempty"`
	Review     *contracts.DecisionReview   `json:"review,omitempty"`
}

// TimelineStore reads the four history streams.
type TimelineStore interface {
	ListVersions(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionVersion, error)
	ListRelationChanges(ctx context.Context, orgID, decisionID string) ([]contracts.RelationChange, error)
	ListEvaluations(ctx context.Context, orgID, decisionID string, limit int) ([]contracts.EvaluationRecord, error)
	ListReviews(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionReview, error)
}

// Timeline merges a decision's versions, relation changes, evaluations
// and reviews into one stream, newest first. limit > 0 caps the result
// after merging, so the cut is global, not per stream.
func Timeline(ctx context.Context, st TimelineStore, orgID, decisionID string, limit int) ([]Entry, error) {
	versions, err := st.ListVersions(ctx, orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("timeline versions: %w", err)
	}
	relations, err := st.ListRelationChanges(ctx, orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("timeline relation changes: %w", err)
	}
	evaluations, err := st.ListEvaluations(ctx, orgID, decisionID, 0)
	if err != nil {
		return nil, fmt.Errorf("timeline evaluations: %w", err)
	}
	reviews, err := st.ListReviews(ctx, orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("timeline reviews: %w", err)
	}

	entries := make([]Entry, 0, len(versions)+len(relations)+len(evaluations)+len(reviews))
	for i := range versions {
		entries = append(entries, Entry{Type: EntryVersion, At: versions[i].CreatedAt, Version: &versions[i]})
	}
	for i := range relations {
		entries = append(entries, Entry{Type: EntryRelation, At: relations[i].ChangedAt, Relation: &relations[i]})
	}
	for i := range evaluations {
		entries = append(entries, Entry{Type: EntryEvaluation, At: evaluations[i].EvaluatedAt, Evaluation: &evaluations[i]})
	}
	for i := range reviews {
		entries = append(entries, Entry{Type: EntryReview, At: reviews[i].ReviewedAt, Review: &reviews[i]})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At.After(entries[j].At)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
