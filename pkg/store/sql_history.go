package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/decivue/core/pkg/contracts"
)

func (s *SQL) AppendVersion(ctx context.Context, v contracts.DecisionVersion) (int, error) {
	// The number must come from the same transaction as the insert, or
	// two writers could allocate the same version.
	if !s.inTx() {
		var n int
		err := s.WithinTx(ctx, func(tx Store) error {
			var err error
			n, err = tx.AppendVersion(ctx, v)
			return err
		})
		return n, err
	}

	var next int
	numQuery := `SELECT COALESCE(MAX(version_number), 0) + 1 FROM decision_versions
		WHERE organization_id = ? AND decision_id = ?`
	if err := s.runner.QueryRowContext(ctx, s.q(numQuery), v.OrganizationID, v.DecisionID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	v.VersionNumber = next

	snapshot, err := marshalJSON(v.Snapshot)
	if err != nil {
		return 0, err
	}
	changedFields, err := marshalJSON(v.ChangedFields)
	if err != nil {
		return 0, err
	}
	metadata, err := marshalJSON(v.Metadata)
	if err != nil {
		return 0, err
	}

	query := `INSERT INTO decision_versions (
		organization_id, id, decision_id, version_number,
		snapshot, snapshot_hash, change_type, change_summary,
		changed_fields, reviewer_comment, metadata, created_by, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.runner.ExecContext(ctx, s.q(query),
		v.OrganizationID, v.ID, v.DecisionID, v.VersionNumber,
		snapshot, v.SnapshotHash, string(v.ChangeType), v.ChangeSummary,
		changedFields, v.ReviewerComment, metadata, v.CreatedBy, fmtTime(v.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert version: %w", mapWriteErr(err))
	}
	return next, nil
}

func (s *SQL) ListVersions(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionVersion, error) {
	query := `SELECT organization_id, id, decision_id, version_number,
		snapshot, snapshot_hash, change_type, change_summary,
		changed_fields, reviewer_comment, metadata, created_by, created_at
		FROM decision_versions
		WHERE organization_id = ? AND decision_id = ?
		ORDER BY version_number ASC`
	rows, err := s.runner.QueryContext(ctx, s.q(query), orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.DecisionVersion
	for rows.Next() {
		var (
			v             contracts.DecisionVersion
			snapshot      sql.NullString
			changedFields sql.NullString
			metadata      sql.NullString
			createdAt     string
		)
		err := rows.Scan(&v.OrganizationID, &v.ID, &v.DecisionID, &v.VersionNumber,
			&snapshot, &v.SnapshotHash, &v.ChangeType, &v.ChangeSummary,
			&changedFields, &v.ReviewerComment, &metadata, &v.CreatedBy, &createdAt)
		if err != nil {
			return nil, err
		}
		v.CreatedAt = parseStoredTime(createdAt)
		if err := unmarshalInto(snapshot, &v.Snapshot); err != nil {
			return nil, err
		}
		if err := unmarshalInto(changedFields, &v.ChangedFields); err != nil {
			return nil, err
		}
		if err := unmarshalInto(metadata, &v.Metadata); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQL) AppendRelationChange(ctx context.Context, rc contracts.RelationChange) error {
	query := `INSERT INTO decision_relation_changes (
		organization_id, id, decision_id, relation_type, relation_id,
		action, reason, changed_by, changed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.runner.ExecContext(ctx, s.q(query),
		rc.OrganizationID, rc.ID, rc.DecisionID, string(rc.RelationType), rc.RelationID,
		string(rc.Action), rc.Reason, rc.ChangedBy, fmtTime(rc.ChangedAt))
	if err != nil {
		return fmt.Errorf("insert relation change: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) ListRelationChanges(ctx context.Context, orgID, decisionID string) ([]contracts.RelationChange, error) {
	query := `SELECT organization_id, id, decision_id, relation_type, relation_id,
		action, reason, changed_by, changed_at
		FROM decision_relation_changes
		WHERE organization_id = ? AND decision_id = ?
		ORDER BY changed_at DESC, id`
	rows, err := s.runner.QueryContext(ctx, s.q(query), orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list relation changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.RelationChange
	for rows.Next() {
		var (
			rc        contracts.RelationChange
			changedAt string
		)
		err := rows.Scan(&rc.OrganizationID, &rc.ID, &rc.DecisionID, &rc.RelationType,
			&rc.RelationID, &rc.Action, &rc.Reason, &rc.ChangedBy, &changedAt)
		if err != nil {
			return nil, err
		}
		rc.ChangedAt = parseStoredTime(changedAt)
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *SQL) AppendEvaluation(ctx context.Context, e contracts.EvaluationRecord) error {
	trace, err := marshalJSON(e.Trace)
	if err != nil {
		return err
	}
	query := `INSERT INTO evaluation_history (
		organization_id, id, decision_id,
		old_lifecycle, new_lifecycle, old_health, new_health,
		invalidated_reason, trace, trace_hash, triggered_by, evaluated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.runner.ExecContext(ctx, s.q(query),
		e.OrganizationID, e.ID, e.DecisionID,
		string(e.OldLifecycle), string(e.NewLifecycle), e.OldHealth, e.NewHealth,
		string(e.InvalidatedReason), trace, e.TraceHash, string(e.TriggeredBy), fmtTime(e.EvaluatedAt))
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) ListEvaluations(ctx context.Context, orgID, decisionID string, limit int) ([]contracts.EvaluationRecord, error) {
	query := `SELECT organization_id, id, decision_id,
		old_lifecycle, new_lifecycle, old_health, new_health,
		invalidated_reason, trace, trace_hash, triggered_by, evaluated_at
		FROM evaluation_history
		WHERE organization_id = ? AND decision_id = ?
		ORDER BY evaluated_at DESC, id`
	args := []any{orgID, decisionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.runner.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.EvaluationRecord
	for rows.Next() {
		var (
			e           contracts.EvaluationRecord
			trace       sql.NullString
			evaluatedAt string
		)
		err := rows.Scan(&e.OrganizationID, &e.ID, &e.DecisionID,
			&e.OldLifecycle, &e.NewLifecycle, &e.OldHealth, &e.NewHealth,
			&e.InvalidatedReason, &trace, &e.TraceHash, &e.TriggeredBy, &evaluatedAt)
		if err != nil {
			return nil, err
		}
		e.EvaluatedAt = parseStoredTime(evaluatedAt)
		if err := unmarshalInto(trace, &e.Trace); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQL) AppendReview(ctx context.Context, r contracts.DecisionReview) error {
	query := `INSERT INTO decision_reviews (
		organization_id, id, decision_id, reviewer, review_type, outcome, comment,
		pre_lifecycle, post_lifecycle, pre_health, post_health,
		deferral_reason, next_review_date, reviewed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.runner.ExecContext(ctx, s.q(query),
		r.OrganizationID, r.ID, r.DecisionID, r.Reviewer, string(r.ReviewType), string(r.Outcome), r.Comment,
		string(r.PreLifecycle), string(r.PostLifecycle), r.PreHealth, r.PostHealth,
		r.DeferralReason, fmtTimePtr(r.NextReviewDate), fmtTime(r.ReviewedAt))
	if err != nil {
		return fmt.Errorf("insert review: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) ListReviews(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionReview, error) {
	query := `SELECT organization_id, id, decision_id, reviewer, review_type, outcome, comment,
		pre_lifecycle, post_lifecycle, pre_health, post_health,
		deferral_reason, next_review_date, reviewed_at
		FROM decision_reviews
		WHERE organization_id = ? AND decision_id = ?
		ORDER BY reviewed_at DESC, id`
	rows, err := s.runner.QueryContext(ctx, s.q(query), orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.DecisionReview
	for rows.Next() {
		var (
			r          contracts.DecisionReview
			nextReview sql.NullString
			reviewedAt string
		)
		err := rows.Scan(&r.OrganizationID, &r.ID, &r.DecisionID, &r.Reviewer,
			&r.ReviewType, &r.Outcome, &r.Comment,
			&r.PreLifecycle, &r.PostLifecycle, &r.PreHealth, &r.PostHealth,
			&r.DeferralReason, &nextReview, &reviewedAt)
		if err != nil {
			return nil, err
		}
		r.NextReviewDate = parseStoredTimePtr(nextReview)
		r.ReviewedAt = parseStoredTime(reviewedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
