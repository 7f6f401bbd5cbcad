package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/decivue/core/pkg/contracts"
)

const decisionCols = `organization_id, id, created_by, title, description, category,
	parameters, lifecycle, health_signal, invalidated_reason,
	created_at, last_reviewed_at, last_evaluated_at, needs_evaluation, expiry_date,
	governance_mode, governance_tier, requires_second_reviewer, edit_justification_required,
	locked_at, locked_by,
	review_urgency_score, next_review_date, review_frequency_days, consecutive_deferrals, urgency_factors`

func scanDecision(sc rowScanner) (contracts.Decision, error) {
	var (
		d              contracts.Decision
		params         sql.NullString
		lastReviewed   sql.NullString
		lastEvaluated  sql.NullString
		expiry         sql.NullString
		lockedAt       sql.NullString
		nextReview     sql.NullString
		urgencyFactors sql.NullString
		createdAt      string
	)
	err := sc.Scan(
		&d.OrganizationID, &d.ID, &d.CreatedBy, &d.Title, &d.Description, &d.Category,
		&params, &d.Lifecycle, &d.HealthSignal, &d.InvalidatedReason,
		&createdAt, &lastReviewed, &lastEvaluated, &d.NeedsEvaluation, &expiry,
		&d.GovernanceMode, &d.GovernanceTier, &d.RequiresSecondReviewer, &d.EditJustificationRequired,
		&lockedAt, &d.LockedBy,
		&d.ReviewUrgencyScore, &nextReview, &d.ReviewFrequencyDays, &d.ConsecutiveDeferrals, &urgencyFactors,
	)
	if err != nil {
		return contracts.Decision{}, err
	}
	d.CreatedAt = parseStoredTime(createdAt)
	d.LastReviewedAt = parseStoredTimePtr(lastReviewed)
	d.LastEvaluatedAt = parseStoredTimePtr(lastEvaluated)
	d.ExpiryDate = parseStoredTimePtr(expiry)
	d.LockedAt = parseStoredTimePtr(lockedAt)
	d.NextReviewDate = parseStoredTimePtr(nextReview)
	if err := unmarshalInto(params, &d.Parameters); err != nil {
		return contracts.Decision{}, err
	}
	if err := unmarshalInto(urgencyFactors, &d.UrgencyFactors); err != nil {
		return contracts.Decision{}, err
	}
	return d, nil
}

func decisionArgs(d contracts.Decision) ([]any, error) {
	params, err := marshalJSON(d.Parameters)
	if err != nil {
		return nil, err
	}
	factors, err := marshalJSON(d.UrgencyFactors)
	if err != nil {
		return nil, err
	}
	return []any{
		d.OrganizationID, d.ID, d.CreatedBy, d.Title, d.Description, d.Category,
		params, string(d.Lifecycle), d.HealthSignal, string(d.InvalidatedReason),
		fmtTime(d.CreatedAt), fmtTimePtr(d.LastReviewedAt), fmtTimePtr(d.LastEvaluatedAt),
		d.NeedsEvaluation, fmtTimePtr(d.ExpiryDate),
		d.GovernanceMode, string(d.GovernanceTier), d.RequiresSecondReviewer, d.EditJustificationRequired,
		fmtTimePtr(d.LockedAt), d.LockedBy,
		d.ReviewUrgencyScore, fmtTimePtr(d.NextReviewDate), d.ReviewFrequencyDays,
		d.ConsecutiveDeferrals, factors,
	}, nil
}

func (s *SQL) CreateDecision(ctx context.Context, d contracts.Decision) error {
	args, err := decisionArgs(d)
	if err != nil {
		return err
	}
	query := `INSERT INTO decisions (` + decisionCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.runner.ExecContext(ctx, s.q(query), args...); err != nil {
		return fmt.Errorf("insert decision: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) GetDecision(ctx context.Context, orgID, decisionID string) (contracts.Decision, error) {
	query := `SELECT ` + decisionCols + ` FROM decisions WHERE organization_id = ? AND id = ?`
	if s.dialect == dialectPostgres && s.inTx() {
		query += " FOR UPDATE"
	}
	d, err := scanDecision(s.runner.QueryRowContext(ctx, s.q(query), orgID, decisionID))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Decision{}, ErrNotFound
	}
	if err != nil {
		return contracts.Decision{}, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

func (s *SQL) UpdateDecision(ctx context.Context, d contracts.Decision) error {
	args, err := decisionArgs(d)
	if err != nil {
		return err
	}
	// Reorder so the key lands in the WHERE clause.
	args = append(args[2:], d.OrganizationID, d.ID)
	query := `UPDATE decisions SET
		created_by = ?, title = ?, description = ?, category = ?,
		parameters = ?, lifecycle = ?, health_signal = ?, invalidated_reason = ?,
		created_at = ?, last_reviewed_at = ?, last_evaluated_at = ?, needs_evaluation = ?, expiry_date = ?,
		governance_mode = ?, governance_tier = ?, requires_second_reviewer = ?, edit_justification_required = ?,
		locked_at = ?, locked_by = ?,
		review_urgency_score = ?, next_review_date = ?, review_frequency_days = ?,
		consecutive_deferrals = ?, urgency_factors = ?
		WHERE organization_id = ? AND id = ?`
	res, err := s.runner.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) ListDecisions(ctx context.Context, orgID string) ([]contracts.Decision, error) {
	query := `SELECT ` + decisionCols + ` FROM decisions WHERE organization_id = ? ORDER BY id`
	rows, err := s.runner.QueryContext(ctx, s.q(query), orgID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQL) MarkNeedsEvaluation(ctx context.Context, orgID string, decisionIDs []string) error {
	query := s.q(`UPDATE decisions SET needs_evaluation = TRUE
		WHERE organization_id = ? AND id = ? AND lifecycle != 'RETIRED'`)
	for _, id := range decisionIDs {
		if _, err := s.runner.ExecContext(ctx, query, orgID, id); err != nil {
			return fmt.Errorf("mark needs evaluation %s: %w", id, err)
		}
	}
	return nil
}

func (s *SQL) ListEvaluationCandidates(ctx context.Context, f CandidateFilter) ([]contracts.Decision, error) {
	staleCutoff := fmtTime(f.Now.Add(-f.Staleness))
	expiryLo := fmtTime(f.Now.Add(-ExpiryWindow))
	expiryHi := fmtTime(f.Now.Add(ExpiryWindow))
	recheckCutoff := fmtTime(f.Now.Add(-ExpiryRecheck))

	query := `SELECT ` + decisionCols + ` FROM decisions
		WHERE organization_id = ?
		  AND lifecycle != 'RETIRED'
		  AND (
			needs_evaluation
			OR last_evaluated_at IS NULL
			OR last_evaluated_at < ?
			OR (expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date <= ?
				AND last_evaluated_at < ?)
		  )
		ORDER BY review_urgency_score DESC,
			CASE WHEN last_evaluated_at IS NULL THEN 0 ELSE 1 END,
			last_evaluated_at ASC,
			id ASC`
	args := []any{f.OrganizationID, staleCutoff, expiryLo, expiryHi, recheckCutoff}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.runner.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluation candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- assumptions ---

const assumptionCols = `organization_id, id, description, status, scope, created_at, updated_at`

func scanAssumption(sc rowScanner) (contracts.Assumption, error) {
	var (
		a                    contracts.Assumption
		createdAt, updatedAt string
	)
	err := sc.Scan(&a.OrganizationID, &a.ID, &a.Description, &a.Status, &a.Scope, &createdAt, &updatedAt)
	if err != nil {
		return contracts.Assumption{}, err
	}
	a.CreatedAt = parseStoredTime(createdAt)
	a.UpdatedAt = parseStoredTime(updatedAt)
	return a, nil
}

func (s *SQL) CreateAssumption(ctx context.Context, a contracts.Assumption) error {
	query := `INSERT INTO assumptions (` + assumptionCols + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.runner.ExecContext(ctx, s.q(query),
		a.OrganizationID, a.ID, a.Description, string(a.Status), string(a.Scope),
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert assumption: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) GetAssumption(ctx context.Context, orgID, assumptionID string) (contracts.Assumption, error) {
	query := `SELECT ` + assumptionCols + ` FROM assumptions WHERE organization_id = ? AND id = ?`
	a, err := scanAssumption(s.runner.QueryRowContext(ctx, s.q(query), orgID, assumptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Assumption{}, ErrNotFound
	}
	if err != nil {
		return contracts.Assumption{}, fmt.Errorf("get assumption: %w", err)
	}
	return a, nil
}

func (s *SQL) UpdateAssumption(ctx context.Context, a contracts.Assumption) error {
	query := `UPDATE assumptions SET description = ?, status = ?, scope = ?, created_at = ?, updated_at = ?
		WHERE organization_id = ? AND id = ?`
	res, err := s.runner.ExecContext(ctx, s.q(query),
		a.Description, string(a.Status), string(a.Scope),
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt),
		a.OrganizationID, a.ID)
	if err != nil {
		return fmt.Errorf("update assumption: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) ListAssumptionsForDecision(ctx context.Context, orgID, decisionID string) ([]contracts.Assumption, error) {
	query := `SELECT ` + assumptionCols + ` FROM assumptions
		WHERE organization_id = ?
		  AND (scope = 'UNIVERSAL'
			OR id IN (SELECT assumption_id FROM decision_assumption_links
				WHERE organization_id = ? AND decision_id = ?))
		ORDER BY id`
	rows, err := s.runner.QueryContext(ctx, s.q(query), orgID, orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list assumptions for decision: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Assumption
	for rows.Next() {
		a, err := scanAssumption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQL) LinkAssumption(ctx context.Context, link contracts.AssumptionLink) error {
	ok, err := s.decisionExists(ctx, link.OrganizationID, link.DecisionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	ok, err = s.exists(ctx, `SELECT 1 FROM assumptions WHERE organization_id = ? AND id = ?`,
		link.OrganizationID, link.AssumptionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	query := `INSERT INTO decision_assumption_links (organization_id, decision_id, assumption_id, created_at)
		VALUES (?, ?, ?, ?)`
	_, err = s.runner.ExecContext(ctx, s.q(query),
		link.OrganizationID, link.DecisionID, link.AssumptionID, fmtTime(link.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert assumption link: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) UnlinkAssumption(ctx context.Context, orgID, decisionID, assumptionID string) error {
	query := `DELETE FROM decision_assumption_links
		WHERE organization_id = ? AND decision_id = ? AND assumption_id = ?`
	res, err := s.runner.ExecContext(ctx, s.q(query), orgID, decisionID, assumptionID)
	if err != nil {
		return fmt.Errorf("delete assumption link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) ListDecisionIDsForAssumption(ctx context.Context, orgID, assumptionID string) ([]string, error) {
	query := `SELECT decision_id FROM decision_assumption_links
		WHERE organization_id = ? AND assumption_id = ? ORDER BY decision_id`
	return s.listIDs(ctx, query, orgID, assumptionID)
}

func (s *SQL) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.runner.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- constraints ---

const constraintCols = `organization_id, id, name, description, constraint_type, validation, is_immutable, created_at, updated_at`

func scanConstraint(sc rowScanner) (contracts.Constraint, error) {
	var (
		c                    contracts.Constraint
		validation           sql.NullString
		createdAt, updatedAt string
	)
	err := sc.Scan(&c.OrganizationID, &c.ID, &c.Name, &c.Description, &c.Type,
		&validation, &c.IsImmutable, &createdAt, &updatedAt)
	if err != nil {
		return contracts.Constraint{}, err
	}
	c.CreatedAt = parseStoredTime(createdAt)
	c.UpdatedAt = parseStoredTime(updatedAt)
	if err := unmarshalInto(validation, &c.Validation); err != nil {
		return contracts.Constraint{}, err
	}
	return c, nil
}

func (s *SQL) CreateConstraint(ctx context.Context, c contracts.Constraint) error {
	validation, err := marshalJSON(c.Validation)
	if err != nil {
		return err
	}
	query := `INSERT INTO constraints (` + constraintCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.runner.ExecContext(ctx, s.q(query),
		c.OrganizationID, c.ID, c.Name, c.Description, string(c.Type),
		validation, c.IsImmutable, fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert constraint: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) GetConstraint(ctx context.Context, orgID, constraintID string) (contracts.Constraint, error) {
	query := `SELECT ` + constraintCols + ` FROM constraints WHERE organization_id = ? AND id = ?`
	c, err := scanConstraint(s.runner.QueryRowContext(ctx, s.q(query), orgID, constraintID))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Constraint{}, ErrNotFound
	}
	if err != nil {
		return contracts.Constraint{}, fmt.Errorf("get constraint: %w", err)
	}
	return c, nil
}

func (s *SQL) UpdateConstraint(ctx context.Context, c contracts.Constraint) error {
	validation, err := marshalJSON(c.Validation)
	if err != nil {
		return err
	}
	query := `UPDATE constraints SET name = ?, description = ?, constraint_type = ?, validation = ?,
		is_immutable = ?, created_at = ?, updated_at = ?
		WHERE organization_id = ? AND id = ?`
	res, err := s.runner.ExecContext(ctx, s.q(query),
		c.Name, c.Description, string(c.Type), validation,
		c.IsImmutable, fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt),
		c.OrganizationID, c.ID)
	if err != nil {
		return fmt.Errorf("update constraint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) ListConstraintsForDecision(ctx context.Context, orgID, decisionID string) ([]contracts.Constraint, error) {
	query := `SELECT ` + constraintCols + ` FROM constraints
		WHERE organization_id = ?
		  AND id IN (SELECT constraint_id FROM decision_constraint_links
			WHERE organization_id = ? AND decision_id = ?)
		ORDER BY id`
	rows, err := s.runner.QueryContext(ctx, s.q(query), orgID, orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list constraints for decision: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Constraint
	for rows.Next() {
		c, err := scanConstraint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQL) LinkConstraint(ctx context.Context, link contracts.ConstraintLink) error {
	ok, err := s.decisionExists(ctx, link.OrganizationID, link.DecisionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	ok, err = s.exists(ctx, `SELECT 1 FROM constraints WHERE organization_id = ? AND id = ?`,
		link.OrganizationID, link.ConstraintID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	query := `INSERT INTO decision_constraint_links (organization_id, decision_id, constraint_id, created_at)
		VALUES (?, ?, ?, ?)`
	_, err = s.runner.ExecContext(ctx, s.q(query),
		link.OrganizationID, link.DecisionID, link.ConstraintID, fmtTime(link.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert constraint link: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) UnlinkConstraint(ctx context.Context, orgID, decisionID, constraintID string) error {
	query := `DELETE FROM decision_constraint_links
		WHERE organization_id = ? AND decision_id = ? AND constraint_id = ?`
	res, err := s.runner.ExecContext(ctx, s.q(query), orgID, decisionID, constraintID)
	if err != nil {
		return fmt.Errorf("delete constraint link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) ListDecisionIDsForConstraint(ctx context.Context, orgID, constraintID string) ([]string, error) {
	query := `SELECT decision_id FROM decision_constraint_links
		WHERE organization_id = ? AND constraint_id = ? ORDER BY decision_id`
	return s.listIDs(ctx, query, orgID, constraintID)
}
