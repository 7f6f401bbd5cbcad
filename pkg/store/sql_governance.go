package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/decivue/core/pkg/contracts"
)

const auditCols = `organization_id, id, decision_id, action, requester, approver,
	justification, previous_state, new_state, proposed_changes, reviewer_notes,
	created_at, resolved_at`

func scanAuditEntry(sc rowScanner) (contracts.GovernanceAuditEntry, error) {
	var (
		e             contracts.GovernanceAuditEntry
		previousState sql.NullString
		newState      sql.NullString
		proposed      sql.NullString
		createdAt     string
		resolvedAt    sql.NullString
	)
	err := sc.Scan(&e.OrganizationID, &e.ID, &e.DecisionID, &e.Action, &e.Requester, &e.Approver,
		&e.Justification, &previousState, &newState, &proposed, &e.ReviewerNotes,
		&createdAt, &resolvedAt)
	if err != nil {
		return contracts.GovernanceAuditEntry{}, err
	}
	e.CreatedAt = parseStoredTime(createdAt)
	e.ResolvedAt = parseStoredTimePtr(resolvedAt)
	if err := unmarshalInto(previousState, &e.PreviousState); err != nil {
		return contracts.GovernanceAuditEntry{}, err
	}
	if err := unmarshalInto(newState, &e.NewState); err != nil {
		return contracts.GovernanceAuditEntry{}, err
	}
	if err := unmarshalInto(proposed, &e.ProposedChanges); err != nil {
		return contracts.GovernanceAuditEntry{}, err
	}
	return e, nil
}

func auditArgs(e contracts.GovernanceAuditEntry) ([]any, error) {
	previousState, err := marshalJSON(e.PreviousState)
	if err != nil {
		return nil, err
	}
	newState, err := marshalJSON(e.NewState)
	if err != nil {
		return nil, err
	}
	proposed, err := marshalJSON(e.ProposedChanges)
	if err != nil {
		return nil, err
	}
	return []any{
		e.OrganizationID, e.ID, e.DecisionID, string(e.Action), e.Requester, e.Approver,
		e.Justification, previousState, newState, proposed, e.ReviewerNotes,
		fmtTime(e.CreatedAt), fmtTimePtr(e.ResolvedAt),
	}, nil
}

func (s *SQL) AppendAuditEntry(ctx context.Context, e contracts.GovernanceAuditEntry) error {
	args, err := auditArgs(e)
	if err != nil {
		return err
	}
	query := `INSERT INTO governance_audit_entries (` + auditCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.runner.ExecContext(ctx, s.q(query), args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) GetAuditEntry(ctx context.Context, orgID, entryID string) (contracts.GovernanceAuditEntry, error) {
	query := `SELECT ` + auditCols + ` FROM governance_audit_entries
		WHERE organization_id = ? AND id = ?`
	e, err := scanAuditEntry(s.runner.QueryRowContext(ctx, s.q(query), orgID, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.GovernanceAuditEntry{}, ErrNotFound
	}
	if err != nil {
		return contracts.GovernanceAuditEntry{}, fmt.Errorf("get audit entry: %w", err)
	}
	return e, nil
}

func (s *SQL) UpdateAuditEntry(ctx context.Context, e contracts.GovernanceAuditEntry) error {
	args, err := auditArgs(e)
	if err != nil {
		return err
	}
	args = append(args[2:], e.OrganizationID, e.ID)
	query := `UPDATE governance_audit_entries SET
		decision_id = ?, action = ?, requester = ?, approver = ?,
		justification = ?, previous_state = ?, new_state = ?, proposed_changes = ?,
		reviewer_notes = ?, created_at = ?, resolved_at = ?
		WHERE organization_id = ? AND id = ?`
	res, err := s.runner.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("update audit entry: %w", err)
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

func (s *SQL) ListAuditEntries(ctx context.Context, orgID, decisionID string) ([]contracts.GovernanceAuditEntry, error) {
	query := `SELECT ` + auditCols + ` FROM governance_audit_entries
		WHERE organization_id = ? AND decision_id = ?
		ORDER BY created_at DESC, id`
	return s.listAudit(ctx, query, orgID, decisionID)
}

func (s *SQL) ListOpenEditRequests(ctx context.Context, orgID, decisionID string) ([]contracts.GovernanceAuditEntry, error) {
	query := `SELECT ` + auditCols + ` FROM governance_audit_entries
		WHERE organization_id = ? AND decision_id = ?
		  AND action = 'EDIT_REQUESTED' AND resolved_at IS NULL
		ORDER BY created_at ASC, id`
	return s.listAudit(ctx, query, orgID, decisionID)
}

func (s *SQL) listAudit(ctx context.Context, query string, args ...any) ([]contracts.GovernanceAuditEntry, error) {
	rows, err := s.runner.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.GovernanceAuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- conflicts ---

func (s *SQL) RecordAssumptionConflict(ctx context.Context, c contracts.AssumptionConflict) error {
	query := `INSERT INTO assumption_conflicts (
		organization_id, id, assumption_id, decision_id, description,
		detected_by, resolved, detected_at, resolved_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.runner.ExecContext(ctx, s.q(query),
		c.OrganizationID, c.ID, c.AssumptionID, c.DecisionID, c.Description,
		c.DetectedBy, c.Resolved, fmtTime(c.DetectedAt), fmtTimePtr(c.ResolvedAt))
	if err != nil {
		return fmt.Errorf("insert assumption conflict: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) RecordDecisionConflict(ctx context.Context, c contracts.DecisionConflict) error {
	query := `INSERT INTO decision_conflicts (
		organization_id, id, decision_id, other_id, description,
		detected_by, resolved, detected_at, resolved_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.runner.ExecContext(ctx, s.q(query),
		c.OrganizationID, c.ID, c.DecisionID, c.OtherID, c.Description,
		c.DetectedBy, c.Resolved, fmtTime(c.DetectedAt), fmtTimePtr(c.ResolvedAt))
	if err != nil {
		return fmt.Errorf("insert decision conflict: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) ResolveAssumptionConflict(ctx context.Context, orgID, conflictID string, resolvedAt time.Time) error {
	return s.resolveConflict(ctx, "assumption_conflicts", orgID, conflictID, resolvedAt)
}

func (s *SQL) ResolveDecisionConflict(ctx context.Context, orgID, conflictID string, resolvedAt time.Time) error {
	return s.resolveConflict(ctx, "decision_conflicts", orgID, conflictID, resolvedAt)
}

func (s *SQL) resolveConflict(ctx context.Context, table, orgID, conflictID string, resolvedAt time.Time) error {
	query := `UPDATE ` + table + ` SET resolved = TRUE, resolved_at = ?
		WHERE organization_id = ? AND id = ?`
	res, err := s.runner.ExecContext(ctx, s.q(query), fmtTime(resolvedAt), orgID, conflictID)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
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

func (s *SQL) CountOpenConflicts(ctx context.Context, orgID, decisionID string) (ConflictCounts, error) {
	var counts ConflictCounts

	decisionQuery := `SELECT COUNT(*) FROM decision_conflicts
		WHERE organization_id = ? AND NOT resolved
		  AND (decision_id = ? OR other_id = ?)`
	err := s.runner.QueryRowContext(ctx, s.q(decisionQuery), orgID, decisionID, decisionID).
		Scan(&counts.Decision)
	if err != nil {
		return ConflictCounts{}, fmt.Errorf("count decision conflicts: %w", err)
	}

	assumptionQuery := `SELECT COUNT(*) FROM assumption_conflicts
		WHERE organization_id = ? AND NOT resolved
		  AND (decision_id = ?
			OR assumption_id IN (SELECT assumption_id FROM decision_assumption_links
				WHERE organization_id = ? AND decision_id = ?))`
	err = s.runner.QueryRowContext(ctx, s.q(assumptionQuery), orgID, decisionID, orgID, decisionID).
		Scan(&counts.Assumption)
	if err != nil {
		return ConflictCounts{}, fmt.Errorf("count assumption conflicts: %w", err)
	}
	return counts, nil
}

// --- notifications ---

func (s *SQL) AppendNotification(ctx context.Context, n contracts.Notification) error {
	fields, err := marshalJSON(n.Fields)
	if err != nil {
		return err
	}
	query := `INSERT INTO notifications (
		organization_id, id, decision_id, notification_type, severity, message, fields, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.runner.ExecContext(ctx, s.q(query),
		n.OrganizationID, n.ID, n.DecisionID, string(n.Type), string(n.Severity),
		n.Message, fields, fmtTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) ListNotifications(ctx context.Context, orgID string, limit int) ([]contracts.Notification, error) {
	query := `SELECT organization_id, id, decision_id, notification_type, severity, message, fields, created_at
		FROM notifications
		WHERE organization_id = ?
		ORDER BY created_at DESC, id`
	args := []any{orgID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.runner.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Notification
	for rows.Next() {
		var (
			n         contracts.Notification
			fields    sql.NullString
			createdAt string
		)
		err := rows.Scan(&n.OrganizationID, &n.ID, &n.DecisionID, &n.Type, &n.Severity,
			&n.Message, &fields, &createdAt)
		if err != nil {
			return nil, err
		}
		n.CreatedAt = parseStoredTime(createdAt)
		if err := unmarshalInto(fields, &n.Fields); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
