package store

import (
	"context"
	"fmt"

	"github.com/decivue/core/pkg/contracts"
)

func (s *SQL) CreateDependency(ctx context.Context, e contracts.DependencyEdge) error {
	for _, id := range []string{e.SourceID, e.TargetID} {
		ok, err := s.decisionExists(ctx, e.OrganizationID, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
	}
	query := `INSERT INTO dependency_edges (organization_id, source_id, target_id, created_at)
		VALUES (?, ?, ?, ?)`
	_, err := s.runner.ExecContext(ctx, s.q(query),
		e.OrganizationID, e.SourceID, e.TargetID, fmtTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert dependency edge: %w", mapWriteErr(err))
	}
	return nil
}

func (s *SQL) DeleteDependency(ctx context.Context, orgID, sourceID, targetID string) error {
	query := `DELETE FROM dependency_edges
		WHERE organization_id = ? AND source_id = ? AND target_id = ?`
	res, err := s.runner.ExecContext(ctx, s.q(query), orgID, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("delete dependency edge: %w", err)
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

func (s *SQL) ListDependencies(ctx context.Context, orgID, decisionID string) ([]contracts.DecisionSnapshot, error) {
	query := `SELECT d.id, d.lifecycle, d.health_signal
		FROM dependency_edges e
		JOIN decisions d ON d.organization_id = e.organization_id AND d.id = e.target_id
		WHERE e.organization_id = ? AND e.source_id = ?
		ORDER BY d.id`
	rows, err := s.runner.QueryContext(ctx, s.q(query), orgID, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.DecisionSnapshot
	for rows.Next() {
		var snap contracts.DecisionSnapshot
		if err := rows.Scan(&snap.ID, &snap.Lifecycle, &snap.HealthSignal); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQL) ListDependents(ctx context.Context, orgID, targetID string) ([]string, error) {
	query := `SELECT source_id FROM dependency_edges
		WHERE organization_id = ? AND target_id = ? ORDER BY source_id`
	return s.listIDs(ctx, query, orgID, targetID)
}

func (s *SQL) ListEdges(ctx context.Context, orgID string) ([]contracts.DependencyEdge, error) {
	query := `SELECT organization_id, source_id, target_id, created_at
		FROM dependency_edges
		WHERE organization_id = ?
		ORDER BY source_id, target_id`
	rows, err := s.runner.QueryContext(ctx, s.q(query), orgID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.DependencyEdge
	for rows.Next() {
		var (
			e         contracts.DependencyEdge
			createdAt string
		)
		if err := rows.Scan(&e.OrganizationID, &e.SourceID, &e.TargetID, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseStoredTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
