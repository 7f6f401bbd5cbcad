package service

import (
	"context"
	"fmt"

	"github.com/decivue/core/pkg/detector"
)

// RegisterDetectorPack loads a WASI detector pack into the sandbox and
// registers it under its pack name. Requires both the sandbox and the
// detector runner to be configured.
func (s *Service) RegisterDetectorPack(ctx context.Context, pack detector.Pack) error {
	if s.detectors == nil || s.sandbox == nil {
		return fmt.Errorf("%w: detector sandbox", ErrNotConfigured)
	}
	if pack.Name == "" {
		return invalidf("pack name must not be empty")
	}
	if len(pack.Wasm) == 0 {
		return invalidf("pack %s has no module bytes", pack.Name)
	}
	if err := s.detectors.Register(pack.Name, s.sandbox.Detector(pack)); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "detector pack registered",
		"pack", pack.Name, "hash", pack.Hash())
	return nil
}

// RegisterDetector registers a built-in detector.
func (s *Service) RegisterDetector(name string, d detector.Detector) error {
	if s.detectors == nil {
		return fmt.Errorf("%w: detector runner", ErrNotConfigured)
	}
	return s.detectors.Register(name, d)
}

// RunDetectors runs every registered detector against the
// organization, reconciles governance tiers for decisions named by
// new conflicts, and queues those decisions for re-evaluation.
func (s *Service) RunDetectors(ctx context.Context, orgID string) (detector.Report, error) {
	if s.detectors == nil {
		return detector.Report{}, fmt.Errorf("%w: detector runner", ErrNotConfigured)
	}
	report, err := s.detectors.Run(ctx, orgID)
	if err != nil {
		return detector.Report{}, err
	}

	for _, id := range report.AffectedDecisions {
		if _, err := s.governance.ReconcileTier(ctx, orgID, id); err != nil {
			s.logger.WarnContext(ctx, "tier reconciliation failed",
				"decision_id", id, "error", err)
		}
	}
	if len(report.AffectedDecisions) > 0 {
		if err := s.store.MarkNeedsEvaluation(ctx, orgID, report.AffectedDecisions); err != nil {
			return report, fmt.Errorf("mark affected decisions: %w", err)
		}
	}
	return report, nil
}
