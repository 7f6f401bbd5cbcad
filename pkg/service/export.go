package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/decivue/core/pkg/canonicalize"
	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/history"
	"github.com/decivue/core/pkg/keyring"
)

// TimelineBundle is the exportable form of one decision's full audit
// trail. The bundle is canonicalized before signing, so two exports of
// identical state produce identical payload bytes.
type TimelineBundle struct {
	OrganizationID string             `json:"organization_id"`
	DecisionID     string             `json:"decision_id"`
	ExportedAt     time.Time          `json:"exported_at"`
	Decision       contracts.Decision `json:"decision"`
	Entries        []history.Entry    `json:"entries"`
}

// SignedBundle is what lands in the archive: the canonical payload
// plus the organization key's signature over those exact bytes.
type SignedBundle struct {
	Payload   json.RawMessage  `json:"payload"`
	Signature keyring.Envelope `json:"signature"`
}

// ExportReceipt tells the caller where the bundle lives and which key
// signed it.
type ExportReceipt struct {
	Address    string    `json:"address"`
	KeyID      string    `json:"key_id"`
	Entries    int       `json:"entries"`
	ExportedAt time.Time `json:"exported_at"`
}

// ExportTimeline signs the decision's merged timeline with the
// organization's derived key and stores it in the archive. Requires
// both an archive backend and a signing master to be configured.
func (s *Service) ExportTimeline(ctx context.Context, actor contracts.Actor, decisionID string) (ExportReceipt, error) {
	if s.archive == nil {
		return ExportReceipt{}, fmt.Errorf("%w: archive backend", ErrNotConfigured)
	}
	if s.signer == nil {
		return ExportReceipt{}, fmt.Errorf("%w: signing keyring", ErrNotConfigured)
	}

	orgID := actor.OrganizationID
	d, err := s.store.GetDecision(ctx, orgID, decisionID)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("get decision: %w", err)
	}
	entries, err := history.Timeline(ctx, s.store, orgID, decisionID, 0)
	if err != nil {
		return ExportReceipt{}, err
	}

	bundle := TimelineBundle{
		OrganizationID: orgID,
		DecisionID:     decisionID,
		ExportedAt:     s.clock().UTC(),
		Decision:       d,
		Entries:        entries,
	}
	payload, err := canonicalize.JCS(bundle)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("canonicalize bundle: %w", err)
	}

	orgKey, err := s.signer.ForOrganization(orgID)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("derive organization key: %w", err)
	}
	env, err := orgKey.Sign(payload)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("sign bundle: %w", err)
	}

	raw, err := json.Marshal(SignedBundle{Payload: payload, Signature: env})
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("encode signed bundle: %w", err)
	}
	addr, err := s.archive.Put(ctx, raw)
	if err != nil {
		return ExportReceipt{}, fmt.Errorf("archive bundle: %w", err)
	}

	s.logger.InfoContext(ctx, "timeline exported",
		"decision_id", decisionID, "address", addr, "entries", len(entries))
	return ExportReceipt{
		Address:    addr,
		KeyID:      env.KeyID,
		Entries:    len(entries),
		ExportedAt: bundle.ExportedAt,
	}, nil
}

// FetchTimelineExport loads a stored bundle, checks its signature, and
// returns the decoded payload.
func (s *Service) FetchTimelineExport(ctx context.Context, address string) (TimelineBundle, error) {
	if s.archive == nil {
		return TimelineBundle{}, fmt.Errorf("%w: archive backend", ErrNotConfigured)
	}
	raw, err := s.archive.Get(ctx, address)
	if err != nil {
		return TimelineBundle{}, fmt.Errorf("fetch bundle: %w", err)
	}
	return VerifyBundle(raw)
}

// VerifyBundle checks a signed bundle's signature over its exact
// payload bytes and decodes the payload. Tampering with either part
// fails verification.
func VerifyBundle(raw []byte) (TimelineBundle, error) {
	var signed SignedBundle
	if err := json.Unmarshal(raw, &signed); err != nil {
		return TimelineBundle{}, fmt.Errorf("decode signed bundle: %w", err)
	}
	ok, err := keyring.Verify(signed.Payload, signed.Signature)
	if err != nil {
		return TimelineBundle{}, fmt.Errorf("verify bundle: %w", err)
	}
	if !ok {
		return TimelineBundle{}, fmt.Errorf("bundle signature does not verify")
	}
	var bundle TimelineBundle
	if err := json.Unmarshal(signed.Payload, &bundle); err != nil {
		return TimelineBundle{}, fmt.Errorf("decode bundle payload: %w", err)
	}
	return bundle, nil
}
