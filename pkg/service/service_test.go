package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/decivue/core/pkg/archive"
	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/detector"
	"github.com/decivue/core/pkg/engine"
	"github.com/decivue/core/pkg/governance"
	"github.com/decivue/core/pkg/graph"
	"github.com/decivue/core/pkg/keyring"
	"github.com/decivue/core/pkg/notify"
	"github.com/decivue/core/pkg/predicate"
	"github.com/decivue/core/pkg/scheduler"
	"github.com/decivue/core/pkg/service"
	"github.com/decivue/core/pkg/store"
)

var svcNow = time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)

var (
	svcLead   = contracts.Actor{UserID: "lead-1", OrganizationID: "org-1", Role: contracts.RoleLead}
	svcLead2  = contracts.Actor{UserID: "lead-2", OrganizationID: "org-1", Role: contracts.RoleLead}
	svcMember = contracts.Actor{UserID: "member-1", OrganizationID: "org-1", Role: contracts.RoleMember}
)

type svcDirectory struct{}

func (svcDirectory) Leads(_ context.Context, orgID string) ([]contracts.Actor, error) {
	if orgID != "org-1" {
		return nil, nil
	}
	return []contracts.Actor{svcLead, svcLead2}, nil
}

type svcFixture struct {
	svc      *service.Service
	store    store.Store
	notifier *notify.Memory
	archive  archive.Backend
	signer   *keyring.Keyring
}

func newFixture(t *testing.T) *svcFixture {
	t.Helper()
	st := store.NewMemory()
	n := notify.NewMemory()
	clk := func() time.Time { return svcNow }

	validator, err := predicate.NewValidator()
	require.NoError(t, err)
	eng := engine.New(validator)
	sched := scheduler.New(st, eng,
		scheduler.WithClock(clk),
		scheduler.WithNotifier(n))
	mgr := governance.NewManager(st, svcDirectory{}, n).WithClock(clk)

	fs, err := archive.NewFS(t.TempDir())
	require.NoError(t, err)
	provider, err := keyring.NewMemoryProviderFromSeed(bytes.Repeat([]byte{0x5a}, 32))
	require.NoError(t, err)
	master := keyring.New(provider)

	svc, err := service.New(service.Deps{
		Store:      st,
		Governance: mgr,
		Scheduler:  sched,
		Detectors:  detector.NewRunner(st).WithClock(clk),
		Archive:    fs,
		Signer:     master,
		Notifier:   n,
	}, service.WithClock(clk))
	require.NoError(t, err)

	return &svcFixture{svc: svc, store: st, notifier: n, archive: fs, signer: master}
}

func (f *svcFixture) createDecision(t *testing.T, actor contracts.Actor, in service.CreateDecisionInput) contracts.Decision {
	t.Helper()
	if in.Title == "" {
		in.Title = "Adopt managed Postgres"
	}
	d, err := f.svc.CreateDecision(context.Background(), actor, in)
	require.NoError(t, err)
	return d
}

func ptr[T any](v T) *T { return &v }

func TestCreateDecisionSeedsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.createDecision(t, svcLead, service.CreateDecisionInput{
		Description: "Move primary storage to a managed offering",
		Category:    "infrastructure",
	})

	require.Equal(t, contracts.LifecycleStable, d.Lifecycle)
	require.Equal(t, 100, d.HealthSignal)
	require.True(t, d.NeedsEvaluation)
	require.Equal(t, "lead-1", d.CreatedBy)

	// Base 50 plus the pending-evaluation factor.
	require.Equal(t, 60, d.ReviewUrgencyScore)
	require.Equal(t, 30, d.ReviewFrequencyDays)
	require.NotNil(t, d.NextReviewDate)
	require.Equal(t, svcNow.Add(30*24*time.Hour), *d.NextReviewDate)

	versions, err := f.svc.GetVersionHistory(ctx, svcLead, d.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, 1, versions[0].VersionNumber)
	require.Equal(t, contracts.ChangeCreated, versions[0].ChangeType)
	require.Equal(t, d.Title, versions[0].Snapshot.Title)
	require.NotEmpty(t, versions[0].SnapshotHash)
}

func TestCreateDecisionRejectsBlankTitle(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateDecision(context.Background(), svcLead, service.CreateDecisionInput{Title: "   "})
	require.ErrorIs(t, err, service.ErrInvalidInput)
	require.Equal(t, service.CodeInvalid, service.CodeForError(err))
}

func TestUpdateDecisionAppliesAndVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{Category: "infrastructure"})

	// Clear the creation dirty flag so the re-mark is observable.
	_, err := f.svc.RunEvaluationBatch(ctx, "org-1")
	require.NoError(t, err)

	out, err := f.svc.UpdateDecision(ctx, svcLead, service.UpdateDecisionInput{
		DecisionID:  d.ID,
		Title:       ptr("Adopt managed Postgres everywhere"),
		Description: ptr("Extend the managed offering to all regions"),
	})
	require.NoError(t, err)
	require.Equal(t, service.CodeOK, out.Code)
	require.Equal(t, "Adopt managed Postgres everywhere", out.Decision.Title)

	stored, err := f.store.GetDecision(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.Equal(t, "Adopt managed Postgres everywhere", stored.Title)
	require.True(t, stored.NeedsEvaluation, "edited decision is queued for re-evaluation")

	versions, err := f.svc.GetVersionHistory(ctx, svcLead, d.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, contracts.ChangeFieldUpdated, versions[1].ChangeType)
	require.Len(t, versions[1].ChangedFields, 2)
	require.Equal(t, "Adopt managed Postgres", versions[1].ChangedFields["title"].Old)
}

func TestUpdateDecisionNoopWithoutChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{})

	out, err := f.svc.UpdateDecision(ctx, svcLead, service.UpdateDecisionInput{
		DecisionID: d.ID,
		Title:      ptr(d.Title),
	})
	require.NoError(t, err)
	require.Equal(t, service.CodeOK, out.Code)

	versions, err := f.svc.GetVersionHistory(ctx, svcLead, d.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1, "identical values append no version")
}

func TestUpdateDecisionRejectsRetired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	retired := contracts.Decision{
		ID:             "d-retired",
		OrganizationID: "org-1",
		CreatedBy:      "lead-1",
		Title:          "Sunset the on-prem cluster",
		Lifecycle:      contracts.LifecycleRetired,
		GovernanceTier: contracts.TierStandard,
		CreatedAt:      svcNow.AddDate(0, -6, 0),
	}
	require.NoError(t, f.store.CreateDecision(ctx, retired))

	_, err := f.svc.UpdateDecision(ctx, svcLead, service.UpdateDecisionInput{
		DecisionID: retired.ID,
		Title:      ptr("Revive the cluster"),
	})
	require.ErrorIs(t, err, service.ErrTerminalState)
	require.Equal(t, service.CodeTerminalState, service.CodeForError(err))
}

// TestEditApprovalFlow walks a member edit through the full ceremony:
// justification gate, request filing, deduplication, and second
// reviewer approval that applies the proposal.
func TestEditApprovalFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{
		Category:                  "pricing",
		GovernanceMode:            true,
		RequiresSecondReviewer:    true,
		EditJustificationRequired: true,
	})

	proposed := "Adopt usage-based pricing"

	// Eight characters is under the justification floor.
	out, err := f.svc.UpdateDecision(ctx, svcMember, service.UpdateDecisionInput{
		DecisionID:    d.ID,
		Title:         ptr(proposed),
		Justification: "deadline",
	})
	require.NoError(t, err)
	require.Equal(t, service.CodeRequiresJustification, out.Code)
	require.Empty(t, out.PendingRequestID)

	open, err := f.store.ListOpenEditRequests(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.Empty(t, open, "a rejected justification files nothing")

	// A thirty-character justification passes the gate and files an
	// edit request on the member's behalf.
	justification := "supersedes Q3 pricing decision"
	out, err = f.svc.UpdateDecision(ctx, svcMember, service.UpdateDecisionInput{
		DecisionID:    d.ID,
		Title:         ptr(proposed),
		Justification: justification,
	})
	require.NoError(t, err)
	require.Equal(t, service.CodeRequiresApproval, out.Code)
	require.NotEmpty(t, out.PendingRequestID)

	open, err = f.store.ListOpenEditRequests(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, out.PendingRequestID, open[0].ID)
	require.Equal(t, contracts.ActionEditRequested, open[0].Action)
	require.Equal(t, "member-1", open[0].Requester)
	require.Equal(t, justification, open[0].Justification)
	require.NotNil(t, open[0].ProposedChanges)
	require.Equal(t, proposed, *open[0].ProposedChanges.Title)

	// Retrying the same edit reuses the open request.
	out2, err := f.svc.UpdateDecision(ctx, svcMember, service.UpdateDecisionInput{
		DecisionID:    d.ID,
		Title:         ptr(proposed),
		Justification: justification,
	})
	require.NoError(t, err)
	require.Equal(t, service.CodeRequiresApproval, out2.Code)
	require.Equal(t, out.PendingRequestID, out2.PendingRequestID)

	open, err = f.store.ListOpenEditRequests(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	// A different lead approves; the proposal lands with a version.
	entry, err := f.svc.ResolveEdit(ctx, svcLead, out.PendingRequestID, true, "checked against Q3 goals")
	require.NoError(t, err)
	require.Equal(t, contracts.ActionEditApproved, entry.Action)
	require.True(t, entry.Resolved())
	require.Equal(t, "lead-1", entry.Approver)

	stored, err := f.store.GetDecision(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.Equal(t, proposed, stored.Title)
	require.True(t, stored.NeedsEvaluation)

	versions, err := f.svc.GetVersionHistory(ctx, svcLead, d.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, contracts.ChangeFieldUpdated, versions[1].ChangeType)
	require.Equal(t, "member-1", versions[1].CreatedBy)
	require.Equal(t, entry.ID, versions[1].Metadata["edit_request_id"])

	open, err = f.store.ListOpenEditRequests(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.Empty(t, open)
}

// TestLinkDependencyRejectsCycle proves the graph invariant: with
// edges A→B and B→C in place, the edge C→A is refused and nothing
// about the graph changes.
func TestLinkDependencyRejectsCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createDecision(t, svcLead, service.CreateDecisionInput{Title: "Build on EKS"})
	b := f.createDecision(t, svcLead, service.CreateDecisionInput{Title: "Standardize on AWS"})
	c := f.createDecision(t, svcLead, service.CreateDecisionInput{Title: "Keep infra team under five"})

	require.NoError(t, f.svc.LinkDependency(ctx, svcLead, a.ID, b.ID, "EKS assumes AWS"))
	require.NoError(t, f.svc.LinkDependency(ctx, svcLead, b.ID, c.ID, "managed services keep the team small"))

	err := f.svc.LinkDependency(ctx, svcLead, c.ID, a.ID, "closing the loop")
	require.ErrorIs(t, err, graph.ErrCyclicDependency)
	require.Equal(t, service.CodeCyclicDependency, service.CodeForError(err))

	edges, err := f.store.ListEdges(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, edges, 2, "the rejected edge left no trace")

	relations, err := f.svc.GetRelationHistory(ctx, svcLead, c.ID)
	require.NoError(t, err)
	require.Empty(t, relations)

	// Self-edges are the degenerate cycle.
	err = f.svc.LinkDependency(ctx, svcLead, a.ID, a.ID, "")
	require.ErrorIs(t, err, graph.ErrCyclicDependency)
}

func TestLinkAssumptionRejectsUniversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{})
	u, err := f.svc.CreateAssumption(ctx, svcLead, service.CreateAssumptionInput{
		Description: "The company stays EU-headquartered",
		Scope:       contracts.ScopeUniversal,
	})
	require.NoError(t, err)

	err = f.svc.LinkAssumption(ctx, svcLead, d.ID, u.ID, "")
	require.ErrorIs(t, err, service.ErrUniversalAssumption)
	require.Equal(t, service.CodeConflict, service.CodeForError(err))
}

func TestLinkAssumptionRecordsRelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{})
	a, err := f.svc.CreateAssumption(ctx, svcLead, service.CreateAssumptionInput{
		Description: "AWS remains the primary cloud",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.LinkAssumption(ctx, svcLead, d.ID, a.ID, "decision presumes AWS"))

	relations, err := f.svc.GetRelationHistory(ctx, svcLead, d.ID)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	require.Equal(t, contracts.RelationAssumption, relations[0].RelationType)
	require.Equal(t, contracts.RelationLinked, relations[0].Action)
	require.Equal(t, a.ID, relations[0].RelationID)
	require.Equal(t, "lead-1", relations[0].ChangedBy)

	// Linking twice is a conflict, not a silent duplicate.
	err = f.svc.LinkAssumption(ctx, svcLead, d.ID, a.ID, "")
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, f.svc.UnlinkAssumption(ctx, svcLead, d.ID, a.ID, "superseded"))
	relations, err = f.svc.GetRelationHistory(ctx, svcLead, d.ID)
	require.NoError(t, err)
	require.Len(t, relations, 2)
	require.Equal(t, contracts.RelationUnlinked, relations[0].Action)
}

func TestSetAssumptionStatusPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.createDecision(t, svcLead, service.CreateDecisionInput{Title: "Build on EKS"})
	d2 := f.createDecision(t, svcLead, service.CreateDecisionInput{Title: "Quarterly pricing reviews"})

	a, err := f.svc.CreateAssumption(ctx, svcLead, service.CreateAssumptionInput{
		Description: "AWS remains the primary cloud",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.LinkAssumption(ctx, svcLead, d1.ID, a.ID, ""))

	updated, affected, err := f.svc.SetAssumptionStatus(ctx, svcLead, a.ID, contracts.AssumptionBroken)
	require.NoError(t, err)
	require.Equal(t, contracts.AssumptionBroken, updated.Status)
	require.Equal(t, []string{d1.ID}, affected, "only the linked decision is touched")

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, contracts.NotifyAssumptionBroken, sent[0].Type)
	require.Equal(t, contracts.SeverityWarning, sent[0].Severity)

	// Same status again is a no-op.
	_, affected, err = f.svc.SetAssumptionStatus(ctx, svcLead, a.ID, contracts.AssumptionBroken)
	require.NoError(t, err)
	require.Empty(t, affected)
	require.Len(t, f.notifier.Sent(), 1)

	// A universal assumption touches the whole organization.
	u, err := f.svc.CreateAssumption(ctx, svcLead, service.CreateAssumptionInput{
		Description: "Headcount stays flat",
		Scope:       contracts.ScopeUniversal,
	})
	require.NoError(t, err)
	_, affected, err = f.svc.SetAssumptionStatus(ctx, svcLead, u.ID, contracts.AssumptionShaky)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{d1.ID, d2.ID}, affected)
}

func TestReviewDeferralStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{})

	for i := 1; i <= 3; i++ {
		rev, err := f.svc.ReviewDecision(ctx, svcLead, service.ReviewInput{
			DecisionID:     d.ID,
			Outcome:        contracts.OutcomeDeferred,
			DeferralReason: "waiting on vendor renewal terms",
		})
		require.NoError(t, err)
		require.Equal(t, contracts.OutcomeDeferred, rev.Outcome)

		stored, err := f.store.GetDecision(ctx, "org-1", d.ID)
		require.NoError(t, err)
		require.Equal(t, i, stored.ConsecutiveDeferrals)
		require.Nil(t, stored.LastReviewedAt, "deferrals never advance the review anchor")
	}

	// Three consecutive deferrals raise the alarm and shorten the
	// review cadence.
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, contracts.NotifyNeedsReview, sent[0].Type)

	stored, err := f.store.GetDecision(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.Equal(t, 80, stored.ReviewUrgencyScore)
	require.Equal(t, 7, stored.ReviewFrequencyDays)

	rev, err := f.svc.ReviewDecision(ctx, svcLead, service.ReviewInput{
		DecisionID: d.ID,
		ReviewType: contracts.ReviewRoutine,
		Outcome:    contracts.OutcomeReaffirmed,
		Comment:    "still the right call",
	})
	require.NoError(t, err)
	require.Equal(t, contracts.LifecycleStable, rev.PreLifecycle)
	require.Equal(t, 100, rev.PostHealth)

	stored, err = f.store.GetDecision(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.Zero(t, stored.ConsecutiveDeferrals)
	require.NotNil(t, stored.LastReviewedAt)
	require.Equal(t, svcNow, *stored.LastReviewedAt)

	reviews, err := f.store.ListReviews(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 4)
}

func TestReviewDecisionGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ReviewDecision(ctx, svcLead, service.ReviewInput{
		DecisionID: "d-1",
		Outcome:    contracts.ReviewOutcome("SHRUGGED"),
	})
	require.ErrorIs(t, err, service.ErrInvalidInput)

	retired := contracts.Decision{
		ID:             "d-retired",
		OrganizationID: "org-1",
		Title:          "Sunset the on-prem cluster",
		Lifecycle:      contracts.LifecycleRetired,
		GovernanceTier: contracts.TierStandard,
		CreatedAt:      svcNow.AddDate(0, -6, 0),
	}
	require.NoError(t, f.store.CreateDecision(ctx, retired))
	_, err = f.svc.ReviewDecision(ctx, svcLead, service.ReviewInput{
		DecisionID: retired.ID,
		Outcome:    contracts.OutcomeReaffirmed,
	})
	require.ErrorIs(t, err, service.ErrTerminalState)
}

func TestRunEvaluationBatchClearsDirty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{})

	report, err := f.svc.RunEvaluationBatch(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Candidates)
	require.Equal(t, 1, report.Evaluated)
	require.Zero(t, report.Failed)

	stored, err := f.store.GetDecision(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.False(t, stored.NeedsEvaluation)
	require.NotNil(t, stored.LastEvaluatedAt)

	candidates, err := f.svc.GetDecisionsNeedingEvaluation(ctx, svcLead, 0)
	require.NoError(t, err)
	require.Empty(t, candidates)

	require.NoError(t, f.svc.MarkForEvaluation(ctx, svcLead, d.ID))
	candidates, err = f.svc.GetDecisionsNeedingEvaluation(ctx, svcLead, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, d.ID, candidates[0].ID)

	err = f.svc.MarkForEvaluation(ctx, svcLead, "no-such-decision")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateGovernanceSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{})

	_, err := f.svc.UpdateGovernanceSettings(ctx, svcMember, service.GovernanceSettingsInput{
		DecisionID:     d.ID,
		GovernanceMode: ptr(true),
	})
	require.ErrorIs(t, err, governance.ErrForbidden)
	require.Equal(t, service.CodeForbidden, service.CodeForError(err))

	updated, err := f.svc.UpdateGovernanceSettings(ctx, svcLead, service.GovernanceSettingsInput{
		DecisionID:             d.ID,
		GovernanceMode:         ptr(true),
		RequiresSecondReviewer: ptr(true),
	})
	require.NoError(t, err)
	require.True(t, updated.GovernanceMode)
	require.True(t, updated.RequiresSecondReviewer)

	stored, err := f.store.GetDecision(ctx, "org-1", d.ID)
	require.NoError(t, err)
	require.True(t, stored.GovernanceMode)
}

func TestDecisionDetailCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.createDecision(t, svcLead, service.CreateDecisionInput{Title: "Build on EKS"})
	d2 := f.createDecision(t, svcLead, service.CreateDecisionInput{Title: "Standardize on AWS"})

	a, err := f.svc.CreateAssumption(ctx, svcLead, service.CreateAssumptionInput{
		Description: "AWS remains the primary cloud",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.LinkAssumption(ctx, svcLead, d1.ID, a.ID, ""))

	c, err := f.svc.CreateConstraint(ctx, svcLead, service.CreateConstraintInput{
		Name: "SOC2 residency",
		Type: contracts.ConstraintCompliance,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.LinkConstraint(ctx, svcLead, d1.ID, c.ID, ""))

	require.NoError(t, f.svc.LinkDependency(ctx, svcLead, d1.ID, d2.ID, ""))

	detail, err := f.svc.GetDecision(ctx, svcLead, d1.ID)
	require.NoError(t, err)
	require.Equal(t, 1, detail.AssumptionCount)
	require.Equal(t, 1, detail.ConstraintCount)
	require.Equal(t, 1, detail.DependencyCount)
	require.Zero(t, detail.DependentCount)
	require.Equal(t, 1, detail.VersionCount)
	require.Zero(t, detail.UnresolvedConflicts)

	detail, err = f.svc.GetDecision(ctx, svcLead, d2.ID)
	require.NoError(t, err)
	require.Equal(t, 1, detail.DependentCount)
}

func TestHistoryQueriesRequireDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetVersionHistory(ctx, svcLead, "no-such-decision")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, service.CodeNotFound, service.CodeForError(err))

	_, err = f.svc.GetChangeTimeline(ctx, svcLead, "no-such-decision", 0)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestChangeTimelineMergesStreams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{})

	a, err := f.svc.CreateAssumption(ctx, svcLead, service.CreateAssumptionInput{
		Description: "AWS remains the primary cloud",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.LinkAssumption(ctx, svcLead, d.ID, a.ID, ""))

	_, err = f.svc.ReviewDecision(ctx, svcLead, service.ReviewInput{
		DecisionID: d.ID,
		Outcome:    contracts.OutcomeReaffirmed,
	})
	require.NoError(t, err)

	entries, err := f.svc.GetChangeTimeline(ctx, svcLead, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	kinds := map[string]bool{}
	for _, e := range entries {
		kinds[string(e.Type)] = true
	}
	require.True(t, kinds["VERSION"])
	require.True(t, kinds["RELATION_CHANGE"])
	require.True(t, kinds["REVIEW"])
}

func TestExportTimelineRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDecision(t, svcLead, service.CreateDecisionInput{})

	_, err := f.svc.UpdateDecision(ctx, svcLead, service.UpdateDecisionInput{
		DecisionID: d.ID,
		Title:      ptr("Adopt managed Postgres everywhere"),
	})
	require.NoError(t, err)

	receipt, err := f.svc.ExportTimeline(ctx, svcLead, d.ID)
	require.NoError(t, err)
	require.NotEmpty(t, receipt.Address)
	require.Equal(t, 2, receipt.Entries)

	orgKey, err := f.signer.ForOrganization("org-1")
	require.NoError(t, err)
	require.Equal(t, keyring.Fingerprint(orgKey.PublicKey()), receipt.KeyID)

	bundle, err := f.svc.FetchTimelineExport(ctx, receipt.Address)
	require.NoError(t, err)
	require.Equal(t, d.ID, bundle.DecisionID)
	require.Equal(t, "org-1", bundle.OrganizationID)
	require.Len(t, bundle.Entries, 2)
	require.Equal(t, "Adopt managed Postgres everywhere", bundle.Decision.Title)

	// Tampering with the payload breaks verification.
	raw, err := f.archive.Get(ctx, receipt.Address)
	require.NoError(t, err)
	var signed service.SignedBundle
	require.NoError(t, json.Unmarshal(raw, &signed))
	signed.Payload = bytes.Replace(signed.Payload, []byte("Postgres"), []byte("MariaDB!"), 1)
	tampered, err := json.Marshal(signed)
	require.NoError(t, err)
	_, err = service.VerifyBundle(tampered)
	require.ErrorContains(t, err, "does not verify")
}

func TestExportRequiresConfiguration(t *testing.T) {
	st := store.NewMemory()
	n := notify.NewMemory()
	validator, err := predicate.NewValidator()
	require.NoError(t, err)
	sched := scheduler.New(st, engine.New(validator))
	mgr := governance.NewManager(st, svcDirectory{}, n)

	svc, err := service.New(service.Deps{Store: st, Governance: mgr, Scheduler: sched})
	require.NoError(t, err)

	_, err = svc.ExportTimeline(context.Background(), svcLead, "d-1")
	require.ErrorIs(t, err, service.ErrNotConfigured)
}

func TestRunDetectorsRecordsConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.createDecision(t, svcLead, service.CreateDecisionInput{
		Title:      "US-east primary region",
		Category:   "infrastructure",
		Parameters: map[string]any{"region": "us-east-1"},
	})
	d2 := f.createDecision(t, svcLead, service.CreateDecisionInput{
		Title:      "EU-west primary region",
		Category:   "infrastructure",
		Parameters: map[string]any{"region": "eu-west-1"},
	})

	// Clean both so the detector-driven re-mark is observable.
	_, err := f.svc.RunEvaluationBatch(ctx, "org-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.RegisterDetector("parameter-contradictions", detector.ParameterContradictions()))

	report, err := f.svc.RunDetectors(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Detectors)
	require.Equal(t, 1, report.DecisionConflicts)
	require.ElementsMatch(t, []string{d1.ID, d2.ID}, report.AffectedDecisions)

	counts, err := f.store.CountOpenConflicts(ctx, "org-1", d1.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Decision)

	stored, err := f.store.GetDecision(ctx, "org-1", d1.ID)
	require.NoError(t, err)
	require.True(t, stored.NeedsEvaluation)

	// A second run deduplicates instead of stacking conflict rows.
	report, err = f.svc.RunDetectors(ctx, "org-1")
	require.NoError(t, err)
	require.Zero(t, report.DecisionConflicts)
	require.Equal(t, 1, report.Deduped)
}
