package detector_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/detector"
	"github.com/decivue/core/pkg/store"
)

var detNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedCategoryPair(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	for id, region := range map[string]string{"d-1": "eu-west-1", "d-2": "us-east-1"} {
		require.NoError(t, st.CreateDecision(ctx, contracts.Decision{
			ID:             id,
			OrganizationID: "org-1",
			Title:          "hosting for " + id,
			Category:       "infrastructure",
			Parameters:     map[string]any{"region": region},
			Lifecycle:      contracts.LifecycleStable,
			HealthSignal:   100,
			GovernanceTier: contracts.TierStandard,
			CreatedAt:      detNow,
		}))
	}
}

func TestRunRecordsAndDedupes(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	seedCategoryPair(t, st)

	r := detector.NewRunner(st).WithClock(func() time.Time { return detNow })
	require.NoError(t, r.Register("parameter-contradictions", detector.ParameterContradictions()))

	report, err := r.Run(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Detectors)
	require.Equal(t, 1, report.DecisionConflicts)
	require.Zero(t, report.Deduped)
	require.Equal(t, []string{"d-1", "d-2"}, report.AffectedDecisions)

	// Either side of the pair sees the open conflict.
	for _, id := range []string{"d-1", "d-2"} {
		counts, err := st.CountOpenConflicts(ctx, "org-1", id)
		require.NoError(t, err)
		require.Equal(t, 1, counts.Decision, id)
	}

	// A second run re-detects the same pair onto the same row.
	report, err = r.Run(ctx, "org-1")
	require.NoError(t, err)
	require.Zero(t, report.DecisionConflicts)
	require.Equal(t, 1, report.Deduped)
	require.Empty(t, report.AffectedDecisions)

	counts, err := st.CountOpenConflicts(ctx, "org-1", "d-1")
	require.NoError(t, err)
	require.Equal(t, 1, counts.Decision)
}

func TestRunStampsConflicts(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.CreateDecision(ctx, contracts.Decision{
		ID: "d-1", OrganizationID: "org-1", Title: "d-1",
		Lifecycle: contracts.LifecycleStable, HealthSignal: 100,
		GovernanceTier: contracts.TierStandard, CreatedAt: detNow,
	}))

	r := detector.NewRunner(st).WithClock(func() time.Time { return detNow })
	require.NoError(t, r.Register("stale-assumptions", detector.Func(
		func(context.Context, detector.Input) (detector.Findings, error) {
			return detector.Findings{Assumptions: []detector.AssumptionFinding{{
				AssumptionID: "a-1",
				DecisionID:   "d-1",
				Description:  "market data behind the assumption is eight months old",
			}}}, nil
		})))

	report, err := r.Run(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, 1, report.AssumptionConflicts)
	require.Equal(t, []string{"d-1"}, report.AffectedDecisions)

	counts, err := st.CountOpenConflicts(ctx, "org-1", "d-1")
	require.NoError(t, err)
	require.Equal(t, 1, counts.Assumption)
}

func TestRunIsolatesFailingDetector(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	seedCategoryPair(t, st)

	r := detector.NewRunner(st).WithClock(func() time.Time { return detNow })
	require.NoError(t, r.Register("a-broken-one", detector.Func(
		func(context.Context, detector.Input) (detector.Findings, error) {
			return detector.Findings{}, errors.New("boom")
		})))
	require.NoError(t, r.Register("parameter-contradictions", detector.ParameterContradictions()))

	report, err := r.Run(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, 2, report.Detectors)
	require.Equal(t, 1, report.Failures)
	require.Equal(t, 1, report.DecisionConflicts)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := detector.NewRunner(store.NewMemory())
	require.NoError(t, r.Register("x", detector.ParameterContradictions()))
	require.Error(t, r.Register("x", detector.ParameterContradictions()))
	require.Equal(t, []string{"x"}, r.Names())
}

func TestParameterContradictionsSkipsRetiredAndUncategorized(t *testing.T) {
	in := detector.Input{
		OrganizationID: "org-1",
		Decisions: []detector.DecisionContext{
			{Decision: contracts.Decision{
				ID: "d-1", Category: "infra", Lifecycle: contracts.LifecycleRetired,
				Parameters: map[string]any{"region": "eu"},
			}},
			{Decision: contracts.Decision{
				ID: "d-2", Category: "infra", Lifecycle: contracts.LifecycleStable,
				Parameters: map[string]any{"region": "us"},
			}},
			{Decision: contracts.Decision{
				ID: "d-3", Lifecycle: contracts.LifecycleStable,
				Parameters: map[string]any{"region": "ap"},
			}},
		},
	}
	findings, err := detector.ParameterContradictions().Detect(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, findings.Decisions)
}

func TestSandboxRejectsInvalidModule(t *testing.T) {
	ctx := context.Background()
	sandbox, err := detector.NewSandbox(ctx, detector.DefaultSandboxConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sandbox.Close()) })

	d := sandbox.Detector(detector.Pack{Name: "garbage", Wasm: []byte("not a wasm module")})
	_, err = d.Detect(ctx, detector.Input{OrganizationID: "org-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "compile")
}

func TestPackHashIsContentAddressed(t *testing.T) {
	a := detector.Pack{Name: "a", Wasm: []byte{0x00, 0x61, 0x73, 0x6d}}
	b := detector.Pack{Name: "b", Wasm: []byte{0x00, 0x61, 0x73, 0x6d}}
	require.True(t, strings.HasPrefix(a.Hash(), "sha256:"))
	require.Equal(t, a.Hash(), b.Hash(), "hash covers content, not name")
	require.NotEqual(t, a.Hash(), detector.Pack{Wasm: []byte{0x01}}.Hash())
}
