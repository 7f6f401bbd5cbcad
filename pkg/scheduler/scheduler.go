// Package scheduler drives periodic re-evaluation: it selects the
// decisions due for an engine run, evaluates them on a bounded worker
// pool, and commits each outcome atomically. A tick is cooperative;
// it stops at its batch cap, its wall-clock budget, or context
// cancellation, and whatever it did not reach stays marked for the
// next tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/engine"
	"github.com/decivue/core/pkg/notify"
	"github.com/decivue/core/pkg/propagation"
	"github.com/decivue/core/pkg/store"
	"github.com/decivue/core/pkg/urgency"
)

// Config bounds one tick.
type Config struct {
	// Workers is the evaluation pool size.
	Workers int
	// BatchLimit caps how many candidates one tick picks up.
	BatchLimit int
	// Staleness is how old a clean decision's last evaluation may get
	// before it is selected anyway.
	Staleness time.Duration
	// TickBudget is the wall-clock cap for one tick.
	TickBudget time.Duration
}

// DefaultConfig returns the standard tick bounds.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		BatchLimit: 100,
		Staleness:  24 * time.Hour,
		TickBudget: 30 * time.Second,
	}
}

// Report summarizes one tick.
type Report struct {
	Candidates int           `json:"candidates"`
	Evaluated  int           `json:"evaluated"`
	Changed    int           `json:"changed"`
	Failed     int           `json:"failed"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Outcome is the result of evaluating one decision.
type Outcome struct {
	Decision contracts.Decision
	// Record is the persisted evaluation, nil when the run changed
	// nothing.
	Record *contracts.EvaluationRecord
	Changed bool
}

// Orchestrator owns the tick loop for one store. Safe for concurrent
// ticks over distinct organizations; ticks over the same organization
// serialize on the store's row semantics, not in here.
type Orchestrator struct {
	store     store.Store
	engine    *engine.Engine
	assembler *engine.Assembler
	limiter   Limiter
	notifier  notify.Notifier
	logger    *slog.Logger
	clock     func() time.Time
	cfg       Config
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the default tick bounds.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithLimiter gates dispatch with the given limiter.
func WithLimiter(l Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithNotifier routes post-commit notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// New creates an orchestrator over a store and an engine.
func New(st store.Store, eng *engine.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		engine: eng,
		logger: slog.Default().With("component", "scheduler"),
		clock:  time.Now,
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.assembler = engine.NewAssembler(st).WithClock(o.clock)
	return o
}

// RunTick evaluates one organization's due decisions. Per-decision
// faults are logged and counted, never fatal; the decision keeps its
// dirty flag and the batch moves on.
func (o *Orchestrator) RunTick(ctx context.Context, orgID string) (Report, error) {
	started := o.clock()
	if o.cfg.TickBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TickBudget)
		defer cancel()
	}

	candidates, err := o.store.ListEvaluationCandidates(ctx, store.CandidateFilter{
		OrganizationID: orgID,
		Now:            started.UTC(),
		Staleness:      o.cfg.Staleness,
		Limit:          o.cfg.BatchLimit,
	})
	if err != nil {
		return Report{}, fmt.Errorf("list candidates: %w", err)
	}

	type result struct {
		changed bool
		err     error
	}
	results := make(chan result, len(candidates))
	sem := make(chan struct{}, o.workers())
	var wg sync.WaitGroup

	// Acquire before spawning so dispatch follows candidate order;
	// the selection ordering is part of the contract.
	for _, d := range candidates {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			out, err := o.EvaluateOne(ctx, orgID, id, contracts.TriggerTimeTick)
			if err != nil {
				o.logger.WarnContext(ctx, "evaluation failed; decision stays marked",
					"organization_id", orgID, "decision_id", id, "error", err)
				results <- result{err: err}
				return
			}
			results <- result{changed: out.Changed}
		}(d.ID)
	}
	wg.Wait()
	close(results)

	report := Report{Candidates: len(candidates)}
	for r := range results {
		if r.err != nil {
			report.Failed++
			continue
		}
		report.Evaluated++
		if r.changed {
			report.Changed++
		}
	}
	report.Elapsed = o.clock().Sub(started)

	o.logger.InfoContext(ctx, "tick complete",
		"organization_id", orgID,
		"candidates", report.Candidates,
		"evaluated", report.Evaluated,
		"changed", report.Changed,
		"failed", report.Failed,
		"elapsed", report.Elapsed)
	return report, nil
}

// EvaluateOne runs the engine for a single decision and commits the
// outcome: the evaluation record when something changed, the cleared
// dirty flag, the evaluation timestamp, the propagated delta, and the
// refreshed urgency, all in one transaction.
func (o *Orchestrator) EvaluateOne(ctx context.Context, orgID, decisionID string, trigger contracts.Trigger) (Outcome, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return Outcome{}, fmt.Errorf("limiter: %w", err)
		}
	}

	in, err := o.assembler.Assemble(ctx, orgID, decisionID)
	if err != nil {
		return Outcome{}, err
	}
	res := o.engine.Evaluate(in)

	var (
		before  contracts.Decision
		updated contracts.Decision
		record  *contracts.EvaluationRecord
		changed bool
	)
	now := o.clock().UTC()
	err = o.store.WithinTx(ctx, func(tx store.Store) error {
		d, err := tx.GetDecision(ctx, orgID, decisionID)
		if err != nil {
			return err
		}
		before = d
		if d.Lifecycle == contracts.LifecycleRetired && res.Lifecycle != contracts.LifecycleRetired {
			// Selection raced a retirement; retired rows stay put.
			updated = d
			return nil
		}

		changed = d.Lifecycle != res.Lifecycle ||
			d.HealthSignal != res.HealthSignal ||
			d.InvalidatedReason != res.InvalidatedReason

		after := d
		after.Lifecycle = res.Lifecycle
		after.HealthSignal = res.HealthSignal
		after.InvalidatedReason = res.InvalidatedReason
		after.NeedsEvaluation = false
		after.LastEvaluatedAt = &now

		counts, err := tx.CountOpenConflicts(ctx, orgID, decisionID)
		if err != nil {
			return err
		}
		assess := urgency.Compute(urgency.Signals{
			Decision:                after,
			OpenDecisionConflicts:   counts.Decision,
			OpenAssumptionConflicts: counts.Assumption,
			Now:                     now,
		})
		after.ReviewUrgencyScore = assess.Score
		after.UrgencyFactors = assess.Factors
		after.ReviewFrequencyDays = assess.ReviewFrequencyDays
		next := assess.NextReviewDate
		after.NextReviewDate = &next

		if err := tx.UpdateDecision(ctx, after); err != nil {
			return err
		}
		if changed {
			rec := contracts.EvaluationRecord{
				ID:                evaluationID(decisionID, res.TraceHash, now),
				DecisionID:        decisionID,
				OrganizationID:    orgID,
				OldLifecycle:      d.Lifecycle,
				NewLifecycle:      res.Lifecycle,
				OldHealth:         d.HealthSignal,
				NewHealth:         res.HealthSignal,
				InvalidatedReason: res.InvalidatedReason,
				Trace:             res.Trace,
				TraceHash:         res.TraceHash,
				TriggeredBy:       trigger,
				EvaluatedAt:       now,
			}
			if err := tx.AppendEvaluation(ctx, rec); err != nil {
				return err
			}
			record = &rec
			if _, err := propagation.New(tx).DecisionStateChanged(ctx, orgID, decisionID,
				d.Snapshot(), after.Snapshot()); err != nil {
				return err
			}
		}
		updated = after
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	o.notifyDelta(ctx, before, updated)
	return Outcome{Decision: updated, Record: record, Changed: changed}, nil
}

// notifyDelta surfaces committed state changes. Failures are logged;
// the evaluation itself already landed.
func (o *Orchestrator) notifyDelta(ctx context.Context, before, after contracts.Decision) {
	if o.notifier == nil {
		return
	}
	var batch []contracts.Notification

	if before.Lifecycle != after.Lifecycle {
		severity := contracts.SeverityInfo
		switch after.Lifecycle {
		case contracts.LifecycleInvalidated, contracts.LifecycleRetired:
			severity = contracts.SeverityCritical
		case contracts.LifecycleAtRisk:
			severity = contracts.SeverityWarning
		}
		batch = append(batch, contracts.Notification{
			ID:             uuid.New().String(),
			OrganizationID: after.OrganizationID,
			DecisionID:     after.ID,
			Type:           contracts.NotifyLifecycleChanged,
			Severity:       severity,
			Message:        fmt.Sprintf("decision lifecycle changed from %s to %s", before.Lifecycle, after.Lifecycle),
			Fields: map[string]any{
				"old_lifecycle": string(before.Lifecycle),
				"new_lifecycle": string(after.Lifecycle),
				"health_signal": after.HealthSignal,
			},
			CreatedAt: o.clock().UTC(),
		})
	}
	if drop := before.HealthSignal - after.HealthSignal; drop >= 10 {
		batch = append(batch, contracts.Notification{
			ID:             uuid.New().String(),
			OrganizationID: after.OrganizationID,
			DecisionID:     after.ID,
			Type:           contracts.NotifyHealthDegraded,
			Severity:       contracts.SeverityWarning,
			Message:        fmt.Sprintf("health signal dropped from %d to %d", before.HealthSignal, after.HealthSignal),
			Fields: map[string]any{
				"old_health": before.HealthSignal,
				"new_health": after.HealthSignal,
			},
			CreatedAt: o.clock().UTC(),
		})
	}
	if before.ReviewUrgencyScore < 80 && after.ReviewUrgencyScore >= 80 {
		batch = append(batch, contracts.Notification{
			ID:             uuid.New().String(),
			OrganizationID: after.OrganizationID,
			DecisionID:     after.ID,
			Type:           contracts.NotifyNeedsReview,
			Severity:       contracts.SeverityWarning,
			Message:        fmt.Sprintf("review urgency reached %d; review due within %d days", after.ReviewUrgencyScore, after.ReviewFrequencyDays),
			Fields: map[string]any{
				"urgency_score":  after.ReviewUrgencyScore,
				"frequency_days": after.ReviewFrequencyDays,
			},
			CreatedAt: o.clock().UTC(),
		})
	}
	if n, ok := o.expiryReminder(before, after); ok {
		batch = append(batch, n)
	}

	for _, n := range batch {
		if err := o.notifier.Notify(ctx, n); err != nil {
			o.logger.WarnContext(ctx, "notification delivery failed",
				"notification_id", n.ID, "type", string(n.Type), "error", err)
		}
	}
}

// expiryReminder fires once when a decision ages into the expiry
// window. The crossing is detected against the previous evaluation
// time, so repeated in-window evaluations stay quiet.
func (o *Orchestrator) expiryReminder(before, after contracts.Decision) (contracts.Notification, bool) {
	if after.ExpiryDate == nil || after.Lifecycle == contracts.LifecycleRetired {
		return contracts.Notification{}, false
	}
	now := o.clock().UTC()
	expiry := after.ExpiryDate.UTC()
	if !expiry.After(now) || expiry.Sub(now) > store.ExpiryWindow {
		return contracts.Notification{}, false
	}
	if before.LastEvaluatedAt != nil && expiry.Sub(before.LastEvaluatedAt.UTC()) <= store.ExpiryWindow {
		return contracts.Notification{}, false
	}
	days := int(expiry.Sub(now).Hours() / 24)
	return contracts.Notification{
		ID:             uuid.New().String(),
		OrganizationID: after.OrganizationID,
		DecisionID:     after.ID,
		Type:           contracts.NotifyExpiryApproaching,
		Severity:       contracts.SeverityWarning,
		Message:        fmt.Sprintf("decision expires in %d days", days),
		Fields: map[string]any{
			"expiry_date":    expiry.Format(time.RFC3339),
			"days_remaining": days,
		},
		CreatedAt: now,
	}, true
}

func (o *Orchestrator) workers() int {
	if o.cfg.Workers > 0 {
		return o.cfg.Workers
	}
	return 1
}

// evaluationID derives a stable ID from what was evaluated and when,
// so a replayed commit cannot double-insert.
func evaluationID(decisionID, traceHash string, at time.Time) string {
	seed := fmt.Sprintf("%s:%s:%d", decisionID, traceHash, at.UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
