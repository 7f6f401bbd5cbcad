package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/decivue/core/pkg/config"
)

// runServe implements `decivue serve`, the monitor loop. Each tick
// runs the conflict detectors and then an evaluation batch for every
// configured organization.
//
// Exit codes:
//
//	0 = clean shutdown on signal
//	1 = startup or loop failure
//	2 = flag error
func runServe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var once bool
	cmd.BoolVar(&once, "once", false, "run a single tick for every organization, then exit")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	s, err := buildStack(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decivue: %v\n", err)
		return 1
	}
	defer s.Close(context.Background())

	s.logger.Info("monitor started",
		"organizations", cfg.Organizations,
		"tick_interval", cfg.TickInterval.String(),
	)

	if once {
		tickAll(ctx, s)
		return 0
	}

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	tickAll(ctx, s)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor stopping")
			return 0
		case <-ticker.C:
			tickAll(ctx, s)
		}
	}
}

// tickAll runs one detector pass and one evaluation batch per
// organization. Failures are logged and the loop continues; one bad
// tenant must not stall the roster.
func tickAll(ctx context.Context, s *stack) {
	for _, orgID := range s.cfg.Organizations {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()

		if report, err := s.svc.RunDetectors(ctx, orgID); err != nil {
			s.logger.Error("detector pass failed", "organization_id", orgID, "error", err)
		} else if report.DecisionConflicts+report.AssumptionConflicts > 0 {
			s.logger.Info("conflicts detected",
				"organization_id", orgID,
				"decision_conflicts", report.DecisionConflicts,
				"assumption_conflicts", report.AssumptionConflicts,
			)
		}

		report, err := s.svc.RunEvaluationBatch(ctx, orgID)
		if err != nil {
			s.logger.Error("evaluation tick failed", "organization_id", orgID, "error", err)
			continue
		}
		if s.obs != nil {
			s.obs.RecordTickDuration(ctx, time.Since(start),
				attribute.String("organization_id", orgID))
		}
		if report.Evaluated > 0 || report.Failed > 0 {
			s.logger.Info("tick complete",
				"organization_id", orgID,
				"candidates", report.Candidates,
				"evaluated", report.Evaluated,
				"changed", report.Changed,
				"failed", report.Failed,
				"elapsed", report.Elapsed.String(),
			)
		}
	}
}
