package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/decivue/core/pkg/config"
)

// runTick implements `decivue tick`: one detector pass and one
// evaluation batch for a single organization, report printed as JSON.
// Useful for cron-style deployments and debugging.
//
// Exit codes:
//
//	0 = tick ran
//	1 = tick failed
//	2 = flag error
func runTick(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("tick", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		orgID         string
		skipDetectors bool
	)
	cmd.StringVar(&orgID, "org", "default", "organization to evaluate")
	cmd.BoolVar(&skipDetectors, "skip-detectors", false, "skip the conflict detector pass")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	s, err := buildStack(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decivue: %v\n", err)
		return 1
	}
	defer s.Close(ctx)

	out := struct {
		OrganizationID string `json:"organization_id"`
		Detectors      any    `json:"detectors,omitempty"`
		Evaluation     any    `json:"evaluation"`
	}{OrganizationID: orgID}

	if !skipDetectors {
		report, err := s.svc.RunDetectors(ctx, orgID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "decivue: detector pass: %v\n", err)
			return 1
		}
		out.Detectors = report
	}

	report, err := s.svc.RunEvaluationBatch(ctx, orgID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decivue: evaluation: %v\n", err)
		return 1
	}
	out.Evaluation = report

	data, _ := json.MarshalIndent(out, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
