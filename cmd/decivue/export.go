package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/decivue/core/pkg/config"
	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/service"
)

// runExport implements `decivue export`: sign a decision's timeline
// with the organization's derived key and store it in the archive.
// Prints the export receipt as JSON.
//
// Exit codes:
//
//	0 = bundle exported
//	1 = export failed
//	2 = flag error
func runExport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		orgID      string
		decisionID string
		userID     string
	)
	cmd.StringVar(&orgID, "org", "default", "organization the decision belongs to")
	cmd.StringVar(&decisionID, "decision", "", "decision id to export (required)")
	cmd.StringVar(&userID, "user", "operator", "acting user recorded on the export")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if decisionID == "" {
		_, _ = fmt.Fprintln(stderr, "decivue: -decision is required")
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

	actor := contracts.Actor{UserID: userID, OrganizationID: orgID, Role: contracts.RoleLead}
	receipt, err := s.svc.ExportTimeline(ctx, actor, decisionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decivue: export: %v\n", err)
		return 1
	}

	data, _ := json.MarshalIndent(receipt, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}

// runVerify implements `decivue verify`: check a signed bundle file's
// signature over its exact payload bytes. Runs offline; no store,
// archive, or network needed.
//
// Exit codes:
//
//	0 = signature verifies
//	1 = verification failed
//	2 = flag or read error
func runVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundlePath string
		jsonOut    bool
	)
	cmd.StringVar(&bundlePath, "bundle", "", "path to a signed bundle file (required)")
	cmd.BoolVar(&jsonOut, "json", false, "print the verified bundle as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bundlePath == "" {
		_, _ = fmt.Fprintln(stderr, "decivue: -bundle is required")
		return 2
	}

	raw, err := os.ReadFile(bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decivue: %v\n", err)
		return 2
	}

	bundle, err := service.VerifyBundle(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decivue: verification failed: %v\n", err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(bundle, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "bundle verified: decision %s (%s)\n", bundle.DecisionID, bundle.OrganizationID)
	_, _ = fmt.Fprintf(stdout, "  exported: %s\n", bundle.ExportedAt.Format("2006-01-02 15:04:05 MST"))
	_, _ = fmt.Fprintf(stdout, "  entries:  %d\n", len(bundle.Entries))
	return 0
}
