package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/decivue/core/pkg/config"
	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/identity"
)

// runToken implements `decivue token`: mint a signed bearer token for
// an actor using the deployment's AUTH_SECRET. Intended for local
// development and operator scripts.
//
// Exit codes:
//
//	0 = token printed
//	1 = signing failed
//	2 = flag or configuration error
func runToken(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		userID string
		orgID  string
		role   string
		ttl    time.Duration
	)
	cmd.StringVar(&userID, "user", "", "user id for the sub claim (required)")
	cmd.StringVar(&orgID, "org", "default", "organization id")
	cmd.StringVar(&role, "role", string(contracts.RoleMember), "actor role: LEAD or MEMBER")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if userID == "" {
		_, _ = fmt.Fprintln(stderr, "decivue: -user is required")
		return 2
	}
	if r := contracts.Role(role); r != contracts.RoleLead && r != contracts.RoleMember {
		_, _ = fmt.Fprintf(stderr, "decivue: unknown role %q\n", role)
		return 2
	}

	cfg := config.Load()
	if cfg.AuthSecret == "" {
		_, _ = fmt.Fprintln(stderr, "decivue: AUTH_SECRET is not set")
		return 2
	}

	resolver := identity.NewHMACResolver([]byte(cfg.AuthSecret), cfg.AuthIssuer)
	token, err := resolver.Sign(contracts.Actor{
		UserID:         userID,
		OrganizationID: orgID,
		Role:           contracts.Role(role),
	}, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decivue: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
