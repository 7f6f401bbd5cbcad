// Package identity turns bearer tokens into actors and answers
// membership questions for the governance layer.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/decivue/core/pkg/contracts"
)

// ErrInvalidToken covers every way a token can fail to resolve:
// bad signature, expiry, or missing bindings.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims a decivue token carries. Subject is the
// user ID; the organization binding and role are custom claims.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org_id"`
	Role           string `json:"role"`
}

// Resolver authenticates a bearer token into an Actor.
type Resolver interface {
	Resolve(ctx context.Context, token string) (contracts.Actor, error)
}

// HMACResolver validates HS256-signed tokens with a shared secret.
type HMACResolver struct {
	secret []byte
	issuer string
}

// NewHMACResolver creates a resolver for tokens signed with secret.
// issuer, when non-empty, must match the token's iss claim.
func NewHMACResolver(secret []byte, issuer string) *HMACResolver {
	return &HMACResolver{secret: secret, issuer: issuer}
}

// Resolve parses and validates the token. Tokens without a subject,
// an organization binding, or a known role are rejected.
func (r *HMACResolver) Resolve(_ context.Context, token string) (contracts.Actor, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return contracts.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return contracts.Actor{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return contracts.Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.OrganizationID == "" {
		return contracts.Actor{}, fmt.Errorf("%w: missing organization binding", ErrInvalidToken)
	}
	role, err := parseRole(claims.Role)
	if err != nil {
		return contracts.Actor{}, err
	}
	return contracts.Actor{
		UserID:         claims.Subject,
		OrganizationID: claims.OrganizationID,
		Role:           role,
	}, nil
}

// Sign mints a token for the actor, mostly for tests and tooling.
func (r *HMACResolver) Sign(actor contracts.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OrganizationID: actor.OrganizationID,
		Role:           string(actor.Role),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func parseRole(raw string) (contracts.Role, error) {
	switch contracts.Role(strings.ToUpper(raw)) {
	case contracts.RoleLead:
		return contracts.RoleLead, nil
	case contracts.RoleMember:
		return contracts.RoleMember, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, raw)
	}
}

// StaticDirectory is a fixed membership roster. It satisfies the
// governance Directory interface and suffices for single-team
// deployments where the roster lives in configuration.
type StaticDirectory struct {
	actors []contracts.Actor
}

// NewStaticDirectory builds a roster from the given actors.
func NewStaticDirectory(actors ...contracts.Actor) *StaticDirectory {
	return &StaticDirectory{actors: actors}
}

// Leads returns the organization's leads.
func (d *StaticDirectory) Leads(_ context.Context, orgID string) ([]contracts.Actor, error) {
	var out []contracts.Actor
	for _, a := range d.actors {
		if a.OrganizationID == orgID && a.IsLead() {
			out = append(out, a)
		}
	}
	return out, nil
}

// Members returns every actor in the organization.
func (d *StaticDirectory) Members(_ context.Context, orgID string) ([]contracts.Actor, error) {
	var out []contracts.Actor
	for _, a := range d.actors {
		if a.OrganizationID == orgID {
			out = append(out, a)
		}
	}
	return out, nil
}
