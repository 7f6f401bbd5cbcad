package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/identity"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestResolveRoundTrip(t *testing.T) {
	r := identity.NewHMACResolver(testSecret, "decivue-test")
	actor := contracts.Actor{UserID: "user-1", OrganizationID: "org-1", Role: contracts.RoleLead}

	token, err := r.Sign(actor, time.Hour)
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, actor, got)
}

func TestResolveRejectsExpired(t *testing.T) {
	r := identity.NewHMACResolver(testSecret, "")
	actor := contracts.Actor{UserID: "user-1", OrganizationID: "org-1", Role: contracts.RoleMember}

	token, err := r.Sign(actor, -time.Minute)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), token)
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestResolveRejectsWrongSecret(t *testing.T) {
	signer := identity.NewHMACResolver([]byte("another-secret-entirely-32-bytes"), "")
	actor := contracts.Actor{UserID: "user-1", OrganizationID: "org-1", Role: contracts.RoleMember}
	token, err := signer.Sign(actor, time.Hour)
	require.NoError(t, err)

	r := identity.NewHMACResolver(testSecret, "")
	_, err = r.Resolve(context.Background(), token)
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestResolveRejectsIncompleteClaims(t *testing.T) {
	mint := func(claims identity.Claims) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString(testSecret)
		require.NoError(t, err)
		return signed
	}
	r := identity.NewHMACResolver(testSecret, "")
	base := identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OrganizationID: "org-1",
		Role:           "MEMBER",
	}

	noSubject := base
	noSubject.Subject = ""
	_, err := r.Resolve(context.Background(), mint(noSubject))
	require.ErrorIs(t, err, identity.ErrInvalidToken)

	noOrg := base
	noOrg.OrganizationID = ""
	_, err = r.Resolve(context.Background(), mint(noOrg))
	require.ErrorIs(t, err, identity.ErrInvalidToken)

	badRole := base
	badRole.Role = "OWNER"
	_, err = r.Resolve(context.Background(), mint(badRole))
	require.ErrorIs(t, err, identity.ErrInvalidToken)

	// Role casing is forgiven; everything else is strict.
	lowercase := base
	lowercase.Role = "lead"
	got, err := r.Resolve(context.Background(), mint(lowercase))
	require.NoError(t, err)
	require.Equal(t, contracts.RoleLead, got.Role)
}

func TestResolveRejectsWrongIssuer(t *testing.T) {
	signer := identity.NewHMACResolver(testSecret, "someone-else")
	actor := contracts.Actor{UserID: "user-1", OrganizationID: "org-1", Role: contracts.RoleMember}
	token, err := signer.Sign(actor, time.Hour)
	require.NoError(t, err)

	r := identity.NewHMACResolver(testSecret, "decivue")
	_, err = r.Resolve(context.Background(), token)
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestStaticDirectory(t *testing.T) {
	dir := identity.NewStaticDirectory(
		contracts.Actor{UserID: "lead-1", OrganizationID: "org-1", Role: contracts.RoleLead},
		contracts.Actor{UserID: "member-1", OrganizationID: "org-1", Role: contracts.RoleMember},
		contracts.Actor{UserID: "lead-2", OrganizationID: "org-2", Role: contracts.RoleLead},
	)

	leads, err := dir.Leads(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, leads, 1)
	require.Equal(t, "lead-1", leads[0].UserID)

	members, err := dir.Members(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, members, 2)

	leads, err = dir.Leads(context.Background(), "org-3")
	require.NoError(t, err)
	require.Empty(t, leads)
}
