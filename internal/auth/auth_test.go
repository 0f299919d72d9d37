package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMintAndVerifyRoundTrips(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Minute)

	token, err := issuer.Mint("tenant-a", "node-1")
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "tenant-a", claims.TenantID)
	require.Equal(t, "node-1", claims.Subject)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := NewIssuer("test-secret", -time.Second)
	token, err := issuer.Mint("tenant-a", "node-1")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsTokenFromDifferentKey(t *testing.T) {
	issuerA := NewIssuer("secret-a", time.Minute)
	issuerB := NewIssuer("secret-b", time.Minute)

	token, err := issuerA.Mint("tenant-a", "node-1")
	require.NoError(t, err)

	_, err = issuerB.Verify(token)
	require.Error(t, err)
}
