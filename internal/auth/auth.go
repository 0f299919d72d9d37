// Package auth mints and verifies PASETO v2 local (symmetric) tokens
// carrying a tenant id and node id claim, consulted by the RPC
// interceptor chain ahead of every request.
package auth

import (
	"fmt"
	"time"

	"github.com/o1egl/paseto"
)

// Claims is the token payload.
type Claims struct {
	TenantID  string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer mints and verifies PASETO v2 local tokens under a single
// symmetric key.
type Issuer struct {
	key []byte
	ttl time.Duration
}

// NewIssuer builds an Issuer from a secret string, padded or truncated
// to the 32 bytes paseto.NewV2().Encrypt requires. A zero ttl defaults
// to one hour; a negative ttl mints tokens that are already expired.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	key := []byte(fmt.Sprintf("%-32s", secret))[:32]
	return &Issuer{key: key, ttl: ttl}
}

// Mint issues a token for subject (a node or client id) scoped to tenantID.
func (i *Issuer) Mint(tenantID, subject string) (string, error) {
	now := time.Now()
	token := paseto.JSONToken{
		Subject:    subject,
		IssuedAt:   now,
		Expiration: now.Add(i.ttl),
	}
	token.Set("tenant_id", tenantID)
	return paseto.NewV2().Encrypt(i.key, token, nil)
}

// Verify decrypts and validates token, returning its claims.
func (i *Issuer) Verify(token string) (Claims, error) {
	var jsonToken paseto.JSONToken
	var footer string
	if err := paseto.NewV2().Decrypt(token, i.key, &jsonToken, &footer); err != nil {
		return Claims{}, fmt.Errorf("auth: invalid token: %w", err)
	}
	if time.Now().After(jsonToken.Expiration) {
		return Claims{}, fmt.Errorf("auth: token expired at %s", jsonToken.Expiration)
	}
	return Claims{
		TenantID:  jsonToken.Get("tenant_id"),
		Subject:   jsonToken.Subject,
		IssuedAt:  jsonToken.IssuedAt,
		ExpiresAt: jsonToken.Expiration,
	}, nil
}
