// Package auth issues and verifies session tokens for the storefront API.
// Tokens are ES256-signed JWTs carrying the account owner as subject; they
// bind every wallet, cache and purchase row to one account.
package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// DefaultSessionTTL is how long an issued session token stays valid.
const DefaultSessionTTL = 24 * time.Hour

const issuer = "yogapay"

// ErrInvalidToken indicates a session token that is malformed, expired, or
// signed by another key.
var ErrInvalidToken = errors.New("invalid session token")

// Manager signs and verifies session tokens with a single ES256 key pair.
// Safe for concurrent use.
type Manager struct {
	key *ecdsa.PrivateKey
	ttl time.Duration
	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithKey uses a caller-provided signing key instead of generating one.
// Sessions survive restarts only when the key does.
func WithKey(key *ecdsa.PrivateKey) Option {
	return func(m *Manager) {
		m.key = key
	}
}

// NewManager creates a Manager, generating a fresh P-256 signing key unless
// one is supplied via WithKey.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		ttl: DefaultSessionTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.key == nil {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session key: %w", err)
		}
		m.key = key
	}
	return m, nil
}

// Issue creates a session token for owner. Returns the compact JWT and its
// expiry time.
func (m *Manager) Issue(owner string) (string, time.Time, error) {
	if owner == "" {
		return "", time.Time{}, fmt.Errorf("owner must not be empty")
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: m.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create session signer: %w", err)
	}

	now := m.now()
	expiry := now.Add(m.ttl)
	claims := jwt.Claims{
		Subject:   owner,
		Issuer:    issuer,
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(expiry),
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to serialize session token: %w", err)
	}
	return token, expiry, nil
}

// Verify checks a session token and returns the owner it was issued for.
func (m *Manager) Verify(token string) (string, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims jwt.Claims
	if err := parsed.Claims(&m.key.PublicKey, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	err = claims.Validate(jwt.Expected{
		Issuer: issuer,
		Time:   m.now(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
