package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agromano/backoffice/pkg/authz"
)

// HMACVerifier verifies HS256/384/512 tokens signed with a shared secret
type HMACVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	mapper   ClaimsMapper
}

// HMACOptions configures an HMACVerifier. Empty Issuer or Audience disables that check.
type HMACOptions struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// NewHMACVerifier creates a verifier. The secret is required.
func NewHMACVerifier(opts HMACOptions, mapper ClaimsMapper) (*HMACVerifier, error) {
	if opts.Secret == "" {
		return nil, errors.New("hmac secret is required")
	}
	return &HMACVerifier{
		secret:   []byte(opts.Secret),
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
		mapper:   mapper,
	}, nil
}

// Verify implements Verifier
func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (*authz.IdentityAssertion, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return v.mapper.Map(claims)
}
