package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/agromano/backoffice/pkg/authz"
)

// OIDCVerifier verifies OpenID Connect ID tokens
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	mapper   ClaimsMapper
}

// NewOIDCVerifier discovers the issuer's keys and returns a verifier bound to clientID
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string, mapper ClaimsMapper) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		mapper:   mapper,
	}, nil
}

// NewOIDCVerifierWithKeySet skips discovery and verifies against keySet
func NewOIDCVerifierWithKeySet(issuerURL, clientID string, keySet oidc.KeySet, mapper ClaimsMapper) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID}),
		mapper:   mapper,
	}
}

// Verify implements Verifier
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*authz.IdentityAssertion, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %w", ErrInvalidToken, err)
	}

	return v.mapper.Map(claims)
}
