// Package identity turns bearer tokens into verified identity assertions.
//
// Two verifiers are provided: OIDCVerifier for ID tokens issued by the corporate
// identity provider, and HMACVerifier for tokens minted by the mobile gateway.
// Both hand their claims to a ClaimsMapper.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/agromano/backoffice/pkg/authz"
)

var (
	// ErrMissingToken means the request carried no bearer token
	ErrMissingToken = errors.New("identity: missing bearer token")

	// ErrInvalidToken means the token failed verification or lacked a subject
	ErrInvalidToken = errors.New("identity: invalid token")
)

// Verifier checks a raw token and returns the assertion it carries
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*authz.IdentityAssertion, error)
}

// DefaultPermissionsClaim is the claim read when none is configured
const DefaultPermissionsClaim = "permissions"

// ClaimsMapper extracts an assertion from decoded token claims
type ClaimsMapper struct {
	// PermissionsClaim names the claim holding permission codes. It may be a JSON
	// array of strings or a single space or comma separated string.
	PermissionsClaim string
}

// Map builds the assertion. A missing or blank subject is rejected.
func (m ClaimsMapper) Map(claims map[string]interface{}) (*authz.IdentityAssertion, error) {
	sub, _ := claims["sub"].(string)
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	email, _ := claims["email"].(string)

	name := m.PermissionsClaim
	if name == "" {
		name = DefaultPermissionsClaim
	}

	return &authz.IdentityAssertion{
		ExternalSubjectID:  sub,
		ClaimedEmail:       strings.TrimSpace(email),
		ClaimedPermissions: authz.NewPermissionSet(permissionCodes(claims[name])...),
	}, nil
}

func permissionCodes(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.FieldsFunc(v, func(r rune) bool {
			return r == ' ' || r == ','
		})
	default:
		return nil
	}
}

// BearerToken returns the token from the Authorization header. The scheme is
// matched case-insensitively and surrounding whitespace is ignored.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: expected bearer scheme", ErrInvalidToken)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
