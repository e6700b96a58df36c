package auth

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSVerifier validates tokens against the issuer's published JWKS. This
// is the mode to run against Cognito or any OIDC-style identity provider.
type JWKSVerifier struct {
	issuer      string
	jwks        keyfunc.Keyfunc
	groupsClaim string
}

// NewJWKSVerifier fetches the JWKS from the issuer's well-known endpoint.
func NewJWKSVerifier(issuer, groupsClaim string) (*JWKSVerifier, error) {
	if issuer == "" {
		return nil, fmt.Errorf("jwks issuer URL is required")
	}
	if groupsClaim == "" {
		groupsClaim = DefaultGroupsClaim
	}

	jwksURL := issuer + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSVerifier{
		issuer:      issuer,
		jwks:        jwks,
		groupsClaim: groupsClaim,
	}, nil
}

func (v *JWKSVerifier) Name() string { return "jwks" }

func (v *JWKSVerifier) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, v.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	return claimsFromPayload(mapClaims, v.groupsClaim)
}
