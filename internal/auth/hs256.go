package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HS256Verifier validates HMAC-signed tokens with a shared secret. It maps
// the same claim fields as the advisory Decoder, so switching a deployment
// from "none" to "hs256" changes trust without changing routing behavior.
type HS256Verifier struct {
	secret      []byte
	groupsClaim string
}

// NewHS256Verifier creates a verifier for HS256-signed tokens.
func NewHS256Verifier(secret, groupsClaim string) *HS256Verifier {
	if groupsClaim == "" {
		groupsClaim = DefaultGroupsClaim
	}
	return &HS256Verifier{secret: []byte(secret), groupsClaim: groupsClaim}
}

func (v *HS256Verifier) Name() string { return "hs256" }

func (v *HS256Verifier) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	return claimsFromPayload(mapClaims, v.groupsClaim)
}
