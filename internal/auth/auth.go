// Package auth extracts identity claims from bearer tokens presented by
// connecting peers. The hub never issues tokens of its own; it consumes
// tokens minted by an external identity provider.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// DefaultGroupsClaim is the token claim carrying the caller's group list
// when none is configured. Matches Cognito's ID token layout.
const DefaultGroupsClaim = "cognito:groups"

// Claims is the subset of identity-token claims the hub acts on. It is
// derived fresh from the token on every event and never persisted.
type Claims struct {
	Subject  string
	Groups   []string
	Audience string
}

// HasGroup reports whether the claims carry any of the given groups.
func (c *Claims) HasGroup(groups ...string) bool {
	for _, want := range groups {
		for _, g := range c.Groups {
			if g == want {
				return true
			}
		}
	}
	return false
}

// Verifier turns a token string into claims. Implementations decide how
// much trust to place in the token: the advisory decoder accepts any
// well-formed token, while the HS256 and JWKS verifiers require a valid
// signature. All of them report failure as ErrUnauthorized.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
	Name() string
}

// Decoder extracts claims from a JWT-shaped token without verifying its
// signature. Malformed input of any kind yields ErrUnauthorized; no parse
// error escapes this type.
type Decoder struct {
	groupsClaim string
}

// NewDecoder creates a Decoder that reads the group list from the given
// claim name (e.g. "cognito:groups").
func NewDecoder(groupsClaim string) *Decoder {
	if groupsClaim == "" {
		groupsClaim = DefaultGroupsClaim
	}
	return &Decoder{groupsClaim: groupsClaim}
}

func (d *Decoder) Name() string { return "none" }

// Verify decodes the token's payload segment. The signature segment is
// ignored entirely; callers opting into this mode trust the network path
// the token arrived on.
func (d *Decoder) Verify(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrUnauthorized
	}

	// Tokens commonly arrive with base64url padding stripped.
	seg := parts[1]
	if m := len(seg) % 4; m != 0 {
		seg += strings.Repeat("=", 4-m)
	}

	raw, err := base64.URLEncoding.DecodeString(seg)
	if err != nil {
		return nil, ErrUnauthorized
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrUnauthorized
	}

	return claimsFromPayload(payload, d.groupsClaim)
}

// claimsFromPayload maps a decoded token payload onto Claims. A missing or
// empty "sub" disqualifies the token; groups and audience default to empty.
func claimsFromPayload(payload map[string]any, groupsClaim string) (*Claims, error) {
	sub, _ := payload["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthorized
	}

	claims := &Claims{Subject: sub}
	if aud, ok := payload["aud"].(string); ok {
		claims.Audience = aud
	}
	if list, ok := payload[groupsClaim].([]any); ok {
		for _, g := range list {
			if s, ok := g.(string); ok {
				claims.Groups = append(claims.Groups, s)
			}
		}
	}
	return claims, nil
}
