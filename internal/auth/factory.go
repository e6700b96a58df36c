package auth

import (
	"fmt"

	"github.com/rovermesh/signalhub/internal/config"
)

// NewVerifier creates a Verifier based on configuration.
func NewVerifier(cfg config.AuthConfig) (Verifier, error) {
	switch cfg.Mode {
	case "", "none":
		return NewDecoder(cfg.GroupsClaim), nil
	case "hs256":
		return NewHS256Verifier(cfg.JWTSecret, cfg.GroupsClaim), nil
	case "jwks":
		return NewJWKSVerifier(cfg.JWKSIssuer, cfg.GroupsClaim)
	default:
		return nil, fmt.Errorf("unknown auth mode: %q", cfg.Mode)
	}
}
