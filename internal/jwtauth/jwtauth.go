// Package jwtauth validates bearer tokens on the gateway's admin API
// against a statically configured issuer, audience and JWKS endpoint. There
// is no discovery flow: the API is operator-facing and its identity provider
// is known at deploy time.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized wraps every validation failure so callers can map the
// whole family to a 401 without inspecting causes.
var ErrUnauthorized = errors.New("unauthorized")

// Config controls token validation.
type Config struct {
	Issuer           string
	ExpectedAudience string
	JWKSURL          string
	AllowedAlgs      []string
	Leeway           time.Duration
}

// Validator verifies JWT access tokens.
type Validator struct {
	cfg     Config
	keyfunc jwt.Keyfunc
}

// New fetches the JWKS and constructs a Validator.
func New(ctx context.Context, cfg Config) (*Validator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.ExpectedAudience == "" {
		return nil, errors.New("expected audience is required")
	}
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &Validator{cfg: cfg, keyfunc: kf.Keyfunc}, nil
}

// Verify checks the token and returns its subject.
func (v *Validator) Verify(ctx context.Context, token string) (subject string, err error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.ExpectedAudience),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(token, v.keyfunc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: unexpected claims type", ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return sub, nil
}
