// Package api exposes the read-only HTTP observability surface (spec.md
// §6.4/§6.5): per-queue and per-action stats snapshots, optionally
// JWT-guarded. Routing is echo; token signing is HS256 via
// github.com/lestrrat-go/jwx/v2, following the teacher's security/jwt.go
// pattern.
package api

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTService signs and validates HS256 bearer tokens for the admin surface.
// It does not guard routes itself: SetupRoutes mounts the echo-jwt guard
// only when it is passed a non-empty signing key and leaves the surface
// open otherwise, matching the teacher's pattern of degrading gracefully
// when a security feature is unconfigured rather than refusing to start.
type JWTService struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTService constructs a JWTService with no issuer/audience claims.
func NewJWTService(secret []byte) *JWTService {
	return &JWTService{secret: secret}
}

// NewJWTServiceWithIssuer constructs a JWTService that stamps and verifies
// an issuer and audience claim.
func NewJWTServiceWithIssuer(secret []byte, issuer, audience string) *JWTService {
	return &JWTService{secret: secret, issuer: issuer, audience: audience}
}

// GenerateToken creates a signed JWT for subject, valid for expiration.
func (j *JWTService) GenerateToken(subject string, expiration time.Duration) (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(expiration))

	if j.issuer != "" {
		builder = builder.Issuer(j.issuer)
	}
	if j.audience != "" {
		builder = builder.Audience([]string{j.audience})
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// ValidateToken parses and verifies a bearer token, checking signature,
// expiration, and (when configured) issuer/audience.
func (j *JWTService) ValidateToken(raw string) (jwt.Token, error) {
	opts := []jwt.ParseOption{jwt.WithKey(jwa.HS256, j.secret), jwt.WithValidate(true)}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	if j.audience != "" {
		opts = append(opts, jwt.WithAudience(j.audience))
	}
	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return token, nil
}

// Enabled reports whether a signing key is configured. Callers use this to
// decide whether to mount the JWT guard at all.
func (j *JWTService) Enabled() bool { return len(j.secret) > 0 }
